/*
types.go - Core value types for the inventory ledger

PURPOSE:
  Defines the immutable ledger entry and the per-(product, location)
  snapshot it folds into. Everything else in the engine is expressed in
  terms of these two types.

KEY CONCEPTS:
  Entry:     One signed movement of on-hand / reserved / on-order stock
  Snapshot:  Materialized balance of a (product, location) key
  Reference: Free-text correlation to the business document that caused
             the entry (order, fulfillment, receipt, ...)

QUANTITIES:
  All quantities use shopspring/decimal. Units of measure are the
  product's own; the ledger never converts.

SEE ALSO:
  - projector.go: Folding entries into snapshots
  - ledger.go: Append path
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProductID string
type LocationID string
type EntryID string

// Key identifies one snapshot row.
type Key struct {
	ProductID  ProductID
	LocationID LocationID
}

func (k Key) String() string {
	return string(k.ProductID) + "@" + string(k.LocationID)
}

// =============================================================================
// ENTRY KINDS
// =============================================================================

type Kind string

const (
	KindReceipt    Kind = "receipt"    // Goods arrived: +on_hand
	KindSale       Kind = "sale"       // Goods shipped: -on_hand, -reserved
	KindAdjustment Kind = "adjustment" // Stock count correction
	KindReserve    Kind = "reserve"    // +reserved
	KindUnreserve  Kind = "unreserve"  // -reserved
	KindReturn     Kind = "return"     // Shipment reversed: +on_hand, +reserved
	KindTransfer   Kind = "transfer"   // One leg of a bin-to-bin move
	KindPurchase   Kind = "purchase"   // Supply expected: +on_order
)

func (k Kind) Valid() bool {
	switch k {
	case KindReceipt, KindSale, KindAdjustment, KindReserve,
		KindUnreserve, KindReturn, KindTransfer, KindPurchase:
		return true
	}
	return false
}

type ReferenceType string

const (
	RefOrder       ReferenceType = "order"
	RefFulfillment ReferenceType = "fulfillment"
	RefReceipt     ReferenceType = "receipt"
	RefPurchase    ReferenceType = "purchase"
	RefAdjustment  ReferenceType = "adjustment"
	RefTransfer    ReferenceType = "transfer"
)

// Reference ties an entry to the document that caused it. LineID narrows
// it to one order line when the document has lines.
type Reference struct {
	Type   ReferenceType
	ID     string
	LineID string
}

// =============================================================================
// ENTRY - One immutable ledger row
// =============================================================================

// Entry is never updated or deleted. Corrections are compensating entries.
type Entry struct {
	ID         EntryID
	Seq        int64 // Assigned by the store, total order of appends
	ProductID  ProductID
	LocationID LocationID
	Kind       Kind

	OnHandDelta   decimal.Decimal
	ReservedDelta decimal.Decimal
	OnOrderDelta  decimal.Decimal

	Reference      Reference
	Reason         string
	IdempotencyKey string
	CreatedAt      time.Time
}

func (e Entry) Key() Key {
	return Key{ProductID: e.ProductID, LocationID: e.LocationID}
}

// IsZero reports whether the entry moves nothing.
func (e Entry) IsZero() bool {
	return e.OnHandDelta.IsZero() && e.ReservedDelta.IsZero() && e.OnOrderDelta.IsZero()
}

// =============================================================================
// SNAPSHOT - Materialized balance per (product, location)
// =============================================================================

// Snapshot always equals the fold of every entry for its key.
type Snapshot struct {
	ProductID  ProductID
	LocationID LocationID
	OnHand     decimal.Decimal
	Reserved   decimal.Decimal
	OnOrder    decimal.Decimal
	UpdatedAt  time.Time
}

func (s Snapshot) Key() Key {
	return Key{ProductID: s.ProductID, LocationID: s.LocationID}
}

// Available is the stock that can still be reserved.
func (s Snapshot) Available() decimal.Decimal {
	return s.OnHand.Sub(s.Reserved)
}

// EmptySnapshot is the zero balance a key starts from.
func EmptySnapshot(k Key) Snapshot {
	return Snapshot{
		ProductID:  k.ProductID,
		LocationID: k.LocationID,
		OnHand:     decimal.Zero,
		Reserved:   decimal.Zero,
		OnOrder:    decimal.Zero,
	}
}

// Balances reports whether two snapshots carry the same quantities.
func (s Snapshot) Balances(o Snapshot) bool {
	return s.OnHand.Equal(o.OnHand) && s.Reserved.Equal(o.Reserved) && s.OnOrder.Equal(o.OnOrder)
}

// =============================================================================
// QUERIES
// =============================================================================

// EntryFilter selects ledger entries. Empty fields match everything.
// Results are always in append order.
type EntryFilter struct {
	ProductID     ProductID
	LocationID    LocationID
	ReferenceType ReferenceType
	ReferenceID   string
	LineID        string
	Kinds         []Kind
	Limit         int
}

// Matches applies the filter in memory.
func (f EntryFilter) Matches(e Entry) bool {
	if f.ProductID != "" && e.ProductID != f.ProductID {
		return false
	}
	if f.LocationID != "" && e.LocationID != f.LocationID {
		return false
	}
	if f.ReferenceType != "" && e.Reference.Type != f.ReferenceType {
		return false
	}
	if f.ReferenceID != "" && e.Reference.ID != f.ReferenceID {
		return false
	}
	if f.LineID != "" && e.Reference.LineID != f.LineID {
		return false
	}
	if len(f.Kinds) > 0 {
		for _, k := range f.Kinds {
			if e.Kind == k {
				return true
			}
		}
		return false
	}
	return true
}
