/*
types.go - Orders, fulfillments and locations

PURPOSE:
  Domain records that sit on top of the ledger. Order lines carry cached
  counters (allocated, fulfilled) that are always written in the same
  transaction as the ledger entries that imply them.

LINE COUNTERS:
  ordered:   Demand, fixed at order entry
  allocated: Reserved against the line across all locations, both the
             order-level bucket and the line's share of unshipped
             fulfillments
  fulfilled: Shipped, net of reverted shipments

  allocated + fulfilled <= ordered at all times.

FULFILLMENT LIFECYCLE:
  draft -> picking -> packed -> shipped
  any unshipped state -> cancelled
  shipped -> cancelled (shipment reverted)

SEE ALSO:
  - status.go: Order status derived from these counters
  - ledger/types.go: Entries and snapshots
*/
package inventory

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/inventory-engine/ledger"
)

// =============================================================================
// LOCATIONS - Read copy of master data
// =============================================================================

type Location struct {
	ID        ledger.LocationID `json:"id"`
	Name      string            `json:"name"`
	Sellable  bool              `json:"sellable"`   // Only sellable bins feed allocation
	IsDefault bool              `json:"is_default"` // At most one; target of unexplained returns
}

// =============================================================================
// ORDER STATUS
// =============================================================================

type OrderStatus string

const (
	OrderDraft            OrderStatus = "draft"
	OrderConfirmed        OrderStatus = "confirmed"
	OrderReserved         OrderStatus = "reserved"
	OrderAwaitingStock    OrderStatus = "awaiting_stock"
	OrderPicking          OrderStatus = "picking"
	OrderPartiallyShipped OrderStatus = "partially_shipped"
	OrderCompleted        OrderStatus = "completed"
	OrderCancelled        OrderStatus = "cancelled"
)

// Terminal reports whether no further stock movements may touch the order.
func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderCancelled
}

// =============================================================================
// SALES ORDER
// =============================================================================

type SalesOrder struct {
	ID        string           `json:"id"`
	Reference string           `json:"reference"`
	Status    OrderStatus      `json:"status"`
	Lines     []SalesOrderLine `json:"lines"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Line returns a pointer into Lines, or nil.
func (o *SalesOrder) Line(id string) *SalesOrderLine {
	for i := range o.Lines {
		if o.Lines[i].ID == id {
			return &o.Lines[i]
		}
	}
	return nil
}

// Clone deep-copies the order so stores can hand out values safely.
func (o SalesOrder) Clone() SalesOrder {
	lines := make([]SalesOrderLine, len(o.Lines))
	copy(lines, o.Lines)
	o.Lines = lines
	return o
}

type SalesOrderLine struct {
	ID        string           `json:"id"`
	OrderID   string           `json:"order_id"`
	Position  int              `json:"position"`
	ProductID ledger.ProductID `json:"product_id"`
	Ordered   decimal.Decimal  `json:"ordered"`
	Allocated decimal.Decimal  `json:"allocated"`
	Fulfilled decimal.Decimal  `json:"fulfilled"`
}

// Unallocated is demand neither reserved nor shipped.
func (l SalesOrderLine) Unallocated() decimal.Decimal {
	return l.Ordered.Sub(l.Fulfilled).Sub(l.Allocated)
}

// Covered reports whether every unshipped unit is reserved.
func (l SalesOrderLine) Covered() bool {
	return !l.Unallocated().IsPositive()
}

// =============================================================================
// FULFILLMENT
// =============================================================================

type FulfillmentStatus string

const (
	FulfillmentDraft     FulfillmentStatus = "draft"
	FulfillmentPicking   FulfillmentStatus = "picking"
	FulfillmentPacked    FulfillmentStatus = "packed"
	FulfillmentShipped   FulfillmentStatus = "shipped"
	FulfillmentCancelled FulfillmentStatus = "cancelled"
)

// Active reports whether the fulfillment still holds reservations.
func (s FulfillmentStatus) Active() bool {
	return s == FulfillmentDraft || s == FulfillmentPicking || s == FulfillmentPacked
}

type Fulfillment struct {
	ID        string            `json:"id"`
	OrderID   string            `json:"order_id"`
	Status    FulfillmentStatus `json:"status"`
	Lines     []FulfillmentLine `json:"lines"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	ShippedAt *time.Time        `json:"shipped_at,omitempty"`
}

func (f Fulfillment) Clone() Fulfillment {
	lines := make([]FulfillmentLine, len(f.Lines))
	copy(lines, f.Lines)
	f.Lines = lines
	if f.ShippedAt != nil {
		t := *f.ShippedAt
		f.ShippedAt = &t
	}
	return f
}

// FulfillmentLine draws Quantity of an order line from one location. An
// empty LocationID marks a backorder: demand the fulfillment could not
// source when it was created.
type FulfillmentLine struct {
	ID            string            `json:"id"`
	FulfillmentID string            `json:"fulfillment_id"`
	OrderLineID   string            `json:"order_line_id"`
	ProductID     ledger.ProductID  `json:"product_id"`
	LocationID    ledger.LocationID `json:"location_id,omitempty"`
	Quantity      decimal.Decimal   `json:"quantity"`
}

func (l FulfillmentLine) Backorder() bool {
	return l.LocationID == ""
}

// =============================================================================
// OPERATION - Idempotency record
// =============================================================================

// Operation stores the result of a keyed command so retries replay it.
type Operation struct {
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	Result    []byte    `json:"result"`
	CreatedAt time.Time `json:"created_at"`
}

// =============================================================================
// COMMAND INPUTS AND RESULTS
// =============================================================================

type NewOrderLine struct {
	ProductID ledger.ProductID
	Quantity  decimal.Decimal
}

type NewOrder struct {
	Reference string
	Lines     []NewOrderLine
	Confirm   bool // Skip draft
}

type FulfillmentItem struct {
	LineID   string
	Quantity decimal.Decimal
}

type Receipt struct {
	ProductID   ledger.ProductID
	LocationID  ledger.LocationID
	Quantity    decimal.Decimal
	ReferenceID string // Purchase reference; consumes on_order when set
}

type Supply struct {
	ProductID   ledger.ProductID
	LocationID  ledger.LocationID
	Quantity    decimal.Decimal
	PurchaseRef string
}

type Transfer struct {
	ProductID ledger.ProductID
	From      ledger.LocationID
	To        ledger.LocationID
	Quantity  decimal.Decimal
	Reason    string
}

type Adjustment struct {
	ProductID  ledger.ProductID
	LocationID ledger.LocationID
	Delta      decimal.Decimal
	Reason     string
}

type AllocateLineResult struct {
	AllocatedNow   decimal.Decimal `json:"allocated_now"`
	FullyAllocated bool            `json:"fully_allocated"`
}

type AllocateOrderResult struct {
	FullyAllocated bool            `json:"fully_allocated"`
	TotalAllocated decimal.Decimal `json:"total_allocated"`
}

type RevertAllocationResult struct {
	UnreservedQty decimal.Decimal `json:"unreserved_qty"`
}

type LineRepair struct {
	LineID          string          `json:"line_id"`
	AllocatedBefore decimal.Decimal `json:"allocated_before"`
	AllocatedAfter  decimal.Decimal `json:"allocated_after"`
	FulfilledBefore decimal.Decimal `json:"fulfilled_before"`
	FulfilledAfter  decimal.Decimal `json:"fulfilled_after"`
}

type RepairResult struct {
	OrderID string       `json:"order_id"`
	Status  OrderStatus  `json:"status"`
	Changed []LineRepair `json:"changed"`
}
