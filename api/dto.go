/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Request types carry
  go-playground/validator tags and are checked before any command runs.
  Domain types that already have JSON tags (orders, fulfillments,
  snapshots, ledger entries) are returned as-is.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Response wrappers

QUANTITIES:
  Decimal strings or numbers ("2.5" or 2.5). qty_positive rejects zero
  and negative quantities; qty_nonzero accepts signed adjustments.

SEE ALSO:
  - handlers.go: Uses these types
  - validate.go: Custom validation rules
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/ledger"
)

// =============================================================================
// MASTER DATA
// =============================================================================

type LocationRequest struct {
	ID        string `json:"id" validate:"required,max=64"`
	Name      string `json:"name" validate:"max=255"`
	Sellable  *bool  `json:"sellable"`
	IsDefault bool   `json:"is_default"`
}

// =============================================================================
// STOCK MOVEMENTS
// =============================================================================

type ReceiptRequest struct {
	ProductID   string          `json:"product_id" validate:"required,max=64"`
	LocationID  string          `json:"location_id" validate:"required,max=64"`
	Quantity    decimal.Decimal `json:"quantity" validate:"qty_positive"`
	ReferenceID string          `json:"reference_id" validate:"max=64"`
}

type SupplyRequest struct {
	ProductID   string          `json:"product_id" validate:"required,max=64"`
	LocationID  string          `json:"location_id" validate:"required,max=64"`
	Quantity    decimal.Decimal `json:"quantity" validate:"qty_positive"`
	PurchaseRef string          `json:"purchase_ref" validate:"required,max=64"`
}

type TransferRequest struct {
	ProductID string          `json:"product_id" validate:"required,max=64"`
	From      string          `json:"from" validate:"required,max=64"`
	To        string          `json:"to" validate:"required,max=64,nefield=From"`
	Quantity  decimal.Decimal `json:"quantity" validate:"qty_positive"`
	Reason    string          `json:"reason" validate:"max=255"`
}

type AdjustmentRequest struct {
	ProductID  string          `json:"product_id" validate:"required,max=64"`
	LocationID string          `json:"location_id" validate:"required,max=64"`
	Delta      decimal.Decimal `json:"delta" validate:"qty_nonzero"`
	Reason     string          `json:"reason" validate:"required,max=255"`
}

type RebuildRequest struct {
	ProductID  string `json:"product_id" validate:"required"`
	LocationID string `json:"location_id" validate:"required"`
}

// =============================================================================
// ORDERS & FULFILLMENTS
// =============================================================================

type OrderLineRequest struct {
	ProductID string          `json:"product_id" validate:"required,max=64"`
	Quantity  decimal.Decimal `json:"quantity" validate:"qty_positive"`
}

type CreateOrderRequest struct {
	Reference string             `json:"reference" validate:"max=128"`
	Lines     []OrderLineRequest `json:"lines" validate:"required,min=1,dive"`
	Confirm   bool               `json:"confirm"`
}

func (r CreateOrderRequest) toDomain() inventory.NewOrder {
	in := inventory.NewOrder{Reference: r.Reference, Confirm: r.Confirm}
	for _, l := range r.Lines {
		in.Lines = append(in.Lines, inventory.NewOrderLine{
			ProductID: ledger.ProductID(l.ProductID),
			Quantity:  l.Quantity,
		})
	}
	return in
}

type FulfillmentItemRequest struct {
	LineID   string          `json:"line_id" validate:"required"`
	Quantity decimal.Decimal `json:"quantity" validate:"qty_positive"`
}

type CreateFulfillmentRequest struct {
	Items []FulfillmentItemRequest `json:"items" validate:"required,min=1,dive"`
}

type AdvanceFulfillmentRequest struct {
	Status string `json:"status" validate:"required,oneof=picking packed"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type CreateFulfillmentResponse struct {
	FulfillmentID string `json:"fulfillment_id"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

// SnapshotDTO is a balance row with its derived available quantity.
type SnapshotDTO struct {
	ProductID  string          `json:"product_id"`
	LocationID string          `json:"location_id"`
	OnHand     decimal.Decimal `json:"on_hand"`
	Reserved   decimal.Decimal `json:"reserved"`
	Available  decimal.Decimal `json:"available"`
	OnOrder    decimal.Decimal `json:"on_order"`
	UpdatedAt  string          `json:"updated_at,omitempty"`
}

func toSnapshotDTO(s ledger.Snapshot) SnapshotDTO {
	dto := SnapshotDTO{
		ProductID:  string(s.ProductID),
		LocationID: string(s.LocationID),
		OnHand:     s.OnHand,
		Reserved:   s.Reserved,
		Available:  s.Available(),
		OnOrder:    s.OnOrder,
	}
	if !s.UpdatedAt.IsZero() {
		dto.UpdatedAt = s.UpdatedAt.Format(time.RFC3339)
	}
	return dto
}

// EntryDTO is one ledger row.
type EntryDTO struct {
	ID             string          `json:"id"`
	Seq            int64           `json:"seq"`
	ProductID      string          `json:"product_id"`
	LocationID     string          `json:"location_id"`
	Kind           string          `json:"kind"`
	OnHandDelta    decimal.Decimal `json:"on_hand_delta"`
	ReservedDelta  decimal.Decimal `json:"reserved_delta"`
	OnOrderDelta   decimal.Decimal `json:"on_order_delta"`
	ReferenceType  string          `json:"reference_type,omitempty"`
	ReferenceID    string          `json:"reference_id,omitempty"`
	LineID         string          `json:"line_id,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CreatedAt      string          `json:"created_at"`
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:             string(e.ID),
		Seq:            e.Seq,
		ProductID:      string(e.ProductID),
		LocationID:     string(e.LocationID),
		Kind:           string(e.Kind),
		OnHandDelta:    e.OnHandDelta,
		ReservedDelta:  e.ReservedDelta,
		OnOrderDelta:   e.OnOrderDelta,
		ReferenceType:  string(e.Reference.Type),
		ReferenceID:    e.Reference.ID,
		LineID:         e.Reference.LineID,
		Reason:         e.Reason,
		IdempotencyKey: e.IdempotencyKey,
		CreatedAt:      e.CreatedAt.Format(time.RFC3339Nano),
	}
}

type VerifyResponse struct {
	Clean  bool       `json:"clean"`
	Drifts []DriftDTO `json:"drifts"`
}

type DriftDTO struct {
	ProductID  string      `json:"product_id"`
	LocationID string      `json:"location_id"`
	Stored     SnapshotDTO `json:"stored"`
	Expected   SnapshotDTO `json:"expected"`
	Missing    bool        `json:"missing"`
	Error      string      `json:"error,omitempty"`
}

func toDriftDTOs(drifts []ledger.Drift) []DriftDTO {
	out := make([]DriftDTO, 0, len(drifts))
	for _, d := range drifts {
		out = append(out, DriftDTO{
			ProductID:  string(d.Key.ProductID),
			LocationID: string(d.Key.LocationID),
			Stored:     toSnapshotDTO(d.Snapshot),
			Expected:   toSnapshotDTO(d.Expected),
			Missing:    d.Missing,
			Error:      d.Err,
		})
	}
	return out
}

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string       `json:"error"`
	Details string       `json:"details,omitempty"`
	Fields  []FieldError `json:"fields,omitempty"`
}
