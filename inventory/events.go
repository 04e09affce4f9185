package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/inventory-engine/ledger"
)

type EventType string

const (
	EventStockReceived       EventType = "stock.received"
	EventStockExpected       EventType = "stock.expected"
	EventStockTransferred    EventType = "stock.transferred"
	EventStockAdjusted       EventType = "stock.adjusted"
	EventOrderCreated        EventType = "order.created"
	EventOrderStatusChanged  EventType = "order.status_changed"
	EventLineAllocated       EventType = "line.allocated"
	EventAllocationReverted  EventType = "line.allocation_reverted"
	EventFulfillmentCreated  EventType = "fulfillment.created"
	EventFulfillmentAdvanced EventType = "fulfillment.advanced"
	EventFulfillmentShipped  EventType = "fulfillment.shipped"
	EventShipmentReverted    EventType = "fulfillment.shipment_reverted"
	EventFulfillmentCanceled EventType = "fulfillment.cancelled"
	EventOrderRepaired       EventType = "order.repaired"
)

// Event is a timeline record published after a command commits.
type Event struct {
	Type          EventType         `json:"type"`
	OrderID       string            `json:"order_id,omitempty"`
	FulfillmentID string            `json:"fulfillment_id,omitempty"`
	LineID        string            `json:"line_id,omitempty"`
	ProductID     ledger.ProductID  `json:"product_id,omitempty"`
	LocationID    ledger.LocationID `json:"location_id,omitempty"`
	Quantity      *decimal.Decimal  `json:"quantity,omitempty"`
	Status        string            `json:"status,omitempty"`
	At            time.Time         `json:"at"`
}

// Notifier receives committed events. Publish errors are logged by the
// service and never fail the command.
type Notifier interface {
	Publish(ctx context.Context, events []Event) error
}

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, []Event) error { return nil }

func qty(d decimal.Decimal) *decimal.Decimal {
	return &d
}
