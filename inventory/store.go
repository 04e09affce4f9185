package inventory

import (
	"context"
	"time"

	"github.com/warp/inventory-engine/ledger"
)

// =============================================================================
// STORE INTERFACES
// =============================================================================

// Tx extends the ledger's transaction view with orders, fulfillments and
// idempotency records. Every command runs inside exactly one Tx.
//
// Lock order within a Tx: order row, then fulfillment row, then snapshot
// rows per product in ascending location id.
type Tx interface {
	ledger.Tx

	Locations(ctx context.Context) ([]Location, error)
	Location(ctx context.Context, id ledger.LocationID) (*Location, error)

	InsertOrder(ctx context.Context, o SalesOrder) error
	// LockOrder locks the order with its lines; nil if absent.
	LockOrder(ctx context.Context, id string) (*SalesOrder, error)
	// OrderIDForLine resolves a line to its order without locking; "" if absent.
	OrderIDForLine(ctx context.Context, lineID string) (string, error)
	// SaveLine writes a line's allocated and fulfilled counters.
	SaveLine(ctx context.Context, l SalesOrderLine) error
	SaveOrderStatus(ctx context.Context, id string, status OrderStatus, at time.Time) error

	InsertFulfillment(ctx context.Context, f Fulfillment) error
	LockFulfillment(ctx context.Context, id string) (*Fulfillment, error)
	// FulfillmentOrderID resolves a fulfillment to its order; "" if absent.
	FulfillmentOrderID(ctx context.Context, id string) (string, error)
	// UpdateFulfillment writes status, shipped_at and updated_at.
	UpdateFulfillment(ctx context.Context, f Fulfillment) error
	FulfillmentsByOrder(ctx context.Context, orderID string) ([]Fulfillment, error)

	Operation(ctx context.Context, key string) (*Operation, error)
	// SaveOperation must fail with ledger.ErrDuplicateOperation on a used key.
	SaveOperation(ctx context.Context, op Operation) error
}

// Store is the full persistence surface used by Service.
type Store interface {
	ledger.Reader

	// WithTx runs fn in one transaction, rolling back if it returns an error.
	WithTx(ctx context.Context, fn func(Tx) error) error

	Locations(ctx context.Context) ([]Location, error)
	// SaveLocation upserts a location. Saving a default clears the flag on
	// every other location.
	SaveLocation(ctx context.Context, l Location) error

	Order(ctx context.Context, id string) (*SalesOrder, error)
	OrderIDs(ctx context.Context) ([]string, error)
	Fulfillment(ctx context.Context, id string) (*Fulfillment, error)
	Fulfillments(ctx context.Context, orderID string) ([]Fulfillment, error)
	Operation(ctx context.Context, key string) (*Operation, error)
}

// ReplayCache is a fast path for idempotent retries in front of the
// operations table. Misses are fine; entries are only ever written after
// commit.
type ReplayCache interface {
	Get(ctx context.Context, key string) (*Operation, error)
	Put(ctx context.Context, op Operation) error
}

// KeyGuard serializes work on one idempotency key across processes.
type KeyGuard interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
