package inventory

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/inventory-engine/ledger"
)

func newID() string {
	return uuid.NewString()
}

// =============================================================================
// ORDER LIFECYCLE
// =============================================================================

// CreateOrder records a sales order from order entry. Orders start in
// draft unless Confirm is set.
func (s *Service) CreateOrder(ctx context.Context, in NewOrder, key string) (SalesOrder, error) {
	return run(ctx, s, "create_order", key, func(ctx context.Context, w *writer) (SalesOrder, error) {
		if len(in.Lines) == 0 {
			return SalesOrder{}, ledger.InvalidArgument("order needs at least one line")
		}
		status := OrderDraft
		if in.Confirm {
			status = OrderConfirmed
		}
		o := SalesOrder{
			ID:        w.newID(),
			Reference: in.Reference,
			Status:    status,
			CreatedAt: w.now,
			UpdatedAt: w.now,
		}
		for i, l := range in.Lines {
			if l.ProductID == "" {
				return SalesOrder{}, ledger.InvalidArgument("line %d: product is required", i+1)
			}
			if !l.Quantity.IsPositive() {
				return SalesOrder{}, ledger.InvalidArgument("line %d: quantity must be positive", i+1)
			}
			o.Lines = append(o.Lines, SalesOrderLine{
				ID:        w.newID(),
				OrderID:   o.ID,
				Position:  i + 1,
				ProductID: l.ProductID,
				Ordered:   l.Quantity,
				Allocated: decimal.Zero,
				Fulfilled: decimal.Zero,
			})
		}
		if err := w.tx.InsertOrder(ctx, o); err != nil {
			return SalesOrder{}, err
		}
		w.emit(Event{Type: EventOrderCreated, OrderID: o.ID, Status: string(o.Status)})
		return o, nil
	})
}

// ConfirmOrder releases a draft order for allocation.
func (s *Service) ConfirmOrder(ctx context.Context, orderID, key string) error {
	_, err := run(ctx, s, "confirm_order", key, func(ctx context.Context, w *writer) (none, error) {
		order, err := lockOrder(ctx, w.tx, orderID)
		if err != nil {
			return none{}, err
		}
		if order.Status != OrderDraft {
			return none{}, orderStateError(order, "confirm")
		}
		return none{}, w.setStatus(ctx, order, OrderConfirmed)
	})
	return err
}

// CancelOrder cancels every open fulfillment, releases every line's
// reservation and marks the order cancelled. Orders with shipped stock
// must have their shipments reverted first.
func (s *Service) CancelOrder(ctx context.Context, orderID, key string) error {
	_, err := run(ctx, s, "cancel_order", key, func(ctx context.Context, w *writer) (none, error) {
		order, err := lockOrder(ctx, w.tx, orderID)
		if err != nil {
			return none{}, err
		}
		if order.Status == OrderCancelled {
			return none{}, orderStateError(order, "cancel")
		}
		for _, l := range order.Lines {
			if l.Fulfilled.IsPositive() {
				return none{}, orderStateError(order, "cancel")
			}
		}

		fs, err := w.tx.FulfillmentsByOrder(ctx, order.ID)
		if err != nil {
			return none{}, err
		}
		for i := range fs {
			if !fs[i].Status.Active() {
				continue
			}
			f, err := w.tx.LockFulfillment(ctx, fs[i].ID)
			if err != nil {
				return none{}, err
			}
			if err := w.cancelFulfillment(ctx, order, f); err != nil {
				return none{}, err
			}
		}
		for i := range order.Lines {
			if _, err := w.revertLine(ctx, order, &order.Lines[i]); err != nil {
				return none{}, err
			}
		}
		return none{}, w.setStatus(ctx, order, OrderCancelled)
	})
	return err
}
