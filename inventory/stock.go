package inventory

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/inventory-engine/ledger"
)

// =============================================================================
// STOCK MOVEMENTS
// =============================================================================

// BookReceipt adds received stock to a location. With a purchase
// reference the receipt also consumes up to Quantity of on_order.
func (s *Service) BookReceipt(ctx context.Context, r Receipt, key string) error {
	_, err := run(ctx, s, "book_receipt", key, func(ctx context.Context, w *writer) (none, error) {
		if !r.Quantity.IsPositive() {
			return none{}, ledger.InvalidArgument("receipt quantity must be positive")
		}
		if err := requireLocation(ctx, w.tx, r.LocationID); err != nil {
			return none{}, err
		}

		k := ledger.Key{ProductID: r.ProductID, LocationID: r.LocationID}
		onOrder := decimal.Zero
		ref := ledger.Reference{Type: ledger.RefReceipt, ID: r.ReferenceID}
		if r.ReferenceID != "" {
			snap, err := w.tx.LockSnapshot(ctx, k)
			if err != nil {
				return none{}, err
			}
			if snap != nil {
				onOrder = decimal.Min(snap.OnOrder, r.Quantity).Neg()
			}
			ref.Type = ledger.RefPurchase
		}
		if ref.ID == "" {
			ref.ID = w.newID()
		}

		err := w.append(ctx, ledger.Entry{
			ProductID:     r.ProductID,
			LocationID:    r.LocationID,
			Kind:          ledger.KindReceipt,
			OnHandDelta:   r.Quantity,
			ReservedDelta: decimal.Zero,
			OnOrderDelta:  onOrder,
			Reference:     ref,
			Reason:        "receipt",
		})
		if err != nil {
			return none{}, err
		}
		w.emit(Event{Type: EventStockReceived, ProductID: r.ProductID, LocationID: r.LocationID, Quantity: qty(r.Quantity)})
		return none{}, nil
	})
	return err
}

// ExpectSupply records incoming stock on a purchase as on_order.
func (s *Service) ExpectSupply(ctx context.Context, in Supply, key string) error {
	_, err := run(ctx, s, "expect_supply", key, func(ctx context.Context, w *writer) (none, error) {
		if !in.Quantity.IsPositive() {
			return none{}, ledger.InvalidArgument("supply quantity must be positive")
		}
		if in.PurchaseRef == "" {
			return none{}, ledger.InvalidArgument("supply needs a purchase reference")
		}
		if err := requireLocation(ctx, w.tx, in.LocationID); err != nil {
			return none{}, err
		}
		err := w.append(ctx, ledger.Entry{
			ProductID:     in.ProductID,
			LocationID:    in.LocationID,
			Kind:          ledger.KindPurchase,
			OnHandDelta:   decimal.Zero,
			ReservedDelta: decimal.Zero,
			OnOrderDelta:  in.Quantity,
			Reference:     ledger.Reference{Type: ledger.RefPurchase, ID: in.PurchaseRef},
			Reason:        "supply expected",
		})
		if err != nil {
			return none{}, err
		}
		w.emit(Event{Type: EventStockExpected, ProductID: in.ProductID, LocationID: in.LocationID, Quantity: qty(in.Quantity)})
		return none{}, nil
	})
	return err
}

// TransferStock moves free stock between two locations. Reserved stock
// never moves.
func (s *Service) TransferStock(ctx context.Context, t Transfer, key string) error {
	_, err := run(ctx, s, "transfer_stock", key, func(ctx context.Context, w *writer) (none, error) {
		if !t.Quantity.IsPositive() {
			return none{}, ledger.InvalidArgument("transfer quantity must be positive")
		}
		if t.From == t.To {
			return none{}, ledger.InvalidArgument("transfer source and destination are both %s", t.From)
		}
		for _, id := range []ledger.LocationID{t.From, t.To} {
			if err := requireLocation(ctx, w.tx, id); err != nil {
				return none{}, err
			}
		}
		if _, err := w.tx.LockProductSnapshots(ctx, t.ProductID); err != nil {
			return none{}, err
		}
		if err := requireAvailable(ctx, w.tx, ledger.Key{ProductID: t.ProductID, LocationID: t.From}, t.Quantity); err != nil {
			return none{}, err
		}

		ref := ledger.Reference{Type: ledger.RefTransfer, ID: w.newID()}
		reason := t.Reason
		if reason == "" {
			reason = fmt.Sprintf("transfer %s -> %s", t.From, t.To)
		}
		legs := []struct {
			loc   ledger.LocationID
			delta decimal.Decimal
		}{
			{t.From, t.Quantity.Neg()},
			{t.To, t.Quantity},
		}
		for _, leg := range legs {
			err := w.append(ctx, ledger.Entry{
				ProductID:     t.ProductID,
				LocationID:    leg.loc,
				Kind:          ledger.KindTransfer,
				OnHandDelta:   leg.delta,
				ReservedDelta: decimal.Zero,
				OnOrderDelta:  decimal.Zero,
				Reference:     ref,
				Reason:        reason,
			})
			if err != nil {
				return none{}, err
			}
		}
		w.emit(Event{Type: EventStockTransferred, ProductID: t.ProductID, LocationID: t.To, Quantity: qty(t.Quantity)})
		return none{}, nil
	})
	return err
}

// AdjustStock books a stock count correction. A negative delta may not
// take on_hand below what is reserved.
func (s *Service) AdjustStock(ctx context.Context, a Adjustment, key string) error {
	_, err := run(ctx, s, "adjust_stock", key, func(ctx context.Context, w *writer) (none, error) {
		if a.Delta.IsZero() {
			return none{}, ledger.InvalidArgument("adjustment delta must not be zero")
		}
		if a.Reason == "" {
			return none{}, ledger.InvalidArgument("adjustment needs a reason")
		}
		if err := requireLocation(ctx, w.tx, a.LocationID); err != nil {
			return none{}, err
		}
		k := ledger.Key{ProductID: a.ProductID, LocationID: a.LocationID}
		if a.Delta.IsNegative() {
			if err := requireAvailable(ctx, w.tx, k, a.Delta.Neg()); err != nil {
				return none{}, err
			}
		}
		err := w.append(ctx, ledger.Entry{
			ProductID:     a.ProductID,
			LocationID:    a.LocationID,
			Kind:          ledger.KindAdjustment,
			OnHandDelta:   a.Delta,
			ReservedDelta: decimal.Zero,
			OnOrderDelta:  decimal.Zero,
			Reference:     ledger.Reference{Type: ledger.RefAdjustment, ID: w.newID()},
			Reason:        a.Reason,
		})
		if err != nil {
			return none{}, err
		}
		w.emit(Event{Type: EventStockAdjusted, ProductID: a.ProductID, LocationID: a.LocationID, Quantity: qty(a.Delta)})
		return none{}, nil
	})
	return err
}

func requireLocation(ctx context.Context, tx Tx, id ledger.LocationID) error {
	if id == "" {
		return ledger.InvalidArgument("location is required")
	}
	loc, err := tx.Location(ctx, id)
	if err != nil {
		return err
	}
	if loc == nil {
		return ledger.NotFound("location", string(id))
	}
	return nil
}

func requireAvailable(ctx context.Context, tx Tx, k ledger.Key, n decimal.Decimal) error {
	snap, err := tx.LockSnapshot(ctx, k)
	if err != nil {
		return err
	}
	available := decimal.Zero
	if snap != nil {
		available = snap.Available()
	}
	if available.LessThan(n) {
		return &ledger.InsufficientStockError{Key: k, Available: available, Requested: n}
	}
	return nil
}
