/*
fulfillment.go - Moving reservations into shipment units

PURPOSE:
  A fulfillment is the unit that gets picked, packed and shipped. Creating
  one moves stock already reserved for the order into the fulfillment,
  and only tops up from free stock when the order-level reservation is
  not enough.

RESERVATION BUCKETS:
  Every reserve/unreserve entry names the bucket it belongs to:

    order bucket:       reference (order, order id, line id)
    fulfillment bucket: reference (fulfillment, fulfillment id, line id)

  A move is an unreserve in one bucket paired with a reserve in the other
  at the same location, so total reserved never changes. Bucket sizes
  are always re-derived from the ledger and clamped to the live snapshot.

CREATE ALGORITHM (per requested line):
  1. Move the line's order-bucket reservation, location by location
  2. Reserve free stock from sellable bins (ranked like allocation),
     capped by the line's unallocated demand
  3. Record whatever is still missing as a backorder line (no location)

SEE ALSO:
  - allocation.go: Bin ranking and free-stock reservation
  - shipment.go: Shipping and reverting fulfillments
*/
package inventory

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/inventory-engine/ledger"
)

// =============================================================================
// COMMANDS
// =============================================================================

// CreateFulfillment creates a draft fulfillment for the given order lines
// and returns its id.
func (s *Service) CreateFulfillment(ctx context.Context, orderID string, items []FulfillmentItem, key string) (string, error) {
	return run(ctx, s, "create_fulfillment", key, func(ctx context.Context, w *writer) (string, error) {
		if err := validateItems(items); err != nil {
			return "", err
		}
		order, err := lockOrder(ctx, w.tx, orderID)
		if err != nil {
			return "", err
		}
		if order.Status == OrderDraft || order.Status.Terminal() {
			return "", orderStateError(order, "fulfill")
		}

		existing, err := w.tx.FulfillmentsByOrder(ctx, order.ID)
		if err != nil {
			return "", err
		}
		held := make(map[string]decimal.Decimal)
		for _, f := range existing {
			if !f.Status.Active() {
				continue
			}
			for _, fl := range f.Lines {
				held[fl.OrderLineID] = held[fl.OrderLineID].Add(fl.Quantity)
			}
		}

		products := make([]ledger.ProductID, 0, len(items))
		for _, it := range items {
			line := order.Line(it.LineID)
			if line == nil {
				return "", ledger.NotFound("order line", it.LineID)
			}
			open := line.Ordered.Sub(line.Fulfilled).Sub(held[line.ID])
			if it.Quantity.GreaterThan(open) {
				return "", ledger.InvalidArgument("line %s: requested %s but only %s is open for fulfillment",
					line.ID, it.Quantity, open)
			}
			products = append(products, line.ProductID)
		}
		if err := lockProducts(ctx, w.tx, products); err != nil {
			return "", err
		}

		f := Fulfillment{
			ID:        w.newID(),
			OrderID:   order.ID,
			Status:    FulfillmentDraft,
			CreatedAt: w.now,
			UpdatedAt: w.now,
		}
		for _, it := range items {
			line := order.Line(it.LineID)
			lines, err := w.sourceLine(ctx, order, line, f.ID, it.Quantity)
			if err != nil {
				return "", err
			}
			f.Lines = append(f.Lines, lines...)
		}

		if err := w.tx.InsertFulfillment(ctx, f); err != nil {
			return "", err
		}
		w.emit(Event{Type: EventFulfillmentCreated, OrderID: order.ID, FulfillmentID: f.ID, Status: string(f.Status)})
		if err := w.resolve(ctx, order); err != nil {
			return "", err
		}
		return f.ID, nil
	})
}

// CancelFulfillment returns an unshipped fulfillment's reservations to the
// order bucket.
func (s *Service) CancelFulfillment(ctx context.Context, fulfillmentID, key string) error {
	_, err := run(ctx, s, "cancel_fulfillment", key, func(ctx context.Context, w *writer) (none, error) {
		order, f, err := lockFulfillment(ctx, w.tx, fulfillmentID)
		if err != nil {
			return none{}, err
		}
		if !f.Status.Active() {
			return none{}, fulfillmentStateError(f, "cancel")
		}
		if err := w.cancelFulfillment(ctx, order, f); err != nil {
			return none{}, err
		}
		return none{}, w.resolve(ctx, order)
	})
	return err
}

// AdvanceFulfillment moves a fulfillment one step forward:
// draft -> picking -> packed. Shipping has its own command.
func (s *Service) AdvanceFulfillment(ctx context.Context, fulfillmentID string, to FulfillmentStatus, key string) error {
	_, err := run(ctx, s, "advance_fulfillment", key, func(ctx context.Context, w *writer) (none, error) {
		order, f, err := lockFulfillment(ctx, w.tx, fulfillmentID)
		if err != nil {
			return none{}, err
		}
		allowed := (f.Status == FulfillmentDraft && to == FulfillmentPicking) ||
			(f.Status == FulfillmentPicking && to == FulfillmentPacked)
		if !allowed {
			return none{}, fulfillmentStateError(f, fmt.Sprintf("advance to %s", to))
		}
		f.Status = to
		f.UpdatedAt = w.now
		if err := w.tx.UpdateFulfillment(ctx, *f); err != nil {
			return none{}, err
		}
		w.emit(Event{Type: EventFulfillmentAdvanced, OrderID: order.ID, FulfillmentID: f.ID, Status: string(to)})
		return none{}, w.resolve(ctx, order)
	})
	return err
}

// =============================================================================
// REALLOCATION CORE
// =============================================================================

// sourceLine builds the fulfillment lines for one requested order line.
func (w *writer) sourceLine(ctx context.Context, order *SalesOrder, line *SalesOrderLine, fulfillmentID string, want decimal.Decimal) ([]FulfillmentLine, error) {
	oref := ledger.Reference{Type: ledger.RefOrder, ID: order.ID, LineID: line.ID}
	fref := ledger.Reference{Type: ledger.RefFulfillment, ID: fulfillmentID, LineID: line.ID}

	placed := make(map[ledger.LocationID]decimal.Decimal)
	var visited []ledger.LocationID
	place := func(loc ledger.LocationID, n decimal.Decimal) {
		if _, ok := placed[loc]; !ok {
			visited = append(visited, loc)
			placed[loc] = decimal.Zero
		}
		placed[loc] = placed[loc].Add(n)
	}

	remaining := want

	// 1. Move the order-level reservation.
	reserved, err := reservedBuckets(ctx, w.tx, ledger.EntryFilter{
		ReferenceType: ledger.RefOrder, ReferenceID: order.ID, LineID: line.ID,
	})
	if err != nil {
		return nil, err
	}
	for _, b := range reserved {
		if !remaining.IsPositive() {
			break
		}
		n, err := w.clampToSnapshot(ctx, line.ProductID, b.location, decimal.Min(b.qty, remaining))
		if err != nil {
			return nil, err
		}
		if !n.IsPositive() {
			continue
		}
		if err := w.move(ctx, line.ProductID, b.location, n, oref, fref, "moved to fulfillment"); err != nil {
			return nil, err
		}
		place(b.location, n)
		remaining = remaining.Sub(n)
	}

	// 2. Top up from free stock.
	if remaining.IsPositive() {
		room := decimal.Min(remaining, line.Unallocated())
		if room.IsPositive() {
			takes, err := w.reserveFree(ctx, line.ProductID, room, fref, "fulfillment")
			if err != nil {
				return nil, err
			}
			for _, t := range takes {
				place(t.location, t.qty)
				line.Allocated = line.Allocated.Add(t.qty)
				remaining = remaining.Sub(t.qty)
			}
			if err := w.tx.SaveLine(ctx, *line); err != nil {
				return nil, err
			}
		}
	}

	lines := make([]FulfillmentLine, 0, len(visited)+1)
	for _, loc := range visited {
		lines = append(lines, FulfillmentLine{
			ID:            w.newID(),
			FulfillmentID: fulfillmentID,
			OrderLineID:   line.ID,
			ProductID:     line.ProductID,
			LocationID:    loc,
			Quantity:      placed[loc],
		})
	}

	// 3. Backorder the rest.
	if remaining.IsPositive() {
		lines = append(lines, FulfillmentLine{
			ID:            w.newID(),
			FulfillmentID: fulfillmentID,
			OrderLineID:   line.ID,
			ProductID:     line.ProductID,
			Quantity:      remaining,
		})
	}
	return lines, nil
}

// cancelFulfillment moves every reservation held by f back to the order
// bucket of its line. Reservations the snapshot no longer backs are
// dropped from line.Allocated.
func (w *writer) cancelFulfillment(ctx context.Context, order *SalesOrder, f *Fulfillment) error {
	products := make([]ledger.ProductID, 0, len(f.Lines))
	for _, fl := range f.Lines {
		products = append(products, fl.ProductID)
	}
	if err := lockProducts(ctx, w.tx, products); err != nil {
		return err
	}

	buckets, err := reservedBuckets(ctx, w.tx, ledger.EntryFilter{
		ReferenceType: ledger.RefFulfillment, ReferenceID: f.ID,
	})
	if err != nil {
		return err
	}
	for _, b := range buckets {
		line := order.Line(b.line)
		if line == nil {
			return ledger.NotFound("order line", b.line)
		}
		n, err := w.clampToSnapshot(ctx, line.ProductID, b.location, b.qty)
		if err != nil {
			return err
		}
		if n.IsPositive() {
			oref := ledger.Reference{Type: ledger.RefOrder, ID: order.ID, LineID: line.ID}
			fref := ledger.Reference{Type: ledger.RefFulfillment, ID: f.ID, LineID: line.ID}
			if err := w.move(ctx, line.ProductID, b.location, n, fref, oref, "fulfillment cancelled"); err != nil {
				return err
			}
		}
		if lost := b.qty.Sub(n); lost.IsPositive() {
			line.Allocated = decimal.Max(decimal.Zero, line.Allocated.Sub(lost))
			if err := w.tx.SaveLine(ctx, *line); err != nil {
				return err
			}
		}
	}

	f.Status = FulfillmentCancelled
	f.UpdatedAt = w.now
	if err := w.tx.UpdateFulfillment(ctx, *f); err != nil {
		return err
	}
	w.emit(Event{Type: EventFulfillmentCanceled, OrderID: order.ID, FulfillmentID: f.ID, Status: string(f.Status)})
	return nil
}

// move transfers n reserved units between buckets at one location.
func (w *writer) move(ctx context.Context, product ledger.ProductID, loc ledger.LocationID, n decimal.Decimal, from, to ledger.Reference, reason string) error {
	err := w.append(ctx, ledger.Entry{
		ProductID:     product,
		LocationID:    loc,
		Kind:          ledger.KindUnreserve,
		OnHandDelta:   decimal.Zero,
		ReservedDelta: n.Neg(),
		OnOrderDelta:  decimal.Zero,
		Reference:     from,
		Reason:        reason,
	})
	if err != nil {
		return err
	}
	return w.append(ctx, ledger.Entry{
		ProductID:     product,
		LocationID:    loc,
		Kind:          ledger.KindReserve,
		OnHandDelta:   decimal.Zero,
		ReservedDelta: n,
		OnOrderDelta:  decimal.Zero,
		Reference:     to,
		Reason:        reason,
	})
}

// clampToSnapshot limits n to what the live snapshot actually reserves.
func (w *writer) clampToSnapshot(ctx context.Context, product ledger.ProductID, loc ledger.LocationID, n decimal.Decimal) (decimal.Decimal, error) {
	snap, err := w.tx.LockSnapshot(ctx, ledger.Key{ProductID: product, LocationID: loc})
	if err != nil {
		return decimal.Zero, err
	}
	if snap == nil {
		return decimal.Zero, nil
	}
	return decimal.Max(decimal.Zero, decimal.Min(n, snap.Reserved)), nil
}

// =============================================================================
// BUCKETS
// =============================================================================

type bucket struct {
	line     string
	product  ledger.ProductID
	location ledger.LocationID
	qty      decimal.Decimal
}

// reservedBuckets folds the reserved deltas of matching entries per
// (line, location). Only positive buckets are returned, sorted by line
// then location.
func reservedBuckets(ctx context.Context, tx Tx, f ledger.EntryFilter) ([]bucket, error) {
	entries, err := tx.Entries(ctx, f)
	if err != nil {
		return nil, err
	}
	type bkey struct {
		line string
		loc  ledger.LocationID
	}
	sums := make(map[bkey]*bucket)
	for _, e := range entries {
		k := bkey{e.Reference.LineID, e.LocationID}
		b, ok := sums[k]
		if !ok {
			b = &bucket{line: k.line, product: e.ProductID, location: k.loc, qty: decimal.Zero}
			sums[k] = b
		}
		b.qty = b.qty.Add(e.ReservedDelta)
	}

	out := make([]bucket, 0, len(sums))
	for _, b := range sums {
		if b.qty.IsPositive() {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].line != out[j].line {
			return out[i].line < out[j].line
		}
		return out[i].location < out[j].location
	})
	return out, nil
}

func validateItems(items []FulfillmentItem) error {
	if len(items) == 0 {
		return ledger.InvalidArgument("fulfillment needs at least one item")
	}
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if it.LineID == "" {
			return ledger.InvalidArgument("fulfillment item without line id")
		}
		if !it.Quantity.IsPositive() {
			return ledger.InvalidArgument("line %s: quantity must be positive", it.LineID)
		}
		if seen[it.LineID] {
			return ledger.InvalidArgument("line %s requested twice", it.LineID)
		}
		seen[it.LineID] = true
	}
	return nil
}
