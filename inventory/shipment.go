/*
shipment.go - Shipping fulfillments and compensating reversals

PURPOSE:
  Shipping turns a fulfillment's reservations into sale entries. The two
  reversal commands undo either a shipment or a line's order-level
  reservation by appending compensating entries; nothing is ever deleted.

SAFE QUANTITIES:
  Reversals never trust cached counters. The amount to give back is
  re-derived from the ledger and then clamped to the live snapshot:

    unreserve = min(ledger-implied reserved, snapshot.reserved)

  so a reversal can never drive a snapshot negative even if the cache
  drifted.

SHIPMENT REVERSAL TARGETS:
  Returned stock goes back to the locations the original sale entries
  came from. Any quantity history cannot explain goes to the default
  location (or, without one, the fulfillment line's own location)
  instead of failing the reversal.

SEE ALSO:
  - fulfillment.go: Reservation buckets
  - reconcile.go: Rebuilding counters from the ledger
*/
package inventory

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/inventory-engine/ledger"
)

// =============================================================================
// COMMANDS
// =============================================================================

// ShipFulfillment consumes the fulfillment's reserved stock.
func (s *Service) ShipFulfillment(ctx context.Context, fulfillmentID, key string) error {
	_, err := run(ctx, s, "ship_fulfillment", key, func(ctx context.Context, w *writer) (none, error) {
		order, f, err := lockFulfillment(ctx, w.tx, fulfillmentID)
		if err != nil {
			return none{}, err
		}
		if !f.Status.Active() {
			return none{}, fulfillmentStateError(f, "ship")
		}

		located := locatedLines(f)
		products := make([]ledger.ProductID, 0, len(located))
		for _, fl := range located {
			products = append(products, fl.ProductID)
		}
		if err := lockProducts(ctx, w.tx, products); err != nil {
			return none{}, err
		}

		touched := make(map[string]bool)
		for _, fl := range located {
			line := order.Line(fl.OrderLineID)
			if line == nil {
				return none{}, ledger.NotFound("order line", fl.OrderLineID)
			}
			err := w.append(ctx, ledger.Entry{
				ProductID:     fl.ProductID,
				LocationID:    fl.LocationID,
				Kind:          ledger.KindSale,
				OnHandDelta:   fl.Quantity.Neg(),
				ReservedDelta: fl.Quantity.Neg(),
				OnOrderDelta:  decimal.Zero,
				Reference:     ledger.Reference{Type: ledger.RefFulfillment, ID: f.ID, LineID: line.ID},
				Reason:        "shipment",
			})
			if err != nil {
				return none{}, err
			}
			line.Fulfilled = line.Fulfilled.Add(fl.Quantity)
			line.Allocated = decimal.Max(decimal.Zero, line.Allocated.Sub(fl.Quantity))
			touched[line.ID] = true
		}
		if err := saveLines(ctx, w.tx, order, touched); err != nil {
			return none{}, err
		}

		shipped := w.now
		f.Status = FulfillmentShipped
		f.ShippedAt = &shipped
		f.UpdatedAt = w.now
		if err := w.tx.UpdateFulfillment(ctx, *f); err != nil {
			return none{}, err
		}
		w.emit(Event{Type: EventFulfillmentShipped, OrderID: order.ID, FulfillmentID: f.ID, Status: string(f.Status)})
		return none{}, w.resolve(ctx, order)
	})
	return err
}

// RevertFulfillmentShipment puts shipped stock back on hand and re-reserves
// it for the order line. The fulfillment ends up cancelled.
func (s *Service) RevertFulfillmentShipment(ctx context.Context, fulfillmentID, key string) error {
	_, err := run(ctx, s, "revert_fulfillment_shipment", key, func(ctx context.Context, w *writer) (none, error) {
		order, f, err := lockFulfillment(ctx, w.tx, fulfillmentID)
		if err != nil {
			return none{}, err
		}
		if f.Status != FulfillmentShipped {
			return none{}, fulfillmentStateError(f, "revert shipment of")
		}

		returns, err := returnTargets(ctx, w.tx, f)
		if err != nil {
			return none{}, err
		}
		products := make([]ledger.ProductID, 0, len(returns))
		for _, r := range returns {
			products = append(products, r.product)
		}
		if err := lockProducts(ctx, w.tx, products); err != nil {
			return none{}, err
		}

		touched := make(map[string]bool)
		for _, r := range returns {
			line := order.Line(r.line)
			if line == nil {
				return none{}, ledger.NotFound("order line", r.line)
			}
			err := w.append(ctx, ledger.Entry{
				ProductID:     r.product,
				LocationID:    r.location,
				Kind:          ledger.KindReturn,
				OnHandDelta:   r.qty,
				ReservedDelta: r.qty,
				OnOrderDelta:  decimal.Zero,
				Reference:     ledger.Reference{Type: ledger.RefOrder, ID: order.ID, LineID: line.ID},
				Reason:        fmt.Sprintf("shipment reverted: fulfillment %s", f.ID),
			})
			if err != nil {
				return none{}, err
			}
			line.Fulfilled = decimal.Max(decimal.Zero, line.Fulfilled.Sub(r.qty))
			line.Allocated = line.Allocated.Add(r.qty)
			touched[line.ID] = true
		}
		if err := saveLines(ctx, w.tx, order, touched); err != nil {
			return none{}, err
		}

		f.Status = FulfillmentCancelled
		f.UpdatedAt = w.now
		if err := w.tx.UpdateFulfillment(ctx, *f); err != nil {
			return none{}, err
		}
		w.emit(Event{Type: EventShipmentReverted, OrderID: order.ID, FulfillmentID: f.ID, Status: string(f.Status)})
		return none{}, w.resolve(ctx, order)
	})
	return err
}

// RevertLineAllocation releases the line's order-level reservation.
func (s *Service) RevertLineAllocation(ctx context.Context, lineID, key string) (RevertAllocationResult, error) {
	return run(ctx, s, "revert_line_allocation", key, func(ctx context.Context, w *writer) (RevertAllocationResult, error) {
		order, err := lockOrderForLine(ctx, w.tx, lineID)
		if err != nil {
			return RevertAllocationResult{}, err
		}
		released, err := w.revertLine(ctx, order, order.Line(lineID))
		if err != nil {
			return RevertAllocationResult{}, err
		}
		if err := w.resolve(ctx, order); err != nil {
			return RevertAllocationResult{}, err
		}
		return RevertAllocationResult{UnreservedQty: released}, nil
	})
}

// =============================================================================
// REVERSAL CORE
// =============================================================================

func (w *writer) revertLine(ctx context.Context, order *SalesOrder, line *SalesOrderLine) (decimal.Decimal, error) {
	if err := lockProducts(ctx, w.tx, []ledger.ProductID{line.ProductID}); err != nil {
		return decimal.Zero, err
	}
	buckets, err := reservedBuckets(ctx, w.tx, ledger.EntryFilter{
		ReferenceType: ledger.RefOrder, ReferenceID: order.ID, LineID: line.ID,
	})
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, b := range buckets {
		n, err := w.clampToSnapshot(ctx, line.ProductID, b.location, b.qty)
		if err != nil {
			return decimal.Zero, err
		}
		if n.LessThan(b.qty) {
			// The line counter keeps following the ledger; RebuildSnapshot
			// brings the snapshot back in line with it.
			w.log.WithFields(logrus.Fields{
				"order_id":           order.ID,
				"line_id":            line.ID,
				"product_id":         string(line.ProductID),
				"location_id":        string(b.location),
				"ledger_reserved":    b.qty.String(),
				"released":           n.String(),
				"operator_attention": true,
			}).Error("snapshot reserves less than the ledger; release clamped")
		}
		if !n.IsPositive() {
			continue
		}
		err = w.append(ctx, ledger.Entry{
			ProductID:     line.ProductID,
			LocationID:    b.location,
			Kind:          ledger.KindUnreserve,
			OnHandDelta:   decimal.Zero,
			ReservedDelta: n.Neg(),
			OnOrderDelta:  decimal.Zero,
			Reference:     ledger.Reference{Type: ledger.RefOrder, ID: order.ID, LineID: line.ID},
			Reason:        "allocation reverted",
		})
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(n)
		w.emit(Event{
			Type: EventAllocationReverted, OrderID: order.ID, LineID: line.ID,
			ProductID: line.ProductID, LocationID: b.location, Quantity: qty(n),
		})
	}

	if total.IsPositive() {
		line.Allocated = decimal.Max(decimal.Zero, line.Allocated.Sub(total))
		if err := w.tx.SaveLine(ctx, *line); err != nil {
			return decimal.Zero, err
		}
	}
	return total, nil
}

// returnTargets decides where each shipped unit of f goes back to.
// Results are aggregated per (line, location) and sorted.
func returnTargets(ctx context.Context, tx Tx, f *Fulfillment) ([]bucket, error) {
	sales, err := tx.Entries(ctx, ledger.EntryFilter{
		ReferenceType: ledger.RefFulfillment,
		ReferenceID:   f.ID,
		Kinds:         []ledger.Kind{ledger.KindSale},
	})
	if err != nil {
		return nil, err
	}

	type lk struct {
		line string
		loc  ledger.LocationID
	}
	history := make(map[lk]decimal.Decimal)
	historyLocs := make(map[string][]ledger.LocationID)
	for _, e := range sales {
		k := lk{e.Reference.LineID, e.LocationID}
		if _, ok := history[k]; !ok {
			historyLocs[k.line] = append(historyLocs[k.line], k.loc)
			history[k] = decimal.Zero
		}
		history[k] = history[k].Add(e.OnHandDelta.Neg())
	}
	for line := range historyLocs {
		locs := historyLocs[line]
		sort.Slice(locs, func(i, j int) bool { return locs[i] < locs[j] })
	}

	fallback, err := defaultLocation(ctx, tx)
	if err != nil {
		return nil, err
	}

	out := make(map[lk]*bucket)
	add := func(k lk, product ledger.ProductID, n decimal.Decimal) {
		b, ok := out[k]
		if !ok {
			b = &bucket{line: k.line, product: product, location: k.loc, qty: decimal.Zero}
			out[k] = b
		}
		b.qty = b.qty.Add(n)
	}

	for _, fl := range locatedLines(f) {
		want := fl.Quantity
		candidates := append([]ledger.LocationID{fl.LocationID}, historyLocs[fl.OrderLineID]...)
		for _, loc := range candidates {
			if !want.IsPositive() {
				break
			}
			k := lk{fl.OrderLineID, loc}
			n := decimal.Min(history[k], want)
			if !n.IsPositive() {
				continue
			}
			history[k] = history[k].Sub(n)
			add(k, fl.ProductID, n)
			want = want.Sub(n)
		}
		if want.IsPositive() {
			loc := fl.LocationID
			if fallback != nil {
				loc = fallback.ID
			}
			add(lk{fl.OrderLineID, loc}, fl.ProductID, want)
		}
	}

	result := make([]bucket, 0, len(out))
	for _, b := range out {
		result = append(result, *b)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].line != result[j].line {
			return result[i].line < result[j].line
		}
		return result[i].location < result[j].location
	})
	return result, nil
}

func defaultLocation(ctx context.Context, tx Tx) (*Location, error) {
	locs, err := tx.Locations(ctx)
	if err != nil {
		return nil, err
	}
	for _, l := range locs {
		if l.IsDefault {
			l := l
			return &l, nil
		}
	}
	return nil, nil
}

// locatedLines returns f's non-backorder lines sorted by product then
// location, the order snapshot locks are taken in.
func locatedLines(f *Fulfillment) []FulfillmentLine {
	out := make([]FulfillmentLine, 0, len(f.Lines))
	for _, fl := range f.Lines {
		if !fl.Backorder() && fl.Quantity.IsPositive() {
			out = append(out, fl)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].LocationID < out[j].LocationID
	})
	return out
}

func saveLines(ctx context.Context, tx Tx, order *SalesOrder, touched map[string]bool) error {
	for _, l := range order.Lines {
		if !touched[l.ID] {
			continue
		}
		if err := tx.SaveLine(ctx, l); err != nil {
			return err
		}
	}
	return nil
}
