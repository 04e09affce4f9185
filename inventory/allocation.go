/*
allocation.go - Reserving physical stock against order lines

PURPOSE:
  Chooses source locations for a demand line and writes reserve entries.

ALGORITHM:
  needed = ordered - fulfilled - allocated      (<= 0 is a no-op)

  Candidate bins: sellable locations holding the product with
  available > 0, ranked by

    1. available, descending   (fewest splits)
    2. location id, ascending  (deterministic tie-break)

  For each bin: take = min(available, needed), append a reserve entry
  referencing (order, order id, line id), add take to line.allocated.
  Stop when needed reaches zero or bins run out.

SHORTFALL:
  A line that cannot be fully covered is a normal outcome, reported as
  FullyAllocated=false. The remainder waits for more stock.

EXAMPLE:
  BIN-A available 4, BIN-B available 7, BIN-C available 7, need 12
  Ranked: BIN-B(7), BIN-C(7), BIN-A(4)
  Result: reserve 7 at BIN-B, 5 at BIN-C

SEE ALSO:
  - fulfillment.go: Uses the same ranking for free stock
  - status.go: Status after allocation (reserved / awaiting_stock)
*/
package inventory

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/inventory-engine/ledger"
)

// =============================================================================
// COMMANDS
// =============================================================================

// AllocateLine reserves free stock for one order line.
func (s *Service) AllocateLine(ctx context.Context, lineID, key string) (AllocateLineResult, error) {
	return run(ctx, s, "allocate_line", key, func(ctx context.Context, w *writer) (AllocateLineResult, error) {
		order, err := lockOrderForLine(ctx, w.tx, lineID)
		if err != nil {
			return AllocateLineResult{}, err
		}
		if err := checkAllocatable(order, "allocate"); err != nil {
			return AllocateLineResult{}, err
		}
		line := order.Line(lineID)

		got, err := w.allocateLine(ctx, order, line)
		if err != nil {
			return AllocateLineResult{}, err
		}
		if err := w.resolve(ctx, order); err != nil {
			return AllocateLineResult{}, err
		}
		return AllocateLineResult{AllocatedNow: got, FullyAllocated: line.Covered()}, nil
	})
}

// AllocateOrder runs AllocateLine over every line of an order in one
// transaction.
func (s *Service) AllocateOrder(ctx context.Context, orderID, key string) (AllocateOrderResult, error) {
	return run(ctx, s, "allocate_order", key, func(ctx context.Context, w *writer) (AllocateOrderResult, error) {
		order, err := lockOrder(ctx, w.tx, orderID)
		if err != nil {
			return AllocateOrderResult{}, err
		}
		if err := checkAllocatable(order, "allocate"); err != nil {
			return AllocateOrderResult{}, err
		}

		products := make([]ledger.ProductID, 0, len(order.Lines))
		for _, l := range order.Lines {
			products = append(products, l.ProductID)
		}
		if err := lockProducts(ctx, w.tx, products); err != nil {
			return AllocateOrderResult{}, err
		}

		res := AllocateOrderResult{FullyAllocated: true, TotalAllocated: decimal.Zero}
		for i := range order.Lines {
			got, err := w.allocateLine(ctx, order, &order.Lines[i])
			if err != nil {
				return AllocateOrderResult{}, err
			}
			res.TotalAllocated = res.TotalAllocated.Add(got)
			if !order.Lines[i].Covered() {
				res.FullyAllocated = false
			}
		}
		if err := w.resolve(ctx, order); err != nil {
			return AllocateOrderResult{}, err
		}
		return res, nil
	})
}

// =============================================================================
// ALLOCATION CORE
// =============================================================================

func (w *writer) allocateLine(ctx context.Context, order *SalesOrder, line *SalesOrderLine) (decimal.Decimal, error) {
	needed := line.Unallocated()
	if !needed.IsPositive() {
		return decimal.Zero, nil
	}

	takes, err := w.reserveFree(ctx, line.ProductID, needed, ledger.Reference{
		Type: ledger.RefOrder, ID: order.ID, LineID: line.ID,
	}, "allocation")
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, t := range takes {
		total = total.Add(t.qty)
		w.emit(Event{
			Type: EventLineAllocated, OrderID: order.ID, LineID: line.ID,
			ProductID: line.ProductID, LocationID: t.location, Quantity: qty(t.qty),
		})
	}
	if total.IsZero() {
		return total, nil
	}
	line.Allocated = line.Allocated.Add(total)
	return total, w.tx.SaveLine(ctx, *line)
}

type take struct {
	location ledger.LocationID
	qty      decimal.Decimal
}

// reserveFree reserves up to want units of free stock from ranked
// sellable bins under ref and reports what it took per location.
func (w *writer) reserveFree(ctx context.Context, product ledger.ProductID, want decimal.Decimal, ref ledger.Reference, reason string) ([]take, error) {
	bins, err := sellableBins(ctx, w.tx, product)
	if err != nil {
		return nil, err
	}

	var takes []take
	for _, b := range bins {
		if !want.IsPositive() {
			break
		}
		n := decimal.Min(b.Available(), want)
		err := w.append(ctx, ledger.Entry{
			ProductID:     product,
			LocationID:    b.LocationID,
			Kind:          ledger.KindReserve,
			OnHandDelta:   decimal.Zero,
			ReservedDelta: n,
			OnOrderDelta:  decimal.Zero,
			Reference:     ref,
			Reason:        reason,
		})
		if err != nil {
			return nil, err
		}
		takes = append(takes, take{location: b.LocationID, qty: n})
		want = want.Sub(n)
	}
	return takes, nil
}

// sellableBins locks the product's snapshots and returns the sellable ones
// with free stock, ranked for allocation.
func sellableBins(ctx context.Context, tx Tx, product ledger.ProductID) ([]ledger.Snapshot, error) {
	snaps, err := tx.LockProductSnapshots(ctx, product)
	if err != nil {
		return nil, err
	}
	locs, err := tx.Locations(ctx)
	if err != nil {
		return nil, err
	}
	sellable := make(map[ledger.LocationID]bool, len(locs))
	for _, l := range locs {
		sellable[l.ID] = l.Sellable
	}

	bins := make([]ledger.Snapshot, 0, len(snaps))
	for _, s := range snaps {
		if sellable[s.LocationID] && s.Available().IsPositive() {
			bins = append(bins, s)
		}
	}
	RankBins(bins)
	return bins, nil
}

// RankBins orders snapshots by available quantity descending, breaking
// ties by ascending location id.
func RankBins(bins []ledger.Snapshot) {
	sort.SliceStable(bins, func(i, j int) bool {
		ai, aj := bins[i].Available(), bins[j].Available()
		if !ai.Equal(aj) {
			return ai.GreaterThan(aj)
		}
		return bins[i].LocationID < bins[j].LocationID
	})
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

func lockOrder(ctx context.Context, tx Tx, id string) (*SalesOrder, error) {
	order, err := tx.LockOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ledger.NotFound("order", id)
	}
	return order, nil
}

func lockOrderForLine(ctx context.Context, tx Tx, lineID string) (*SalesOrder, error) {
	orderID, err := tx.OrderIDForLine(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if orderID == "" {
		return nil, ledger.NotFound("order line", lineID)
	}
	order, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Line(lineID) == nil {
		return nil, ledger.NotFound("order line", lineID)
	}
	return order, nil
}

// lockFulfillment locks the owning order first, then the fulfillment.
func lockFulfillment(ctx context.Context, tx Tx, id string) (*SalesOrder, *Fulfillment, error) {
	orderID, err := tx.FulfillmentOrderID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if orderID == "" {
		return nil, nil, ledger.NotFound("fulfillment", id)
	}
	order, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, nil, err
	}
	f, err := tx.LockFulfillment(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if f == nil {
		return nil, nil, ledger.NotFound("fulfillment", id)
	}
	return order, f, nil
}

// lockProducts takes snapshot locks for several products in ascending
// product order.
func lockProducts(ctx context.Context, tx Tx, products []ledger.ProductID) error {
	seen := make(map[ledger.ProductID]bool, len(products))
	unique := make([]ledger.ProductID, 0, len(products))
	for _, p := range products {
		if !seen[p] {
			seen[p] = true
			unique = append(unique, p)
		}
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i] < unique[j] })
	for _, p := range unique {
		if _, err := tx.LockProductSnapshots(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func checkAllocatable(o *SalesOrder, action string) error {
	if o.Status == OrderDraft || o.Status == OrderCancelled {
		return orderStateError(o, action)
	}
	return nil
}

// resolve re-derives the order status and persists it when it changed.
func (w *writer) resolve(ctx context.Context, order *SalesOrder) error {
	fs, err := w.tx.FulfillmentsByOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	next := ResolveStatus(order.Status, order.Lines, fs)
	if next == order.Status {
		return nil
	}
	return w.setStatus(ctx, order, next)
}

func (w *writer) setStatus(ctx context.Context, order *SalesOrder, next OrderStatus) error {
	if err := w.tx.SaveOrderStatus(ctx, order.ID, next, w.now); err != nil {
		return err
	}
	order.Status = next
	order.UpdatedAt = w.now
	w.emit(Event{Type: EventOrderStatusChanged, OrderID: order.ID, Status: string(next)})
	return nil
}
