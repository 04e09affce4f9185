package inventory

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/inventory-engine/ledger"
)

// =============================================================================
// RECONCILIATION - Counters and snapshots re-derived from the ledger
// =============================================================================

// RepairOrder recomputes every line's allocated and fulfilled counters
// from the ledger and re-resolves the order status:
//
//	allocated = order-bucket reserved + fulfillment-bucket reserved
//	fulfilled = sold through fulfillments - returned to the order
func (s *Service) RepairOrder(ctx context.Context, orderID, key string) (RepairResult, error) {
	return run(ctx, s, "repair_order", key, func(ctx context.Context, w *writer) (RepairResult, error) {
		order, err := lockOrder(ctx, w.tx, orderID)
		if err != nil {
			return RepairResult{}, err
		}

		allocated := make(map[string]decimal.Decimal)
		fulfilled := make(map[string]decimal.Decimal)

		orderEntries, err := w.tx.Entries(ctx, ledger.EntryFilter{ReferenceType: ledger.RefOrder, ReferenceID: order.ID})
		if err != nil {
			return RepairResult{}, err
		}
		for _, e := range orderEntries {
			line := e.Reference.LineID
			allocated[line] = allocated[line].Add(e.ReservedDelta)
			if e.Kind == ledger.KindReturn {
				fulfilled[line] = fulfilled[line].Sub(e.OnHandDelta)
			}
		}

		fs, err := w.tx.FulfillmentsByOrder(ctx, order.ID)
		if err != nil {
			return RepairResult{}, err
		}
		for _, f := range fs {
			entries, err := w.tx.Entries(ctx, ledger.EntryFilter{ReferenceType: ledger.RefFulfillment, ReferenceID: f.ID})
			if err != nil {
				return RepairResult{}, err
			}
			for _, e := range entries {
				line := e.Reference.LineID
				if e.Kind == ledger.KindSale {
					fulfilled[line] = fulfilled[line].Sub(e.OnHandDelta)
				}
				allocated[line] = allocated[line].Add(e.ReservedDelta)
			}
		}

		res := RepairResult{OrderID: order.ID}
		for i := range order.Lines {
			l := &order.Lines[i]
			wantAlloc := decimal.Max(decimal.Zero, allocated[l.ID])
			wantFul := decimal.Max(decimal.Zero, fulfilled[l.ID])
			if wantAlloc.Equal(l.Allocated) && wantFul.Equal(l.Fulfilled) {
				continue
			}
			res.Changed = append(res.Changed, LineRepair{
				LineID:          l.ID,
				AllocatedBefore: l.Allocated,
				AllocatedAfter:  wantAlloc,
				FulfilledBefore: l.Fulfilled,
				FulfilledAfter:  wantFul,
			})
			l.Allocated, l.Fulfilled = wantAlloc, wantFul
			if err := w.tx.SaveLine(ctx, *l); err != nil {
				return RepairResult{}, err
			}
		}

		if err := w.resolve(ctx, order); err != nil {
			return RepairResult{}, err
		}
		res.Status = order.Status
		if len(res.Changed) > 0 {
			w.emit(Event{Type: EventOrderRepaired, OrderID: order.ID, Status: string(order.Status)})
		}
		return res, nil
	})
}

// VerifyLedger lists snapshots that disagree with the fold of their entries.
func (s *Service) VerifyLedger(ctx context.Context) ([]ledger.Drift, error) {
	drifts, err := ledger.Verify(ctx, s.store)
	if err != nil {
		return nil, err
	}
	if len(drifts) > 0 {
		s.logger.WithFields(logrus.Fields{"module": "inventory", "drifts": len(drifts)}).
			Warn("snapshot drift detected")
	}
	return drifts, nil
}

// RebuildSnapshot re-folds one key from its history.
func (s *Service) RebuildSnapshot(ctx context.Context, k ledger.Key) (ledger.Snapshot, error) {
	var snap ledger.Snapshot
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		snap, err = s.ledger.Rebuild(ctx, tx, k)
		return err
	})
	if err != nil {
		return ledger.Snapshot{}, err
	}
	s.logger.WithFields(logrus.Fields{"module": "inventory", "key": k.String()}).Info("snapshot rebuilt")
	return snap, nil
}
