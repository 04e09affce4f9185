/*
Package storetest is a conformance suite every inventory.Store backend
runs from its own tests.

USAGE:
  func TestConformance(t *testing.T) {
      storetest.Run(t, func(t *testing.T) inventory.Store {
          s, err := sqlite.New(":memory:")
          require.NoError(t, err)
          t.Cleanup(func() { s.Close() })
          return s
      })
  }

Each subtest gets a fresh store from the factory.
*/
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/ledger"
)

// Factory returns an empty store.
type Factory func(t *testing.T) inventory.Store

func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s inventory.Store)
	}{
		{"EntriesRoundTrip", testEntriesRoundTrip},
		{"DuplicateEntryKey", testDuplicateEntryKey},
		{"RollbackOnError", testRollbackOnError},
		{"ConcurrentFirstWrites", testConcurrentFirstWrites},
		{"SnapshotsOrderedByLocation", testSnapshotsOrdered},
		{"SingleDefaultLocation", testSingleDefaultLocation},
		{"Orders", testOrders},
		{"Fulfillments", testFulfillments},
		{"Operations", testOperations},
		{"ServiceFlow", testServiceFlow},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

var at = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func appendEntries(ctx context.Context, s inventory.Store, entries ...ledger.Entry) error {
	l := ledger.New(ledger.WithClock(func() time.Time { return at }))
	return s.WithTx(ctx, func(tx inventory.Tx) error {
		for _, e := range entries {
			if _, err := l.Append(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func receipt(loc string, n string) ledger.Entry {
	return ledger.Entry{
		ProductID:     "P-1",
		LocationID:    ledger.LocationID(loc),
		Kind:          ledger.KindReceipt,
		OnHandDelta:   qty(n),
		ReservedDelta: decimal.Zero,
		OnOrderDelta:  decimal.Zero,
		Reference:     ledger.Reference{Type: ledger.RefReceipt, ID: "R-" + loc},
		Reason:        "receipt",
	}
}

// =============================================================================
// LEDGER
// =============================================================================

func testEntriesRoundTrip(t *testing.T, s inventory.Store) {
	ctx := context.Background()

	reserve := ledger.Entry{
		ProductID:      "P-1",
		LocationID:     "BIN-A",
		Kind:           ledger.KindReserve,
		OnHandDelta:    decimal.Zero,
		ReservedDelta:  qty("2.5"),
		OnOrderDelta:   decimal.Zero,
		Reference:      ledger.Reference{Type: ledger.RefOrder, ID: "SO-1", LineID: "L-1"},
		Reason:         "allocation",
		IdempotencyKey: "k#1",
	}
	require.NoError(t, appendEntries(ctx, s, receipt("BIN-A", "10.25"), reserve, receipt("BIN-B", "1")))

	all, err := s.Entries(ctx, ledger.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Less(t, all[0].Seq, all[1].Seq)
	assert.Less(t, all[1].Seq, all[2].Seq)
	assert.True(t, all[0].OnHandDelta.Equal(qty("10.25")), "decimal must round-trip exactly")
	assert.True(t, all[0].CreatedAt.Equal(at))

	byLine, err := s.Entries(ctx, ledger.EntryFilter{ReferenceType: ledger.RefOrder, ReferenceID: "SO-1", LineID: "L-1"})
	require.NoError(t, err)
	require.Len(t, byLine, 1)
	got := byLine[0]
	assert.Equal(t, ledger.KindReserve, got.Kind)
	assert.True(t, got.ReservedDelta.Equal(qty("2.5")))
	assert.Equal(t, "k#1", got.IdempotencyKey)
	assert.Equal(t, "allocation", got.Reason)

	receipts, err := s.Entries(ctx, ledger.EntryFilter{Kinds: []ledger.Kind{ledger.KindReceipt}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, ledger.LocationID("BIN-A"), receipts[0].LocationID)

	snap, err := s.Snapshot(ctx, ledger.Key{ProductID: "P-1", LocationID: "BIN-A"})
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.True(t, snap.OnHand.Equal(qty("10.25")))
	assert.True(t, snap.Reserved.Equal(qty("2.5")))

	missing, err := s.Snapshot(ctx, ledger.Key{ProductID: "P-9", LocationID: "BIN-A"})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testDuplicateEntryKey(t *testing.T, s inventory.Store) {
	ctx := context.Background()
	e := receipt("BIN-A", "1")
	e.IdempotencyKey = "dup#1"
	require.NoError(t, appendEntries(ctx, s, e))

	// InsertEntry itself must reject the key, not only EntryKeyExists.
	err := s.WithTx(ctx, func(tx inventory.Tx) error {
		e.ID = "other"
		e.CreatedAt = at
		return tx.InsertEntry(ctx, e)
	})
	assert.True(t, errors.Is(err, ledger.ErrDuplicateOperation), "got %v", err)
}

func testRollbackOnError(t *testing.T, s inventory.Store) {
	ctx := context.Background()
	boom := errors.New("boom")
	l := ledger.New()

	err := s.WithTx(ctx, func(tx inventory.Tx) error {
		if _, err := l.Append(ctx, tx, receipt("BIN-A", "5")); err != nil {
			return err
		}
		if err := tx.SaveOperation(ctx, inventory.Operation{Key: "op", Name: "x", Result: []byte("{}"), CreatedAt: at}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	entries, err := s.Entries(ctx, ledger.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
	snaps, err := s.Snapshots(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, snaps)
	op, err := s.Operation(ctx, "op")
	require.NoError(t, err)
	assert.Nil(t, op)
}

// Concurrent receipts into a key that has no snapshot row yet must all
// land; none may overwrite another's balance.
func testConcurrentFirstWrites(t *testing.T, s inventory.Store) {
	ctx := context.Background()
	amounts := []string{"5", "3", "2", "7"}

	var wg sync.WaitGroup
	errs := make([]error, len(amounts))
	for i, n := range amounts {
		wg.Add(1)
		go func(i int, n string) {
			defer wg.Done()
			errs[i] = appendEntries(ctx, s, receipt("NEW", n))
		}(i, n)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	snap, err := s.Snapshot(ctx, ledger.Key{ProductID: "P-1", LocationID: "NEW"})
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.True(t, snap.OnHand.Equal(qty("17")), "on_hand: %s", snap.OnHand)

	drifts, err := ledger.Verify(ctx, s)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func testSnapshotsOrdered(t *testing.T, s inventory.Store) {
	ctx := context.Background()
	require.NoError(t, appendEntries(ctx, s, receipt("BIN-C", "1"), receipt("BIN-A", "2"), receipt("BIN-B", "3")))

	snaps, err := s.Snapshots(ctx, "P-1")
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, ledger.LocationID("BIN-A"), snaps[0].LocationID)
	assert.Equal(t, ledger.LocationID("BIN-B"), snaps[1].LocationID)
	assert.Equal(t, ledger.LocationID("BIN-C"), snaps[2].LocationID)

	require.NoError(t, s.WithTx(ctx, func(tx inventory.Tx) error {
		locked, err := tx.LockProductSnapshots(ctx, "P-1")
		require.NoError(t, err)
		require.Len(t, locked, 3)
		assert.Equal(t, ledger.LocationID("BIN-A"), locked[0].LocationID)
		return nil
	}))
}

func testSingleDefaultLocation(t *testing.T, s inventory.Store) {
	ctx := context.Background()
	require.NoError(t, s.SaveLocation(ctx, inventory.Location{ID: "A", Name: "A", Sellable: true, IsDefault: true}))
	require.NoError(t, s.SaveLocation(ctx, inventory.Location{ID: "B", Name: "B", Sellable: false, IsDefault: true}))

	locs, err := s.Locations(ctx)
	require.NoError(t, err)
	require.Len(t, locs, 2)
	assert.Equal(t, ledger.LocationID("A"), locs[0].ID)
	assert.False(t, locs[0].IsDefault)
	assert.True(t, locs[1].IsDefault)
	assert.False(t, locs[1].Sellable)
}

// =============================================================================
// ORDERS / FULFILLMENTS / OPERATIONS
// =============================================================================

func sampleOrder() inventory.SalesOrder {
	return inventory.SalesOrder{
		ID:        "SO-1",
		Reference: "ext-1",
		Status:    inventory.OrderConfirmed,
		CreatedAt: at,
		UpdatedAt: at,
		Lines: []inventory.SalesOrderLine{
			{ID: "L-2", OrderID: "SO-1", Position: 2, ProductID: "P-2", Ordered: qty("1"), Allocated: decimal.Zero, Fulfilled: decimal.Zero},
			{ID: "L-1", OrderID: "SO-1", Position: 1, ProductID: "P-1", Ordered: qty("6"), Allocated: decimal.Zero, Fulfilled: decimal.Zero},
		},
	}
}

func testOrders(t *testing.T, s inventory.Store) {
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx inventory.Tx) error {
		return tx.InsertOrder(ctx, sampleOrder())
	}))

	require.NoError(t, s.WithTx(ctx, func(tx inventory.Tx) error {
		id, err := tx.OrderIDForLine(ctx, "L-1")
		require.NoError(t, err)
		assert.Equal(t, "SO-1", id)

		none, err := tx.OrderIDForLine(ctx, "L-404")
		require.NoError(t, err)
		assert.Empty(t, none)

		o, err := tx.LockOrder(ctx, "SO-1")
		require.NoError(t, err)
		require.NotNil(t, o)
		l := o.Line("L-1")
		require.NotNil(t, l)
		l.Allocated = qty("4")
		l.Fulfilled = qty("2")
		if err := tx.SaveLine(ctx, *l); err != nil {
			return err
		}
		return tx.SaveOrderStatus(ctx, "SO-1", inventory.OrderPartiallyShipped, at.Add(time.Hour))
	}))

	o, err := s.Order(ctx, "SO-1")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, inventory.OrderPartiallyShipped, o.Status)
	assert.Equal(t, "ext-1", o.Reference)
	require.Len(t, o.Lines, 2)
	assert.Equal(t, "L-1", o.Lines[0].ID, "lines come back by position")
	assert.True(t, o.Lines[0].Allocated.Equal(qty("4")))
	assert.True(t, o.Lines[0].Fulfilled.Equal(qty("2")))
	assert.True(t, o.UpdatedAt.Equal(at.Add(time.Hour)))

	ids, err := s.OrderIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"SO-1"}, ids)

	missing, err := s.Order(ctx, "SO-404")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testFulfillments(t *testing.T, s inventory.Store) {
	ctx := context.Background()
	f := inventory.Fulfillment{
		ID:        "F-1",
		OrderID:   "SO-1",
		Status:    inventory.FulfillmentDraft,
		CreatedAt: at,
		UpdatedAt: at,
		Lines: []inventory.FulfillmentLine{
			{ID: "FL-1", FulfillmentID: "F-1", OrderLineID: "L-1", ProductID: "P-1", LocationID: "BIN-A", Quantity: qty("4")},
			{ID: "FL-2", FulfillmentID: "F-1", OrderLineID: "L-1", ProductID: "P-1", Quantity: qty("1")},
		},
	}
	require.NoError(t, s.WithTx(ctx, func(tx inventory.Tx) error {
		if err := tx.InsertOrder(ctx, sampleOrder()); err != nil {
			return err
		}
		return tx.InsertFulfillment(ctx, f)
	}))

	shipped := at.Add(2 * time.Hour)
	require.NoError(t, s.WithTx(ctx, func(tx inventory.Tx) error {
		orderID, err := tx.FulfillmentOrderID(ctx, "F-1")
		require.NoError(t, err)
		assert.Equal(t, "SO-1", orderID)

		locked, err := tx.LockFulfillment(ctx, "F-1")
		require.NoError(t, err)
		require.NotNil(t, locked)
		locked.Status = inventory.FulfillmentShipped
		locked.ShippedAt = &shipped
		locked.UpdatedAt = shipped
		return tx.UpdateFulfillment(ctx, *locked)
	}))

	got, err := s.Fulfillment(ctx, "F-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, inventory.FulfillmentShipped, got.Status)
	require.NotNil(t, got.ShippedAt)
	assert.True(t, got.ShippedAt.Equal(shipped))
	require.Len(t, got.Lines, 2)

	var backorders int
	for _, l := range got.Lines {
		if l.Backorder() {
			backorders++
			assert.True(t, l.Quantity.Equal(qty("1")))
		}
	}
	assert.Equal(t, 1, backorders)

	list, err := s.Fulfillments(ctx, "SO-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	missing, err := s.Fulfillment(ctx, "F-404")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testOperations(t *testing.T, s inventory.Store) {
	ctx := context.Background()
	op := inventory.Operation{Key: "op-1", Name: "allocate_line", Result: []byte(`{"allocated_now":"6"}`), CreatedAt: at}

	require.NoError(t, s.WithTx(ctx, func(tx inventory.Tx) error {
		return tx.SaveOperation(ctx, op)
	}))
	err := s.WithTx(ctx, func(tx inventory.Tx) error {
		return tx.SaveOperation(ctx, op)
	})
	assert.True(t, errors.Is(err, ledger.ErrDuplicateOperation), "got %v", err)

	got, err := s.Operation(ctx, "op-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "allocate_line", got.Name)
	assert.JSONEq(t, string(op.Result), string(got.Result))
}

// =============================================================================
// END TO END
// =============================================================================

func testServiceFlow(t *testing.T, s inventory.Store) {
	ctx := context.Background()
	svc := inventory.NewService(s)

	require.NoError(t, svc.SaveLocation(ctx, inventory.Location{ID: "X", Sellable: true, IsDefault: true}))
	require.NoError(t, svc.BookReceipt(ctx, inventory.Receipt{ProductID: "P", LocationID: "X", Quantity: qty("10")}, "rcpt"))

	o, err := svc.CreateOrder(ctx, inventory.NewOrder{
		Lines:   []inventory.NewOrderLine{{ProductID: "P", Quantity: qty("6")}},
		Confirm: true,
	}, "order")
	require.NoError(t, err)

	res, err := svc.AllocateOrder(ctx, o.ID, "alloc")
	require.NoError(t, err)
	assert.True(t, res.FullyAllocated)

	fid, err := svc.CreateFulfillment(ctx, o.ID, []inventory.FulfillmentItem{{LineID: o.Lines[0].ID, Quantity: qty("4")}}, "ful")
	require.NoError(t, err)
	require.NoError(t, svc.ShipFulfillment(ctx, fid, "ship"))

	snap, err := svc.Snapshot(ctx, ledger.Key{ProductID: "P", LocationID: "X"})
	require.NoError(t, err)
	assert.True(t, snap.OnHand.Equal(qty("6")))
	assert.True(t, snap.Reserved.Equal(qty("2")))

	// Retried ship replays
	require.NoError(t, svc.ShipFulfillment(ctx, fid, "ship"))

	require.NoError(t, svc.RevertFulfillmentShipment(ctx, fid, "revert"))
	snap, err = svc.Snapshot(ctx, ledger.Key{ProductID: "P", LocationID: "X"})
	require.NoError(t, err)
	assert.True(t, snap.OnHand.Equal(qty("10")))
	assert.True(t, snap.Reserved.Equal(qty("6")))

	got, err := svc.Order(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.OrderReserved, got.Status)
	assert.True(t, got.Lines[0].Allocated.Equal(qty("6")))
	assert.True(t, got.Lines[0].Fulfilled.IsZero())

	drifts, err := svc.VerifyLedger(ctx)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}
