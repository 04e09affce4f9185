package inventory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/ledger"
	"github.com/warp/inventory-engine/notify"
	"github.com/warp/inventory-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	t      *testing.T
	ctx    context.Context
	svc    *inventory.Service
	store  *memory.Store
	events *notify.Recorder
}

func newFixture(t *testing.T, opts ...inventory.Option) *fixture {
	t.Helper()
	store := memory.New()
	events := &notify.Recorder{}
	opts = append([]inventory.Option{inventory.WithNotifier(events)}, opts...)
	return &fixture{
		t:      t,
		ctx:    context.Background(),
		svc:    inventory.NewService(store, opts...),
		store:  store,
		events: events,
	}
}

func q(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

func (f *fixture) location(id string, sellable bool) {
	f.t.Helper()
	require.NoError(f.t, f.svc.SaveLocation(f.ctx, inventory.Location{
		ID: ledger.LocationID(id), Sellable: sellable,
	}))
}

func (f *fixture) receive(product, loc string, n int64) {
	f.t.Helper()
	require.NoError(f.t, f.svc.BookReceipt(f.ctx, inventory.Receipt{
		ProductID: ledger.ProductID(product), LocationID: ledger.LocationID(loc), Quantity: q(n),
	}, ""))
}

// order creates a confirmed single-line order.
func (f *fixture) order(product string, n int64) inventory.SalesOrder {
	f.t.Helper()
	o, err := f.svc.CreateOrder(f.ctx, inventory.NewOrder{
		Reference: "SO-TEST",
		Lines:     []inventory.NewOrderLine{{ProductID: ledger.ProductID(product), Quantity: q(n)}},
		Confirm:   true,
	}, "")
	require.NoError(f.t, err)
	return o
}

func (f *fixture) snap(product, loc string) ledger.Snapshot {
	f.t.Helper()
	s, err := f.svc.Snapshot(f.ctx, ledger.Key{ProductID: ledger.ProductID(product), LocationID: ledger.LocationID(loc)})
	require.NoError(f.t, err)
	return s
}

func (f *fixture) reload(orderID string) *inventory.SalesOrder {
	f.t.Helper()
	o, err := f.svc.Order(f.ctx, orderID)
	require.NoError(f.t, err)
	return o
}

func (f *fixture) entryCount() int {
	f.t.Helper()
	entries, err := f.svc.Entries(f.ctx, ledger.EntryFilter{})
	require.NoError(f.t, err)
	return len(entries)
}

// assertConsistent checks the invariants every command must leave behind.
func (f *fixture) assertConsistent() {
	f.t.Helper()
	drifts, err := f.svc.VerifyLedger(f.ctx)
	require.NoError(f.t, err)
	assert.Empty(f.t, drifts, "snapshots must equal the ledger fold")

	ids, err := f.svc.OrderIDs(f.ctx)
	require.NoError(f.t, err)
	for _, id := range ids {
		for _, l := range f.reload(id).Lines {
			assert.False(f.t, l.Allocated.IsNegative(), "line %s allocated", l.ID)
			assert.True(f.t, l.Allocated.Add(l.Fulfilled).LessThanOrEqual(l.Ordered),
				"line %s: allocated %s + fulfilled %s > ordered %s", l.ID, l.Allocated, l.Fulfilled, l.Ordered)
		}
	}
}

func assertQty(t *testing.T, want int64, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, got.Equal(q(want)), "%s: want %d, got %s", msg, want, got)
}

// singleBin seeds 10 units of P at a sellable location X and an order
// line for n.
func singleBin(t *testing.T, n int64) (*fixture, inventory.SalesOrder) {
	f := newFixture(t)
	f.location("X", true)
	f.receive("P", "X", 10)
	return f, f.order("P", n)
}

// =============================================================================
// ACCEPTANCE SCENARIOS
// =============================================================================

func TestScenarioA_FullAllocation(t *testing.T) {
	// GIVEN: 10 on hand at X, line needs 6
	f, o := singleBin(t, 6)

	// WHEN: Allocating the line
	res, err := f.svc.AllocateLine(f.ctx, o.Lines[0].ID, "")

	// THEN: 6 allocated, fully allocated, available 4
	require.NoError(t, err)
	assertQty(t, 6, res.AllocatedNow, "allocated now")
	assert.True(t, res.FullyAllocated)

	s := f.snap("P", "X")
	assertQty(t, 10, s.OnHand, "on_hand")
	assertQty(t, 6, s.Reserved, "reserved")
	assertQty(t, 4, s.Available(), "available")

	got := f.reload(o.ID)
	assertQty(t, 6, got.Lines[0].Allocated, "line allocated")
	assert.Equal(t, inventory.OrderReserved, got.Status)
	f.assertConsistent()
}

func TestScenarioB_Shortfall(t *testing.T) {
	// GIVEN: 10 on hand at X, line needs 15
	f, o := singleBin(t, 15)

	// WHEN: Allocating the line
	res, err := f.svc.AllocateLine(f.ctx, o.Lines[0].ID, "")

	// THEN: Shortfall is a normal result, not an error
	require.NoError(t, err)
	assertQty(t, 10, res.AllocatedNow, "allocated now")
	assert.False(t, res.FullyAllocated)

	s := f.snap("P", "X")
	assertQty(t, 10, s.Reserved, "reserved")
	assertQty(t, 0, s.Available(), "available")

	got := f.reload(o.ID)
	assertQty(t, 10, got.Lines[0].Allocated, "line allocated")
	assert.Equal(t, inventory.OrderAwaitingStock, got.Status)
	f.assertConsistent()
}

func TestScenarioC_RevertAllocation(t *testing.T) {
	// GIVEN: Scenario A
	f, o := singleBin(t, 6)
	_, err := f.svc.AllocateLine(f.ctx, o.Lines[0].ID, "")
	require.NoError(t, err)

	// WHEN: Reverting the line's allocation
	res, err := f.svc.RevertLineAllocation(f.ctx, o.Lines[0].ID, "")

	// THEN: Everything released
	require.NoError(t, err)
	assertQty(t, 6, res.UnreservedQty, "unreserved")

	s := f.snap("P", "X")
	assertQty(t, 0, s.Reserved, "reserved")
	assertQty(t, 10, s.Available(), "available")

	got := f.reload(o.ID)
	assertQty(t, 0, got.Lines[0].Allocated, "line allocated")
	assert.Equal(t, inventory.OrderConfirmed, got.Status)
	f.assertConsistent()
}

// shipFour runs Scenario A, then creates and ships a fulfillment of 4.
func shipFour(t *testing.T) (*fixture, inventory.SalesOrder, string) {
	f, o := singleBin(t, 6)
	_, err := f.svc.AllocateLine(f.ctx, o.Lines[0].ID, "")
	require.NoError(t, err)

	fid, err := f.svc.CreateFulfillment(f.ctx, o.ID, []inventory.FulfillmentItem{
		{LineID: o.Lines[0].ID, Quantity: q(4)},
	}, "")
	require.NoError(t, err)
	require.NoError(t, f.svc.ShipFulfillment(f.ctx, fid, ""))
	return f, o, fid
}

func TestScenarioD_PartialShipment(t *testing.T) {
	// GIVEN/WHEN: Scenario A, then 4 of the 6 reserved units shipped
	f, o, fid := shipFour(t)

	// THEN: 6 on hand, 2 still reserved to the order
	s := f.snap("P", "X")
	assertQty(t, 6, s.OnHand, "on_hand")
	assertQty(t, 2, s.Reserved, "reserved")

	got := f.reload(o.ID)
	assertQty(t, 4, got.Lines[0].Fulfilled, "line fulfilled")
	assertQty(t, 2, got.Lines[0].Allocated, "line allocated")
	assert.Equal(t, inventory.OrderPartiallyShipped, got.Status)

	ful, err := f.svc.Fulfillment(f.ctx, fid)
	require.NoError(t, err)
	assert.Equal(t, inventory.FulfillmentShipped, ful.Status)
	assert.NotNil(t, ful.ShippedAt)
	f.assertConsistent()
}

func TestScenarioE_RevertShipment(t *testing.T) {
	// GIVEN: Scenario D
	f, o, fid := shipFour(t)

	// WHEN: The shipment is reverted
	require.NoError(t, f.svc.RevertFulfillmentShipment(f.ctx, fid, ""))

	// THEN: State matches the pre-shipment state
	s := f.snap("P", "X")
	assertQty(t, 10, s.OnHand, "on_hand")
	assertQty(t, 6, s.Reserved, "reserved")

	got := f.reload(o.ID)
	assertQty(t, 0, got.Lines[0].Fulfilled, "line fulfilled")
	assertQty(t, 6, got.Lines[0].Allocated, "line allocated")
	assert.Equal(t, inventory.OrderReserved, got.Status)

	ful, err := f.svc.Fulfillment(f.ctx, fid)
	require.NoError(t, err)
	assert.Equal(t, inventory.FulfillmentCancelled, ful.Status)

	// Compensating entries, never deletions
	returns, err := f.svc.Entries(f.ctx, ledger.EntryFilter{Kinds: []ledger.Kind{ledger.KindReturn}})
	require.NoError(t, err)
	require.Len(t, returns, 1)
	assertQty(t, 4, returns[0].OnHandDelta, "return on_hand delta")
	f.assertConsistent()
}

// =============================================================================
// ALLOCATION
// =============================================================================

func multiBin(t *testing.T) *fixture {
	f := newFixture(t)
	f.location("BIN-A", true)
	f.location("BIN-B", true)
	f.location("BIN-C", true)
	f.location("QUARANTINE", false)
	f.receive("P", "BIN-A", 4)
	f.receive("P", "BIN-B", 7)
	f.receive("P", "BIN-C", 7)
	f.receive("P", "QUARANTINE", 50)
	return f
}

func TestAllocation_LargestBinFirstWithStableTieBreak(t *testing.T) {
	// GIVEN: BIN-A 4, BIN-B 7, BIN-C 7, QUARANTINE 50 (not sellable)
	f := multiBin(t)
	o := f.order("P", 12)

	// WHEN: Allocating 12
	res, err := f.svc.AllocateLine(f.ctx, o.Lines[0].ID, "")
	require.NoError(t, err)

	// THEN: 7 from BIN-B, 5 from BIN-C, nothing from quarantine
	assertQty(t, 12, res.AllocatedNow, "allocated now")
	assertQty(t, 7, f.snap("P", "BIN-B").Reserved, "BIN-B reserved")
	assertQty(t, 5, f.snap("P", "BIN-C").Reserved, "BIN-C reserved")
	assertQty(t, 0, f.snap("P", "BIN-A").Reserved, "BIN-A reserved")
	assertQty(t, 0, f.snap("P", "QUARANTINE").Reserved, "QUARANTINE reserved")
	f.assertConsistent()
}

func TestAllocation_IsDeterministic(t *testing.T) {
	pick := func() []ledger.LocationID {
		f := multiBin(t)
		o := f.order("P", 9)
		_, err := f.svc.AllocateLine(f.ctx, o.Lines[0].ID, "")
		require.NoError(t, err)

		reserves, err := f.svc.Entries(f.ctx, ledger.EntryFilter{Kinds: []ledger.Kind{ledger.KindReserve}})
		require.NoError(t, err)
		locs := make([]ledger.LocationID, len(reserves))
		for i, e := range reserves {
			locs[i] = e.LocationID
		}
		return locs
	}

	first := pick()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, pick())
	}
	assert.Equal(t, []ledger.LocationID{"BIN-B", "BIN-C"}, first)
}

func TestAllocation_NonSellableOnly(t *testing.T) {
	f := newFixture(t)
	f.location("QUARANTINE", false)
	f.receive("P", "QUARANTINE", 20)
	o := f.order("P", 5)

	res, err := f.svc.AllocateLine(f.ctx, o.Lines[0].ID, "")
	require.NoError(t, err)
	assert.True(t, res.AllocatedNow.IsZero())
	assert.False(t, res.FullyAllocated)
	assert.Equal(t, inventory.OrderConfirmed, f.reload(o.ID).Status)
}

func TestAllocation_AlreadyCoveredIsNoOp(t *testing.T) {
	f, o := singleBin(t, 6)
	_, err := f.svc.AllocateLine(f.ctx, o.Lines[0].ID, "")
	require.NoError(t, err)
	before := f.entryCount()

	res, err := f.svc.AllocateLine(f.ctx, o.Lines[0].ID, "")
	require.NoError(t, err)
	assert.True(t, res.AllocatedNow.IsZero())
	assert.True(t, res.FullyAllocated)
	assert.Equal(t, before, f.entryCount())
}

func TestAllocation_TopsUpAfterReceipt(t *testing.T) {
	// GIVEN: Scenario B (10 of 15 reserved)
	f, o := singleBin(t, 15)
	_, err := f.svc.AllocateLine(f.ctx, o.Lines[0].ID, "")
	require.NoError(t, err)

	// WHEN: 8 more arrive and the order is allocated again
	f.receive("P", "X", 8)
	res, err := f.svc.AllocateOrder(f.ctx, o.ID, "")

	// THEN: Only the missing 5 are reserved
	require.NoError(t, err)
	assertQty(t, 5, res.TotalAllocated, "total allocated")
	assert.True(t, res.FullyAllocated)
	assertQty(t, 3, f.snap("P", "X").Available(), "available")
	f.assertConsistent()
}

func TestAllocateOrder_MultipleLines(t *testing.T) {
	f := newFixture(t)
	f.location("X", true)
	f.receive("P", "X", 10)
	f.receive("Q", "X", 2)

	o, err := f.svc.CreateOrder(f.ctx, inventory.NewOrder{
		Lines: []inventory.NewOrderLine{
			{ProductID: "P", Quantity: q(4)},
			{ProductID: "Q", Quantity: q(3)},
		},
		Confirm: true,
	}, "")
	require.NoError(t, err)

	res, err := f.svc.AllocateOrder(f.ctx, o.ID, "")
	require.NoError(t, err)
	assertQty(t, 6, res.TotalAllocated, "total allocated")
	assert.False(t, res.FullyAllocated)
	assert.Equal(t, inventory.OrderAwaitingStock, f.reload(o.ID).Status)
	f.assertConsistent()
}

func TestAllocation_RejectsDraftAndCancelledOrders(t *testing.T) {
	f := newFixture(t)
	f.location("X", true)
	f.receive("P", "X", 10)

	draft, err := f.svc.CreateOrder(f.ctx, inventory.NewOrder{
		Lines: []inventory.NewOrderLine{{ProductID: "P", Quantity: q(1)}},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, inventory.OrderDraft, draft.Status)

	_, err = f.svc.AllocateLine(f.ctx, draft.Lines[0].ID, "")
	assert.True(t, errors.Is(err, ledger.ErrIllegalStateTransition))

	require.NoError(t, f.svc.ConfirmOrder(f.ctx, draft.ID, ""))
	assert.True(t, errors.Is(f.svc.ConfirmOrder(f.ctx, draft.ID, ""), ledger.ErrIllegalStateTransition))

	require.NoError(t, f.svc.CancelOrder(f.ctx, draft.ID, ""))
	_, err = f.svc.AllocateOrder(f.ctx, draft.ID, "")
	assert.True(t, errors.Is(err, ledger.ErrIllegalStateTransition))
}

func TestAllocation_UnknownLine(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.AllocateLine(f.ctx, "missing", "")
	assert.True(t, errors.Is(err, ledger.ErrNotFound))
}

func TestAllocation_ConcurrentCallsNeverOverAllocate(t *testing.T) {
	// GIVEN: 10 on hand and two lines of 8 competing for it
	f := newFixture(t)
	f.location("X", true)
	f.receive("P", "X", 10)
	a := f.order("P", 8)
	b := f.order("P", 8)

	// WHEN: Both lines are allocated concurrently, several times over
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		for _, o := range []inventory.SalesOrder{a, b} {
			wg.Add(1)
			go func(lineID string) {
				defer wg.Done()
				_, err := f.svc.AllocateLine(f.ctx, lineID, "")
				assert.NoError(t, err)
			}(o.Lines[0].ID)
		}
	}
	wg.Wait()

	// THEN: Exactly 10 reserved across both lines
	s := f.snap("P", "X")
	assertQty(t, 10, s.Reserved, "reserved")
	total := f.reload(a.ID).Lines[0].Allocated.Add(f.reload(b.ID).Lines[0].Allocated)
	assertQty(t, 10, total, "allocated across lines")
	f.assertConsistent()
}

// =============================================================================
// FULFILLMENT
// =============================================================================

func TestFulfillment_MovesOrderReservation(t *testing.T) {
	f, o := singleBin(t, 6)
	_, err := f.svc.AllocateLine(f.ctx, o.Lines[0].ID, "")
	require.NoError(t, err)

	fid, err := f.svc.CreateFulfillment(f.ctx, o.ID, []inventory.FulfillmentItem{
		{LineID: o.Lines[0].ID, Quantity: q(4)},
	}, "")
	require.NoError(t, err)

	// Total reserved is unchanged, the fulfillment bucket holds 4
	assertQty(t, 6, f.snap("P", "X").Reserved, "reserved")
	held, err := f.svc.Entries(f.ctx, ledger.EntryFilter{ReferenceType: ledger.RefFulfillment, ReferenceID: fid})
	require.NoError(t, err)
	sum := decimal.Zero
	for _, e := range held {
		sum = sum.Add(e.ReservedDelta)
	}
	assertQty(t, 4, sum, "fulfillment bucket")

	ful, err := f.svc.Fulfillment(f.ctx, fid)
	require.NoError(t, err)
	require.Len(t, ful.Lines, 1)
	assert.Equal(t, ledger.LocationID("X"), ful.Lines[0].LocationID)
	assert.Equal(t, inventory.FulfillmentDraft, ful.Status)
	assert.Equal(t, inventory.OrderPicking, f.reload(o.ID).Status)
	f.assertConsistent()
}

func TestFulfillment_TopsUpFromFreeStock(t *testing.T) {
	// GIVEN: Nothing allocated yet
	f, o := singleBin(t, 6)

	// WHEN: Fulfilling the whole line directly
	fid, err := f.svc.CreateFulfillment(f.ctx, o.ID, []inventory.FulfillmentItem{
		{LineID: o.Lines[0].ID, Quantity: q(6)},
	}, "")
	require.NoError(t, err)

	// THEN: Free stock is reserved for the fulfillment and counted on the line
	assertQty(t, 6, f.snap("P", "X").Reserved, "reserved")
	assertQty(t, 6, f.reload(o.ID).Lines[0].Allocated, "line allocated")

	require.NoError(t, f.svc.ShipFulfillment(f.ctx, fid, ""))
	got := f.reload(o.ID)
	assert.Equal(t, inventory.OrderCompleted, got.Status)
	assertQty(t, 0, got.Lines[0].Allocated, "line allocated after ship")
	assertQty(t, 4, f.snap("P", "X").OnHand, "on_hand")
	f.assertConsistent()
}

func TestFulfillment_BackordersWhatCannotBeSourced(t *testing.T) {
	// GIVEN: Scenario B (10 of 15 reserved)
	f, o := singleBin(t, 15)
	_, err := f.svc.AllocateLine(f.ctx, o.Lines[0].ID, "")
	require.NoError(t, err)

	// WHEN: Fulfilling all 15
	fid, err := f.svc.CreateFulfillment(f.ctx, o.ID, []inventory.FulfillmentItem{
		{LineID: o.Lines[0].ID, Quantity: q(15)},
	}, "")
	require.NoError(t, err)

	// THEN: 10 located at X, 5 backordered
	ful, err := f.svc.Fulfillment(f.ctx, fid)
	require.NoError(t, err)
	require.Len(t, ful.Lines, 2)
	assertQty(t, 10, ful.Lines[0].Quantity, "located")
	assert.True(t, ful.Lines[1].Backorder())
	assertQty(t, 5, ful.Lines[1].Quantity, "backorder")

	// Shipping only consumes the located part
	require.NoError(t, f.svc.ShipFulfillment(f.ctx, fid, ""))
	got := f.reload(o.ID)
	assertQty(t, 10, got.Lines[0].Fulfilled, "fulfilled")
	assert.Equal(t, inventory.OrderPartiallyShipped, got.Status)
	assertQty(t, 0, f.snap("P", "X").OnHand, "on_hand")
	f.assertConsistent()
}

func TestFulfillment_RejectsMoreThanOpen(t *testing.T) {
	f, o := singleBin(t, 6)
	_, err := f.svc.CreateFulfillment(f.ctx, o.ID, []inventory.FulfillmentItem{
		{LineID: o.Lines[0].ID, Quantity: q(4)},
	}, "")
	require.NoError(t, err)

	// 4 already held by the first fulfillment, only 2 open
	_, err = f.svc.CreateFulfillment(f.ctx, o.ID, []inventory.FulfillmentItem{
		{LineID: o.Lines[0].ID, Quantity: q(3)},
	}, "")
	assert.True(t, errors.Is(err, ledger.ErrInvalidArgument))

	_, err = f.svc.CreateFulfillment(f.ctx, o.ID, nil, "")
	assert.True(t, errors.Is(err, ledger.ErrInvalidArgument))

	_, err = f.svc.CreateFulfillment(f.ctx, o.ID, []inventory.FulfillmentItem{
		{LineID: "nope", Quantity: q(1)},
	}, "")
	assert.True(t, errors.Is(err, ledger.ErrNotFound))
}

func TestFulfillment_CancelReturnsReservationToOrder(t *testing.T) {
	f, o := singleBin(t, 6)
	_, err := f.svc.AllocateLine(f.ctx, o.Lines[0].ID, "")
	require.NoError(t, err)
	fid, err := f.svc.CreateFulfillment(f.ctx, o.ID, []inventory.FulfillmentItem{
		{LineID: o.Lines[0].ID, Quantity: q(4)},
	}, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.CancelFulfillment(f.ctx, fid, ""))

	assertQty(t, 6, f.snap("P", "X").Reserved, "reserved")
	got := f.reload(o.ID)
	assertQty(t, 6, got.Lines[0].Allocated, "line allocated")
	assert.Equal(t, inventory.OrderReserved, got.Status)

	// The whole 6 can be reverted from the order bucket again
	res, err := f.svc.RevertLineAllocation(f.ctx, o.Lines[0].ID, "")
	require.NoError(t, err)
	assertQty(t, 6, res.UnreservedQty, "unreserved")

	// Cancelled fulfillments stay cancelled
	assert.True(t, errors.Is(f.svc.CancelFulfillment(f.ctx, fid, ""), ledger.ErrIllegalStateTransition))
	f.assertConsistent()
}

func TestFulfillment_Lifecycle(t *testing.T) {
	f, o := singleBin(t, 6)
	fid, err := f.svc.CreateFulfillment(f.ctx, o.ID, []inventory.FulfillmentItem{
		{LineID: o.Lines[0].ID, Quantity: q(6)},
	}, "")
	require.NoError(t, err)

	// Skipping a step is illegal
	err = f.svc.AdvanceFulfillment(f.ctx, fid, inventory.FulfillmentPacked, "")
	assert.True(t, errors.Is(err, ledger.ErrIllegalStateTransition))

	require.NoError(t, f.svc.AdvanceFulfillment(f.ctx, fid, inventory.FulfillmentPicking, ""))
	require.NoError(t, f.svc.AdvanceFulfillment(f.ctx, fid, inventory.FulfillmentPacked, ""))
	require.NoError(t, f.svc.ShipFulfillment(f.ctx, fid, ""))

	// Shipping twice, cancelling after shipment
	assert.True(t, errors.Is(f.svc.ShipFulfillment(f.ctx, fid, ""), ledger.ErrIllegalStateTransition))
	assert.True(t, errors.Is(f.svc.CancelFulfillment(f.ctx, fid, ""), ledger.ErrIllegalStateTransition))

	// Reverting twice
	require.NoError(t, f.svc.RevertFulfillmentShipment(f.ctx, fid, ""))
	assert.True(t, errors.Is(f.svc.RevertFulfillmentShipment(f.ctx, fid, ""), ledger.ErrIllegalStateTransition))

	list, err := f.svc.Fulfillments(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	f.assertConsistent()
}

func TestRevertShipment_ReturnsToOriginLocation(t *testing.T) {
	// GIVEN: A shipped fulfillment from X, default location RETURNS
	f, o, fid := shipFour(t)
	require.NoError(t, f.svc.SaveLocation(f.ctx, inventory.Location{ID: "RETURNS", Sellable: true, IsDefault: true}))

	// WHEN: Reverted
	require.NoError(t, f.svc.RevertFulfillmentShipment(f.ctx, fid, ""))

	// THEN: History explains all 4 units, so they go back to X
	assertQty(t, 10, f.snap("P", "X").OnHand, "X on_hand")
	assertQty(t, 0, f.snap("P", "RETURNS").OnHand, "RETURNS on_hand")
	assertQty(t, 0, f.reload(o.ID).Lines[0].Fulfilled, "fulfilled")
	f.assertConsistent()
}

// shippedWithoutHistory stores a shipped fulfillment of n units of the
// order's first line at X that has no sale entries behind it.
func (f *fixture) shippedWithoutHistory(o inventory.SalesOrder, id string, n int64) {
	f.t.Helper()
	now := time.Now().UTC()
	require.NoError(f.t, f.store.WithTx(f.ctx, func(tx inventory.Tx) error {
		return tx.InsertFulfillment(f.ctx, inventory.Fulfillment{
			ID:      id,
			OrderID: o.ID,
			Status:  inventory.FulfillmentShipped,
			Lines: []inventory.FulfillmentLine{{
				ID: id + "-1", FulfillmentID: id, OrderLineID: o.Lines[0].ID,
				ProductID: "P", LocationID: "X", Quantity: q(n),
			}},
			CreatedAt: now,
			UpdatedAt: now,
			ShippedAt: &now,
		})
	}))
}

func TestRevertShipment_UnexplainedUnitsGoToDefaultLocation(t *testing.T) {
	// GIVEN: 4 shipped from X, plus a shipped fulfillment of 2 that no sale explains
	f, o, _ := shipFour(t)
	require.NoError(t, f.svc.SaveLocation(f.ctx, inventory.Location{ID: "RETURNS", Sellable: true, IsDefault: true}))
	f.shippedWithoutHistory(o, "F-EXTRA", 2)

	// WHEN: The unexplained fulfillment is reverted
	require.NoError(t, f.svc.RevertFulfillmentShipment(f.ctx, "F-EXTRA", ""))

	// THEN: Both units land on the default location, reserved for the line
	returns := f.snap("P", "RETURNS")
	assertQty(t, 2, returns.OnHand, "RETURNS on_hand")
	assertQty(t, 2, returns.Reserved, "RETURNS reserved")
	x := f.snap("P", "X")
	assertQty(t, 6, x.OnHand, "X on_hand")
	assertQty(t, 2, x.Reserved, "X reserved")

	got := f.reload(o.ID)
	assertQty(t, 2, got.Lines[0].Fulfilled, "fulfilled")
	assertQty(t, 4, got.Lines[0].Allocated, "allocated")
	ful, err := f.svc.Fulfillment(f.ctx, "F-EXTRA")
	require.NoError(t, err)
	assert.Equal(t, inventory.FulfillmentCancelled, ful.Status)
	f.assertConsistent()
}

func TestRevertShipment_UnexplainedUnitsWithoutDefaultStayOnLineLocation(t *testing.T) {
	// GIVEN: Same as above but no default location exists
	f, o, _ := shipFour(t)
	f.shippedWithoutHistory(o, "F-EXTRA", 2)

	// WHEN: Reverted
	require.NoError(t, f.svc.RevertFulfillmentShipment(f.ctx, "F-EXTRA", ""))

	// THEN: The units go back to the fulfillment line's own location
	x := f.snap("P", "X")
	assertQty(t, 8, x.OnHand, "X on_hand")
	assertQty(t, 4, x.Reserved, "X reserved")
	assertQty(t, 4, f.reload(o.ID).Lines[0].Allocated, "allocated")
	f.assertConsistent()
}

// =============================================================================
// ORDER LIFECYCLE
// =============================================================================

func TestCancelOrder_ReleasesEverything(t *testing.T) {
	f, o := singleBin(t, 6)
	_, err := f.svc.AllocateLine(f.ctx, o.Lines[0].ID, "")
	require.NoError(t, err)
	fid, err := f.svc.CreateFulfillment(f.ctx, o.ID, []inventory.FulfillmentItem{
		{LineID: o.Lines[0].ID, Quantity: q(2)},
	}, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.CancelOrder(f.ctx, o.ID, ""))

	assertQty(t, 0, f.snap("P", "X").Reserved, "reserved")
	got := f.reload(o.ID)
	assert.Equal(t, inventory.OrderCancelled, got.Status)
	assertQty(t, 0, got.Lines[0].Allocated, "line allocated")

	ful, err := f.svc.Fulfillment(f.ctx, fid)
	require.NoError(t, err)
	assert.Equal(t, inventory.FulfillmentCancelled, ful.Status)
	f.assertConsistent()
}

func TestCancelOrder_RejectedAfterShipment(t *testing.T) {
	f, o, _ := shipFour(t)
	err := f.svc.CancelOrder(f.ctx, o.ID, "")
	assert.True(t, errors.Is(err, ledger.ErrIllegalStateTransition))
	assert.Equal(t, inventory.OrderPartiallyShipped, f.reload(o.ID).Status)
}

func TestCreateOrder_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateOrder(f.ctx, inventory.NewOrder{}, "")
	assert.True(t, errors.Is(err, ledger.ErrInvalidArgument))

	_, err = f.svc.CreateOrder(f.ctx, inventory.NewOrder{
		Lines: []inventory.NewOrderLine{{ProductID: "P", Quantity: q(0)}},
	}, "")
	assert.True(t, errors.Is(err, ledger.ErrInvalidArgument))

	_, err = f.svc.Order(f.ctx, "missing")
	assert.True(t, errors.Is(err, ledger.ErrNotFound))
}

// =============================================================================
// STOCK MOVEMENTS
// =============================================================================

func TestReceipt_ConsumesOnOrder(t *testing.T) {
	f := newFixture(t)
	f.location("X", true)
	require.NoError(t, f.svc.ExpectSupply(f.ctx, inventory.Supply{
		ProductID: "P", LocationID: "X", Quantity: q(20), PurchaseRef: "PO-1",
	}, ""))

	require.NoError(t, f.svc.BookReceipt(f.ctx, inventory.Receipt{
		ProductID: "P", LocationID: "X", Quantity: q(3), ReferenceID: "PO-1",
	}, ""))

	s := f.snap("P", "X")
	assertQty(t, 3, s.OnHand, "on_hand")
	assertQty(t, 17, s.OnOrder, "on_order")

	// Receiving more than was on order clamps on_order at zero
	require.NoError(t, f.svc.BookReceipt(f.ctx, inventory.Receipt{
		ProductID: "P", LocationID: "X", Quantity: q(30), ReferenceID: "PO-1",
	}, ""))
	s = f.snap("P", "X")
	assertQty(t, 33, s.OnHand, "on_hand")
	assertQty(t, 0, s.OnOrder, "on_order")
	f.assertConsistent()
}

func TestReceipt_UnknownLocation(t *testing.T) {
	f := newFixture(t)
	err := f.svc.BookReceipt(f.ctx, inventory.Receipt{ProductID: "P", LocationID: "NOPE", Quantity: q(1)}, "")
	assert.True(t, errors.Is(err, ledger.ErrNotFound))
}

func TestTransfer_MovesOnlyFreeStock(t *testing.T) {
	// GIVEN: Scenario A (10 on hand, 6 reserved at X)
	f, o := singleBin(t, 6)
	f.location("Y", true)
	_, err := f.svc.AllocateLine(f.ctx, o.Lines[0].ID, "")
	require.NoError(t, err)

	// WHEN: Moving 5 (only 4 free)
	err = f.svc.TransferStock(f.ctx, inventory.Transfer{ProductID: "P", From: "X", To: "Y", Quantity: q(5)}, "")

	// THEN: Rejected, nothing moved
	var short *ledger.InsufficientStockError
	require.True(t, errors.As(err, &short))
	assertQty(t, 4, short.Available, "available")
	assertQty(t, 10, f.snap("P", "X").OnHand, "X on_hand")

	// Moving the free 4 works
	require.NoError(t, f.svc.TransferStock(f.ctx, inventory.Transfer{ProductID: "P", From: "X", To: "Y", Quantity: q(4)}, ""))
	assertQty(t, 6, f.snap("P", "X").OnHand, "X on_hand")
	assertQty(t, 4, f.snap("P", "Y").OnHand, "Y on_hand")

	err = f.svc.TransferStock(f.ctx, inventory.Transfer{ProductID: "P", From: "X", To: "X", Quantity: q(1)}, "")
	assert.True(t, errors.Is(err, ledger.ErrInvalidArgument))
	f.assertConsistent()
}

func TestAdjustment(t *testing.T) {
	f, o := singleBin(t, 6)
	_, err := f.svc.AllocateLine(f.ctx, o.Lines[0].ID, "")
	require.NoError(t, err)

	// A count may not drop on_hand under what is reserved
	err = f.svc.AdjustStock(f.ctx, inventory.Adjustment{ProductID: "P", LocationID: "X", Delta: q(-5), Reason: "count"}, "")
	assert.True(t, errors.Is(err, ledger.ErrInsufficientStock))

	require.NoError(t, f.svc.AdjustStock(f.ctx, inventory.Adjustment{ProductID: "P", LocationID: "X", Delta: q(-4), Reason: "count"}, ""))
	require.NoError(t, f.svc.AdjustStock(f.ctx, inventory.Adjustment{ProductID: "P", LocationID: "X", Delta: q(2), Reason: "found"}, ""))
	assertQty(t, 8, f.snap("P", "X").OnHand, "on_hand")

	err = f.svc.AdjustStock(f.ctx, inventory.Adjustment{ProductID: "P", LocationID: "X", Delta: q(1)}, "")
	assert.True(t, errors.Is(err, ledger.ErrInvalidArgument), "reason is required")
	f.assertConsistent()
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func TestIdempotency_ReplaysStoredResult(t *testing.T) {
	f, o := singleBin(t, 15)

	first, err := f.svc.AllocateLine(f.ctx, o.Lines[0].ID, "alloc-1")
	require.NoError(t, err)

	// More stock arrives; a retry must still replay, not allocate again
	f.receive("P", "X", 10)
	events := len(f.events.Events)
	entries := f.entryCount()

	second, err := f.svc.AllocateLine(f.ctx, o.Lines[0].ID, "alloc-1")
	require.NoError(t, err)
	assert.True(t, first.AllocatedNow.Equal(second.AllocatedNow))
	assert.Equal(t, first.FullyAllocated, second.FullyAllocated)
	assert.Equal(t, entries, f.entryCount(), "replay must not append")
	assert.Len(t, f.events.Events, events, "replay must not publish")
	assertQty(t, 10, f.reload(o.ID).Lines[0].Allocated, "line allocated")
}

func TestIdempotency_EveryCommand(t *testing.T) {
	f, o := singleBin(t, 6)
	f.location("Y", true)
	line := o.Lines[0].ID

	twice := func(name string, fn func() error) {
		t.Helper()
		require.NoError(t, fn(), name)
		before := f.entryCount()
		require.NoError(t, fn(), name+" (retry)")
		assert.Equal(t, before, f.entryCount(), "%s retry appended entries", name)
	}

	twice("receipt", func() error {
		return f.svc.BookReceipt(f.ctx, inventory.Receipt{ProductID: "P", LocationID: "X", Quantity: q(2)}, "k-rcpt")
	})
	twice("allocate", func() error {
		_, err := f.svc.AllocateOrder(f.ctx, o.ID, "k-alloc")
		return err
	})
	var fid string
	twice("create fulfillment", func() error {
		id, err := f.svc.CreateFulfillment(f.ctx, o.ID, []inventory.FulfillmentItem{{LineID: line, Quantity: q(3)}}, "k-ful")
		if fid != "" && id != fid {
			t.Errorf("replayed fulfillment id %s, want %s", id, fid)
		}
		fid = id
		return err
	})
	twice("ship", func() error { return f.svc.ShipFulfillment(f.ctx, fid, "k-ship") })
	twice("revert shipment", func() error { return f.svc.RevertFulfillmentShipment(f.ctx, fid, "k-revert") })
	twice("transfer", func() error {
		return f.svc.TransferStock(f.ctx, inventory.Transfer{ProductID: "P", From: "X", To: "Y", Quantity: q(1)}, "k-move")
	})
	twice("revert allocation", func() error {
		_, err := f.svc.RevertLineAllocation(f.ctx, line, "k-unres")
		return err
	})

	s := f.snap("P", "X")
	assertQty(t, 11, s.OnHand, "X on_hand")
	assertQty(t, 0, s.Reserved, "X reserved")
	f.assertConsistent()
}

func TestIdempotency_KeyReusedForOtherCommand(t *testing.T) {
	f, o := singleBin(t, 6)
	_, err := f.svc.AllocateLine(f.ctx, o.Lines[0].ID, "shared")
	require.NoError(t, err)

	_, err = f.svc.RevertLineAllocation(f.ctx, o.Lines[0].ID, "shared")
	assert.True(t, errors.Is(err, ledger.ErrInvalidArgument))
	assertQty(t, 6, f.snap("P", "X").Reserved, "reserved")
}

func TestIdempotency_FailedCommandDoesNotConsumeKey(t *testing.T) {
	f, o := singleBin(t, 6)
	f.location("Y", true)
	_, err := f.svc.AllocateLine(f.ctx, o.Lines[0].ID, "")
	require.NoError(t, err)

	// Fails: only 4 free
	err = f.svc.TransferStock(f.ctx, inventory.Transfer{ProductID: "P", From: "X", To: "Y", Quantity: q(5)}, "k-t")
	require.Error(t, err)

	// Same key with a satisfiable request runs normally
	_, err = f.svc.RevertLineAllocation(f.ctx, o.Lines[0].ID, "")
	require.NoError(t, err)
	err = f.svc.TransferStock(f.ctx, inventory.Transfer{ProductID: "P", From: "X", To: "Y", Quantity: q(5)}, "k-t")
	require.NoError(t, err)
	assertQty(t, 5, f.snap("P", "Y").OnHand, "Y on_hand")
}

// mapCache is a ReplayCache backed by a map.
type mapCache struct {
	mu   sync.Mutex
	ops  map[string]inventory.Operation
	hits int
}

func (c *mapCache) Get(_ context.Context, key string) (*inventory.Operation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	op, ok := c.ops[key]
	if !ok {
		return nil, nil
	}
	c.hits++
	return &op, nil
}

func (c *mapCache) Put(_ context.Context, op inventory.Operation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops[op.Key] = op
	return nil
}

func TestIdempotency_ReplayCacheServesRetries(t *testing.T) {
	cache := &mapCache{ops: make(map[string]inventory.Operation)}
	f := newFixture(t, inventory.WithReplayCache(cache))
	f.location("X", true)
	f.receive("P", "X", 10)
	o := f.order("P", 6)

	_, err := f.svc.AllocateLine(f.ctx, o.Lines[0].ID, "cached")
	require.NoError(t, err)
	require.Contains(t, cache.ops, "cached")
	assert.Equal(t, "allocate_line", cache.ops["cached"].Name)

	res, err := f.svc.AllocateLine(f.ctx, o.Lines[0].ID, "cached")
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits)
	assertQty(t, 6, res.AllocatedNow, "replayed allocated now")
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func TestRepairOrder_RecomputesCountersFromLedger(t *testing.T) {
	// GIVEN: Scenario D with line counters corrupted
	f, o, _ := shipFour(t)
	l := f.reload(o.ID).Lines[0]
	l.Allocated = q(0)
	l.Fulfilled = q(1)
	require.NoError(t, f.store.WithTx(f.ctx, func(tx inventory.Tx) error {
		return tx.SaveLine(f.ctx, l)
	}))

	// WHEN: Repaired
	res, err := f.svc.RepairOrder(f.ctx, o.ID, "")
	require.NoError(t, err)

	// THEN: Back to allocated 2, fulfilled 4
	require.Len(t, res.Changed, 1)
	assertQty(t, 2, res.Changed[0].AllocatedAfter, "allocated after")
	assertQty(t, 4, res.Changed[0].FulfilledAfter, "fulfilled after")
	assert.Equal(t, inventory.OrderPartiallyShipped, res.Status)

	got := f.reload(o.ID)
	assertQty(t, 2, got.Lines[0].Allocated, "line allocated")
	assertQty(t, 4, got.Lines[0].Fulfilled, "line fulfilled")
	assert.Contains(t, f.events.Types(), inventory.EventOrderRepaired)

	// Repairing a healthy order changes nothing
	res, err = f.svc.RepairOrder(f.ctx, o.ID, "")
	require.NoError(t, err)
	assert.Empty(t, res.Changed)
}

func TestVerifyAndRebuildSnapshot(t *testing.T) {
	f, _ := singleBin(t, 6)
	k := ledger.Key{ProductID: "P", LocationID: "X"}
	corrupt := f.snap("P", "X")
	corrupt.OnHand = q(3)
	require.NoError(t, f.store.WithTx(f.ctx, func(tx inventory.Tx) error {
		return tx.SaveSnapshot(f.ctx, corrupt)
	}))

	drifts, err := f.svc.VerifyLedger(f.ctx)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, k, drifts[0].Key)

	snap, err := f.svc.RebuildSnapshot(f.ctx, k)
	require.NoError(t, err)
	assertQty(t, 10, snap.OnHand, "rebuilt on_hand")
	f.assertConsistent()
}

// reservedDrift allocates 6 of 10 at X, then lowers the snapshot's
// reserved to 4 behind the ledger's back.
func reservedDrift(t *testing.T, opts ...inventory.Option) (*fixture, inventory.SalesOrder) {
	f := newFixture(t, opts...)
	f.location("X", true)
	f.receive("P", "X", 10)
	o := f.order("P", 6)
	_, err := f.svc.AllocateLine(f.ctx, o.Lines[0].ID, "")
	require.NoError(t, err)

	corrupt := f.snap("P", "X")
	corrupt.Reserved = q(4)
	require.NoError(t, f.store.WithTx(f.ctx, func(tx inventory.Tx) error {
		return tx.SaveSnapshot(f.ctx, corrupt)
	}))
	return f, o
}

func TestRevertAllocation_ClampsToSnapshotReserved(t *testing.T) {
	// GIVEN: The ledger implies 6 reserved, the snapshot holds 4
	f, o := reservedDrift(t)

	// WHEN: Reverting the line's allocation
	res, err := f.svc.RevertLineAllocation(f.ctx, o.Lines[0].ID, "")

	// THEN: Only what the snapshot holds is released, without an invariant violation
	require.NoError(t, err)
	assertQty(t, 4, res.UnreservedQty, "unreserved")
	assertQty(t, 0, f.snap("P", "X").Reserved, "snapshot reserved")
	assertQty(t, 2, f.reload(o.ID).Lines[0].Allocated, "line allocated")
}

func TestRevertAllocation_ClampIsReportedAndRepairable(t *testing.T) {
	// GIVEN: A drifted snapshot and a service logging to a test hook
	logger, hook := test.NewNullLogger()
	f, o := reservedDrift(t, inventory.WithLogger(logger))

	// WHEN: The clamp bites
	_, err := f.svc.RevertLineAllocation(f.ctx, o.Lines[0].ID, "")
	require.NoError(t, err)

	// THEN: The shortfall is logged for an operator
	var flagged *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Data["operator_attention"] == true {
			flagged = e
		}
	}
	require.NotNil(t, flagged)
	assert.Equal(t, o.Lines[0].ID, flagged.Data["line_id"])
	assert.Equal(t, "6", flagged.Data["ledger_reserved"])
	assert.Equal(t, "4", flagged.Data["released"])

	// AND: The line counter still matches the ledger, so repair changes nothing
	rep, err := f.svc.RepairOrder(f.ctx, o.ID, "")
	require.NoError(t, err)
	assert.Empty(t, rep.Changed)

	// AND: The snapshot is the drifted side; rebuilding it restores the 2 the line holds
	drifts, err := f.svc.VerifyLedger(f.ctx)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	snap, err := f.svc.RebuildSnapshot(f.ctx, ledger.Key{ProductID: "P", LocationID: "X"})
	require.NoError(t, err)
	assertQty(t, 2, snap.Reserved, "rebuilt reserved")
	f.assertConsistent()
}

// =============================================================================
// TIMELINE
// =============================================================================

func TestEvents_PublishedAfterCommitOnly(t *testing.T) {
	f, o := singleBin(t, 6)
	before := len(f.events.Events)

	_, err := f.svc.AllocateLine(f.ctx, o.Lines[0].ID, "")
	require.NoError(t, err)
	types := f.events.Types()[before:]
	assert.Equal(t, []inventory.EventType{inventory.EventLineAllocated, inventory.EventOrderStatusChanged}, types)

	// A failed command publishes nothing
	before = len(f.events.Events)
	err = f.svc.AdjustStock(f.ctx, inventory.Adjustment{ProductID: "P", LocationID: "X", Delta: q(-9), Reason: "count"}, "")
	require.Error(t, err)
	assert.Len(t, f.events.Events, before)
}
