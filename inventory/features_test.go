package inventory_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"
	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/ledger"
	"github.com/warp/inventory-engine/store/memory"
)

// world holds one scenario's service plus the aliases the feature files use
// for generated order and fulfillment ids.
type world struct {
	ctx          context.Context
	svc          *inventory.Service
	orders       map[string]string
	fulfillments map[string]string
	err          error
}

func (w *world) reset() {
	w.ctx = context.Background()
	w.svc = inventory.NewService(memory.New())
	w.orders = make(map[string]string)
	w.fulfillments = make(map[string]string)
	w.err = nil
}

func (w *world) order(alias string) (*inventory.SalesOrder, error) {
	id, ok := w.orders[alias]
	if !ok {
		return nil, fmt.Errorf("unknown order %q", alias)
	}
	return w.svc.Order(w.ctx, id)
}

// =============================================================================
// GIVEN
// =============================================================================

func (w *world) aLocation(sellable bool) func(string) error {
	return func(id string) error {
		return w.svc.SaveLocation(w.ctx, inventory.Location{ID: ledger.LocationID(id), Sellable: sellable})
	}
}

func (w *world) unitsReceivedAt(n int, product, loc string) error {
	return w.svc.BookReceipt(w.ctx, inventory.Receipt{
		ProductID:  ledger.ProductID(product),
		LocationID: ledger.LocationID(loc),
		Quantity:   decimal.NewFromInt(int64(n)),
	}, "")
}

func (w *world) aConfirmedOrder(alias string, n int, product string) error {
	o, err := w.svc.CreateOrder(w.ctx, inventory.NewOrder{
		Reference: alias,
		Lines:     []inventory.NewOrderLine{{ProductID: ledger.ProductID(product), Quantity: decimal.NewFromInt(int64(n))}},
		Confirm:   true,
	}, "")
	if err != nil {
		return err
	}
	w.orders[alias] = o.ID
	return nil
}

// =============================================================================
// WHEN
// =============================================================================

func (w *world) iAllocateOrder(alias string) error {
	_, err := w.svc.AllocateOrder(w.ctx, w.orders[alias], "")
	return err
}

func (w *world) iRevertTheAllocationOf(alias string) error {
	o, err := w.order(alias)
	if err != nil {
		return err
	}
	for _, l := range o.Lines {
		if _, err := w.svc.RevertLineAllocation(w.ctx, l.ID, ""); err != nil {
			return err
		}
	}
	return nil
}

func (w *world) iCreateFulfillmentWithKey(falias string, n int, oalias, key string) error {
	o, err := w.order(oalias)
	if err != nil {
		return err
	}
	id, err := w.svc.CreateFulfillment(w.ctx, o.ID, []inventory.FulfillmentItem{
		{LineID: o.Lines[0].ID, Quantity: decimal.NewFromInt(int64(n))},
	}, key)
	if err != nil {
		return err
	}
	w.fulfillments[falias] = id
	return nil
}

func (w *world) iCreateFulfillment(falias string, n int, oalias string) error {
	return w.iCreateFulfillmentWithKey(falias, n, oalias, "")
}

func (w *world) iShipFulfillment(alias string) error {
	return w.svc.ShipFulfillment(w.ctx, w.fulfillments[alias], "")
}

func (w *world) iRevertTheShipmentOf(alias string) error {
	return w.svc.RevertFulfillmentShipment(w.ctx, w.fulfillments[alias], "")
}

func (w *world) iCancelOrder(alias string) error {
	return w.svc.CancelOrder(w.ctx, w.orders[alias], "")
}

func (w *world) iTryToCancelOrder(alias string) error {
	w.err = w.svc.CancelOrder(w.ctx, w.orders[alias], "")
	return nil
}

// =============================================================================
// THEN
// =============================================================================

func expectQty(what string, want int, got decimal.Decimal) error {
	if !got.Equal(decimal.NewFromInt(int64(want))) {
		return fmt.Errorf("expected %s %d, got %s", what, want, got)
	}
	return nil
}

func (w *world) snapshotHas(product, loc string, onHand, reserved int) error {
	s, err := w.svc.Snapshot(w.ctx, ledger.Key{ProductID: ledger.ProductID(product), LocationID: ledger.LocationID(loc)})
	if err != nil {
		return err
	}
	if err := expectQty("on_hand", onHand, s.OnHand); err != nil {
		return err
	}
	return expectQty("reserved", reserved, s.Reserved)
}

func (w *world) snapshotAvailable(product, loc string, available int) error {
	s, err := w.svc.Snapshot(w.ctx, ledger.Key{ProductID: ledger.ProductID(product), LocationID: ledger.LocationID(loc)})
	if err != nil {
		return err
	}
	return expectQty("available", available, s.Available())
}

func (w *world) orderHas(alias string, allocated, fulfilled int) error {
	o, err := w.order(alias)
	if err != nil {
		return err
	}
	var a, f decimal.Decimal
	for _, l := range o.Lines {
		a = a.Add(l.Allocated)
		f = f.Add(l.Fulfilled)
	}
	if err := expectQty("allocated", allocated, a); err != nil {
		return err
	}
	return expectQty("fulfilled", fulfilled, f)
}

func (w *world) orderIs(alias, status string) error {
	o, err := w.order(alias)
	if err != nil {
		return err
	}
	if string(o.Status) != status {
		return fmt.Errorf("expected order %s to be %s, got %s", alias, status, o.Status)
	}
	return nil
}

func (w *world) orderHasFulfillments(alias string, n int) error {
	fs, err := w.svc.Fulfillments(w.ctx, w.orders[alias])
	if err != nil {
		return err
	}
	if len(fs) != n {
		return fmt.Errorf("expected %d fulfillments, got %d", n, len(fs))
	}
	return nil
}

func (w *world) fulfillmentsAreTheSame(a, b string) error {
	if w.fulfillments[a] != w.fulfillments[b] {
		return fmt.Errorf("expected one fulfillment, got %s and %s", w.fulfillments[a], w.fulfillments[b])
	}
	return nil
}

func (w *world) theCommandFailsWith(msg string) error {
	if w.err == nil {
		return fmt.Errorf("expected an error containing %q", msg)
	}
	if !strings.Contains(w.err.Error(), msg) {
		return fmt.Errorf("expected an error containing %q, got %q", msg, w.err)
	}
	return nil
}

func (w *world) theLedgerMatchesEverySnapshot() error {
	drifts, err := w.svc.VerifyLedger(w.ctx)
	if err != nil {
		return err
	}
	if len(drifts) > 0 {
		return fmt.Errorf("%d snapshots drifted, first %s", len(drifts), drifts[0].Key)
	}
	return nil
}

// =============================================================================
// SUITE
// =============================================================================

func InitializeScenario(ctx *godog.ScenarioContext) {
	w := &world{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		w.reset()
		return ctx, nil
	})

	// Given steps
	ctx.Step(`^a sellable location "([^"]*)"$`, w.aLocation(true))
	ctx.Step(`^a non-sellable location "([^"]*)"$`, w.aLocation(false))
	ctx.Step(`^(\d+) units of "([^"]*)" received at "([^"]*)"$`, w.unitsReceivedAt)
	ctx.Step(`^a confirmed order "([^"]*)" for (\d+) units of "([^"]*)"$`, w.aConfirmedOrder)

	// When steps
	ctx.Step(`^I allocate order "([^"]*)"$`, w.iAllocateOrder)
	ctx.Step(`^I revert the allocation of order "([^"]*)"$`, w.iRevertTheAllocationOf)
	ctx.Step(`^I create fulfillment "([^"]*)" for (\d+) units of order "([^"]*)"$`, w.iCreateFulfillment)
	ctx.Step(`^I create fulfillment "([^"]*)" for (\d+) units of order "([^"]*)" with key "([^"]*)"$`, w.iCreateFulfillmentWithKey)
	ctx.Step(`^I ship fulfillment "([^"]*)"$`, w.iShipFulfillment)
	ctx.Step(`^I revert the shipment of fulfillment "([^"]*)"$`, w.iRevertTheShipmentOf)
	ctx.Step(`^I cancel order "([^"]*)"$`, w.iCancelOrder)
	ctx.Step(`^I try to cancel order "([^"]*)"$`, w.iTryToCancelOrder)

	// Then steps
	ctx.Step(`^"([^"]*)" at "([^"]*)" has (\d+) on hand and (\d+) reserved$`, w.snapshotHas)
	ctx.Step(`^"([^"]*)" at "([^"]*)" has (\d+) available$`, w.snapshotAvailable)
	ctx.Step(`^order "([^"]*)" has (\d+) allocated and (\d+) fulfilled$`, w.orderHas)
	ctx.Step(`^order "([^"]*)" is "([^"]*)"$`, w.orderIs)
	ctx.Step(`^order "([^"]*)" has (\d+) fulfillments?$`, w.orderHasFulfillments)
	ctx.Step(`^fulfillments "([^"]*)" and "([^"]*)" are the same$`, w.fulfillmentsAreTheSame)
	ctx.Step(`^the command fails with "([^"]*)"$`, w.theCommandFailsWith)
	ctx.Step(`^the ledger matches every snapshot$`, w.theLedgerMatchesEverySnapshot)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
