/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the store with realistic
  stock and orders. Every loader drives the public service commands, so the
  resulting ledger is exactly what real traffic would have produced.

AVAILABLE SCENARIOS:
  single-bin:       10 on hand at MAIN, one line of 6 fully reserved
  backorder:        10 on hand, line of 15, partially reserved
  partial-shipment: single-bin, then 4 of the 6 picked and shipped
  multi-bin:        stock split over two bins plus a quarantine bin
  incoming-supply:  purchase on order, line awaiting stock

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "multi-bin"}

NOTE:
  Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Command handlers the loaders mirror
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/ledger"
)

// resetter is implemented by stores that can wipe themselves.
type resetter interface {
	Reset(ctx context.Context) error
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "single-bin",
		Name:        "Single Bin",
		Description: "10 units of P-100 at MAIN; an order line of 6 is fully reserved",
	},
	{
		ID:          "backorder",
		Name:        "Backorder",
		Description: "10 units of P-100 at MAIN; an order line of 15 reserves 10 and awaits stock",
	},
	{
		ID:          "partial-shipment",
		Name:        "Partial Shipment",
		Description: "Single bin, then a fulfillment of 4 is picked and shipped; 2 stay reserved",
	},
	{
		ID:          "multi-bin",
		Name:        "Multi Bin",
		Description: "P-200 split over BIN-A (4) and BIN-B (7) plus 20 in non-sellable QUARANTINE; line of 9",
	},
	{
		ID:          "incoming-supply",
		Name:        "Incoming Supply",
		Description: "P-300 has 20 on order and 3 on hand; a line of 5 waits for the purchase",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}

	loaders := map[string]func(context.Context) error{
		"single-bin":       h.loadSingleBinScenario,
		"backorder":        h.loadBackorderScenario,
		"partial-shipment": h.loadPartialShipmentScenario,
		"multi-bin":        h.loadMultiBinScenario,
		"incoming-supply":  h.loadIncomingSupplyScenario,
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	store, ok := h.Service.Store().(resetter)
	if !ok {
		writeError(w, http.StatusNotImplemented, "Store does not support reset", nil)
		return
	}

	ctx := r.Context()
	if err := store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadSingleBinScenario(ctx context.Context) error {
	_, err := h.seedSingleBin(ctx, 6)
	return err
}

func (h *Handler) loadBackorderScenario(ctx context.Context) error {
	_, err := h.seedSingleBin(ctx, 15)
	return err
}

func (h *Handler) loadPartialShipmentScenario(ctx context.Context) error {
	order, err := h.seedSingleBin(ctx, 6)
	if err != nil {
		return err
	}
	fid, err := h.Service.CreateFulfillment(ctx, order.ID, []inventory.FulfillmentItem{
		{LineID: order.Lines[0].ID, Quantity: decimal.NewFromInt(4)},
	}, "")
	if err != nil {
		return err
	}
	if err := h.Service.AdvanceFulfillment(ctx, fid, inventory.FulfillmentPicking, ""); err != nil {
		return err
	}
	return h.Service.ShipFulfillment(ctx, fid, "")
}

func (h *Handler) loadMultiBinScenario(ctx context.Context) error {
	bins := []struct {
		loc      inventory.Location
		quantity int64
	}{
		{inventory.Location{ID: "BIN-A", Name: "Aisle A", Sellable: true, IsDefault: true}, 4},
		{inventory.Location{ID: "BIN-B", Name: "Aisle B", Sellable: true}, 7},
		{inventory.Location{ID: "QUARANTINE", Name: "Quarantine", Sellable: false}, 20},
	}
	for _, b := range bins {
		if err := h.Service.SaveLocation(ctx, b.loc); err != nil {
			return err
		}
		if err := h.receive(ctx, "P-200", b.loc.ID, b.quantity); err != nil {
			return err
		}
	}
	order, err := h.order(ctx, "DEMO-MULTI", "P-200", 9)
	if err != nil {
		return err
	}
	_, err = h.Service.AllocateOrder(ctx, order.ID, "")
	return err
}

func (h *Handler) loadIncomingSupplyScenario(ctx context.Context) error {
	if err := h.mainLocation(ctx); err != nil {
		return err
	}
	err := h.Service.ExpectSupply(ctx, inventory.Supply{
		ProductID:   "P-300",
		LocationID:  "MAIN",
		Quantity:    decimal.NewFromInt(20),
		PurchaseRef: "PO-1001",
	}, "")
	if err != nil {
		return err
	}
	if err := h.receive(ctx, "P-300", "MAIN", 3); err != nil {
		return err
	}
	order, err := h.order(ctx, "DEMO-SUPPLY", "P-300", 5)
	if err != nil {
		return err
	}
	_, err = h.Service.AllocateOrder(ctx, order.ID, "")
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) seedSingleBin(ctx context.Context, ordered int64) (inventory.SalesOrder, error) {
	if err := h.mainLocation(ctx); err != nil {
		return inventory.SalesOrder{}, err
	}
	if err := h.receive(ctx, "P-100", "MAIN", 10); err != nil {
		return inventory.SalesOrder{}, err
	}
	order, err := h.order(ctx, "DEMO-SINGLE", "P-100", ordered)
	if err != nil {
		return inventory.SalesOrder{}, err
	}
	if _, err := h.Service.AllocateOrder(ctx, order.ID, ""); err != nil {
		return inventory.SalesOrder{}, err
	}
	return order, nil
}

func (h *Handler) mainLocation(ctx context.Context) error {
	return h.Service.SaveLocation(ctx, inventory.Location{
		ID: "MAIN", Name: "Main Warehouse", Sellable: true, IsDefault: true,
	})
}

func (h *Handler) receive(ctx context.Context, product ledger.ProductID, loc ledger.LocationID, qty int64) error {
	return h.Service.BookReceipt(ctx, inventory.Receipt{
		ProductID:  product,
		LocationID: loc,
		Quantity:   decimal.NewFromInt(qty),
	}, "")
}

func (h *Handler) order(ctx context.Context, ref string, product ledger.ProductID, qty int64) (inventory.SalesOrder, error) {
	return h.Service.CreateOrder(ctx, inventory.NewOrder{
		Reference: ref,
		Lines:     []inventory.NewOrderLine{{ProductID: product, Quantity: decimal.NewFromInt(qty)}},
		Confirm:   true,
	}, "")
}
