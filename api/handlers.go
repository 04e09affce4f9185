/*
handlers.go - HTTP API handlers for the inventory engine

PURPOSE:
  Exposes the inventory service via REST API. Handles HTTP request/response,
  JSON serialization and validation, and delegates to inventory.Service.

ENDPOINTS:
  Master data & reads:
    GET    /api/locations                    List locations
    POST   /api/locations                    Create or update a location
    GET    /api/snapshots?product=           Balances per (product, location)
    GET    /api/ledger?product=&location=... Ledger history

  Stock movements:
    POST   /api/receipts                     Book received goods
    POST   /api/supply                       Record expected supply (on order)
    POST   /api/transfers                    Move free stock between locations
    POST   /api/adjustments                  Count corrections

  Orders:
    POST   /api/orders                       Create (optionally confirmed)
    GET    /api/orders/{id}                  Order with lines
    POST   /api/orders/{id}/confirm|cancel|allocate|repair
    POST   /api/lines/{id}/allocate          Allocate one line
    POST   /api/lines/{id}/revert-allocation Release a line's order bucket

  Fulfillments:
    POST   /api/orders/{id}/fulfillments     Create from order lines
    GET    /api/fulfillments/{id}
    POST   /api/fulfillments/{id}/advance|ship|revert-shipment|cancel

IDEMPOTENCY:
  Mutating requests may carry an Idempotency-Key header. A retry with the
  same key returns the stored result without touching the ledger.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status (see errors.go):
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Illegal state transition, insufficient stock, key in flight
  - 500: Internal errors and ledger invariant violations

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/ledger"
)

// IdempotencyHeader carries the client's idempotency key.
const IdempotencyHeader = "Idempotency-Key"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service   *inventory.Service
	Logger    *logrus.Logger
	Scheduler *ReconciliationScheduler

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler around the service.
func NewHandler(svc *inventory.Service, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{Service: svc, Logger: logger}
}

// =============================================================================
// LOCATIONS & READ MODEL
// =============================================================================

func (h *Handler) ListLocations(w http.ResponseWriter, r *http.Request) {
	locs, err := h.Service.Locations(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if locs == nil {
		locs = []inventory.Location{}
	}
	writeJSON(w, http.StatusOK, locs)
}

func (h *Handler) SaveLocation(w http.ResponseWriter, r *http.Request) {
	var req LocationRequest
	if !decode(w, r, &req) {
		return
	}
	loc := inventory.Location{
		ID:        ledger.LocationID(req.ID),
		Name:      req.Name,
		Sellable:  req.Sellable == nil || *req.Sellable,
		IsDefault: req.IsDefault,
	}
	if err := h.Service.SaveLocation(r.Context(), loc); err != nil {
		h.fail(w, r, err)
		return
	}
	if loc.Name == "" {
		loc.Name = req.ID
	}
	writeJSON(w, http.StatusCreated, loc)
}

func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.Service.Snapshots(r.Context(), ledger.ProductID(r.URL.Query().Get("product")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]SnapshotDTO, len(snaps))
	for i, s := range snaps {
		dtos[i] = toSnapshotDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListLedger filters by product, location, reference_type, reference
// (document id), line, kind (comma separated) and limit.
func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.EntryFilter{
		ProductID:     ledger.ProductID(q.Get("product")),
		LocationID:    ledger.LocationID(q.Get("location")),
		ReferenceType: ledger.ReferenceType(q.Get("reference_type")),
		ReferenceID:   q.Get("reference"),
		LineID:        q.Get("line"),
	}
	if kinds := q.Get("kind"); kinds != "" {
		for _, k := range strings.Split(kinds, ",") {
			kind := ledger.Kind(strings.TrimSpace(k))
			if !kind.Valid() {
				writeError(w, http.StatusBadRequest, "Unknown entry kind", nil)
				return
			}
			f.Kinds = append(f.Kinds, kind)
		}
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		f.Limit = n
	}

	entries, err := h.Service.Entries(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// STOCK MOVEMENTS
// =============================================================================

func (h *Handler) BookReceipt(w http.ResponseWriter, r *http.Request) {
	var req ReceiptRequest
	if !decode(w, r, &req) {
		return
	}
	err := h.Service.BookReceipt(r.Context(), inventory.Receipt{
		ProductID:   ledger.ProductID(req.ProductID),
		LocationID:  ledger.LocationID(req.LocationID),
		Quantity:    req.Quantity,
		ReferenceID: req.ReferenceID,
	}, idempotencyKey(r))
	h.respondSnapshot(w, r, err, http.StatusCreated, ledger.Key{
		ProductID: ledger.ProductID(req.ProductID), LocationID: ledger.LocationID(req.LocationID),
	})
}

func (h *Handler) ExpectSupply(w http.ResponseWriter, r *http.Request) {
	var req SupplyRequest
	if !decode(w, r, &req) {
		return
	}
	err := h.Service.ExpectSupply(r.Context(), inventory.Supply{
		ProductID:   ledger.ProductID(req.ProductID),
		LocationID:  ledger.LocationID(req.LocationID),
		Quantity:    req.Quantity,
		PurchaseRef: req.PurchaseRef,
	}, idempotencyKey(r))
	h.respondSnapshot(w, r, err, http.StatusCreated, ledger.Key{
		ProductID: ledger.ProductID(req.ProductID), LocationID: ledger.LocationID(req.LocationID),
	})
}

func (h *Handler) TransferStock(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !decode(w, r, &req) {
		return
	}
	err := h.Service.TransferStock(r.Context(), inventory.Transfer{
		ProductID: ledger.ProductID(req.ProductID),
		From:      ledger.LocationID(req.From),
		To:        ledger.LocationID(req.To),
		Quantity:  req.Quantity,
		Reason:    req.Reason,
	}, idempotencyKey(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	snaps, err := h.Service.Snapshots(r.Context(), ledger.ProductID(req.ProductID))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]SnapshotDTO, 0, 2)
	for _, s := range snaps {
		if s.LocationID == ledger.LocationID(req.From) || s.LocationID == ledger.LocationID(req.To) {
			dtos = append(dtos, toSnapshotDTO(s))
		}
	}
	writeJSON(w, http.StatusCreated, dtos)
}

func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if !decode(w, r, &req) {
		return
	}
	err := h.Service.AdjustStock(r.Context(), inventory.Adjustment{
		ProductID:  ledger.ProductID(req.ProductID),
		LocationID: ledger.LocationID(req.LocationID),
		Delta:      req.Delta,
		Reason:     req.Reason,
	}, idempotencyKey(r))
	h.respondSnapshot(w, r, err, http.StatusCreated, ledger.Key{
		ProductID: ledger.ProductID(req.ProductID), LocationID: ledger.LocationID(req.LocationID),
	})
}

func (h *Handler) respondSnapshot(w http.ResponseWriter, r *http.Request, err error, status int, k ledger.Key) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	snap, err := h.Service.Snapshot(r.Context(), k)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, status, toSnapshotDTO(snap))
}

// =============================================================================
// ORDERS
// =============================================================================

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !decode(w, r, &req) {
		return
	}
	order, err := h.Service.CreateOrder(r.Context(), req.toDomain(), idempotencyKey(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Service.Order(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.respondOrder(w, r, h.Service.ConfirmOrder(r.Context(), id, idempotencyKey(r)), id)
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.respondOrder(w, r, h.Service.CancelOrder(r.Context(), id, idempotencyKey(r)), id)
}

func (h *Handler) AllocateOrder(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.AllocateOrder(r.Context(), chi.URLParam(r, "id"), idempotencyKey(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) RepairOrder(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.RepairOrder(r.Context(), chi.URLParam(r, "id"), idempotencyKey(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if res.Changed == nil {
		res.Changed = []inventory.LineRepair{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) AllocateLine(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.AllocateLine(r.Context(), chi.URLParam(r, "id"), idempotencyKey(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) RevertLineAllocation(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.RevertLineAllocation(r.Context(), chi.URLParam(r, "id"), idempotencyKey(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) respondOrder(w http.ResponseWriter, r *http.Request, err error, id string) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	order, err := h.Service.Order(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// =============================================================================
// FULFILLMENTS
// =============================================================================

func (h *Handler) CreateFulfillment(w http.ResponseWriter, r *http.Request) {
	var req CreateFulfillmentRequest
	if !decode(w, r, &req) {
		return
	}
	items := make([]inventory.FulfillmentItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = inventory.FulfillmentItem{LineID: it.LineID, Quantity: it.Quantity}
	}
	id, err := h.Service.CreateFulfillment(r.Context(), chi.URLParam(r, "id"), items, idempotencyKey(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateFulfillmentResponse{FulfillmentID: id})
}

func (h *Handler) ListFulfillments(w http.ResponseWriter, r *http.Request) {
	fs, err := h.Service.Fulfillments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if fs == nil {
		fs = []inventory.Fulfillment{}
	}
	writeJSON(w, http.StatusOK, fs)
}

func (h *Handler) GetFulfillment(w http.ResponseWriter, r *http.Request) {
	f, err := h.Service.Fulfillment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *Handler) AdvanceFulfillment(w http.ResponseWriter, r *http.Request) {
	var req AdvanceFulfillmentRequest
	if !decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	err := h.Service.AdvanceFulfillment(r.Context(), id, inventory.FulfillmentStatus(req.Status), idempotencyKey(r))
	h.respondFulfillment(w, r, err, id)
}

func (h *Handler) ShipFulfillment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.respondFulfillment(w, r, h.Service.ShipFulfillment(r.Context(), id, idempotencyKey(r)), id)
}

func (h *Handler) RevertShipment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.respondFulfillment(w, r, h.Service.RevertFulfillmentShipment(r.Context(), id, idempotencyKey(r)), id)
}

func (h *Handler) CancelFulfillment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.respondFulfillment(w, r, h.Service.CancelFulfillment(r.Context(), id, idempotencyKey(r)), id)
}

func (h *Handler) respondFulfillment(w http.ResponseWriter, r *http.Request, err error, id string) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	f, err := h.Service.Fulfillment(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// =============================================================================
// ADMIN
// =============================================================================

func (h *Handler) VerifyLedger(w http.ResponseWriter, r *http.Request) {
	drifts, err := h.Service.VerifyLedger(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{Clean: len(drifts) == 0, Drifts: toDriftDTOs(drifts)})
}

func (h *Handler) RebuildSnapshot(w http.ResponseWriter, r *http.Request) {
	var req RebuildRequest
	if !decode(w, r, &req) {
		return
	}
	snap, err := h.Service.RebuildSnapshot(r.Context(), ledger.Key{
		ProductID:  ledger.ProductID(req.ProductID),
		LocationID: ledger.LocationID(req.LocationID),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotDTO(snap))
}

// ListReconciliationRuns returns the scheduler's recent verification runs.
func (h *Handler) ListReconciliationRuns(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeJSON(w, http.StatusOK, []ReconciliationRun{})
		return
	}
	writeJSON(w, http.StatusOK, h.Scheduler.Runs())
}

// TriggerReconciliation runs a verification pass now.
func (h *Handler) TriggerReconciliation(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "Reconciliation scheduler is not running", nil)
		return
	}
	writeJSON(w, http.StatusOK, h.Scheduler.RunNow(r.Context()))
}

// =============================================================================
// HELPERS
// =============================================================================

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(IdempotencyHeader))
}

// decode parses and validates a JSON body, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if errs := validateStruct(dst); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Validation failed",
			Details: describe(errs),
			Fields:  errs,
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
