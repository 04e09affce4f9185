/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/locations, /api/snapshots, /api/ledger   Master data and read model
  /api/receipts, /supply, /transfers, ...       Stock movements
  /api/orders/*, /api/lines/*                   Orders and allocation
  /api/fulfillments/*                           Fulfillment lifecycle
  /api/admin/*                                  Verification and repair
  /api/scenarios/*                              Demo scenarios

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", IdempotencyHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/locations", func(r chi.Router) {
			r.Get("/", h.ListLocations)
			r.Post("/", h.SaveLocation)
		})
		r.Get("/snapshots", h.ListSnapshots)
		r.Get("/ledger", h.ListLedger)

		// Stock movements
		r.Post("/receipts", h.BookReceipt)
		r.Post("/supply", h.ExpectSupply)
		r.Post("/transfers", h.TransferStock)
		r.Post("/adjustments", h.AdjustStock)

		// Order routes
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Get("/{id}", h.GetOrder)
			r.Post("/{id}/confirm", h.ConfirmOrder)
			r.Post("/{id}/cancel", h.CancelOrder)
			r.Post("/{id}/allocate", h.AllocateOrder)
			r.Post("/{id}/repair", h.RepairOrder)
			r.Get("/{id}/fulfillments", h.ListFulfillments)
			r.Post("/{id}/fulfillments", h.CreateFulfillment)
		})

		r.Route("/lines", func(r chi.Router) {
			r.Post("/{id}/allocate", h.AllocateLine)
			r.Post("/{id}/revert-allocation", h.RevertLineAllocation)
		})

		// Fulfillment routes
		r.Route("/fulfillments", func(r chi.Router) {
			r.Get("/{id}", h.GetFulfillment)
			r.Post("/{id}/advance", h.AdvanceFulfillment)
			r.Post("/{id}/ship", h.ShipFulfillment)
			r.Post("/{id}/revert-shipment", h.RevertShipment)
			r.Post("/{id}/cancel", h.CancelFulfillment)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Get("/verify", h.VerifyLedger)
			r.Post("/rebuild", h.RebuildSnapshot)
			r.Get("/reconciliation/runs", h.ListReconciliationRuns)
			r.Post("/reconciliation/run", h.TriggerReconciliation)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
