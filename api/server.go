/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:   Unique ID per request for tracing
  2. RealIP:      Client address from proxy headers
  3. Logger:      One zap line per request
  4. Recoverer:   Panic recovery (500 instead of crash)
  5. CORS:        Cross-origin requests for frontends
  Tenant-scoped groups add:
  6. RequireTenant: X-Company-ID / X-User-ID
  7. Idempotency:   Idempotency-Key replay

ROUTE GROUPS:
  /api/invoices/*   Invoice lifecycle and payments of one invoice
  /api/payments/*   Payment lifecycle and refunds
  /api/scenarios/*  Demo scenarios
  /api/admin/*      Admin operations (no tenant header)
  /healthz          Liveness

SECURITY NOTE:
  No authentication middleware. The tenant header is trusted, so the service
  must sit behind a gateway that authenticates callers and sets it.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: tenant and idempotency middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/ledger-engine/logger"
)

// RouterConfig holds the transport settings of the router.
type RouterConfig struct {
	CORSOrigins    []string
	IdempotencyTTL time.Duration
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig, log *logger.Logger) *chi.Mux {
	if log == nil {
		log = logger.NewNop()
	}
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	idem := NewIdempotency(cfg.IdempotencyTTL, log)

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type",
			HeaderCompanyID, HeaderUserID, HeaderIdempotencyKey,
		},
		ExposedHeaders: []string{HeaderReplayed, "Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Tenant-scoped routes
		r.Group(func(r chi.Router) {
			r.Use(RequireTenant)
			r.Use(idem.Middleware)

			// Invoice routes
			r.Route("/invoices", func(r chi.Router) {
				r.Get("/", h.ListInvoices)
				r.Post("/", h.CreateInvoice)
				r.Get("/{id}", h.GetInvoice)
				r.Patch("/{id}", h.UpdateInvoice)
				r.Delete("/{id}", h.DeleteInvoice)
				r.Post("/{id}/send", h.SendInvoice)
				r.Post("/{id}/cancel", h.CancelInvoice)
				r.Post("/{id}/mark-paid", h.MarkPaid)
				r.Post("/{id}/duplicate", h.DuplicateInvoice)
				r.Post("/{id}/refresh", h.RefreshStatus)
				r.Get("/{id}/audit", h.GetAuditTrail)
				r.Get("/{id}/payments", h.ListPayments)
				r.Post("/{id}/payments", h.RecordPayment)
			})

			// Payment routes
			r.Route("/payments", func(r chi.Router) {
				r.Get("/{id}", h.GetPayment)
				r.Delete("/{id}", h.DeletePayment)
				r.Post("/{id}/confirm", h.ConfirmPayment)
				r.Post("/{id}/fail", h.FailPayment)
				r.Post("/{id}/cancel", h.CancelPayment)
				r.Post("/{id}/refund", h.RefundPayment)
			})

			// Scenario routes
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Post("/load", h.LoadScenario)
			})
		})

		// Admin routes span all tenants
		r.Route("/admin", func(r chi.Router) {
			r.Post("/overdue-sweep", h.SweepOverdue)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})

	return r
}
