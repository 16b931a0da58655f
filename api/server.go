/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RequestLogger: Request-scoped slog logger + completion log
  3. Recoverer:     Panic recovery (500 instead of crash)
  4. CORS:          Cross-origin requests for frontend
  5. RateLimit:     Per-IP limiter, injected by the caller (optional)
  6. RequireActor:  X-Actor-ID on every mutating /api request

ROUTE GROUPS:
  /api/invoices/*            Invoices, discounts, payments, refunds
  /api/cash-bank-accounts/*  Cash/bank accounts
  /api/finance-accounts/*    Chart of accounts
  /api/transactions/*        Operational txns and approval workflow
  /api/transfers             Transfer pairs
  /api/period-locks/*        Period locks
  /api/audit-events          Audit feed
  /api/scenarios/*           Demo scenarios (disabled in production)
  /health                    Liveness

SECURITY NOTE:
  The actor header is trusted as-is. Authentication is expected in front
  of this service.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ulule/limiter/v3"
)

// RouterOptions configures the ambient middleware.
type RouterOptions struct {
	Logger         *slog.Logger
	Limiter        *limiter.Limiter
	AllowedOrigins []string
	// Scenarios exposes the demo loader. Requires a store implementing Resetter.
	Scenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		ExposedHeaders: []string{"X-Request-ID", "X-RateLimit-Remaining"},
		MaxAge:         300,
	}))
	if opts.Limiter != nil {
		r.Use(RateLimit(opts.Limiter))
	}

	r.Get("/health", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(RequireActor)

		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", h.ListInvoices)
			r.Post("/", h.CreateInvoice)
			r.Get("/{id}", h.GetInvoice)
			r.Post("/{id}/issue", h.IssueInvoice)
			r.Post("/{id}/void", h.VoidInvoice)
			r.Post("/{id}/recalculate", h.Recalculate)
			r.Post("/{id}/discounts", h.AddDiscount)
			r.Put("/{id}/discounts/{discountID}", h.UpdateDiscount)
			r.Delete("/{id}/discounts/{discountID}", h.DeleteDiscount)
			r.Post("/{id}/payments", h.RecordPayment)
			r.Post("/{id}/payments/{paymentID}/refunds", h.RecordRefund)
		})

		r.Route("/cash-bank-accounts", func(r chi.Router) {
			r.Get("/", h.ListCashBankAccounts)
			r.Post("/", h.CreateCashBankAccount)
			r.Get("/{id}", h.GetCashBankAccount)
			r.Post("/{id}/deactivate", h.DeactivateCashBankAccount)
		})

		r.Route("/finance-accounts", func(r chi.Router) {
			r.Get("/", h.ListFinanceAccounts)
			r.Post("/", h.CreateFinanceAccount)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.ListTxns)
			r.Post("/", h.CreateTxn)
			r.Get("/{id}", h.GetTxn)
			r.Post("/{id}/check", h.CheckTxn)
			r.Post("/{id}/approve", h.ApproveTxn)
			r.Post("/{id}/reject", h.RejectTxn)
			r.Post("/{id}/cancel", h.CancelTxn)
		})
		r.Post("/transfers", h.CreateTransfer)

		r.Route("/period-locks", func(r chi.Router) {
			r.Get("/", h.ListPeriodLocks)
			r.Post("/", h.CreatePeriodLock)
			r.Delete("/{id}", h.RemovePeriodLock)
		})

		r.Get("/audit-events", h.ListAuditEvents)

		if opts.Scenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	return r
}

// NewServer wraps handler in an *http.Server with header timeouts set.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
