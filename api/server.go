/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack and route definitions. This
  is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /healthz              Liveness plus storage ping
  /metrics              Prometheus exposition
  /api/wallet/*         Caller's own wallet (X-User-ID)
  /api/internal/*       Job lifecycle collaborator

IDENTITY:
  The upstream identity proxy authenticates users and forwards the verified
  ID in X-User-ID. This service trusts that header and never authenticates.
  /api/internal must only be reachable from inside the cluster.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/wallet-ledger/wallet"
)

// UserHeader carries the verified caller ID.
const UserHeader = "X-User-ID"

type ctxKey int

const userKey ctxKey = iota

// Pinger is implemented by stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	CORSOrigins []string
	// Health is pinged by /healthz; nil means always healthy.
	Health Pinger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", UserHeader, "Idempotency-Key"},
		ExposedHeaders: []string{"X-Request-Id"},
	}))

	r.Get("/healthz", healthz(cfg.Health))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		// Caller's own wallet
		r.Route("/wallet", func(r chi.Router) {
			r.Use(RequireUser)
			r.Post("/", h.CreateWallet)
			r.Get("/", h.GetWallet)
			r.Get("/transactions", h.ListTransactions)
			r.Get("/recharge-code", h.GetRechargeCode)
			r.Post("/recharge", h.RedeemRechargeCode)
		})

		// Job lifecycle collaborator
		r.Route("/internal", func(r chi.Router) {
			r.Route("/users/{userID}", func(r chi.Router) {
				r.Post("/deduct", h.Deduct)
				r.Post("/refund", h.Refund)
				r.Post("/activate", h.ActivateWallet)
				r.Post("/deactivate", h.DeactivateWallet)
				r.Get("/audit", h.AuditWallet)
			})
			r.Post("/jobs/{jobID}/complete", h.CompleteJob)
			r.Get("/revenue", h.ListRevenue)
			r.Get("/revenue/summary", h.RevenueSummary)
		})
	})

	return r
}

// RequireUser rejects requests without a caller ID and stores it in the
// request context.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(UserHeader))
		if id == "" {
			writeError(w, http.StatusUnauthorized, "Missing "+UserHeader+" header", nil)
			return
		}
		ctx := context.WithValue(r.Context(), userKey, wallet.UserID(id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(r *http.Request) wallet.UserID {
	id, _ := r.Context().Value(userKey).(wallet.UserID)
	return id
}

func healthz(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				writeError(w, http.StatusServiceUnavailable, "Storage unreachable", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
