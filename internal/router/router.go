package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/buzzcutai/backend/internal/auth"
	"github.com/buzzcutai/backend/internal/dashboard"
	"github.com/buzzcutai/backend/internal/handlers"
	"github.com/buzzcutai/backend/internal/jobs"
	"github.com/buzzcutai/backend/internal/middleware"
)

// Pinger reports database reachability for /health. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps carries everything the router mounts.
type Deps struct {
	Auth           auth.Service
	AdminTokenHash string
	Eligibility    middleware.EligibilityChecker
	DB             Pinger

	Session     *auth.Handler
	Credits     *dashboard.Handler
	Generations *jobs.Handler
	Admin       *handlers.AdminHandler
	Webhook     http.Handler

	Log *slog.Logger
}

// New returns an http.Handler that serves the API under /api/v1 plus /health and /metrics.
func New(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if d.DB != nil {
			if err := d.DB.Ping(r.Context()); err != nil {
				log.Error("health check failed", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if d.Webhook != nil {
			r.Method(http.MethodPost, "/webhooks/creem", d.Webhook)
		}

		// User routes: Supabase bearer token.
		r.Group(func(r chi.Router) {
			r.Use(middleware.UserAuth(d.Auth))

			r.Post("/auth/session", d.Session.Session)

			r.Get("/credits", d.Credits.GetCredits)
			r.Get("/credits/history", d.Credits.ListHistory)
			r.Post("/credits/daily-grant", d.Credits.DailyGrant)
			r.Post("/credits/monthly-grant", d.Credits.MonthlyGrant)

			r.Get("/generations", d.Generations.ListGenerations)
			r.Get("/generations/{id}", d.Generations.GetGeneration)
			r.With(middleware.CreditCheck(d.Eligibility, log)).Post("/generations", d.Generations.CreateGeneration)
		})

		// Operator routes: X-Admin-Token.
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.AdminAuth(d.AdminTokenHash))

			r.Post("/credits/monthly-grant", d.Admin.BulkMonthlyGrant)
			r.Get("/customers/{userID}", d.Admin.InspectCustomer)
			r.Post("/customers/{userID}/fix-monthly", d.Admin.FixMonthly)
			r.Post("/customers/{userID}/balance", d.Admin.SetBalance)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
