package main

import (
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/cors"

	"github.com/buzzcutai/backend/internal/auth"
	"github.com/buzzcutai/backend/internal/config"
	"github.com/buzzcutai/backend/internal/dashboard"
	"github.com/buzzcutai/backend/internal/handlers"
	"github.com/buzzcutai/backend/internal/jobs"
	"github.com/buzzcutai/backend/internal/ledger"
	"github.com/buzzcutai/backend/internal/repository"
	"github.com/buzzcutai/backend/internal/router"
	"github.com/buzzcutai/backend/internal/services"
	"github.com/buzzcutai/backend/internal/webhook"
)

type apiDeps struct {
	pool          *pgxpool.Pool
	ledger        *ledger.Service
	customers     *repository.CustomerRepo
	subscriptions *repository.SubscriptionRepo
	generations   jobs.Service
	validator     *services.Validator
	logger        *slog.Logger
}

// newAPIHandler builds every HTTP handler and wraps the router in CORS.
func newAPIHandler(cfg *config.Config, d apiDeps) http.Handler {
	authSvc := auth.NewService(cfg.SupabaseJWTSecret)
	if cfg.SupabaseJWTSecret == "" {
		d.logger.Warn("SUPABASE_JWT_SECRET is empty; every user request will be rejected")
	}
	if cfg.AdminTokenHash == "" {
		d.logger.Warn("ADMIN_TOKEN_HASH is empty; admin routes are disabled")
	}
	if cfg.CreemWebhookSecret == "" {
		d.logger.Warn("CREEM_WEBHOOK_SECRET is empty; webhook deliveries will be rejected")
	}

	apiRouter := router.New(router.Deps{
		Auth:           authSvc,
		AdminTokenHash: cfg.AdminTokenHash,
		Eligibility:    d.ledger,
		DB:             d.pool,
		Session:        auth.NewHandler(d.ledger, d.logger),
		Credits:        dashboard.NewHandler(d.ledger, d.logger),
		Generations:    jobs.NewHandler(d.generations, d.validator, d.logger),
		Admin:          &handlers.AdminHandler{Ledger: d.ledger, Logger: d.logger},
		Webhook:        webhook.NewHandler(cfg.CreemWebhookSecret, d.ledger, d.customers, d.subscriptions, d.validator, d.logger),
		Log:            d.logger,
	})

	return cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	}).Handler(apiRouter)
}
