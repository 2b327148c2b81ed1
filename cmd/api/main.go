package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/buzzcutai/backend/internal/billing"
	"github.com/buzzcutai/backend/internal/config"
	"github.com/buzzcutai/backend/internal/execution"
	"github.com/buzzcutai/backend/internal/jobs"
	"github.com/buzzcutai/backend/internal/ledger"
	"github.com/buzzcutai/backend/internal/repository"
	"github.com/buzzcutai/backend/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	billing.ApplyProductIDs(cfg.ProductIDs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running and DATABASE_URL is correct", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	validator, err := services.NewValidator()
	if err != nil {
		slog.Error("Schema validator init failed", "error", err)
		os.Exit(1)
	}

	// Ledger
	customerRepo := repository.NewCustomerRepo(pool)
	subscriptionRepo := repository.NewSubscriptionRepo(pool)
	historyRepo := repository.NewHistoryRepo(pool)
	ledgerSvc := ledger.NewService(pool, customerRepo, subscriptionRepo, historyRepo, logger)

	// Generations: insert func is set after River client is created (breaks init cycle)
	var insertMu sync.Mutex
	var insertFn jobs.InsertGenerateTxFunc
	insertGenerate := func(ctx context.Context, tx pgx.Tx, args execution.GenerateImageArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			return errors.New("river insert not wired")
		}
		return fn(ctx, tx, args)
	}

	jobsRepo := jobs.NewRepository(pool)
	jobsSvc := jobs.NewService(jobsRepo, ledgerSvc, insertGenerate, logger)

	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewGenerateImageWorker(jobsSvc, validator, execution.ProviderConfig{
		BaseURL: cfg.GenerationAPIURL,
		APIKey:  cfg.GenerationAPIKey,
	}, logger))
	river.AddWorker(workers, execution.NewMonthlySweepWorker(ledgerSvc, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: max(cfg.WorkerConcurrency, 1)},
		},
		Workers:      workers,
		PeriodicJobs: []*river.PeriodicJob{execution.MonthlySweepJob(cfg.SweepInterval())},
		Logger:       logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, args execution.GenerateImageArgs) error {
		_, err := riverClient.InsertTx(ctx, tx, args, nil)
		return err
	}
	insertMu.Unlock()

	handler := newAPIHandler(cfg, apiDeps{
		pool:          pool,
		ledger:        ledgerSvc,
		customers:     customerRepo,
		subscriptions: subscriptionRepo,
		generations:   jobsSvc,
		validator:     validator,
		logger:        logger,
	})

	// Start River client (processes jobs)
	if err := riverClient.Start(ctx); err != nil {
		slog.Error("River client failed to start", "error", err)
		os.Exit(1)
	}

	serverAddr := "0.0.0.0:" + cfg.Port
	srv := &http.Server{
		Addr:              serverAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("Starting HTTP server", "addr", serverAddr)
	if err := serve(ctx, srv, riverClient, 15*time.Second); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped")
}
