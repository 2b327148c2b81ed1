// Command creditsctl is the operator CLI for the credits ledger. It talks to
// Postgres directly and applies the same grant rules as the API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/buzzcutai/backend/internal/billing"
	"github.com/buzzcutai/backend/internal/config"
	"github.com/buzzcutai/backend/internal/ledger"
	"github.com/buzzcutai/backend/internal/repository"
)

var rootCmd = &cobra.Command{
	Use:           "creditsctl",
	Short:         "Inspect and repair Buzz Cut AI credit balances",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openLedger connects to the configured database. The caller closes the pool.
func openLedger(ctx context.Context) (*ledger.Service, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	billing.ApplyProductIDs(cfg.ProductIDs)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	svc := ledger.NewService(pool,
		repository.NewCustomerRepo(pool),
		repository.NewSubscriptionRepo(pool),
		repository.NewHistoryRepo(pool),
		logger,
	)
	return svc, pool, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
