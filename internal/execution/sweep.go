package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/buzzcutai/backend/internal/ledger"
	"github.com/buzzcutai/backend/internal/metrics"
)

type MonthlySweepArgs struct{}

func (MonthlySweepArgs) Kind() string { return "monthly_grant_sweep" }

// MonthlyGranter runs the monthly grant for every subscriber.
type MonthlyGranter interface {
	GrantMonthlyToAll(ctx context.Context) (ledger.BulkResult, error)
}

type MonthlySweepWorker struct {
	river.WorkerDefaults[MonthlySweepArgs]
	granter MonthlyGranter
	log     *slog.Logger
}

func NewMonthlySweepWorker(g MonthlyGranter, log *slog.Logger) *MonthlySweepWorker {
	if log == nil {
		log = slog.Default()
	}
	return &MonthlySweepWorker{granter: g, log: log}
}

func (w *MonthlySweepWorker) Work(ctx context.Context, job *river.Job[MonthlySweepArgs]) error {
	res, err := w.granter.GrantMonthlyToAll(ctx)
	if err != nil {
		return fmt.Errorf("monthly grant sweep: %w", err)
	}
	metrics.SweepLastGranted.Set(float64(res.Granted))
	w.log.Info("monthly grant sweep", "processed", res.Processed, "granted", res.Granted, "errors", res.Errors)
	return nil
}

// Timeout bounds a single sweep; the next periodic run picks up the rest.
func (w *MonthlySweepWorker) Timeout(*river.Job[MonthlySweepArgs]) time.Duration {
	return 10 * time.Minute
}

// MonthlySweepJob schedules the sweep every interval and once at startup.
func MonthlySweepJob(interval time.Duration) *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return MonthlySweepArgs{}, nil
		},
		&river.PeriodicJobOpts{RunOnStart: true},
	)
}
