package runner

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/blwatch/blwatch/pkg/ledger"
	"github.com/blwatch/blwatch/pkg/log"
	"github.com/blwatch/blwatch/pkg/reconciler"
	"github.com/blwatch/blwatch/pkg/types"
	"github.com/blwatch/blwatch/pkg/worker"
)

// TaskSource produces the day's task seeds.
type TaskSource interface {
	Generate() ([]types.Seed, error)
}

// Synchronizer brings the ledger and queue in line with the task seeds.
type Synchronizer interface {
	Synchronize(ctx context.Context, seeds []types.Seed, checkDate string) (*reconciler.Report, error)
}

// Drainer processes the queued tasks until done or cancelled.
type Drainer interface {
	Run(ctx context.Context, checkDate string) (*worker.Stats, error)
}

// AnalyticStore receives the day's listed tasks.
type AnalyticStore interface {
	Promote(ctx context.Context, tasks []types.Task) (int, error)
}

// Runner executes one complete daily pass: generate, synchronize, drain,
// promote. Every stage is idempotent, so an interrupted pass can simply be
// started again.
type Runner struct {
	Source   TaskSource
	Sync     Synchronizer
	Pool     Drainer
	Analytic AnalyticStore
	Ledger   ledger.Store

	// Prune, when set, removes ledger rows older than the current day
	// after a successful pass.
	Prune bool
}

// Run executes the pass for the current calendar date.
func (r *Runner) Run(ctx context.Context) error {
	return r.RunDate(ctx, types.Today())
}

// RunDate executes the pass for an explicit check date.
func (r *Runner) RunDate(ctx context.Context, checkDate string) error {
	runID := uuid.NewString()
	logger := log.WithRunID(runID)
	logger.Info().Str("check_date", checkDate).Msg("starting run")

	seeds, err := r.Source.Generate()
	if err != nil {
		return fmt.Errorf("task generation failed: %w", err)
	}

	report, err := r.Sync.Synchronize(ctx, seeds, checkDate)
	if err != nil {
		return fmt.Errorf("synchronization failed: %w", err)
	}

	stats, err := r.Pool.Run(ctx, checkDate)
	if err != nil {
		return fmt.Errorf("queue drain failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		// Partial results are already in the ledger; promotion waits for
		// the next pass.
		logger.Warn().Int("processed", stats.Processed).Msg("run interrupted, skipping promotion")
		return err
	}

	listed, err := r.Ledger.FetchByDateResult(checkDate, types.ResultListed)
	if err != nil {
		return fmt.Errorf("failed to collect listed tasks: %w", err)
	}
	promoted, err := r.Analytic.Promote(ctx, listed)
	if err != nil {
		return fmt.Errorf("promotion failed: %w", err)
	}

	if r.Prune {
		deleted, err := r.Ledger.DeleteBefore(checkDate)
		if err != nil {
			return fmt.Errorf("ledger prune failed: %w", err)
		}
		if deleted > 0 {
			logger.Info().Int64("rows", deleted).Msg("pruned old ledger rows")
		}
	}

	logger.Info().
		Str("check_date", checkDate).
		Int("generated", report.Generated).
		Int64("inserted", report.Inserted).
		Int("processed", stats.Processed).
		Int("listed", len(listed)).
		Int("promoted", promoted).
		Str("summary", stats.Summary()).
		Msg("run complete")
	return nil
}
