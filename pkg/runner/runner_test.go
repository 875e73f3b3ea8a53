package runner

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blwatch/blwatch/pkg/ledger"
	"github.com/blwatch/blwatch/pkg/reconciler"
	"github.com/blwatch/blwatch/pkg/types"
	"github.com/blwatch/blwatch/pkg/worker"
)

const testDate = "2026-08-24"

type fakeSource struct {
	seeds []types.Seed
	err   error
}

func (f *fakeSource) Generate() ([]types.Seed, error) { return f.seeds, f.err }

// fakeSync inserts the seeds as pending, standing in for the full
// synchronization protocol.
type fakeSync struct {
	store ledger.Store
}

func (f *fakeSync) Synchronize(_ context.Context, seeds []types.Seed, checkDate string) (*reconciler.Report, error) {
	inserted, err := f.store.InsertPending(seeds, checkDate)
	if err != nil {
		return nil, err
	}
	return &reconciler.Report{
		Generated:  len(seeds),
		Inserted:   inserted,
		Pending:    len(seeds),
		QueueDepth: len(seeds),
	}, nil
}

// fakePool marks every pending task with a scripted result.
type fakePool struct {
	store   ledger.Store
	results map[string]types.ProbeResult
}

func (f *fakePool) Run(_ context.Context, checkDate string) (*worker.Stats, error) {
	pending, err := f.store.FetchPendingByDate(checkDate)
	if err != nil {
		return nil, err
	}
	stats := &worker.Stats{Counts: make(map[types.ProbeResult]int), Elapsed: time.Second}
	var updates []types.TaskUpdate
	for _, task := range pending {
		result, ok := f.results[task.IPAddress]
		if !ok {
			result = types.ResultNotListed
		}
		updates = append(updates, types.TaskUpdate{
			IP:      task.IPAddress,
			DNS:     task.DNS,
			Status:  types.TaskStatusCompleted,
			Result:  result,
			Details: "query completed in 1.000 ms",
		})
		stats.Counts[result]++
		stats.Processed++
	}
	if err := f.store.BulkUpdate(updates, checkDate); err != nil {
		return nil, err
	}
	return stats, nil
}

type fakeAnalytic struct {
	promoted []types.Task
}

func (f *fakeAnalytic) Promote(_ context.Context, tasks []types.Task) (int, error) {
	f.promoted = append(f.promoted, tasks...)
	return len(tasks), nil
}

func newTestStore(t *testing.T) *ledger.SQLiteStore {
	t.Helper()
	store, err := ledger.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testSeeds() []types.Seed {
	zone := types.Zone{Name: "Test BL", DNS: "bl.test"}
	return []types.Seed{
		{IP: "192.0.2.1", Zone: zone},
		{IP: "192.0.2.2", Zone: zone},
		{IP: "192.0.2.3", Zone: zone},
	}
}

func TestRunPromotesListedTasks(t *testing.T) {
	store := newTestStore(t)
	analytic := &fakeAnalytic{}
	r := &Runner{
		Source:   &fakeSource{seeds: testSeeds()},
		Sync:     &fakeSync{store: store},
		Pool:     &fakePool{store: store, results: map[string]types.ProbeResult{"192.0.2.2": types.ResultListed}},
		Analytic: analytic,
		Ledger:   store,
	}

	require.NoError(t, r.RunDate(context.Background(), testDate))

	// Only the listed task reaches the analytic store.
	require.Len(t, analytic.promoted, 1)
	assert.Equal(t, "192.0.2.2", analytic.promoted[0].IPAddress)
}

func TestRunNothingListed(t *testing.T) {
	store := newTestStore(t)
	analytic := &fakeAnalytic{}
	r := &Runner{
		Source:   &fakeSource{seeds: testSeeds()},
		Sync:     &fakeSync{store: store},
		Pool:     &fakePool{store: store},
		Analytic: analytic,
		Ledger:   store,
	}

	require.NoError(t, r.RunDate(context.Background(), testDate))
	assert.Empty(t, analytic.promoted)
}

func TestRunGenerationFailureAborts(t *testing.T) {
	store := newTestStore(t)
	r := &Runner{
		Source:   &fakeSource{err: assert.AnError},
		Sync:     &fakeSync{store: store},
		Pool:     &fakePool{store: store},
		Analytic: &fakeAnalytic{},
		Ledger:   store,
	}

	err := r.RunDate(context.Background(), testDate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task generation failed")
}

func TestRunPrune(t *testing.T) {
	store := newTestStore(t)
	_, err := store.InsertPending(testSeeds(), "2026-08-20")
	require.NoError(t, err)

	r := &Runner{
		Source:   &fakeSource{seeds: testSeeds()},
		Sync:     &fakeSync{store: store},
		Pool:     &fakePool{store: store},
		Analytic: &fakeAnalytic{},
		Ledger:   store,
		Prune:    true,
	}
	require.NoError(t, r.RunDate(context.Background(), testDate))

	old, err := store.FetchByDate("2026-08-20")
	require.NoError(t, err)
	assert.Empty(t, old)

	today, err := store.FetchByDate(testDate)
	require.NoError(t, err)
	assert.Len(t, today, 3)
}

func TestRunInterruptedSkipsPromotion(t *testing.T) {
	store := newTestStore(t)
	analytic := &fakeAnalytic{}
	ctx, cancel := context.WithCancel(context.Background())

	r := &Runner{
		Source: &fakeSource{seeds: testSeeds()},
		Sync:   &fakeSync{store: store},
		Pool: &cancellingPool{
			inner:  &fakePool{store: store, results: map[string]types.ProbeResult{"192.0.2.2": types.ResultListed}},
			cancel: cancel,
		},
		Analytic: analytic,
		Ledger:   store,
	}

	err := r.RunDate(ctx, testDate)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, analytic.promoted)

	// The outcomes written before the interruption survive for the next
	// pass to promote.
	listed, err := store.FetchByDateResult(testDate, types.ResultListed)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

// cancellingPool cancels the run context mid-drain.
type cancellingPool struct {
	inner  Drainer
	cancel context.CancelFunc
}

func (c *cancellingPool) Run(ctx context.Context, checkDate string) (*worker.Stats, error) {
	stats, err := c.inner.Run(ctx, checkDate)
	c.cancel()
	return stats, err
}
