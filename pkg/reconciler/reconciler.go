package reconciler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/blwatch/blwatch/pkg/ledger"
	"github.com/blwatch/blwatch/pkg/log"
	"github.com/blwatch/blwatch/pkg/metrics"
	"github.com/blwatch/blwatch/pkg/queue"
	"github.com/blwatch/blwatch/pkg/types"
)

// Reconciler makes the ledger and the work queue consistent with the day's
// generated task set. The ledger is the source of truth; the queue is purged
// and rebuilt from the ledger's pending subset every run.
type Reconciler struct {
	ledger       ledger.Store
	broker       queue.Broker
	queueName    string
	publishBatch int
}

// Report summarizes one synchronization pass.
type Report struct {
	Generated  int
	Inserted   int64
	Pending    int
	QueueDepth int
}

// NewReconciler creates a reconciler that publishes pending tasks in batches
// of publishBatch messages.
func NewReconciler(store ledger.Store, broker queue.Broker, queueName string, publishBatch int) *Reconciler {
	if publishBatch <= 0 {
		publishBatch = 10000
	}
	return &Reconciler{
		ledger:       store,
		broker:       broker,
		queueName:    queueName,
		publishBatch: publishBatch,
	}
}

// Synchronize diffs the generated seeds against the ledger for checkDate,
// inserts the missing ones as pending, then rebuilds the queue from the
// ledger's pending subset. Re-running with the same inputs inserts nothing
// and leaves the queue depth equal to the pending count.
func (r *Reconciler) Synchronize(ctx context.Context, seeds []types.Seed, checkDate string) (*Report, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconcileDuration)

	logger := log.WithComponent("reconciler")

	existing, err := r.ledger.FetchByDate(checkDate)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger for %s: %w", checkDate, err)
	}
	known := make(map[types.TaskKey]struct{}, len(existing))
	for _, task := range existing {
		known[task.Key()] = struct{}{}
	}

	var missing []types.Seed
	zones := make(map[string]types.Zone)
	for _, seed := range seeds {
		zones[seed.Zone.DNS] = seed.Zone
		if _, ok := known[types.TaskKey{IP: seed.IP, DNS: seed.Zone.DNS}]; !ok {
			missing = append(missing, seed)
		}
	}

	inserted, err := r.ledger.InsertPending(missing, checkDate)
	if err != nil {
		return nil, fmt.Errorf("failed to insert pending tasks: %w", err)
	}
	metrics.TasksInserted.Add(float64(inserted))

	if err := r.broker.EnsureQueue(r.queueName); err != nil {
		return nil, err
	}
	// Stale messages carry no state the ledger lacks; drop them all and
	// republish from the authoritative pending set.
	purged, err := r.broker.Purge(r.queueName)
	if err != nil {
		return nil, err
	}
	if purged > 0 {
		logger.Info().Int("purged", purged).Msg("dropped stale queue messages")
	}

	pending, err := r.ledger.FetchPendingByDate(checkDate)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending tasks for %s: %w", checkDate, err)
	}

	for start := 0; start < len(pending); start += r.publishBatch {
		end := min(start+r.publishBatch, len(pending))
		batch := make([]types.QueueMessage, 0, end-start)
		for _, task := range pending[start:end] {
			// Zone metadata rides along for operator tooling; workers
			// only read ip and dns.
			seed := types.Seed{IP: task.IPAddress, Zone: zones[task.DNS]}
			if seed.Zone.DNS == "" {
				seed.Zone.DNS = task.DNS
			}
			batch = append(batch, seed.Message())
		}
		if err := r.broker.Publish(ctx, r.queueName, batch); err != nil {
			return nil, fmt.Errorf("failed to publish task batch: %w", err)
		}
		metrics.TasksPublished.Add(float64(len(batch)))
	}

	depth, err := r.broker.MessageCount(r.queueName)
	if err != nil {
		logger.Warn().Err(err).Msg("could not verify queue depth")
		depth = -1
	} else {
		metrics.QueueDepth.Set(float64(depth))
	}

	report := &Report{
		Generated:  len(seeds),
		Inserted:   inserted,
		Pending:    len(pending),
		QueueDepth: depth,
	}

	level := zerolog.InfoLevel
	if depth >= 0 && depth != len(pending) {
		// Non-fatal; workers drain whatever the queue holds and the
		// ledger remains authoritative.
		level = zerolog.WarnLevel
	}
	logger.WithLevel(level).
		Str("check_date", checkDate).
		Int("generated", report.Generated).
		Int64("inserted", report.Inserted).
		Int("pending", report.Pending).
		Int("queue_depth", report.QueueDepth).
		Msg("ledger and queue synchronized")

	return report, nil
}
