package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/blwatch/blwatch/pkg/ledger"
	"github.com/blwatch/blwatch/pkg/log"
	"github.com/blwatch/blwatch/pkg/probe"
	"github.com/blwatch/blwatch/pkg/queue"
	"github.com/blwatch/blwatch/pkg/types"
)

const (
	// DefaultProbeTimeout bounds one task end to end, including the TXT
	// follow-up for listed hits.
	DefaultProbeTimeout = 60 * time.Second

	// DefaultStopTimeout is how long the pool waits for in-flight probes
	// after deciding to stop.
	DefaultStopTimeout = 5 * time.Second

	maxPrefetch = 100
)

// Prober classifies one (ip, zone) pair. Satisfied by *probe.Prober.
type Prober interface {
	Check(ctx context.Context, ip, zone string) probe.Outcome
}

// Config holds the pool sizing knobs.
type Config struct {
	QueueName       string
	Workers         int
	BulkUpdateCount int
	ProbeTimeout    time.Duration
	StopTimeout     time.Duration
}

// Pool drains the work queue with a fixed set of goroutines, buffering
// probe outcomes and flushing them to the ledger in bulk.
type Pool struct {
	broker queue.Broker
	store  ledger.Store
	prober Prober
	cfg    Config

	mu         sync.Mutex
	pending    []types.TaskUpdate
	counts     map[types.ProbeResult]int
	done       int
	total      int
	busy       map[int]string
	probedTime time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewPool creates a worker pool. Zero config fields take their defaults.
func NewPool(broker queue.Broker, store ledger.Store, prober Prober, cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 50
	}
	if cfg.BulkUpdateCount <= 0 {
		cfg.BulkUpdateCount = 500
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	return &Pool{
		broker: broker,
		store:  store,
		prober: prober,
		cfg:    cfg,
		counts: make(map[types.ProbeResult]int),
		busy:   make(map[int]string),
		stopCh: make(chan struct{}),
	}
}

// Run drains the queue until every message counted at start has been
// processed, then flushes the remaining buffered outcomes. It returns early
// with whatever was processed when ctx is cancelled.
func (p *Pool) Run(ctx context.Context, checkDate string) (*Stats, error) {
	start := time.Now()
	logger := log.WithComponent("worker")

	total, err := p.broker.MessageCount(p.cfg.QueueName)
	if err != nil {
		return nil, fmt.Errorf("failed to size the work queue: %w", err)
	}
	if total == 0 {
		logger.Info().Msg("queue is empty, nothing to do")
		return p.snapshot(start), nil
	}
	p.total = total

	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	prefetch := min(2*p.cfg.Workers, maxPrefetch)
	deliveries, err := p.broker.Consume(consumeCtx, p.cfg.QueueName, prefetch)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	logger.Info().
		Int("workers", p.cfg.Workers).
		Int("tasks", total).
		Int("prefetch", prefetch).
		Msg("starting worker pool")

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				select {
				case <-p.stopCh:
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					p.handle(ctx, id, d, checkDate)
				}
			}
		}(i)
	}

	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(workersDone)
	}()

	select {
	case <-p.stopCh:
		// All counted tasks processed.
	case <-ctx.Done():
		logger.Warn().Msg("run cancelled, stopping workers")
		p.stop()
	case <-workersDone:
		// Consumer channel closed under us; stop() below is a no-op for
		// the already-exited workers but releases anyone mid-select.
		logger.Warn().Msg("consumer closed before all tasks were processed")
		p.stop()
	}
	cancel()

	select {
	case <-workersDone:
	case <-time.After(p.cfg.StopTimeout):
		p.mu.Lock()
		stuck := make([]int, 0, len(p.busy))
		for id := range p.busy {
			stuck = append(stuck, id)
		}
		sort.Ints(stuck)
		p.mu.Unlock()
		logger.Warn().
			Ints("worker_ids", stuck).
			Dur("timeout", p.cfg.StopTimeout).
			Msg("workers still running after stop timeout")
	}

	p.flushAll(checkDate)

	stats := p.snapshot(start)
	logger.Info().Msg(stats.Summary())
	return stats, nil
}

// handle processes one delivery: decode, probe, buffer, ack.
func (p *Pool) handle(ctx context.Context, id int, d queue.Delivery, checkDate string) {
	logger := log.WithComponent("worker")

	var msg types.QueueMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		// Malformed messages cannot be retried; drop them and move on.
		logger.Error().Err(err).Msg("discarding undecodable message")
		if err := p.broker.Ack(d.Tag); err != nil {
			logger.Error().Err(err).Msg("failed to ack message")
		}
		p.record(types.TaskUpdate{}, false, checkDate)
		return
	}

	p.mu.Lock()
	p.busy[id] = msg.IP + "/" + msg.DNS
	p.mu.Unlock()

	outcome := p.probeOne(ctx, msg.IP, msg.DNS)

	p.mu.Lock()
	delete(p.busy, id)
	p.mu.Unlock()

	if ctx.Err() != nil {
		// The probe was cut short by shutdown, not answered. The task
		// stays pending in the ledger and goes back on the queue so the
		// next run resumes it.
		if err := p.broker.Nack(d.Tag, true); err != nil {
			logger.Error().Err(err).Str("ip", msg.IP).Str("dns", msg.DNS).Msg("failed to requeue message")
		}
		return
	}

	logger.Debug().
		Str("ip", msg.IP).
		Str("dns", msg.DNS).
		Str("result", string(outcome.Result)).
		Dur("latency", outcome.Latency).
		Msg("task completed")

	p.mu.Lock()
	p.probedTime += outcome.Latency
	p.mu.Unlock()

	// Buffer the outcome before acknowledging: once the broker drops the
	// message, the buffer is the only copy of the result.
	p.record(types.TaskUpdate{
		IP:      msg.IP,
		DNS:     msg.DNS,
		Status:  outcome.Status,
		Result:  outcome.Result,
		Details: outcome.Details,
	}, true, checkDate)

	if err := p.broker.Ack(d.Tag); err != nil {
		logger.Error().Err(err).Str("ip", msg.IP).Str("dns", msg.DNS).Msg("failed to ack message")
	}
}

// probeOne runs one probe under the per-task deadline, converting a panic
// into a terminal exception outcome so the pool survives it.
func (p *Pool) probeOne(ctx context.Context, ip, zone string) (out probe.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger := log.WithComponent("worker")
			logger.Error().
				Str("ip", ip).Str("dns", zone).
				Interface("panic", r).
				Msg("probe panicked")
			out = probe.Outcome{
				Result:  types.ResultException,
				Status:  types.TaskStatusCompleted,
				Details: fmt.Sprintf("exception: %v", r),
			}
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
	defer cancel()
	return p.prober.Check(ctx, ip, zone)
}

// record buffers one outcome, flushes the buffer when it reaches the bulk
// threshold, and stops the pool once every counted task is done.
func (p *Pool) record(update types.TaskUpdate, valid bool, checkDate string) {
	var batch []types.TaskUpdate

	p.mu.Lock()
	if valid {
		p.pending = append(p.pending, update)
		p.counts[update.Result]++
	}
	p.done++
	finished := p.total > 0 && p.done >= p.total
	if len(p.pending) >= p.cfg.BulkUpdateCount {
		// Hand off one bulk-sized batch; the rest stays buffered.
		n := p.cfg.BulkUpdateCount
		batch = append([]types.TaskUpdate(nil), p.pending[:n]...)
		p.pending = append([]types.TaskUpdate(nil), p.pending[n:]...)
	}
	p.mu.Unlock()

	if batch != nil {
		p.flush(batch, checkDate)
	}
	if finished {
		p.stop()
	}
}

// flush writes one batch, putting it back in the buffer on failure so the
// final drain retries it.
func (p *Pool) flush(batch []types.TaskUpdate, checkDate string) {
	logger := log.WithComponent("worker")
	if err := p.store.BulkUpdate(batch, checkDate); err != nil {
		logger.Error().
			Err(err).
			Int("batch_size", len(batch)).
			Msg("bulk update failed, retaining batch")
		p.mu.Lock()
		p.pending = append(batch, p.pending...)
		p.mu.Unlock()
		return
	}
	logger.Debug().Int("rows", len(batch)).Msg("flushed outcomes to ledger")
}

// flushAll drains whatever is left in the buffer in bulk-sized chunks.
func (p *Pool) flushAll(checkDate string) {
	p.mu.Lock()
	remaining := p.pending
	p.pending = nil
	p.mu.Unlock()

	logger := log.WithComponent("worker")
	for start := 0; start < len(remaining); start += p.cfg.BulkUpdateCount {
		end := min(start+p.cfg.BulkUpdateCount, len(remaining))
		chunk := remaining[start:end]
		if err := p.store.BulkUpdate(chunk, checkDate); err != nil {
			logger.Error().
				Err(err).
				Int("rows", len(remaining)-start).
				Msg("final drain failed, outcomes lost for this run")
			return
		}
	}
	if len(remaining) > 0 {
		logger.Info().Int("rows", len(remaining)).Msg("drained outcome buffer")
	}
}

func (p *Pool) stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

func (p *Pool) snapshot(start time.Time) *Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	counts := make(map[types.ProbeResult]int, len(p.counts))
	for k, v := range p.counts {
		counts[k] = v
	}
	return &Stats{
		Counts:     counts,
		Processed:  p.done,
		Elapsed:    time.Since(start),
		ProbedTime: p.probedTime,
	}
}
