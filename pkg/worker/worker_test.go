package worker

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blwatch/blwatch/pkg/ledger"
	"github.com/blwatch/blwatch/pkg/probe"
	"github.com/blwatch/blwatch/pkg/queue"
	"github.com/blwatch/blwatch/pkg/types"
)

const (
	testDate  = "2026-08-24"
	testQueue = "task_queue"
	testZone  = "bl.test"
)

// feedBroker replays a fixed message set. The consumer channel stays open
// after the last message, like a live broker with an empty queue, so the
// pool has to terminate itself via the task count.
type feedBroker struct {
	mu     sync.Mutex
	bodies [][]byte
	acked  map[uint64]bool
	nacked map[uint64]bool
	depth  int // overrides MessageCount when set
}

func newFeedBroker(msgs ...types.QueueMessage) *feedBroker {
	b := &feedBroker{acked: make(map[uint64]bool), nacked: make(map[uint64]bool)}
	for _, m := range msgs {
		body, _ := json.Marshal(m)
		b.bodies = append(b.bodies, body)
	}
	return b
}

func (b *feedBroker) addRaw(body []byte) {
	b.bodies = append(b.bodies, body)
}

func (b *feedBroker) EnsureQueue(string) error { return nil }
func (b *feedBroker) Purge(string) (int, error) {
	return 0, nil
}

func (b *feedBroker) Publish(context.Context, string, []types.QueueMessage) error {
	return nil
}

func (b *feedBroker) Consume(ctx context.Context, _ string, _ int) (<-chan queue.Delivery, error) {
	out := make(chan queue.Delivery)
	go func() {
		for i, body := range b.bodies {
			select {
			case out <- queue.Delivery{Tag: uint64(i + 1), Body: body}:
			case <-ctx.Done():
				return
			}
		}
		<-ctx.Done()
	}()
	return out, nil
}

func (b *feedBroker) Ack(tag uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acked[tag] = true
	return nil
}

func (b *feedBroker) Nack(tag uint64, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nacked[tag] = true
	return nil
}

func (b *feedBroker) Close() error { return nil }

func (b *feedBroker) MessageCount(string) (int, error) {
	if b.depth > 0 {
		return b.depth, nil
	}
	return len(b.bodies), nil
}

func (b *feedBroker) ackedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.acked)
}

func (b *feedBroker) nackedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.nacked)
}

// scriptedProber returns a canned outcome per IP, not-listed by default.
type scriptedProber struct {
	outcomes map[string]probe.Outcome
	panicIPs map[string]bool
}

func (s *scriptedProber) Check(_ context.Context, ip, _ string) probe.Outcome {
	if s.panicIPs[ip] {
		panic("resolver exploded")
	}
	if out, ok := s.outcomes[ip]; ok {
		return out
	}
	return probe.Outcome{
		Result:  types.ResultNotListed,
		Status:  types.TaskStatusCompleted,
		Details: "query completed in 1.000 ms",
	}
}

func newTestStore(t *testing.T) *ledger.SQLiteStore {
	t.Helper()
	store, err := ledger.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedLedger(t *testing.T, store ledger.Store, ips ...string) []types.QueueMessage {
	t.Helper()
	zone := types.Zone{Name: "Test BL", DNS: testZone}
	var seeds []types.Seed
	var msgs []types.QueueMessage
	for _, ip := range ips {
		seeds = append(seeds, types.Seed{IP: ip, Zone: zone})
		msgs = append(msgs, types.QueueMessage{IP: ip, DNS: testZone})
	}
	_, err := store.InsertPending(seeds, testDate)
	require.NoError(t, err)
	return msgs
}

func TestRunDrainsQueue(t *testing.T) {
	store := newTestStore(t)
	msgs := seedLedger(t, store, "192.0.2.1", "192.0.2.2", "192.0.2.3")
	broker := newFeedBroker(msgs...)

	listed := probe.Outcome{
		Result:  types.ResultListed,
		Status:  types.TaskStatusCompleted,
		Details: "127.0.0.2: spam source (2.000 ms)",
	}
	prober := &scriptedProber{outcomes: map[string]probe.Outcome{"192.0.2.2": listed}}

	pool := NewPool(broker, store, prober, Config{QueueName: testQueue, Workers: 2})
	stats, err := pool.Run(context.Background(), testDate)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, 2, stats.Counts[types.ResultNotListed])
	assert.Equal(t, 1, stats.Counts[types.ResultListed])
	assert.Equal(t, 3, broker.ackedCount())

	pending, err := store.FetchPendingByDate(testDate)
	require.NoError(t, err)
	assert.Empty(t, pending)

	hits, err := store.FetchByDateResult(testDate, types.ResultListed)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "192.0.2.2", hits[0].IPAddress)
	require.NotNil(t, hits[0].Details)
	assert.Equal(t, "127.0.0.2: spam source (2.000 ms)", *hits[0].Details)
}

func TestRunEmptyQueue(t *testing.T) {
	store := newTestStore(t)
	broker := newFeedBroker()
	pool := NewPool(broker, store, &scriptedProber{}, Config{QueueName: testQueue, Workers: 2})

	stats, err := pool.Run(context.Background(), testDate)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Processed)
	assert.Empty(t, stats.Counts)
}

func TestRunFlushesAtThreshold(t *testing.T) {
	store := newTestStore(t)
	ips := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5"}
	broker := newFeedBroker(seedLedger(t, store, ips...)...)

	// Threshold 2 forces mid-run flushes plus a short final drain.
	pool := NewPool(broker, store, &scriptedProber{}, Config{
		QueueName:       testQueue,
		Workers:         2,
		BulkUpdateCount: 2,
	})
	stats, err := pool.Run(context.Background(), testDate)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Processed)

	pending, err := store.FetchPendingByDate(testDate)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRunPanicBecomesException(t *testing.T) {
	store := newTestStore(t)
	msgs := seedLedger(t, store, "192.0.2.1", "192.0.2.2")
	broker := newFeedBroker(msgs...)

	prober := &scriptedProber{panicIPs: map[string]bool{"192.0.2.1": true}}
	pool := NewPool(broker, store, prober, Config{QueueName: testQueue, Workers: 2})

	stats, err := pool.Run(context.Background(), testDate)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 1, stats.Counts[types.ResultException])
	assert.Equal(t, 1, stats.Counts[types.ResultNotListed])

	failed, err := store.FetchByDateResult(testDate, types.ResultException)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "192.0.2.1", failed[0].IPAddress)
	require.NotNil(t, failed[0].Details)
	assert.Contains(t, *failed[0].Details, "exception:")
}

func TestRunDiscardsUndecodableMessage(t *testing.T) {
	store := newTestStore(t)
	msgs := seedLedger(t, store, "192.0.2.1")
	broker := newFeedBroker(msgs...)
	broker.addRaw([]byte("not json"))

	pool := NewPool(broker, store, &scriptedProber{}, Config{QueueName: testQueue, Workers: 1})
	stats, err := pool.Run(context.Background(), testDate)
	require.NoError(t, err)

	// The bad message counts toward termination but records no outcome.
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 1, stats.Counts[types.ResultNotListed])
	assert.Equal(t, 2, broker.ackedCount())
}

// failOnceStore fails the first bulk update so the batch has to survive in
// the buffer until the final drain.
type failOnceStore struct {
	ledger.Store
	mu     sync.Mutex
	failed bool
}

func (s *failOnceStore) BulkUpdate(updates []types.TaskUpdate, checkDate string) error {
	s.mu.Lock()
	first := !s.failed
	s.failed = true
	s.mu.Unlock()
	if first {
		return assert.AnError
	}
	return s.Store.BulkUpdate(updates, checkDate)
}

func TestRunRetainsBatchOnBulkUpdateFailure(t *testing.T) {
	store := newTestStore(t)
	ips := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}
	broker := newFeedBroker(seedLedger(t, store, ips...)...)

	flaky := &failOnceStore{Store: store}
	pool := NewPool(broker, flaky, &scriptedProber{}, Config{
		QueueName:       testQueue,
		Workers:         1,
		BulkUpdateCount: 2,
	})
	stats, err := pool.Run(context.Background(), testDate)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Processed)

	// Every outcome lands despite the failed mid-run flush.
	pending, err := store.FetchPendingByDate(testDate)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// blockingExchanger holds every DNS exchange open until the probe context
// is cancelled.
type blockingExchanger struct{}

func (blockingExchanger) Exchange(ctx context.Context, _ *dns.Msg) (*dns.Msg, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRunCancelledProbesStayPending(t *testing.T) {
	store := newTestStore(t)
	msgs := seedLedger(t, store, "192.0.2.1", "192.0.2.2", "192.0.2.3")
	// Only two of the three counted messages are deliverable, so the pool
	// cannot finish on its own and must stop on cancellation.
	broker := newFeedBroker(msgs[:2]...)
	broker.depth = 3

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	// A real prober whose exchanges only return once cancelled: the error
	// it classifies must not be mistaken for a terminal outcome.
	pool := NewPool(broker, store, probe.NewProberWithExchanger(blockingExchanger{}), Config{
		QueueName:   testQueue,
		Workers:     2,
		StopTimeout: time.Second,
	})
	stats, err := pool.Run(ctx, testDate)
	require.NoError(t, err)

	// Interrupted probes were never answered: nothing is recorded, the
	// deliveries are requeued, and every ledger row stays pending for the
	// next run to resume.
	assert.Equal(t, 0, stats.Processed)
	assert.Empty(t, stats.Counts)
	assert.Equal(t, 2, broker.nackedCount())
	assert.Equal(t, 0, broker.ackedCount())

	pending, err := store.FetchPendingByDate(testDate)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestStatsSummary(t *testing.T) {
	stats := &Stats{
		Counts: map[types.ProbeResult]int{
			types.ResultNotListed: 10,
			types.ResultListed:    2,
		},
		Processed:  12,
		Elapsed:    2 * time.Second,
		ProbedTime: 360 * time.Millisecond,
	}
	assert.Equal(t, "processed 12 tasks in 2s (6.0 tasks/s, avg 30ms): not_listed=10 listed=2", stats.Summary())
}
