package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Probe metrics
	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blwatch_probes_total",
			Help: "Total number of DNSBL probes by terminal result",
		},
		[]string{"result"},
	)

	ProbeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "blwatch_probe_duration_seconds",
			Help:    "DNSBL probe duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Ledger metrics
	BulkUpdatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blwatch_bulk_updates_total",
			Help: "Total number of ledger bulk update batches committed",
		},
	)

	BulkUpdateRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blwatch_bulk_update_rows_total",
			Help: "Total number of ledger rows written by bulk updates",
		},
	)

	BulkUpdateFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blwatch_bulk_update_failures_total",
			Help: "Total number of failed ledger bulk update batches",
		},
	)

	// Synchronization metrics
	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "blwatch_reconcile_duration_seconds",
			Help:    "Time taken to reconcile ledger and queue in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TasksInserted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blwatch_tasks_inserted_total",
			Help: "Total number of new pending tasks inserted into the ledger",
		},
	)

	TasksPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blwatch_tasks_published_total",
			Help: "Total number of tasks published to the work queue",
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "blwatch_queue_depth",
			Help: "Broker-reported queue depth after synchronization",
		},
	)

	// Promotion metrics
	TasksPromoted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blwatch_tasks_promoted_total",
			Help: "Total number of listed tasks promoted to the analytic store",
		},
	)
)

func init() {
	prometheus.MustRegister(ProbesTotal)
	prometheus.MustRegister(ProbeDuration)
	prometheus.MustRegister(BulkUpdatesTotal)
	prometheus.MustRegister(BulkUpdateRowsTotal)
	prometheus.MustRegister(BulkUpdateFailures)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(TasksInserted)
	prometheus.MustRegister(TasksPublished)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(TasksPromoted)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
