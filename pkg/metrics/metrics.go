package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stratumdb_workers_total",
			Help: "Total number of registered workers by status",
		},
		[]string{"status"},
	)

	WorkerHeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratumdb_worker_heartbeats_total",
			Help: "Total number of heartbeats received by worker",
		},
		[]string{"worker_id"},
	)

	HealthSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stratumdb_health_sweep_duration_seconds",
			Help:    "Time taken to run a worker health sweep",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkersEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stratumdb_workers_evicted_total",
			Help: "Total number of workers evicted for missed heartbeats",
		},
	)

	// Load balancer metrics
	SelectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stratumdb_selection_duration_seconds",
			Help:    "Time taken to select a worker, by policy",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"policy"},
	)

	SelectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratumdb_selections_total",
			Help: "Total number of worker selections by policy and outcome",
		},
		[]string{"policy", "outcome"},
	)

	ActiveAssignments = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stratumdb_active_assignments",
			Help: "Currently outstanding stage assignments per worker",
		},
		[]string{"worker_id"},
	)

	// Scheduler metrics
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratumdb_queries_total",
			Help: "Total number of queries by terminal state",
		},
		[]string{"state"},
	)

	QueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stratumdb_query_duration_seconds",
			Help:    "End-to-end query execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ActiveQueries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stratumdb_active_queries",
			Help: "Number of queries currently executing",
		},
	)

	StagesDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratumdb_stages_dispatched_total",
			Help: "Total number of stages dispatched by outcome",
		},
		[]string{"outcome"},
	)

	StageDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stratumdb_stage_duration_seconds",
			Help:    "Per-stage execution duration as reported by workers",
			Buckets: prometheus.DefBuckets,
		},
	)

	WaveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stratumdb_wave_duration_seconds",
			Help:    "Time taken to execute one DAG wave",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RPC client metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratumdb_rpc_requests_total",
			Help: "Total number of worker RPC calls by method and status",
		},
		[]string{"method", "status"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stratumdb_rpc_request_duration_seconds",
			Help:    "Worker RPC call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stratumdb_circuit_breaker_state",
			Help: "Circuit breaker state per worker endpoint (0=closed, 1=half-open, 2=open)",
		},
		[]string{"endpoint"},
	)

	// Aggregator metrics
	MergeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stratumdb_merge_duration_seconds",
			Help:    "Time taken to merge partition results for a query",
			Buckets: prometheus.DefBuckets,
		},
	)

	FinalAggregationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stratumdb_final_aggregation_duration_seconds",
			Help:    "Time taken to apply final aggregation by type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"aggregation_type"},
	)

	RowsAggregatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stratumdb_rows_aggregated_total",
			Help: "Total number of rows folded into aggregated query results",
		},
	)
)

func init() {
	prometheus.MustRegister(
		WorkersTotal,
		WorkerHeartbeatsTotal,
		HealthSweepDuration,
		WorkersEvictedTotal,
		SelectionDuration,
		SelectionsTotal,
		ActiveAssignments,
		QueriesTotal,
		QueryDuration,
		ActiveQueries,
		StagesDispatchedTotal,
		StageDuration,
		WaveDuration,
		RPCRequestsTotal,
		RPCRequestDuration,
		CircuitBreakerState,
		MergeDuration,
		FinalAggregationDuration,
		RowsAggregatedTotal,
	)
}

// Handler returns the Prometheus HTTP handler for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer, starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
