/*
Package metrics provides Prometheus metrics collection and exposition for stratumdb.

The metrics package defines and registers all stratumdb metrics using the Prometheus
client library, providing observability into worker registry health, load-balancer
selection behavior, query scheduling, RPC transport, and result aggregation. Metrics
are exposed via HTTP endpoint for scraping by Prometheus servers.

# Architecture

stratumdb's metrics system follows Prometheus best practices with instrumentation
at every core component boundary:

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Metric Types                   │          │
	│  │                                              │          │
	│  │  Gauge: Instant values (active queries)     │          │
	│  │  Counter: Monotonic increases (RPC calls)   │          │
	│  │  Histogram: Distributions (wave duration)   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Registry: worker counts, heartbeats, sweep  │          │
	│  │  Load Balancer: selection duration/outcome   │          │
	│  │  Scheduler: queries, stages, wave duration   │          │
	│  │  RPC Client: request duration, breaker state │          │
	│  │  Aggregator: merge/final-aggregation timing  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint               │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: metrics.Handler()               │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Metric Registry:
  - Global Prometheus DefaultRegistry
  - All metrics registered at package init
  - Thread-safe for concurrent updates

Gauge Metrics:
  - Instant value that can go up or down
  - Examples: workers by status, active queries, outstanding load
  - Operations: Set, Inc, Dec, Add, Sub

Counter Metrics:
  - Monotonically increasing value
  - Examples: queries_total, rpc_requests_total
  - Operations: Inc, Add (cannot decrease)

Histogram Metrics:
  - Distribution of observed values
  - Examples: wave duration, stage duration, merge duration
  - Includes: sum, count, buckets

Timer Helper:
  - Convenience wrapper for timing operations
  - Start timer, observe duration to histogram
  - Supports label values for histogram vectors

Collector:
  - Polls Registry and LoadBalancer on an interval to recompute gauges
    that are awkward to keep exactly in sync via inline Set() calls
    scattered across mutation sites (worker counts by status, and
    per-worker outstanding load)

# Metrics Catalog

Registry Metrics:

stratumdb_workers_total{status}:
  - Type: Gauge
  - Description: Registered workers by status (healthy/unhealthy/draining)

stratumdb_worker_heartbeats_total{worker_id}:
  - Type: Counter
  - Description: Heartbeats received per worker

stratumdb_health_sweep_duration_seconds:
  - Type: Histogram
  - Description: Time taken to run one health sweep pass

stratumdb_workers_evicted_total:
  - Type: Counter
  - Description: Workers marked UNHEALTHY for a missed heartbeat deadline

Load Balancer Metrics:

stratumdb_selection_duration_seconds{policy}:
  - Type: Histogram
  - Description: Time to select a worker, by policy

stratumdb_selections_total{policy, outcome}:
  - Type: Counter
  - Description: Worker selections by policy and outcome (ok/no_workers)

stratumdb_active_assignments{worker_id}:
  - Type: Gauge
  - Description: Currently outstanding stage assignments per worker

Scheduler Metrics:

stratumdb_queries_total{state}:
  - Type: Counter
  - Description: Queries by terminal state (completed/failed/cancelled)

stratumdb_query_duration_seconds:
  - Type: Histogram
  - Description: End-to-end query execution duration

stratumdb_active_queries:
  - Type: Gauge
  - Description: Queries currently executing

stratumdb_stages_dispatched_total{outcome}:
  - Type: Counter
  - Description: Stages dispatched by outcome (ok/failed)

stratumdb_stage_duration_seconds:
  - Type: Histogram
  - Description: Per-stage execution duration as reported by workers

stratumdb_wave_duration_seconds:
  - Type: Histogram
  - Description: Time to execute one DAG wave

RPC Client Metrics:

stratumdb_rpc_requests_total{method, status}:
  - Type: Counter
  - Description: Worker RPC calls by method and status

stratumdb_rpc_request_duration_seconds{method}:
  - Type: Histogram
  - Description: Worker RPC call duration

stratumdb_circuit_breaker_state{endpoint}:
  - Type: Gauge
  - Description: Circuit breaker state per worker endpoint (0=closed, 1=half-open, 2=open)

Aggregator Metrics:

stratumdb_merge_duration_seconds:
  - Type: Histogram
  - Description: Time to merge partition results for a query

stratumdb_final_aggregation_duration_seconds{aggregation_type}:
  - Type: Histogram
  - Description: Time to apply the final aggregation operator

stratumdb_rows_aggregated_total:
  - Type: Counter
  - Description: Rows folded into aggregated query results

# Usage

Updating Gauge Metrics:

	import "github.com/cuemby/stratumdb/pkg/metrics"

	metrics.WorkersTotal.WithLabelValues("healthy").Set(5)
	metrics.ActiveQueries.Inc()
	metrics.ActiveQueries.Dec()

Updating Counter Metrics:

	metrics.QueriesTotal.WithLabelValues("completed").Inc()
	metrics.RPCRequestsTotal.WithLabelValues("ExecuteStage", "ok").Add(1)

Recording Histogram Observations:

	timer := metrics.NewTimer()
	// ... run a wave ...
	timer.ObserveDuration(metrics.WaveDuration)

Using Timer with Labels:

	timer := metrics.NewTimer()
	// ... select a worker ...
	timer.ObserveDurationVec(metrics.SelectionDuration, string(policy))

Complete Example:

	package main

	import (
		"net/http"
		"github.com/cuemby/stratumdb/pkg/metrics"
	)

	func main() {
		metrics.WorkersTotal.WithLabelValues("healthy").Set(3)
		metrics.ActiveQueries.Set(2)

		timer := metrics.NewTimer()
		runQuery()
		timer.ObserveDuration(metrics.QueryDuration)

		http.Handle("/metrics", metrics.Handler())
		http.ListenAndServe(":9090", nil)
	}

	func runQuery() {}

# Integration Points

This package integrates with:

  - pkg/registry: Updates worker-count and heartbeat metrics inline
  - pkg/loadbalancer: Times selections, tracks outstanding load
  - pkg/scheduler: Records query/wave/stage outcomes and durations
  - pkg/rpcclient: Instruments RPC duration and circuit-breaker state
  - pkg/aggregator: Times merge and final-aggregation
  - Collector: periodically reconciles gauges against source-of-truth state
  - Prometheus: scrapes /metrics

# Design Patterns

Package Init Registration:
  - All metrics registered in init() function
  - MustRegister panics on duplicate registration

Label Discipline:
  - Use WithLabelValues for cardinality-bounded labels (status, policy,
    outcome, aggregation_type)
  - worker_id and endpoint labels are bounded by cluster size, which
    this system keeps small (minWorkers/maxWorkers, spec.md §6)

Timer Pattern:
  - Create timer at operation start
  - Defer or explicitly call ObserveDuration/ObserveDurationVec

# Troubleshooting

Missing Metrics:
  - Check: metric registered in init() and the variable exported
  - Check: MustRegister was not skipped by an early panic elsewhere

Stale Gauges:
  - Cause: a Set()-based gauge fell out of sync with source-of-truth
    state because its only update site is an Inc/Dec pair
  - Solution: Collector recomputes WorkersTotal and ActiveAssignments
    from Registry/LoadBalancer state on a fixed interval

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
*/
package metrics
