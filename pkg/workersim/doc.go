/*
Package worker provides an in-process simulated worker for exercising the
coordinator (registry, load balancer, scheduler, aggregator) without a real
gRPC worker fleet or a vectorized execution engine.

A SimWorker registers itself with a pkg/registry.Registry, heartbeats on a
loop, and implements pkg/rpcclient.Client directly: ExecuteStage sleeps for
a simulated duration (honoring context cancellation so wave deadlines and
query cancellation interrupt it exactly as a real transport-level cancel
would), optionally fails based on a declared failure rate, and seeds rows
into a shared aggregator.MockFetcher so downstream aggregation has
something to fetch.

# Why a simulator

spec.md explicitly keeps the real worker-side query execution engine and
wire transport out of scope (Non-goals), but the coordinator's core logic —
dispatch, wave sequencing, timeout handling, cancellation, aggregation — is
only interesting under concurrent, possibly-failing, possibly-slow worker
behavior. SimWorker is the test and demo harness that supplies that
behavior without requiring a second real process per worker.

# Architecture

	┌────────────────── SIMULATED CLUSTER ──────────────────┐
	│                                                          │
	│  ┌───────────────┐   ┌───────────────┐                 │
	│  │  SimWorker #1  │   │  SimWorker #2  │   ...          │
	│  │  - heartbeat    │   │  - heartbeat    │               │
	│  │  - ExecuteStage │   │  - ExecuteStage │               │
	│  └───────┬────────┘   └───────┬────────┘                │
	│          │                     │                          │
	│          ▼                     ▼                          │
	│   ┌────────────────────────────────────┐                 │
	│   │      registry.Registry              │                 │
	│   └────────────────────────────────────┘                 │
	│                                                          │
	│   ┌────────────────────────────────────┐                 │
	│   │   aggregator.MockFetcher (shared)    │                 │
	│   │   resultLocation -> rows             │                 │
	│   └────────────────────────────────────┘                 │
	└──────────────────────────────────────────────────────────┘

# Payload format

A SimWorker interprets an ExecutionStage's opaque Payload as JSON:

	{"columns": ["a","b"], "rowCount": 5000, "durationMs": 50, "failureRate": 0.0}

Any field left out falls back to a small fast default, so plans built
without populating Payload still execute.

# Usage

	reg := registry.New(registry.DefaultConfig(), nil)
	fetcher := aggregator.NewMockFetcher(nil)
	w1 := worker.NewSimWorker(reg, nil, fetcher, "sim-1:9000", worker.DefaultConfig())
	w1.Start()
	defer w1.Stop()

	cluster := worker.NewSimCluster(w1)
	sched := scheduler.New(scheduler.DefaultConfig(), reg, lb, cluster, agg, nil)

# Integration Points

  - pkg/registry: SimWorker registers and heartbeats through it
  - pkg/rpcclient: SimWorker/SimCluster implement the Client contract
  - pkg/aggregator: stage output rows are seeded into a shared MockFetcher
  - pkg/scheduler: consumes a SimCluster as its rpcclient.Client
  - pkg/log: heartbeat and stage-execution events are logged through it
*/
package worker
