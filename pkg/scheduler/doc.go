// Package scheduler drives an ExecutionPlan's stage DAG to completion, one
// wave of ready stages at a time: it asks the Load Balancer for a worker,
// dispatches via the RPC client, awaits the wave under a deadline, and
// hands completed stage results to the Aggregator.
package scheduler
