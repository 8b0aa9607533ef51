package metrics

import (
	"context"
	"time"

	"github.com/cuemby/stratumdb/pkg/types"
)

// WorkerSource is the minimal registry view the Collector polls. Satisfied
// by *registry.Registry; declared here to avoid an import cycle (registry
// already imports metrics to update counters inline).
type WorkerSource interface {
	List(status *types.WorkerStatus) []types.WorkerInfo
}

// PerWorkerLoadFunc returns the current outstanding-load count per worker.
// loadbalancer.LoadBalancer.Stats(ctx).PerWorker satisfies this shape;
// it is taken as a func rather than an interface so the Collector need not
// import loadbalancer (which already imports metrics).
type PerWorkerLoadFunc func(ctx context.Context) map[types.WorkerID]int64

// Collector periodically recomputes gauges that are cheap to poll from
// source-of-truth state but expensive or awkward to keep in lockstep via
// inline Set() calls scattered across Registry and LoadBalancer mutations:
// worker counts by status, and outstanding load per worker.
type Collector struct {
	workers  WorkerSource
	load     PerWorkerLoadFunc
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a collector that polls workers and load every
// interval (default 15s if interval <= 0).
func NewCollector(workers WorkerSource, load PerWorkerLoadFunc, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		workers:  workers,
		load:     load,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the polling loop in a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the polling loop. Safe to call once.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectWorkerCounts()
	c.collectOutstandingLoad()
}

func (c *Collector) collectWorkerCounts() {
	if c.workers == nil {
		return
	}
	counts := map[types.WorkerStatus]int{
		types.WorkerHealthy:   0,
		types.WorkerUnhealthy: 0,
		types.WorkerDraining:  0,
	}
	for _, w := range c.workers.List(nil) {
		counts[w.Status]++
	}
	for status, n := range counts {
		WorkersTotal.WithLabelValues(string(status)).Set(float64(n))
	}
}

func (c *Collector) collectOutstandingLoad() {
	if c.load == nil {
		return
	}
	for workerID, n := range c.load(context.Background()) {
		ActiveAssignments.WithLabelValues(string(workerID)).Set(float64(n))
	}
}
