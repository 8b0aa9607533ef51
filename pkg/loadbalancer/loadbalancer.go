package loadbalancer

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cuemby/stratumdb/pkg/health"
	"github.com/cuemby/stratumdb/pkg/metrics"
	"github.com/cuemby/stratumdb/pkg/registry"
	"github.com/cuemby/stratumdb/pkg/types"
)

// Stats summarizes current outstanding load across the cluster.
type Stats struct {
	TotalWorkers    int
	HealthyWorkers  int
	TotalOutstanding int64
	AvgOutstanding  float64
	PerWorker       map[types.WorkerID]int64
}

// LoadBalancer picks workers for stage dispatch per a SelectionPolicy and
// tracks outstanding load via a Counter.
type LoadBalancer struct {
	reg     *registry.Registry
	counter Counter

	rrMu  sync.Mutex
	rrIdx uint64

	// checkers holds an optional runtime-readiness Checker per worker.
	// A worker absent from this map is always considered runtime-ready.
	checkersMu sync.RWMutex
	checkers   map[types.WorkerID]health.Checker
}

// New creates a LoadBalancer backed by reg for cluster membership and
// counter for outstanding-load tracking.
func New(reg *registry.Registry, counter Counter) *LoadBalancer {
	return &LoadBalancer{
		reg:      reg,
		counter:  counter,
		checkers: make(map[types.WorkerID]health.Checker),
	}
}

// SetChecker registers a runtime-readiness checker for a worker; passing a
// nil checker removes it (reverting to "always ready").
func (lb *LoadBalancer) SetChecker(workerID types.WorkerID, checker health.Checker) {
	lb.checkersMu.Lock()
	defer lb.checkersMu.Unlock()
	if checker == nil {
		delete(lb.checkers, workerID)
		return
	}
	lb.checkers[workerID] = checker
}

// externalHealthy is the registry's healthy set intersected with
// runtime-readiness, per spec.md §4.2.
func (lb *LoadBalancer) externalHealthy(ctx context.Context) []types.WorkerInfo {
	healthy := lb.reg.GetHealthy()
	lb.checkersMu.RLock()
	defer lb.checkersMu.RUnlock()

	if len(lb.checkers) == 0 {
		return healthy
	}

	out := make([]types.WorkerInfo, 0, len(healthy))
	for _, w := range healthy {
		checker, ok := lb.checkers[w.WorkerID]
		if !ok {
			out = append(out, w)
			continue
		}
		if checker.Check(ctx).Healthy {
			out = append(out, w)
		}
	}
	return out
}

func loadScore(w types.WorkerInfo, outstanding int64) float64 {
	return 0.4*float64(outstanding) +
		0.3*(100*w.Resources.CPUUtilization) +
		0.2*(100*w.Resources.MemUtilization) +
		0.1*float64(w.Resources.ActiveQueries)
}

func availabilityScore(w types.WorkerInfo) float64 {
	return 0.6*(100*(1-w.Resources.CPUUtilization)) + 0.4*(100*(1-w.Resources.MemUtilization))
}

// SelectOne picks one worker per policy, incrementing its outstanding
// counter by 1. Returns false if no worker is healthy.
func (lb *LoadBalancer) SelectOne(ctx context.Context, policy types.SelectionPolicy) (types.WorkerID, bool) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.SelectionDuration, string(policy))

	healthy := lb.externalHealthy(ctx)
	if len(healthy) == 0 {
		metrics.SelectionsTotal.WithLabelValues(string(policy), "no_workers").Inc()
		return "", false
	}

	ordered := lb.rank(healthy, policy)
	picked := ordered[0].WorkerID
	lb.counter.Incr(picked, 1)
	metrics.SelectionsTotal.WithLabelValues(string(policy), "ok").Inc()
	return picked, true
}

// SelectMany picks up to n distinct workers per policy, incrementing each
// picked worker's outstanding counter by 1.
func (lb *LoadBalancer) SelectMany(ctx context.Context, n int, policy types.SelectionPolicy) []types.WorkerID {
	healthy := lb.externalHealthy(ctx)
	if len(healthy) == 0 || n <= 0 {
		return nil
	}

	ordered := lb.rank(healthy, policy)
	if n > len(ordered) {
		n = len(ordered)
	}

	picks := make([]types.WorkerID, 0, n)
	for i := 0; i < n; i++ {
		picks = append(picks, ordered[i].WorkerID)
		lb.counter.Incr(ordered[i].WorkerID, 1)
	}
	return picks
}

// rank returns healthy sorted in the order a given policy would pick from,
// best selection first.
func (lb *LoadBalancer) rank(healthy []types.WorkerInfo, policy types.SelectionPolicy) []types.WorkerInfo {
	sorted := make([]types.WorkerInfo, len(healthy))
	copy(sorted, healthy)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].WorkerID < sorted[j].WorkerID })

	switch policy {
	case types.PolicyRoundRobin:
		idx := atomic.AddUint64(&lb.rrIdx, 1) - 1
		start := int(idx % uint64(len(sorted)))
		return rotate(sorted, start)

	case types.PolicyWeightedRR:
		return lb.weightedRoundRobin(sorted)

	case types.PolicyLeastConnections:
		sort.SliceStable(sorted, func(i, j int) bool {
			ai, aj := sorted[i].Resources.ActiveQueries, sorted[j].Resources.ActiveQueries
			if ai != aj {
				return ai < aj
			}
			return sorted[i].WorkerID < sorted[j].WorkerID
		})
		return sorted

	case types.PolicyLeastLoaded:
		counts := lb.counter.Snapshot()
		sort.SliceStable(sorted, func(i, j int) bool {
			si := loadScore(sorted[i], counts[sorted[i].WorkerID])
			sj := loadScore(sorted[j], counts[sorted[j].WorkerID])
			if si != sj {
				return si < sj
			}
			return sorted[i].WorkerID < sorted[j].WorkerID
		})
		return sorted

	case types.PolicyResourceAware:
		fallthrough
	default:
		sort.SliceStable(sorted, func(i, j int) bool {
			si, sj := availabilityScore(sorted[i]), availabilityScore(sorted[j])
			if si != sj {
				return si > sj
			}
			return sorted[i].WorkerID < sorted[j].WorkerID
		})
		return sorted
	}
}

// weightedRoundRobin expands the round-robin cursor over a virtual slot
// list where worker w occupies max(1, cpuCores) consecutive slots.
func (lb *LoadBalancer) weightedRoundRobin(sorted []types.WorkerInfo) []types.WorkerInfo {
	var slots []types.WorkerInfo
	for _, w := range sorted {
		weight := w.Weight
		if weight <= 0 {
			weight = 1
		}
		for i := 0; i < weight; i++ {
			slots = append(slots, w)
		}
	}
	if len(slots) == 0 {
		return sorted
	}
	idx := atomic.AddUint64(&lb.rrIdx, 1) - 1
	start := int(idx % uint64(len(slots)))
	return dedupe(rotate(slots, start))
}

func rotate(s []types.WorkerInfo, start int) []types.WorkerInfo {
	out := make([]types.WorkerInfo, len(s))
	for i := range s {
		out[i] = s[(start+i)%len(s)]
	}
	return out
}

func dedupe(s []types.WorkerInfo) []types.WorkerInfo {
	seen := make(map[types.WorkerID]struct{}, len(s))
	out := make([]types.WorkerInfo, 0, len(s))
	for _, w := range s {
		if _, ok := seen[w.WorkerID]; ok {
			continue
		}
		seen[w.WorkerID] = struct{}{}
		out = append(out, w)
	}
	return out
}

// Release decrements a worker's outstanding counter by n (default 1),
// floored at 0.
func (lb *LoadBalancer) Release(workerID types.WorkerID, n int64) {
	if n <= 0 {
		n = 1
	}
	lb.counter.Decr(workerID, n)
}

// Stats reports current cluster-wide load-balancing state.
func (lb *LoadBalancer) Stats(ctx context.Context) Stats {
	healthy := lb.externalHealthy(ctx)
	all := lb.reg.List(nil)
	snap := lb.counter.Snapshot()

	var total int64
	perWorker := make(map[types.WorkerID]int64, len(all))
	for _, w := range all {
		n := snap[w.WorkerID]
		perWorker[w.WorkerID] = n
		total += n
	}

	avg := 0.0
	if len(all) > 0 {
		avg = float64(total) / float64(len(all))
	}

	return Stats{
		TotalWorkers:     len(all),
		HealthyWorkers:   len(healthy),
		TotalOutstanding: total,
		AvgOutstanding:   avg,
		PerWorker:        perWorker,
	}
}

// Reset clears outstanding counters. Used in tests.
func (lb *LoadBalancer) Reset() {
	lb.counter.Reset()
}
