package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/cuemby/stratumdb/pkg/events"
	"github.com/cuemby/stratumdb/pkg/log"
	"github.com/cuemby/stratumdb/pkg/metrics"
	"github.com/cuemby/stratumdb/pkg/types"
)

// ErrNotFound is returned by deregister/drain/heartbeat when the worker id
// is not present in the registry.
var ErrNotFound = errors.New("registry: worker not found")

// Config governs heartbeat staleness and the health sweep cadence.
type Config struct {
	// UnhealthyAfter is how long a worker may go without a heartbeat before
	// the sweep marks it UNHEALTHY.
	UnhealthyAfter time.Duration
	// SweepCron is a 6-field cron expression with a leading seconds field,
	// or a descriptor such as "@every 10s" (robfig/cron/v3 parser with
	// seconds enabled), governing how often the sweep runs. It
	// should fire at least as often as UnhealthyAfter, per spec.
	SweepCron string
}

// DefaultConfig matches spec.md §6: heartbeat every 30s, unhealthy after
// 120s, swept every 10s.
func DefaultConfig() Config {
	return Config{
		UnhealthyAfter: 120 * time.Second,
		SweepCron:      "@every 10s",
	}
}

// Registry is the Worker Registry: an in-memory, concurrency-safe map of
// WorkerID to WorkerInfo.
type Registry struct {
	cfg     Config
	mu      sync.RWMutex
	workers map[types.WorkerID]*types.WorkerInfo

	broker *events.Broker
	cron   *cron.Cron
}

// New creates a Registry. If broker is non-nil, membership and health
// transitions are published to it.
func New(cfg Config, broker *events.Broker) *Registry {
	return &Registry{
		cfg:     cfg,
		workers: make(map[types.WorkerID]*types.WorkerInfo),
		broker:  broker,
		cron:    cron.New(cron.WithSeconds()),
	}
}

// Start begins the periodic health sweep. Safe to call once.
func (r *Registry) Start() error {
	_, err := r.cron.AddFunc(r.cfg.SweepCron, r.sweep)
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the health sweep and waits for any in-flight run to finish.
func (r *Registry) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// Register enrolls a worker, assigning it a fresh id when workerID is empty.
// A re-registration from the same endpoint replaces the prior record for
// that endpoint.
func (r *Registry) Register(workerID types.WorkerID, endpoint string, resources types.ResourceInfo) types.WorkerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	if workerID == "" {
		workerID = types.WorkerID(uuid.NewString())
	} else if _, exists := r.workers[workerID]; exists {
		workerID = types.WorkerID(uuid.NewString())
	}

	for id, w := range r.workers {
		if w.Endpoint == endpoint {
			delete(r.workers, id)
		}
	}

	now := time.Now()
	weight := resources.CPUCores
	if weight <= 0 {
		weight = 1
	}
	r.workers[workerID] = &types.WorkerInfo{
		WorkerID:        workerID,
		Endpoint:        endpoint,
		Status:          types.WorkerHealthy,
		Resources:       resources,
		Weight:          weight,
		LastHeartbeatAt: now,
		RegisteredAt:    now,
	}

	metrics.WorkersTotal.WithLabelValues(string(types.WorkerHealthy)).Inc()
	r.publish(events.EventWorkerRegistered, string(workerID), "registered at "+endpoint)
	log.WithWorkerID(string(workerID)).Info().Str("endpoint", endpoint).Msg("worker registered")
	return workerID
}

// Deregister removes a worker entirely.
func (r *Registry) Deregister(workerID types.WorkerID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		return ErrNotFound
	}
	delete(r.workers, workerID)
	metrics.WorkersTotal.WithLabelValues(string(w.Status)).Dec()
	log.WithWorkerID(string(workerID)).Info().Str("reason", reason).Msg("worker deregistered")
	return nil
}

// Heartbeat records fresh resource utilization and timestamp for a worker,
// reviving it to HEALTHY if it had aged out.
func (r *Registry) Heartbeat(workerID types.WorkerID, resources types.ResourceInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		return ErrNotFound
	}

	w.Resources = resources
	w.LastHeartbeatAt = time.Now()
	if w.Status == types.WorkerUnhealthy {
		w.Status = types.WorkerHealthy
	}
	metrics.WorkerHeartbeatsTotal.WithLabelValues(string(workerID)).Inc()
	return nil
}

// Drain marks a worker DRAINING: it stays visible but is excluded from new
// assignments.
func (r *Registry) Drain(workerID types.WorkerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		return ErrNotFound
	}
	w.Status = types.WorkerDraining
	r.publish(events.EventWorkerDrained, string(workerID), "draining")
	return nil
}

// List returns a point-in-time snapshot of workers, optionally filtered by
// status.
func (r *Registry) List(status *types.WorkerStatus) []types.WorkerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.WorkerInfo, 0, len(r.workers))
	for _, w := range r.workers {
		if status != nil && w.Status != *status {
			continue
		}
		out = append(out, *w)
	}
	return out
}

// GetHealthy returns every worker currently in status HEALTHY.
func (r *Registry) GetHealthy() []types.WorkerInfo {
	healthy := types.WorkerHealthy
	return r.List(&healthy)
}

// Get returns a single worker's snapshot.
func (r *Registry) Get(workerID types.WorkerID) (types.WorkerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workers[workerID]
	if !ok {
		return types.WorkerInfo{}, false
	}
	return *w, true
}

func (r *Registry) sweep() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.HealthSweepDuration)

	now := time.Now()
	r.mu.Lock()
	var evicted []types.WorkerID
	for id, w := range r.workers {
		if w.Status == types.WorkerHealthy && now.Sub(w.LastHeartbeatAt) > r.cfg.UnhealthyAfter {
			w.Status = types.WorkerUnhealthy
			evicted = append(evicted, id)
		}
	}
	r.mu.Unlock()

	for _, id := range evicted {
		metrics.WorkersEvictedTotal.Inc()
		r.publish(events.EventWorkerUnhealthy, string(id), "missed heartbeat deadline")
		log.WithWorkerID(string(id)).Warn().Msg("worker marked unhealthy by health sweep")
	}
}

func (r *Registry) publish(t events.EventType, workerID, msg string) {
	if r.broker == nil {
		return
	}
	r.broker.Publish(&events.Event{
		Type:     t,
		Message:  msg,
		Metadata: map[string]string{"worker_id": workerID},
	})
}
