package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/cuemby/stratumdb/pkg/aggregator"
	"github.com/cuemby/stratumdb/pkg/events"
	"github.com/cuemby/stratumdb/pkg/exchange"
	"github.com/cuemby/stratumdb/pkg/log"
	"github.com/cuemby/stratumdb/pkg/types"
)

// Payload is the per-stage description a SimWorker knows how to execute.
// It is what a real planner's opaque ExecutionStage.Payload would decode to
// for this worker implementation; the core scheduler never interprets it.
type Payload struct {
	Columns     []string `json:"columns"`
	RowCount    int64    `json:"rowCount"`
	DurationMs  int64    `json:"durationMs"`
	FailureRate float64  `json:"failureRate"`
	// Partitions, when positive, routes generated rows through the
	// worker's Exchange before they're seeded to the fetcher, exercising
	// the hash-partitioned shuffle an EXCHANGE stage performs.
	Partitions int `json:"partitions,omitempty"`
}

// decodePayload falls back to a small default stage (fast, low row count)
// when payload is empty or malformed, so ad-hoc plans built without a real
// planner still execute.
func decodePayload(payload []byte) Payload {
	p := Payload{Columns: []string{"value"}, RowCount: 1000, DurationMs: 20}
	if len(payload) == 0 {
		return p
	}
	_ = json.Unmarshal(payload, &p)
	if len(p.Columns) == 0 {
		p.Columns = []string{"value"}
	}
	return p
}

// Config governs a SimWorker's declared capacity and heartbeat cadence.
type Config struct {
	Resources         types.ResourceInfo
	HeartbeatInterval time.Duration
	// Exchange backs EXCHANGE-stage row shuffling. Nil uses a fresh
	// in-process exchange.InMemoryExchange; a shared exchange.KafkaExchange
	// lets EXCHANGE stages shuffle rows across worker processes.
	Exchange exchange.Exchange
}

// DefaultConfig matches spec.md §6's heartbeat cadence.
func DefaultConfig() Config {
	return Config{
		Resources:         types.ResourceInfo{CPUCores: 4, MemoryMB: 8192, DiskMB: 102400},
		HeartbeatInterval: 30 * time.Second,
	}
}

// SimWorker simulates one worker node: it registers with a Worker Registry,
// heartbeats on a loop, and executes stages by sleeping for a simulated
// duration and fabricating rows through a shared Fetcher, rather than
// running a real vectorized engine. This is the core's only concrete view
// of "a worker is an RPC endpoint that runs a stage and returns stats plus
// a result handle" (spec.md §2) — the real execution engine is out of
// scope, and in production this role is filled by a separate process
// speaking the wire protocol in pkg/rpcclient.
type SimWorker struct {
	workerID types.WorkerID
	endpoint string
	reg      Registrar
	broker   *events.Broker
	fetcher  *aggregator.MockFetcher
	exch     exchange.Exchange
	cfg      Config

	mu           sync.Mutex
	resources    types.ResourceInfo
	activeStages int

	stopCh chan struct{}
}

// NewSimWorker registers a simulated worker at endpoint with reg and
// returns it ready to Start. fetcher is shared across every SimWorker in a
// cluster so the Aggregator can resolve any worker's resultLocation. reg is
// typically a *registry.Registry for in-process use, or a RemoteRegistrar
// when this SimWorker backs a standalone cmd/workersim process.
func NewSimWorker(reg Registrar, broker *events.Broker, fetcher *aggregator.MockFetcher, endpoint string, cfg Config) *SimWorker {
	id := reg.Register("", endpoint, cfg.Resources)
	exch := cfg.Exchange
	if exch == nil {
		exch = exchange.NewInMemoryExchange(0)
	}
	return &SimWorker{
		workerID:  id,
		endpoint:  endpoint,
		reg:       reg,
		broker:    broker,
		fetcher:   fetcher,
		exch:      exch,
		cfg:       cfg,
		resources: cfg.Resources,
		stopCh:    make(chan struct{}),
	}
}

// WorkerID returns the id assigned at registration.
func (w *SimWorker) WorkerID() types.WorkerID {
	return w.workerID
}

// Start begins the heartbeat loop. Safe to call once.
func (w *SimWorker) Start() {
	go w.heartbeatLoop()
}

// Stop halts the heartbeat loop and deregisters from the registry.
func (w *SimWorker) Stop() {
	close(w.stopCh)
	_ = w.reg.Deregister(w.workerID, "worker stopped")
}

// HealthzHandler serves the runtime-readiness probe a pkg/health.HTTPChecker
// polls to compute the Load Balancer's "external healthy" set (spec.md
// §4.2): 200 while this worker's heartbeat loop is running, 503 once
// Stop has been called.
func (w *SimWorker) HealthzHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		select {
		case <-w.stopCh:
			http.Error(rw, "worker stopped", http.StatusServiceUnavailable)
		default:
			rw.WriteHeader(http.StatusOK)
		}
	})
}

func (w *SimWorker) heartbeatLoop() {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.sendHeartbeat(); err != nil {
				log.WithWorkerID(string(w.workerID)).Warn().Err(err).Msg("heartbeat failed")
			}
		case <-w.stopCh:
			return
		}
	}
}

func (w *SimWorker) sendHeartbeat() error {
	return w.reg.Heartbeat(w.workerID, w.currentResources())
}

// currentResources reports this host's actual CPU and memory utilization
// via gopsutil, rather than a number synthesized from active stage count —
// the "real local resource utilization" spec.md §9's open question on the
// Aggregator's mock path asks the rest of the system to prefer wherever a
// real signal is available. If a sample fails (e.g. unsupported platform),
// the last-known reading is kept rather than reporting a fabricated zero.
func (w *SimWorker) currentResources() types.ResourceInfo {
	w.mu.Lock()
	defer w.mu.Unlock()

	r := w.resources
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		r.CPUUtilization = clamp01(pct[0] / 100)
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		r.MemUtilization = clamp01(vm.UsedPercent / 100)
	}
	r.ActiveQueries = w.activeStages
	w.resources = r
	return r
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ExecuteStage implements rpcclient.Client: it simulates the requested
// stage's work and returns a StageResult. Respects ctx cancellation — a
// wave-deadline or query-cancel abort returns promptly with a non-success
// result rather than blocking for the full simulated duration.
func (w *SimWorker) ExecuteStage(ctx context.Context, worker types.WorkerInfo, queryID string, stageID int, payload []byte) *types.StageResult {
	p := decodePayload(payload)

	w.mu.Lock()
	w.activeStages++
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.activeStages--
		w.mu.Unlock()
	}()

	start := time.Now()
	select {
	case <-time.After(time.Duration(p.DurationMs) * time.Millisecond):
	case <-ctx.Done():
		return &types.StageResult{StageID: stageID, Success: false, ErrorMessage: fmt.Sprintf("stage %d interrupted: %v", stageID, ctx.Err())}
	}

	if p.FailureRate > 0 && rand.Float64() < p.FailureRate {
		return &types.StageResult{StageID: stageID, Success: false, ErrorMessage: fmt.Sprintf("simulated failure executing stage %d", stageID)}
	}

	location := fmt.Sprintf("sim://%s/%s/%d", w.workerID, queryID, stageID)
	rows := make([]types.Row, p.RowCount)
	for i := range rows {
		row := make(types.Row, len(p.Columns))
		for c := range p.Columns {
			row[c] = types.Cell{Type: types.CellInt, Int: int64(i)}
		}
		rows[i] = row
	}
	if p.Partitions > 0 {
		rows = w.shuffle(queryID, stageID, rows, p.Partitions)
	}
	if w.fetcher != nil {
		if w.fetcher.Columns == nil {
			w.fetcher.Columns = p.Columns
		}
		w.fetcher.Seed(location, rows)
	}

	elapsed := time.Since(start).Milliseconds()
	log.WithWorkerID(string(w.workerID)).Debug().
		Str("query_id", queryID).Int("stage_id", stageID).Int64("rows", p.RowCount).
		Msg("stage executed")

	return &types.StageResult{
		StageID:        stageID,
		Success:        true,
		ResultLocation: location,
		Stats: &types.ExecutionStats{
			RowsProcessed:    p.RowCount,
			BytesProcessed:   p.RowCount * 32,
			ExecutionTimeMs:  elapsed,
			CPUTimeMs:        elapsed,
			MemoryPeakMB:     int64(len(p.Columns)) * p.RowCount / 1000,
			NetworkBytesSent: p.RowCount * 16,
		},
	}
}

// shuffle routes rows through w.exch, hash-partitioned by row position, and
// reassembles them in partition order. It exercises the same Send/Receive/
// ClosePartition sequence a real EXCHANGE stage would use to repartition
// rows between stages, whether w.exch is the default in-process
// InMemoryExchange or a KafkaExchange shared across worker processes.
// Sending runs in its own goroutine so draining can start before every row
// has been sent, since a partition's channel buffer is bounded.
func (w *SimWorker) shuffle(queryID string, stageID int, rows []types.Row, partitions int) []types.Row {
	go func() {
		for i, row := range rows {
			key := fmt.Sprintf("%s:%d:%d", queryID, stageID, i)
			if err := w.exch.Send(exchange.Partition(key, partitions), row); err != nil {
				log.WithWorkerID(string(w.workerID)).Warn().Err(err).Msg("exchange send failed")
			}
		}
		for p := 0; p < partitions; p++ {
			w.exch.ClosePartition(p)
		}
	}()

	out := make([]types.Row, 0, len(rows))
	for p := 0; p < partitions; p++ {
		for row := range w.exch.Receive(p) {
			out = append(out, row)
		}
	}
	return out
}

// CancelStage is a no-op beyond logging: ExecuteStage already honors ctx
// cancellation, which the Scheduler drives via the same context it would
// otherwise pair with a transport-level cancel RPC.
func (w *SimWorker) CancelStage(worker types.WorkerInfo, queryID string, stageID int, reason string) {
	log.WithWorkerID(string(worker.WorkerID)).Info().
		Str("query_id", queryID).Int("stage_id", stageID).Str("reason", reason).
		Msg("cancel requested")
}

// ListWorkers implements rpcclient.Client's diagnostic helper by asking
// this worker's own registry for its view of cluster membership.
func (w *SimWorker) ListWorkers(ctx context.Context, worker types.WorkerInfo) ([]types.WorkerInfo, error) {
	return w.reg.List(nil), nil
}
