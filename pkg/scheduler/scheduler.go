package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/stratumdb/pkg/aggregator"
	"github.com/cuemby/stratumdb/pkg/events"
	"github.com/cuemby/stratumdb/pkg/loadbalancer"
	"github.com/cuemby/stratumdb/pkg/log"
	"github.com/cuemby/stratumdb/pkg/metrics"
	"github.com/cuemby/stratumdb/pkg/registry"
	"github.com/cuemby/stratumdb/pkg/rpcclient"
	"github.com/cuemby/stratumdb/pkg/types"
)

// Config governs the scheduler's one enforced timeout.
type Config struct {
	// WaveDeadline bounds how long a single DAG wave may run before the
	// whole query fails with STAGE_TIMEOUT.
	WaveDeadline time.Duration
}

// DefaultConfig matches spec.md §6.
func DefaultConfig() Config {
	return Config{WaveDeadline: 30 * time.Second}
}

// errNoWorkers is returned by dispatchStage when the Load Balancer cannot
// hand back a worker for either the RESOURCE_AWARE or LEAST_CONNECTIONS
// fallback policy, i.e. the healthy set was empty at dispatch time
// (spec.md §4.3 step 2a). runWave maps it to types.ErrNoWorkers.
var errNoWorkers = errors.New("no healthy workers available")

// Result is what a query execution resolves to: the Future<QueryExecutionResult>
// of spec.md §4.3, delivered over a channel.
type Result struct {
	QueryID      string
	State        types.QueryState
	QueryResult  *types.QueryResult
	Stats        *types.ExecutionStats
	ErrorKind    types.ErrorKind
	ErrorMessage string
}

type queryExecution struct {
	mu              sync.Mutex
	queryID         string
	plan            *types.ExecutionPlan
	state           types.QueryState
	startedAt       time.Time
	assignedWorkers []types.WorkerAssignment
	inflight        map[int]types.WorkerAssignment
	errorKind       types.ErrorKind
	errorMessage    string
	cancel          context.CancelFunc
	done            chan Result
}

// Scheduler is the Stage Scheduler: it drives ExecutionPlans to completion
// via the Load Balancer and RPC client, one DAG wave at a time.
type Scheduler struct {
	cfg    Config
	reg    *registry.Registry
	lb     *loadbalancer.LoadBalancer
	rpc    rpcclient.Client
	agg    *aggregator.Aggregator
	broker *events.Broker
	tracer trace.Tracer

	mu         sync.Mutex
	executions map[string]*queryExecution
}

// New creates a Scheduler wired to its collaborators.
func New(cfg Config, reg *registry.Registry, lb *loadbalancer.LoadBalancer, rpc rpcclient.Client, agg *aggregator.Aggregator, broker *events.Broker) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		reg:        reg,
		lb:         lb,
		rpc:        rpc,
		agg:        agg,
		broker:     broker,
		tracer:     otel.Tracer("stratumdb/scheduler"),
		executions: make(map[string]*queryExecution),
	}
}

// ExecuteQuery starts driving plan to completion and returns a channel that
// receives exactly one Result once the query reaches a terminal state.
func (s *Scheduler) ExecuteQuery(ctx context.Context, plan *types.ExecutionPlan) <-chan Result {
	ctx, cancel := context.WithCancel(ctx)

	qe := &queryExecution{
		queryID:   plan.QueryID,
		plan:      plan,
		state:     types.QueryRunning,
		startedAt: time.Now(),
		inflight:  make(map[int]types.WorkerAssignment),
		cancel:    cancel,
		done:      make(chan Result, 1),
	}

	s.mu.Lock()
	s.executions[plan.QueryID] = qe
	s.mu.Unlock()

	metrics.ActiveQueries.Inc()
	s.publish(events.EventQueryStarted, plan.QueryID, "query started")

	go s.runQuery(ctx, qe)
	return qe.done
}

// Cancel marks a running query cancelled and fires best-effort CancelStage
// RPCs for every in-flight assignment. Returns true if the query was
// active.
func (s *Scheduler) Cancel(queryID, reason string) bool {
	s.mu.Lock()
	qe, ok := s.executions[queryID]
	s.mu.Unlock()
	if !ok {
		return false
	}

	qe.mu.Lock()
	if qe.state != types.QueryRunning {
		qe.mu.Unlock()
		return false
	}
	inflight := make([]types.WorkerAssignment, 0, len(qe.inflight))
	for _, a := range qe.inflight {
		inflight = append(inflight, a)
	}
	qe.mu.Unlock()

	qe.cancel()

	for _, a := range inflight {
		worker, ok := s.reg.Get(a.WorkerID)
		if !ok {
			worker = types.WorkerInfo{WorkerID: a.WorkerID, Endpoint: a.Endpoint}
		}
		s.rpc.CancelStage(worker, queryID, a.StageID, reason)
	}
	return true
}

// Status returns the current externally visible status of a query.
func (s *Scheduler) Status(queryID string) (types.QueryExecutionStatus, bool) {
	s.mu.Lock()
	qe, ok := s.executions[queryID]
	s.mu.Unlock()
	if !ok {
		return types.QueryExecutionStatus{}, false
	}

	qe.mu.Lock()
	defer qe.mu.Unlock()
	return types.QueryExecutionStatus{
		QueryID:         qe.queryID,
		State:           qe.state,
		AssignedWorkers: append([]types.WorkerAssignment(nil), qe.assignedWorkers...),
		ExecutionTimeMs: time.Since(qe.startedAt).Milliseconds(),
		ErrorKind:       qe.errorKind,
		ErrorMessage:    qe.errorMessage,
	}, true
}

// ListActive returns the status of every query not yet terminal.
func (s *Scheduler) ListActive() []types.QueryExecutionStatus {
	s.mu.Lock()
	ids := make([]string, 0, len(s.executions))
	for id := range s.executions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var active []types.QueryExecutionStatus
	for _, id := range ids {
		st, ok := s.Status(id)
		if ok && st.State == types.QueryRunning {
			active = append(active, st)
		}
	}
	return active
}

func (s *Scheduler) runQuery(ctx context.Context, qe *queryExecution) {
	timer := metrics.NewTimer()
	defer metrics.ActiveQueries.Dec()

	if err := validatePlan(qe.plan); err != nil {
		s.finish(qe, types.QueryFailed, types.ErrPlanInvalid, err.Error(), nil, nil, timer)
		return
	}

	completed := make(map[int]bool, len(qe.plan.Stages))
	var stageResults []types.StageResult

	for len(completed) < len(qe.plan.Stages) {
		if ctx.Err() != nil {
			s.finish(qe, types.QueryCancelled, types.ErrCancelled, "cancelled", nil, nil, timer)
			return
		}

		ready := readyStages(qe.plan, completed)
		if len(ready) == 0 {
			s.finish(qe, types.QueryFailed, types.ErrPlanInvalid, "no ready stages: cyclic or dangling dependency", nil, nil, timer)
			return
		}

		waveResults, failKind, failMsg, timedOut := s.runWave(ctx, qe, ready)
		if failKind != "" {
			if timedOut {
				s.cancelInflightLocked(qe)
			}
			state := types.QueryFailed
			if failKind == types.ErrCancelled {
				state = types.QueryCancelled
			}
			s.finish(qe, state, failKind, failMsg, nil, nil, timer)
			return
		}

		for _, r := range waveResults {
			completed[r.StageID] = true
			stageResults = append(stageResults, r)
		}
	}

	qr, stats, err := s.agg.Aggregate(stageResults, qe.plan.Aggregation, qe.plan.SumColumn, qe.plan.GroupByColumn)
	if err != nil {
		s.finish(qe, types.QueryFailed, types.ErrSchemaMismatch, err.Error(), nil, nil, timer)
		return
	}
	s.finish(qe, types.QueryCompleted, "", "", qr, stats, timer)
}

// runWave dispatches every ready stage concurrently and awaits them all
// under the wave deadline.
func (s *Scheduler) runWave(ctx context.Context, qe *queryExecution, ready []int) (results []types.StageResult, failKind types.ErrorKind, failMsg string, timedOut bool) {
	waveTimer := metrics.NewTimer()
	defer waveTimer.ObserveDuration(metrics.WaveDuration)

	waveCtx, cancel := context.WithTimeout(ctx, s.cfg.WaveDeadline)
	defer cancel()

	g, gctx := errgroup.WithContext(waveCtx)
	resultsCh := make(chan types.StageResult, len(ready))

	for _, stageID := range ready {
		stage := qe.plan.Stages[stageID]
		g.Go(func() error {
			r, err := s.dispatchStage(gctx, qe, stage)
			if err != nil {
				return err
			}
			resultsCh <- *r
			return nil
		})
	}

	waitErr := g.Wait()
	close(resultsCh)

	for r := range resultsCh {
		results = append(results, r)
	}

	if waitErr == nil {
		return results, "", "", false
	}
	if waveCtx.Err() == context.DeadlineExceeded {
		return nil, types.ErrStageTimeout, fmt.Sprintf("wave deadline of %s elapsed", s.cfg.WaveDeadline), true
	}
	if ctx.Err() != nil {
		return nil, types.ErrCancelled, "cancelled", false
	}
	if errors.Is(waitErr, errNoWorkers) {
		return nil, types.ErrNoWorkers, waitErr.Error(), false
	}
	return nil, types.ErrStageFailed, waitErr.Error(), false
}

func (s *Scheduler) dispatchStage(ctx context.Context, qe *queryExecution, stage *types.ExecutionStage) (*types.StageResult, error) {
	workerID, ok := s.lb.SelectOne(ctx, types.PolicyResourceAware)
	if !ok {
		workerID, ok = s.lb.SelectOne(ctx, types.PolicyLeastConnections)
	}
	if !ok {
		return nil, fmt.Errorf("stage %d: %w", stage.StageID, errNoWorkers)
	}

	worker, found := s.reg.Get(workerID)
	if !found {
		s.lb.Release(workerID, 1)
		return nil, fmt.Errorf("worker %s vanished before dispatch of stage %d", workerID, stage.StageID)
	}

	assignment := types.WorkerAssignment{WorkerID: workerID, Endpoint: worker.Endpoint, StageID: stage.StageID}
	qe.mu.Lock()
	qe.inflight[stage.StageID] = assignment
	qe.assignedWorkers = append(qe.assignedWorkers, assignment)
	qe.mu.Unlock()

	s.publish(events.EventStageDispatched, qe.queryID, fmt.Sprintf("stage %d dispatched to %s", stage.StageID, workerID))

	result := s.rpc.ExecuteStage(ctx, worker, qe.queryID, stage.StageID, stage.Payload)

	s.lb.Release(workerID, 1)

	// A stage whose RPC was cut short by the wave context stays in inflight,
	// so cancelInflightLocked can still send it a CancelStage.
	qe.mu.Lock()
	if ctx.Err() == nil {
		delete(qe.inflight, stage.StageID)
	}
	qe.mu.Unlock()

	if !result.Success {
		metrics.StagesDispatchedTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("stage %d failed on worker %s: %s", stage.StageID, workerID, result.ErrorMessage)
	}

	metrics.StagesDispatchedTotal.WithLabelValues("ok").Inc()
	if result.Stats != nil {
		metrics.StageDuration.Observe(float64(result.Stats.ExecutionTimeMs) / 1000)
	}
	s.publish(events.EventStageCompleted, qe.queryID, fmt.Sprintf("stage %d completed", stage.StageID))
	return result, nil
}

// cancelInflightLocked fires best-effort CancelStage for every stage still
// in flight after a wave timeout.
func (s *Scheduler) cancelInflightLocked(qe *queryExecution) {
	qe.mu.Lock()
	inflight := make([]types.WorkerAssignment, 0, len(qe.inflight))
	for _, a := range qe.inflight {
		inflight = append(inflight, a)
	}
	qe.mu.Unlock()

	for _, a := range inflight {
		worker, ok := s.reg.Get(a.WorkerID)
		if !ok {
			worker = types.WorkerInfo{WorkerID: a.WorkerID, Endpoint: a.Endpoint}
		}
		s.rpc.CancelStage(worker, qe.queryID, a.StageID, "wave deadline exceeded")
	}
}

// validatePlan checks the whole DAG up front via Kahn's algorithm: every
// dependency must reference a stage that exists, and the graph must have no
// cycle. Per spec.md §8 invariant 2, a plan with a cycle anywhere — even in
// a subgraph unrelated to stages that would otherwise be dispatchable —
// must fail with PLAN_INVALID before a single ExecuteStage RPC is issued,
// so this runs once before runQuery's wave loop rather than being inferred
// wave-by-wave from "no ready stages."
func validatePlan(plan *types.ExecutionPlan) error {
	for id, deps := range plan.Deps {
		if _, ok := plan.Stages[id]; !ok {
			continue
		}
		for dep := range deps {
			if _, ok := plan.Stages[dep]; !ok {
				return fmt.Errorf("stage %d depends on unknown stage %d", id, dep)
			}
		}
	}

	remaining := make(map[int]map[int]struct{}, len(plan.Stages))
	for id := range plan.Stages {
		deps := make(map[int]struct{}, len(plan.Deps[id]))
		for dep := range plan.Deps[id] {
			deps[dep] = struct{}{}
		}
		remaining[id] = deps
	}

	resolved := make(map[int]bool, len(remaining))
	for len(resolved) < len(remaining) {
		progressed := false
		for id, deps := range remaining {
			if resolved[id] {
				continue
			}
			allDepsDone := true
			for dep := range deps {
				if !resolved[dep] {
					allDepsDone = false
					break
				}
			}
			if allDepsDone {
				resolved[id] = true
				progressed = true
			}
		}
		if !progressed {
			return fmt.Errorf("cyclic or dangling dependency among stages %v", unresolved(remaining, resolved))
		}
	}
	return nil
}

func unresolved(remaining map[int]map[int]struct{}, resolved map[int]bool) []int {
	var out []int
	for id := range remaining {
		if !resolved[id] {
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}

// readyStages returns the stages whose dependencies are all satisfied,
// excluding stages already completed.
func readyStages(plan *types.ExecutionPlan, completed map[int]bool) []int {
	var ready []int
	for id := range plan.Stages {
		if completed[id] {
			continue
		}
		allDepsDone := true
		for dep := range plan.Deps[id] {
			if !completed[dep] {
				allDepsDone = false
				break
			}
		}
		if allDepsDone {
			ready = append(ready, id)
		}
	}
	return ready
}

func (s *Scheduler) finish(qe *queryExecution, state types.QueryState, kind types.ErrorKind, msg string, qr *types.QueryResult, stats *types.ExecutionStats, timer *metrics.Timer) {
	qe.mu.Lock()
	qe.state = state
	qe.errorKind = kind
	qe.errorMessage = msg
	qe.mu.Unlock()

	timer.ObserveDuration(metrics.QueryDuration)
	metrics.QueriesTotal.WithLabelValues(string(state)).Inc()

	switch state {
	case types.QueryCompleted:
		s.publish(events.EventQueryCompleted, qe.queryID, "query completed")
	case types.QueryFailed:
		s.publish(events.EventQueryFailed, qe.queryID, msg)
	case types.QueryCancelled:
		s.publish(events.EventQueryCancelled, qe.queryID, "query cancelled")
	}

	log.WithQueryID(qe.queryID).Info().Str("state", string(state)).Msg("query terminated")

	qe.done <- Result{
		QueryID:      qe.queryID,
		State:        state,
		QueryResult:  qr,
		Stats:        stats,
		ErrorKind:    kind,
		ErrorMessage: msg,
	}
	close(qe.done)
}

func (s *Scheduler) publish(t events.EventType, queryID, msg string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{
		Type:     t,
		Message:  msg,
		Metadata: map[string]string{"query_id": queryID},
	})
}
