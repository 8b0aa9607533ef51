package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/stratumdb/pkg/aggregator"
	"github.com/cuemby/stratumdb/pkg/loadbalancer"
	"github.com/cuemby/stratumdb/pkg/registry"
	"github.com/cuemby/stratumdb/pkg/rpcclient"
	"github.com/cuemby/stratumdb/pkg/types"
	worker "github.com/cuemby/stratumdb/pkg/workersim"
)

// harness wires a Scheduler to a real Registry/LoadBalancer/Aggregator and
// a SimCluster of simulated workers, matching how a coordinator process
// would assemble these collaborators.
type harness struct {
	reg     *registry.Registry
	lb      *loadbalancer.LoadBalancer
	cluster *worker.SimCluster
	sched   *Scheduler
}

func newHarness(t *testing.T, waveDeadline time.Duration, workerCount int) *harness {
	t.Helper()

	reg := registry.New(registry.Config{UnhealthyAfter: time.Minute, SweepCron: "@every 1h"}, nil)
	lb := loadbalancer.New(reg, loadbalancer.NewInMemoryCounter())
	fetcher := aggregator.NewMockFetcher([]string{"value"})
	agg := aggregator.New(fetcher)

	var workers []*worker.SimWorker
	for i := 0; i < workerCount; i++ {
		endpoint := fmt.Sprintf("sim-worker-%d:9000", i)
		w := worker.NewSimWorker(reg, nil, fetcher, endpoint, worker.DefaultConfig())
		w.Start()
		t.Cleanup(w.Stop)
		workers = append(workers, w)
	}
	cluster := worker.NewSimCluster(workers...)

	cfg := DefaultConfig()
	if waveDeadline > 0 {
		cfg.WaveDeadline = waveDeadline
	}
	sched := New(cfg, reg, lb, cluster, agg, nil)

	return &harness{reg: reg, lb: lb, cluster: cluster, sched: sched}
}

func stagePayload(t *testing.T, rowCount, durationMs int64, failureRate float64) []byte {
	t.Helper()
	p := worker.Payload{Columns: []string{"value"}, RowCount: rowCount, DurationMs: durationMs, FailureRate: failureRate}
	b, err := json.Marshal(p)
	require.NoError(t, err)
	return b
}

func singleStagePlan(queryID string, payload []byte) *types.ExecutionPlan {
	return &types.ExecutionPlan{
		QueryID: queryID,
		Stages: map[int]*types.ExecutionStage{
			0: {StageID: 0, Type: types.StageScan, Payload: payload},
		},
		Deps:        map[int]map[int]struct{}{0: {}},
		Aggregation: types.AggNone,
	}
}

func awaitResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("query did not terminate in time")
		return Result{}
	}
}

func TestExecuteQuery_SingleScanStageOneWorker(t *testing.T) {
	h := newHarness(t, 0, 1)
	payload := stagePayload(t, 100, 5, 0)
	plan := singleStagePlan("q-1", payload)

	result := awaitResult(t, h.sched.ExecuteQuery(context.Background(), plan))

	require.Equal(t, types.QueryCompleted, result.State)
	require.NotNil(t, result.QueryResult)
	assert.Len(t, result.QueryResult.Rows, 100)
}

func TestExecuteQuery_TwoWaveAggregation(t *testing.T) {
	h := newHarness(t, 0, 3)
	payload := stagePayload(t, 10, 5, 0)

	plan := &types.ExecutionPlan{
		QueryID: "q-2",
		Stages: map[int]*types.ExecutionStage{
			0: {StageID: 0, Type: types.StageScan, Payload: payload},
			1: {StageID: 1, Type: types.StageScan, Payload: payload},
			2: {StageID: 2, Type: types.StageAggregate, Payload: payload},
		},
		Deps: map[int]map[int]struct{}{
			0: {},
			1: {},
			2: {0: {}, 1: {}},
		},
		Aggregation: types.AggCount,
	}

	result := awaitResult(t, h.sched.ExecuteQuery(context.Background(), plan))

	require.Equal(t, types.QueryCompleted, result.State)
	require.NotNil(t, result.QueryResult)
	assert.Equal(t, int64(30), result.QueryResult.Rows[0][0].Int)
}

func TestExecuteQuery_StageFailureAbortsQuery(t *testing.T) {
	h := newHarness(t, 0, 1)
	payload := stagePayload(t, 10, 1, 1.0) // always fails
	plan := singleStagePlan("q-3", payload)

	result := awaitResult(t, h.sched.ExecuteQuery(context.Background(), plan))

	assert.Equal(t, types.QueryFailed, result.State)
	assert.Equal(t, types.ErrStageFailed, result.ErrorKind)
}

func TestExecuteQuery_WaveDeadlineExpiry(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond, 1)
	payload := stagePayload(t, 10, 5*time.Second.Milliseconds(), 0)
	plan := singleStagePlan("q-4", payload)

	result := awaitResult(t, h.sched.ExecuteQuery(context.Background(), plan))

	assert.Equal(t, types.QueryFailed, result.State)
	assert.Equal(t, types.ErrStageTimeout, result.ErrorKind)
}

func TestExecuteQuery_NoHealthyWorkersFailsImmediately(t *testing.T) {
	h := newHarness(t, 0, 0)
	payload := stagePayload(t, 10, 5, 0)
	plan := singleStagePlan("q-5", payload)

	result := awaitResult(t, h.sched.ExecuteQuery(context.Background(), plan))

	assert.Equal(t, types.QueryFailed, result.State)
	assert.Equal(t, types.ErrNoWorkers, result.ErrorKind)
}

func TestCancel_MidFlightStopsQuery(t *testing.T) {
	h := newHarness(t, 0, 1)
	payload := stagePayload(t, 10, 2*time.Second.Milliseconds(), 0)
	plan := singleStagePlan("q-6", payload)

	ch := h.sched.ExecuteQuery(context.Background(), plan)
	time.Sleep(20 * time.Millisecond)

	ok := h.sched.Cancel("q-6", "user requested cancel")
	require.True(t, ok)

	result := awaitResult(t, ch)
	assert.Equal(t, types.QueryCancelled, result.State)
}

func TestCancel_UnknownQueryReturnsFalse(t *testing.T) {
	h := newHarness(t, 0, 1)
	assert.False(t, h.sched.Cancel("does-not-exist", "n/a"))
}

func TestStatus_ReflectsTerminalState(t *testing.T) {
	h := newHarness(t, 0, 1)
	payload := stagePayload(t, 5, 1, 0)
	plan := singleStagePlan("q-7", payload)

	awaitResult(t, h.sched.ExecuteQuery(context.Background(), plan))

	status, ok := h.sched.Status("q-7")
	require.True(t, ok)
	assert.Equal(t, types.QueryCompleted, status.State)
}

// countingClient wraps an rpcclient.Client and counts ExecuteStage calls, so
// a test can assert that a malformed plan never reaches the RPC layer.
type countingClient struct {
	rpcclient.Client
	executeStageCalls int
}

func (c *countingClient) ExecuteStage(ctx context.Context, w types.WorkerInfo, queryID string, stageID int, payload []byte) *types.StageResult {
	c.executeStageCalls++
	return c.Client.ExecuteStage(ctx, w, queryID, stageID, payload)
}

func TestExecuteQuery_CycleInUnrelatedSubgraphFailsPlanInvalidWithoutDispatch(t *testing.T) {
	reg := registry.New(registry.Config{UnhealthyAfter: time.Minute, SweepCron: "@every 1h"}, nil)
	lb := loadbalancer.New(reg, loadbalancer.NewInMemoryCounter())
	fetcher := aggregator.NewMockFetcher([]string{"value"})
	agg := aggregator.New(fetcher)

	w := worker.NewSimWorker(reg, nil, fetcher, "sim-worker-0:9000", worker.DefaultConfig())
	w.Start()
	t.Cleanup(w.Stop)
	cluster := &countingClient{Client: worker.NewSimCluster(w)}

	sched := New(DefaultConfig(), reg, lb, cluster, agg, nil)

	payload := stagePayload(t, 10, 5, 0)
	// Stage 0 has no dependencies and would be dispatchable on its own; it
	// shares a plan with stages 1 and 2, which depend on each other.
	plan := &types.ExecutionPlan{
		QueryID: "q-cycle",
		Stages: map[int]*types.ExecutionStage{
			0: {StageID: 0, Type: types.StageScan, Payload: payload},
			1: {StageID: 1, Type: types.StageScan, Payload: payload},
			2: {StageID: 2, Type: types.StageScan, Payload: payload},
		},
		Deps: map[int]map[int]struct{}{
			0: {},
			1: {2: {}},
			2: {1: {}},
		},
		Aggregation: types.AggNone,
	}

	result := awaitResult(t, sched.ExecuteQuery(context.Background(), plan))

	assert.Equal(t, types.QueryFailed, result.State)
	assert.Equal(t, types.ErrPlanInvalid, result.ErrorKind)
	assert.Zero(t, cluster.executeStageCalls, "no ExecuteStage RPC should be issued for a plan containing a cycle")
}
