package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/stratumdb/pkg/aggregator"
	"github.com/cuemby/stratumdb/pkg/registry"
	"github.com/cuemby/stratumdb/pkg/types"
)

func newTestRegistry() *registry.Registry {
	return registry.New(registry.Config{UnhealthyAfter: time.Minute, SweepCron: "@every 1h"}, nil)
}

func TestExecuteStage_SucceedsAndSeedsFetcher(t *testing.T) {
	reg := newTestRegistry()
	fetcher := aggregator.NewMockFetcher([]string{"a"})
	w := NewSimWorker(reg, nil, fetcher, "sim-1:9000", DefaultConfig())

	info, ok := reg.Get(w.WorkerID())
	require.True(t, ok)

	payload, _ := json.Marshal(Payload{Columns: []string{"a"}, RowCount: 10, DurationMs: 1})
	result := w.ExecuteStage(context.Background(), info, "q-1", 0, payload)

	require.True(t, result.Success)
	assert.Equal(t, int64(10), result.Stats.RowsProcessed)
	assert.NotEmpty(t, result.ResultLocation)

	rows, err := fetcher.FetchRows(context.Background(), result.ResultLocation)
	require.NoError(t, err)
	assert.Len(t, rows, 10)
}

func TestExecuteStage_PartitionedStageShufflesThroughExchange(t *testing.T) {
	reg := newTestRegistry()
	fetcher := aggregator.NewMockFetcher([]string{"a"})
	w := NewSimWorker(reg, nil, fetcher, "sim-1:9000", DefaultConfig())
	info, _ := reg.Get(w.WorkerID())

	payload, _ := json.Marshal(Payload{Columns: []string{"a"}, RowCount: 50, DurationMs: 1, Partitions: 4})
	result := w.ExecuteStage(context.Background(), info, "q-1", 0, payload)

	require.True(t, result.Success)
	assert.Equal(t, int64(50), result.Stats.RowsProcessed)

	rows, err := fetcher.FetchRows(context.Background(), result.ResultLocation)
	require.NoError(t, err)
	assert.Len(t, rows, 50)
}

func TestExecuteStage_RespectsContextCancellation(t *testing.T) {
	reg := newTestRegistry()
	w := NewSimWorker(reg, nil, nil, "sim-1:9000", DefaultConfig())
	info, _ := reg.Get(w.WorkerID())

	ctx, cancel := context.WithCancel(context.Background())
	payload, _ := json.Marshal(Payload{DurationMs: 5000})

	done := make(chan *types.StageResult, 1)
	go func() {
		done <- w.ExecuteStage(ctx, info, "q-1", 0, payload)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case result := <-done:
		assert.False(t, result.Success)
	case <-time.After(time.Second):
		t.Fatal("ExecuteStage did not honor context cancellation")
	}
}

func TestExecuteStage_SimulatedFailureRate(t *testing.T) {
	reg := newTestRegistry()
	w := NewSimWorker(reg, nil, nil, "sim-1:9000", DefaultConfig())
	info, _ := reg.Get(w.WorkerID())

	payload, _ := json.Marshal(Payload{DurationMs: 1, FailureRate: 1.0})
	result := w.ExecuteStage(context.Background(), info, "q-1", 0, payload)

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.ErrorMessage)
}

func TestHeartbeatLoop_KeepsWorkerHealthy(t *testing.T) {
	reg := newTestRegistry()
	w := NewSimWorker(reg, nil, nil, "sim-1:9000", Config{
		Resources:         types.ResourceInfo{CPUCores: 2, MemoryMB: 1024},
		HeartbeatInterval: 5 * time.Millisecond,
	})
	w.Start()
	defer w.Stop()

	time.Sleep(20 * time.Millisecond)

	info, ok := reg.Get(w.WorkerID())
	require.True(t, ok)
	assert.Equal(t, types.WorkerHealthy, info.Status)
}

func TestSimCluster_RoutesToCorrectWorker(t *testing.T) {
	reg := newTestRegistry()
	w1 := NewSimWorker(reg, nil, nil, "sim-1:9000", DefaultConfig())
	w2 := NewSimWorker(reg, nil, nil, "sim-2:9000", DefaultConfig())
	cluster := NewSimCluster(w1, w2)

	info1, _ := reg.Get(w1.WorkerID())
	payload, _ := json.Marshal(Payload{DurationMs: 1, RowCount: 1})

	result := cluster.ExecuteStage(context.Background(), info1, "q-1", 0, payload)
	require.True(t, result.Success)
}

func TestSimCluster_UnknownWorkerFails(t *testing.T) {
	cluster := NewSimCluster()
	unknown := types.WorkerInfo{WorkerID: "missing"}

	result := cluster.ExecuteStage(context.Background(), unknown, "q-1", 0, nil)
	assert.False(t, result.Success)
}
