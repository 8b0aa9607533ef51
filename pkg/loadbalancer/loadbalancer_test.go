package loadbalancer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/stratumdb/pkg/registry"
	"github.com/cuemby/stratumdb/pkg/types"
)

func newTestLB(t *testing.T, n int) (*LoadBalancer, []types.WorkerID) {
	t.Helper()
	reg := registry.New(registry.DefaultConfig(), nil)
	lb := New(reg, NewInMemoryCounter())

	ids := make([]types.WorkerID, 0, n)
	for i := 0; i < n; i++ {
		id := reg.Register("", "worker:700"+string(rune('0'+i)), types.ResourceInfo{CPUCores: i + 1})
		ids = append(ids, id)
	}
	return lb, ids
}

func TestSelectOne_EmptyHealthySetReturnsFalse(t *testing.T) {
	reg := registry.New(registry.DefaultConfig(), nil)
	lb := New(reg, NewInMemoryCounter())

	_, ok := lb.SelectOne(context.Background(), types.PolicyRoundRobin)
	assert.False(t, ok)
}

func TestSelectOne_RoundRobinIsEvenOverManyPicks(t *testing.T) {
	lb, ids := newTestLB(t, 3)

	counts := make(map[types.WorkerID]int)
	const k = 10
	for i := 0; i < k*len(ids); i++ {
		id, ok := lb.SelectOne(context.Background(), types.PolicyRoundRobin)
		require.True(t, ok)
		counts[id]++
	}

	for _, id := range ids {
		assert.Equal(t, k, counts[id], "worker %s should be picked exactly k times", id)
	}
}

func TestSelectOne_LeastConnectionsPrefersFewestActive(t *testing.T) {
	lb, ids := newTestLB(t, 2)

	reg := lb.reg
	w0, _ := reg.Get(ids[0])
	w0.Resources.ActiveQueries = 5
	reg.Heartbeat(ids[0], w0.Resources)

	w1, _ := reg.Get(ids[1])
	w1.Resources.ActiveQueries = 1
	reg.Heartbeat(ids[1], w1.Resources)

	picked, ok := lb.SelectOne(context.Background(), types.PolicyLeastConnections)
	require.True(t, ok)
	assert.Equal(t, ids[1], picked)
}

func TestSelectOne_ResourceAwarePrefersMoreAvailable(t *testing.T) {
	lb, ids := newTestLB(t, 2)

	reg := lb.reg
	w0, _ := reg.Get(ids[0])
	w0.Resources.CPUUtilization = 0.9
	w0.Resources.MemUtilization = 0.9
	reg.Heartbeat(ids[0], w0.Resources)

	w1, _ := reg.Get(ids[1])
	w1.Resources.CPUUtilization = 0.1
	w1.Resources.MemUtilization = 0.1
	reg.Heartbeat(ids[1], w1.Resources)

	picked, ok := lb.SelectOne(context.Background(), types.PolicyResourceAware)
	require.True(t, ok)
	assert.Equal(t, ids[1], picked)
}

func TestReleaseFloorsAtZero(t *testing.T) {
	lb, ids := newTestLB(t, 1)
	lb.Release(ids[0], 5)
	assert.Equal(t, int64(0), lb.counter.Get(ids[0]))
}

func TestSelectOneThenRelease_RestoresPriorOutstanding(t *testing.T) {
	lb, ids := newTestLB(t, 1)

	_, ok := lb.SelectOne(context.Background(), types.PolicyLeastLoaded)
	require.True(t, ok)
	assert.Equal(t, int64(1), lb.counter.Get(ids[0]))

	lb.Release(ids[0], 1)
	assert.Equal(t, int64(0), lb.counter.Get(ids[0]))
}

func TestSelectMany_ReturnsDistinctWorkersUpToHealthyCount(t *testing.T) {
	lb, ids := newTestLB(t, 3)

	picked := lb.SelectMany(context.Background(), 10, types.PolicyResourceAware)
	assert.Len(t, picked, len(ids))

	seen := make(map[types.WorkerID]bool)
	for _, id := range picked {
		assert.False(t, seen[id], "duplicate pick")
		seen[id] = true
	}
}

func TestStats_ReportsHealthyAndOutstandingTotals(t *testing.T) {
	lb, ids := newTestLB(t, 2)

	lb.SelectOne(context.Background(), types.PolicyRoundRobin)
	lb.SelectOne(context.Background(), types.PolicyRoundRobin)

	stats := lb.Stats(context.Background())
	assert.Equal(t, len(ids), stats.TotalWorkers)
	assert.Equal(t, len(ids), stats.HealthyWorkers)
	assert.Equal(t, int64(2), stats.TotalOutstanding)
}
