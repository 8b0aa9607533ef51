package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/stratumdb/pkg/types"
)

func newTestRegistry() *Registry {
	return New(Config{UnhealthyAfter: 50 * time.Millisecond, SweepCron: "@every 1s"}, nil)
}

func TestRegister_AssignsIDWhenAbsent(t *testing.T) {
	r := newTestRegistry()

	id := r.Register("", "10.0.0.1:7000", types.ResourceInfo{CPUCores: 4})
	assert.NotEmpty(t, id)

	w, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, types.WorkerHealthy, w.Status)
	assert.Equal(t, "10.0.0.1:7000", w.Endpoint)
}

func TestRegister_CollisionGeneratesFreshID(t *testing.T) {
	r := newTestRegistry()

	first := r.Register("dup", "10.0.0.1:7000", types.ResourceInfo{})
	second := r.Register("dup", "10.0.0.2:7000", types.ResourceInfo{})

	assert.Equal(t, types.WorkerID("dup"), first)
	assert.NotEqual(t, first, second)

	_, ok1 := r.Get(first)
	_, ok2 := r.Get(second)
	assert.True(t, ok1)
	assert.True(t, ok2)
}

func TestRegister_SameEndpointReplacesPriorRecord(t *testing.T) {
	r := newTestRegistry()

	first := r.Register("w1", "10.0.0.1:7000", types.ResourceInfo{})
	second := r.Register("w2", "10.0.0.1:7000", types.ResourceInfo{})

	_, ok := r.Get(first)
	assert.False(t, ok, "previous registration at the same endpoint should be replaced")

	w, ok := r.Get(second)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1:7000", w.Endpoint)
}

func TestDeregister_UnknownFails(t *testing.T) {
	r := newTestRegistry()
	err := r.Deregister("nope", "test")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHeartbeat_RevivesUnhealthyWorker(t *testing.T) {
	r := newTestRegistry()
	id := r.Register("w1", "10.0.0.1:7000", types.ResourceInfo{})

	r.mu.Lock()
	r.workers[id].Status = types.WorkerUnhealthy
	r.mu.Unlock()

	err := r.Heartbeat(id, types.ResourceInfo{ActiveQueries: 2})
	require.NoError(t, err)

	w, _ := r.Get(id)
	assert.Equal(t, types.WorkerHealthy, w.Status)
	assert.Equal(t, 2, w.Resources.ActiveQueries)
}

func TestHeartbeat_UnknownWorkerFails(t *testing.T) {
	r := newTestRegistry()
	err := r.Heartbeat("ghost", types.ResourceInfo{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDrain_ExcludesFromHealthyButStaysListed(t *testing.T) {
	r := newTestRegistry()
	id := r.Register("w1", "10.0.0.1:7000", types.ResourceInfo{})

	require.NoError(t, r.Drain(id))

	assert.Empty(t, r.GetHealthy())
	assert.Len(t, r.List(nil), 1)
}

func TestSweep_MarksStaleWorkersUnhealthy(t *testing.T) {
	r := newTestRegistry()
	id := r.Register("w1", "10.0.0.1:7000", types.ResourceInfo{})

	time.Sleep(80 * time.Millisecond)
	r.sweep()

	w, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, types.WorkerUnhealthy, w.Status)
	assert.True(t, time.Since(w.LastHeartbeatAt) > r.cfg.UnhealthyAfter)
}

func TestSweep_LeavesFreshWorkersHealthy(t *testing.T) {
	r := newTestRegistry()
	id := r.Register("w1", "10.0.0.1:7000", types.ResourceInfo{})

	r.sweep()

	w, _ := r.Get(id)
	assert.Equal(t, types.WorkerHealthy, w.Status)
}
