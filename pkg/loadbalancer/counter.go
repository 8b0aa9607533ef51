package loadbalancer

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/cuemby/stratumdb/pkg/types"
)

// Counter tracks outstanding load per worker. It is the Load Balancer's
// only piece of mutable state besides the round-robin cursor; swapping the
// implementation lets outstanding counts be process-local or shared across
// a fleet of coordinator replicas.
type Counter interface {
	Incr(workerID types.WorkerID, n int64)
	Decr(workerID types.WorkerID, n int64)
	Get(workerID types.WorkerID) int64
	Reset()
	Snapshot() map[types.WorkerID]int64
}

// InMemoryCounter is the default Counter: one atomic int64 per worker,
// guarded by a map mutex only for insertion.
type InMemoryCounter struct {
	mu     sync.Mutex
	counts map[types.WorkerID]*int64
}

// NewInMemoryCounter creates an empty in-process counter.
func NewInMemoryCounter() *InMemoryCounter {
	return &InMemoryCounter{counts: make(map[types.WorkerID]*int64)}
}

func (c *InMemoryCounter) slot(workerID types.WorkerID) *int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.counts[workerID]
	if !ok {
		var zero int64
		p = &zero
		c.counts[workerID] = p
	}
	return p
}

// Incr adds n (n may be negative) to a worker's outstanding count.
func (c *InMemoryCounter) Incr(workerID types.WorkerID, n int64) {
	atomic.AddInt64(c.slot(workerID), n)
}

// Decr subtracts n from a worker's outstanding count, floored at 0.
func (c *InMemoryCounter) Decr(workerID types.WorkerID, n int64) {
	p := c.slot(workerID)
	for {
		cur := atomic.LoadInt64(p)
		next := cur - n
		if next < 0 {
			next = 0
		}
		if atomic.CompareAndSwapInt64(p, cur, next) {
			return
		}
	}
}

// Get returns a worker's current outstanding count.
func (c *InMemoryCounter) Get(workerID types.WorkerID) int64 {
	return atomic.LoadInt64(c.slot(workerID))
}

// Reset zeroes every tracked counter.
func (c *InMemoryCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.counts {
		atomic.StoreInt64(p, 0)
	}
}

// Snapshot returns a copy of all outstanding counts.
func (c *InMemoryCounter) Snapshot() map[types.WorkerID]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[types.WorkerID]int64, len(c.counts))
	for id, p := range c.counts {
		out[id] = atomic.LoadInt64(p)
	}
	return out
}

// RedisCounter backs outstanding-load counters with Redis INCR/DECR so
// multiple coordinator replicas can share load-balancing state.
type RedisCounter struct {
	client *redis.Client
	prefix string
	ctx    context.Context
	// seen tracks which keys this process has touched, so Snapshot doesn't
	// need a Redis SCAN on the hot path.
	mu   sync.Mutex
	seen map[types.WorkerID]struct{}
}

// NewRedisCounter wraps an existing redis client. keyPrefix namespaces the
// counters (e.g. "stratumdb:lb:outstanding:").
func NewRedisCounter(client *redis.Client, keyPrefix string) *RedisCounter {
	return &RedisCounter{
		client: client,
		prefix: keyPrefix,
		ctx:    context.Background(),
		seen:   make(map[types.WorkerID]struct{}),
	}
}

func (c *RedisCounter) key(workerID types.WorkerID) string {
	return c.prefix + string(workerID)
}

func (c *RedisCounter) track(workerID types.WorkerID) {
	c.mu.Lock()
	c.seen[workerID] = struct{}{}
	c.mu.Unlock()
}

// Incr adds n to the shared counter for workerID.
func (c *RedisCounter) Incr(workerID types.WorkerID, n int64) {
	c.track(workerID)
	c.client.IncrBy(c.ctx, c.key(workerID), n)
}

// Decr subtracts n from the shared counter, floored at 0 via a Lua-free
// compare loop (Redis has no native floor-at-zero DECRBY).
func (c *RedisCounter) Decr(workerID types.WorkerID, n int64) {
	c.track(workerID)
	key := c.key(workerID)
	for {
		cur, err := c.client.Get(c.ctx, key).Int64()
		if err != nil {
			cur = 0
		}
		next := cur - n
		if next < 0 {
			next = 0
		}
		ok, err := c.client.SetArgs(c.ctx, key, next, redis.SetArgs{}).Result()
		if err == nil && ok == "OK" {
			return
		}
	}
}

// Get returns the shared counter value for workerID.
func (c *RedisCounter) Get(workerID types.WorkerID) int64 {
	v, err := c.client.Get(c.ctx, c.key(workerID)).Int64()
	if err != nil {
		return 0
	}
	return v
}

// Reset zeroes every counter this process has touched.
func (c *RedisCounter) Reset() {
	c.mu.Lock()
	keys := make([]string, 0, len(c.seen))
	for id := range c.seen {
		keys = append(keys, c.key(id))
	}
	c.mu.Unlock()
	for _, k := range keys {
		c.client.Set(c.ctx, k, 0, 0)
	}
}

// Snapshot returns the counters for every worker this process has touched.
func (c *RedisCounter) Snapshot() map[types.WorkerID]int64 {
	c.mu.Lock()
	ids := make([]types.WorkerID, 0, len(c.seen))
	for id := range c.seen {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	out := make(map[types.WorkerID]int64, len(ids))
	for _, id := range ids {
		out[id] = c.Get(id)
	}
	return out
}
