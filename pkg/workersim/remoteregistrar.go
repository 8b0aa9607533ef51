package worker

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/stratumdb/pkg/registryrpc"
	"github.com/cuemby/stratumdb/pkg/types"
)

// RemoteRegistrar adapts a registryrpc.Client to the Registrar interface,
// so a SimWorker can join a coordinator running in a different process
// instead of being constructed directly against its *registry.Registry.
// List is not part of the registry's wire contract (spec.md §6 only
// exposes RegisterWorker/DeregisterWorker/Heartbeat to workers); it
// reports only this worker's own last-known record.
type RemoteRegistrar struct {
	client  *registryrpc.Client
	timeout time.Duration

	mu   sync.Mutex
	self types.WorkerInfo
}

// NewRemoteRegistrar wraps client, a connection already dialed to the
// coordinator's registry service.
func NewRemoteRegistrar(client *registryrpc.Client) *RemoteRegistrar {
	return &RemoteRegistrar{client: client, timeout: 5 * time.Second}
}

func (r *RemoteRegistrar) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}

func (r *RemoteRegistrar) Register(workerID types.WorkerID, endpoint string, resources types.ResourceInfo) types.WorkerID {
	ctx, cancel := r.ctx()
	defer cancel()

	id, err := r.client.Register(ctx, workerID, endpoint, resources)
	if err != nil {
		return workerID
	}

	r.mu.Lock()
	r.self = types.WorkerInfo{WorkerID: id, Endpoint: endpoint, Status: types.WorkerHealthy, Resources: resources}
	r.mu.Unlock()
	return id
}

func (r *RemoteRegistrar) Heartbeat(workerID types.WorkerID, resources types.ResourceInfo) error {
	ctx, cancel := r.ctx()
	defer cancel()

	_, err := r.client.Heartbeat(ctx, workerID, resources)
	if err == nil {
		r.mu.Lock()
		r.self.Resources = resources
		r.mu.Unlock()
	}
	return err
}

func (r *RemoteRegistrar) Deregister(workerID types.WorkerID, reason string) error {
	ctx, cancel := r.ctx()
	defer cancel()
	return r.client.Deregister(ctx, workerID, reason)
}

func (r *RemoteRegistrar) Get(workerID types.WorkerID) (types.WorkerInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.self.WorkerID != workerID {
		return types.WorkerInfo{}, false
	}
	return r.self, true
}

func (r *RemoteRegistrar) List(_ *types.WorkerStatus) []types.WorkerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.self.WorkerID == "" {
		return nil
	}
	return []types.WorkerInfo{r.self}
}
