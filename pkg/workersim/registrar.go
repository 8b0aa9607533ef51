package worker

import "github.com/cuemby/stratumdb/pkg/types"

// Registrar is the slice of pkg/registry.Registry's surface a SimWorker
// needs: enough to register, heartbeat, deregister, and look itself up.
// *registry.Registry satisfies it directly for in-process use (see
// pkg/workersim's tests and SimCluster); RemoteRegistrar satisfies it for a
// standalone cmd/workersim process joining a coordinator over the network.
type Registrar interface {
	Register(workerID types.WorkerID, endpoint string, resources types.ResourceInfo) types.WorkerID
	Heartbeat(workerID types.WorkerID, resources types.ResourceInfo) error
	Deregister(workerID types.WorkerID, reason string) error
	Get(workerID types.WorkerID) (types.WorkerInfo, bool)
	List(status *types.WorkerStatus) []types.WorkerInfo
}
