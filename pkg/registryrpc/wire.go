package registryrpc

import "github.com/cuemby/stratumdb/pkg/types"

// Wire-level request/response shapes per spec.md §6's RegisterWorker,
// DeregisterWorker, and Heartbeat entries.

const (
	methodRegisterWorker   = "/stratumdb.registry.v1.RegistryService/RegisterWorker"
	methodDeregisterWorker = "/stratumdb.registry.v1.RegistryService/DeregisterWorker"
	methodHeartbeat        = "/stratumdb.registry.v1.RegistryService/Heartbeat"
)

type registerWorkerRequest struct {
	WorkerID  string              `json:"workerId,omitempty"`
	Endpoint  string              `json:"endpoint"`
	Resources types.ResourceInfo `json:"resources"`
}

type registerWorkerResponse struct {
	AssignedWorkerID string `json:"assignedWorkerId"`
	Accepted         bool   `json:"accepted"`
}

type deregisterWorkerRequest struct {
	WorkerID string `json:"workerId"`
	Reason   string `json:"reason"`
}

type deregisterWorkerResponse struct {
	Accepted bool `json:"accepted"`
}

type heartbeatRequest struct {
	WorkerID  string             `json:"workerId"`
	Resources types.ResourceInfo `json:"resources"`
}

type heartbeatResponse struct {
	Ack       bool   `json:"ack"`
	Directive string `json:"directive,omitempty"`
}
