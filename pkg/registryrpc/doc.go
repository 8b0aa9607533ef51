// Package registryrpc exposes the Worker Registry's RegisterWorker,
// DeregisterWorker, and Heartbeat operations as a gRPC service (spec.md
// §6's "Consumed: worker RPC" table), so a standalone worker process can
// join a coordinator's registry over the network instead of being
// constructed in-process against a *registry.Registry, as pkg/workersim's
// SimCluster is in tests.
package registryrpc
