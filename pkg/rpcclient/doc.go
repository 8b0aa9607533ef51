// Package rpcclient implements the Scheduler's three-operation worker RPC
// contract (ExecuteStage, CancelStage, ListWorkers) over gRPC. Because this
// project does not run protoc, request and response payloads are plain Go
// structs marshaled through a small JSON codec registered on the gRPC codec
// registry instead of protoc-generated bindings; see DESIGN.md for why that
// substitution still exercises gRPC honestly.
package rpcclient
