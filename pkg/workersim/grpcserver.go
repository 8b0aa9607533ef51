package worker

import (
	"context"

	"github.com/cuemby/stratumdb/pkg/rpcclient"
	"github.com/cuemby/stratumdb/pkg/types"
)

// GRPCServer adapts a SimWorker to rpcclient.Server, so a standalone
// cmd/workersim process can expose ExecuteStage/CancelStage/ListWorkers
// over a real gRPC listener instead of the in-process SimCluster used by
// tests. traceID is accepted and discarded; queryId (not stage.toString())
// is the RPC's query-context field, matching spec.md §9's resolution.
type GRPCServer struct {
	w *SimWorker
}

// NewGRPCServer wraps w for serving over grpc.Server via
// rpcclient.RegisterServer.
func NewGRPCServer(w *SimWorker) *GRPCServer {
	return &GRPCServer{w: w}
}

func (g *GRPCServer) self() types.WorkerInfo {
	info, _ := g.w.reg.Get(g.w.workerID)
	return info
}

func (g *GRPCServer) ExecuteStage(ctx context.Context, queryID string, stageID int, payload []byte, _ string) *types.StageResult {
	return g.w.ExecuteStage(ctx, g.self(), queryID, stageID, payload)
}

func (g *GRPCServer) CancelStage(_ context.Context, queryID string, stageID int, reason string) {
	g.w.CancelStage(g.self(), queryID, stageID, reason)
}

func (g *GRPCServer) ListWorkers(ctx context.Context) ([]types.WorkerInfo, error) {
	return g.w.ListWorkers(ctx, g.self())
}

var _ rpcclient.Server = (*GRPCServer)(nil)
