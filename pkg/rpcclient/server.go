package rpcclient

import (
	"context"

	"google.golang.org/grpc"

	"github.com/cuemby/stratumdb/pkg/log"
	"github.com/cuemby/stratumdb/pkg/types"
)

// Server is a worker's implementation of the three-operation contract of
// spec.md §4.4, from the worker's side of the wire. A reference
// implementation lives in pkg/workersim.
type Server interface {
	ExecuteStage(ctx context.Context, queryID string, stageID int, payload []byte, traceID string) *types.StageResult
	CancelStage(ctx context.Context, queryID string, stageID int, reason string)
	ListWorkers(ctx context.Context) ([]types.WorkerInfo, error)
}

// RegisterServer wires impl into s as the worker-side gRPC service
// consumed by GRPCClient, under the same method names GRPCClient dials.
func RegisterServer(s *grpc.Server, impl Server) {
	s.RegisterService(&serviceDesc, impl)
}

func executeStageHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	req := &executeStageRequest{}
	if err := dec(req); err != nil {
		return nil, err
	}
	result := srv.(Server).ExecuteStage(ctx, req.QueryID, req.StageID, req.Payload, req.TraceID)
	return toExecuteStageResponse(result), nil
}

func toExecuteStageResponse(r *types.StageResult) *executeStageResponse {
	status := stageStatusFailed
	if r.Success {
		status = stageStatusCompleted
	}
	return &executeStageResponse{
		Status:         status,
		ResultLocation: r.ResultLocation,
		Stats:          r.Stats,
		ErrorMessage:   r.ErrorMessage,
	}
}

func cancelStageHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	req := &cancelStageRequest{}
	if err := dec(req); err != nil {
		return nil, err
	}
	srv.(Server).CancelStage(ctx, req.QueryID, req.StageID, req.Reason)
	return &cancelStageResponse{Accepted: true}, nil
}

func listWorkersHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	req := &listWorkersRequest{}
	if err := dec(req); err != nil {
		return nil, err
	}
	workers, err := srv.(Server).ListWorkers(ctx)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("listWorkers handler failed")
		return &listWorkersResponse{}, nil
	}
	return &listWorkersResponse{Workers: workers}, nil
}

// serviceDesc describes the worker-side service at the same method paths
// GRPCClient invokes, standing in for protoc-generated registration. Each
// handler's signature already matches grpc.MethodDesc.Handler's function
// type, so no protoc-generated glue is needed to register them.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "stratumdb.worker.v1.WorkerService",
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ExecuteStage", Handler: executeStageHandler},
		{MethodName: "CancelStage", Handler: cancelStageHandler},
		{MethodName: "ListWorkers", Handler: listWorkersHandler},
	},
}
