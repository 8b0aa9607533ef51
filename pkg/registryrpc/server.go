package registryrpc

import (
	"context"

	"google.golang.org/grpc"

	// Registers the "json" content-subtype codec both sides of this wire
	// protocol rely on; registryrpc does not redefine it.
	_ "github.com/cuemby/stratumdb/pkg/rpcclient"

	"github.com/cuemby/stratumdb/pkg/registry"
	"github.com/cuemby/stratumdb/pkg/types"
)

// RegisterServer wires reg into s as the registry-side gRPC service a
// standalone worker process's Client dials for registration, heartbeats,
// and deregistration.
func RegisterServer(s *grpc.Server, reg *registry.Registry) {
	s.RegisterService(&serviceDesc, &registryServer{reg: reg})
}

type registryServer struct {
	reg *registry.Registry
}

func registerWorkerHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	req := &registerWorkerRequest{}
	if err := dec(req); err != nil {
		return nil, err
	}
	s := srv.(*registryServer)
	id := s.reg.Register(types.WorkerID(req.WorkerID), req.Endpoint, req.Resources)
	return &registerWorkerResponse{AssignedWorkerID: string(id), Accepted: true}, nil
}

func deregisterWorkerHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	req := &deregisterWorkerRequest{}
	if err := dec(req); err != nil {
		return nil, err
	}
	s := srv.(*registryServer)
	err := s.reg.Deregister(types.WorkerID(req.WorkerID), req.Reason)
	return &deregisterWorkerResponse{Accepted: err == nil}, nil
}

func heartbeatHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	req := &heartbeatRequest{}
	if err := dec(req); err != nil {
		return nil, err
	}
	s := srv.(*registryServer)
	err := s.reg.Heartbeat(types.WorkerID(req.WorkerID), req.Resources)
	if err != nil {
		return &heartbeatResponse{Ack: false, Directive: "reregister"}, nil
	}
	return &heartbeatResponse{Ack: true}, nil
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "stratumdb.registry.v1.RegistryService",
	HandlerType: (*registryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RegisterWorker", Handler: registerWorkerHandler},
		{MethodName: "DeregisterWorker", Handler: deregisterWorkerHandler},
		{MethodName: "Heartbeat", Handler: heartbeatHandler},
	},
}
