package worker

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "runflow.worker.v1.Worker"

const (
	executeMethod = "/" + ServiceName + "/Execute"
	listMethod    = "/" + ServiceName + "/ListRepositories"
)

// WorkerServer is the server side of the worker service.
type WorkerServer interface {
	Execute(ctx context.Context, req *StepRequest) (*StepResult, error)
	ListRepositories(ctx context.Context, req *ListRequest) (*ListResponse, error)
}

// ServiceDesc describes the worker service to grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*WorkerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: executeHandler},
		{MethodName: "ListRepositories", Handler: listHandler},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterWorkerServer registers srv on s.
func RegisterWorkerServer(s grpc.ServiceRegistrar, srv WorkerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StepRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: executeMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(WorkerServer).Execute(ctx, req.(*StepRequest))
	})
}

func listHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerServer).ListRepositories(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(WorkerServer).ListRepositories(ctx, req.(*ListRequest))
	})
}
