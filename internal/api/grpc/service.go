package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified name of the sync service.
const ServiceName = "gitpulse.sync.v1.SyncService"

// SyncServiceServer is the server API for the sync service. Requests and
// responses are google.protobuf.Struct documents shaped like the REST
// bodies.
type SyncServiceServer interface {
	GetTask(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CancelTask(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	BulkSync(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListActiveTasks(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(s SyncServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// unaryHandler adapts call to the handler signature of grpc.MethodDesc.
func unaryHandler(name string, call unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SyncServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ServiceName + "/" + name,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SyncServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// SyncServiceDesc describes the sync service for grpc.Server.RegisterService.
var SyncServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SyncServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetTask", Handler: unaryHandler("GetTask", SyncServiceServer.GetTask)},
		{MethodName: "CancelTask", Handler: unaryHandler("CancelTask", SyncServiceServer.CancelTask)},
		{MethodName: "BulkSync", Handler: unaryHandler("BulkSync", SyncServiceServer.BulkSync)},
		{MethodName: "ListActiveTasks", Handler: unaryHandler("ListActiveTasks", SyncServiceServer.ListActiveTasks)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gitpulse/sync/v1/sync.proto",
}

// Client calls the sync service over an established connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTask fetches one task by id
func (c *Client) GetTask(ctx context.Context, taskID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]any{"task_id": taskID})
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, "GetTask", req, opts...)
}

// CancelTask requests cancellation of a task
func (c *Client) CancelTask(ctx context.Context, taskID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]any{"task_id": taskID})
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, "CancelTask", req, opts...)
}

// BulkSync enqueues a sync over repositoryIDs
func (c *Client) BulkSync(ctx context.Context, repositoryIDs []int64, opts ...grpc.CallOption) (*structpb.Struct, error) {
	ids := make([]any, len(repositoryIDs))
	for i, id := range repositoryIDs {
		ids[i] = float64(id)
	}
	req, err := structpb.NewStruct(map[string]any{"repository_ids": ids})
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, "BulkSync", req, opts...)
}

// ListActiveTasks lists pending and running tasks
func (c *Client) ListActiveTasks(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ListActiveTasks", nil, opts...)
}
