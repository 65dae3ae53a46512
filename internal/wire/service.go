package wire

import (
	"context"

	"google.golang.org/grpc"
)

const (
	ServiceName = "fieldsync.records.v1.RecordSync"
	PushMethod  = "/" + ServiceName + "/Push"
)

// RecordSyncServer is implemented by the system of record.
type RecordSyncServer interface {
	Push(ctx context.Context, req *PushRequest) (*PushResponse, error)
}

// RecordSyncClient is the client stub for RecordSync.
type RecordSyncClient interface {
	Push(ctx context.Context, req *PushRequest, opts ...grpc.CallOption) (*PushResponse, error)
}

type recordSyncClient struct {
	cc grpc.ClientConnInterface
}

func NewRecordSyncClient(cc grpc.ClientConnInterface) RecordSyncClient {
	return &recordSyncClient{cc: cc}
}

func (c *recordSyncClient) Push(ctx context.Context, req *PushRequest, opts ...grpc.CallOption) (*PushResponse, error) {
	out := new(PushResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, PushMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func pushHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PushRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RecordSyncServer).Push(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PushMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RecordSyncServer).Push(ctx, req.(*PushRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc describes RecordSync for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RecordSyncServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Push", Handler: pushHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fieldsync/records.proto",
}

// RegisterRecordSyncServer registers srv with s.
func RegisterRecordSyncServer(s grpc.ServiceRegistrar, srv RecordSyncServer) {
	s.RegisterService(&ServiceDesc, srv)
}
