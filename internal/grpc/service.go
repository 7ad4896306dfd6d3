package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified name of the twin query service.
const ServiceName = "twinquery.v1.TwinQueryService"

const (
	queryMethod          = "/" + ServiceName + "/Query"
	getTwinMethod        = "/" + ServiceName + "/GetTwin"
	updateTwinTagsMethod = "/" + ServiceName + "/UpdateTwinTags"
)

// TwinQueryServer is the server API of the twin query service. Messages are protobuf
// well-known types: twins travel as google.protobuf.Struct in their JSON shape.
type TwinQueryServer interface {
	Query(*wrapperspb.StringValue, grpc.ServerStreamingServer[structpb.Struct]) error
	GetTwin(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateTwinTags(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterTwinQueryServer registers srv on s.
func RegisterTwinQueryServer(s grpc.ServiceRegistrar, srv TwinQueryServer) {
	s.RegisterService(&TwinQueryServiceDesc, srv)
}

// TwinQueryServiceDesc describes the twin query service for grpc.Server.
var TwinQueryServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TwinQueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetTwin", Handler: getTwinHandler},
		{MethodName: "UpdateTwinTags", Handler: updateTwinTagsHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Query", Handler: queryHandler, ServerStreams: true},
	},
	Metadata: "twinquery/v1/twinquery.proto",
}

func queryHandler(srv any, stream grpc.ServerStream) error {
	in := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(TwinQueryServer).Query(in, &grpc.GenericServerStream[wrapperspb.StringValue, structpb.Struct]{ServerStream: stream})
}

func getTwinHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TwinQueryServer).GetTwin(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getTwinMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TwinQueryServer).GetTwin(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func updateTwinTagsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TwinQueryServer).UpdateTwinTags(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: updateTwinTagsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TwinQueryServer).UpdateTwinTags(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// TwinQueryClient is the client API of the twin query service.
type TwinQueryClient interface {
	Query(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error)
	GetTwin(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	UpdateTwinTags(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type twinQueryClient struct {
	cc grpc.ClientConnInterface
}

// NewTwinQueryClient creates a client calling the service over cc.
func NewTwinQueryClient(cc grpc.ClientConnInterface) TwinQueryClient {
	return &twinQueryClient{cc: cc}
}

func (c *twinQueryClient) Query(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &TwinQueryServiceDesc.Streams[0], queryMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[wrapperspb.StringValue, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *twinQueryClient) GetTwin(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getTwinMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *twinQueryClient) UpdateTwinTags(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, updateTwinTagsMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
