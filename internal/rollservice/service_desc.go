// Package rollservice exposes the dice engine as the gRPC service
// dice.v1.RollService.
//
// Messages are protobuf well-known types, so the service descriptor is
// registered by hand:
//
//	Roll(StringValue)   -> Struct{expression, total, items[{value, scalar, kind}], id?}
//	Bounds(StringValue) -> Struct{expression, min, max}
//	Parse(StringValue)  -> StringValue (canonical notation)
//
// The request string is dice notation or "@name" for a preset.
package rollservice

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "dice.v1.RollService"

const (
	rollMethod   = "/" + ServiceName + "/Roll"
	boundsMethod = "/" + ServiceName + "/Bounds"
	parseMethod  = "/" + ServiceName + "/Parse"
)

// RollServiceServer is the server API for dice.v1.RollService.
type RollServiceServer interface {
	Roll(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error)
	Bounds(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error)
	Parse(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
}

// RollService_ServiceDesc describes dice.v1.RollService for grpc.Server.
var RollService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RollServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Roll", Handler: rollHandler},
		{MethodName: "Bounds", Handler: boundsHandler},
		{MethodName: "Parse", Handler: parseHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dice/v1/roll.proto",
}

// RegisterRollServiceServer registers srv with s.
func RegisterRollServiceServer(s grpc.ServiceRegistrar, srv RollServiceServer) {
	s.RegisterService(&RollService_ServiceDesc, srv)
}

func rollHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RollServiceServer).Roll(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: rollMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RollServiceServer).Roll(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func boundsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RollServiceServer).Bounds(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: boundsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RollServiceServer).Bounds(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func parseHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RollServiceServer).Parse(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: parseMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RollServiceServer).Parse(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// RollServiceClient calls dice.v1.RollService.
type RollServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewRollServiceClient wraps cc.
func NewRollServiceClient(cc grpc.ClientConnInterface) *RollServiceClient {
	return &RollServiceClient{cc: cc}
}

// Roll rolls text on the server.
func (c *RollServiceClient) Roll(ctx context.Context, text string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, rollMethod, wrapperspb.String(text), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Bounds returns the lowest and highest totals of text.
func (c *RollServiceClient) Bounds(ctx context.Context, text string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, boundsMethod, wrapperspb.String(text), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Parse returns the canonical notation of text.
func (c *RollServiceClient) Parse(ctx context.Context, text string, opts ...grpc.CallOption) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, parseMethod, wrapperspb.String(text), out, opts...); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}
