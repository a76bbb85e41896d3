package grpcserver

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "fracx.v1.Exchange"

// ExchangeServer is the handler type of ServiceDesc.
type ExchangeServer interface {
	PlaceLimitOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PlaceMarketOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrderBook(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListUserOrders(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Subscribe(*structpb.Struct, grpc.ServerStream) error
}

type unaryFunc func(ExchangeServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ExchangeServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ExchangeServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ExchangeServer).Subscribe(in, stream)
}

// ServiceDesc describes fracx.v1.Exchange for grpc.Server.RegisterService
// and for clients calling through grpc.ClientConn.Invoke / NewStream.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ExchangeServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("PlaceLimitOrder", ExchangeServer.PlaceLimitOrder),
		unary("PlaceMarketOrder", ExchangeServer.PlaceMarketOrder),
		unary("GetOrderBook", ExchangeServer.GetOrderBook),
		unary("GetOrder", ExchangeServer.GetOrder),
		unary("ListUserOrders", ExchangeServer.ListUserOrders),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "fracx/v1/exchange.proto",
}

// FullMethod returns the wire path of an Exchange method.
func FullMethod(name string) string {
	return "/" + serviceName + "/" + name
}

// decode maps a Struct onto a Go request type through its JSON form.
func decode(in *structpb.Struct, out any) error {
	raw, err := protojson.Marshal(in)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "malformed request: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return status.Errorf(codes.InvalidArgument, "malformed request: %v", err)
	}
	return nil
}

// encode turns any JSON-marshalable value into a Struct.
func encode(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}
