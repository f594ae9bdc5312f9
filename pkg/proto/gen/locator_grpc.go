// Package gen contains the gRPC service descriptor for the location registry.
//
// There's no .proto file for this service: requests and responses are all
// google.protobuf.Struct, and the field layout is owned by the conv package.
// That keeps the wire format trivially inspectable (grpcurl prints it as JSON)
// and avoids a protoc step for what is currently three methods.
package gen

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	Locator_Update_FullMethodName = "/rover.Locator/Update"
	Locator_Lookup_FullMethodName = "/rover.Locator/Lookup"
	Locator_Dump_FullMethodName   = "/rover.Locator/Dump"
)

// LocatorClient is the client API for the Locator service.
type LocatorClient interface {
	Update(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Lookup(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Dump(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type locatorClient struct {
	cc grpc.ClientConnInterface
}

func NewLocatorClient(cc grpc.ClientConnInterface) LocatorClient {
	return &locatorClient{cc}
}

func (c *locatorClient) Update(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	err := c.cc.Invoke(ctx, Locator_Update_FullMethodName, in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *locatorClient) Lookup(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	err := c.cc.Invoke(ctx, Locator_Lookup_FullMethodName, in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *locatorClient) Dump(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	err := c.cc.Invoke(ctx, Locator_Dump_FullMethodName, in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LocatorServer is the server API for the Locator service.
type LocatorServer interface {
	Update(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Lookup(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Dump(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedLocatorServer can be embedded to have forward compatible
// implementations.
type UnimplementedLocatorServer struct{}

func (UnimplementedLocatorServer) Update(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Update not implemented")
}

func (UnimplementedLocatorServer) Lookup(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Lookup not implemented")
}

func (UnimplementedLocatorServer) Dump(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Dump not implemented")
}

func RegisterLocatorServer(s grpc.ServiceRegistrar, srv LocatorServer) {
	s.RegisterService(&Locator_ServiceDesc, srv)
}

type handlerFunc = func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error)

func unaryHandler(method string, call func(LocatorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) handlerFunc {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LocatorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: method,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(LocatorServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var Locator_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "rover.Locator",
	HandlerType: (*LocatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Update",
			Handler:    unaryHandler(Locator_Update_FullMethodName, LocatorServer.Update),
		},
		{
			MethodName: "Lookup",
			Handler:    unaryHandler(Locator_Lookup_FullMethodName, LocatorServer.Lookup),
		},
		{
			MethodName: "Dump",
			Handler:    unaryHandler(Locator_Dump_FullMethodName, LocatorServer.Dump),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rover/locator",
}
