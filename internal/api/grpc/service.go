package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Method names of the admin service, usable with grpc.ClientConn.Invoke.
const (
	SweepNowMethod   = "/" + AdminService + "/SweepNow"
	GetBalanceMethod = "/" + AdminService + "/GetBalance"
	LastSweepMethod  = "/" + AdminService + "/LastSweep"
)

// The admin service only carries well-known types, so its descriptor is
// written out by hand rather than generated.
var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: AdminService,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SweepNow", Handler: sweepNowHandler},
		{MethodName: "GetBalance", Handler: getBalanceHandler},
		{MethodName: "LastSweep", Handler: lastSweepHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "market/v1/admin.proto",
}

func sweepNowHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).SweepNow(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SweepNowMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).SweepNow(ctx, req.(*emptypb.Empty))
	})
}

func getBalanceHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).GetBalance(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetBalanceMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).GetBalance(ctx, req.(*wrapperspb.StringValue))
	})
}

func lastSweepHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).LastSweep(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: LastSweepMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(AdminServer).LastSweep(ctx, req.(*emptypb.Empty))
	})
}
