package registry

import (
	"context"
	"errors"

	"github.com/adammck/rover/pkg/api"
	"github.com/adammck/rover/pkg/proto/conv"
	pb "github.com/adammck/rover/pkg/proto/gen"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type locatorServer struct {
	pb.UnimplementedLocatorServer
	reg *Registry
}

// Register exposes the registry as the Locator service on the given server.
func (r *Registry) Register(sr grpc.ServiceRegistrar) {
	pb.RegisterLocatorServer(sr, &locatorServer{reg: r})
}

func (ls *locatorServer) Update(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	rec, err := conv.RecordFromProto(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	err = ls.reg.Update(ctx, rec)
	if err != nil {
		return nil, toStatus(err)
	}

	return &structpb.Struct{}, nil
}

func (ls *locatorServer) Lookup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	requester, id, err := conv.LookupRequestFromProto(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	// Anonymous callers are throttled by their address, which is better than
	// lumping all of them together.
	if requester == "" {
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			requester = api.RequesterID(p.Addr.String())
		}
	}

	rec, err := ls.reg.Lookup(ctx, requester, id)
	if err != nil {
		return nil, toStatus(err)
	}

	return conv.RecordToProto(rec), nil
}

func (ls *locatorServer) Dump(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	recs, err := ls.reg.Dump(ctx)
	if err != nil {
		return nil, toStatus(err)
	}

	return conv.RecordsToProto(recs), nil
}

func toStatus(err error) error {
	if api.IsNotFound(err) {
		return status.Error(codes.NotFound, err.Error())
	}

	if errors.Is(err, api.ErrClosed) {
		return status.Error(codes.Unavailable, err.Error())
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}

	return status.Error(codes.Internal, err.Error())
}
