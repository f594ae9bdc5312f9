package registry

import (
	"context"
	"fmt"

	"github.com/adammck/rover/pkg/api"
	"github.com/adammck/rover/pkg/proto/conv"
	pb "github.com/adammck/rover/pkg/proto/gen"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client talks to a remote registry. It implements api.Locator, so can be
// dropped in wherever a *Registry is used in-process.
type Client struct {
	pbc pb.LocatorClient
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{
		pbc: pb.NewLocatorClient(cc),
	}
}

func (c *Client) Update(ctx context.Context, rec api.Record) error {
	_, err := c.pbc.Update(ctx, conv.RecordToProto(rec))
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	return nil
}

func (c *Client) Lookup(ctx context.Context, requester api.RequesterID, id api.UnitID) (api.Record, error) {
	res, err := c.pbc.Lookup(ctx, conv.LookupRequestToProto(requester, id))
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return api.Record{}, &api.NotFoundError{Unit: id}
		}

		return api.Record{}, fmt.Errorf("Lookup: %w", err)
	}

	rec, err := conv.RecordFromProto(res)
	if err != nil {
		return api.Record{}, fmt.Errorf("Lookup: invalid response: %w", err)
	}

	return rec, nil
}

func (c *Client) Dump(ctx context.Context) ([]api.Record, error) {
	res, err := c.pbc.Dump(ctx, &structpb.Struct{})
	if err != nil {
		return nil, fmt.Errorf("Dump: %w", err)
	}

	return conv.RecordsFromProto(res)
}
