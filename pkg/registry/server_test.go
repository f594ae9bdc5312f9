package registry

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/adammck/rover/pkg/api"
	pb "github.com/adammck/rover/pkg/proto/gen"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

var _ api.Locator = &Registry{}
var _ api.Locator = &Client{}

type testHarness struct {
	ctx    context.Context
	clock  clockwork.FakeClock
	reg    *Registry
	conn   *grpc.ClientConn
	client *Client
}

func setup(t *testing.T) *testHarness {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	reg := newRunning(t, WithClock(clock))

	srv := grpc.NewServer()
	reg.Register(srv) // <-- SUT

	conn, closer := serveBufconn(ctx, srv)
	t.Cleanup(closer)

	return &testHarness{
		ctx:    ctx,
		clock:  clock,
		reg:    reg,
		conn:   conn,
		client: NewClient(conn),
	}
}

func serveBufconn(ctx context.Context, s *grpc.Server) (*grpc.ClientConn, func()) {
	listener := bufconn.Listen(1024 * 1024)

	go func() {
		if err := s.Serve(listener); err != nil {
			panic(err)
		}
	}()

	conn, _ := grpc.DialContext(ctx, "", grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
		return listener.Dial()
	}), grpc.WithTransportCredentials(insecure.NewCredentials()), grpc.WithBlock())

	return conn, s.Stop
}

func TestClientUpdateLookup(t *testing.T) {
	h := setup(t)

	err := h.client.Update(h.ctx, rec(uA, "h1", 3))
	require.NoError(t, err)

	got, err := h.client.Lookup(h.ctx, "c1", uA)
	require.NoError(t, err)
	assert.Equal(t, rec(uA, "h1", 3), got)

	// Stale updates aren't errors over the wire, either.
	err = h.client.Update(h.ctx, rec(uA, "h0", 2))
	require.NoError(t, err)

	recs, err := h.client.Dump(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, []api.Record{rec(uA, "h1", 3)}, recs)
}

func TestClientLookupNotFound(t *testing.T) {
	h := setup(t)

	_, err := h.client.Lookup(h.ctx, "c1", uB)
	require.Error(t, err)
	assert.True(t, api.IsNotFound(err))
}

func TestServerInvalidArgument(t *testing.T) {
	h := setup(t)
	pbc := pb.NewLocatorClient(h.conn)

	_, err := pbc.Update(h.ctx, &structpb.Struct{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = pbc.Lookup(h.ctx, &structpb.Struct{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServerAnonymousLookupsThrottled(t *testing.T) {
	h := setup(t)
	require.NoError(t, h.client.Update(h.ctx, rec(uA, "h1", 1)))

	_, err := h.client.Lookup(h.ctx, "", uA)
	require.NoError(t, err)

	// Second anonymous lookup from the same conn is held, because it's keyed
	// by the peer address.
	ctx, cancel := context.WithTimeout(h.ctx, 50*time.Millisecond)
	defer cancel()

	_, err = h.client.Lookup(ctx, "", uA)
	require.Error(t, err)
	assert.Equal(t, codes.DeadlineExceeded, status.Code(err))
}
