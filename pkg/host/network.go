package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/adammck/rover/pkg/api"
	"github.com/adammck/rover/pkg/discovery"
	"github.com/adammck/rover/pkg/unit"
)

// Network connects in-process hosts. It's the transport (for the migration
// controllers), the relay (for units), and the resolver (for both), and can
// be told to fail transfers for tests.
type Network struct {
	mu     sync.RWMutex
	hosts  map[api.HostID]*Host
	faults map[api.HostID]error
}

func NewNetwork() *Network {
	return &Network{
		hosts:  map[api.HostID]*Host{},
		faults: map[api.HostID]error{},
	}
}

func (n *Network) add(h *Host) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hosts[h.id] = h
}

func (n *Network) host(id api.HostID) (*Host, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	h, ok := n.hosts[id]
	return h, ok
}

// Host returns the host with the given ID.
func (n *Network) Host(id api.HostID) (*Host, bool) {
	return n.host(id)
}

// FailTransfers makes every transfer to the given host fail with err, until
// it's called again with nil.
func (n *Network) FailTransfers(to api.HostID, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err == nil {
		delete(n.faults, to)
		return
	}

	n.faults[to] = err
}

func (n *Network) Resolve(id api.HostID) (api.Remote, error) {
	h, ok := n.host(id)
	if !ok {
		return api.Remote{}, fmt.Errorf("%w: %s", discovery.ErrUnknownHost, id)
	}

	return h.Remote(), nil
}

func (n *Network) Transfer(ctx context.Context, p unit.Parcel, to api.Remote) (api.Handle, error) {
	n.mu.RLock()
	err := n.faults[to.HostID()]
	n.mu.RUnlock()

	if err != nil {
		return api.ZeroHandle, err
	}

	h, ok := n.host(to.HostID())
	if !ok {
		return api.ZeroHandle, fmt.Errorf("%w: %s", discovery.ErrUnknownHost, to.Ident)
	}

	return h.Accept(ctx, p)
}

func (n *Network) Retarget(ctx context.Context, fwd api.Handle, to api.Handle, v api.Version) error {
	h, ok := n.host(fwd.Host)
	if !ok {
		return fmt.Errorf("%w: %s", discovery.ErrUnknownHost, fwd.Host)
	}

	return h.Retarget(fwd.Unit, to, v)
}

func (n *Network) Deliver(ctx context.Context, to api.Handle, msg unit.Message) (unit.Reply, error) {
	h, ok := n.host(to.Host)
	if !ok {
		return unit.Reply{}, &api.NotFoundError{Unit: to.Unit}
	}

	return h.Deliver(ctx, to.Unit, msg)
}
