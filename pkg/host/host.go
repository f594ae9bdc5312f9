// Package host provides an in-process host runtime: the thing which units
// live in, and which messages and parcels are delivered to. Hosts talk to one
// another through a Network, which stands in for the RPC layer.
package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/adammck/rover/pkg/api"
	"github.com/adammck/rover/pkg/migration"
	"github.com/adammck/rover/pkg/unit"
	"github.com/rs/zerolog/log"
)

type Host struct {
	id   api.HostID
	addr string
	port int
	net  *Network
	ctrl *migration.Controller

	mu    sync.Mutex
	units map[api.UnitID]*unit.Unit
}

// New returns a host listening (notionally) at addr:port, and joins it to the
// network. Hosts with the same address are considered co-located.
func New(id api.HostID, addr string, port int, net *Network, loc api.Locator, opts ...migration.Option) *Host {
	h := &Host{
		id:    id,
		addr:  addr,
		port:  port,
		net:   net,
		units: map[api.UnitID]*unit.Unit{},
	}

	h.ctrl = migration.New(id, loc, net, net, opts...)
	net.add(h)

	return h
}

func (h *Host) ID() api.HostID {
	return h.id
}

func (h *Host) Remote() api.Remote {
	return api.Remote{
		Ident: string(h.id),
		Host:  h.addr,
		Port:  h.port,
	}
}

func (h *Host) Controller() *migration.Controller {
	return h.ctrl
}

// Spawn creates a new unit at this host, and registers it.
func (h *Host) Spawn(ctx context.Context, b unit.Behavior, s api.Strategy) (*unit.Unit, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	handle := api.Handle{
		Unit: api.NewUnitID(),
		Host: h.id,
	}

	u := unit.New(handle, b, s, h.net)
	h.insert(u)

	err := h.ctrl.Register(ctx, u)
	if err != nil {
		h.remove(u)
		return nil, fmt.Errorf("registering unit: %w", err)
	}

	log.Debug().Str("host", h.id.String()).Str("unit", u.ID().String()).Msg("spawned unit")
	return u, nil
}

// Unit returns the instance of the given unit at this host, which might be a
// forwarder.
func (h *Host) Unit(id api.UnitID) (*unit.Unit, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	u, ok := h.units[id]
	return u, ok
}

// Len returns the number of unit instances (including forwarders) here.
func (h *Host) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.units)
}

// Deliver hands the message to the instance of the unit at this host.
func (h *Host) Deliver(ctx context.Context, id api.UnitID, msg unit.Message) (unit.Reply, error) {
	u, ok := h.Unit(id)
	if !ok {
		return unit.Reply{}, &api.NotFoundError{Unit: id}
	}

	return u.Deliver(ctx, msg)
}

// Migrate moves the given unit from this host to another.
func (h *Host) Migrate(ctx context.Context, id api.UnitID, to api.HostID) (api.Handle, error) {
	u, ok := h.Unit(id)
	if !ok {
		return api.ZeroHandle, &api.NotFoundError{Unit: id}
	}

	return h.ctrl.RequestMigration(ctx, u, to)
}

// Clone copies the given unit from this host to another.
func (h *Host) Clone(ctx context.Context, id api.UnitID, to api.HostID) (api.Handle, error) {
	u, ok := h.Unit(id)
	if !ok {
		return api.ZeroHandle, &api.NotFoundError{Unit: id}
	}

	return h.ctrl.RequestClone(ctx, u, to)
}

// Accept is called (via the network) when a unit is transferred to this host.
// If a forwarder for the same unit is still here from an earlier visit, the
// unit replaces it.
func (h *Host) Accept(ctx context.Context, p unit.Parcel) (api.Handle, error) {
	if old, ok := h.Unit(p.ID); ok {
		if s := old.State(); s != api.UsForwarding {
			return api.ZeroHandle, fmt.Errorf("unit already resident: %s (state=%s)", p.ID, s)
		}

		h.ctrl.Release(p.ID)
		if err := old.Terminate(); err != nil {
			log.Warn().Err(err).Str("unit", p.ID.String()).Msg("error terminating replaced forwarder")
		}
	}

	u := unit.FromParcel(p, h.id, h.net)
	h.insert(u)
	h.ctrl.Arrive(ctx, p, u)

	log.Debug().Str("host", h.id.String()).Str("unit", u.ID().String()).Uint64("version", uint64(p.Version)).Msg("accepted unit")
	return u.Handle(), nil
}

// Retarget points the forwarder for the given unit here somewhere else.
func (h *Host) Retarget(id api.UnitID, to api.Handle, v api.Version) error {
	return h.ctrl.Retarget(id, to, v)
}

// Close stops all timers. Units are left as they are.
func (h *Host) Close() {
	h.ctrl.Stop()
}

func (h *Host) insert(u *unit.Unit) {
	h.mu.Lock()
	h.units[u.ID()] = u
	h.mu.Unlock()

	u.OnTerminate(func() {
		h.remove(u)
	})
}

// remove forgets the unit, unless it has already been replaced.
func (h *Host) remove(u *unit.Unit) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.units[u.ID()] == u {
		delete(h.units, u.ID())
	}
}
