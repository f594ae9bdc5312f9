// Package migration provides the controller which moves units between hosts.
//
// There's one Controller per host. It drives moves of the units resident at
// its host (RequestMigration, RequestClone), owns the leases of the forwarders
// left behind there, and decides when to push authoritative updates to the
// registry: when a unit arrives after too many handoffs, when it has stayed
// put for too long, and when a forwarder's lease expires.
package migration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adammck/rover/pkg/api"
	"github.com/adammck/rover/pkg/discovery"
	"github.com/adammck/rover/pkg/unit"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// How long to wait for the registry or relay when there's no caller context to
// use: in timers, and after a transfer which may have failed because the
// caller's context ended.
const updateTimeout = 5 * time.Second

type Controller struct {
	host  api.HostID
	loc   api.Locator
	tr    Transport
	res   discovery.Resolver
	neg   Negotiator
	obs   api.Observer
	clock clockwork.Clock

	// Guards everything below.
	mu sync.Mutex

	// Incremented for every timer started, so that a timer which fires after
	// it was replaced can tell, and do nothing.
	gen uint64

	leases    map[api.UnitID]*Lease
	residency map[api.UnitID]*residency
}

type residency struct {
	gen   uint64
	timer clockwork.Timer
}

type Option func(*Controller)

func WithNegotiator(n Negotiator) Option {
	return func(c *Controller) {
		c.neg = n
	}
}

func WithObserver(o api.Observer) Option {
	return func(c *Controller) {
		c.obs = o
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *Controller) {
		c.clock = clock
	}
}

func New(host api.HostID, loc api.Locator, tr Transport, res discovery.Resolver, opts ...Option) *Controller {
	c := &Controller{
		host:      host,
		loc:       loc,
		tr:        tr,
		res:       res,
		neg:       AllowAll{},
		obs:       api.NopObserver,
		clock:     clockwork.NewRealClock(),
		leases:    map[api.UnitID]*Lease{},
		residency: map[api.UnitID]*residency{},
	}

	for _, o := range opts {
		o(c)
	}

	return c
}

// RequestMigration moves the unit to the given host, and returns its new
// handle. The unit must be resident at this controller's host.
func (c *Controller) RequestMigration(ctx context.Context, u *unit.Unit, to api.HostID) (api.Handle, error) {
	return c.migrate(ctx, u, to, false)
}

// RequestClone copies the unit to the given host with a fresh identity, and
// returns the handle of the copy. The original stays Active where it is.
func (c *Controller) RequestClone(ctx context.Context, u *unit.Unit, to api.HostID) (api.Handle, error) {
	return c.migrate(ctx, u, to, true)
}

func (c *Controller) migrate(ctx context.Context, u *unit.Unit, to api.HostID, clone bool) (api.Handle, error) {
	id := u.ID()
	from := u.Handle()

	switch s := u.State(); s {
	case api.UsActive:
	case api.UsMigrating:
		return api.ZeroHandle, &api.MigratingError{Unit: id}
	case api.UsTerminated:
		return api.ZeroHandle, &api.TerminatedError{Unit: id}
	default:
		return api.ZeroHandle, &api.NotActiveError{Unit: id, State: s}
	}

	dst, err := c.validateTarget(id, from.Host, to)
	if err != nil {
		return api.ZeroHandle, err
	}

	if !c.neg.MayMigrate(ctx, id, from.Host, to) {
		return api.ZeroHandle, &api.PolicyDeniedError{Unit: id, From: from.Host, To: to}
	}

	// Only now does anything change. If another migration got here first,
	// this will fail.
	if err := u.BeginMigration(); err != nil {
		return api.ZeroHandle, err
	}

	c.emit(api.Event{
		Kind:    api.BeforeMigration,
		Unit:    id,
		From:    from,
		To:      api.Handle{Unit: id, Host: to},
		Version: u.Version(),
	})

	u.Quiesce()

	p, err := u.Pack(clone)
	if err != nil {
		// Can't happen, since we just put it in Migrating.
		u.Abort()
		return api.ZeroHandle, err
	}

	strat := p.Strategy
	now := c.clock.Now()

	// Older forwarders which are still live get pointed straight at the new
	// location after the transfer. Except one on the destination host, which
	// is about to be replaced by the unit itself.
	var retarget []unit.Link
	if !clone {
		live := unit.Live(p.Lineage, now)

		if len(live) > 0 {
			p.Handoffs += 1
		} else {
			p.Handoffs = 1
		}

		lineage := []unit.Link{}
		for _, l := range live {
			if l.Handle.Host != to {
				lineage = append(lineage, l)
			}
		}
		retarget = lineage

		if strat.Forwarding() {
			lineage = append(lineage, unit.Link{
				Handle:  from,
				Expires: now.Add(strat.TTL),
			})
		}

		p.Lineage = lineage
	}

	dest, err := c.tr.Transfer(ctx, p, dst)
	if err != nil {
		u.Abort()
		c.drain(u)

		c.emit(api.Event{
			Kind:    api.MigrationFailed,
			Unit:    id,
			From:    from,
			To:      api.Handle{Unit: p.ID, Host: to},
			Version: u.Version(),
			Err:     err,
		})

		return api.ZeroHandle, &api.TransferError{Unit: id, Target: to, Err: err}
	}

	if clone {
		u.Reactivate()
		c.drain(u)

		c.emit(api.Event{
			Kind:    api.AfterMigration,
			Unit:    p.ID,
			From:    from,
			To:      dest,
			Version: p.Version,
		})

		return dest, nil
	}

	c.stopResidency(id)

	err = u.BecomeForwarder(dest)
	if err != nil {
		// Can't happen either.
		return api.ZeroHandle, err
	}

	// Calls made after the parcel was packed didn't go with it.
	c.drain(u)

	if strat.Forwarding() {
		c.grantLease(u, dest, p.Version, strat)
	} else {
		if err := u.Terminate(); err != nil {
			log.Warn().Err(err).Str("unit", id.String()).Msg("error terminating migrated unit")
		}
	}

	for _, l := range retarget {
		err := c.tr.Retarget(ctx, l.Handle, dest, p.Version)
		if err != nil {
			// The forwarder still relays via this host, so messages aren't
			// lost; they just take an extra hop until it expires.
			log.Warn().Err(err).Str("unit", id.String()).Str("forwarder", l.Handle.String()).Msg("error retargeting forwarder")
		}
	}

	c.emit(api.Event{
		Kind:    api.AfterMigration,
		Unit:    id,
		From:    from,
		To:      dest,
		Version: p.Version,
	})

	return dest, nil
}

func (c *Controller) validateTarget(id api.UnitID, from, to api.HostID) (api.Remote, error) {
	if to == api.ZeroHostID {
		return api.Remote{}, &api.InvalidTargetError{Unit: id, Target: to, Reason: "missing target"}
	}

	if to == from {
		return api.Remote{}, &api.InvalidTargetError{Unit: id, Target: to, Reason: "already there"}
	}

	dst, err := c.res.Resolve(to)
	if err != nil {
		return api.Remote{}, &api.InvalidTargetError{Unit: id, Target: to, Reason: err.Error()}
	}

	// Two HostIDs at the same address are the same runtime.
	src, err := c.res.Resolve(from)
	if err == nil && src.Addr() == dst.Addr() {
		return api.Remote{}, &api.InvalidTargetError{Unit: id, Target: to, Reason: fmt.Sprintf("same address as current host: %s", dst.Addr())}
	}

	return dst, nil
}

// Register tells the registry about a unit which was just spawned at this
// host, and starts its residency timer.
func (c *Controller) Register(ctx context.Context, u *unit.Unit) error {
	err := c.loc.Update(ctx, u.Record())
	if err != nil {
		return err
	}

	c.startResidency(u)
	return nil
}

// Arrive is called by the destination host once it has accepted a unit. If
// the registry needs to be told about the new location right away (because
// the unit is new, isn't leaving forwarders, or has made too many handoffs),
// it's done here. Failing to do so doesn't fail the arrival; the forwarders or
// the residency timer will get the registry there eventually.
func (c *Controller) Arrive(ctx context.Context, p unit.Parcel, u *unit.Unit) {
	s := u.Strategy()
	n := u.Handoffs()

	if p.Clone || !s.Forwarding() || (s.MaxHandoffs > 0 && n >= s.MaxHandoffs) {
		err := c.loc.Update(ctx, u.Record())
		if err != nil {
			log.Warn().Err(err).Str("unit", u.ID().String()).Msg("error updating registry on arrival")
		} else {
			u.ResetHandoffs()
		}
	}

	c.startResidency(u)
}

// Release drops the lease and timers for the given unit without pushing any
// update. Called when the instance at this host is replaced.
func (c *Controller) Release(id api.UnitID) {
	c.mu.Lock()
	if l, ok := c.leases[id]; ok {
		l.timer.Stop()
		delete(c.leases, id)
	}
	c.mu.Unlock()

	c.stopResidency(id)
}

// Stop cancels all timers. Forwarders stay as they are.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, l := range c.leases {
		l.timer.Stop()
		delete(c.leases, id)
	}

	for id, r := range c.residency {
		r.timer.Stop()
		delete(c.residency, id)
	}
}

func (c *Controller) startResidency(u *unit.Unit) {
	d := u.Strategy().MaxResidency
	if d <= 0 {
		return
	}

	id := u.ID()

	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.residency[id]; ok {
		r.timer.Stop()
	}

	c.gen += 1
	gen := c.gen

	c.residency[id] = &residency{
		gen: gen,
		timer: c.clock.AfterFunc(d, func() {
			c.resided(u, gen)
		}),
	}

	u.OnTerminate(func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		// Might have been replaced by a later arrival of the same unit.
		if r, ok := c.residency[id]; ok && r.gen == gen {
			r.timer.Stop()
			delete(c.residency, id)
		}
	})
}

func (c *Controller) stopResidency(id api.UnitID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.residency[id]; ok {
		r.timer.Stop()
		delete(c.residency, id)
	}
}

// resided is called when a unit has been at this host for its max residency.
func (c *Controller) resided(u *unit.Unit, gen uint64) {
	id := u.ID()

	c.mu.Lock()
	r, ok := c.residency[id]
	if !ok || r.gen != gen {
		c.mu.Unlock()
		return
	}
	delete(c.residency, id)
	c.mu.Unlock()

	if !u.IsActive() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), updateTimeout)
	defer cancel()

	err := c.loc.Update(ctx, u.Record())
	if err != nil {
		log.Warn().Err(err).Str("unit", id.String()).Msg("error updating registry after max residency")
		return
	}

	u.ResetHandoffs()
}

// drain sends the calls which the unit queued during a migration and which
// didn't leave in the parcel. Failures are logged; the calls are dropped.
func (c *Controller) drain(u *unit.Unit) {
	ctx, cancel := context.WithTimeout(context.Background(), updateTimeout)
	defer cancel()

	if err := u.Drain(ctx); err != nil {
		log.Warn().Err(err).Str("unit", u.ID().String()).Msg("error sending queued calls")
	}
}

func (c *Controller) emit(e api.Event) {
	e.At = c.clock.Now()
	c.obs.Observe(e)
}
