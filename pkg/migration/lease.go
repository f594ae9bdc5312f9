package migration

import (
	"context"
	"time"

	"github.com/adammck/rover/pkg/api"
	"github.com/adammck/rover/pkg/unit"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Lease is held by a forwarder left behind at this host. It lets the
// forwarder keep relaying until Expires.
type Lease struct {

	// Where the forwarder relays to, and the version of the unit there.
	Dest    api.Handle
	Version api.Version

	TTL     time.Duration
	Expires time.Time

	// Whether to push Dest to the registry when the lease expires.
	Updating bool

	gen   uint64
	timer clockwork.Timer
	unit  *unit.Unit
}

func (c *Controller) grantLease(u *unit.Unit, dest api.Handle, v api.Version, s api.Strategy) {
	id := u.ID()

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.leases[id]; ok {
		old.timer.Stop()
	}

	c.gen += 1
	gen := c.gen

	c.leases[id] = &Lease{
		Dest:     dest,
		Version:  v,
		TTL:      s.TTL,
		Expires:  c.clock.Now().Add(s.TTL),
		Updating: s.UpdatingForwarder,
		gen:      gen,
		unit:     u,
		timer: c.clock.AfterFunc(s.TTL, func() {
			c.expire(id, gen)
		}),
	}
}

// Lease returns a copy of the lease held by the forwarder for the given unit
// at this host, if there is one.
func (c *Controller) Lease(id api.UnitID) (Lease, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.leases[id]
	if !ok {
		return Lease{}, false
	}

	return Lease{
		Dest:     l.Dest,
		Version:  l.Version,
		TTL:      l.TTL,
		Expires:  l.Expires,
		Updating: l.Updating,
	}, true
}

// Retarget points the forwarder for the given unit at this host to a newer
// location. Older versions are ignored, so that retargets arriving out of
// order can't send the forwarder backwards.
func (c *Controller) Retarget(id api.UnitID, to api.Handle, v api.Version) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.leases[id]
	if !ok {
		return &api.NotFoundError{Unit: id}
	}

	if v < l.Version {
		return nil
	}

	err := l.unit.Retarget(to)
	if err != nil {
		return err
	}

	l.Dest = to
	l.Version = v

	return nil
}

// expire retires a forwarder whose lease has run out.
func (c *Controller) expire(id api.UnitID, gen uint64) {
	c.mu.Lock()
	l, ok := c.leases[id]
	if !ok || l.gen != gen {
		c.mu.Unlock()
		return
	}
	delete(c.leases, id)
	c.mu.Unlock()

	if l.Updating {
		ctx, cancel := context.WithTimeout(context.Background(), updateTimeout)
		defer cancel()

		rec := api.Record{
			Unit:    id,
			Handle:  l.Dest,
			Version: l.Version,
		}

		// Not retried. If this is lost, the registry is corrected by the next
		// arrival or residency timeout.
		if err := c.loc.Update(ctx, rec); err != nil {
			log.Warn().Err(err).Str("unit", id.String()).Str("dest", l.Dest.String()).Msg("error updating registry on lease expiry")
		}
	}

	if err := l.unit.Terminate(); err != nil {
		log.Warn().Err(err).Str("unit", id.String()).Msg("error terminating forwarder")
	}

	c.emit(api.Event{
		Kind:    api.ForwarderRetired,
		Unit:    id,
		From:    l.unit.Handle(),
		To:      l.Dest,
		Version: l.Version,
	})
}
