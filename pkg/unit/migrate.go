package unit

import (
	"context"
	"fmt"

	"github.com/adammck/rover/pkg/api"
)

// The methods in this file are called by the migration controller. Nothing
// else should need them.

// BeginMigration atomically moves the unit from Active to Migrating. From now
// until the migration ends (Abort, Reactivate, or BecomeForwarder), inbound
// messages wait and outbound calls are queued.
func (u *Unit) BeginMigration() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch u.state {
	case api.UsActive:
	case api.UsMigrating:
		return &api.MigratingError{Unit: u.id}
	case api.UsTerminated:
		return &api.TerminatedError{Unit: u.id}
	default:
		return &api.NotActiveError{Unit: u.id, State: u.state}
	}

	u.state = api.UsMigrating
	u.gate = make(chan struct{})
	u.savedDeferred = u.deferred
	u.deferred = true

	return nil
}

// Quiesce blocks until any message which was being processed when the
// migration began has finished. Must not be called from within Receive.
func (u *Unit) Quiesce() {
	u.exec.Lock()
	defer u.exec.Unlock()
}

// Pack returns the parcel to transfer. Moves keep the identity and bump the
// version. Clones get a fresh identity at version one, and leave the outbox
// behind. The unit itself is unchanged, in case the transfer fails.
func (u *Unit) Pack(clone bool) (Parcel, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state != api.UsMigrating {
		return Parcel{}, fmt.Errorf("can't pack unit in state %s", u.state)
	}

	p := Parcel{
		ID:       u.id,
		Version:  u.version + 1,
		Origin:   api.Handle{Unit: u.id, Host: u.host},
		Behavior: u.behavior,
		Strategy: u.strategy,
		Handoffs: u.handoffs,
	}

	if clone {
		p.ID = api.NewUnitID()
		p.Version = 1
		p.Clone = true
		p.Handoffs = 0

		if c, ok := u.behavior.(Cloner); ok {
			p.Behavior = c.Clone()
		}

		u.packed = 0
		return p, nil
	}

	p.Outbox = make([]Call, len(u.outbox))
	copy(p.Outbox, u.outbox)
	u.packed = len(u.outbox)

	p.Lineage = make([]Link, len(u.lineage))
	copy(p.Lineage, u.lineage)

	return p, nil
}

// Abort rolls back a migration which failed: the unit is Active again, with
// its outbound mode as it was before, and blocked messages proceed. Calls
// queued during the migration stay in the outbox, ahead of any new ones, until
// the next Drain, Deliver, or Send.
func (u *Unit) Abort() {
	u.end(api.UsActive)
}

// Reactivate ends a clone migration. The original stays where it is.
func (u *Unit) Reactivate() {
	u.end(api.UsActive)
}

func (u *Unit) end(s api.UnitState) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state != api.UsMigrating {
		return
	}

	u.state = s
	u.deferred = u.savedDeferred
	u.packed = 0
	close(u.gate)
}

// BecomeForwarder ends a successful move. The instance left behind relays
// everything to the given handle from now on. The packed part of its outbox
// went with the unit, so is dropped here. Calls queued after Pack stay behind,
// unfrozen, to be sent from here by Drain.
func (u *Unit) BecomeForwarder(to api.Handle) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state != api.UsMigrating {
		return &api.NotActiveError{Unit: u.id, State: u.state}
	}

	n := u.packed
	if n > len(u.outbox) {
		n = len(u.outbox)
	}

	var late []Call
	if len(u.outbox) > n {
		late = make([]Call, len(u.outbox)-n)
		copy(late, u.outbox[n:])
	}

	u.state = api.UsForwarding
	u.forward = to
	u.outbox = late
	u.deferred = false
	u.packed = 0
	u.lineage = nil
	close(u.gate)

	return nil
}

// Drain sends whatever is left in the outbox once a migration has ended,
// waiting for any message being processed to finish first. A no-op if the
// outbox is still frozen from an earlier arrival.
func (u *Unit) Drain(ctx context.Context) error {
	u.exec.Lock()
	defer u.exec.Unlock()
	return u.Flush(ctx)
}

// Retarget points a forwarder somewhere else, so that chains of forwarders
// never get longer than one hop.
func (u *Unit) Retarget(to api.Handle) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state != api.UsForwarding {
		return &api.NotActiveError{Unit: u.id, State: u.state}
	}

	u.forward = to
	return nil
}
