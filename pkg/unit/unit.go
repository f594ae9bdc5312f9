// Package unit provides the mobile unit: a single-threaded, stateful thing
// with a stable identity, which can be moved between hosts.
//
// A unit instance knows nothing about the registry or the migration protocol.
// It exposes the hooks that the migration controller needs (BeginMigration,
// Abort, Forward, etc) and enforces its own state machine:
//
//	Active -> Migrating -> Active       (transfer failed, or clone)
//	Active -> Migrating -> Forwarding   (moved, lease granted)
//	Active -> Migrating -> Terminated   (moved, no forwarding)
//	Forwarding -> Terminated            (lease expired)
//	Active -> Terminated
package unit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/adammck/rover/pkg/api"
	"github.com/rs/zerolog/log"
)

var ErrNoRelay = errors.New("unit has no relay")

type Unit struct {

	// Serialises calls to the behavior. Held for the duration of Receive.
	exec sync.Mutex

	// Guards everything below.
	mu sync.Mutex

	id       api.UnitID
	host     api.HostID
	version  api.Version
	state    api.UnitState
	strategy api.Strategy
	behavior Behavior
	relay    Relay

	// Closed whenever the unit isn't Migrating. Messages delivered during a
	// migration wait on it.
	gate chan struct{}

	// Where messages are relayed to while Forwarding.
	forward api.Handle

	// Outbound calls made while deferred are queued here.
	outbox   []Call
	deferred bool

	// How many calls from the front of the outbox went into the last parcel.
	packed int

	// The outbound mode before the current migration began, for rollback.
	savedDeferred bool

	// Set when the unit is created from a parcel, and cleared the first time
	// it does anything at the new host.
	justMigrated bool

	lineage  []Link
	handoffs int

	onTerminate []func()
}

func closedGate() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// New returns a brand new Active unit at version one.
func New(h api.Handle, b Behavior, s api.Strategy, r Relay) *Unit {
	return &Unit{
		id:       h.Unit,
		host:     h.Host,
		version:  1,
		state:    api.UsActive,
		strategy: s,
		behavior: b,
		relay:    r,
		gate:     closedGate(),
	}
}

// FromParcel returns the unit which arrived in the given parcel, now resident
// at the given host. Its outbox stays frozen until OnActivityResumed.
func FromParcel(p Parcel, host api.HostID, r Relay) *Unit {
	outbox := make([]Call, len(p.Outbox))
	copy(outbox, p.Outbox)

	lineage := make([]Link, len(p.Lineage))
	copy(lineage, p.Lineage)

	return &Unit{
		id:           p.ID,
		host:         host,
		version:      p.Version,
		state:        api.UsActive,
		strategy:     p.Strategy,
		behavior:     p.Behavior,
		relay:        r,
		gate:         closedGate(),
		outbox:       outbox,
		deferred:     true,
		justMigrated: true,
		lineage:      lineage,
		handoffs:     p.Handoffs,
	}
}

func (u *Unit) ID() api.UnitID {
	return u.id
}

func (u *Unit) Handle() api.Handle {
	return api.Handle{
		Unit: u.id,
		Host: u.host,
	}
}

func (u *Unit) Version() api.Version {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.version
}

func (u *Unit) State() api.UnitState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

func (u *Unit) IsActive() bool {
	return u.State() == api.UsActive
}

func (u *Unit) IsTerminated() bool {
	return u.State() == api.UsTerminated
}

func (u *Unit) Strategy() api.Strategy {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.strategy
}

// Record returns the registry record pointing at this instance.
func (u *Unit) Record() api.Record {
	u.mu.Lock()
	defer u.mu.Unlock()
	return api.Record{
		Unit:    u.id,
		Handle:  api.Handle{Unit: u.id, Host: u.host},
		Version: u.version,
	}
}

// Forward returns the handle which a Forwarding unit relays to.
func (u *Unit) Forward() api.Handle {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.forward
}

func (u *Unit) Lineage() []Link {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]Link, len(u.lineage))
	copy(out, u.lineage)
	return out
}

func (u *Unit) Handoffs() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.handoffs
}

// ResetHandoffs is called once the registry has been told where the unit is.
func (u *Unit) ResetHandoffs() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.handoffs = 0
}

// JustMigrated returns true if the unit has arrived from another host and has
// not yet resumed activity.
func (u *Unit) JustMigrated() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.justMigrated
}

// OnTerminate registers a func to be called (once) when the unit terminates.
func (u *Unit) OnTerminate(f func()) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.onTerminate = append(u.onTerminate, f)
}

// Deliver hands the message to the unit. While the unit is Migrating this
// blocks until the migration finishes one way or the other, and then tries
// again. Forwarding units relay the message onwards. Terminated units fail.
func (u *Unit) Deliver(ctx context.Context, msg Message) (Reply, error) {
	for {
		u.mu.Lock()
		state := u.state

		switch state {
		case api.UsMigrating:
			gate := u.gate
			u.mu.Unlock()

			select {
			case <-gate:
				continue
			case <-ctx.Done():
				return Reply{}, ctx.Err()
			}

		case api.UsForwarding:
			fwd := u.forward
			relay := u.relay
			u.mu.Unlock()

			if relay == nil {
				return Reply{}, ErrNoRelay
			}

			rep, err := relay.Deliver(ctx, fwd, msg)
			if err != nil {
				return Reply{}, err
			}

			rep.Hops += 1
			return rep, nil

		case api.UsTerminated:
			u.mu.Unlock()
			return Reply{}, &api.TerminatedError{Unit: u.id}

		case api.UsActive:
			u.mu.Unlock()

			rep, ok, err := u.receive(ctx, msg)
			if !ok {
				// Started migrating while we were waiting for the lock.
				continue
			}

			return rep, err

		default:
			u.mu.Unlock()
			panic(fmt.Sprintf("unexpected unit state: %s", state))
		}
	}
}

// receive runs the behavior, unless the unit stopped being Active while
// waiting for its turn, in which case ok is false.
func (u *Unit) receive(ctx context.Context, msg Message) (Reply, bool, error) {
	u.exec.Lock()
	defer u.exec.Unlock()

	if !u.IsActive() {
		return Reply{}, false, nil
	}

	if err := u.resume(ctx); err != nil {
		log.Warn().Err(err).Str("unit", u.id.String()).Msg("error resuming activity")
	}

	v, err := u.behavior.Receive(ctx, u, msg)
	return Reply{Value: v, Handle: u.Handle()}, true, err
}

// OnActivityResumed must be called when a unit which just arrived from
// another host first does anything. It calls the behavior's Arrived hook
// (once), then unfreezes the outbox and sends everything in it. Deliver calls
// it automatically; it's a no-op after the first time, except to send calls
// left queued by a migration which was rolled back.
func (u *Unit) OnActivityResumed(ctx context.Context) error {
	u.exec.Lock()
	defer u.exec.Unlock()
	return u.resume(ctx)
}

// Caller must hold exec.
func (u *Unit) resume(ctx context.Context) error {
	u.mu.Lock()
	arrived := u.justMigrated
	if arrived {
		u.justMigrated = false
		u.deferred = false
	}
	u.mu.Unlock()

	var err error
	if arrived {
		if a, ok := u.behavior.(Arriver); ok {
			err = a.Arrived(u)
		}
	}

	return errors.Join(err, u.Flush(ctx))
}

// Send makes an outbound call to another unit. While the unit's outbound
// calls are deferred (during migration, and after arriving until activity
// resumes), the call is queued and sent later by Flush. Calls are always sent
// in the order they were made, so if anything is still queued, this call goes
// out behind it.
func (u *Unit) Send(ctx context.Context, to api.Handle, msg Message) error {
	u.mu.Lock()

	if u.state == api.UsTerminated {
		u.mu.Unlock()
		return &api.TerminatedError{Unit: u.id}
	}

	if u.deferred || len(u.outbox) > 0 {
		u.outbox = append(u.outbox, Call{To: to, Msg: msg})
		deferred := u.deferred
		u.mu.Unlock()

		if deferred {
			return nil
		}

		return u.Flush(ctx)
	}

	relay := u.relay
	u.mu.Unlock()

	if relay == nil {
		return ErrNoRelay
	}

	_, err := relay.Deliver(ctx, to, msg)
	return err
}

// Flush sends every queued outbound call, in order. Calls which fail are
// dropped, and their errors returned together. Does nothing while the outbox
// is frozen, or if there's no relay to send via.
func (u *Unit) Flush(ctx context.Context) error {
	u.mu.Lock()
	if u.deferred || len(u.outbox) == 0 {
		u.mu.Unlock()
		return nil
	}
	if u.relay == nil {
		u.mu.Unlock()
		return ErrNoRelay
	}
	calls := u.outbox
	u.outbox = nil
	relay := u.relay
	u.mu.Unlock()

	var errs []error
	for _, c := range calls {
		if _, err := relay.Deliver(ctx, c.To, c.Msg); err != nil {
			errs = append(errs, fmt.Errorf("call to %s: %w", c.To, err))
		}
	}

	return errors.Join(errs...)
}

// Outbox returns a copy of the queued outbound calls.
func (u *Unit) Outbox() []Call {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]Call, len(u.outbox))
	copy(out, u.outbox)
	return out
}

// Terminate stops the unit forever, and runs the OnTerminate callbacks.
func (u *Unit) Terminate() error {
	u.mu.Lock()

	switch u.state {
	case api.UsMigrating:
		u.mu.Unlock()
		return &api.MigratingError{Unit: u.id}

	case api.UsTerminated:
		u.mu.Unlock()
		return &api.TerminatedError{Unit: u.id}
	}

	u.state = api.UsTerminated
	u.outbox = nil
	cbs := u.onTerminate
	u.onTerminate = nil
	u.mu.Unlock()

	for _, f := range cbs {
		f()
	}

	return nil
}
