package registry

import (
	"time"

	"github.com/adammck/rover/pkg/api"
)

type pendingKey struct {
	requester api.RequesterID
	unit      api.UnitID
}

func (l *lookup) key() pendingKey {
	return pendingKey{
		requester: l.requester,
		unit:      l.unit,
	}
}

// pendingLookup is what the registry remembers about the last lookup from a
// given requester for a given unit. There's at most one per key, and it's
// overwritten in place, so never needs collecting.
type pendingLookup struct {

	// The version of the record most recently returned for this key.
	lastServedVersion api.Version

	// When that answer was given.
	servedAt time.Time

	// When the currently outstanding (i.e. not yet answered) request arrived.
	// Only meaningful while served is false.
	requestedAt time.Time

	// Whether the most recent request for this key has been answered.
	served bool
}

// admit decides what to do with a newly arrived lookup: answer it now, or hold
// it until the cooldown elapses or the record changes.
func (r *Registry) admit(l *lookup) {

	// The select in Run picks randomly when both an update and a lookup are
	// ready, so check again.
	r.drainUpdates()

	now := r.clock.Now()
	l.arrived = now

	rec, ok := r.records[l.unit]
	if !ok {
		r.m.lookups.WithLabelValues("not_found").Inc()
		r.answer(l, api.Record{}, &api.NotFoundError{Unit: l.unit})
		return
	}

	p, ok := r.pending[l.key()]

	switch {
	case !ok || p.lastServedVersion != rec.Version:
		// First lookup, or the record has changed since the last answer.
		r.serve(l, rec)

	case p.served:
		// Same question, same answer as last time. The caller's situation may
		// still be stale, so don't spin-serve it; queue until the cooldown
		// since the last answer has elapsed (which may be already).
		p.served = false
		p.requestedAt = now
		r.hold(l, p.servedAt.Add(r.cooldown))

	case now.Sub(p.requestedAt) < r.cooldown:
		// Retry of a request which is still waiting.
		r.hold(l, p.requestedAt.Add(r.cooldown))

	default:
		r.serve(l, rec)
	}
}

// hold parks the lookup until the given time, unless the record changes first.
func (r *Registry) hold(l *lookup, until time.Time) {
	l.until = until
	r.held = append(r.held, l)

	if d := until.Sub(r.clock.Now()); d > 0 {
		r.clock.AfterFunc(d, r.poke)
	} else {
		r.poke()
	}

	r.m.lookups.WithLabelValues("held").Inc()
}

// release answers the oldest held lookup which is ready, if any, and returns
// whether it did. Held lookups are ready once their cooldown has elapsed or
// the record has changed since the requester's last answer.
func (r *Registry) release() bool {
	if len(r.held) == 0 {
		return false
	}

	now := r.clock.Now()

	// Forget lookups whose callers have given up.
	live := r.held[:0]
	for _, l := range r.held {
		if l.ctx.Err() != nil {
			r.m.lookups.WithLabelValues("abandoned").Inc()
			continue
		}
		live = append(live, l)
	}
	r.held = live

	for _, l := range r.held {
		rec := r.records[l.unit]
		p := r.pending[l.key()]

		if p != nil && p.lastServedVersion == rec.Version && now.Before(l.until) {
			continue
		}

		r.serve(l, rec)
		return true
	}

	return false
}

// serve answers the lookup, and any other lookups held for the same key, with
// the given record. However many callers were waiting, this counts as a single
// answer for the purposes of the cooldown.
func (r *Registry) serve(l *lookup, rec api.Record) {
	key := l.key()
	r.answer(l, rec, nil)

	n := 0
	keep := r.held[:0]
	for _, h := range r.held {
		if h == l {
			continue
		}
		if h.key() == key {
			r.answer(h, rec, nil)
			n += 1
			continue
		}
		keep = append(keep, h)
	}
	r.held = keep

	r.pending[key] = &pendingLookup{
		lastServedVersion: rec.Version,
		servedAt:          r.clock.Now(),
		served:            true,
	}

	r.m.lookups.WithLabelValues("served").Inc()
	r.m.coalesced.Add(float64(n))
}
