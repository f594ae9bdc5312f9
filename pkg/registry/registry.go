// Package registry provides the location registry: the authoritative map from
// unit identity to its current handle and version.
//
// The map is owned by a single goroutine (Run). Everything else talks to it by
// sending requests down channels, so there are no locks around the map. The
// serving loop always applies every pending update before it services the
// next lookup, since callers chasing stale handles can only make progress once
// corrections land.
package registry

import (
	"context"
	"sort"
	"time"

	"github.com/adammck/rover/pkg/api"
	"github.com/adammck/rover/pkg/persister"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// DefaultCooldown is how long a repeated lookup is held before the same answer
// is given again.
const DefaultCooldown = 1000 * time.Millisecond

type update struct {
	rec  api.Record
	done chan bool // true if applied
}

type lookup struct {
	ctx       context.Context
	requester api.RequesterID
	unit      api.UnitID
	arrived   time.Time
	res       chan lookupResult

	// Set when the lookup is held: the time at which it's ready to be answered
	// even if the record hasn't changed.
	until time.Time
}

type lookupResult struct {
	rec api.Record
	err error
}

type dump struct {
	res chan []api.Record
}

type Registry struct {
	clock    clockwork.Clock
	cooldown time.Duration
	pers     persister.Persister
	m        *metrics

	updates chan *update
	lookups chan *lookup
	dumps   chan *dump

	// wake is poked (by cooldown timers) to make the loop re-check held
	// lookups. Buffered, so many pokes collapse into one.
	wake chan struct{}

	// done is closed when Run returns.
	done chan struct{}

	// Everything below is owned by the serving loop.

	records map[api.UnitID]api.Record
	pending map[pendingKey]*pendingLookup
	held    []*lookup

	// Only for tests. Called (from the serving loop) after each update is
	// applied or ignored, and after each lookup is answered.
	onUpdate func(api.Record, bool)
	onServe  func(*lookup, api.Record, error)
}

type Option func(*Registry)

// WithClock replaces the real clock, for tests.
func WithClock(c clockwork.Clock) Option {
	return func(r *Registry) {
		r.clock = c
	}
}

// WithCooldown sets how long repeated lookups are held. The default is one
// second.
func WithCooldown(d time.Duration) Option {
	return func(r *Registry) {
		r.cooldown = d
	}
}

// WithPersister writes every applied record through to the given persister,
// and loads the initial records from it.
func WithPersister(p persister.Persister) Option {
	return func(r *Registry) {
		r.pers = p
	}
}

// WithRegisterer registers the registry's metrics with the given registerer.
// By default they aren't registered anywhere.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(r *Registry) {
		r.m = newMetrics(reg)
	}
}

// New returns a registry which isn't serving yet; call Run. Requests sent
// before Run is called will queue (up to a point) and be served once it is.
func New(opts ...Option) (*Registry, error) {
	r := &Registry{
		clock:    clockwork.NewRealClock(),
		cooldown: DefaultCooldown,

		updates: make(chan *update, 1024),
		lookups: make(chan *lookup, 1024),
		dumps:   make(chan *dump),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),

		records: map[api.UnitID]api.Record{},
		pending: map[pendingKey]*pendingLookup{},
		held:    []*lookup{},
	}

	for _, o := range opts {
		o(r)
	}

	if r.m == nil {
		r.m = newMetrics(nil)
	}

	// This loads the records from storage, so will fail if the persister
	// (e.g. Consul) isn't available.
	if r.pers != nil {
		recs, err := r.pers.GetRecords()
		if err != nil {
			return nil, err
		}

		for _, rec := range recs {
			r.records[rec.Unit] = rec
		}

		log.Info().Int("records", len(recs)).Msg("loaded records")
		r.m.records.Set(float64(len(r.records)))
	}

	return r, nil
}

// Run serves requests until the context is cancelled. It must only be called
// once.
func (r *Registry) Run(ctx context.Context) error {
	defer close(r.done)

	for {

		// Corrections first. Apply everything that's waiting before even
		// looking at the lookup queue.
		r.drainUpdates()

		// Answer one held lookup if any are ready, then loop around to check
		// for updates again.
		if r.release() {
			continue
		}

		select {
		case <-ctx.Done():
			r.shutdown()
			return ctx.Err()

		case u := <-r.updates:
			r.apply(u)

		case l := <-r.lookups:
			r.admit(l)

		case d := <-r.dumps:
			d.res <- r.snapshot()

		case <-r.wake:
		}
	}
}

// Update writes the given record, unless a newer version is already known.
// Blocks until the registry has applied (or ignored) it.
func (r *Registry) Update(ctx context.Context, rec api.Record) error {
	u := &update{
		rec:  rec,
		done: make(chan bool, 1),
	}

	select {
	case r.updates <- u:
	case <-r.done:
		return api.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-u.done:
		return nil
	case <-r.done:
		return api.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lookup returns the current record for the given unit. Repeated lookups by
// the same requester for a record which hasn't changed are held for up to the
// cooldown period before being answered.
func (r *Registry) Lookup(ctx context.Context, requester api.RequesterID, id api.UnitID) (api.Record, error) {
	l := &lookup{
		ctx:       ctx,
		requester: requester,
		unit:      id,
		res:       make(chan lookupResult, 1),
	}

	select {
	case r.lookups <- l:
	case <-r.done:
		return api.Record{}, api.ErrClosed
	case <-ctx.Done():
		return api.Record{}, ctx.Err()
	}

	select {
	case res := <-l.res:
		return res.rec, res.err
	case <-r.done:
		return api.Record{}, api.ErrClosed
	case <-ctx.Done():
		return api.Record{}, ctx.Err()
	}
}

// Dump returns every record, sorted by unit ID.
func (r *Registry) Dump(ctx context.Context) ([]api.Record, error) {
	d := &dump{
		res: make(chan []api.Record, 1),
	}

	select {
	case r.dumps <- d:
	case <-r.done:
		return nil, api.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return <-d.res, nil
}

// ---- serving loop only below here

func (r *Registry) drainUpdates() {
	for {
		select {
		case u := <-r.updates:
			r.apply(u)
		default:
			return
		}
	}
}

func (r *Registry) apply(u *update) {
	rec := u.rec
	cur, ok := r.records[rec.Unit]

	applied := !ok || rec.Supersedes(cur)
	if applied {
		r.records[rec.Unit] = rec
		r.m.updates.WithLabelValues("applied").Inc()
		r.m.records.Set(float64(len(r.records)))

		if r.pers != nil {
			if err := r.pers.PutRecord(rec); err != nil {
				// The in-memory record still wins. It'll be persisted again by
				// the next update for the same unit.
				log.Error().Err(err).Str("unit", rec.Unit.String()).Msg("error persisting record")
			}
		}

		log.Debug().Str("unit", rec.Unit.String()).Str("handle", rec.Handle.String()).Uint64("version", uint64(rec.Version)).Msg("record updated")

	} else {
		r.m.updates.WithLabelValues("stale").Inc()
		log.Debug().Str("unit", rec.Unit.String()).Uint64("version", uint64(rec.Version)).Uint64("current", uint64(cur.Version)).Msg("ignored stale update")
	}

	u.done <- applied

	if r.onUpdate != nil {
		r.onUpdate(rec, applied)
	}
}

func (r *Registry) answer(l *lookup, rec api.Record, err error) {
	l.res <- lookupResult{rec: rec, err: err}

	if r.onServe != nil {
		r.onServe(l, rec, err)
	}
}

func (r *Registry) snapshot() []api.Record {
	out := make([]api.Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Unit < out[j].Unit
	})

	return out
}

// poke wakes up the serving loop. Called from timer goroutines.
func (r *Registry) poke() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Registry) shutdown() {
	for _, l := range r.held {
		l.res <- lookupResult{err: api.ErrClosed}
	}
	r.held = nil
}
