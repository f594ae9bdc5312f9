// Package metrics provides an api.Observer which logs migration events and
// exports them to Prometheus.
package metrics

import (
	"sync"
	"time"

	"github.com/adammck/rover/pkg/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

type Observer struct {
	events    *prometheus.CounterVec
	durations prometheus.Histogram

	// When each in-progress migration began, by unit.
	mu      sync.Mutex
	started map[api.UnitID]time.Time
}

// NewObserver returns an observer whose collectors are registered with reg,
// unless it's nil.
func NewObserver(reg prometheus.Registerer) *Observer {
	o := &Observer{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rover",
				Subsystem: "migration",
				Name:      "events_total",
				Help:      "Migration events, by kind.",
			},
			[]string{"kind"},
		),
		durations: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "rover",
				Subsystem: "migration",
				Name:      "duration_seconds",
				Help:      "Time from the start of a migration until it succeeded or failed.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
			},
		),
		started: map[api.UnitID]time.Time{},
	}

	if reg != nil {
		reg.MustRegister(o.events, o.durations)
	}

	return o
}

func (o *Observer) Observe(e api.Event) {
	o.events.WithLabelValues(e.Kind.String()).Inc()

	switch e.Kind {
	case api.BeforeMigration:
		o.mu.Lock()
		o.started[e.Unit] = e.At
		o.mu.Unlock()

	case api.AfterMigration, api.MigrationFailed:
		// Clones finish under the new unit's ID, so their start is keyed by
		// the original. Look under both.
		o.mu.Lock()
		t, ok := o.started[e.Unit]
		if ok {
			delete(o.started, e.Unit)
		} else if t, ok = o.started[e.From.Unit]; ok {
			delete(o.started, e.From.Unit)
		}
		o.mu.Unlock()

		if ok {
			o.durations.Observe(e.At.Sub(t).Seconds())
		}
	}

	ev := log.Info()
	if e.Kind == api.MigrationFailed {
		ev = log.Warn().Err(e.Err)
	}

	ev.Str("event", e.Kind.String()).
		Str("unit", e.Unit.String()).
		Str("from", e.From.String()).
		Str("to", e.To.String()).
		Uint64("version", uint64(e.Version)).
		Msg("migration event")
}

// Multi fans each event out to several observers, in order.
type Multi []api.Observer

func (m Multi) Observe(e api.Event) {
	for _, o := range m {
		o.Observe(e)
	}
}
