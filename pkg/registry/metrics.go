package registry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rover"

type metrics struct {
	updates   *prometheus.CounterVec
	lookups   *prometheus.CounterVec
	coalesced prometheus.Counter
	records   prometheus.Gauge
}

// newMetrics returns the registry's collectors, registered with reg unless
// it's nil. Each registry has its own, so tests can run many at once.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		updates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "updates_total",
				Help:      "Location updates received, by whether they were applied or stale.",
			},
			[]string{"result"},
		),
		lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "lookups_total",
				Help:      "Lookups, by what the throttle did with them.",
			},
			[]string{"result"}, // served, held, not_found, abandoned
		),
		coalesced: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "lookups_coalesced_total",
				Help:      "Held lookups answered alongside another for the same requester and unit.",
			},
		),
		records: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "records",
				Help:      "Number of units with a location record.",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.updates, m.lookups, m.coalesced, m.records)
	}

	return m
}
