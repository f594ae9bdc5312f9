package unit

import (
	"time"

	"github.com/adammck/rover/pkg/api"
)

// Link is a forwarder left behind by a previous move, which may still be
// relaying messages until Expires.
type Link struct {
	Handle  api.Handle
	Expires time.Time
}

// Parcel is everything which travels with a unit when it's transferred to
// another host.
type Parcel struct {
	ID      api.UnitID
	Version api.Version

	// Where the unit is being transferred from.
	Origin api.Handle

	// Whether this is a copy of the unit with a fresh identity, rather than
	// the unit itself.
	Clone bool

	Behavior Behavior
	Outbox   []Call
	Lineage  []Link
	Handoffs int
	Strategy api.Strategy
}

// Live returns the links which haven't expired at the given time.
func Live(links []Link, now time.Time) []Link {
	out := []Link{}
	for _, l := range links {
		if now.Before(l.Expires) {
			out = append(out, l)
		}
	}
	return out
}
