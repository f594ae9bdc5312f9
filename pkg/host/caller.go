package host

import (
	"context"
	"sync"

	"github.com/adammck/rover/pkg/api"
	"github.com/adammck/rover/pkg/unit"
	"github.com/rs/zerolog/log"
)

const defaultMaxAttempts = 5

// Caller sends messages to units on behalf of some requester, keeping its
// references up to date: from the handles in replies, and by asking the
// registry when a reference turns out to be stale.
type Caller struct {
	id    api.RequesterID
	relay unit.Relay
	loc   api.Locator

	// How many times to deliver before giving up.
	MaxAttempts int

	mu      sync.Mutex
	handles map[api.UnitID]api.Handle
}

func NewCaller(id api.RequesterID, relay unit.Relay, loc api.Locator) *Caller {
	return &Caller{
		id:          id,
		relay:       relay,
		loc:         loc,
		MaxAttempts: defaultMaxAttempts,
		handles:     map[api.UnitID]api.Handle{},
	}
}

// Handle returns the best known handle for the unit.
func (c *Caller) Handle(id api.UnitID) (api.Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[id]
	return h, ok
}

func (c *Caller) remember(h api.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handles[h.Unit] = h
}

// Call delivers the message to the unit, starting at the given handle (or a
// newer one, if known). If the unit is gone from there, the registry is asked
// where it is now, and the call is retried.
func (c *Caller) Call(ctx context.Context, h api.Handle, msg unit.Message) (unit.Reply, error) {
	cur := h
	if known, ok := c.Handle(h.Unit); ok {
		cur = known
	}

	for attempt := 1; ; attempt++ {
		rep, err := c.relay.Deliver(ctx, cur, msg)
		if err == nil {
			c.remember(rep.Handle)
			return rep, nil
		}

		if !api.IsGone(err) || attempt >= c.MaxAttempts {
			return unit.Reply{}, err
		}

		// The registry throttles repeated lookups, so this also acts as a
		// backoff when it doesn't know anything newer yet.
		rec, err := c.loc.Lookup(ctx, c.id, h.Unit)
		if err != nil {
			return unit.Reply{}, err
		}

		log.Debug().Str("unit", h.Unit.String()).Str("stale", cur.String()).Str("current", rec.Handle.String()).Msg("refreshed handle")
		cur = rec.Handle
		c.remember(cur)
	}
}
