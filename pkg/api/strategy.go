package api

import (
	"fmt"
	"time"
)

// Strategy holds the parameters which control how a unit leaves a trail
// behind it as it moves, and how eagerly the registry is corrected.
type Strategy struct {

	// How long should the forwarder left behind at the old host keep relaying
	// before it retires? Zero means that no forwarder is left at all, and the
	// registry is updated as soon as the unit arrives.
	TTL time.Duration

	// How many moves may happen (while a forwarder lease is still live) before
	// the registry is updated immediately, rather than waiting for the lease
	// to expire? Zero means unbounded.
	MaxHandoffs int

	// How long may a unit stay at one host before the registry is updated with
	// its location, even though it hasn't moved again? Zero means unbounded.
	MaxResidency time.Duration

	// Should forwarders push a final update to the registry (pointing at the
	// host they were forwarding to) when their lease expires?
	UpdatingForwarder bool
}

// DefaultStrategy is used when units are spawned without one.
var DefaultStrategy = Strategy{
	TTL:               10 * time.Second,
	MaxHandoffs:       3,
	MaxResidency:      0,
	UpdatingForwarder: true,
}

// Forwarding returns true if a forwarder should be left behind after a move.
func (s Strategy) Forwarding() bool {
	return s.TTL > 0
}

func (s Strategy) Validate() error {
	if s.TTL < 0 {
		return fmt.Errorf("negative ttl: %s", s.TTL)
	}
	if s.MaxHandoffs < 0 {
		return fmt.Errorf("negative max handoffs: %d", s.MaxHandoffs)
	}
	if s.MaxResidency < 0 {
		return fmt.Errorf("negative max residency: %s", s.MaxResidency)
	}
	return nil
}
