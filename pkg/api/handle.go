package api

import (
	"fmt"
)

// Handle is a reference to a unit which can be used from any host. Callers
// hold these, the registry stores them, and forwarders relay to them. A handle
// can go stale when the unit moves; it never changes meaning otherwise.
type Handle struct {
	Unit UnitID
	Host HostID
}

// ZeroHandle is not a valid Handle.
var ZeroHandle Handle

// String returns a string like: 7f3c...@host-a
func (h Handle) String() string {
	return fmt.Sprintf("%s@%s", h.Unit, h.Host)
}

func (h Handle) IsZero() bool {
	return h == ZeroHandle
}
