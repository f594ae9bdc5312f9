package api

import (
	"github.com/google/uuid"
)

// UnitID is the unique identity of a mobile unit. It's minted once, when the
// unit is created (or cloned), and is never reused, even after the unit has
// moved or terminated.
type UnitID string

// ZeroUnit is not a valid UnitID.
const ZeroUnit UnitID = ""

// NewUnitID returns a fresh UnitID.
func NewUnitID() UnitID {
	return UnitID(uuid.NewString())
}

func (id UnitID) String() string {
	return string(id)
}

// HostID is the unique identity of a host runtime.
type HostID string

const ZeroHostID HostID = ""

func (hID HostID) String() string {
	return string(hID)
}

// RequesterID identifies the caller of a Lookup. The registry uses it to keep
// track of which answers each caller has already been given.
type RequesterID string

func (rID RequesterID) String() string {
	return string(rID)
}
