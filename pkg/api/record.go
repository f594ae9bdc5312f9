package api

import (
	"fmt"
)

// Version disambiguates competing location records for the same unit. Units
// are born at version 1, and every move increments it.
type Version uint64

// Record is the registry's entry for a single unit. Should be treated as
// immutable; the registry replaces records rather than mutating them.
type Record struct {
	Unit    UnitID
	Handle  Handle
	Version Version
}

func (r Record) String() string {
	return fmt.Sprintf("%s v%d", r.Handle, r.Version)
}

// Supersedes returns true if r should replace other in the registry. Equal
// versions replace, so that a redundant update is applied idempotently.
func (r Record) Supersedes(other Record) bool {
	return r.Version >= other.Version
}
