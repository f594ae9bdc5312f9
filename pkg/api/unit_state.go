package api

// UnitState is the lifecycle state of a single unit instance. Note that this
// is per *instance*: after a move, the instance left behind at the old host is
// Forwarding while the one at the new host is Active, and both have the same
// UnitID.
type UnitState uint8

const (
	// Should never be in this state. Indicates a bug.
	UsUnknown UnitState = iota

	// Accepting and processing messages. The only state from which a unit can
	// be migrated.
	UsActive

	// Mid-handoff. Inbound messages block until the handoff finishes.
	UsMigrating

	// Retired instance left behind after a move, relaying inbound messages to
	// the unit's new location until its lease expires.
	UsForwarding

	// Gone forever.
	UsTerminated
)

func (s UnitState) String() string {
	switch s {
	case UsActive:
		return "UsActive"
	case UsMigrating:
		return "UsMigrating"
	case UsForwarding:
		return "UsForwarding"
	case UsTerminated:
		return "UsTerminated"
	}

	return "UsUnknown"
}
