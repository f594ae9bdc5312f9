package api

import (
	"time"
)

type EventKind uint8

const (
	NoEvent EventKind = iota
	BeforeMigration
	AfterMigration
	MigrationFailed
	ForwarderRetired
)

func (k EventKind) String() string {
	switch k {
	case BeforeMigration:
		return "BeforeMigration"
	case AfterMigration:
		return "AfterMigration"
	case MigrationFailed:
		return "MigrationFailed"
	case ForwarderRetired:
		return "ForwarderRetired"
	}

	return "NoEvent"
}

// Event is emitted by the migration controller at interesting points. They're
// purely informational; nothing an observer does can affect the protocol.
type Event struct {
	Kind    EventKind
	Unit    UnitID
	From    Handle
	To      Handle
	Version Version
	Err     error
	At      time.Time
}

// Observer receives events. Implementations must not block for long, since
// they're called inline.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a func to an Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) {
	f(e)
}

// NopObserver drops everything on the floor.
var NopObserver = ObserverFunc(func(Event) {})
