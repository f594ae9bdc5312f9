package unit

import (
	"context"

	"github.com/adammck/rover/pkg/api"
)

// Message is whatever the application sends to its units. The unit package
// never looks inside.
type Message interface{}

// Behavior is the application logic of a unit. Receive is never called
// concurrently for the same unit instance.
type Behavior interface {
	Receive(ctx context.Context, u *Unit, msg Message) (interface{}, error)
}

// Arriver can optionally be implemented by a Behavior to be told (once) when
// the unit resumes activity at a new host.
type Arriver interface {
	Arrived(u *Unit) error
}

// Cloner can optionally be implemented by a Behavior which holds state, so
// that a cloned unit doesn't share it with the original.
type Cloner interface {
	Clone() Behavior
}

// BehaviorFunc adapts a func to a stateless Behavior.
type BehaviorFunc func(ctx context.Context, u *Unit, msg Message) (interface{}, error)

func (f BehaviorFunc) Receive(ctx context.Context, u *Unit, msg Message) (interface{}, error) {
	return f(ctx, u, msg)
}

// Reply is returned by Deliver. Handle is the handle of the instance which
// actually answered, which differs from the handle which was called if the
// message was relayed by a forwarder. Callers should replace their reference
// with it.
type Reply struct {
	Value  interface{}
	Handle api.Handle
	Hops   int
}

// Relay delivers a message to whatever instance is at the given handle. It's
// implemented by the host runtime.
type Relay interface {
	Deliver(ctx context.Context, h api.Handle, msg Message) (Reply, error)
}

// Call is an outbound message queued by a unit.
type Call struct {
	To  api.Handle
	Msg Message
}
