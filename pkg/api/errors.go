package api

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by the registry once it has stopped serving.
var ErrClosed = errors.New("registry closed")

// InvalidTargetError is returned when a unit is asked to migrate somewhere it
// can't go; most often to the host it's already on. This indicates a
// deployment error, not a transient fault, so shouldn't be retried.
type InvalidTargetError struct {
	Unit   UnitID
	Target HostID
	Reason string
}

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("invalid migration target: %s (unit=%s, target=%s)", e.Reason, e.Unit, e.Target)
}

// PolicyDeniedError is returned when the negotiation step refused to let the
// unit move. Nothing was changed. Not retried automatically.
type PolicyDeniedError struct {
	Unit UnitID
	From HostID
	To   HostID
}

func (e *PolicyDeniedError) Error() string {
	return fmt.Sprintf("migration denied by policy (unit=%s, from=%s, to=%s)", e.Unit, e.From, e.To)
}

// TransferError wraps a failure from the transport while handing a unit off.
// All unit-visible state has been rolled back by the time this is returned,
// so the migration is safe to retry.
type TransferError struct {
	Unit   UnitID
	Target HostID
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer failed: %v (unit=%s, target=%s)", e.Err, e.Unit, e.Target)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// NotActiveError is returned when an operation needs an Active unit but got
// one in some other state which isn't covered by a more specific error. (e.g.
// asking a forwarder to migrate.)
type NotActiveError struct {
	Unit  UnitID
	State UnitState
}

func (e *NotActiveError) Error() string {
	return fmt.Sprintf("unit not active: %s (unit=%s)", e.State, e.Unit)
}

// TerminatedError means the unit instance is gone forever. Callers holding a
// handle to it should consult the registry.
type TerminatedError struct {
	Unit UnitID
}

func (e *TerminatedError) Error() string {
	return fmt.Sprintf("unit terminated (unit=%s)", e.Unit)
}

// MigratingError means the unit is busy moving. Unlike TerminatedError, the
// caller can retry shortly.
type MigratingError struct {
	Unit UnitID
}

func (e *MigratingError) Error() string {
	return fmt.Sprintf("unit is migrating (unit=%s)", e.Unit)
}

// NotFoundError is returned by Lookup when the registry has never heard of the
// unit, and by hosts which have no instance of the unit at all.
type NotFoundError struct {
	Unit UnitID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found (unit=%s)", e.Unit)
}

// IsNotFound returns true if err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsGone returns true if err indicates that the handle which was called no
// longer reaches the unit, i.e. that the caller should look it up again.
func IsGone(err error) bool {
	var te *TerminatedError
	return errors.As(err, &te) || IsNotFound(err)
}
