package api

import (
	"context"
)

// Locator is the interface to the location registry. It's implemented both by
// the registry itself and by the gRPC client, so that controllers don't care
// whether the registry is in-process or not.
type Locator interface {

	// Update writes the given record, unless the registry already has a newer
	// version for the same unit. Losing that race is not an error. The only
	// errors returned are from the transport, cancellation, or ErrClosed.
	Update(ctx context.Context, rec Record) error

	// Lookup returns the current record for the unit, or NotFoundError. The
	// requester is used to suppress storms of redundant lookups, so this may
	// block for up to the registry's cooldown period.
	Lookup(ctx context.Context, requester RequesterID, id UnitID) (Record, error)
}
