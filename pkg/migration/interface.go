package migration

import (
	"context"

	"github.com/adammck/rover/pkg/api"
	"github.com/adammck/rover/pkg/unit"
)

// Transport moves units between hosts. How the parcel gets there is none of
// the controller's business.
type Transport interface {

	// Transfer hands the parcel to the host at the given remote, and returns
	// the handle of the unit once it has been accepted there.
	Transfer(ctx context.Context, p unit.Parcel, to api.Remote) (api.Handle, error)

	// Retarget tells the forwarder at the given handle to relay to a new
	// destination from now on.
	Retarget(ctx context.Context, fwd api.Handle, to api.Handle, v api.Version) error
}

// Negotiator is the yes/no gate consulted before any move. It stands in for
// whatever security or session negotiation the deployment needs.
type Negotiator interface {
	MayMigrate(ctx context.Context, id api.UnitID, from, to api.HostID) bool
}
