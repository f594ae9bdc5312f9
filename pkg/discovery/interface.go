package discovery

import (
	"errors"
	"fmt"

	"github.com/adammck/rover/pkg/api"
)

// Discoverable is an interface to make oneself discoverable (by name), and
// discovering other services by name.
//
// This is not a general-purpose service discovery interface! This is just the
// specific thing that I need for this library, to avoid letting Consul details
// get all over the place.
type Discoverable interface {
	Start() error
	Stop() error
	Get(string) ([]api.Remote, error)
}

// Discoverer watches a service by name, calling add and remove (either of
// which may be nil) as remotes come and go.
type Discoverer interface {
	Discover(svcName string, add, remove func(api.Remote)) Getter
}

// Getter returns the remotes currently known for a single service.
type Getter interface {
	Get() ([]api.Remote, error)
	Stop() error
}

// Service names used by rover.
const (
	HostService     = "host"
	RegistryService = "registry"
)

var ErrUnknownHost = errors.New("unknown host")

// Resolver maps a HostID to the remote which it's currently running on. The
// migration controller uses this to reject co-located targets: two HostIDs
// which resolve to the same address are the same runtime.
type Resolver interface {
	Resolve(api.HostID) (api.Remote, error)
}

type getterResolver struct {
	g Getter
}

// NewResolver returns a Resolver backed by the given Getter, which should be
// watching HostService.
func NewResolver(g Getter) Resolver {
	return &getterResolver{g: g}
}

func (r *getterResolver) Resolve(hID api.HostID) (api.Remote, error) {
	rems, err := r.g.Get()
	if err != nil {
		return api.Remote{}, err
	}

	for _, rem := range rems {
		if rem.HostID() == hID {
			return rem, nil
		}
	}

	return api.Remote{}, fmt.Errorf("%w: %s", ErrUnknownHost, hID)
}
