package api

import (
	"fmt"
)

// Remote represents a service listening on some remote host and port. They're
// returned by discovery. This is most often used to refer to host runtimes,
// but isn't limited to that; clients use it to find the registry, too. That's
// why Ident is a string and not simply a HostID.
type Remote struct {
	Ident string
	Host  string
	Port  int
}

// Addr returns an address which can be dialled to connect to the remote.
func (r Remote) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// HostID returns the remote ident as a HostID, since that's most often how
// it's used, though it isn't one.
func (r Remote) HostID() HostID {
	return HostID(r.Ident)
}
