package mock

import (
	"sync"

	"github.com/adammck/rover/pkg/api"
	"github.com/adammck/rover/pkg/discovery"
)

type Discoverer struct {
	getters   []*discoveryGetter
	gettersMu sync.Mutex

	// svcName (e.g. "host") -> remotes
	remotes   map[string][]api.Remote
	remotesMu sync.RWMutex
}

func NewDiscoverer() *Discoverer {
	return &Discoverer{
		remotes: map[string][]api.Remote{},
	}
}

type discoveryGetter struct {
	disc    *Discoverer
	svcName string

	// Functions to be called when new remotes are added and removed.
	add    func(api.Remote)
	remove func(api.Remote)
}

func (d *Discoverer) Discover(svcName string, add, remove func(api.Remote)) discovery.Getter {
	dg := &discoveryGetter{
		disc:    d,
		svcName: svcName,
		add:     add,
		remove:  remove,
	}

	d.gettersMu.Lock()
	d.getters = append(d.getters, dg)
	d.gettersMu.Unlock()

	return dg
}

func (dg *discoveryGetter) Get() ([]api.Remote, error) {
	dg.disc.remotesMu.RLock()
	defer dg.disc.remotesMu.RUnlock()

	remotes, ok := dg.disc.remotes[dg.svcName]
	if !ok {
		return []api.Remote{}, nil
	}

	res := make([]api.Remote, len(remotes))
	copy(res, remotes)

	return res, nil
}

func (dg *discoveryGetter) Stop() error {
	return nil
}

// test helpers

func (d *Discoverer) Add(svcName string, remote api.Remote) {
	d.remotesMu.Lock()
	d.remotes[svcName] = append(d.remotes[svcName], remote)
	d.remotesMu.Unlock()

	for _, dg := range d.watching(svcName) {
		if dg.add != nil {
			dg.add(remote)
		}
	}
}

func (d *Discoverer) Remove(svcName string, ident string) {
	var removed []api.Remote

	d.remotesMu.Lock()
	keep := []api.Remote{}
	for _, rem := range d.remotes[svcName] {
		if rem.Ident == ident {
			removed = append(removed, rem)
		} else {
			keep = append(keep, rem)
		}
	}
	d.remotes[svcName] = keep
	d.remotesMu.Unlock()

	for _, dg := range d.watching(svcName) {
		if dg.remove != nil {
			for _, rem := range removed {
				dg.remove(rem)
			}
		}
	}
}

func (d *Discoverer) watching(svcName string) []*discoveryGetter {
	d.gettersMu.Lock()
	defer d.gettersMu.Unlock()

	out := []*discoveryGetter{}
	for _, dg := range d.getters {
		if dg.svcName == svcName {
			out = append(out, dg)
		}
	}

	return out
}
