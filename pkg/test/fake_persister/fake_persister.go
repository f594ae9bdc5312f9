package fake_persister

import (
	"errors"
	"sort"
	"sync"

	"github.com/adammck/rover/pkg/api"
)

var ErrInjected = errors.New("injected persister failure")

type persister struct {
	sync.Mutex
	recs map[api.UnitID]api.Record
	fail bool
	puts int
}

func NewFakePersister(recs ...api.Record) *persister {
	p := &persister{
		recs: map[api.UnitID]api.Record{},
	}

	for _, r := range recs {
		p.recs[r.Unit] = r
	}

	return p
}

func (p *persister) GetRecords() ([]api.Record, error) {
	p.Lock()
	defer p.Unlock()

	if p.fail {
		return nil, ErrInjected
	}

	out := make([]api.Record, 0, len(p.recs))
	for _, r := range p.recs {
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Unit < out[j].Unit
	})

	return out, nil
}

func (p *persister) PutRecord(r api.Record) error {
	p.Lock()
	defer p.Unlock()

	if p.fail {
		return ErrInjected
	}

	p.recs[r.Unit] = r
	p.puts += 1
	return nil
}

// SetFailing makes every subsequent call return ErrInjected.
func (p *persister) SetFailing(fail bool) {
	p.Lock()
	defer p.Unlock()
	p.fail = fail
}

func (p *persister) Get(id api.UnitID) (api.Record, bool) {
	p.Lock()
	defer p.Unlock()
	r, ok := p.recs[id]
	return r, ok
}

// Puts returns the number of successful writes.
func (p *persister) Puts() int {
	p.Lock()
	defer p.Unlock()
	return p.puts
}
