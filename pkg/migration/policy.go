package migration

import (
	"context"
	"sync"

	"github.com/adammck/rover/pkg/api"
)

// AllowAll is a Negotiator which never refuses.
type AllowAll struct{}

func (AllowAll) MayMigrate(context.Context, api.UnitID, api.HostID, api.HostID) bool {
	return true
}

// NegotiatorFunc adapts a func to a Negotiator.
type NegotiatorFunc func(ctx context.Context, id api.UnitID, from, to api.HostID) bool

func (f NegotiatorFunc) MayMigrate(ctx context.Context, id api.UnitID, from, to api.HostID) bool {
	return f(ctx, id, from, to)
}

// Rule matches moves. Zero fields match anything.
type Rule struct {
	Unit api.UnitID
	From api.HostID
	To   api.HostID
}

func (r Rule) matches(id api.UnitID, from, to api.HostID) bool {
	if r.Unit != api.ZeroUnit && r.Unit != id {
		return false
	}
	if r.From != api.ZeroHostID && r.From != from {
		return false
	}
	if r.To != api.ZeroHostID && r.To != to {
		return false
	}
	return true
}

// StaticPolicy refuses any move which matches one of its rules.
type StaticPolicy struct {
	mu   sync.RWMutex
	deny []Rule
}

func NewStaticPolicy(deny ...Rule) *StaticPolicy {
	return &StaticPolicy{deny: deny}
}

// Deny adds a rule at runtime.
func (p *StaticPolicy) Deny(r Rule) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deny = append(p.deny, r)
}

func (p *StaticPolicy) MayMigrate(_ context.Context, id api.UnitID, from, to api.HostID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, r := range p.deny {
		if r.matches(id, from, to) {
			return false
		}
	}

	return true
}
