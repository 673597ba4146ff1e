package retry

import (
	"sync"
)

// Policies resolves the failure policy for a message type. Lookups are
// memoized, misses included, so the per-failure cost is one map load.
type Policies struct {
	def Policy

	mu     sync.RWMutex
	byType map[string]*Policy

	cache sync.Map // message type -> *Policy
}

// NewPolicies creates a policy table whose fallback is def.
func NewPolicies(def Policy) *Policies {
	return &Policies{
		def:    def,
		byType: make(map[string]*Policy),
	}
}

// Set configures the policy for a message type. Zero MaxAttempts and a
// nil Backoff inherit from the default policy.
func (p *Policies) Set(messageType string, pol Policy) {
	if pol.MaxAttempts == 0 {
		pol.MaxAttempts = p.def.MaxAttempts
	}
	if pol.Backoff == nil {
		pol.Backoff = p.def.Backoff
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.byType[messageType] = &pol
	p.cache.Delete(messageType)
}

// For returns the policy for messageType, or the default.
func (p *Policies) For(messageType string) *Policy {
	if v, ok := p.cache.Load(messageType); ok {
		return v.(*Policy) //nolint:errcheck // only *Policy is stored
	}

	// Held across the Store so a concurrent Set cannot be overwritten by
	// a stale miss.
	p.mu.RLock()
	defer p.mu.RUnlock()
	pol, ok := p.byType[messageType]
	if !ok {
		pol = &p.def
	}
	p.cache.Store(messageType, pol)
	return pol
}

// Default returns the fallback policy.
func (p *Policies) Default() *Policy { return &p.def }
