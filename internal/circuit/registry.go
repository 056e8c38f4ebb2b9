package circuit

import (
	"context"
	"sync"
	"time"
)

// Registry hands out one breaker per provider name. It is the only shared
// mutable singleton in the admission core and is constructed once at startup.
type Registry struct {
	store     StateStore
	defaults  Config
	overrides map[string]Config
	nowFn     func() time.Time

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry constructs a Registry. overrides carries per-provider config
// tweaks, e.g. a shorter timeout for a provider known to be flaky.
func NewRegistry(store StateStore, defaults Config, overrides map[string]Config, nowFn func() time.Time) *Registry {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Registry{
		store:     store,
		defaults:  defaults.withDefaults(),
		overrides: overrides,
		nowFn:     nowFn,
		breakers:  make(map[string]*Breaker),
	}
}

// Get returns the breaker for the provider, constructing it on first access.
func (r *Registry) Get(provider string) *Breaker {
	r.mu.RLock()
	breaker := r.breakers[provider]
	r.mu.RUnlock()
	if breaker != nil {
		return breaker
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if breaker = r.breakers[provider]; breaker != nil {
		return breaker
	}
	cfg := r.defaults
	if override, ok := r.overrides[provider]; ok {
		cfg = override.withDefaults()
	}
	breaker = NewBreaker(provider, cfg, r.store, r.nowFn)
	r.breakers[provider] = breaker
	return breaker
}

// Snapshots returns the current state of every constructed breaker.
func (r *Registry) Snapshots(ctx context.Context) map[string]Snapshot {
	r.mu.RLock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, breaker := range r.breakers {
		breakers = append(breakers, breaker)
	}
	r.mu.RUnlock()

	snaps := make(map[string]Snapshot, len(breakers))
	for _, breaker := range breakers {
		snaps[breaker.Provider()] = breaker.Snapshot(ctx)
	}
	return snaps
}
