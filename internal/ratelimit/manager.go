package ratelimit

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// adminResetHorizon is the far-future reset reported for bypassed checks.
const adminResetHorizon = 365 * 24 * time.Hour

// ManagerOptions tunes the manager caches. Zero values use defaults.
type ManagerOptions struct {
	ResultCacheTTL  time.Duration
	ResultCacheSize int
}

// Manager is the top-level admission facade: result cache, policy
// resolution, delegation to the sliding window limiter, and write-through
// of per-key overrides.
type Manager struct {
	limiter  *SlidingWindowLimiter
	resolver *Resolver
	cache    *resultCache
	nowFn    func() time.Time
}

// NewManager constructs a Manager. A nil nowFn means time.Now.
func NewManager(limiter *SlidingWindowLimiter, resolver *Resolver, nowFn func() time.Time, opts ManagerOptions) *Manager {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Manager{
		limiter:  limiter,
		resolver: resolver,
		cache:    newResultCache(opts.ResultCacheTTL, opts.ResultCacheSize),
		nowFn:    nowFn,
	}
}

// Check runs the full admission decision for the key. Store failures fail
// open: availability beats strictness for rate limiting.
func (m *Manager) Check(ctx context.Context, apiKey string, tokens int64) Result {
	now := m.nowFn()
	cacheKey := resultCacheKey(apiKey, tokens)
	if cached, ok := m.cache.get(cacheKey, now); ok {
		// The admitting check holds the concurrency slot; a cache-served
		// request must not release it.
		cached.SlotHeld = false
		return cached
	}

	policy := m.resolver.Resolve(ctx, apiKey)
	if policy.AdminBypass {
		result := m.bypassResult(now)
		m.cache.put(cacheKey, result, now)
		return result
	}

	result, errCheck := m.limiter.Check(ctx, apiKey, policy.Config, tokens)
	if errCheck != nil {
		log.WithError(errCheck).Warn("rate limit: check failed, failing open")
		return m.failOpenResult(policy.Config, now)
	}
	m.cache.put(cacheKey, result, now)
	return result
}

// Release returns the key's concurrency slot for results that took one.
// Cached, bypassed, and fail-open results hold no slot; releasing them would
// free a slot owned by a still-running request.
func (m *Manager) Release(ctx context.Context, apiKey string, result Result) {
	if !result.SlotHeld {
		return
	}
	if errRelease := m.limiter.Release(ctx, apiKey); errRelease != nil {
		log.WithError(errRelease).Warn("rate limit: release failed")
	}
}

// UpdateConfig writes the per-key override through to the persisted store
// and the in-memory config cache. Already-elapsed windows are unaffected.
func (m *Manager) UpdateConfig(ctx context.Context, apiKey string, cfg Config, meta map[string]string) error {
	cfg = cfg.normalized()
	if m.resolver.overrides != nil {
		if errSave := m.resolver.overrides.SaveConfig(ctx, apiKey, cfg, meta); errSave != nil {
			return errSave
		}
	}
	m.resolver.SetConfig(apiKey, cfg)
	return nil
}

func (m *Manager) bypassResult(now time.Time) Result {
	reset := now.Add(adminResetHorizon)
	return Result{
		Allowed:              true,
		RemainingRequests:    unlimitedRemaining,
		RemainingTokens:      unlimitedRemaining,
		Reset:                reset,
		BurstRemaining:       unlimitedRemaining,
		ConcurrencyRemaining: unlimitedRemaining,
		LimitRequests:        unlimitedRemaining,
		LimitTokens:          unlimitedRemaining,
		ResetRequestsEpoch:   reset.Unix(),
		ResetTokensEpoch:     reset.Unix(),
		BurstWindow:          "unlimited",
	}
}

// failOpenResult is returned when every counter backend is unreachable.
// Remaining counts reflect the configured limits since usage is unknown.
func (m *Manager) failOpenResult(cfg Config, now time.Time) Result {
	reset := nextReset(now, GranularityMinute)
	return Result{
		Allowed:              true,
		RemainingRequests:    cfg.RequestsPerMinute,
		RemainingTokens:      cfg.TokensPerMinute,
		Reset:                reset,
		BurstRemaining:       cfg.BurstLimit,
		ConcurrencyRemaining: cfg.ConcurrencyLimit,
		LimitRequests:        cfg.RequestsPerMinute,
		LimitTokens:          cfg.TokensPerMinute,
		ResetRequestsEpoch:   reset.Unix(),
		ResetTokensEpoch:     reset.Unix(),
		BurstWindow:          burstWindowDescription(cfg),
	}
}
