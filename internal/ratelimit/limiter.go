package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"
)

// SlidingWindowLimiter composes the concurrency, burst, and windowed checks
// for one key into a single admission decision. It is written once against
// CounterStore; backend selection lives in the store layer.
type SlidingWindowLimiter struct {
	store CounterStore
	nowFn func() time.Time
}

// NewSlidingWindowLimiter constructs a limiter. A nil nowFn means time.Now.
func NewSlidingWindowLimiter(store CounterStore, nowFn func() time.Time) *SlidingWindowLimiter {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &SlidingWindowLimiter{store: store, nowFn: nowFn}
}

// Check runs the admission checks in fixed order: concurrency, burst, then
// the six windows by priority. A denial short-circuits and counts nothing;
// a pass commits every counter atomically.
func (l *SlidingWindowLimiter) Check(ctx context.Context, key string, cfg Config, tokens int64) (Result, error) {
	cfg = cfg.normalized()
	now := l.nowFn()

	inFlight, errInFlight := l.store.InFlight(ctx, key)
	if errInFlight != nil {
		return Result{}, errInFlight
	}
	if inFlight >= int64(cfg.ConcurrencyLimit) {
		result := l.deniedResult(cfg, now, BreachConcurrency.reason(), 60, now.Add(60*time.Second))
		result.ConcurrencyRemaining = 0
		return result, nil
	}

	burstOK, burstTokens, errBurst := l.store.TakeBurstToken(ctx, key, cfg.BurstLimit, cfg.WindowSeconds, now)
	if errBurst != nil {
		return Result{}, errBurst
	}
	if !burstOK {
		retryAfter := int(math.Ceil((1 - burstTokens) * float64(cfg.WindowSeconds) / float64(cfg.BurstLimit)))
		if retryAfter < 1 {
			retryAfter = 1
		}
		result := l.deniedResult(cfg, now, "Burst limit exceeded", retryAfter, now.Add(time.Duration(retryAfter)*time.Second))
		result.BurstRemaining = int(burstTokens)
		result.ConcurrencyRemaining = cfg.ConcurrencyLimit - int(inFlight)
		return result, nil
	}

	admission, errAdmit := l.store.Admit(ctx, key, cfg, tokens, now)
	if errAdmit != nil {
		return Result{}, errAdmit
	}
	if !admission.Allowed {
		return l.windowDeniedResult(cfg, now, admission, burstTokens), nil
	}

	return Result{
		Allowed:              true,
		SlotHeld:             true,
		RemainingRequests:    clampRemaining(int64(cfg.RequestsPerMinute) - admission.Minute.Requests),
		RemainingTokens:      clampRemaining(int64(cfg.TokensPerMinute) - admission.Minute.Tokens),
		Reset:                nextReset(now, GranularityMinute),
		BurstRemaining:       int(burstTokens),
		ConcurrencyRemaining: clampRemaining(int64(cfg.ConcurrencyLimit) - admission.InFlight),
		LimitRequests:        cfg.RequestsPerMinute,
		LimitTokens:          cfg.TokensPerMinute,
		ResetRequestsEpoch:   nextReset(now, GranularityMinute).Unix(),
		ResetTokensEpoch:     nextReset(now, GranularityMinute).Unix(),
		BurstWindow:          burstWindowDescription(cfg),
	}, nil
}

// Release decrements the in-flight counter for the key. It must run exactly
// once per admitted request, success or failure.
func (l *SlidingWindowLimiter) Release(ctx context.Context, key string) error {
	return l.store.Release(ctx, key)
}

// windowDeniedResult builds the denial for a breached window or the
// concurrency cap detected inside the atomic commit.
func (l *SlidingWindowLimiter) windowDeniedResult(cfg Config, now time.Time, admission Admission, burstTokens float64) Result {
	breach := admission.Breached
	if breach == BreachConcurrency {
		result := l.deniedResult(cfg, now, breach.reason(), 60, now.Add(60*time.Second))
		result.BurstRemaining = int(burstTokens)
		result.ConcurrencyRemaining = 0
		return result
	}
	granularity := breach.granularity()
	reset := nextReset(now, granularity)
	retryAfter := int(math.Ceil(reset.Sub(now).Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	result := l.deniedResult(cfg, now, breach.reason(), retryAfter, reset)
	result.RemainingRequests = clampRemaining(int64(cfg.RequestsPerMinute) - admission.Minute.Requests)
	result.RemainingTokens = clampRemaining(int64(cfg.TokensPerMinute) - admission.Minute.Tokens)
	result.BurstRemaining = int(burstTokens)
	result.ConcurrencyRemaining = clampRemaining(int64(cfg.ConcurrencyLimit) - admission.InFlight)
	result.ResetRequestsEpoch = reset.Unix()
	result.ResetTokensEpoch = reset.Unix()
	return result
}

func (l *SlidingWindowLimiter) deniedResult(cfg Config, now time.Time, reason string, retryAfter int, reset time.Time) Result {
	return Result{
		Allowed:            false,
		Reason:             reason,
		RetryAfterSeconds:  retryAfter,
		Reset:              reset,
		LimitRequests:      cfg.RequestsPerMinute,
		LimitTokens:        cfg.TokensPerMinute,
		ResetRequestsEpoch: nextReset(now, GranularityMinute).Unix(),
		ResetTokensEpoch:   nextReset(now, GranularityMinute).Unix(),
		BurstWindow:        burstWindowDescription(cfg),
	}
}

func burstWindowDescription(cfg Config) string {
	return fmt.Sprintf("%d per %ds", cfg.BurstLimit, cfg.WindowSeconds)
}

func clampRemaining(remaining int64) int {
	if remaining < 0 {
		return 0
	}
	return int(remaining)
}
