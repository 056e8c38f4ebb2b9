package ratelimit

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// defaultFailoverCooldown is how long the shared store is sidelined after a
// failure before it is retried.
const defaultFailoverCooldown = 30 * time.Second

// FailoverStore prefers the shared counter store and degrades to the
// in-process store for a cooldown window when the shared store fails. The
// fallback is explicitly non-distributed; engagement is logged so operators
// can see the degraded mode.
type FailoverStore struct {
	primary  CounterStore
	fallback CounterStore
	cooldown time.Duration
	nowFn    func() time.Time

	mu        sync.Mutex
	downUntil time.Time
}

// NewFailoverStore constructs a FailoverStore. A nil nowFn means time.Now.
func NewFailoverStore(primary, fallback CounterStore, nowFn func() time.Time) *FailoverStore {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &FailoverStore{
		primary:  primary,
		fallback: fallback,
		cooldown: defaultFailoverCooldown,
		nowFn:    nowFn,
	}
}

func (s *FailoverStore) primaryActive() bool {
	if s.primary == nil {
		return false
	}
	now := s.nowFn()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.downUntil.IsZero() {
		return true
	}
	if now.Before(s.downUntil) {
		return false
	}
	s.downUntil = time.Time{}
	return true
}

func (s *FailoverStore) trip(err error) {
	now := s.nowFn()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.downUntil.IsZero() && now.Before(s.downUntil) {
		return
	}
	s.downUntil = now.Add(s.cooldown)
	log.WithError(err).Warn("rate limit: shared counter store unavailable, using in-process fallback")
}

// InFlight implements CounterStore.
func (s *FailoverStore) InFlight(ctx context.Context, key string) (int64, error) {
	if s.primaryActive() {
		count, errPrimary := s.primary.InFlight(ctx, key)
		if errPrimary == nil {
			return count, nil
		}
		s.trip(errPrimary)
	}
	return s.fallback.InFlight(ctx, key)
}

// TakeBurstToken implements CounterStore.
func (s *FailoverStore) TakeBurstToken(ctx context.Context, key string, capacity, windowSeconds int, now time.Time) (bool, float64, error) {
	if s.primaryActive() {
		ok, tokens, errPrimary := s.primary.TakeBurstToken(ctx, key, capacity, windowSeconds, now)
		if errPrimary == nil {
			return ok, tokens, nil
		}
		s.trip(errPrimary)
	}
	return s.fallback.TakeBurstToken(ctx, key, capacity, windowSeconds, now)
}

// Admit implements CounterStore.
func (s *FailoverStore) Admit(ctx context.Context, key string, cfg Config, tokens int64, now time.Time) (Admission, error) {
	if s.primaryActive() {
		admission, errPrimary := s.primary.Admit(ctx, key, cfg, tokens, now)
		if errPrimary == nil {
			return admission, nil
		}
		s.trip(errPrimary)
	}
	return s.fallback.Admit(ctx, key, cfg, tokens, now)
}

// Release implements CounterStore.
func (s *FailoverStore) Release(ctx context.Context, key string) error {
	if s.primaryActive() {
		errPrimary := s.primary.Release(ctx, key)
		if errPrimary == nil {
			return nil
		}
		s.trip(errPrimary)
	}
	return s.fallback.Release(ctx, key)
}
