package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// memoryWindow is one fixed window bucket; counts reset when the bucket
// epoch rolls over, which doubles as expiry for the in-process store.
type memoryWindow struct {
	bucket   int64
	requests int64
	tokens   int64
}

// usageAt returns the counts valid for now, resetting a stale bucket.
func (w *memoryWindow) usageAt(now time.Time, g Granularity) Usage {
	bucket := bucketStart(now, g).Unix()
	if w.bucket != bucket {
		w.bucket = bucket
		w.requests = 0
		w.tokens = 0
	}
	return Usage{Requests: w.requests, Tokens: w.tokens}
}

type memoryKeyState struct {
	mu sync.Mutex

	minute memoryWindow
	hour   memoryWindow
	day    memoryWindow

	burst         *rate.Limiter
	burstCapacity int
	burstWindow   int

	inFlight int64
}

// MemoryStore implements CounterStore with process-local state. It is the
// degraded, non-distributed mode used when the shared store is unreachable;
// callers are expected to log when it is engaged.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[string]*memoryKeyState
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]*memoryKeyState)}
}

func (s *MemoryStore) keyState(key string) *memoryKeyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.keys[key]
	if state == nil {
		state = &memoryKeyState{}
		s.keys[key] = state
	}
	return state
}

// InFlight returns the current concurrency count for the key.
func (s *MemoryStore) InFlight(_ context.Context, key string) (int64, error) {
	state := s.keyState(key)
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.inFlight, nil
}

// TakeBurstToken consumes one token from the per-key bucket, refilled at
// capacity/windowSeconds per second and capped at capacity.
func (s *MemoryStore) TakeBurstToken(_ context.Context, key string, capacity, windowSeconds int, now time.Time) (bool, float64, error) {
	if capacity <= 0 || windowSeconds <= 0 {
		return true, 0, nil
	}
	state := s.keyState(key)
	state.mu.Lock()
	defer state.mu.Unlock()

	if state.burst == nil || state.burstCapacity != capacity || state.burstWindow != windowSeconds {
		state.burst = rate.NewLimiter(rate.Limit(float64(capacity)/float64(windowSeconds)), capacity)
		state.burstCapacity = capacity
		state.burstWindow = windowSeconds
	}
	reservation := state.burst.ReserveN(now, 1)
	if !reservation.OK() {
		return false, state.burst.TokensAt(now), nil
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, state.burst.TokensAt(now), nil
	}
	return true, state.burst.TokensAt(now), nil
}

// Admit validates every window limit plus the concurrency cap under the
// per-key lock and commits all counters only when the whole check passes.
func (s *MemoryStore) Admit(_ context.Context, key string, cfg Config, tokens int64, now time.Time) (Admission, error) {
	state := s.keyState(key)
	state.mu.Lock()
	defer state.mu.Unlock()

	minute := state.minute.usageAt(now, GranularityMinute)
	hour := state.hour.usageAt(now, GranularityHour)
	day := state.day.usageAt(now, GranularityDay)

	denied := func(breach Breach) Admission {
		return Admission{
			Breached: breach,
			Minute:   minute,
			Hour:     hour,
			Day:      day,
			InFlight: state.inFlight,
		}
	}
	switch {
	case minute.Requests+1 > int64(cfg.RequestsPerMinute):
		return denied(BreachMinuteRequests), nil
	case minute.Tokens+tokens > int64(cfg.TokensPerMinute):
		return denied(BreachMinuteTokens), nil
	case hour.Requests+1 > int64(cfg.RequestsPerHour):
		return denied(BreachHourRequests), nil
	case hour.Tokens+tokens > int64(cfg.TokensPerHour):
		return denied(BreachHourTokens), nil
	case day.Requests+1 > int64(cfg.RequestsPerDay):
		return denied(BreachDayRequests), nil
	case day.Tokens+tokens > int64(cfg.TokensPerDay):
		return denied(BreachDayTokens), nil
	case state.inFlight+1 > int64(cfg.ConcurrencyLimit):
		return denied(BreachConcurrency), nil
	}

	state.minute.requests++
	state.minute.tokens += tokens
	state.hour.requests++
	state.hour.tokens += tokens
	state.day.requests++
	state.day.tokens += tokens
	state.inFlight++

	return Admission{
		Allowed:  true,
		Minute:   Usage{Requests: state.minute.requests, Tokens: state.minute.tokens},
		Hour:     Usage{Requests: state.hour.requests, Tokens: state.hour.tokens},
		Day:      Usage{Requests: state.day.requests, Tokens: state.day.tokens},
		InFlight: state.inFlight,
	}, nil
}

// Release decrements the in-flight counter, floored at zero.
func (s *MemoryStore) Release(_ context.Context, key string) error {
	state := s.keyState(key)
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.inFlight > 0 {
		state.inFlight--
	}
	return nil
}
