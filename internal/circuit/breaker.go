package circuit

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Config tunes one breaker.
type Config struct {
	// FailureThreshold is the consecutive failure count in CLOSED that
	// opens the circuit.
	FailureThreshold int
	// SuccessThreshold is the success count in HALF_OPEN that closes it.
	SuccessThreshold int
	// Timeout is how long the circuit stays OPEN before the next call
	// becomes the probe.
	Timeout time.Duration
	// HalfOpenMaxFailures is the failure count tolerated in HALF_OPEN
	// before reopening. Values above 1 avoid flapping on a single
	// transient probe failure.
	HalfOpenMaxFailures int
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.HalfOpenMaxFailures <= 0 {
		c.HalfOpenMaxFailures = 2
	}
	return c
}

// Breaker wraps upstream invocations for one provider with the circuit state
// machine. State is loaded from the shared store before every call and
// persisted after every transition; when the store is unreachable the local
// mirror keeps the breaker working instead of bypassing it.
type Breaker struct {
	provider string
	cfg      Config
	store    StateStore
	nowFn    func() time.Time

	mu        sync.Mutex
	local     Snapshot
	storeDown bool
}

// NewBreaker constructs a Breaker. A nil nowFn means time.Now.
func NewBreaker(provider string, cfg Config, store StateStore, nowFn func() time.Time) *Breaker {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Breaker{
		provider: provider,
		cfg:      cfg.withDefaults(),
		store:    store,
		nowFn:    nowFn,
		local:    newSnapshot(),
	}
}

// Provider returns the provider name this breaker guards.
func (b *Breaker) Provider() string {
	return b.provider
}

// Call invokes fn through the breaker. While OPEN and inside the timeout it
// returns *OpenError without invoking fn; otherwise fn runs and its error is
// propagated unchanged after the state transition is applied.
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) error) error {
	b.mu.Lock()
	snap := b.loadLocked(ctx)
	now := b.nowFn()
	if snap.State == StateOpen {
		elapsed := now.Sub(snap.openedAtTime())
		if elapsed < b.cfg.Timeout {
			b.local = snap
			b.mu.Unlock()
			return &OpenError{Provider: b.provider, State: StateOpen, RetryAfter: b.cfg.Timeout - elapsed}
		}
		// Timeout elapsed; this call is the probe.
		snap.State = StateHalfOpen
		snap.SuccessCount = 0
		snap.HalfOpenFailureCount = 0
		b.persistLocked(ctx, snap)
	}
	b.local = snap
	b.mu.Unlock()

	errCall := fn(ctx)

	b.mu.Lock()
	// Reload: the circuit may have transitioned while fn was in flight,
	// and this call's pre-invocation snapshot must not clobber that.
	snap = b.loadLocked(ctx)
	if errCall != nil {
		b.applyFailure(&snap, b.nowFn())
	} else {
		b.applySuccess(&snap)
	}
	b.persistLocked(ctx, snap)
	b.local = snap
	b.mu.Unlock()
	return errCall
}

// Snapshot returns the current shared state, falling back to the local
// mirror when the store is unreachable.
func (b *Breaker) Snapshot(ctx context.Context) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := b.loadLocked(ctx)
	b.local = snap
	return snap
}

func (b *Breaker) applySuccess(snap *Snapshot) {
	switch snap.State {
	case StateOpen:
		// Stale result from a call that started before the circuit
		// opened; the open state and its timeout stand.
	case StateHalfOpen:
		snap.SuccessCount++
		if snap.SuccessCount >= b.cfg.SuccessThreshold {
			// Clean recovery: every counter resets, including the
			// consecutive-open streak.
			*snap = newSnapshot()
			log.WithField("provider", b.provider).Info("circuit: closed after recovery")
		}
	default:
		snap.FailureCount = 0
	}
}

func (b *Breaker) applyFailure(snap *Snapshot, now time.Time) {
	switch snap.State {
	case StateOpen:
		// Stale result; the breach is already on record.
	case StateHalfOpen:
		snap.HalfOpenFailureCount++
		if snap.HalfOpenFailureCount >= b.cfg.HalfOpenMaxFailures {
			b.openLocked(snap, now)
		}
	default:
		snap.FailureCount++
		if snap.FailureCount >= b.cfg.FailureThreshold {
			b.openLocked(snap, now)
		}
	}
}

// openLocked transitions to OPEN and extends the consecutive-open streak,
// which only a full CLOSED transition resets.
func (b *Breaker) openLocked(snap *Snapshot, now time.Time) {
	snap.State = StateOpen
	snap.OpenedAt = now.Unix()
	snap.ConsecutiveOpens++
	snap.FailureCount = 0
	snap.SuccessCount = 0
	snap.HalfOpenFailureCount = 0
	log.WithField("provider", b.provider).
		WithField("consecutive_opens", snap.ConsecutiveOpens).
		Warn("circuit: opened")
}

func (b *Breaker) loadLocked(ctx context.Context) Snapshot {
	if b.store == nil {
		return b.local
	}
	snap, errLoad := b.store.Load(ctx, b.provider)
	if errLoad != nil {
		if !b.storeDown {
			b.storeDown = true
			log.WithError(errLoad).WithField("provider", b.provider).
				Warn("circuit: shared state unavailable, using local state")
		}
		return b.local
	}
	b.storeDown = false
	if snap == nil {
		return b.local
	}
	return *snap
}

func (b *Breaker) persistLocked(ctx context.Context, snap Snapshot) {
	if b.store == nil {
		return
	}
	if errSave := b.store.Save(ctx, b.provider, snap); errSave != nil {
		if !b.storeDown {
			b.storeDown = true
			log.WithError(errSave).WithField("provider", b.provider).
				Warn("circuit: shared state unavailable, using local state")
		}
	}
}
