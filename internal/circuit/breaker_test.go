package circuit

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream 500")

func breakerClock(start time.Time) (func() time.Time, func(d time.Duration)) {
	current := start
	now := func() time.Time { return current }
	advance := func(d time.Duration) { current = current.Add(d) }
	return now, advance
}

func succeed(context.Context) error { return nil }
func fail(context.Context) error    { return errUpstream }

func failTimes(b *Breaker, ctx context.Context, n int, t *testing.T) {
	t.Helper()
	for i := 0; i < n; i++ {
		if errCall := b.Call(ctx, fail); !errors.Is(errCall, errUpstream) {
			t.Fatalf("failure %d: expected upstream error, got %v", i, errCall)
		}
	}
}

func TestBreakerOpensAtFailureThreshold(t *testing.T) {
	now, _ := breakerClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	breaker := NewBreaker("openai", Config{FailureThreshold: 3}, NewMemoryStateStore(), now)
	ctx := context.Background()

	failTimes(breaker, ctx, 3, t)

	invoked := false
	errCall := breaker.Call(ctx, func(context.Context) error {
		invoked = true
		return nil
	})
	var openErr *OpenError
	if !errors.As(errCall, &openErr) {
		t.Fatalf("expected OpenError, got %v", errCall)
	}
	if invoked {
		t.Fatal("open circuit must fast-fail without invoking the function")
	}
	if openErr.RetryAfterSeconds() < 1 {
		t.Fatalf("retry after must be at least 1s, got %d", openErr.RetryAfterSeconds())
	}
	if snap := breaker.Snapshot(ctx); snap.State != StateOpen {
		t.Fatalf("state: want open, got %s", snap.State)
	}
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	now, _ := breakerClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	breaker := NewBreaker("openai", Config{FailureThreshold: 3}, NewMemoryStateStore(), now)
	ctx := context.Background()

	failTimes(breaker, ctx, 2, t)
	if errCall := breaker.Call(ctx, succeed); errCall != nil {
		t.Fatalf("success call: %v", errCall)
	}
	failTimes(breaker, ctx, 2, t)

	if snap := breaker.Snapshot(ctx); snap.State != StateClosed {
		t.Fatalf("interleaved success must reset the streak, state=%s", snap.State)
	}
}

func TestBreakerClosesAfterRecovery(t *testing.T) {
	now, advance := breakerClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	cfg := Config{FailureThreshold: 2, SuccessThreshold: 2, Timeout: 30 * time.Second}
	breaker := NewBreaker("openai", cfg, NewMemoryStateStore(), now)
	ctx := context.Background()

	failTimes(breaker, ctx, 2, t)
	advance(31 * time.Second)

	// Two successful probes close the circuit.
	for i := 0; i < 2; i++ {
		if errCall := breaker.Call(ctx, succeed); errCall != nil {
			t.Fatalf("probe %d: %v", i, errCall)
		}
	}
	snap := breaker.Snapshot(ctx)
	if snap.State != StateClosed {
		t.Fatalf("state: want closed, got %s", snap.State)
	}
	if snap.ConsecutiveOpens != 0 {
		t.Fatalf("full recovery must reset consecutive opens, got %d", snap.ConsecutiveOpens)
	}
}

func TestBreakerHalfOpenToleratesOneFailure(t *testing.T) {
	now, advance := breakerClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	cfg := Config{FailureThreshold: 2, SuccessThreshold: 2, Timeout: 30 * time.Second, HalfOpenMaxFailures: 2}
	breaker := NewBreaker("openai", cfg, NewMemoryStateStore(), now)
	ctx := context.Background()

	failTimes(breaker, ctx, 2, t)
	advance(31 * time.Second)

	// First probe fails but stays under HalfOpenMaxFailures.
	failTimes(breaker, ctx, 1, t)
	if snap := breaker.Snapshot(ctx); snap.State != StateHalfOpen {
		t.Fatalf("one probe failure must not reopen, state=%s", snap.State)
	}

	// Recovery is still possible after the tolerated failure.
	for i := 0; i < 2; i++ {
		if errCall := breaker.Call(ctx, succeed); errCall != nil {
			t.Fatalf("probe %d: %v", i, errCall)
		}
	}
	if snap := breaker.Snapshot(ctx); snap.State != StateClosed {
		t.Fatalf("state: want closed, got %s", snap.State)
	}
}

func TestBreakerReopensAtHalfOpenMaxFailures(t *testing.T) {
	now, advance := breakerClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	cfg := Config{FailureThreshold: 2, Timeout: 30 * time.Second, HalfOpenMaxFailures: 2}
	breaker := NewBreaker("openai", cfg, NewMemoryStateStore(), now)
	ctx := context.Background()

	failTimes(breaker, ctx, 2, t)
	if snap := breaker.Snapshot(ctx); snap.ConsecutiveOpens != 1 {
		t.Fatalf("consecutive opens after first trip: want 1, got %d", snap.ConsecutiveOpens)
	}

	advance(31 * time.Second)
	failTimes(breaker, ctx, 2, t)

	snap := breaker.Snapshot(ctx)
	if snap.State != StateOpen {
		t.Fatalf("state: want open after failed probes, got %s", snap.State)
	}
	if snap.ConsecutiveOpens != 2 {
		t.Fatalf("reopen from half-open must extend the streak: want 2, got %d", snap.ConsecutiveOpens)
	}
}

func TestBreakerStaleSuccessKeepsCircuitOpen(t *testing.T) {
	now, _ := breakerClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	breaker := NewBreaker("openai", Config{FailureThreshold: 1}, NewMemoryStateStore(), now)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- breaker.Call(ctx, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	// The circuit opens while the slow call is still in flight.
	failTimes(breaker, ctx, 1, t)

	close(release)
	if errSlow := <-done; errSlow != nil {
		t.Fatalf("slow call: %v", errSlow)
	}

	snap := breaker.Snapshot(ctx)
	if snap.State != StateOpen {
		t.Fatalf("a success that started before the trip must not close the circuit, state=%s", snap.State)
	}
	if snap.ConsecutiveOpens != 1 {
		t.Fatalf("consecutive opens: want 1, got %d", snap.ConsecutiveOpens)
	}

	errCall := breaker.Call(ctx, succeed)
	var openErr *OpenError
	if !errors.As(errCall, &openErr) {
		t.Fatalf("circuit must keep fast-failing inside its timeout, got %v", errCall)
	}
}

func TestBreakerSharesStateThroughStore(t *testing.T) {
	now, _ := breakerClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewMemoryStateStore()
	first := NewBreaker("openai", Config{FailureThreshold: 2}, store, now)
	second := NewBreaker("openai", Config{FailureThreshold: 2}, store, now)
	ctx := context.Background()

	failTimes(first, ctx, 2, t)

	errCall := second.Call(ctx, succeed)
	var openErr *OpenError
	if !errors.As(errCall, &openErr) {
		t.Fatalf("a circuit opened by one instance must be honored by all, got %v", errCall)
	}
}

type downStateStore struct{}

func (downStateStore) Load(context.Context, string) (*Snapshot, error) {
	return nil, errors.New("connection refused")
}

func (downStateStore) Save(context.Context, string, Snapshot) error {
	return errors.New("connection refused")
}

func TestBreakerKeepsWorkingWhenStoreIsDown(t *testing.T) {
	now, _ := breakerClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	breaker := NewBreaker("openai", Config{FailureThreshold: 2}, downStateStore{}, now)
	ctx := context.Background()

	failTimes(breaker, ctx, 2, t)

	// Local state still enforces the open circuit; store failure never
	// bypasses the breaker.
	errCall := breaker.Call(ctx, succeed)
	var openErr *OpenError
	if !errors.As(errCall, &openErr) {
		t.Fatalf("expected OpenError from local state, got %v", errCall)
	}
}

func TestBreakerPropagatesFunctionError(t *testing.T) {
	now, _ := breakerClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	breaker := NewBreaker("openai", Config{}, NewMemoryStateStore(), now)

	if errCall := breaker.Call(context.Background(), fail); !errors.Is(errCall, errUpstream) {
		t.Fatalf("function error must pass through unchanged, got %v", errCall)
	}
}
