package ratelimit

import (
	"context"
	"errors"
	"time"
)

// unlimitedRemaining is the sentinel reported for admin-tier bypass results.
const unlimitedRemaining = 1 << 30

// Result describes the outcome of an admission check. A denied Result is a
// normal return value, never an error.
type Result struct {
	Allowed           bool
	RemainingRequests int
	RemainingTokens   int
	Reset             time.Time
	RetryAfterSeconds int
	Reason            string

	BurstRemaining       int
	ConcurrencyRemaining int

	// SlotHeld reports whether this check incremented the concurrency
	// counter. Cached, bypassed, and fail-open admissions take no slot
	// and must not be released.
	SlotHeld bool

	// Header-shaped fields consumed by the HTTP layer.
	LimitRequests      int
	LimitTokens        int
	ResetRequestsEpoch int64
	ResetTokensEpoch   int64
	BurstWindow        string
}

// Granularity identifies a sliding window bucket size.
type Granularity string

const (
	GranularityMinute Granularity = "minute"
	GranularityHour   Granularity = "hour"
	GranularityDay    Granularity = "day"
)

// seconds returns the bucket length for the granularity.
func (g Granularity) seconds() int64 {
	switch g {
	case GranularityHour:
		return 3600
	case GranularityDay:
		return 86400
	default:
		return 60
	}
}

// bucketStart truncates now to the start of the granularity bucket.
func bucketStart(now time.Time, g Granularity) time.Time {
	now = now.UTC()
	switch g {
	case GranularityHour:
		return now.Truncate(time.Hour)
	case GranularityDay:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return now.Truncate(time.Minute)
	}
}

// nextReset returns the start of the next bucket for the granularity.
func nextReset(now time.Time, g Granularity) time.Time {
	return bucketStart(now, g).Add(time.Duration(g.seconds()) * time.Second)
}

// Usage reports the request and token counts consumed in one window.
type Usage struct {
	Requests int64
	Tokens   int64
}

// Breach identifies which limit denied an admission.
type Breach int

const (
	BreachNone Breach = iota
	BreachMinuteRequests
	BreachMinuteTokens
	BreachHourRequests
	BreachHourTokens
	BreachDayRequests
	BreachDayTokens
	BreachConcurrency
)

// granularity maps a window breach to its bucket size.
func (b Breach) granularity() Granularity {
	switch b {
	case BreachMinuteRequests, BreachMinuteTokens:
		return GranularityMinute
	case BreachHourRequests, BreachHourTokens:
		return GranularityHour
	default:
		return GranularityDay
	}
}

// reason returns the denial reason reported to callers.
func (b Breach) reason() string {
	switch b {
	case BreachMinuteRequests:
		return "Requests per minute limit exceeded"
	case BreachMinuteTokens:
		return "Tokens per minute limit exceeded"
	case BreachHourRequests:
		return "Requests per hour limit exceeded"
	case BreachHourTokens:
		return "Tokens per hour limit exceeded"
	case BreachDayRequests:
		return "Requests per day limit exceeded"
	case BreachDayTokens:
		return "Tokens per day limit exceeded"
	case BreachConcurrency:
		return "Concurrency limit exceeded"
	default:
		return ""
	}
}

// Admission reports the outcome of the atomic window commit.
type Admission struct {
	Allowed  bool
	Breached Breach

	// Counts after the commit when allowed, or at the time of denial.
	Minute Usage
	Hour   Usage
	Day    Usage

	InFlight int64
}

// ErrStoreUnavailable marks counter store failures. The manager converts it
// into fail-open behavior rather than surfacing it to the request path.
var ErrStoreUnavailable = errors.New("ratelimit: counter store unavailable")

// CounterStore is the capability interface shared by the distributed and
// in-process counter backends. Every mutation is atomic with respect to
// concurrent callers on the same key.
type CounterStore interface {
	// InFlight returns the current concurrency count for the key.
	InFlight(ctx context.Context, key string) (int64, error)

	// TakeBurstToken refills the burst bucket proportionally to elapsed
	// time, capped at capacity, and consumes one token when available.
	// It reports whether a token was consumed and the tokens remaining.
	TakeBurstToken(ctx context.Context, key string, capacity, windowSeconds int, now time.Time) (bool, float64, error)

	// Admit atomically validates all six window limits plus the
	// concurrency cap and, only when every check passes, increments the
	// window counters by one request and tokens tokens and increments
	// the in-flight counter.
	Admit(ctx context.Context, key string, cfg Config, tokens int64, now time.Time) (Admission, error)

	// Release decrements the in-flight counter, floored at zero.
	Release(ctx context.Context, key string) error
}
