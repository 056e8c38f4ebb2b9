package circuit

import (
	"fmt"
	"time"
)

// OpenError reports a call that was fast-failed because the provider's
// circuit is open. Callers map it to a 503 with Retry-After.
type OpenError struct {
	Provider   string
	State      State
	RetryAfter time.Duration
}

// Error implements error.
func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit: provider %s is %s, retry in %s", e.Provider, e.State, e.RetryAfter.Round(time.Second))
}

// RetryAfterSeconds returns the retry delay in whole seconds, at least 1.
func (e *OpenError) RetryAfterSeconds() int {
	seconds := int(e.RetryAfter.Seconds())
	if seconds < 1 {
		return 1
	}
	return seconds
}
