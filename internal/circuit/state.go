package circuit

import "time"

// State identifies the breaker position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Snapshot is the breaker state shared between gateway instances so that a
// circuit opened by one instance is honored by all of them.
type Snapshot struct {
	State                State `json:"state"`
	FailureCount         int   `json:"failure_count"`
	SuccessCount         int   `json:"success_count"`
	HalfOpenFailureCount int   `json:"half_open_failure_count"`
	ConsecutiveOpens     int   `json:"consecutive_opens"`
	OpenedAt             int64 `json:"opened_at"`
}

// newSnapshot returns the initial closed state.
func newSnapshot() Snapshot {
	return Snapshot{State: StateClosed}
}

// openedAtTime returns OpenedAt as a time.Time.
func (s Snapshot) openedAtTime() time.Time {
	return time.Unix(s.OpenedAt, 0)
}
