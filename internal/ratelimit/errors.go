package ratelimit

import (
	"errors"
	"fmt"
)

var (
	errNoClient = errors.New("redis client not configured")
	errBadReply = errors.New("unexpected redis reply shape")
)

// storeErr tags a backend failure so callers can branch on
// ErrStoreUnavailable without inspecting driver error types.
func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
