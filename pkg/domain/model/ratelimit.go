package model

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitError reports a provider throttle response. It is an expected
// condition, not a failure: the engine re-enqueues the same cursor after
// RetryAfter instead of consuming the transient-retry budget.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by provider, retry after %s", e.RetryAfter)
}

// AsRateLimit extracts a RateLimitError from an error chain
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}
