package plugin

import (
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/cronxco/tapestry/pkg/domain/model"
	"github.com/cronxco/tapestry/pkg/service/httpflow"
)

// defaultRetryAfter is used when a throttle response carries no usable
// Retry-After header
const defaultRetryAfter = 60 * time.Second

// CheckResponse translates a provider response into the error the engine
// expects: a RateLimitError on 429 (so the cursor is re-enqueued after the
// provider's delay) and a wrapped error on any other non-2xx status.
func CheckResponse(resp *model.ProviderResponse, endpoint string) error {
	if resp.RateLimited() {
		return &model.RateLimitError{RetryAfter: httpflow.RetryAfter(resp, defaultRetryAfter)}
	}
	if !resp.OK() {
		return goerr.New("provider request failed",
			goerr.V("endpoint", endpoint),
			goerr.V("status", resp.Status))
	}
	return nil
}
