package matrix

import (
	"context"
	"errors"
	"net/http"
	"time"

	"maunium.net/go/mautrix"

	"github.com/bdobrica/Mimic/common/retry"
)

// DefaultSendRetry retries rate-limited and gateway-failed sends.
var DefaultSendRetry = retry.Config{
	MaxAttempts:  4,
	InitialDelay: time.Second,
	MaxDelay:     30 * time.Second,
	ShouldRetry:  IsRetryable,
	RetryAfter:   RetryAfter,
}

// IsRetryable reports whether a failed request may succeed if sent again:
// M_LIMIT_EXCEEDED or a 502/503/504 from the homeserver.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, mautrix.MLimitExceeded) {
		return true
	}
	var httpErr mautrix.HTTPError
	if errors.As(err, &httpErr) && httpErr.Response != nil {
		switch httpErr.Response.StatusCode {
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
	}
	return false
}

// RetryAfter extracts retry_after_ms from an M_LIMIT_EXCEEDED response.
func RetryAfter(err error) (time.Duration, bool) {
	var httpErr mautrix.HTTPError
	if !errors.As(err, &httpErr) || httpErr.RespError == nil {
		return 0, false
	}
	ms, ok := httpErr.RespError.ExtraData["retry_after_ms"].(float64)
	if !ok || ms <= 0 {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}
