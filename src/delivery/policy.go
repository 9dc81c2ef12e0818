package delivery

import (
	"net/http"
	"time"
)

// RetryPolicy decides whether a failed delivery is tried again and when.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     []time.Duration
}

var DefaultPolicy = RetryPolicy{
	MaxAttempts: 5,
	Backoff: []time.Duration{
		60 * time.Second,
		300 * time.Second,
		1800 * time.Second,
		7200 * time.Second,
		43200 * time.Second,
	},
}

// ShouldRetry reports whether a delivery that failed on its attempt-th try
// with statusCode (0 for transport errors) gets another attempt. Client
// errors are terminal except 429.
func (p RetryPolicy) ShouldRetry(statusCode, attempt int) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	if statusCode >= 400 && statusCode < 500 && statusCode != http.StatusTooManyRequests {
		return false
	}
	return true
}

// Delay is the wait after the attempt-th failure, clamped to the last entry.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	i := attempt - 1
	if i < 0 {
		i = 0
	}
	if i >= len(p.Backoff) {
		i = len(p.Backoff) - 1
	}
	return p.Backoff[i]
}
