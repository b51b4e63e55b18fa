// Package ratelimit shares Spark 429 state between client processes through
// Redis. Every honored 429 is recorded together with the backoff window it
// opened, so other processes using the same token can hold back instead of
// walking into the same limit.
package ratelimit

import (
	"time"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyCount429     = "spark:rate_limit:count_429"
	RedisKeyLast429      = "spark:rate_limit:last_429"
	RedisKeyRetryAfter   = "spark:rate_limit:retry_after_ms"
	RedisKeyBackoffUntil = "spark:rate_limit:backoff_until"
)

// RateLimitState is the shared 429 history.
type RateLimitState struct {
	// Count429 is the number of 429 responses recorded since the last reset.
	Count429 int64 `json:"count_429"`

	// Last429At is when the most recent 429 was recorded. Zero if none.
	Last429At time.Time `json:"last_429_at"`

	// RetryAfter is the delay announced by the most recent 429.
	RetryAfter time.Duration `json:"retry_after"`

	// BackoffUntil is the end of the latest backoff window.
	BackoffUntil time.Time `json:"backoff_until"`
}

// InBackoff reports whether a backoff window is still open at now.
func (s *RateLimitState) InBackoff(now time.Time) bool {
	return now.Before(s.BackoffUntil)
}

// TimeUntilReset returns the remaining backoff window.
// Returns 0 if the window has already passed.
func (s *RateLimitState) TimeUntilReset() time.Duration {
	duration := time.Until(s.BackoffUntil)
	if duration < 0 {
		return 0
	}
	return duration
}

// IsHealthy reports whether no 429 has been seen or the last window is over.
func (s *RateLimitState) IsHealthy() bool {
	return s.Count429 == 0 || !s.InBackoff(time.Now())
}
