package ratelimiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles retry passes of the reconciler using the token bucket
// algorithm from golang.org/x/time/rate.
//
// A failing external command (exportfs, systemctl) leaves the re-sync signal set
// and asks for another pass. Without throttling a persistently failing command
// would be re-executed in a tight loop; the limiter spaces those retries by a
// minimum interval while still allowing a small burst right after a transient
// failure.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter that releases one token every interval, with
// the given burst capacity.
//
// Special cases:
//   - interval <= 0: no limiting (every call is allowed immediately)
//   - burst = 0: treated as 1 so that Wait can ever succeed
func New(interval time.Duration, burst uint) *RateLimiter {
	if burst == 0 {
		burst = 1
	}

	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(limit, int(burst)),
	}
}

// Allow reports whether a retry may run right now, consuming a token if so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a retry token is available or the context is cancelled.
//
// Returns the context error if ctx is cancelled first.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// SetInterval changes the retry interval without resetting the bucket.
func (r *RateLimiter) SetInterval(interval time.Duration) {
	if interval <= 0 {
		r.limiter.SetLimit(rate.Inf)
		return
	}
	r.limiter.SetLimit(rate.Every(interval))
}

// Tokens returns the current number of available tokens (monitoring only).
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}
