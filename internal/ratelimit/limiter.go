// Package ratelimit gates a session's FileData throughput so one
// session's chunk flood cannot starve others under the thread-per-
// connection and readiness back-ends.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter wraps a byte-rate token bucket for one session. A zero-value
// Rate means unlimited, matching the teacher's bucket's "default
// unlimited" posture without needing a nil check at every call site.
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter builds a Limiter allowing bytesPerSec sustained throughput
// with a burst of burstBytes. bytesPerSec <= 0 means unlimited.
func NewLimiter(bytesPerSec float64, burstBytes int) *Limiter {
	if bytesPerSec <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, burstBytes)}
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burstBytes)}
}

// Allow reports whether n bytes may proceed right now, consuming them
// from the bucket if so.
func (l *Limiter) Allow(n int) bool {
	return l.limiter.AllowN(time.Now(), n)
}

// Wait blocks until n bytes are available or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context, n int) error {
	return l.limiter.WaitN(ctx, n)
}
