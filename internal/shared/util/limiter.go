package util

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter throttles re-transform triggers in watch mode: a branch switch or
// mass rename fires hundreds of file events, and only a bounded number of
// them may start pipeline runs.
type Limiter struct {
	bucket *rate.Limiter
}

// NewLimiter builds a token bucket admitting r events per second with burst
// capacity b.
func NewLimiter(r float64, b int) *Limiter {
	return &Limiter{bucket: rate.NewLimiter(rate.Limit(r), b)}
}

// Allow reports whether n events may proceed now, consuming the tokens.
func (l *Limiter) Allow(n int) bool {
	return l.bucket.AllowN(time.Now(), n)
}

// Wait blocks until n tokens are available or ctx is done.
func (l *Limiter) Wait(ctx context.Context, n int) error {
	return l.bucket.WaitN(ctx, n)
}
