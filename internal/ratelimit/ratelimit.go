// Package ratelimit throttles calls into external providers (embedding,
// reranking, destination APIs) so a single sync job cannot overrun a
// provider's rate limits.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Config configures a Limiter.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns a conservative default suitable for third-party
// embedding APIs.
func DefaultConfig() Config {
	return Config{RequestsPerSecond: 10, Burst: 20}
}

// Limiter wraps golang.org/x/time/rate for the call sites that need to wait
// rather than reject.
type Limiter struct {
	limiter *rate.Limiter
}

// New constructs a Limiter, normalizing zero-value config fields.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)}
}

// Wait blocks until a token is available or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Allow reports whether a token is immediately available, consuming it if so.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// AllowN reports whether n tokens were available at t, consuming them if so.
func (l *Limiter) AllowN(t time.Time, n int) bool {
	return l.limiter.AllowN(t, n)
}
