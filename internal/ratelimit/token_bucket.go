// Package ratelimit provides an in-process token bucket used to throttle calls
// to the external ingredient lookup service.
package ratelimit

import (
	"errors"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// Option customises a TokenBucket.
type Option func(*TokenBucket)

// WithClock overrides the time source. Tests use it to advance time manually.
func WithClock(now func() time.Time) Option {
	return func(b *TokenBucket) {
		if now != nil {
			b.now = now
		}
	}
}

// TokenBucket holds up to capacity tokens. Each check adds
// floor(elapsed minutes × capacity/window) whole tokens, capped at capacity.
// Partial progress toward the next token is kept, not discarded. Refill is
// lazy: it is computed on each call from the injected clock.
type TokenBucket struct {
	limiter  *rate.Limiter
	capacity int
	now      func() time.Time
}

// NewTokenBucket returns a full bucket that refills capacity tokens over window.
func NewTokenBucket(capacity int, window time.Duration, opts ...Option) (*TokenBucket, error) {
	if capacity <= 0 {
		return nil, errors.New("ratelimit: capacity must be positive")
	}
	if window <= 0 {
		return nil, errors.New("ratelimit: window must be positive")
	}
	b := &TokenBucket{
		limiter:  rate.NewLimiter(rate.Limit(float64(capacity)/window.Seconds()), capacity),
		capacity: capacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// IsRateLimited reports whether no whole token is available.
func (b *TokenBucket) IsRateLimited() bool {
	return b.limiter.TokensAt(b.now()) < 1
}

// RecordRequest consumes one token when available. It never drives the bucket
// negative.
func (b *TokenBucket) RecordRequest() {
	_ = b.limiter.AllowN(b.now(), 1)
}

// Allow checks and consumes atomically so that concurrent callers cannot both
// take the last token.
func (b *TokenBucket) Allow() bool {
	return b.limiter.AllowN(b.now(), 1)
}

// Tokens returns the whole tokens available now.
func (b *TokenBucket) Tokens() int {
	tokens := b.limiter.TokensAt(b.now())
	if tokens <= 0 {
		return 0
	}
	return int(math.Floor(tokens))
}

// Capacity returns the configured maximum.
func (b *TokenBucket) Capacity() int { return b.capacity }
