package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter implements a token bucket rate limiter shared by all callers of one upstream endpoint
type Limiter struct {
	rate       float64 // tokens per second
	tokens     float64
	maxTokens  float64
	lastUpdate time.Time
	mu         sync.Mutex
}

// New creates a new rate limiter with the specified rate (requests per second).
// burst is the bucket capacity; values below 1 default to the rate.
func New(rps float64, burst int) *Limiter {
	if rps <= 0 {
		rps = 1.0
	}
	maxTokens := float64(burst)
	if maxTokens < 1 {
		maxTokens = rps
	}
	if maxTokens < 1 {
		maxTokens = 1
	}
	return &Limiter{
		rate:       rps,
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		lastUpdate: time.Now(),
	}
}

// Wait blocks until a token is available or context is cancelled
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		wait, ok := l.reserve(time.Now())
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve takes a token if one is available, otherwise reports how long until the next one
func (l *Limiter) reserve(now time.Time) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	elapsed := now.Sub(l.lastUpdate).Seconds()
	if elapsed > 0 {
		l.tokens += elapsed * l.rate
		if l.tokens > l.maxTokens {
			l.tokens = l.maxTokens
		}
		l.lastUpdate = now
	}

	if l.tokens >= 1.0 {
		l.tokens -= 1.0
		return 0, true
	}

	missing := 1.0 - l.tokens
	return time.Duration(missing / l.rate * float64(time.Second)), false
}

// Backoff produces exponentially growing delays between Initial and Max.
// It is not safe for concurrent use; each fetch owns one.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64

	current time.Duration
}

// NewBackoff returns a backoff starting at initial and capped at max, doubling each step
func NewBackoff(initial, max time.Duration) *Backoff {
	return &Backoff{Initial: initial, Max: max, Factor: 2}
}

// Next returns the delay to sleep now and advances the sequence
func (b *Backoff) Next() time.Duration {
	if b.current <= 0 {
		b.current = b.Initial
	} else {
		b.current = time.Duration(float64(b.current) * b.Factor)
	}
	if b.current > b.Max {
		b.current = b.Max
	}
	return b.current
}

// Reset starts the sequence over after a successful round
func (b *Backoff) Reset() {
	b.current = 0
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
