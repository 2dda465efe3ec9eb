package llm

import (
	"context"
	"sync"
	"time"
)

// Limiter is a token bucket that paces model invocations. The bucket starts
// full, so short runs never wait; sustained load settles at the refill rate.
type Limiter struct {
	mu         sync.Mutex
	tokens     float64
	burst      float64
	rate       float64 // tokens per second
	lastRefill time.Time
}

// NewLimiter allows rate requests per second with the given burst capacity.
// Rate must be positive. Burst values below one are raised to one so
// Acquire can ever succeed.
func NewLimiter(rate float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		tokens:     float64(burst),
		burst:      float64(burst),
		rate:       rate,
		lastRefill: time.Now(),
	}
}

// Acquire blocks until a token is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		l.refill()
		if l.tokens >= 1 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		// Sleep off the remaining deficit. The floor keeps float
		// rounding from turning the loop into a spin.
		wait := time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
		l.mu.Unlock()
		if wait < time.Millisecond {
			wait = time.Millisecond
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// TryAcquire takes a token if one is available, without waiting.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// Available reports how many tokens the bucket holds right now.
func (l *Limiter) Available() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}

// refill credits tokens for the time since the last refill. Callers hold mu.
func (l *Limiter) refill() {
	now := time.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	l.lastRefill = now
	l.tokens = min(l.burst, l.tokens+elapsed*l.rate)
}
