package ratelimiter

import (
	"sync"
	"time"
)

// TokenBucket implements RateLimiter with the token bucket algorithm.
// It tolerates bursts up to the bucket capacity.
type TokenBucket struct {
	rate       float64 // tokens generated per second
	capacity   float64
	tokens     float64
	lastRefill time.Time
	mutex      sync.Mutex
}

// NewTokenBucket creates a full bucket.
// rate: tokens generated per second. capacity: burst size.
func NewTokenBucket(rate float64, capacity int) *TokenBucket {
	return &TokenBucket{
		rate:       rate,
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		lastRefill: time.Now(),
	}
}

// Allow refills the bucket for the elapsed time and consumes one token
// when available.
func (tb *TokenBucket) Allow() bool {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	if elapsed > 0 {
		tb.tokens += elapsed.Seconds() * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}
