// Package ratelimit provides keyed token-bucket rate limiting. The API
// surface keys buckets by client, upstream clients key them by host.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Idle buckets older than this are evicted so transient clients do not
// grow the map forever.
const idleEviction = 10 * time.Minute

type keyedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter provides per-key rate limiting using the token bucket
// algorithm.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*keyedLimiter
	rps      float64
	burst    int
}

// NewLimiter creates a rate limiter allowing rps requests per second
// per key with the given burst capacity.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*keyedLimiter),
		rps:      rps,
		burst:    burst,
	}
}

// PerMinute creates a limiter expressed as requests per minute, the
// natural unit for API client limits.
func PerMinute(perMin float64, burst int) *Limiter {
	return NewLimiter(perMin/60.0, burst)
}

// getLimiter returns or creates the bucket for a key.
func (l *Limiter) getLimiter(key string) *rate.Limiter {
	now := time.Now()

	l.mu.RLock()
	kl, exists := l.limiters[key]
	l.mu.RUnlock()

	if exists {
		l.mu.Lock()
		kl.lastSeen = now
		l.mu.Unlock()
		return kl.limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if kl, exists := l.limiters[key]; exists {
		kl.lastSeen = now
		return kl.limiter
	}

	kl = &keyedLimiter{
		limiter:  rate.NewLimiter(rate.Limit(l.rps), l.burst),
		lastSeen: now,
	}
	l.limiters[key] = kl
	l.evictIdleLocked(now)
	return kl.limiter
}

// evictIdleLocked drops buckets idle past the eviction window. Called
// with the write lock held, only on the bucket-creation path so hot
// keys never pay for it.
func (l *Limiter) evictIdleLocked(now time.Time) {
	cutoff := now.Add(-idleEviction)
	for key, kl := range l.limiters {
		if kl.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
		}
	}
}

// Allow reports whether a request for the key is allowed right now.
func (l *Limiter) Allow(key string) bool {
	return l.getLimiter(key).Allow()
}

// Wait blocks until a request for the key is allowed or the context is
// cancelled.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	return l.getLimiter(key).Wait(ctx)
}

// RetryAfter returns how long until the key's next request would be
// allowed. Zero means a request would pass immediately.
func (l *Limiter) RetryAfter(key string) time.Duration {
	limiter := l.getLimiter(key)
	reservation := limiter.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()
	return delay
}

// Size returns the number of live buckets.
func (l *Limiter) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.limiters)
}

// Reset clears every bucket.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters = make(map[string]*keyedLimiter)
}
