package limiter

import (
	"context"
	"sync"
	"time"
)

// idleBucketTTL is how long an untouched bucket is kept before cleanup
const idleBucketTTL = 5 * time.Minute

// tokenBucket allows bursts up to capacity while holding the average at rate
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	rate       float64 // tokens added per second
	lastRefill time.Time
}

func newTokenBucket(rate float64, now time.Time) *tokenBucket {
	// Fractional rates (e.g., 0.2 req/s) still need room for one request
	capacity := max(rate, 1.0)
	return &tokenBucket{
		tokens:     capacity,
		capacity:   capacity,
		rate:       rate,
		lastRefill: now,
	}
}

func (b *tokenBucket) take(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = min(b.tokens+elapsed*b.rate, b.capacity)
		b.lastRefill = now
	}

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return true
	}
	return false
}

func (b *tokenBucket) idleSince() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRefill
}

// MemoryLimiter keeps one token bucket per client key
type MemoryLimiter struct {
	buckets sync.Map // key -> *tokenBucket
	rate    float64
	now     func() time.Time

	cleanupMu   sync.Mutex
	lastCleanup time.Time
}

// NewMemoryLimiter creates a per-client limiter allowing requestsPerSecond on average
// Fractional rates are allowed (0.2 means one request every five seconds)
func NewMemoryLimiter(requestsPerSecond float64) *MemoryLimiter {
	return &MemoryLimiter{
		rate:        requestsPerSecond,
		now:         time.Now,
		lastCleanup: time.Now(),
	}
}

// Allow implements Limiter
func (l *MemoryLimiter) Allow(_ context.Context, key string) bool {
	now := l.now()

	bucket, ok := l.buckets.Load(key)
	if !ok {
		bucket, _ = l.buckets.LoadOrStore(key, newTokenBucket(l.rate, now))
	}
	allowed := bucket.(*tokenBucket).take(now)

	l.maybeCleanup(now)
	return allowed
}

// Len returns how many client buckets are tracked
func (l *MemoryLimiter) Len() int {
	n := 0
	l.buckets.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// maybeCleanup drops buckets idle for idleBucketTTL, at most once per idleBucketTTL
func (l *MemoryLimiter) maybeCleanup(now time.Time) {
	l.cleanupMu.Lock()
	defer l.cleanupMu.Unlock()

	if now.Sub(l.lastCleanup) < idleBucketTTL {
		return
	}

	threshold := now.Add(-idleBucketTTL)
	l.buckets.Range(func(key, value interface{}) bool {
		if value.(*tokenBucket).idleSince().Before(threshold) {
			l.buckets.Delete(key)
		}
		return true
	})
	l.lastCleanup = now
}

// Close implements Limiter; there is nothing to release
func (l *MemoryLimiter) Close() error {
	return nil
}
