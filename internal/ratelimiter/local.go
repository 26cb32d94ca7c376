package ratelimiter

import (
	"context"
	"sync"
	"time"
)

type tokenBucket struct {
	capacity   float64
	refillRate float64
	tokens     float64
	lastRefill time.Time
}

func newTokenBucket(capacity, refillRate float64) *tokenBucket {
	return &tokenBucket{capacity: capacity, refillRate: refillRate, tokens: capacity, lastRefill: time.Now()}
}

func (b *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(b.capacity, b.tokens+elapsed*b.refillRate)
	b.lastRefill = now
}

func (b *tokenBucket) consume(now time.Time, tokens float64) bool {
	b.refill(now)
	if b.tokens >= tokens {
		b.tokens -= tokens
		return true
	}
	return false
}

func (b *tokenBucket) restore(tokens float64) {
	b.tokens = min(b.capacity, b.tokens+tokens)
}

// waitFor estimates how long until the bucket holds enough tokens, given
// its state as of the last refill call. Callers must call refill (directly
// or via a failed consume) before relying on this.
func (b *tokenBucket) waitFor(tokens float64) time.Duration {
	if b.refillRate <= 0 {
		return 0
	}
	deficit := tokens - b.tokens
	if deficit <= 0 {
		return 0
	}
	return time.Duration(deficit / b.refillRate * float64(time.Second))
}

// penalize zeroes the bucket and pushes lastRefill into the future by
// retryAfter, so refill's elapsed-time check stays negative (a no-op) until
// real time catches up — a deterministic penalty window without a separate
// timer.
func (b *tokenBucket) penalize(now time.Time, retryAfter time.Duration) {
	b.tokens = 0
	if until := now.Add(retryAfter); until.After(b.lastRefill) {
		b.lastRefill = until
	}
}

// Local is an in-process limiter, grounded on
// TokenBucketRateLimiter.acquire: one mutex guarding a map of per-key
// buckets plus an optional global bucket checked first. Used directly in
// tests and as the fallback Redis falls open to.
type Local struct {
	mu      sync.Mutex
	cfg     Config
	buckets map[string]*tokenBucket
	global  *tokenBucket
}

func NewLocal(cfg Config) *Local {
	l := &Local{cfg: cfg, buckets: map[string]*tokenBucket{}}
	if cfg.GlobalCapacity > 0 && cfg.GlobalRefillRate > 0 {
		l.global = newTokenBucket(cfg.GlobalCapacity, cfg.GlobalRefillRate)
	}
	return l
}

func (l *Local) Acquire(_ context.Context, key string, tokens float64) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = newTokenBucket(l.cfg.Capacity, l.cfg.RefillRate)
		l.buckets[key] = bucket
	}

	if l.global != nil && !l.global.consume(now, tokens) {
		return false, l.global.waitFor(tokens), nil
	}
	if !bucket.consume(now, tokens) {
		wait := bucket.waitFor(tokens)
		if l.global != nil {
			l.global.restore(tokens)
		}
		return false, wait, nil
	}
	return true, 0, nil
}

// Penalize starves key's bucket for roughly retryAfter, mirroring a 429's
// Retry-After being fed back into the limiter (§4.4 step 6). The global
// bucket is untouched: a single phone number being penalized should not
// throttle every other number sharing the process.
func (l *Local) Penalize(_ context.Context, key string, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.buckets[key]
	if !ok {
		bucket = newTokenBucket(l.cfg.Capacity, l.cfg.RefillRate)
		l.buckets[key] = bucket
	}
	bucket.penalize(time.Now(), retryAfter)
}

// Reset restores a key's bucket to full capacity, mirroring
// TokenBucketRateLimiter.reset. Used by tests and the admin surface.
func (l *Local) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}
