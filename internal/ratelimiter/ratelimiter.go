// Package ratelimiter implements the token bucket described in
// original_source/server/core/rate_limiter.py: per-key buckets with an
// optional global bucket checked first, lazy refill on a monotonic clock,
// and tokens restored to the global bucket if the per-key check fails.
package ratelimiter

import (
	"context"
	"time"
)

// Limiter is the contract the Dispatcher's rate-limit acquire step uses.
// Acquire is non-blocking: it returns immediately with whether the tokens
// were granted and, when they were not, a wait hint — the bucket's own
// estimate of when it would next have enough tokens, mirroring wait_time
// in original_source/server/core/rate_limiter.py — so the Dispatcher can
// requeue with that delay instead of polling on a fixed interval or
// blocking a worker goroutine. The hint is advisory: callers may treat a
// zero or negative value as "retry soon". Penalize lets a RateLimited
// outcome from C3 feed back into C1 (§4.4 step 6), starving key's bucket
// for roughly retryAfter instead of waiting for the next natural refill.
type Limiter interface {
	Acquire(ctx context.Context, key string, tokens float64) (bool, time.Duration, error)
	Penalize(ctx context.Context, key string, retryAfter time.Duration)
}

// Config mirrors TokenBucketRateLimiter's constructor arguments.
type Config struct {
	Capacity         float64
	RefillRate       float64
	GlobalCapacity   float64
	GlobalRefillRate float64
}

// DefaultConfig matches the original's default_limiter: 80 msgs/sec per
// phone number, 500 msgs/sec global.
func DefaultConfig() Config {
	return Config{
		Capacity:         80,
		RefillRate:       80,
		GlobalCapacity:   500,
		GlobalRefillRate: 500,
	}
}
