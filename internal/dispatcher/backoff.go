package dispatcher

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig mirrors original_source/server/workers/outbound.py's
// WorkerConfig retry fields.
type BackoffConfig struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Factor       float64
	JitterFactor float64
	MaxAttempts  int
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		BaseDelay:    time.Second,
		MaxDelay:     5 * time.Minute,
		Factor:       2.0,
		JitterFactor: 0.25,
		MaxAttempts:  5,
	}
}

// calculateBackoff ports calculate_backoff: exponential with jitter,
// base * factor^(attempt-1) capped at MaxDelay, jittered by ±JitterFactor,
// and floored at 100ms.
func calculateBackoff(cfg BackoffConfig, attempt int) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(cfg.Factor, float64(attempt-1))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	jitter := delay * cfg.JitterFactor
	delay += (rand.Float64()*2 - 1) * jitter

	floor := float64(100 * time.Millisecond)
	if delay < floor {
		delay = floor
	}
	return time.Duration(delay)
}
