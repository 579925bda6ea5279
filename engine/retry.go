package engine

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"math"
	"time"

	"github.com/opsrun/opsrun/config"
)

// retryPolicy is the resolved retry configuration for one task, after
// pipeline defaults have been applied.
type retryPolicy struct {
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	multiplier     float64
	jitterFraction float64
}

// resolvePolicy merges a task's retry spec with the pipeline defaults.
// Absent both, a task runs exactly once.
func resolvePolicy(spec, defaults *config.RetrySpec) retryPolicy {
	p := retryPolicy{
		maxAttempts:    1,
		initialBackoff: time.Second,
		maxBackoff:     60 * time.Second,
		multiplier:     2.0,
		jitterFraction: 0.1,
	}
	apply := func(r *config.RetrySpec) {
		if r == nil {
			return
		}
		if r.MaxAttempts > 0 {
			p.maxAttempts = r.MaxAttempts
		}
		if r.Backoff > 0 {
			p.initialBackoff = r.Backoff.Std()
		}
		if r.MaxBackoff > 0 {
			p.maxBackoff = r.MaxBackoff.Std()
		}
	}
	apply(defaults)
	apply(spec)
	return p
}

// backoff computes the delay before the given attempt number (the
// attempt about to run, starting at 2). Exponential growth capped at
// maxBackoff, with symmetric jitter to avoid thundering herds.
func (p retryPolicy) backoff(attempt int) time.Duration {
	base := float64(p.initialBackoff) * math.Pow(p.multiplier, float64(attempt-2))
	if base > float64(p.maxBackoff) {
		base = float64(p.maxBackoff)
	}
	if p.jitterFraction > 0 {
		base += base * p.jitterFraction * (cryptoFloat64()*2 - 1)
		if base < 0 {
			base = 0
		}
	}
	return time.Duration(base)
}

// cryptoFloat64 returns a uniform float64 in [0.0, 1.0).
func cryptoFloat64() float64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return float64(binary.BigEndian.Uint64(b[:])>>(64-53)) / float64(1<<53)
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
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
