package engine

import (
	"context"
	"testing"
	"time"

	"github.com/opsrun/opsrun/config"
)

func TestResolvePolicyDefaults(t *testing.T) {
	p := resolvePolicy(nil, nil)
	if p.maxAttempts != 1 {
		t.Errorf("maxAttempts = %d, want 1 (no retries by default)", p.maxAttempts)
	}
}

func TestResolvePolicyMerging(t *testing.T) {
	defaults := &config.RetrySpec{MaxAttempts: 4, Backoff: config.Duration(2 * time.Second)}
	spec := &config.RetrySpec{MaxAttempts: 2}

	p := resolvePolicy(spec, defaults)
	if p.maxAttempts != 2 {
		t.Errorf("maxAttempts = %d, want task-level 2", p.maxAttempts)
	}
	if p.initialBackoff != 2*time.Second {
		t.Errorf("initialBackoff = %v, want inherited 2s", p.initialBackoff)
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	p := retryPolicy{
		maxAttempts:    10,
		initialBackoff: time.Second,
		maxBackoff:     8 * time.Second,
		multiplier:     2.0,
	}

	// Attempt n waits initialBackoff * 2^(n-2): 1s, 2s, 4s, then capped.
	cases := map[int]time.Duration{
		2: time.Second,
		3: 2 * time.Second,
		4: 4 * time.Second,
		5: 8 * time.Second,
		6: 8 * time.Second,
	}
	for attempt, want := range cases {
		if got := p.backoff(attempt); got != want {
			t.Errorf("backoff(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestBackoffJitterStaysInBounds(t *testing.T) {
	p := retryPolicy{
		initialBackoff: time.Second,
		maxBackoff:     time.Minute,
		multiplier:     2.0,
		jitterFraction: 0.1,
	}
	for i := 0; i < 100; i++ {
		d := p.backoff(2)
		if d < 900*time.Millisecond || d > 1100*time.Millisecond {
			t.Fatalf("backoff with 10%% jitter = %v, outside [0.9s, 1.1s]", d)
		}
	}
}

func TestSleepCtxCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepCtx(ctx, time.Minute); err == nil {
		t.Fatal("sleepCtx ignored cancellation")
	}

	start := time.Now()
	if err := sleepCtx(context.Background(), 10*time.Millisecond); err != nil {
		t.Fatalf("sleepCtx: %v", err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Error("sleepCtx returned early")
	}
}
