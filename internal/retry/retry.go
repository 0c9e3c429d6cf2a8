// Package retry implements bounded-attempt retry with a pluggable backoff
// policy. The retry budget and the delay schedule are testable in
// isolation from the operations they guard.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy computes the delay before the next attempt. Attempt numbering
// starts at 0 for the delay after the first failure.
type Policy interface {
	Delay(attempt int) time.Duration
}

// Exponential doubles the base delay per attempt up to a cap, with
// optional jitter.
type Exponential struct {
	// Base is the delay after the first failure.
	Base time.Duration

	// Cap bounds the delay regardless of attempt count.
	Cap time.Duration

	// Jitter adds up to 25% random variance to each delay. Disabled in
	// tests for determinism.
	Jitter bool
}

// Delay implements Policy.
func (e Exponential) Delay(attempt int) time.Duration {
	d := e.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= e.Cap {
			d = e.Cap
			break
		}
	}
	if d > e.Cap {
		d = e.Cap
	}
	if e.Jitter && d > 0 {
		d += time.Duration(rand.Int63n(int64(d) / 4)) //nolint:gosec // timing jitter, not crypto
	}
	return d
}

// Constant waits the same delay between every attempt.
type Constant time.Duration

// Delay implements Policy.
func (c Constant) Delay(int) time.Duration {
	return time.Duration(c)
}

// Do runs fn up to attempts times, sleeping according to policy between
// failures. It returns nil on the first success, the last error once the
// budget is exhausted, or the context error if cancelled while waiting.
func Do(ctx context.Context, attempts int, policy Policy, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}

		if attempt == attempts-1 {
			break
		}

		timer := time.NewTimer(policy.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
