package recovery

import (
	"context"
	"math"
	"time"
)

// RetryPolicy bounds re-attempts with exponential backoff. Policies are
// constructor parameters; the named presets cover the common cases.
type RetryPolicy struct {
	Name          string
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// Named retry policies.
func DefaultPolicy() RetryPolicy {
	return RetryPolicy{
		Name:          "default",
		MaxAttempts:   3,
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

func QuickPolicy() RetryPolicy {
	return RetryPolicy{
		Name:          "quick",
		MaxAttempts:   2,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 1.5,
	}
}

func PersistentPolicy() RetryPolicy {
	return RetryPolicy{
		Name:          "persistent",
		MaxAttempts:   5,
		BaseDelay:     2 * time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
	}
}

// PolicyByName resolves a named policy, defaulting to "default".
func PolicyByName(name string) RetryPolicy {
	switch name {
	case "quick":
		return QuickPolicy()
	case "persistent":
		return PersistentPolicy()
	default:
		return DefaultPolicy()
	}
}

// Delay returns the backoff before attempt i (zero-based), capped at
// MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.BackoffFactor, float64(attempt)))
	if d > p.MaxDelay || d < 0 {
		return p.MaxDelay
	}
	return d
}

// Run invokes op up to MaxAttempts times, sleeping the policy delay
// between attempts. It returns the attempt count alongside the final
// error; the sleep respects context cancellation.
func (p RetryPolicy) Run(ctx context.Context, op func(context.Context) error) (int, error) {
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			if serr := sleepCtx(ctx, p.Delay(attempt-1)); serr != nil {
				return attempt, serr
			}
		}
		if err = op(ctx); err == nil {
			return attempt + 1, nil
		}
	}
	return p.MaxAttempts, err
}

// sleepCtx sleeps for d or until the context is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
