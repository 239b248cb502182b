package recovery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		Name:          "test",
		MaxAttempts:   maxAttempts,
		BaseDelay:     time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestRunStopsAtMaxAttempts(t *testing.T) {
	calls := 0
	attempts, err := fastPolicy(3).Run(context.Background(), func(context.Context) error {
		calls++
		return fmt.Errorf("still failing")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestRunReturnsEarlyOnSuccess(t *testing.T) {
	calls := 0
	attempts, err := fastPolicy(5).Run(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestRunHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	policy := RetryPolicy{
		Name:          "slow",
		MaxAttempts:   5,
		BaseDelay:     time.Hour,
		MaxDelay:      time.Hour,
		BackoffFactor: 2.0,
	}

	calls := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := policy.Run(ctx, func(context.Context) error {
			calls++
			return fmt.Errorf("fail")
		})
		assert.ErrorIs(t, err, context.Canceled)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("retry did not observe cancellation")
	}
	assert.Equal(t, 1, calls)
}

func TestDelayBackoffAndCap(t *testing.T) {
	p := RetryPolicy{
		BaseDelay:     time.Second,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}

	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 5*time.Second, p.Delay(3))
	assert.Equal(t, 5*time.Second, p.Delay(20))
}

func TestPolicyByName(t *testing.T) {
	assert.Equal(t, "quick", PolicyByName("quick").Name)
	assert.Equal(t, "persistent", PolicyByName("persistent").Name)
	assert.Equal(t, "default", PolicyByName("").Name)
	assert.Equal(t, "default", PolicyByName("nope").Name)

	assert.Equal(t, 3, DefaultPolicy().MaxAttempts)
	assert.Equal(t, 2, QuickPolicy().MaxAttempts)
	assert.Equal(t, 5, PersistentPolicy().MaxAttempts)
}
