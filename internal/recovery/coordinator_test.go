package recovery

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pam-platform/reliability/internal/breaker"
	"github.com/pam-platform/reliability/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "error", Format: "json", Output: io.Discard})
}

func newTestCoordinator() *Coordinator {
	return NewCoordinator(nil, breaker.NewRegistry(breaker.DefaultConfig()), testLogger())
}

func TestRetryStrategyResolvesTimeout(t *testing.T) {
	c := newTestCoordinator()

	calls := 0
	result := c.HandleError(context.Background(),
		fmt.Errorf("request timeout"), "billing", "charge",
		Options{
			Policy: "quick",
			Operation: func(context.Context) error {
				calls++
				if calls < 2 {
					return fmt.Errorf("request timeout")
				}
				return nil
			},
		})

	assert.True(t, result.Success)
	assert.Equal(t, StrategyRetry, result.RecoveryApplied)
	assert.Equal(t, 2, result.RetryCount)
	assert.Equal(t, 1, c.History().Len())
}

func TestRetrySkippedWithoutOperation(t *testing.T) {
	c := newTestCoordinator()

	// Timeout prefers retry, but without an operation to re-run the
	// coordinator moves on to the circuit breaker.
	result := c.HandleError(context.Background(),
		fmt.Errorf("request timeout"), "billing", "charge", Options{})

	assert.True(t, result.Success)
	assert.Equal(t, StrategyCircuitBreaker, result.RecoveryApplied)
	assert.Equal(t, 0, result.RetryCount)
}

func TestFallbackUsedWhenRegistered(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterFallback("catalog", "lookup", func(ctx context.Context, ec ErrorContext) (interface{}, error) {
		return "cached-result", nil
	})

	// external_api prefers retry then fallback; the operation keeps
	// failing so the fallback resolves it.
	op := func(context.Context) error { return fmt.Errorf("external api error") }
	result := c.HandleError(context.Background(),
		fmt.Errorf("external api error"), "catalog", "lookup",
		Options{Policy: "quick", Operation: op})

	assert.True(t, result.Success)
	assert.Equal(t, StrategyFallback, result.RecoveryApplied)
	assert.True(t, result.FallbackUsed)
	assert.Equal(t, "cached-result", result.FallbackValue)
}

func TestDefaultFallbackProvidesDegradedResponse(t *testing.T) {
	c := newTestCoordinator()

	op := func(context.Context) error { return fmt.Errorf("external api error") }
	result := c.HandleError(context.Background(),
		fmt.Errorf("external api error"), "catalog", "lookup",
		Options{Policy: "quick", Operation: op})

	assert.True(t, result.Success)
	assert.Equal(t, StrategyFallback, result.RecoveryApplied)
	require.True(t, result.FallbackUsed)

	value, ok := result.FallbackValue.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "degraded", value["status"])
}

func TestAuthenticationGoesStraightToManual(t *testing.T) {
	c := newTestCoordinator()

	result := c.HandleError(context.Background(),
		fmt.Errorf("authentication failed"), "auth", "login", Options{})

	assert.False(t, result.Success)
	assert.Equal(t, StrategyManual, result.RecoveryApplied)
	assert.Contains(t, result.Recommendations, "Manual intervention required")
}

func TestDegradedModeMarksService(t *testing.T) {
	c := newTestCoordinator()

	result := c.HandleError(context.Background(),
		fmt.Errorf("resource exhausted"), "search", "query", Options{})

	assert.True(t, result.Success)
	assert.Equal(t, StrategyDegradedMode, result.RecoveryApplied)
	assert.True(t, c.IsDegraded("search"))

	c.ClearDegraded("search")
	assert.False(t, c.IsDegraded("search"))
}

func TestFrequentErrorsForceCircuitBreaker(t *testing.T) {
	c := newTestCoordinator()
	err := fmt.Errorf("request timeout")

	failing := func(context.Context) error { return err }

	// The first errors go through the normal retry path.
	for i := 0; i < 3; i++ {
		c.HandleError(context.Background(), err, "billing", "charge",
			Options{Policy: "quick", Operation: failing})
	}

	// With three timeouts inside five minutes, retry is pointless: the
	// breaker takes over immediately.
	result := c.HandleError(context.Background(), err, "billing", "charge",
		Options{Policy: "quick", Operation: failing})

	assert.Equal(t, StrategyCircuitBreaker, result.RecoveryApplied)
	assert.Equal(t, 0, result.RetryCount)
}

func TestOpenBreakerSkipsRetry(t *testing.T) {
	registry := breaker.NewRegistry(breaker.DefaultConfig())
	c := NewCoordinator(nil, registry, testLogger())

	b := registry.Get("billing", "charge")
	for i := 0; i < 5; i++ {
		b.RecordSuccess()
	}
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	require.Equal(t, breaker.StateOpen, b.State())

	calls := 0
	result := c.HandleError(context.Background(),
		fmt.Errorf("request timeout"), "billing", "charge",
		Options{Operation: func(context.Context) error {
			calls++
			return nil
		}})

	// Retry was dropped; circuit breaker strategy handled it instead.
	assert.Equal(t, 0, calls)
	assert.Equal(t, StrategyCircuitBreaker, result.RecoveryApplied)
}

func TestHistoryCountsByServiceAndCategory(t *testing.T) {
	h := NewHistory()
	now := time.Now()

	for i := 0; i < 3; i++ {
		h.Add(ErrorContext{
			Timestamp:   now,
			ServiceName: "billing",
			Category:    CategoryTimeout,
		})
	}
	h.Add(ErrorContext{Timestamp: now, ServiceName: "billing", Category: CategoryRateLimit})
	h.Add(ErrorContext{Timestamp: now.Add(-10 * time.Minute), ServiceName: "billing", Category: CategoryTimeout})

	assert.Equal(t, 3, h.CountRecent("billing", CategoryTimeout, 5*time.Minute))
	assert.Equal(t, 1, h.CountRecent("billing", CategoryRateLimit, 5*time.Minute))
	assert.Equal(t, 0, h.CountRecent("search", CategoryTimeout, 5*time.Minute))
}
