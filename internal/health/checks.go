package health

import (
	"context"
	"fmt"
	"time"
)

// CheckStatus is the outcome of one named check.
type CheckStatus string

const (
	CheckHealthy  CheckStatus = "healthy"
	CheckDegraded CheckStatus = "degraded"
	CheckCritical CheckStatus = "critical"
)

// CheckFunc probes one dependency or resource. Implementations must honor
// the context deadline.
type CheckFunc func(ctx context.Context) (CheckStatus, string)

// CheckResult is one check's outcome with timing.
type CheckResult struct {
	Name       string      `json:"name"`
	Status     CheckStatus `json:"status"`
	Message    string      `json:"message,omitempty"`
	DurationMS int64       `json:"duration_ms"`
}

// checkTimeout bounds a single check run.
const checkTimeout = 5 * time.Second

// runCheck executes one check with a timeout. A timed-out or panicking
// check reports critical rather than hanging the monitor.
func runCheck(ctx context.Context, name string, fn CheckFunc) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan CheckResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- CheckResult{Name: name, Status: CheckCritical,
					Message: fmt.Sprintf("check panicked: %v", r)}
			}
		}()
		status, msg := fn(ctx)
		done <- CheckResult{Name: name, Status: status, Message: msg}
	}()

	var result CheckResult
	select {
	case result = <-done:
	case <-ctx.Done():
		result = CheckResult{Name: name, Status: CheckCritical, Message: "check timed out"}
	}
	result.DurationMS = time.Since(start).Milliseconds()
	return result
}

// Pinger is anything that can answer a liveness ping, like a Redis client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RedisCheck probes a Redis connection.
func RedisCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) (CheckStatus, string) {
		if err := p.Ping(ctx); err != nil {
			return CheckCritical, fmt.Sprintf("redis ping failed: %v", err)
		}
		return CheckHealthy, ""
	}
}

// thresholdCheck grades a sampled percentage against degraded/critical
// bounds.
func thresholdCheck(what string, value, degraded, critical float64) (CheckStatus, string) {
	switch {
	case value >= critical:
		return CheckCritical, fmt.Sprintf("%s at %.1f%%", what, value)
	case value >= degraded:
		return CheckDegraded, fmt.Sprintf("%s at %.1f%%", what, value)
	default:
		return CheckHealthy, ""
	}
}
