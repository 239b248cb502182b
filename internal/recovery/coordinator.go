package recovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pam-platform/reliability/internal/breaker"
	"github.com/pam-platform/reliability/pkg/logger"
)

// Strategy names a recovery approach. Strategies are tried in order until
// one reports success.
type Strategy string

const (
	StrategyRetry          Strategy = "retry"
	StrategyFallback       Strategy = "fallback"
	StrategyCircuitBreaker Strategy = "circuit_breaker"
	StrategyDegradedMode   Strategy = "degraded_mode"
	StrategyManual         Strategy = "manual_intervention"
)

// strategyTable maps an error category to its candidate strategies, in
// preference order.
var strategyTable = map[Category][]Strategy{
	CategoryServiceUnavailable: {StrategyCircuitBreaker, StrategyFallback, StrategyDegradedMode},
	CategoryTimeout:            {StrategyRetry, StrategyCircuitBreaker, StrategyFallback},
	CategoryAuthentication:     {StrategyManual},
	CategoryRateLimit:          {StrategyRetry, StrategyDegradedMode},
	CategoryDataValidation:     {StrategyManual},
	CategoryExternalAPI:        {StrategyRetry, StrategyFallback, StrategyCircuitBreaker},
	CategoryResourceExhaustion: {StrategyDegradedMode, StrategyManual},
	CategoryConfiguration:      {StrategyManual},
	CategoryUnknown:            {StrategyRetry, StrategyFallback, StrategyManual},
}

// frequentErrorThreshold and frequentErrorWindow define when a recurring
// (service, category) pair is treated as systemic: retries stop and the
// circuit breaker takes over.
const (
	frequentErrorThreshold = 3
	frequentErrorWindow    = 5 * time.Minute
)

// FallbackHandler produces an alternate result when the primary operation
// cannot be recovered. Registered per (service, operation).
type FallbackHandler func(ctx context.Context, ec ErrorContext) (interface{}, error)

// Result reports what the coordinator did about one error.
type Result struct {
	ErrorID         string      `json:"error_id"`
	RecoveryApplied Strategy    `json:"recovery_applied"`
	Success         bool        `json:"success"`
	FallbackUsed    bool        `json:"fallback_used"`
	FallbackValue   interface{} `json:"fallback_value,omitempty"`
	RetryCount      int         `json:"retry_count"`
	Recommendations []string    `json:"recommendations,omitempty"`
}

// Options carries optional context for HandleError.
type Options struct {
	UserID    string
	SessionID string
	Metadata  map[string]interface{}

	// Operation, when set, is what the retry strategy re-executes. Without
	// it the retry strategy is skipped.
	Operation func(ctx context.Context) error

	// Policy selects a named retry policy ("default", "quick",
	// "persistent").
	Policy string
}

// Coordinator classifies errors and drives recovery. Safe for concurrent
// use.
type Coordinator struct {
	classifier ErrorClassifier
	breakers   *breaker.Registry
	history    *History
	log        *logger.Logger

	mu        sync.RWMutex
	fallbacks map[string]FallbackHandler
	degraded  map[string]bool
}

// NewCoordinator wires a coordinator to a breaker registry. A nil
// classifier uses the keyword default.
func NewCoordinator(classifier ErrorClassifier, breakers *breaker.Registry, log *logger.Logger) *Coordinator {
	if classifier == nil {
		classifier = KeywordClassifier{}
	}
	return &Coordinator{
		classifier: classifier,
		breakers:   breakers,
		history:    NewHistory(),
		log:        log.Component("recovery"),
		fallbacks:  make(map[string]FallbackHandler),
		degraded:   make(map[string]bool),
	}
}

// RegisterFallback installs a fallback handler for a (service, operation)
// pair.
func (c *Coordinator) RegisterFallback(service, operation string, handler FallbackHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallbacks[service+":"+operation] = handler
}

// IsDegraded reports whether a service has been put into degraded mode.
func (c *Coordinator) IsDegraded(service string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.degraded[service]
}

// ClearDegraded takes a service out of degraded mode.
func (c *Coordinator) ClearDegraded(service string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.degraded, service)
}

// History exposes the rolling error history for health reporting.
func (c *Coordinator) History() *History {
	return c.history
}

// HandleError classifies the error, selects recovery strategies for its
// category, and tries them in order until one succeeds. Every handled
// error lands in the rolling history regardless of outcome.
func (c *Coordinator) HandleError(ctx context.Context, err error, service, operation string, opts Options) Result {
	severity, category := c.classifier.Classify(err)

	ec := ErrorContext{
		ErrorID:      uuid.New().String(),
		Timestamp:    time.Now().UTC(),
		ServiceName:  service,
		Operation:    operation,
		UserID:       opts.UserID,
		SessionID:    opts.SessionID,
		ErrorMessage: err.Error(),
		ErrorType:    fmt.Sprintf("%T", err),
		Severity:     severity,
		Category:     category,
		Metadata:     opts.Metadata,
	}

	strategies := c.selectStrategies(service, operation, category)

	result := Result{ErrorID: ec.ErrorID}
	for _, strategy := range strategies {
		ec.RecoveryAttempts++
		applied := c.apply(ctx, strategy, &ec, opts, &result)
		result.RecoveryApplied = strategy
		if applied {
			result.Success = true
			ec.Resolved = true
			break
		}
	}

	if !result.Success {
		result.RecoveryApplied = StrategyManual
		result.Recommendations = append(result.Recommendations,
			"Manual intervention required",
			fmt.Sprintf("Check %s logs for operation %s", service, operation),
		)
	}

	c.history.Add(ec)

	c.log.Warn("error handled",
		"error_id", ec.ErrorID,
		"service", service,
		"operation", operation,
		"category", string(category),
		"severity", string(severity),
		"strategy", string(result.RecoveryApplied),
		"recovered", result.Success,
	)
	return result
}

// selectStrategies returns the candidate strategies for a category,
// dropping retry when the breaker is open or the error is recurring. A
// recurring error forces the circuit breaker to the front.
func (c *Coordinator) selectStrategies(service, operation string, category Category) []Strategy {
	base, ok := strategyTable[category]
	if !ok {
		base = strategyTable[CategoryUnknown]
	}

	breakerOpen := c.breakers.Get(service, operation).State() == breaker.StateOpen
	frequent := c.history.CountRecent(service, category, frequentErrorWindow) >= frequentErrorThreshold

	out := make([]Strategy, 0, len(base)+1)
	if frequent {
		out = append(out, StrategyCircuitBreaker)
	}
	for _, s := range base {
		if s == StrategyRetry && (breakerOpen || frequent) {
			continue
		}
		if frequent && s == StrategyCircuitBreaker {
			continue
		}
		out = append(out, s)
	}
	return out
}

// apply executes one strategy and reports whether it resolved the error.
func (c *Coordinator) apply(ctx context.Context, strategy Strategy, ec *ErrorContext, opts Options, result *Result) bool {
	switch strategy {
	case StrategyRetry:
		if opts.Operation == nil {
			return false
		}
		policy := PolicyByName(opts.Policy)
		attempts, err := policy.Run(ctx, opts.Operation)
		result.RetryCount = attempts
		if err != nil {
			c.breakers.Get(ec.ServiceName, ec.Operation).RecordFailure()
			return false
		}
		c.breakers.Get(ec.ServiceName, ec.Operation).RecordSuccess()
		return true

	case StrategyFallback:
		handler := c.lookupFallback(ec.ServiceName, ec.Operation)
		if handler == nil {
			handler = defaultFallback
		}
		value, err := handler(ctx, *ec)
		if err != nil {
			return false
		}
		result.FallbackUsed = true
		result.FallbackValue = value
		return true

	case StrategyCircuitBreaker:
		// Isolation, not resolution: record the failure so the breaker can
		// trip, and report success so the caller stops hammering the
		// dependency.
		c.breakers.Get(ec.ServiceName, ec.Operation).RecordFailure()
		result.Recommendations = append(result.Recommendations,
			fmt.Sprintf("Circuit breaker engaged for %s.%s", ec.ServiceName, ec.Operation))
		return true

	case StrategyDegradedMode:
		c.mu.Lock()
		c.degraded[ec.ServiceName] = true
		c.mu.Unlock()
		c.log.Warn("service entering degraded mode", "service", ec.ServiceName)
		result.Recommendations = append(result.Recommendations,
			fmt.Sprintf("%s is running in degraded mode", ec.ServiceName),
			"Reduce non-essential load until recovery")
		return true

	default:
		return false
	}
}

func (c *Coordinator) lookupFallback(service, operation string) FallbackHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fallbacks[service+":"+operation]
}

// defaultFallback is the canned response used when no handler is
// registered for the failing operation.
func defaultFallback(ctx context.Context, ec ErrorContext) (interface{}, error) {
	return map[string]interface{}{
		"status":  "degraded",
		"message": fmt.Sprintf("%s.%s is temporarily unavailable", ec.ServiceName, ec.Operation),
	}, nil
}
