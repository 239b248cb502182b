// Package recovery classifies runtime failures and applies recovery
// strategies: retry, fallback, circuit breaking, degraded mode, or manual
// intervention.
package recovery

import (
	"strings"
	"time"
)

// Severity grades a runtime failure. This is a separate vocabulary from
// the security-event severity; the two hierarchies are parallel by design.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Category buckets a runtime failure by cause.
type Category string

const (
	CategoryServiceUnavailable Category = "service_unavailable"
	CategoryTimeout            Category = "timeout"
	CategoryAuthentication     Category = "authentication"
	CategoryRateLimit          Category = "rate_limit"
	CategoryDataValidation     Category = "data_validation"
	CategoryExternalAPI        Category = "external_api"
	CategoryResourceExhaustion Category = "resource_exhaustion"
	CategoryConfiguration      Category = "configuration"
	CategoryUnknown            Category = "unknown"
)

// ErrorContext captures one handled error for the rolling history.
type ErrorContext struct {
	ErrorID          string                 `json:"error_id"`
	Timestamp        time.Time              `json:"timestamp"`
	ServiceName      string                 `json:"service_name"`
	Operation        string                 `json:"operation"`
	UserID           string                 `json:"user_id,omitempty"`
	SessionID        string                 `json:"session_id,omitempty"`
	ErrorMessage     string                 `json:"error_message"`
	ErrorType        string                 `json:"error_type"`
	Severity         Severity               `json:"severity"`
	Category         Category               `json:"category"`
	RecoveryAttempts int                    `json:"recovery_attempts"`
	Resolved         bool                   `json:"resolved"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// ErrorClassifier maps an error to a severity and category. The keyword
// classifier below is a best-effort default; callers with typed errors can
// supply a precise implementation.
type ErrorClassifier interface {
	Classify(err error) (Severity, Category)
}

// KeywordClassifier classifies by substring matching on the error message.
// Matching is first-match-wins in a fixed rule order, so an error matching
// several keyword sets always classifies the same way.
type KeywordClassifier struct{}

// severityRules are checked in order; the first rule with a matching
// keyword wins.
var severityRules = []struct {
	severity Severity
	keywords []string
}{
	{SeverityCritical, []string{"database", "connection refused", "no space left", "memory"}},
	{SeverityHigh, []string{"timeout", "unavailable", "authentication", "unauthorized"}},
	{SeverityMedium, []string{"rate limit", "throttled", "quota", "validation"}},
}

// categoryRules are checked in order; the first rule with a matching
// keyword wins.
var categoryRules = []struct {
	category Category
	keywords []string
}{
	{CategoryServiceUnavailable, []string{"connection refused", "unavailable", "no such host"}},
	{CategoryTimeout, []string{"timeout", "deadline exceeded", "timed out"}},
	{CategoryAuthentication, []string{"authentication", "unauthorized", "forbidden", "invalid token"}},
	{CategoryRateLimit, []string{"rate limit", "throttled", "quota", "too many requests"}},
	{CategoryExternalAPI, []string{"bad gateway", "upstream", "external api"}},
	{CategoryResourceExhaustion, []string{"no space left", "out of memory", "resource exhausted", "memory"}},
	{CategoryDataValidation, []string{"validation", "invalid input", "malformed"}},
	{CategoryConfiguration, []string{"configuration", "config", "missing env"}},
}

// Classify returns the severity and category for an error.
func (KeywordClassifier) Classify(err error) (Severity, Category) {
	if err == nil {
		return SeverityLow, CategoryUnknown
	}
	msg := strings.ToLower(err.Error())

	severity := SeverityLow
	for _, rule := range severityRules {
		if containsAny(msg, rule.keywords) {
			severity = rule.severity
			break
		}
	}

	category := CategoryUnknown
	for _, rule := range categoryRules {
		if containsAny(msg, rule.keywords) {
			category = rule.category
			break
		}
	}

	return severity, category
}

func containsAny(msg string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
