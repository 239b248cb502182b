package recovery

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeywordClassification(t *testing.T) {
	c := KeywordClassifier{}

	tests := []struct {
		msg      string
		severity Severity
		category Category
	}{
		{"dial tcp: connection refused", SeverityCritical, CategoryServiceUnavailable},
		{"database query failed", SeverityCritical, CategoryUnknown},
		{"context deadline exceeded", SeverityLow, CategoryTimeout},
		{"request timeout after 30s", SeverityHigh, CategoryTimeout},
		{"service unavailable", SeverityHigh, CategoryServiceUnavailable},
		{"authentication failed for user", SeverityHigh, CategoryAuthentication},
		{"unauthorized: invalid token", SeverityHigh, CategoryAuthentication},
		{"rate limit exceeded", SeverityMedium, CategoryRateLimit},
		{"request throttled by upstream", SeverityMedium, CategoryRateLimit},
		{"validation failed: missing field", SeverityMedium, CategoryDataValidation},
		{"out of memory", SeverityCritical, CategoryResourceExhaustion},
		{"no space left on device", SeverityCritical, CategoryResourceExhaustion},
		{"502 bad gateway from provider", SeverityLow, CategoryExternalAPI},
		{"missing env SMTP_HOST", SeverityLow, CategoryConfiguration},
		{"something odd happened", SeverityLow, CategoryUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.msg, func(t *testing.T) {
			severity, category := c.Classify(fmt.Errorf("%s", tc.msg))
			assert.Equal(t, tc.severity, severity, "severity for %q", tc.msg)
			assert.Equal(t, tc.category, category, "category for %q", tc.msg)
		})
	}
}

func TestFirstMatchWins(t *testing.T) {
	c := KeywordClassifier{}

	// "connection refused" (critical) appears alongside "timeout" (high);
	// the critical rule is checked first and wins.
	severity, category := c.Classify(fmt.Errorf("timeout waiting, then connection refused"))
	assert.Equal(t, SeverityCritical, severity)
	assert.Equal(t, CategoryServiceUnavailable, category)
}

func TestNilErrorClassifiesLowUnknown(t *testing.T) {
	c := KeywordClassifier{}
	severity, category := c.Classify(nil)
	assert.Equal(t, SeverityLow, severity)
	assert.Equal(t, CategoryUnknown, category)
}

func TestClassificationIsCaseInsensitive(t *testing.T) {
	c := KeywordClassifier{}
	severity, category := c.Classify(fmt.Errorf("Connection Refused by host"))
	assert.Equal(t, SeverityCritical, severity)
	assert.Equal(t, CategoryServiceUnavailable, category)
}
