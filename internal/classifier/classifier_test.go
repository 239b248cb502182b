package classifier

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pam-platform/reliability/internal/event"
	"github.com/pam-platform/reliability/internal/incident"
)

func ev(threat event.ThreatType, severity event.Severity, sourceIP, endpoint string) event.SecurityEvent {
	return event.SecurityEvent{
		EventID:    "e-" + string(threat),
		Timestamp:  time.Now(),
		SourceIP:   sourceIP,
		ThreatType: threat,
		Severity:   severity,
		Endpoint:   endpoint,
	}
}

func TestClassifyByThreatType(t *testing.T) {
	c := New(nil)

	tests := []struct {
		threat   event.ThreatType
		category incident.Category
		level    incident.EscalationLevel
	}{
		{event.ThreatSQLInjection, incident.CategorySystemCompromise, incident.Level2},
		{event.ThreatCommandInjection, incident.CategorySystemCompromise, incident.Level2},
		{event.ThreatPathTraversal, incident.CategoryDataLeak, incident.Level2},
		{event.ThreatBruteForce, incident.CategoryAccountTakeover, incident.Level1},
		{event.ThreatDataExfiltration, incident.CategoryDataLeak, incident.Level3},
		{event.ThreatRateAbuse, incident.CategoryDDoSAttack, incident.Level1},
	}
	for _, tc := range tests {
		t.Run(string(tc.threat), func(t *testing.T) {
			category, level := c.Classify([]event.SecurityEvent{
				ev(tc.threat, event.SeverityMedium, "10.0.0.1", "/api/items"),
			})
			assert.Equal(t, tc.category, category)
			assert.Equal(t, tc.level, level)
		})
	}
}

func TestUnknownThreatIsSuspiciousActivity(t *testing.T) {
	c := New(nil)

	category, level := c.Classify([]event.SecurityEvent{
		ev("weird_new_thing", event.SeverityLow, "10.0.0.1", "/api/items"),
	})
	assert.Equal(t, incident.CategorySuspiciousActivity, category)
	assert.Equal(t, incident.Level0, level)

	// High severity still raises the derived base level.
	_, level = c.Classify([]event.SecurityEvent{
		ev("weird_new_thing", event.SeverityCritical, "10.0.0.1", "/api/items"),
	})
	assert.Equal(t, incident.Level2, level)
}

func TestEmptyGroup(t *testing.T) {
	c := New(nil)
	category, level := c.Classify(nil)
	assert.Equal(t, incident.CategorySuspiciousActivity, category)
	assert.Equal(t, incident.Level0, level)
}

func TestSingleSQLInjectionStaysLevel2(t *testing.T) {
	c := New(nil)

	category, level := c.Classify([]event.SecurityEvent{
		ev(event.ThreatSQLInjection, event.SeverityHigh, "203.0.113.5", "/api/items"),
	})
	assert.Equal(t, incident.CategorySystemCompromise, category)
	assert.Equal(t, incident.Level2, level)
}

func TestCriticalEndpointEscalates(t *testing.T) {
	c := New(nil)

	_, base := c.Classify([]event.SecurityEvent{
		ev(event.ThreatSQLInjection, event.SeverityHigh, "10.0.0.1", "/api/items"),
	})
	_, escalated := c.Classify([]event.SecurityEvent{
		ev(event.ThreatSQLInjection, event.SeverityHigh, "10.0.0.1", "/admin/config"),
	})
	assert.Equal(t, base+1, escalated)
}

func TestMultiVectorEscalates(t *testing.T) {
	c := New(nil)

	// Three distinct threat types from one source is a coordinated attack.
	events := []event.SecurityEvent{
		ev(event.ThreatBruteForce, event.SeverityMedium, "10.0.0.1", "/login"),
		ev(event.ThreatXSS, event.SeverityMedium, "10.0.0.1", "/search"),
		ev(event.ThreatPathTraversal, event.SeverityMedium, "10.0.0.1", "/files"),
	}
	_, level := c.Classify(events)

	// Primary is path_traversal or brute_force by tie-break on first
	// occurrence; either way the base comes from the rule table and the
	// multi-vector bonus adds one.
	_, base := c.Classify(events[:1])
	assert.Equal(t, base+1, level)

	// Two distinct types stay at the base.
	_, two := c.Classify(events[:2])
	assert.Equal(t, base, two)
}

func TestVolumeEscalates(t *testing.T) {
	c := New(nil)

	events := make([]event.SecurityEvent, 0, 51)
	for i := 0; i < 51; i++ {
		e := ev(event.ThreatRateAbuse, event.SeverityMedium, "10.0.0.1", "/api/items")
		e.EventID = fmt.Sprintf("e%d", i)
		events = append(events, e)
	}
	_, level := c.Classify(events)
	assert.Equal(t, incident.Level2, level)

	_, atThreshold := c.Classify(events[:50])
	assert.Equal(t, incident.Level1, atThreshold)
}

func TestEscalationClampsAtLevel4(t *testing.T) {
	c := New(nil)

	// Exfiltration base level 3 plus multi-vector, volume, and critical
	// endpoint bonuses would be 6 unclamped.
	events := make([]event.SecurityEvent, 0, 52)
	for i := 0; i < 50; i++ {
		e := ev(event.ThreatDataExfiltration, event.SeverityCritical, "10.0.0.1", "/admin/export")
		e.EventID = fmt.Sprintf("e%d", i)
		events = append(events, e)
	}
	events = append(events,
		ev(event.ThreatSQLInjection, event.SeverityHigh, "10.0.0.1", "/admin/export"),
		ev(event.ThreatCommandInjection, event.SeverityHigh, "10.0.0.1", "/admin/export"),
	)

	_, level := c.Classify(events)
	assert.Equal(t, incident.Level4, level)
}

func TestHeuristicsNeverDeescalate(t *testing.T) {
	c := New(nil)

	// A calm, single low-severity event keeps the table level untouched.
	_, level := c.Classify([]event.SecurityEvent{
		ev(event.ThreatDataExfiltration, event.SeverityLow, "10.0.0.1", "/api/export"),
	})
	assert.Equal(t, incident.Level3, level)
}
