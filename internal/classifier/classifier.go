// Package classifier maps a correlated group of security events to an
// incident category and escalation level. Classification is a pure function
// over the event group and the rule table.
package classifier

import (
	"strings"

	"github.com/pam-platform/reliability/internal/event"
	"github.com/pam-platform/reliability/internal/incident"
)

// Rule maps a threat type to a category and, optionally, a fixed base
// escalation level. Without a fixed level the base escalation derives from
// the primary event's severity.
type Rule struct {
	Category   incident.Category
	Escalation *incident.EscalationLevel
}

// Table is the threat-type classification table.
type Table map[event.ThreatType]Rule

func level(l incident.EscalationLevel) *incident.EscalationLevel {
	return &l
}

// DefaultTable returns the built-in classification rules.
func DefaultTable() Table {
	return Table{
		event.ThreatSQLInjection:     {Category: incident.CategorySystemCompromise, Escalation: level(incident.Level2)},
		event.ThreatCommandInjection: {Category: incident.CategorySystemCompromise, Escalation: level(incident.Level2)},
		event.ThreatPathTraversal:    {Category: incident.CategoryDataLeak, Escalation: level(incident.Level2)},
		event.ThreatBruteForce:       {Category: incident.CategoryAccountTakeover, Escalation: level(incident.Level1)},
		event.ThreatCredentialStuff:  {Category: incident.CategoryAccountTakeover, Escalation: level(incident.Level2)},
		event.ThreatRateAbuse:        {Category: incident.CategoryDDoSAttack, Escalation: level(incident.Level1)},
		event.ThreatDataExfiltration: {Category: incident.CategoryDataLeak, Escalation: level(incident.Level3)},
		event.ThreatPrivilegeEscal:   {Category: incident.CategorySecurityBreach, Escalation: level(incident.Level2)},
		event.ThreatMalwareUpload:    {Category: incident.CategoryMalware, Escalation: level(incident.Level2)},
		event.ThreatPhishing:         {Category: incident.CategoryPhishing, Escalation: level(incident.Level1)},
		event.ThreatInsiderAccess:    {Category: incident.CategoryInsiderThreat, Escalation: level(incident.Level2)},
		// XSS stays severity-derived.
		event.ThreatXSS: {Category: incident.CategorySuspiciousActivity},
	}
}

// criticalEndpoints are path substrings that mark an attack as targeting
// sensitive surface.
var criticalEndpoints = []string{"/admin/", "/api/auth/", "/system/"}

// Thresholds for the escalation heuristics.
const (
	multiVectorDistinctTypes = 2  // more than this many distinct threat types
	volumeThreshold          = 50 // more than this many events in the group
)

// Classifier applies a rule table plus escalation heuristics.
type Classifier struct {
	table Table
}

// New creates a classifier. A nil table uses the defaults.
func New(table Table) *Classifier {
	if table == nil {
		table = DefaultTable()
	}
	return &Classifier{table: table}
}

// Classify returns the category and escalation level for a non-empty event
// group. Unknown threat types classify as suspicious activity rather than
// failing.
func (c *Classifier) Classify(events []event.SecurityEvent) (incident.Category, incident.EscalationLevel) {
	primary, ok := event.PrimaryEvent(events)
	if !ok {
		return incident.CategorySuspiciousActivity, incident.Level0
	}

	category := incident.CategorySuspiciousActivity
	escalation := severityEscalation(primary.Severity)

	if rule, found := c.table[primary.ThreatType]; found {
		category = rule.Category
		if rule.Escalation != nil {
			escalation = *rule.Escalation
		}
	}

	// Heuristics only ever escalate, never de-escalate.
	if isMultiVector(events) {
		escalation++
	}
	if len(events) > volumeThreshold {
		escalation++
	}
	if targetsCriticalEndpoint(events) {
		escalation++
	}

	return category, escalation.Clamp()
}

// severityEscalation derives a base escalation for threat types without a
// fixed level in the table.
func severityEscalation(s event.Severity) incident.EscalationLevel {
	switch s {
	case event.SeverityCritical:
		return incident.Level2
	case event.SeverityHigh:
		return incident.Level1
	default:
		return incident.Level0
	}
}

// isMultiVector reports whether any single source IP shows more than
// multiVectorDistinctTypes distinct threat types, which indicates a
// coordinated attack.
func isMultiVector(events []event.SecurityEvent) bool {
	bySource := make(map[string]map[event.ThreatType]struct{})
	for _, e := range events {
		types := bySource[e.SourceIP]
		if types == nil {
			types = make(map[event.ThreatType]struct{})
			bySource[e.SourceIP] = types
		}
		types[e.ThreatType] = struct{}{}
		if len(types) > multiVectorDistinctTypes {
			return true
		}
	}
	return false
}

// targetsCriticalEndpoint reports whether any event hit a sensitive path.
func targetsCriticalEndpoint(events []event.SecurityEvent) bool {
	for _, e := range events {
		for _, path := range criticalEndpoints {
			if strings.Contains(e.Endpoint, path) {
				return true
			}
		}
	}
	return false
}
