// Package event defines the security event model consumed by the
// correlation engine. Events are produced by an upstream detector and are
// immutable once created.
package event

import (
	"time"
)

// ThreatType identifies the class of suspicious activity a detector saw.
type ThreatType string

const (
	ThreatSQLInjection     ThreatType = "sql_injection"
	ThreatCommandInjection ThreatType = "command_injection"
	ThreatPathTraversal    ThreatType = "path_traversal"
	ThreatXSS              ThreatType = "xss"
	ThreatBruteForce       ThreatType = "brute_force"
	ThreatCredentialStuff  ThreatType = "credential_stuffing"
	ThreatRateAbuse        ThreatType = "rate_abuse"
	ThreatDataExfiltration ThreatType = "data_exfiltration"
	ThreatPrivilegeEscal   ThreatType = "privilege_escalation"
	ThreatMalwareUpload    ThreatType = "malware_upload"
	ThreatPhishing         ThreatType = "phishing"
	ThreatInsiderAccess    ThreatType = "insider_access"
	ThreatUnknown          ThreatType = "unknown"
)

// Severity represents how dangerous a single event is on its own.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Score returns the ordinal weight of a severity. Unknown severities score
// as low rather than failing.
func (s Severity) Score() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

// Max returns the higher of two severities.
func (s Severity) Max(other Severity) Severity {
	if other.Score() > s.Score() {
		return other
	}
	return s
}

// SecurityEvent is a single suspicious request or action reported by the
// upstream security monitor.
type SecurityEvent struct {
	EventID    string     `json:"event_id"`
	Timestamp  time.Time  `json:"timestamp"`
	SourceIP   string     `json:"source_ip"`
	ThreatType ThreatType `json:"threat_type"`
	Severity   Severity   `json:"severity"`
	Endpoint   string     `json:"endpoint"`
	UserID     string     `json:"user_id,omitempty"`
}

// CorrelationKey returns the grouping key for correlation windows.
// Events from the same source exhibiting the same threat type are
// candidates for a single incident.
func (e SecurityEvent) CorrelationKey() string {
	return e.SourceIP + "|" + string(e.ThreatType)
}

// MaxSeverity returns the highest severity across a group of events, or
// SeverityLow for an empty group.
func MaxSeverity(events []SecurityEvent) Severity {
	max := SeverityLow
	for _, e := range events {
		max = max.Max(e.Severity)
	}
	return max
}

// PrimaryEvent returns the event with the highest severity score. Ties are
// broken by first occurrence. The second return is false for an empty group.
func PrimaryEvent(events []SecurityEvent) (SecurityEvent, bool) {
	if len(events) == 0 {
		return SecurityEvent{}, false
	}
	primary := events[0]
	for _, e := range events[1:] {
		if e.Severity.Score() > primary.Severity.Score() {
			primary = e
		}
	}
	return primary, true
}
