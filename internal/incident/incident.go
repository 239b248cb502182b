// Package incident defines the incident model and its persistence layer.
package incident

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pam-platform/reliability/internal/event"
)

// Category classifies what kind of incident a correlated event group
// represents.
type Category string

const (
	CategorySecurityBreach      Category = "security_breach"
	CategoryDataLeak            Category = "data_leak"
	CategoryDDoSAttack          Category = "ddos_attack"
	CategoryMalware             Category = "malware"
	CategoryPhishing            Category = "phishing"
	CategoryInsiderThreat       Category = "insider_threat"
	CategoryComplianceViolation Category = "compliance_violation"
	CategorySystemCompromise    Category = "system_compromise"
	CategoryAccountTakeover     Category = "account_takeover"
	CategorySuspiciousActivity  Category = "suspicious_activity"
)

// Status tracks the incident lifecycle. Transitions only move forward.
type Status string

const (
	StatusOpen          Status = "open"
	StatusInvestigating Status = "investigating"
	StatusContained     Status = "contained"
	StatusResolved      Status = "resolved"
	StatusClosed        Status = "closed"
)

// statusOrder gives each status its position in the forward-only lifecycle.
var statusOrder = map[Status]int{
	StatusOpen:          0,
	StatusInvestigating: 1,
	StatusContained:     2,
	StatusResolved:      3,
	StatusClosed:        4,
}

// CanTransitionTo reports whether moving to the target status is a legal
// forward progression.
func (s Status) CanTransitionTo(target Status) bool {
	from, okFrom := statusOrder[s]
	to, okTo := statusOrder[target]
	return okFrom && okTo && to > from
}

// EscalationLevel is an ordinal indicating how far up the organization an
// incident notification travels.
type EscalationLevel int

const (
	// Level0 keeps handling fully automated, no human notification.
	Level0 EscalationLevel = iota
	// Level1 notifies the security team.
	Level1
	// Level2 adds management and paging.
	Level2
	// Level3 adds executives.
	Level3
	// Level4 includes external authorities.
	Level4
)

// String implements fmt.Stringer.
func (l EscalationLevel) String() string {
	return fmt.Sprintf("level_%d", int(l))
}

// Clamp bounds a level to the valid [Level0, Level4] range.
func (l EscalationLevel) Clamp() EscalationLevel {
	if l < Level0 {
		return Level0
	}
	if l > Level4 {
		return Level4
	}
	return l
}

// Action records a single response step taken against an incident. Actions
// are immutable once created.
type Action struct {
	ActionID    string                 `json:"action_id"`
	Timestamp   time.Time              `json:"timestamp"`
	ActionType  string                 `json:"action_type"`
	Description string                 `json:"description"`
	Automated   bool                   `json:"automated"`
	Success     bool                   `json:"success"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// NewAction builds an automated action record with a fresh ID.
func NewAction(actionType, description string, success bool, details map[string]interface{}) Action {
	return Action{
		ActionID:    uuid.New().String(),
		Timestamp:   time.Now().UTC(),
		ActionType:  actionType,
		Description: description,
		Automated:   true,
		Success:     success,
		Details:     details,
	}
}

// Incident is a correlated group of security events that warranted a
// coordinated response. SourceEvents and ActionsTaken are append-only.
// Version serializes concurrent updates: stores reject a save whose Version
// does not match the stored record and bump it on every successful save.
type Incident struct {
	IncidentID      string          `json:"incident_id"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Category        Category        `json:"category"`
	Severity        event.Severity  `json:"severity"`
	Status          Status          `json:"status"`
	EscalationLevel EscalationLevel `json:"escalation_level"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	SourceEvents    []string        `json:"source_events"`
	AffectedAssets  []string        `json:"affected_assets,omitempty"`
	AffectedUsers   []string        `json:"affected_users,omitempty"`
	ActionsTaken    []Action        `json:"actions_taken,omitempty"`
	AssignedTo      string          `json:"assigned_to,omitempty"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	Version         int64           `json:"version"`
}

// New builds an open incident from a correlated event group. The group must
// be non-empty; severity is the maximum over the group.
func New(category Category, level EscalationLevel, events []event.SecurityEvent) (*Incident, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("incident requires at least one source event")
	}

	now := time.Now().UTC()
	inc := &Incident{
		IncidentID:      uuid.New().String(),
		Category:        category,
		Severity:        event.MaxSeverity(events),
		Status:          StatusOpen,
		EscalationLevel: level.Clamp(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	assets := make(map[string]struct{})
	users := make(map[string]struct{})
	for _, e := range events {
		inc.SourceEvents = append(inc.SourceEvents, e.EventID)
		if e.Endpoint != "" {
			if _, seen := assets[e.Endpoint]; !seen {
				assets[e.Endpoint] = struct{}{}
				inc.AffectedAssets = append(inc.AffectedAssets, e.Endpoint)
			}
		}
		if e.UserID != "" {
			if _, seen := users[e.UserID]; !seen {
				users[e.UserID] = struct{}{}
				inc.AffectedUsers = append(inc.AffectedUsers, e.UserID)
			}
		}
	}

	primary, _ := event.PrimaryEvent(events)
	inc.Title = fmt.Sprintf("[%s] %s from %s", inc.Severity, primary.ThreatType, primary.SourceIP)
	inc.Description = fmt.Sprintf("%d correlated %s event(s) from %s targeting %s",
		len(events), primary.ThreatType, primary.SourceIP, primary.Endpoint)

	return inc, nil
}

// Escalate raises the escalation level. Levels never go down once raised;
// requests to lower the level are ignored.
func (i *Incident) Escalate(level EscalationLevel) {
	level = level.Clamp()
	if level > i.EscalationLevel {
		i.EscalationLevel = level
		i.UpdatedAt = time.Now().UTC()
	}
}

// AppendActions records response actions against the incident.
func (i *Incident) AppendActions(actions []Action) {
	if len(actions) == 0 {
		return
	}
	i.ActionsTaken = append(i.ActionsTaken, actions...)
	i.UpdatedAt = time.Now().UTC()
}

// SetStatus advances the incident lifecycle. Backward or unknown
// transitions are rejected.
func (i *Incident) SetStatus(status Status) error {
	if !i.Status.CanTransitionTo(status) {
		return fmt.Errorf("illegal status transition %s -> %s", i.Status, status)
	}
	i.Status = status
	now := time.Now().UTC()
	i.UpdatedAt = now
	if status == StatusResolved {
		i.ResolvedAt = &now
	}
	return nil
}
