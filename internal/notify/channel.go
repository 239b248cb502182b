// Package notify fans incident notifications out to the channel set for
// the incident's escalation level.
package notify

import (
	"context"
	"time"

	"github.com/pam-platform/reliability/internal/incident"
)

// Channel names used in the routing table.
const (
	ChannelSecuritySlack     = "security_slack"
	ChannelSecurityEmail     = "security_email"
	ChannelManagementEmail   = "management_email"
	ChannelExecutiveEmail    = "executive_email"
	ChannelPagerDuty         = "pagerduty"
	ChannelExternalReporting = "external_reporting"
)

// Payload is the channel-independent notification content. Channel senders
// format it for their own wire format.
type Payload struct {
	NotificationType string    `json:"notification_type"`
	IncidentID       string    `json:"incident_id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	Severity         string    `json:"severity"`
	Category         string    `json:"category"`
	EscalationLevel  string    `json:"escalation_level"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	AffectedAssets   []string  `json:"affected_assets,omitempty"`
	AffectedUsers    []string  `json:"affected_users,omitempty"`
	ActionsTaken     int       `json:"actions_taken"`
}

// NewPayload builds a payload from an incident.
func NewPayload(inc *incident.Incident, notificationType string) Payload {
	return Payload{
		NotificationType: notificationType,
		IncidentID:       inc.IncidentID,
		Title:            inc.Title,
		Description:      inc.Description,
		Severity:         string(inc.Severity),
		Category:         string(inc.Category),
		EscalationLevel:  inc.EscalationLevel.String(),
		Status:           string(inc.Status),
		CreatedAt:        inc.CreatedAt,
		UpdatedAt:        inc.UpdatedAt,
		AffectedAssets:   inc.AffectedAssets,
		AffectedUsers:    inc.AffectedUsers,
		ActionsTaken:     len(inc.ActionsTaken),
	}
}

// Channel delivers notification payloads to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, payload Payload) error
}

// Routing maps an escalation level to the channels it notifies.
type Routing map[incident.EscalationLevel][]string

// DefaultRouting returns the built-in escalation routing. Level 0 stays
// automated with no human notification; level 4 reaches every channel plus
// external authorities.
func DefaultRouting() Routing {
	return Routing{
		incident.Level0: {},
		incident.Level1: {ChannelSecuritySlack, ChannelSecurityEmail},
		incident.Level2: {ChannelManagementEmail, ChannelSecuritySlack, ChannelPagerDuty},
		incident.Level3: {ChannelExecutiveEmail, ChannelManagementEmail, ChannelSecuritySlack},
		incident.Level4: {
			ChannelSecuritySlack, ChannelSecurityEmail, ChannelManagementEmail,
			ChannelExecutiveEmail, ChannelPagerDuty, ChannelExternalReporting,
		},
	}
}
