package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const pagerdutyEventsURL = "https://events.pagerduty.com/v2/enqueue"

// pagerdutySeverity maps incident severities onto the Events API scale.
var pagerdutySeverity = map[string]string{
	"low":      "info",
	"medium":   "warning",
	"high":     "error",
	"critical": "critical",
}

// PagerDutyChannel triggers PagerDuty alerts through the Events API v2.
type PagerDutyChannel struct {
	routingKey string
	apiURL     string
	client     *http.Client
}

// NewPagerDutyChannel creates a PagerDuty channel for an integration
// routing key.
func NewPagerDutyChannel(routingKey string) *PagerDutyChannel {
	return &PagerDutyChannel{
		routingKey: routingKey,
		apiURL:     pagerdutyEventsURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Name implements Channel.
func (p *PagerDutyChannel) Name() string { return ChannelPagerDuty }

// Send implements Channel.
func (p *PagerDutyChannel) Send(ctx context.Context, payload Payload) error {
	if p.routingKey == "" {
		return fmt.Errorf("pagerduty routing key not configured")
	}

	severity := pagerdutySeverity[payload.Severity]
	if severity == "" {
		severity = "warning"
	}

	event := map[string]interface{}{
		"routing_key":  p.routingKey,
		"event_action": "trigger",
		"dedup_key":    payload.IncidentID,
		"payload": map[string]interface{}{
			"summary":   payload.Title,
			"source":    "reliability-engine",
			"severity":  severity,
			"timestamp": payload.CreatedAt.Format(time.RFC3339),
			"custom_details": map[string]interface{}{
				"incident_id":      payload.IncidentID,
				"category":         payload.Category,
				"escalation_level": payload.EscalationLevel,
				"status":           payload.Status,
				"affected_assets":  payload.AffectedAssets,
				"actions_taken":    payload.ActionsTaken,
			},
		},
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal pagerduty event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build pagerduty request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send pagerduty event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("pagerduty events api returned status %d", resp.StatusCode)
	}
	return nil
}
