package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookChannel posts the raw notification payload to an HTTP endpoint.
// Used for external incident reporting at the highest escalation level.
type WebhookChannel struct {
	name      string
	url       string
	authToken string
	client    *http.Client
}

// NewWebhookChannel creates a generic JSON webhook channel. The auth token
// is optional and sent as a bearer token when set.
func NewWebhookChannel(name, url, authToken string) *WebhookChannel {
	return &WebhookChannel{
		name:      name,
		url:       url,
		authToken: authToken,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Name implements Channel.
func (w *WebhookChannel) Name() string { return w.name }

// Send implements Channel.
func (w *WebhookChannel) Send(ctx context.Context, payload Payload) error {
	if w.url == "" {
		return fmt.Errorf("webhook url not configured for channel %s", w.name)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+w.authToken)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
