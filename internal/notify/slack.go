package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// severityEmoji decorates Slack messages by incident severity.
var severityEmoji = map[string]string{
	"low":      ":large_blue_circle:",
	"medium":   ":large_yellow_circle:",
	"high":     ":large_orange_circle:",
	"critical": ":red_circle:",
}

// SlackChannel posts incident notifications to a Slack incoming webhook.
type SlackChannel struct {
	name       string
	webhookURL string
}

// NewSlackChannel creates a Slack channel backed by an incoming webhook.
func NewSlackChannel(name, webhookURL string) *SlackChannel {
	return &SlackChannel{name: name, webhookURL: webhookURL}
}

// Name implements Channel.
func (s *SlackChannel) Name() string { return s.name }

// Send implements Channel.
func (s *SlackChannel) Send(ctx context.Context, payload Payload) error {
	if s.webhookURL == "" {
		return fmt.Errorf("slack webhook url not configured")
	}

	emoji := severityEmoji[payload.Severity]
	if emoji == "" {
		emoji = ":white_circle:"
	}

	headerText := slack.NewTextBlockObject(slack.PlainTextType,
		fmt.Sprintf("Security Incident: %s", payload.Category), false, false)
	bodyText := slack.NewTextBlockObject(slack.MarkdownType,
		fmt.Sprintf("%s *%s*\n%s", emoji, payload.Title, payload.Description), false, false)
	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*Severity:*\n%s", payload.Severity), false, false),
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*Escalation:*\n%s", payload.EscalationLevel), false, false),
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*Status:*\n%s", payload.Status), false, false),
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*Actions Taken:*\n%d", payload.ActionsTaken), false, false),
	}

	msg := &slack.WebhookMessage{
		Blocks: &slack.Blocks{
			BlockSet: []slack.Block{
				slack.NewHeaderBlock(headerText),
				slack.NewSectionBlock(bodyText, nil, nil),
				slack.NewSectionBlock(nil, fields, nil),
				slack.NewContextBlock("",
					slack.NewTextBlockObject(slack.MarkdownType,
						fmt.Sprintf("Incident `%s` | created %s",
							payload.IncidentID, payload.CreatedAt.Format("2006-01-02 15:04:05 UTC")),
						false, false),
				),
			},
		},
	}

	if err := slack.PostWebhookContext(ctx, s.webhookURL, msg); err != nil {
		return fmt.Errorf("failed to post slack webhook: %w", err)
	}
	return nil
}
