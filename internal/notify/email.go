package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// EmailConfig contains SMTP settings for an email channel.
type EmailConfig struct {
	SMTPHost  string
	SMTPPort  int
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

// EmailChannel sends incident notifications over SMTP. Each escalation
// audience (security, management, executives) gets its own instance with
// its own recipient list.
type EmailChannel struct {
	name       string
	config     EmailConfig
	recipients []string
	tmpl       *template.Template
}

// NewEmailChannel creates an email channel for a fixed recipient list.
func NewEmailChannel(name string, config EmailConfig, recipients []string) *EmailChannel {
	return &EmailChannel{
		name:       name,
		config:     config,
		recipients: recipients,
		tmpl:       template.Must(template.New("incident").Parse(incidentEmailTemplate)),
	}
}

// Name implements Channel.
func (e *EmailChannel) Name() string { return e.name }

// Send implements Channel.
func (e *EmailChannel) Send(ctx context.Context, payload Payload) error {
	if len(e.recipients) == 0 {
		return fmt.Errorf("email channel %s has no recipients", e.name)
	}

	var body bytes.Buffer
	if err := e.tmpl.Execute(&body, payload); err != nil {
		return fmt.Errorf("failed to render email body: %w", err)
	}

	subject := fmt.Sprintf("[%s] Security Incident: %s",
		strings.ToUpper(payload.Severity), payload.Title)

	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s <%s>\r\n", e.config.FromName, e.config.FromEmail))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(e.recipients, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())

	addr := fmt.Sprintf("%s:%d", e.config.SMTPHost, e.config.SMTPPort)
	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.SMTPHost)

	if err := smtp.SendMail(addr, auth, e.config.FromEmail, e.recipients, []byte(msg.String())); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

const incidentEmailTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <h2>Security Incident Notification</h2>
  <p><strong>{{.Title}}</strong></p>
  <p>{{.Description}}</p>
  <table border="0" cellpadding="4">
    <tr><td><strong>Incident ID</strong></td><td>{{.IncidentID}}</td></tr>
    <tr><td><strong>Category</strong></td><td>{{.Category}}</td></tr>
    <tr><td><strong>Severity</strong></td><td>{{.Severity}}</td></tr>
    <tr><td><strong>Escalation</strong></td><td>{{.EscalationLevel}}</td></tr>
    <tr><td><strong>Status</strong></td><td>{{.Status}}</td></tr>
    <tr><td><strong>Created</strong></td><td>{{.CreatedAt.Format "2006-01-02 15:04:05 UTC"}}</td></tr>
    <tr><td><strong>Automated Actions</strong></td><td>{{.ActionsTaken}}</td></tr>
  </table>
  {{if .AffectedAssets}}<p><strong>Affected assets:</strong> {{range .AffectedAssets}}{{.}} {{end}}</p>{{end}}
  {{if .AffectedUsers}}<p><strong>Affected users:</strong> {{range .AffectedUsers}}{{.}} {{end}}</p>{{end}}
</body>
</html>`
