// Package notify sends lead notification e-mails.
package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/resendlabs/resend-go"
)

// Contact is the subset of a contact submission included in a notification.
type Contact struct {
	ID      string
	Name    string
	Email   string
	Company string
	Message string
}

// Mailer delivers notifications about new leads.
type Mailer interface {
	NotifyContact(ctx context.Context, c Contact) error
}

// Nop discards every notification.
type Nop struct{}

func (Nop) NotifyContact(context.Context, Contact) error { return nil }

// ResendConfig configures a ResendMailer.
type ResendConfig struct {
	APIKey   string
	From     string
	FromName string
	To       []string
}

// ResendMailer sends notifications through the Resend API.
type ResendMailer struct {
	client   *resend.Client
	from     string
	fromName string
	to       []string
}

func NewResendMailer(cfg ResendConfig) (*ResendMailer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("resend api key is required")
	}
	if len(cfg.To) == 0 {
		return nil, fmt.Errorf("at least one notification recipient is required")
	}
	if cfg.From == "" {
		cfg.From = "noreply@example.com"
	}
	if cfg.FromName == "" {
		cfg.FromName = "Leadkit"
	}
	return &ResendMailer{
		client:   resend.NewClient(cfg.APIKey),
		from:     cfg.From,
		fromName: cfg.FromName,
		to:       cfg.To,
	}, nil
}

func (m *ResendMailer) NotifyContact(_ context.Context, c Contact) error {
	request := &resend.SendEmailRequest{
		From:    fmt.Sprintf("%s <%s>", m.fromName, m.from),
		To:      m.to,
		ReplyTo: c.Email,
		Subject: ContactSubject(c),
		Html:    ContactHTML(c),
		Text:    ContactText(c),
	}
	if _, err := m.client.Emails.Send(request); err != nil {
		return fmt.Errorf("failed to send contact notification: %w", err)
	}
	return nil
}

func ContactSubject(c Contact) string {
	return "New contact request from " + c.Name
}

func ContactText(c Contact) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\nEmail: %s\n", c.Name, c.Email)
	if c.Company != "" {
		fmt.Fprintf(&b, "Company: %s\n", c.Company)
	}
	fmt.Fprintf(&b, "\n%s\n\nReference: %s\n", c.Message, c.ID)
	return b.String()
}

// ContactHTML renders a minimal HTML body. All values are escaped.
func ContactHTML(c Contact) string {
	var b strings.Builder
	b.WriteString("<h2>New contact request</h2><p>")
	fmt.Fprintf(&b, "<strong>Name:</strong> %s<br>", html.EscapeString(c.Name))
	fmt.Fprintf(&b, "<strong>Email:</strong> %s<br>", html.EscapeString(c.Email))
	if c.Company != "" {
		fmt.Fprintf(&b, "<strong>Company:</strong> %s<br>", html.EscapeString(c.Company))
	}
	b.WriteString("</p><p>")
	b.WriteString(strings.ReplaceAll(html.EscapeString(c.Message), "\n", "<br>"))
	fmt.Fprintf(&b, "</p><p><small>Reference: %s</small></p>", html.EscapeString(c.ID))
	return b.String()
}
