package notify

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"

	"github.com/wneessen/go-mail"
)

//go:embed templates/*.html
var templateFS embed.FS

// MailConfig represents the SMTP settings for the mailer.
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Mailer renders the embedded templates and sends them over SMTP.
type Mailer struct {
	from      string
	templates *template.Template
	client    sender
}

// NewMailer constructs a mailer for the SMTP server.
func NewMailer(cfg MailConfig) (*Mailer, error) {
	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return nil, fmt.Errorf("constructing smtp client: %w", err)
	}

	return newMailer(cfg.From, client)
}

func newMailer(from string, client sender) (*Mailer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}

	m := Mailer{
		from:      from,
		templates: tmpl,
		client:    client,
	}

	return &m, nil
}

// Send renders the named template with vars and mails it to recipient.
func (m *Mailer) Send(ctx context.Context, recipient string, subject string, name string, vars map[string]any) error {
	if recipient == "" {
		return errors.New("no recipient")
	}

	tmpl := m.templates.Lookup(name + ".html")
	if tmpl == nil {
		return fmt.Errorf("unknown template %q", name)
	}

	msg, err := m.build(recipient, subject, tmpl, vars)
	if err != nil {
		return err
	}

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("sending %s to %s: %w", name, recipient, err)
	}

	return nil
}

func (m *Mailer) build(recipient string, subject string, tmpl *template.Template, vars map[string]any) (*mail.Msg, error) {
	msg := mail.NewMsg()

	if err := msg.From(m.from); err != nil {
		return nil, fmt.Errorf("setting from address: %w", err)
	}

	if err := msg.To(recipient); err != nil {
		return nil, fmt.Errorf("setting recipient: %w", err)
	}

	msg.Subject(subject)

	var body bytes.Buffer
	if err := tmpl.Execute(&body, vars); err != nil {
		return nil, fmt.Errorf("rendering %s: %w", tmpl.Name(), err)
	}
	msg.SetBodyString(mail.TypeTextHTML, body.String())

	return msg, nil
}
