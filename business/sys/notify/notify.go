// Package notify delivers best-effort notifications: templated email to
// buyers and operators, and the order sheet export.
package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ErrNoMailer is returned when an email is requested but no mailer is
// configured. Nothing was sent.
var ErrNoMailer = errors.New("no mailer configured")

// Row is a single line of the order sheet.
type Row struct {
	Email   string
	Message string
}

// Sink is the set of notifications the core produces.
type Sink interface {
	SendTemplateEmail(ctx context.Context, recipient string, subject string, template string, vars map[string]any) error
	ExportOrdersToSheet(ctx context.Context, rows []Row) error
}

// Notifier implements Sink over an optional mailer and an optional sheet
// exporter. A missing exporter turns the export into a log line. A missing
// mailer is reported as ErrNoMailer so callers do not record a send.
type Notifier struct {
	Log      *zap.SugaredLogger
	Mailer   *Mailer
	Exporter *Exporter
}

// SendTemplateEmail implements the Sink interface.
func (n Notifier) SendTemplateEmail(ctx context.Context, recipient string, subject string, template string, vars map[string]any) error {
	if n.Mailer == nil {
		n.Log.Infow("notify", "status", "email skipped, no mailer", "recipient", recipient, "template", template)
		return ErrNoMailer
	}

	return n.Mailer.Send(ctx, recipient, subject, template, vars)
}

// ExportOrdersToSheet implements the Sink interface.
func (n Notifier) ExportOrdersToSheet(ctx context.Context, rows []Row) error {
	if n.Exporter == nil {
		n.Log.Infow("notify", "status", "export skipped, no exporter", "rows", len(rows))
		return nil
	}

	return n.Exporter.Export(ctx, rows)
}
