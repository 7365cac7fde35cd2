// Package mailer delivers rendered HTML templates over SMTP. It
// implements the webauth.Mailer contract used by the password-reset
// flow.
package mailer

import (
	"bytes"
	"context"
	"io"

	"github.com/goliatone/go-errors"
	mail "gopkg.in/mail.v2"
)

// Renderer is satisfied by the fiber template engines (the server
// shares its django view engine with the mailer so mail templates live
// next to page templates).
type Renderer interface {
	Render(w io.Writer, name string, binding any, layout ...string) error
}

// Config holds SMTP options
type Config interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetMailFrom() string
}

type Mailer struct {
	dialer *mail.Dialer
	from   string
	views  Renderer
}

func New(cfg Config, views Renderer) *Mailer {
	return &Mailer{
		dialer: mail.NewDialer(
			cfg.GetSMTPHost(),
			cfg.GetSMTPPort(),
			cfg.GetSMTPUsername(),
			cfg.GetSMTPPassword(),
		),
		from:  cfg.GetMailFrom(),
		views: views,
	}
}

// Send renders the template and delivers it synchronously. Delivery
// failures are surfaced to the caller; the reset flow treats them as a
// server error rather than silently dropping the only copy of the link.
func (m *Mailer) Send(ctx context.Context, to, subject, template string, data map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var body bytes.Buffer
	if err := m.views.Render(&body, template, data); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to render mail template").
			WithMetadata(map[string]any{
				"template": template,
			})
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body.String())

	if err := m.dialer.DialAndSend(msg); err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "failed to deliver mail").
			WithMetadata(map[string]any{
				"subject": subject,
			})
	}

	return nil
}
