// Package mailer delivers the run summary to the fleet office by SMTP.
// Delivery is best-effort: the pipeline logs a failure and carries on,
// since the report also lands on disk.
package mailer

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
)

// Config holds the SMTP settings. An empty Host or empty recipient list
// disables mailing without being an error.
type Config struct {
	Host       string
	Port       int
	From       string
	Recipients []string
}

// Enabled reports whether the configuration is complete enough to send.
func (c Config) Enabled() bool {
	return c.Host != "" && c.From != "" && len(c.Recipients) > 0
}

// Mailer sends run summaries.
type Mailer struct {
	cfg Config
}

func New(cfg Config) *Mailer {
	if cfg.Port == 0 {
		cfg.Port = 25
	}
	return &Mailer{cfg: cfg}
}

// SendSummary mails the rendered HTML report. The relay is an internal
// host, so TLS is opportunistic: used when offered, skipped otherwise.
func (m *Mailer) SendSummary(ctx context.Context, subject, htmlBody string) error {
	if !m.cfg.Enabled() {
		return fmt.Errorf("mailer not configured")
	}

	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := msg.To(m.cfg.Recipients...); err != nil {
		return fmt.Errorf("set recipients: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, htmlBody)

	client, err := mail.NewClient(m.cfg.Host,
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send summary mail: %w", err)
	}
	return nil
}
