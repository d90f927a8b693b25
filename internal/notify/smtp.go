package notify

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
)

// SMTPConfig configures the SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends HTML e-mail through an authenticated SMTP relay.
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer returns a mailer that opens one SMTP connection per message.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) client() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.cfg.Username),
		mail.WithPassword(m.cfg.Password),
	}
	// 465 is implicit TLS; everything else upgrades with STARTTLS.
	if m.cfg.Port == 465 {
		opts = append(opts, mail.WithSSLPort(false))
	} else {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	}
	return mail.NewClient(m.cfg.Host, opts...)
}

func (m *SMTPMailer) SendEmail(ctx context.Context, to, subject, html string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return fmt.Errorf("smtp: invalid from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("smtp: invalid recipient: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, html)

	c, err := m.client()
	if err != nil {
		return fmt.Errorf("smtp: create client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp: send: %w", err)
	}
	return nil
}
