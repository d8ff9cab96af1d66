// Package mailer sends the transactional email the account flows depend
// on: verification links and password reset links.
package mailer

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/kindredhq/kindred/pkg/config"
	"github.com/kindredhq/kindred/pkg/observability"
)

// Mailer delivers a single message to one recipient.
type Mailer interface {
	Send(to, subject, body string) error
}

// SMTPMailer delivers mail through a plain SMTP relay.
type SMTPMailer struct {
	addr string
	auth smtp.Auth
	from string
}

// NewSMTP builds a mailer for the configured relay. Auth is only used
// when a username is set.
func NewSMTP(cfg config.MailConfig) *SMTPMailer {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.SMTPHost)
	}
	return &SMTPMailer{
		addr: fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort),
		auth: auth,
		from: cfg.From,
	}
}

func (m *SMTPMailer) Send(to, subject, body string) error {
	msg := strings.Join([]string{
		"From: " + m.from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")

	if err := smtp.SendMail(m.addr, m.auth, m.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", to, err)
	}
	return nil
}

// LogMailer records outgoing mail in the structured log instead of
// delivering it. Used in development and when mail is disabled; the
// account flows still complete and the link is readable from the log.
type LogMailer struct {
	logger *observability.Logger
}

func NewLogMailer(logger *observability.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(to, subject, body string) error {
	m.logger.WithFields(map[string]interface{}{
		"to":      to,
		"subject": subject,
		"body":    body,
	}).Info("mail delivery skipped, logging instead")
	return nil
}
