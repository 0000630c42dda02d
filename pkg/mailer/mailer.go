package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"
)

// Sender delivers a single plain-text email.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Config holds SMTP settings.
type Config struct {
	FromAddress string
	FromName    string
	Host        string
	Port        int
	Username    string
	Password    string
}

// New returns an SMTP sender when a host is configured, otherwise a
// log-only sender so environments without SMTP still drain the queue.
func New(cfg Config, logger *zap.Logger) Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Host == "" {
		logger.Warn("SMTP_HOST not set, emails will be logged instead of sent")
		return &Disabled{logger: logger}
	}
	return &SMTP{cfg: cfg, logger: logger}
}

// SMTP sends mail through a plain SMTP relay.
type SMTP struct {
	cfg    Config
	logger *zap.Logger
}

// Send delivers one message. Bodies are plain text.
func (m *SMTP) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	from := m.cfg.FromAddress
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s <%s>\r\n", m.cfg.FromName, from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	if err := smtp.SendMail(addr, auth, from, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	m.logger.Debug("email sent", zap.String("to", to), zap.String("subject", subject))
	return nil
}

// Disabled logs the message instead of sending it.
type Disabled struct {
	logger *zap.Logger
}

// Send records the message in the log and reports success.
func (m *Disabled) Send(_ context.Context, to, subject, _ string) error {
	m.logger.Info("email delivery disabled", zap.String("to", to), zap.String("subject", subject))
	return nil
}
