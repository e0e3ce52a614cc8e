// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

// Package mail delivers account emails.
package mail

import (
	"context"
	"crypto/tls"
	"log/slog"

	"github.com/samber/oops"
	"gopkg.in/gomail.v2"

	"github.com/fusionai/accountd/internal/auth"
)

// DefaultFrom is the sender address used when none is configured.
const DefaultFrom = `"FusionAI" <noreply@fusionai.com>`

// SMTPConfig holds SMTP connection settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// InsecureSkipVerify disables TLS certificate checks. Only for local relays.
	InsecureSkipVerify bool
}

// SMTPSender sends email through an SMTP relay. Each Send dials a new
// connection.
type SMTPSender struct {
	from string
	send func(*gomail.Message) error
}

// SMTPOption configures an SMTPSender.
type SMTPOption func(*SMTPSender)

// WithSender routes messages through s instead of dialing the relay.
func WithSender(s gomail.Sender) SMTPOption {
	return func(m *SMTPSender) {
		m.send = func(msg *gomail.Message) error { return gomail.Send(s, msg) }
	}
}

// NewSMTPSender creates an SMTPSender.
func NewSMTPSender(cfg SMTPConfig, opts ...SMTPOption) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, oops.Code("MAIL_INVALID_CONFIG").Errorf("smtp host is required")
	}
	if cfg.Port <= 0 {
		return nil, oops.Code("MAIL_INVALID_CONFIG").With("port", cfg.Port).Errorf("smtp port must be positive")
	}

	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if cfg.InsecureSkipVerify {
		//nolint:gosec // G402: opt-in for local relays with self-signed certificates
		dialer.TLSConfig = &tls.Config{InsecureSkipVerify: true, ServerName: cfg.Host}
	}

	s := &SMTPSender{
		from: cfg.From,
		send: func(msg *gomail.Message) error { return dialer.DialAndSend(msg) },
	}
	if s.from == "" {
		s.from = DefaultFrom
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SMTPSender) compose(msg auth.Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Text)
	if msg.HTML != "" {
		m.AddAlternative("text/html", msg.HTML)
	}
	return m
}

// Send delivers msg. gomail has no context support, so the delivery runs in
// its own goroutine and Send returns when ctx is done even if the relay has
// not answered.
func (s *SMTPSender) Send(ctx context.Context, msg auth.Message) error {
	m := s.compose(msg)

	done := make(chan error, 1)
	go func() { done <- s.send(m) }()

	select {
	case err := <-done:
		if err != nil {
			return oops.Code("MAIL_SEND_FAILED").
				With("subject", msg.Subject).
				Wrap(err)
		}
		return nil
	case <-ctx.Done():
		return oops.Code("MAIL_SEND_TIMEOUT").
			With("subject", msg.Subject).
			Wrap(ctx.Err())
	}
}

// LogSender writes messages to a logger instead of sending them.
// It lets development setups read codes without an SMTP relay.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender. A nil logger uses slog.Default().
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send logs msg.
func (s *LogSender) Send(ctx context.Context, msg auth.Message) error {
	s.logger.InfoContext(ctx, "email not sent, smtp disabled",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Text,
	)
	return nil
}

var (
	_ auth.Mailer = (*SMTPSender)(nil)
	_ auth.Mailer = (*LogSender)(nil)
)
