// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

package auth

import (
	"context"
	"fmt"
	"html"
	"time"
)

// Message is an outgoing email.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers email. Send must honor ctx cancellation.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// MailerFunc adapts a function to the Mailer interface.
type MailerFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f MailerFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

const (
	subjectVerification  = "Verify your email"
	subjectPasswordReset = "Reset your password"
)

func codeMessage(purpose Purpose, to, code string, ttl time.Duration) Message {
	subject, label := subjectVerification, "verification code"
	if purpose == PurposePasswordReset {
		subject, label = subjectPasswordReset, "reset code"
	}
	expiry := fmt.Sprintf("It expires in %d minutes.", int(ttl.Round(time.Minute)/time.Minute))
	return Message{
		To:      to,
		Subject: subject,
		Text:    fmt.Sprintf("Your %s is: %s\n\n%s", label, code, expiry),
		HTML: fmt.Sprintf("<p>Your %s is: <strong>%s</strong></p><p>%s</p>",
			label, html.EscapeString(code), expiry),
	}
}
