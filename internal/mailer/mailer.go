// Package mailer delivers verification codes by email.
//
// Two senders implement Mailer:
//
//	SMTPMailer → production, talks to a real SMTP relay
//	LogMailer  → development, writes the rendered message to the log
//
// Callers treat Send as an opaque collaborator call that can fail or stall.
// A delivery failure is reported as a plain wrapped error and never as a
// domain error.
package mailer

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/foxochat/chat-core/internal/model"
)

// Message is everything a verification email needs.
//
// Token is optional. When set, the rendered email carries an auto-login link
// embedding the raw token (no "Bearer " prefix).
type Message struct {
	To        string
	UserID    int64
	Purpose   model.CodePurpose
	Username  string
	Code      string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Token     string
}

// Mailer sends a verification email.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Rendered is a message ready for the wire.
type Rendered struct {
	Subject string
	Body    string
}

// Render builds the subject and plain-text body for msg. publicURL is the
// base of the auto-login link; without it (or without a token) the link is
// omitted.
func Render(msg Message, publicURL string) Rendered {
	var subject, intro string
	switch msg.Purpose {
	case model.PurposePasswordReset:
		subject = "Reset your password"
		intro = "Someone requested a password reset for your account. Use this code to choose a new password:"
	default:
		subject = "Confirm your email"
		intro = "Welcome! Use this code to confirm your email address:"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", msg.Username)
	fmt.Fprintf(&b, "%s\n\n", intro)
	fmt.Fprintf(&b, "    %s\n\n", msg.Code)
	fmt.Fprintf(&b, "The code expires at %s.\n", msg.ExpiresAt.UTC().Format("2006-01-02 15:04 MST"))

	if link := autoLoginLink(msg, publicURL); link != "" {
		fmt.Fprintf(&b, "\nOr open this link to confirm without typing the code:\n%s\n", link)
	}

	b.WriteString("\nIf you did not request this, you can ignore this email.\n")

	return Rendered{Subject: subject, Body: b.String()}
}

func autoLoginLink(msg Message, publicURL string) string {
	if msg.Token == "" || publicURL == "" || msg.Purpose != model.PurposeEmailVerify {
		return ""
	}
	q := url.Values{}
	q.Set("code", msg.Code)
	q.Set("token", msg.Token)
	return strings.TrimRight(publicURL, "/") + "/verify?" + q.Encode()
}
