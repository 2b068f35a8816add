package mailer

import (
	"context"
	"log/slog"
)

// LogMailer is the development sender: it renders the message and writes it
// to the log instead of delivering it. It is the only place a code value is
// ever logged, so it must not be wired outside development mode.
type LogMailer struct {
	publicURL string
	logger    *slog.Logger
}

var _ Mailer = (*LogMailer)(nil)

func NewLogMailer(publicURL string, logger *slog.Logger) *LogMailer {
	return &LogMailer{publicURL: publicURL, logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	r := Render(msg, m.publicURL)
	m.logger.InfoContext(ctx, "email (not sent, development mode)",
		slog.String("to", msg.To),
		slog.Int64("userID", msg.UserID),
		slog.String("purpose", string(msg.Purpose)),
		slog.String("subject", r.Subject),
		slog.String("body", r.Body),
	)
	return nil
}
