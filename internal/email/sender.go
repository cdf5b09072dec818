package email

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/edulite/auth-service/internal/user"
)

type Message struct {
	To      string
	Subject string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of delivering them. It is the
// sender used until an SMTP relay is configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "email notification",
		"to", msg.To,
		"subject", msg.Subject,
	)
	return nil
}

// Notifier tells users about security relevant events on their account.
type Notifier struct {
	sender Sender
	logger *slog.Logger
}

func NewNotifier(sender Sender, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{sender: sender, logger: logger}
}

// SessionReplaced warns u that a new login signed out their other device.
// Delivery failures are logged, not returned.
func (n *Notifier) SessionReplaced(ctx context.Context, u *user.User) {
	msg := Message{
		To:      u.Email,
		Subject: "New sign-in to your EduLite account",
		Body: fmt.Sprintf(
			"Hi %s,\n\nYour account was just signed in on another device, so your previous session was ended.\n"+
				"If this wasn't you, change your password.\n",
			u.Name,
		),
	}
	if err := n.sender.Send(ctx, msg); err != nil {
		n.logger.WarnContext(ctx, "send session replaced email", "user_id", u.ID, "error", err)
	}
}
