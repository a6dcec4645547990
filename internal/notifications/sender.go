package notifications

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Message is the unit handed to an outbound transport.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender is the outbound transport boundary. Any non-nil error is a
// delivery failure; the processor does not distinguish provider error
// shapes beyond retryability.
type Sender interface {
	Send(ctx context.Context, msg Message) (messageID string, err error)
}

// LogSender logs messages instead of sending them, for development.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a log-only sender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the message and reports success.
func (s *LogSender) Send(_ context.Context, msg Message) (string, error) {
	s.logger.Info("delivery (development mode)",
		"to", msg.To,
		"subject", msg.Subject,
		"text_len", len(msg.Text),
	)
	return uuid.NewString(), nil
}
