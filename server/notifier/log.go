package notifier

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// LogSender writes notifications to the structured log. Used in dev/demo
// mode where no real channel is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a log sender.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send logs the notification and always succeeds.
func (s *LogSender) Send(_ context.Context, recipient string, message string, metadata map[string]any) (string, error) {
	ref := uuid.New().String()
	s.logger.Info("notification delivered",
		"recipient", recipient,
		"message_length", len(message),
		"message_ref", ref,
		"metadata", metadata,
	)
	return ref, nil
}

// Name returns the sender name.
func (s *LogSender) Name() string {
	return "log"
}
