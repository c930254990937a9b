// Package notifier delivers reminder notifications to recipients.
//
// Errors returned by Send are classified through the service error taxonomy:
// transient failures are retryable within a scheduler cycle, permanent ones
// are recorded without retry.
package notifier

import (
	"context"

	"github.com/remindkit/remindkit/store"
)

// SendResult reports a successful delivery.
type SendResult struct {
	// MessageRef is the channel-specific message identifier, when the
	// channel provides one.
	MessageRef string
}

// TargetResult is the per-target outcome of an escalation send.
type TargetResult struct {
	Target     string
	MessageRef string
	Err        error
}

// Notifier delivers reminder content to a recipient.
type Notifier interface {
	// Send delivers the reminder to its recipient. A nil error means
	// delivered; otherwise the error carries a transient or permanent
	// delivery code.
	Send(ctx context.Context, reminder *store.Reminder) (*SendResult, error)

	// SendEscalation delivers an escalation notification for the reminder
	// to every target at the given level. It always returns one result per
	// target; partial failure does not abort the remaining targets.
	SendEscalation(ctx context.Context, reminder *store.Reminder, targets []string, level int) []TargetResult
}
