package notifier

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	serviceerrors "github.com/remindkit/remindkit/server/internal/errors"
	"github.com/remindkit/remindkit/store"
)

// Channel identifies a delivery channel.
type Channel string

const (
	ChannelWebhook Channel = "webhook"
	ChannelLog     Channel = "log"
)

// ChannelSender delivers a single message over one channel.
type ChannelSender interface {
	Send(ctx context.Context, recipient string, message string, metadata map[string]any) (string, error)
	Name() string
}

// Dispatcher routes notifications to registered channel senders. It
// implements Notifier.
//
// Recipient identifiers may carry a channel prefix ("webhook:ops-room");
// unprefixed recipients go to the default channel.
type Dispatcher struct {
	mu             sync.RWMutex
	channels       map[Channel]ChannelSender
	defaultChannel Channel
	logger         *slog.Logger
}

// NewDispatcher creates a dispatcher with the given default channel.
func NewDispatcher(defaultChannel Channel, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		channels:       make(map[Channel]ChannelSender),
		defaultChannel: defaultChannel,
		logger:         logger,
	}
}

// Register registers a channel sender.
func (d *Dispatcher) Register(channel Channel, sender ChannelSender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[channel] = sender
	d.logger.Info("registered notification channel", "channel", channel, "sender", sender.Name())
}

func (d *Dispatcher) resolve(recipient string) (ChannelSender, string, error) {
	channel := d.defaultChannel
	if before, after, found := strings.Cut(recipient, ":"); found && before != "" {
		channel = Channel(before)
		recipient = after
	}

	d.mu.RLock()
	sender, ok := d.channels[channel]
	d.mu.RUnlock()
	if !ok {
		// An unregistered channel cannot succeed on retry.
		return nil, "", serviceerrors.PermanentDelivery("channel not registered: "+string(channel), nil)
	}
	return sender, recipient, nil
}

// Send implements Notifier.
func (d *Dispatcher) Send(ctx context.Context, reminder *store.Reminder) (*SendResult, error) {
	sender, recipient, err := d.resolve(reminder.Recipient)
	if err != nil {
		return nil, err
	}

	ref, err := sender.Send(ctx, recipient, reminder.Content, map[string]any{
		"reminder_uid": reminder.UID,
	})
	if err != nil {
		return nil, err
	}
	return &SendResult{MessageRef: ref}, nil
}

// SendEscalation implements Notifier.
func (d *Dispatcher) SendEscalation(ctx context.Context, reminder *store.Reminder, targets []string, level int) []TargetResult {
	results := make([]TargetResult, 0, len(targets))
	for _, target := range targets {
		sender, recipient, err := d.resolve(target)
		if err != nil {
			results = append(results, TargetResult{Target: target, Err: err})
			continue
		}

		ref, err := sender.Send(ctx, recipient, reminder.Content, map[string]any{
			"reminder_uid":     reminder.UID,
			"escalation_level": level,
		})
		results = append(results, TargetResult{Target: target, MessageRef: ref, Err: err})
	}
	return results
}
