package notifier

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/remindkit/remindkit/store"
)

// MockNotifier is a scripted Notifier for tests. It records every send and
// returns configured failures per recipient.
type MockNotifier struct {
	mu sync.Mutex

	// failures maps recipient -> queue of errors to return; once the queue
	// drains, sends to that recipient succeed.
	failures map[string][]error

	Sent            []MockSend
	EscalationSends []MockEscalationSend
}

// MockSend records one Send call.
type MockSend struct {
	ReminderUID string
	Recipient   string
}

// MockEscalationSend records one SendEscalation call.
type MockEscalationSend struct {
	ReminderUID string
	Targets     []string
	Level       int
}

// NewMockNotifier creates an empty mock notifier.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{failures: map[string][]error{}}
}

// FailWith queues errors to return for sends to the given recipient, in
// order. A nil entry makes that send succeed.
func (m *MockNotifier) FailWith(recipient string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[recipient] = append(m.failures[recipient], errs...)
}

func (m *MockNotifier) nextError(recipient string) error {
	queue := m.failures[recipient]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	m.failures[recipient] = queue[1:]
	return err
}

// Send implements Notifier.
func (m *MockNotifier) Send(_ context.Context, reminder *store.Reminder) (*SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Sent = append(m.Sent, MockSend{ReminderUID: reminder.UID, Recipient: reminder.Recipient})
	if err := m.nextError(reminder.Recipient); err != nil {
		return nil, err
	}
	return &SendResult{MessageRef: uuid.New().String()}, nil
}

// SendEscalation implements Notifier.
func (m *MockNotifier) SendEscalation(_ context.Context, reminder *store.Reminder, targets []string, level int) []TargetResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.EscalationSends = append(m.EscalationSends, MockEscalationSend{
		ReminderUID: reminder.UID,
		Targets:     append([]string(nil), targets...),
		Level:       level,
	})

	results := make([]TargetResult, 0, len(targets))
	for _, target := range targets {
		if err := m.nextError(target); err != nil {
			results = append(results, TargetResult{Target: target, Err: err})
			continue
		}
		results = append(results, TargetResult{Target: target, MessageRef: uuid.New().String()})
	}
	return results
}

// SendCount returns the number of Send calls for the recipient.
func (m *MockNotifier) SendCount(recipient string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.Sent {
		if s.Recipient == recipient {
			n++
		}
	}
	return n
}
