package store

import (
	"context"
)

// ActivityType identifies an emitted interaction event. The activity log is
// the audit/history surface consumed by dashboards; this service only
// appends to it.
type ActivityType string

const (
	ActivityReminderCreated      ActivityType = "reminder.created"
	ActivityReminderDelivered    ActivityType = "reminder.delivered"
	ActivityReminderAcknowledged ActivityType = "reminder.acknowledged"
	ActivityReminderSnoozed      ActivityType = "reminder.snoozed"
	ActivityReminderCompleted    ActivityType = "reminder.completed"
	ActivityReminderCancelled    ActivityType = "reminder.cancelled"
	ActivityReminderEscalated    ActivityType = "reminder.escalated"
	ActivityReminderEdited       ActivityType = "reminder.edited"
	ActivityReminderPaused       ActivityType = "reminder.paused"
	ActivityReminderResumed      ActivityType = "reminder.resumed"
)

// Activity is one audit log entry.
type Activity struct {
	ID          int32
	Type        ActivityType
	ReminderUID string
	// ActorID is the user or component that caused the event.
	ActorID string
	// Payload is a JSON blob with action metadata.
	Payload   string
	CreatedTs int64
}

// FindActivity is the find condition for activities.
type FindActivity struct {
	Type        *ActivityType
	ReminderUID *string
	ActorID     *string

	Limit  *int
	Offset *int
}

// CreateActivity appends an activity record.
func (s *Store) CreateActivity(ctx context.Context, create *Activity) (*Activity, error) {
	return s.driver.CreateActivity(ctx, create)
}

// ListActivities lists activity records with filter.
func (s *Store) ListActivities(ctx context.Context, find *FindActivity) ([]*Activity, error) {
	return s.driver.ListActivities(ctx, find)
}
