package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// ReminderStatus is the lifecycle status of a reminder.
type ReminderStatus string

const (
	ReminderStatusDraft     ReminderStatus = "draft"
	ReminderStatusActive    ReminderStatus = "active"
	ReminderStatusPaused    ReminderStatus = "paused"
	ReminderStatusCompleted ReminderStatus = "completed"
	ReminderStatusExpired   ReminderStatus = "expired"
	ReminderStatusFailed    ReminderStatus = "failed"
	ReminderStatusCancelled ReminderStatus = "cancelled"
)

// ScheduleType is the recurrence type of a schedule spec.
type ScheduleType string

const (
	ScheduleOnce     ScheduleType = "once"
	ScheduleDaily    ScheduleType = "daily"
	ScheduleWeekly   ScheduleType = "weekly"
	ScheduleMonthly  ScheduleType = "monthly"
	ScheduleYearly   ScheduleType = "yearly"
	ScheduleInterval ScheduleType = "interval"
	ScheduleCustom   ScheduleType = "custom"
)

// ScheduleSpec describes how and when a reminder repeats.
// It is persisted as a JSON column on the reminder row.
type ScheduleSpec struct {
	Type ScheduleType `json:"type"`
	// TimeOfDay is the wall-clock firing time in "15:04" format.
	TimeOfDay string `json:"timeOfDay,omitempty"`
	// Weekdays is the weekday set for weekly schedules (time.Weekday values).
	Weekdays []time.Weekday `json:"weekdays,omitempty"`
	// DayOfMonth is the target day for monthly schedules (1-31).
	DayOfMonth int `json:"dayOfMonth,omitempty"`
	// IntervalDays is the day count for interval schedules.
	IntervalDays int `json:"intervalDays,omitempty"`
	// StartDate/EndDate bound the recurrence, "2006-01-02" in the
	// reminder's timezone.
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
	// MaxOccurrences caps the total number of deliveries (0 = unbounded).
	MaxOccurrences int `json:"maxOccurrences,omitempty"`
	// ExcludedDates are skipped occurrence dates, "2006-01-02".
	ExcludedDates []string `json:"excludedDates,omitempty"`
	// CronExpression is carried for custom schedules but never evaluated.
	CronExpression string `json:"cronExpression,omitempty"`
}

// EscalationLevel is one step of the escalation chain.
type EscalationLevel struct {
	Level                int      `json:"level"`
	DelayMinutes         int      `json:"delayMinutes"`
	Targets              []string `json:"targets"`
	RequiresConfirmation bool     `json:"requiresConfirmation,omitempty"`
}

// EscalationPolicy is the escalation configuration and state embedded in a
// reminder. CurrentLevel and Halted are chain state for the reminder's most
// recent non-escalation delivery; the scheduler resets them when a new
// delivery starts a new chain.
type EscalationPolicy struct {
	Enabled              bool              `json:"enabled"`
	Levels               []EscalationLevel `json:"levels,omitempty"`
	MaxLevel             int               `json:"maxLevel"`
	StopOnAcknowledgment bool              `json:"stopOnAcknowledgment"`
	CurrentLevel         int               `json:"currentLevel"`
	LastEscalatedTs      *int64            `json:"lastEscalatedTs,omitempty"`
	Halted               bool              `json:"halted,omitempty"`
}

// NextLevel returns the smallest configured level greater than CurrentLevel,
// or nil when the chain is exhausted.
func (p *EscalationPolicy) NextLevel() *EscalationLevel {
	var next *EscalationLevel
	for i := range p.Levels {
		lv := &p.Levels[i]
		if lv.Level <= p.CurrentLevel || lv.Level > p.MaxLevel {
			continue
		}
		if next == nil || lv.Level < next.Level {
			next = lv
		}
	}
	return next
}

// Reminder is the object representing a scheduled reminder.
type Reminder struct {
	ID         int32
	UID        string
	CreatorID  string
	Recipient  string
	Content    string
	Timezone   string
	Status     ReminderStatus
	Schedule   ScheduleSpec
	Escalation *EscalationPolicy

	// NextDueTs is set only by the recurrence calculator and is nil
	// whenever Status != active.
	NextDueTs       *int64
	LastDeliveredTs *int64
	OccurrenceCount int
	// SnoozedUntilTs is a one-shot deferred fire time that overrides the
	// recurrence for a single delivery.
	SnoozedUntilTs *int64
	// FailStreak counts consecutive permanent delivery failures.
	FailStreak int

	CreatedTs int64
	UpdatedTs int64
}

// NextDueTime returns NextDueTs as time.Time, or the zero value when unset.
func (r *Reminder) NextDueTime() time.Time {
	if r.NextDueTs == nil {
		return time.Time{}
	}
	return time.Unix(*r.NextDueTs, 0)
}

// EscalationEnabled reports whether the reminder has an enabled escalation
// policy with at least one level.
func (r *Reminder) EscalationEnabled() bool {
	return r.Escalation != nil && r.Escalation.Enabled && len(r.Escalation.Levels) > 0
}

// FindReminder is the find condition for reminders.
type FindReminder struct {
	ID        *int32
	UID       *string
	CreatorID *string
	Recipient *string
	Status    *ReminderStatus

	// NextDueBefore selects reminders with next_due_at <= the given ts.
	NextDueBefore *int64

	// Pagination
	Limit  *int
	Offset *int
}

// UpdateReminder is the update request for a reminder. Nil fields are left
// untouched; Clear* flags null the corresponding column.
type UpdateReminder struct {
	ID int32

	Recipient  *string
	Content    *string
	Timezone   *string
	Status     *ReminderStatus
	Schedule   *ScheduleSpec
	Escalation *EscalationPolicy

	NextDueTs    *int64
	ClearNextDue bool

	LastDeliveredTs *int64
	OccurrenceCount *int

	SnoozedUntilTs *int64
	ClearSnooze    bool

	FailStreak *int
}

// DeleteReminder is the delete request for a reminder.
type DeleteReminder struct {
	ID int32
}

// CreateReminder creates a new reminder.
func (s *Store) CreateReminder(ctx context.Context, create *Reminder) (*Reminder, error) {
	return s.driver.CreateReminder(ctx, create)
}

// ListReminders lists reminders with filter.
func (s *Store) ListReminders(ctx context.Context, find *FindReminder) ([]*Reminder, error) {
	return s.driver.ListReminders(ctx, find)
}

// GetReminder gets a single reminder, or nil when absent. Lookups by UID go
// through the reminder cache.
func (s *Store) GetReminder(ctx context.Context, find *FindReminder) (*Reminder, error) {
	if find.UID != nil && find.ID == nil {
		if cached, ok := s.reminderCache.Get(ctx, *find.UID); ok {
			if reminder, ok := cached.(*Reminder); ok {
				return reminder, nil
			}
		}
	}

	list, err := s.driver.ListReminders(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}

	reminder := list[0]
	s.reminderCache.Set(ctx, reminder.UID, reminder)
	return reminder, nil
}

// UpdateReminder updates a reminder and invalidates its cache entry.
func (s *Store) UpdateReminder(ctx context.Context, update *UpdateReminder) (*Reminder, error) {
	reminder, err := s.driver.UpdateReminder(ctx, update)
	if err != nil {
		return nil, err
	}
	s.reminderCache.Delete(ctx, reminder.UID)
	s.reminderCache.Set(ctx, reminder.UID, reminder)
	return reminder, nil
}

// DeleteReminder deletes a reminder.
func (s *Store) DeleteReminder(ctx context.Context, delete *DeleteReminder) error {
	reminder, err := s.GetReminder(ctx, &FindReminder{ID: &delete.ID})
	if err != nil {
		return err
	}
	if err := s.driver.DeleteReminder(ctx, delete); err != nil {
		return err
	}
	if reminder != nil {
		s.reminderCache.Delete(ctx, reminder.UID)
	}
	return nil
}

// MarshalScheduleSpec encodes a schedule spec for storage.
func MarshalScheduleSpec(spec *ScheduleSpec) (string, error) {
	raw, err := json.Marshal(spec)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal schedule spec")
	}
	return string(raw), nil
}

// UnmarshalScheduleSpec decodes a schedule spec from storage.
func UnmarshalScheduleSpec(raw string) (ScheduleSpec, error) {
	var spec ScheduleSpec
	if raw == "" {
		return spec, nil
	}
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return spec, errors.Wrap(err, "failed to unmarshal schedule spec")
	}
	return spec, nil
}

// MarshalEscalationPolicy encodes an escalation policy for storage.
// A nil policy encodes to the empty string.
func MarshalEscalationPolicy(policy *EscalationPolicy) (string, error) {
	if policy == nil {
		return "", nil
	}
	raw, err := json.Marshal(policy)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal escalation policy")
	}
	return string(raw), nil
}

// UnmarshalEscalationPolicy decodes an escalation policy from storage.
func UnmarshalEscalationPolicy(raw string) (*EscalationPolicy, error) {
	if raw == "" {
		return nil, nil
	}
	policy := &EscalationPolicy{}
	if err := json.Unmarshal([]byte(raw), policy); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal escalation policy")
	}
	return policy, nil
}
