// Package reminder implements reminder lifecycle management: creation with
// schedule validation, edits, pause/resume and cancellation. The delivery
// scheduler and escalation engine operate on the records this service
// maintains.
package reminder

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/remindkit/remindkit/internal/profile"
	serviceerrors "github.com/remindkit/remindkit/server/internal/errors"
	"github.com/remindkit/remindkit/server/scheduler/recurrence"
	"github.com/remindkit/remindkit/server/timezone"
	"github.com/remindkit/remindkit/store"
)

// Service manages reminder records.
type Service struct {
	store   *store.Store
	profile *profile.Profile
	logger  *slog.Logger

	now func() time.Time
}

// NewService creates a reminder service.
func NewService(st *store.Store, p *profile.Profile, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   st,
		profile: p,
		logger:  logger,
		now:     time.Now,
	}
}

// CreateRequest is the input to Create.
type CreateRequest struct {
	CreatorID  string
	Recipient  string
	Content    string
	Timezone   string
	Schedule   store.ScheduleSpec
	Escalation *store.EscalationPolicy
	// Draft creates the reminder without activating its schedule.
	Draft bool
}

// Create validates the request, computes the initial due instant and
// persists the reminder.
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*store.Reminder, error) {
	if req.CreatorID == "" {
		return nil, serviceerrors.Validation("creatorID is required")
	}
	if req.Recipient == "" {
		return nil, serviceerrors.Validation("recipient is required")
	}
	if req.Content == "" {
		return nil, serviceerrors.Validation("content is required")
	}
	if err := recurrence.ValidateSpec(&req.Schedule); err != nil {
		return nil, err
	}
	if err := validateEscalation(req.Escalation); err != nil {
		return nil, err
	}

	tz := req.Timezone
	if tz == "" {
		tz = s.profile.DefaultTimezone
	}
	loc, err := timezone.ParseTimezone(tz)
	if err != nil {
		return nil, serviceerrors.Validation("invalid timezone: " + req.Timezone)
	}

	reminder := &store.Reminder{
		UID:        shortuuid.New(),
		CreatorID:  req.CreatorID,
		Recipient:  req.Recipient,
		Content:    req.Content,
		Timezone:   tz,
		Status:     store.ReminderStatusActive,
		Schedule:   req.Schedule,
		Escalation: req.Escalation,
	}
	if req.Draft {
		reminder.Status = store.ReminderStatusDraft
	} else {
		if next, ok := recurrence.NextDue(req.Schedule, loc, s.now(), nil, 0); ok {
			nextTs := next.Unix()
			reminder.NextDueTs = &nextTs
		} else {
			// A schedule that never fires (custom, or an exhausted window)
			// is accepted but completes immediately.
			reminder.Status = store.ReminderStatusCompleted
		}
	}

	created, err := s.store.CreateReminder(ctx, reminder)
	if err != nil {
		return nil, serviceerrors.Storage("failed to create reminder", err)
	}

	s.emitActivity(ctx, created.UID, store.ActivityReminderCreated, req.CreatorID, map[string]any{
		"schedule_type": req.Schedule.Type,
	})
	return created, nil
}

// UpdateRequest carries the editable reminder fields. Nil fields are left
// untouched.
type UpdateRequest struct {
	ActorID string

	Recipient  *string
	Content    *string
	Timezone   *string
	Schedule   *store.ScheduleSpec
	Escalation *store.EscalationPolicy
}

// Update edits a reminder. Schedule or timezone changes recompute the due
// instant from now.
func (s *Service) Update(ctx context.Context, uid string, req *UpdateRequest) (*store.Reminder, error) {
	reminder, err := s.get(ctx, uid)
	if err != nil {
		return nil, err
	}
	if req.ActorID != reminder.CreatorID {
		return nil, serviceerrors.Unauthorized("only the creator may edit a reminder")
	}

	update := &store.UpdateReminder{
		ID:        reminder.ID,
		Recipient: req.Recipient,
		Content:   req.Content,
	}

	schedule := reminder.Schedule
	if req.Schedule != nil {
		if err := recurrence.ValidateSpec(req.Schedule); err != nil {
			return nil, err
		}
		schedule = *req.Schedule
		update.Schedule = req.Schedule
	}
	if req.Escalation != nil {
		if err := validateEscalation(req.Escalation); err != nil {
			return nil, err
		}
		update.Escalation = req.Escalation
	}

	tz := reminder.Timezone
	if req.Timezone != nil {
		if !timezone.IsValidTimezone(*req.Timezone) {
			return nil, serviceerrors.Validation("invalid timezone: " + *req.Timezone)
		}
		tz = *req.Timezone
		update.Timezone = req.Timezone
	}

	if reminder.Status == store.ReminderStatusActive && (req.Schedule != nil || req.Timezone != nil) {
		loc, _ := timezone.ParseTimezone(tz)
		if next, ok := recurrence.NextDue(schedule, loc, s.now(), nil, reminder.OccurrenceCount); ok {
			nextTs := next.Unix()
			update.NextDueTs = &nextTs
			update.ClearSnooze = true
		} else {
			status := store.ReminderStatusCompleted
			update.Status = &status
			update.ClearNextDue = true
			update.ClearSnooze = true
		}
	}

	updated, err := s.store.UpdateReminder(ctx, update)
	if err != nil {
		return nil, serviceerrors.Storage("failed to update reminder", err)
	}

	s.emitActivity(ctx, updated.UID, store.ActivityReminderEdited, req.ActorID, nil)
	return updated, nil
}

// Pause suspends an active reminder. A paused reminder carries no due
// instant, so the scheduler never picks it up.
func (s *Service) Pause(ctx context.Context, uid, actorID string) (*store.Reminder, error) {
	reminder, err := s.authorize(ctx, uid, actorID)
	if err != nil {
		return nil, err
	}
	if reminder.Status != store.ReminderStatusActive {
		return nil, serviceerrors.Validation("only active reminders can be paused")
	}

	status := store.ReminderStatusPaused
	updated, err := s.store.UpdateReminder(ctx, &store.UpdateReminder{
		ID:           reminder.ID,
		Status:       &status,
		ClearNextDue: true,
		ClearSnooze:  true,
	})
	if err != nil {
		return nil, serviceerrors.Storage("failed to pause reminder", err)
	}

	s.emitActivity(ctx, uid, store.ActivityReminderPaused, actorID, nil)
	return updated, nil
}

// Resume reactivates a paused reminder and recomputes its due instant from
// now. A schedule exhausted while paused completes instead.
func (s *Service) Resume(ctx context.Context, uid, actorID string) (*store.Reminder, error) {
	reminder, err := s.authorize(ctx, uid, actorID)
	if err != nil {
		return nil, err
	}
	if reminder.Status != store.ReminderStatusPaused {
		return nil, serviceerrors.Validation("only paused reminders can be resumed")
	}

	update := &store.UpdateReminder{ID: reminder.ID}
	loc, _ := timezone.ParseTimezone(reminder.Timezone)
	if next, ok := recurrence.NextDue(reminder.Schedule, loc, s.now(), nil, reminder.OccurrenceCount); ok {
		status := store.ReminderStatusActive
		nextTs := next.Unix()
		update.Status = &status
		update.NextDueTs = &nextTs
	} else {
		status := store.ReminderStatusCompleted
		update.Status = &status
	}

	updated, err := s.store.UpdateReminder(ctx, update)
	if err != nil {
		return nil, serviceerrors.Storage("failed to resume reminder", err)
	}

	s.emitActivity(ctx, uid, store.ActivityReminderResumed, actorID, nil)
	return updated, nil
}

// Cancel terminates a reminder regardless of its schedule.
func (s *Service) Cancel(ctx context.Context, uid, actorID string) (*store.Reminder, error) {
	reminder, err := s.authorize(ctx, uid, actorID)
	if err != nil {
		return nil, err
	}
	switch reminder.Status {
	case store.ReminderStatusCompleted, store.ReminderStatusCancelled:
		return nil, serviceerrors.Validation("reminder is already finished")
	}

	status := store.ReminderStatusCancelled
	updated, err := s.store.UpdateReminder(ctx, &store.UpdateReminder{
		ID:           reminder.ID,
		Status:       &status,
		ClearNextDue: true,
		ClearSnooze:  true,
	})
	if err != nil {
		return nil, serviceerrors.Storage("failed to cancel reminder", err)
	}

	s.emitActivity(ctx, uid, store.ActivityReminderCancelled, actorID, nil)
	return updated, nil
}

// Get returns a reminder by UID.
func (s *Service) Get(ctx context.Context, uid string) (*store.Reminder, error) {
	return s.get(ctx, uid)
}

// ListRequest filters List.
type ListRequest struct {
	CreatorID *string
	Recipient *string
	Status    *store.ReminderStatus
	Limit     *int
	Offset    *int
}

// List returns reminders matching the filter.
func (s *Service) List(ctx context.Context, req *ListRequest) ([]*store.Reminder, error) {
	reminders, err := s.store.ListReminders(ctx, &store.FindReminder{
		CreatorID: req.CreatorID,
		Recipient: req.Recipient,
		Status:    req.Status,
		Limit:     req.Limit,
		Offset:    req.Offset,
	})
	if err != nil {
		return nil, serviceerrors.Storage("failed to list reminders", err)
	}
	return reminders, nil
}

// ListDeliveries returns the delivery history for a reminder.
func (s *Service) ListDeliveries(ctx context.Context, uid string) ([]*store.Delivery, error) {
	reminder, err := s.get(ctx, uid)
	if err != nil {
		return nil, err
	}
	deliveries, err := s.store.ListDeliveries(ctx, &store.FindDelivery{ReminderID: &reminder.ID})
	if err != nil {
		return nil, serviceerrors.Storage("failed to list deliveries", err)
	}
	return deliveries, nil
}

func (s *Service) get(ctx context.Context, uid string) (*store.Reminder, error) {
	reminder, err := s.store.GetReminder(ctx, &store.FindReminder{UID: &uid})
	if err != nil {
		return nil, serviceerrors.Storage("failed to load reminder", err)
	}
	if reminder == nil {
		return nil, serviceerrors.NotFound("reminder", uid)
	}
	return reminder, nil
}

func (s *Service) authorize(ctx context.Context, uid, actorID string) (*store.Reminder, error) {
	reminder, err := s.get(ctx, uid)
	if err != nil {
		return nil, err
	}
	if actorID != reminder.CreatorID {
		return nil, serviceerrors.Unauthorized("only the creator may manage a reminder")
	}
	return reminder, nil
}

func validateEscalation(policy *store.EscalationPolicy) error {
	if policy == nil || !policy.Enabled {
		return nil
	}
	if len(policy.Levels) == 0 {
		return serviceerrors.Validation("enabled escalation requires at least one level")
	}
	seen := map[int]struct{}{}
	for _, level := range policy.Levels {
		if level.Level < 1 {
			return serviceerrors.Validation("escalation levels start at 1")
		}
		if _, dup := seen[level.Level]; dup {
			return serviceerrors.Validation("duplicate escalation level")
		}
		seen[level.Level] = struct{}{}
		if level.DelayMinutes < 0 {
			return serviceerrors.Validation("escalation delay must not be negative")
		}
		if len(level.Targets) == 0 {
			return serviceerrors.Validation("escalation level requires at least one target")
		}
	}
	if policy.MaxLevel < 1 {
		return serviceerrors.Validation("maxLevel must be at least 1")
	}
	return nil
}

func (s *Service) emitActivity(ctx context.Context, reminderUID string, activityType store.ActivityType, actorID string, payload map[string]any) {
	raw := "{}"
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			raw = string(b)
		}
	}
	if _, err := s.store.CreateActivity(ctx, &store.Activity{
		Type:        activityType,
		ReminderUID: reminderUID,
		ActorID:     actorID,
		Payload:     raw,
	}); err != nil {
		s.logger.Error("failed to emit activity", "reminder_uid", reminderUID, "type", activityType, "error", err)
	}
}
