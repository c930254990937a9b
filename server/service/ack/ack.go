// Package ack processes acknowledgment requests for delivered reminders.
//
// The durable acknowledged mark is the source of truth: once written it is
// never rolled back, and any later side-effect failure is reported as a
// partial result instead.
package ack

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	serviceerrors "github.com/remindkit/remindkit/server/internal/errors"
	"github.com/remindkit/remindkit/store"
)

// Action is the acknowledgment action requested by the actor.
type Action string

const (
	// ActionComplete marks the reminder done.
	ActionComplete Action = "complete"
	// ActionDismiss cancels the reminder.
	ActionDismiss Action = "dismiss"
	// ActionSnooze defers the next fire once without discarding the
	// underlying recurrence.
	ActionSnooze Action = "snooze"
	// ActionEscalate requests an out-of-band manual escalation run.
	ActionEscalate Action = "escalate"
	// ActionReact acknowledges with no additional state change.
	ActionReact Action = "react"
)

// ManualEscalator triggers an escalation run outside the periodic check.
type ManualEscalator interface {
	TriggerManual(ctx context.Context, deliveryUID string) (bool, error)
}

// Request is the input to ProcessAcknowledgment.
type Request struct {
	DeliveryUID string
	ActorID     string
	Action      Action
	// Method records how the acknowledgment arrived (api, email-link, ...).
	Method string
	// SnoozeMinutes applies to ActionSnooze only.
	SnoozeMinutes int
	Metadata      map[string]any
}

// Result is the outcome of a processed acknowledgment. Partial is set when
// the acknowledgment was durably recorded but a side effect failed.
type Result struct {
	Delivery      *store.Delivery
	Reminder      *store.Reminder
	Partial       bool
	PartialReason string
}

// Tracker is the acknowledgment entry point.
type Tracker struct {
	store     *store.Store
	escalator ManualEscalator
	logger    *slog.Logger

	now func() time.Time
}

// NewTracker creates an acknowledgment tracker. escalator may be nil, in
// which case the escalate action records the acknowledgment but reports a
// partial result.
func NewTracker(st *store.Store, escalator ManualEscalator, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:     st,
		escalator: escalator,
		logger:    logger,
		now:       time.Now,
	}
}

// ProcessAcknowledgment validates the request, durably marks the delivery
// acknowledged, applies the action's side effect and halts the escalation
// chain when the policy says so.
func (t *Tracker) ProcessAcknowledgment(ctx context.Context, req *Request) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	delivery, err := t.store.GetDelivery(ctx, &store.FindDelivery{UID: &req.DeliveryUID})
	if err != nil {
		return nil, serviceerrors.Storage("failed to load delivery", err)
	}
	if delivery == nil {
		return nil, serviceerrors.NotFound("delivery", req.DeliveryUID)
	}

	reminder, err := t.store.GetReminder(ctx, &store.FindReminder{ID: &delivery.ReminderID})
	if err != nil {
		return nil, serviceerrors.Storage("failed to load reminder", err)
	}
	if reminder == nil {
		return nil, serviceerrors.NotFound("reminder", "")
	}

	// Only the delivery's recipient or the reminder's creator may act.
	if req.ActorID != delivery.Recipient && req.ActorID != reminder.CreatorID {
		return nil, serviceerrors.Unauthorized("actor may not acknowledge this delivery").
			WithContext("actor_id", req.ActorID)
	}

	if delivery.Acknowledged {
		return nil, serviceerrors.AlreadyAcknowledged(delivery.UID)
	}

	// Durable acknowledgment: the source of truth, never rolled back. The
	// guard turns the write into a compare-and-set so a racing acknowledgment
	// loses cleanly instead of overwriting the first.
	acked := true
	ackTs := t.now().Unix()
	delivery, err = t.store.UpdateDelivery(ctx, &store.UpdateDelivery{
		ID:                   delivery.ID,
		Acknowledged:         &acked,
		AcknowledgedTs:       &ackTs,
		AckMethod:            &req.Method,
		AckActorID:           &req.ActorID,
		OnlyIfUnacknowledged: true,
	})
	if err != nil {
		return nil, serviceerrors.Storage("failed to record acknowledgment", err)
	}
	if delivery == nil {
		return nil, serviceerrors.AlreadyAcknowledged(req.DeliveryUID)
	}

	result := &Result{Delivery: delivery, Reminder: reminder}

	if err := t.applySideEffect(ctx, req, reminder, delivery, result); err != nil {
		result.Partial = true
		result.PartialReason = err.Error()
		t.logger.Warn("acknowledgment side effect failed",
			"delivery_uid", delivery.UID,
			"action", req.Action,
			"error", err,
		)
	}

	if err := t.haltEscalation(ctx, result); err != nil && !result.Partial {
		result.Partial = true
		result.PartialReason = err.Error()
	}

	t.emitActivity(ctx, result.Reminder.UID, req, delivery.UID)
	return result, nil
}

func validateRequest(req *Request) error {
	if req.DeliveryUID == "" {
		return serviceerrors.Validation("deliveryUID is required")
	}
	if req.ActorID == "" {
		return serviceerrors.Validation("actorID is required")
	}
	switch req.Action {
	case ActionComplete, ActionDismiss, ActionEscalate, ActionReact:
	case ActionSnooze:
		if req.SnoozeMinutes <= 0 {
			return serviceerrors.Validation("snoozeMinutes must be positive")
		}
	default:
		return serviceerrors.Validation("unknown action: " + string(req.Action))
	}
	return nil
}

func (t *Tracker) applySideEffect(ctx context.Context, req *Request, reminder *store.Reminder, delivery *store.Delivery, result *Result) error {
	switch req.Action {
	case ActionComplete:
		return t.transition(ctx, result, reminder.ID, store.ReminderStatusCompleted)

	case ActionDismiss:
		return t.transition(ctx, result, reminder.ID, store.ReminderStatusCancelled)

	case ActionSnooze:
		// One-shot deferral: the deferred fire replaces the next due
		// instant but the recurrence itself is untouched, so normal
		// scheduling resumes after the deferred delivery.
		snoozeTs := t.now().Add(time.Duration(req.SnoozeMinutes) * time.Minute).Unix()
		updated, err := t.store.UpdateReminder(ctx, &store.UpdateReminder{
			ID:             reminder.ID,
			NextDueTs:      &snoozeTs,
			SnoozedUntilTs: &snoozeTs,
		})
		if err != nil {
			return serviceerrors.Storage("failed to snooze reminder", err)
		}
		result.Reminder = updated
		return nil

	case ActionEscalate:
		if t.escalator == nil {
			return serviceerrors.Validation("manual escalation is not available")
		}
		if _, err := t.escalator.TriggerManual(ctx, delivery.UID); err != nil {
			return err
		}
		return nil

	case ActionReact:
		return nil
	}
	return nil
}

func (t *Tracker) transition(ctx context.Context, result *Result, reminderID int32, status store.ReminderStatus) error {
	updated, err := t.store.UpdateReminder(ctx, &store.UpdateReminder{
		ID:           reminderID,
		Status:       &status,
		ClearNextDue: true,
		ClearSnooze:  true,
	})
	if err != nil {
		return serviceerrors.Storage("failed to update reminder status", err)
	}
	result.Reminder = updated
	return nil
}

// haltEscalation marks the chain halted when the policy stops on
// acknowledgment, so the escalation engine skips it on later checks. The
// reminder is re-read first: the escalate side effect may have advanced
// currentLevel since it was loaded, and halting from a stale copy would
// roll that back.
func (t *Tracker) haltEscalation(ctx context.Context, result *Result) error {
	if !result.Reminder.EscalationEnabled() || !result.Reminder.Escalation.StopOnAcknowledgment {
		return nil
	}

	reminder, err := t.store.GetReminder(ctx, &store.FindReminder{ID: &result.Reminder.ID})
	if err != nil {
		return serviceerrors.Storage("failed to reload reminder", err)
	}
	if reminder == nil || !reminder.EscalationEnabled() || reminder.Escalation.Halted {
		return nil
	}

	policy := *reminder.Escalation
	policy.Halted = true
	updated, err := t.store.UpdateReminder(ctx, &store.UpdateReminder{
		ID:         reminder.ID,
		Escalation: &policy,
	})
	if err != nil {
		return serviceerrors.Storage("failed to halt escalation chain", err)
	}
	result.Reminder = updated
	return nil
}

func (t *Tracker) emitActivity(ctx context.Context, reminderUID string, req *Request, deliveryUID string) {
	activityType := store.ActivityReminderAcknowledged
	switch req.Action {
	case ActionSnooze:
		activityType = store.ActivityReminderSnoozed
	case ActionComplete:
		activityType = store.ActivityReminderCompleted
	case ActionDismiss:
		activityType = store.ActivityReminderCancelled
	}

	payload, _ := json.Marshal(map[string]any{
		"delivery_uid": deliveryUID,
		"action":       req.Action,
		"method":       req.Method,
		"metadata":     req.Metadata,
	})
	if _, err := t.store.CreateActivity(ctx, &store.Activity{
		Type:        activityType,
		ReminderUID: reminderUID,
		ActorID:     req.ActorID,
		Payload:     string(payload),
	}); err != nil {
		t.logger.Error("failed to emit acknowledgment activity", "reminder_uid", reminderUID, "error", err)
	}
}
