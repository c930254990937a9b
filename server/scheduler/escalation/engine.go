// Package escalation advances the escalation chain for delivered reminders
// that go unacknowledged past a level's configured delay.
package escalation

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/remindkit/remindkit/internal/profile"
	serviceerrors "github.com/remindkit/remindkit/server/internal/errors"
	"github.com/remindkit/remindkit/server/internal/observability"
	"github.com/remindkit/remindkit/server/notifier"
	"github.com/remindkit/remindkit/store"
)

// Engine runs periodic escalation checks. Like the delivery scheduler it is
// single-flight against itself.
type Engine struct {
	store    *store.Store
	notifier notifier.Notifier
	resolver *ResolverRegistry
	profile  *profile.Profile
	logger   *slog.Logger

	busyMu sync.Mutex
	busy   bool

	now func() time.Time
}

// CheckResult summarizes one escalation check.
type CheckResult struct {
	Examined  int
	Escalated int
	Skipped   int
	Duration  time.Duration
}

// NewEngine creates an escalation engine.
func NewEngine(st *store.Store, n notifier.Notifier, resolver *ResolverRegistry, p *profile.Profile, logger *slog.Logger) *Engine {
	if resolver == nil {
		resolver = NewResolverRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    st,
		notifier: n,
		resolver: resolver,
		profile:  p,
		logger:   logger,
		now:      time.Now,
	}
}

// RunCheck examines delivered-but-unacknowledged deliveries and escalates
// those whose next level's delay has elapsed. Returns (nil, nil) when a
// check is already in flight.
func (e *Engine) RunCheck(ctx context.Context) (*CheckResult, error) {
	e.busyMu.Lock()
	if e.busy {
		e.busyMu.Unlock()
		e.logger.Warn("escalation check already running, dropping trigger")
		return nil, nil
	}
	e.busy = true
	e.busyMu.Unlock()

	defer func() {
		e.busyMu.Lock()
		e.busy = false
		e.busyMu.Unlock()
	}()

	runCtx := observability.NewRunContext(e.logger, "escalation")
	ctx = observability.WithRunContext(ctx, runCtx)

	unacked := true
	isEscalation := false
	deliveries, err := e.store.ListDeliveries(ctx, &store.FindDelivery{
		Unacknowledged: &unacked,
		IsEscalation:   &isEscalation,
	})
	if err != nil {
		return nil, serviceerrors.Storage("failed to query unacknowledged deliveries", err)
	}

	// Only the newest delivery per reminder carries the live chain; the
	// list is ordered newest first.
	latest := make(map[int32]*store.Delivery, len(deliveries))
	for _, delivery := range deliveries {
		if _, seen := latest[delivery.ReminderID]; !seen {
			latest[delivery.ReminderID] = delivery
		}
	}

	result := &CheckResult{Examined: len(latest)}
	for _, delivery := range latest {
		escalated, err := e.checkDelivery(ctx, delivery, false)
		if err != nil {
			// Isolated per record: one failing item must not abort the rest.
			runCtx.Error("escalation check failed for delivery", err,
				slog.String(observability.LogFieldDeliveryUID, delivery.UID))
			continue
		}
		if escalated {
			result.Escalated++
		} else {
			result.Skipped++
		}
	}

	result.Duration = runCtx.Duration()
	if result.Escalated > 0 {
		runCtx.Info("escalation check finished",
			slog.Int("examined", result.Examined),
			slog.Int("escalated", result.Escalated),
			slog.Int64(observability.LogFieldDuration, result.Duration.Milliseconds()),
		)
	}
	return result, nil
}

// TriggerManual runs the next escalation level for a delivery immediately,
// bypassing the delay, requiresConfirmation and stop-on-ack checks. Used by
// the acknowledgment "escalate" action and the manual API endpoint.
func (e *Engine) TriggerManual(ctx context.Context, deliveryUID string) (bool, error) {
	delivery, err := e.store.GetDelivery(ctx, &store.FindDelivery{UID: &deliveryUID})
	if err != nil {
		return false, serviceerrors.Storage("failed to load delivery", err)
	}
	if delivery == nil {
		return false, serviceerrors.NotFound("delivery", deliveryUID)
	}
	return e.checkDelivery(ctx, delivery, true)
}

// checkDelivery advances the escalation chain for one delivery when
// eligible. manual bypasses the delay and confirmation gates.
func (e *Engine) checkDelivery(ctx context.Context, delivery *store.Delivery, manual bool) (bool, error) {
	reminder, err := e.store.GetReminder(ctx, &store.FindReminder{ID: &delivery.ReminderID})
	if err != nil {
		return false, serviceerrors.Storage("failed to load reminder", err)
	}
	if reminder == nil || !reminder.EscalationEnabled() {
		return false, nil
	}
	policy := reminder.Escalation

	// Re-read the delivery: an acknowledgment may have landed since the
	// due query.
	fresh, err := e.store.GetDelivery(ctx, &store.FindDelivery{ID: &delivery.ID})
	if err != nil {
		return false, serviceerrors.Storage("failed to load delivery", err)
	}
	if fresh == nil || fresh.Status != store.DeliveryStatusDelivered {
		return false, nil
	}
	// The stop-on-ack skip applies only to periodic checks: the manual
	// trigger exists to force the chain, and the acknowledgment "escalate"
	// action marks the delivery acknowledged before requesting the run.
	if !manual && policy.StopOnAcknowledgment && (fresh.Acknowledged || policy.Halted) {
		return false, nil
	}

	next := policy.NextLevel()
	if next == nil {
		// Chain exhausted or maxLevel reached: no further automatic action.
		return false, nil
	}

	if !manual {
		if next.RequiresConfirmation {
			return false, nil
		}
		if fresh.DeliveredTs == nil {
			return false, nil
		}
		deadline := time.Unix(*fresh.DeliveredTs, 0).Add(time.Duration(next.DelayMinutes) * time.Minute)
		if e.now().Before(deadline) {
			return false, nil
		}
	}

	return true, e.executeLevel(ctx, reminder, fresh, next)
}

// executeLevel persists the new currentLevel BEFORE the per-target sends.
// The durable level write is what makes level execution idempotent: a crash
// after it loses at most the sends for this level, and the level is never
// re-attempted.
func (e *Engine) executeLevel(ctx context.Context, reminder *store.Reminder, original *store.Delivery, level *store.EscalationLevel) error {
	now := e.now().Unix()

	policy := *reminder.Escalation
	policy.CurrentLevel = level.Level
	policy.LastEscalatedTs = &now
	if _, err := e.store.UpdateReminder(ctx, &store.UpdateReminder{
		ID:         reminder.ID,
		Escalation: &policy,
	}); err != nil {
		return serviceerrors.Storage("failed to persist escalation level", err)
	}

	// Resolve every target first; unresolved targets get a failed Delivery
	// record rather than aborting the level.
	recipients := make(map[string]string, len(level.Targets))
	deliverable := make([]string, 0, len(level.Targets))
	for _, target := range level.Targets {
		recipient, err := e.resolver.Resolve(ctx, target)
		if err != nil {
			e.recordEscalationDelivery(ctx, reminder, original, level.Level, target, nil, err)
			continue
		}
		recipients[target] = recipient
		deliverable = append(deliverable, recipient)
	}

	results := e.notifier.SendEscalation(ctx, reminder, deliverable, level.Level)
	resultByRecipient := make(map[string]notifier.TargetResult, len(results))
	for _, r := range results {
		resultByRecipient[r.Target] = r
	}

	for target, recipient := range recipients {
		r := resultByRecipient[recipient]
		e.recordEscalationDelivery(ctx, reminder, original, level.Level, target, &recipient, r.Err)
	}

	e.emitActivity(ctx, reminder.UID, level.Level, original.UID)
	return nil
}

// recordEscalationDelivery persists one escalation Delivery, tagged with the
// level and a back-reference to the original delivery.
func (e *Engine) recordEscalationDelivery(ctx context.Context, reminder *store.Reminder, original *store.Delivery, level int, target string, recipient *string, sendErr error) {
	deliveredTo := target
	if recipient != nil {
		deliveredTo = *recipient
	}

	delivery := &store.Delivery{
		UID:                shortuuid.New(),
		ReminderID:         reminder.ID,
		Recipient:          deliveredTo,
		AttemptCount:       1,
		IsEscalation:       true,
		EscalationLevel:    &level,
		OriginalDeliveryID: &original.ID,
	}
	if sendErr != nil {
		delivery.Status = store.DeliveryStatusFailed
		delivery.ErrorMessage = sendErr.Error()
	} else {
		now := e.now().Unix()
		delivery.Status = store.DeliveryStatusDelivered
		delivery.DeliveredTs = &now
	}

	if _, err := e.store.CreateDelivery(ctx, delivery); err != nil {
		e.logger.Error("failed to record escalation delivery",
			"reminder_uid", reminder.UID,
			"target", target,
			"escalation_level", level,
			"error", err,
		)
	}
}

func (e *Engine) emitActivity(ctx context.Context, reminderUID string, level int, originalDeliveryUID string) {
	payload, _ := json.Marshal(map[string]any{
		"level":                 level,
		"original_delivery_uid": originalDeliveryUID,
	})
	if _, err := e.store.CreateActivity(ctx, &store.Activity{
		Type:        store.ActivityReminderEscalated,
		ReminderUID: reminderUID,
		ActorID:     "escalation",
		Payload:     string(payload),
	}); err != nil {
		e.logger.Error("failed to emit escalation activity", "reminder_uid", reminderUID, "error", err)
	}
}
