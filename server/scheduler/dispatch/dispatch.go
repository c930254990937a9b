// Package dispatch implements the delivery scheduler: a periodic,
// single-flight cycle that queries due reminders, delivers them with bounded
// concurrency and in-cycle retry, and advances each reminder's recurrence.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"golang.org/x/sync/semaphore"

	"github.com/remindkit/remindkit/internal/profile"
	serviceerrors "github.com/remindkit/remindkit/server/internal/errors"
	"github.com/remindkit/remindkit/server/internal/observability"
	"github.com/remindkit/remindkit/server/notifier"
	"github.com/remindkit/remindkit/server/scheduler/recurrence"
	"github.com/remindkit/remindkit/server/timezone"
	"github.com/remindkit/remindkit/store"
)

// Service executes delivery cycles. It is single-flight: a trigger that
// arrives while a cycle is running is dropped, not queued.
type Service struct {
	store    *store.Store
	notifier notifier.Notifier
	profile  *profile.Profile
	logger   *slog.Logger

	busyMu sync.Mutex
	busy   bool

	stats *cycleStats

	// now is the clock; tests replace it.
	now func() time.Time
	// sleep is the retry delay; tests replace it to avoid real waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// CycleResult summarizes one delivery cycle.
type CycleResult struct {
	Due       int
	Delivered int
	Failed    int
	Retried   int
	Skipped   int
	Duration  time.Duration
}

// NewService creates a delivery service.
func NewService(st *store.Store, n notifier.Notifier, p *profile.Profile, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		notifier: n,
		profile:  p,
		logger:   logger,
		stats:    &cycleStats{},
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RunCycle runs one delivery cycle. It returns (nil, nil) when another cycle
// is already in flight.
func (s *Service) RunCycle(ctx context.Context) (*CycleResult, error) {
	s.busyMu.Lock()
	if s.busy {
		s.busyMu.Unlock()
		s.logger.Warn("delivery cycle already running, dropping trigger")
		return nil, nil
	}
	s.busy = true
	s.busyMu.Unlock()

	defer func() {
		s.busyMu.Lock()
		s.busy = false
		s.busyMu.Unlock()
	}()

	runCtx := observability.NewRunContext(s.logger, "dispatch")
	ctx = observability.WithRunContext(ctx, runCtx)

	now := s.now()
	due, err := s.listDue(ctx, now)
	if err != nil {
		s.stats.recordCycle(now, 0, 0)
		return nil, err
	}

	result := &CycleResult{Due: len(due)}
	for start := 0; start < len(due); start += s.batchSize() {
		end := start + s.batchSize()
		if end > len(due) {
			end = len(due)
		}
		s.runBatch(ctx, due[start:end], result)

		if ctx.Err() != nil {
			break
		}
	}

	result.Duration = runCtx.Duration()
	s.stats.recordCycle(s.now(), result.Delivered, result.Failed)

	runCtx.Info("delivery cycle finished",
		slog.Int("due", result.Due),
		slog.Int("delivered", result.Delivered),
		slog.Int("failed", result.Failed),
		slog.Int("retried", result.Retried),
		slog.Int64(observability.LogFieldDuration, result.Duration.Milliseconds()),
	)
	return result, nil
}

func (s *Service) batchSize() int {
	if s.profile.BatchSize > 0 {
		return s.profile.BatchSize
	}
	return 50
}

func (s *Service) listDue(ctx context.Context, now time.Time) ([]*store.Reminder, error) {
	status := store.ReminderStatusActive
	cutoff := now.Add(s.profile.GracePeriod).Unix()
	reminders, err := s.store.ListReminders(ctx, &store.FindReminder{
		Status:        &status,
		NextDueBefore: &cutoff,
	})
	if err != nil {
		return nil, serviceerrors.Storage("failed to query due reminders", err)
	}
	return reminders, nil
}

// runBatch fans out delivery attempts for one batch, capped at the
// configured max concurrency. A slow reminder blocks only its own attempt
// sequence, not siblings.
func (s *Service) runBatch(ctx context.Context, batch []*store.Reminder, result *CycleResult) {
	maxConcurrency := int64(s.profile.MaxConcurrency)
	if maxConcurrency <= 0 {
		maxConcurrency = 8
	}
	sem := semaphore.NewWeighted(maxConcurrency)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, reminder := range batch {
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		wg.Add(1)
		go func(reminder *store.Reminder) {
			defer wg.Done()
			defer sem.Release(1)

			outcome := s.processReminder(ctx, reminder)

			mu.Lock()
			defer mu.Unlock()
			result.Retried += outcome.retries
			switch {
			case outcome.skipped:
				result.Skipped++
			case outcome.delivered:
				result.Delivered++
			default:
				result.Failed++
			}
		}(reminder)
	}
	wg.Wait()
}

type attemptOutcome struct {
	delivered bool
	skipped   bool
	retries   int
}

// processReminder attempts delivery for one due reminder and advances its
// schedule state. Storage failures are isolated to this reminder.
func (s *Service) processReminder(ctx context.Context, reminder *store.Reminder) attemptOutcome {
	runCtx, _ := observability.FromContext(ctx)

	// Another worker may have finished this reminder between the due query
	// and now; re-read and skip when it is no longer due.
	fresh, err := s.store.GetReminder(ctx, &store.FindReminder{ID: &reminder.ID})
	if err != nil || fresh == nil || fresh.Status != store.ReminderStatusActive || fresh.NextDueTs == nil {
		return attemptOutcome{skipped: true}
	}
	reminder = fresh

	retries, sendErr := s.attemptWithRetry(ctx, reminder)
	outcome := attemptOutcome{retries: retries}

	if sendErr != nil {
		s.recordFailure(ctx, reminder, sendErr)
		if runCtx != nil {
			runCtx.Error("delivery failed", sendErr,
				slog.String(observability.LogFieldReminderUID, reminder.UID),
				slog.String(observability.LogFieldErrorCode, string(serviceerrors.GetCodeFromError(sendErr, serviceerrors.ErrCodeTransientDelivery))),
				slog.Int(observability.LogFieldAttempt, retries+1),
			)
		}
		return outcome
	}

	s.recordDelivery(ctx, reminder, retries)
	outcome.delivered = true
	return outcome
}

// attemptWithRetry invokes the notifier, retrying transient failures up to
// the configured limit with a fixed delay. Retries are scoped to this cycle.
func (s *Service) attemptWithRetry(ctx context.Context, reminder *store.Reminder) (int, error) {
	maxRetries := s.profile.MaxRetries
	retries := 0

	for {
		_, err := s.notifier.Send(ctx, reminder)
		if err == nil {
			return retries, nil
		}
		if serviceerrors.IsCode(err, serviceerrors.ErrCodePermanentDelivery) {
			return retries, err
		}
		// Transient (or unclassified) failure.
		if retries >= maxRetries {
			return retries, err
		}
		retries++
		if s.sleep(ctx, s.profile.RetryDelay) != nil {
			return retries, err
		}
	}
}

// recordDelivery persists the delivered Delivery record and advances the
// reminder's recurrence. The two writes are independent; the recurrence
// calculator being pure makes re-derivation after a partial write safe.
func (s *Service) recordDelivery(ctx context.Context, reminder *store.Reminder, attempts int) {
	now := s.now()
	deliveredTs := now.Unix()

	delivery := &store.Delivery{
		UID:          shortuuid.New(),
		ReminderID:   reminder.ID,
		Recipient:    reminder.Recipient,
		Status:       store.DeliveryStatusDelivered,
		DeliveredTs:  &deliveredTs,
		AttemptCount: attempts + 1,
	}
	if _, err := s.store.CreateDelivery(ctx, delivery); err != nil {
		s.logger.Error("failed to record delivery", "reminder_uid", reminder.UID, "error", err)
		// Leave the reminder due; the next cycle re-delivers (at-least-once).
		return
	}

	occurrences := reminder.OccurrenceCount + 1
	update := &store.UpdateReminder{
		ID:              reminder.ID,
		LastDeliveredTs: &deliveredTs,
		OccurrenceCount: &occurrences,
		ClearSnooze:     true,
	}

	// A fresh delivery starts a new escalation chain.
	if reminder.Escalation != nil {
		policy := *reminder.Escalation
		policy.CurrentLevel = 0
		policy.Halted = false
		policy.LastEscalatedTs = nil
		update.Escalation = &policy
	}

	zero := 0
	update.FailStreak = &zero

	loc, _ := timezone.ParseTimezone(reminder.Timezone)
	next, ok := recurrence.NextDue(reminder.Schedule, loc, now, &now, occurrences)
	if ok {
		nextTs := next.Unix()
		update.NextDueTs = &nextTs
	} else {
		status := store.ReminderStatusCompleted
		update.Status = &status
		update.ClearNextDue = true
	}

	if _, err := s.store.UpdateReminder(ctx, update); err != nil {
		s.logger.Error("failed to advance reminder schedule", "reminder_uid", reminder.UID, "error", err)
		return
	}

	s.emitActivity(ctx, reminder.UID, store.ActivityReminderDelivered, map[string]any{
		"delivery_uid": delivery.UID,
		"occurrence":   occurrences,
	})
	if !ok {
		s.emitActivity(ctx, reminder.UID, store.ActivityReminderCompleted, map[string]any{
			"reason": "schedule exhausted",
		})
	}
}

// recordFailure persists a failed Delivery record. nextDueAt stays
// untouched so the reminder remains due and is retried wholesale on the next
// cycle; repeated permanent failures promote the reminder to failed.
func (s *Service) recordFailure(ctx context.Context, reminder *store.Reminder, sendErr error) {
	delivery := &store.Delivery{
		UID:          shortuuid.New(),
		ReminderID:   reminder.ID,
		Recipient:    reminder.Recipient,
		Status:       store.DeliveryStatusFailed,
		AttemptCount: 1,
		ErrorMessage: sendErr.Error(),
	}
	if _, err := s.store.CreateDelivery(ctx, delivery); err != nil {
		s.logger.Error("failed to record delivery failure", "reminder_uid", reminder.UID, "error", err)
	}

	if !serviceerrors.IsCode(sendErr, serviceerrors.ErrCodePermanentDelivery) {
		return
	}

	streak := reminder.FailStreak + 1
	update := &store.UpdateReminder{ID: reminder.ID, FailStreak: &streak}
	if streak >= s.profile.FailedThreshold {
		status := store.ReminderStatusFailed
		update.Status = &status
		update.ClearNextDue = true
	}
	if _, err := s.store.UpdateReminder(ctx, update); err != nil {
		s.logger.Error("failed to update failure streak", "reminder_uid", reminder.UID, "error", err)
	}
}

func (s *Service) emitActivity(ctx context.Context, reminderUID string, activityType store.ActivityType, payload map[string]any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}
	if _, err := s.store.CreateActivity(ctx, &store.Activity{
		Type:        activityType,
		ReminderUID: reminderUID,
		ActorID:     "scheduler",
		Payload:     string(raw),
	}); err != nil {
		s.logger.Error("failed to emit activity", "reminder_uid", reminderUID, "type", activityType, "error", err)
	}
}
