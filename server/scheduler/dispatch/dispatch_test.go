package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remindkit/remindkit/internal/profile"
	serviceerrors "github.com/remindkit/remindkit/server/internal/errors"
	"github.com/remindkit/remindkit/server/notifier"
	"github.com/remindkit/remindkit/store"
	teststore "github.com/remindkit/remindkit/store/test"
)

func testProfile() *profile.Profile {
	return &profile.Profile{
		Mode:                 "test",
		PollInterval:         time.Minute,
		GracePeriod:          30 * time.Second,
		BatchSize:            10,
		MaxConcurrency:       4,
		MaxRetries:           2,
		RetryDelay:           time.Millisecond,
		FailedThreshold:      3,
		HealthStaleCycle:     3 * time.Minute,
		HealthFailureRate:    0.1,
		UnhealthyStaleCycle:  10 * time.Minute,
		UnhealthyFailureRate: 0.5,
	}
}

func newTestService(t *testing.T) (*Service, *store.Store, *notifier.MockNotifier) {
	t.Helper()
	st, _ := teststore.NewTestStore()
	mock := notifier.NewMockNotifier()
	svc := NewService(st, mock, testProfile(), nil)
	svc.sleep = func(context.Context, time.Duration) error { return nil }
	return svc, st, mock
}

func createDueReminder(t *testing.T, st *store.Store, uid string, due time.Time) *store.Reminder {
	t.Helper()
	dueTs := due.Unix()
	reminder, err := st.CreateReminder(context.Background(), &store.Reminder{
		UID:       uid,
		CreatorID: "creator",
		Recipient: "user-1",
		Content:   "stand-up in 5",
		Timezone:  "UTC",
		Status:    store.ReminderStatusActive,
		Schedule:  store.ScheduleSpec{Type: store.ScheduleDaily, TimeOfDay: "09:00"},
		NextDueTs: &dueTs,
	})
	require.NoError(t, err)
	return reminder
}

func TestRunCycleDeliversDueReminder(t *testing.T) {
	svc, st, mock := newTestService(t)
	ctx := context.Background()

	now := time.Now()
	reminder := createDueReminder(t, st, "rem-1", now.Add(-time.Minute))

	result, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Due)
	assert.Equal(t, 1, result.Delivered)
	assert.Equal(t, 1, mock.SendCount("user-1"))

	// A delivered Delivery record exists.
	deliveries, err := st.ListDeliveries(ctx, &store.FindDelivery{ReminderID: &reminder.ID})
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, store.DeliveryStatusDelivered, deliveries[0].Status)
	assert.False(t, deliveries[0].IsEscalation)

	// The schedule advanced past now.
	updated, err := st.GetReminder(ctx, &store.FindReminder{ID: &reminder.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.OccurrenceCount)
	require.NotNil(t, updated.NextDueTs)
	assert.Greater(t, *updated.NextDueTs, now.Unix())
	require.NotNil(t, updated.LastDeliveredTs)
}

func TestRunCycleSkipsRemindersNotDue(t *testing.T) {
	svc, st, mock := newTestService(t)

	createDueReminder(t, st, "rem-future", time.Now().Add(time.Hour))

	result, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Due)
	assert.Equal(t, 0, mock.SendCount("user-1"))
}

func TestRunCycleRetriesTransientFailure(t *testing.T) {
	svc, st, mock := newTestService(t)
	ctx := context.Background()

	reminder := createDueReminder(t, st, "rem-retry", time.Now().Add(-time.Minute))
	mock.FailWith("user-1", serviceerrors.TransientDelivery("timeout", nil))

	result, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Delivered)
	assert.Equal(t, 1, result.Retried)
	assert.Equal(t, 2, mock.SendCount("user-1"))

	deliveries, err := st.ListDeliveries(ctx, &store.FindDelivery{ReminderID: &reminder.ID})
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, 2, deliveries[0].AttemptCount)
}

func TestRunCycleTransientExhaustionLeavesReminderDue(t *testing.T) {
	svc, st, mock := newTestService(t)
	ctx := context.Background()

	due := time.Now().Add(-time.Minute)
	reminder := createDueReminder(t, st, "rem-exhaust", due)
	// MaxRetries=2 means 3 attempts total; fail them all.
	for i := 0; i < 3; i++ {
		mock.FailWith("user-1", serviceerrors.TransientDelivery("timeout", nil))
	}

	result, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Delivered)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 3, mock.SendCount("user-1"))

	// nextDueAt untouched: the reminder is retried wholesale next cycle.
	updated, err := st.GetReminder(ctx, &store.FindReminder{ID: &reminder.ID})
	require.NoError(t, err)
	require.NotNil(t, updated.NextDueTs)
	assert.Equal(t, due.Unix(), *updated.NextDueTs)
	assert.Equal(t, store.ReminderStatusActive, updated.Status)

	// A failed Delivery is recorded for the audit surface.
	deliveries, err := st.ListDeliveries(ctx, &store.FindDelivery{ReminderID: &reminder.ID})
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, store.DeliveryStatusFailed, deliveries[0].Status)
}

func TestRunCyclePermanentFailureNoRetry(t *testing.T) {
	svc, st, mock := newTestService(t)
	ctx := context.Background()

	reminder := createDueReminder(t, st, "rem-perm", time.Now().Add(-time.Minute))
	mock.FailWith("user-1", serviceerrors.PermanentDelivery("recipient gone", nil))

	result, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 0, result.Retried)
	assert.Equal(t, 1, mock.SendCount("user-1"))

	updated, err := st.GetReminder(ctx, &store.FindReminder{ID: &reminder.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.FailStreak)
	assert.Equal(t, store.ReminderStatusActive, updated.Status)
}

func TestRunCyclePromotesRepeatedPermanentFailures(t *testing.T) {
	svc, st, mock := newTestService(t)
	ctx := context.Background()

	reminder := createDueReminder(t, st, "rem-dead", time.Now().Add(-time.Minute))

	// FailedThreshold=3 consecutive permanent failures across cycles.
	for i := 0; i < 3; i++ {
		mock.FailWith("user-1", serviceerrors.PermanentDelivery("recipient gone", nil))
		_, err := svc.RunCycle(ctx)
		require.NoError(t, err)
	}

	updated, err := st.GetReminder(ctx, &store.FindReminder{ID: &reminder.ID})
	require.NoError(t, err)
	assert.Equal(t, store.ReminderStatusFailed, updated.Status)
	assert.Nil(t, updated.NextDueTs)
	assert.Equal(t, 3, updated.FailStreak)
}

func TestRunCycleSuccessResetsFailStreak(t *testing.T) {
	svc, st, mock := newTestService(t)
	ctx := context.Background()

	reminder := createDueReminder(t, st, "rem-recover", time.Now().Add(-time.Minute))
	mock.FailWith("user-1", serviceerrors.PermanentDelivery("recipient gone", nil))

	_, err := svc.RunCycle(ctx)
	require.NoError(t, err)

	_, err = svc.RunCycle(ctx)
	require.NoError(t, err)

	updated, err := st.GetReminder(ctx, &store.FindReminder{ID: &reminder.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, updated.FailStreak)
	assert.Equal(t, 1, updated.OccurrenceCount)
}

func TestRunCycleCompletesExhaustedSchedule(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	dueTs := time.Now().Add(-time.Minute).Unix()
	reminder, err := st.CreateReminder(ctx, &store.Reminder{
		UID:       "rem-once",
		CreatorID: "creator",
		Recipient: "user-1",
		Content:   "one shot",
		Timezone:  "UTC",
		Status:    store.ReminderStatusActive,
		Schedule: store.ScheduleSpec{
			Type:           store.ScheduleDaily,
			TimeOfDay:      "09:00",
			MaxOccurrences: 1,
		},
		NextDueTs: &dueTs,
	})
	require.NoError(t, err)

	_, err = svc.RunCycle(ctx)
	require.NoError(t, err)

	updated, err := st.GetReminder(ctx, &store.FindReminder{ID: &reminder.ID})
	require.NoError(t, err)
	assert.Equal(t, store.ReminderStatusCompleted, updated.Status)
	assert.Nil(t, updated.NextDueTs)
}

func TestRunCycleResetsEscalationChain(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	dueTs := time.Now().Add(-time.Minute).Unix()
	lastEscalated := time.Now().Add(-time.Hour).Unix()
	reminder, err := st.CreateReminder(ctx, &store.Reminder{
		UID:       "rem-chain",
		CreatorID: "creator",
		Recipient: "user-1",
		Content:   "with escalation",
		Timezone:  "UTC",
		Status:    store.ReminderStatusActive,
		Schedule:  store.ScheduleSpec{Type: store.ScheduleDaily, TimeOfDay: "09:00"},
		Escalation: &store.EscalationPolicy{
			Enabled:              true,
			Levels:               []store.EscalationLevel{{Level: 1, DelayMinutes: 15, Targets: []string{"user-2"}}},
			MaxLevel:             1,
			StopOnAcknowledgment: true,
			CurrentLevel:         1,
			LastEscalatedTs:      &lastEscalated,
			Halted:               true,
		},
		NextDueTs: &dueTs,
	})
	require.NoError(t, err)

	_, err = svc.RunCycle(ctx)
	require.NoError(t, err)

	updated, err := st.GetReminder(ctx, &store.FindReminder{ID: &reminder.ID})
	require.NoError(t, err)
	require.NotNil(t, updated.Escalation)
	assert.Equal(t, 0, updated.Escalation.CurrentLevel)
	assert.False(t, updated.Escalation.Halted)
	assert.Nil(t, updated.Escalation.LastEscalatedTs)
}

func TestRunCycleClearsSnooze(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	dueTs := time.Now().Add(-time.Minute).Unix()
	reminder := createDueReminder(t, st, "rem-snoozed", time.Now().Add(-time.Minute))
	_, err := st.UpdateReminder(ctx, &store.UpdateReminder{ID: reminder.ID, SnoozedUntilTs: &dueTs})
	require.NoError(t, err)

	_, err = svc.RunCycle(ctx)
	require.NoError(t, err)

	updated, err := st.GetReminder(ctx, &store.FindReminder{ID: &reminder.ID})
	require.NoError(t, err)
	assert.Nil(t, updated.SnoozedUntilTs)
	require.NotNil(t, updated.NextDueTs)
	assert.Greater(t, *updated.NextDueTs, time.Now().Unix())
}

// blockingNotifier parks Send until released, to hold a cycle open.
type blockingNotifier struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingNotifier) Send(context.Context, *store.Reminder) (*notifier.SendResult, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return &notifier.SendResult{}, nil
}

func (b *blockingNotifier) SendEscalation(context.Context, *store.Reminder, []string, int) []notifier.TargetResult {
	return nil
}

func TestRunCycleSingleFlight(t *testing.T) {
	st, _ := teststore.NewTestStore()
	blocking := &blockingNotifier{started: make(chan struct{}), release: make(chan struct{})}
	svc := NewService(st, blocking, testProfile(), nil)

	createDueReminder(t, st, "rem-slow", time.Now().Add(-time.Minute))

	done := make(chan *CycleResult, 1)
	go func() {
		result, _ := svc.RunCycle(context.Background())
		done <- result
	}()

	<-blocking.started

	// A trigger while a cycle is in flight is dropped, not queued.
	dropped, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Nil(t, dropped)

	close(blocking.release)
	first := <-done
	require.NotNil(t, first)
	assert.Equal(t, 1, first.Delivered)
}

func TestRunCycleNoDuplicateDeliveriesAcrossCycles(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	reminder := createDueReminder(t, st, "rem-dup", time.Now().Add(-time.Minute))

	_, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	result, err := svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Due)

	deliveries, err := st.ListDeliveries(ctx, &store.FindDelivery{ReminderID: &reminder.ID})
	require.NoError(t, err)
	assert.Len(t, deliveries, 1)
}

func TestHealthClassification(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	// Never ran and not running: unhealthy.
	snapshot, err := svc.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, HealthUnhealthy, snapshot.Status)

	// Fresh successful cycle while running: healthy.
	svc.SetRunning(true)
	createDueReminder(t, st, "rem-health", time.Now().Add(-time.Minute))
	_, err = svc.RunCycle(ctx)
	require.NoError(t, err)

	snapshot, err = svc.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, HealthHealthy, snapshot.Status)
	assert.True(t, snapshot.Running)
	assert.Equal(t, int64(1), snapshot.SuccessCount)

	// High failure rate: degraded or worse.
	svc.stats.recordCycle(time.Now(), 0, 1)
	snapshot, err = svc.Health(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, HealthHealthy, snapshot.Status)

	// Stale last cycle: unhealthy.
	svc.stats.recordCycle(time.Now().Add(-time.Hour), 0, 0)
	snapshot, err = svc.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, HealthUnhealthy, snapshot.Status)
}

func TestRunnerStartStop(t *testing.T) {
	svc, _, _ := newTestService(t)
	runner := NewRunner(svc, 50*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner.Start(ctx)
	assert.True(t, runner.IsRunning())

	// Idempotent start.
	runner.Start(ctx)
	assert.True(t, runner.IsRunning())

	time.Sleep(120 * time.Millisecond)
	runner.Stop()
	assert.False(t, runner.IsRunning())

	_, _, cycles, _, _ := svc.stats.snapshot()
	assert.GreaterOrEqual(t, cycles, int64(2))
}
