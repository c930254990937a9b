package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remindkit/remindkit/internal/profile"
	"github.com/remindkit/remindkit/server/notifier"
	"github.com/remindkit/remindkit/server/scheduler/dispatch"
	"github.com/remindkit/remindkit/server/scheduler/escalation"
	"github.com/remindkit/remindkit/server/service/reminder"
	"github.com/remindkit/remindkit/store"
	teststore "github.com/remindkit/remindkit/store/test"
)

// Exercises the full delivery-then-escalation flow: a weekly reminder fires,
// the recipient does not acknowledge, and after the configured delay exactly
// one level-1 escalation goes out and the chain stops at its max level.
func TestDeliveryEscalationFlow(t *testing.T) {
	ctx := context.Background()

	p := &profile.Profile{
		Mode:                 "test",
		DefaultTimezone:      "UTC",
		PollInterval:         time.Minute,
		GracePeriod:          30 * time.Second,
		BatchSize:            50,
		MaxConcurrency:       4,
		MaxRetries:           1,
		RetryDelay:           time.Millisecond,
		FailedThreshold:      3,
		EscalationInterval:   time.Minute,
		HealthStaleCycle:     3 * time.Minute,
		HealthFailureRate:    0.1,
		UnhealthyStaleCycle:  10 * time.Minute,
		UnhealthyFailureRate: 0.5,
	}

	st, _ := teststore.NewTestStore()
	mock := notifier.NewMockNotifier()

	reminders := reminder.NewService(st, p, nil)
	dispatchService := dispatch.NewService(st, mock, p, nil)
	engine := escalation.NewEngine(st, mock, escalation.NewResolverRegistry(), p, nil)

	// Weekly Monday 09:00 in Berlin, escalating to a second user after
	// 15 minutes without acknowledgment.
	created, err := reminders.Create(ctx, &reminder.CreateRequest{
		CreatorID: "creator",
		Recipient: "user-1",
		Content:   "weekly report",
		Timezone:  "Europe/Berlin",
		Schedule: store.ScheduleSpec{
			Type:      store.ScheduleWeekly,
			TimeOfDay: "09:00",
			Weekdays:  []time.Weekday{time.Monday},
		},
		Escalation: &store.EscalationPolicy{
			Enabled:              true,
			MaxLevel:             1,
			StopOnAcknowledgment: true,
			Levels: []store.EscalationLevel{
				{Level: 1, DelayMinutes: 15, Targets: []string{"user-2"}},
			},
		},
	})
	require.NoError(t, err)

	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	require.NotNil(t, created.NextDueTs)
	due := time.Unix(*created.NextDueTs, 0).In(berlin)
	assert.Equal(t, time.Monday, due.Weekday())
	assert.Equal(t, 9, due.Hour())
	assert.Equal(t, 0, due.Minute())

	// Bring the due instant into the past so the next cycle picks it up.
	pastDue := time.Now().Add(-time.Minute).Unix()
	_, err = st.UpdateReminder(ctx, &store.UpdateReminder{ID: created.ID, NextDueTs: &pastDue})
	require.NoError(t, err)

	cycle, err := dispatchService.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cycle.Delivered)
	assert.Equal(t, 1, mock.SendCount("user-1"))

	// The schedule advanced to the following Monday 09:00 Berlin time.
	after, err := st.GetReminder(ctx, &store.FindReminder{UID: &created.UID})
	require.NoError(t, err)
	require.NotNil(t, after.NextDueTs)
	next := time.Unix(*after.NextDueTs, 0).In(berlin)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, 9, next.Hour())
	assert.Greater(t, *after.NextDueTs, time.Now().Unix())

	deliveries, err := st.ListDeliveries(ctx, &store.FindDelivery{ReminderID: &created.ID})
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	original := deliveries[0]

	// Within the delay window nothing escalates.
	check, err := engine.RunCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, check.Escalated)

	// Simulate 16 minutes passing without acknowledgment.
	backdated := time.Now().Add(-16 * time.Minute).Unix()
	_, err = st.UpdateDelivery(ctx, &store.UpdateDelivery{ID: original.ID, DeliveredTs: &backdated})
	require.NoError(t, err)

	check, err = engine.RunCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, check.Escalated)

	isEscalation := true
	escalations, err := st.ListDeliveries(ctx, &store.FindDelivery{
		ReminderID:   &created.ID,
		IsEscalation: &isEscalation,
	})
	require.NoError(t, err)
	require.Len(t, escalations, 1)
	assert.Equal(t, "user-2", escalations[0].Recipient)
	require.NotNil(t, escalations[0].EscalationLevel)
	assert.Equal(t, 1, *escalations[0].EscalationLevel)
	require.NotNil(t, escalations[0].OriginalDeliveryID)
	assert.Equal(t, original.ID, *escalations[0].OriginalDeliveryID)

	// The chain reached its max level: further checks are no-ops.
	check, err = engine.RunCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, check.Escalated)

	escalations, err = st.ListDeliveries(ctx, &store.FindDelivery{
		ReminderID:   &created.ID,
		IsEscalation: &isEscalation,
	})
	require.NoError(t, err)
	assert.Len(t, escalations, 1)
}
