package reminder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remindkit/remindkit/internal/profile"
	serviceerrors "github.com/remindkit/remindkit/server/internal/errors"
	"github.com/remindkit/remindkit/store"
	teststore "github.com/remindkit/remindkit/store/test"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, _ := teststore.NewTestStore()
	svc := NewService(st, &profile.Profile{Mode: "test", DefaultTimezone: "UTC"}, nil)
	return svc, st
}

func validCreate() *CreateRequest {
	return &CreateRequest{
		CreatorID: "creator",
		Recipient: "user-1",
		Content:   "water the plants",
		Timezone:  "Europe/Berlin",
		Schedule:  store.ScheduleSpec{Type: store.ScheduleDaily, TimeOfDay: "08:00"},
	}
}

func TestCreateComputesInitialDue(t *testing.T) {
	svc, _ := newTestService(t)

	created, err := svc.Create(context.Background(), validCreate())
	require.NoError(t, err)
	assert.NotEmpty(t, created.UID)
	assert.Equal(t, store.ReminderStatusActive, created.Status)
	require.NotNil(t, created.NextDueTs)
	assert.Greater(t, *created.NextDueTs, time.Now().Unix())
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	req := validCreate()
	req.Content = ""
	_, err := svc.Create(ctx, req)
	assert.True(t, serviceerrors.IsCode(err, serviceerrors.ErrCodeValidation))

	// once without startDate is rejected at creation.
	req = validCreate()
	req.Schedule = store.ScheduleSpec{Type: store.ScheduleOnce, TimeOfDay: "10:00"}
	_, err = svc.Create(ctx, req)
	assert.True(t, serviceerrors.IsCode(err, serviceerrors.ErrCodeValidation))

	req = validCreate()
	req.Timezone = "Mars/Olympus"
	_, err = svc.Create(ctx, req)
	assert.True(t, serviceerrors.IsCode(err, serviceerrors.ErrCodeValidation))

	req = validCreate()
	req.Escalation = &store.EscalationPolicy{Enabled: true, MaxLevel: 1}
	_, err = svc.Create(ctx, req)
	assert.True(t, serviceerrors.IsCode(err, serviceerrors.ErrCodeValidation))
}

func TestCreateCustomScheduleCompletesImmediately(t *testing.T) {
	svc, _ := newTestService(t)

	req := validCreate()
	req.Schedule = store.ScheduleSpec{Type: store.ScheduleCustom, CronExpression: "0 9 * * 1"}
	created, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, store.ReminderStatusCompleted, created.Status)
	assert.Nil(t, created.NextDueTs)
}

func TestCreateDraftHasNoDueInstant(t *testing.T) {
	svc, _ := newTestService(t)

	req := validCreate()
	req.Draft = true
	created, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, store.ReminderStatusDraft, created.Status)
	assert.Nil(t, created.NextDueTs)
}

func TestUpdateScheduleRecomputesDue(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	newSchedule := &store.ScheduleSpec{
		Type:      store.ScheduleWeekly,
		TimeOfDay: "10:00",
		Weekdays:  []time.Weekday{time.Friday},
	}
	updated, err := svc.Update(ctx, created.UID, &UpdateRequest{
		ActorID:  "creator",
		Schedule: newSchedule,
	})
	require.NoError(t, err)
	assert.Equal(t, store.ScheduleWeekly, updated.Schedule.Type)
	require.NotNil(t, updated.NextDueTs)
	assert.Equal(t, time.Friday, time.Unix(*updated.NextDueTs, 0).In(time.UTC).Weekday())
}

func TestUpdateUnauthorized(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	content := "changed"
	_, err = svc.Update(ctx, created.UID, &UpdateRequest{ActorID: "user-1", Content: &content})
	assert.True(t, serviceerrors.IsCode(err, serviceerrors.ErrCodeUnauthorized))
}

func TestPauseResume(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	paused, err := svc.Pause(ctx, created.UID, "creator")
	require.NoError(t, err)
	assert.Equal(t, store.ReminderStatusPaused, paused.Status)
	// Invariant: non-active reminders carry no due instant.
	assert.Nil(t, paused.NextDueTs)

	// Pausing twice fails.
	_, err = svc.Pause(ctx, created.UID, "creator")
	assert.True(t, serviceerrors.IsCode(err, serviceerrors.ErrCodeValidation))

	resumed, err := svc.Resume(ctx, created.UID, "creator")
	require.NoError(t, err)
	assert.Equal(t, store.ReminderStatusActive, resumed.Status)
	require.NotNil(t, resumed.NextDueTs)
}

func TestResumeExhaustedScheduleCompletes(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	req := validCreate()
	req.Schedule = store.ScheduleSpec{
		Type:      store.ScheduleDaily,
		TimeOfDay: "08:00",
		EndDate:   time.Now().AddDate(0, 0, 2).Format("2006-01-02"),
	}
	created, err := svc.Create(ctx, req)
	require.NoError(t, err)

	_, err = svc.Pause(ctx, created.UID, "creator")
	require.NoError(t, err)

	// Simulate the end date passing while paused.
	schedule := created.Schedule
	schedule.EndDate = time.Now().AddDate(0, 0, -1).Format("2006-01-02")
	_, err = st.UpdateReminder(ctx, &store.UpdateReminder{ID: created.ID, Schedule: &schedule})
	require.NoError(t, err)

	resumed, err := svc.Resume(ctx, created.UID, "creator")
	require.NoError(t, err)
	assert.Equal(t, store.ReminderStatusCompleted, resumed.Status)
	assert.Nil(t, resumed.NextDueTs)
}

func TestCancel(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, created.UID, "creator")
	require.NoError(t, err)
	assert.Equal(t, store.ReminderStatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.NextDueTs)

	_, err = svc.Cancel(ctx, created.UID, "creator")
	assert.True(t, serviceerrors.IsCode(err, serviceerrors.ErrCodeValidation))
}

func TestListFilters(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	other := validCreate()
	other.CreatorID = "other-creator"
	_, err = svc.Create(ctx, other)
	require.NoError(t, err)

	creator := "creator"
	list, err := svc.List(ctx, &ListRequest{CreatorID: &creator})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = svc.List(ctx, &ListRequest{})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestActivitiesEmitted(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	_, err = svc.Pause(ctx, created.UID, "creator")
	require.NoError(t, err)
	_, err = svc.Resume(ctx, created.UID, "creator")
	require.NoError(t, err)

	activities, err := st.ListActivities(ctx, &store.FindActivity{ReminderUID: &created.UID})
	require.NoError(t, err)
	require.Len(t, activities, 3)

	types := map[store.ActivityType]bool{}
	for _, a := range activities {
		types[a.Type] = true
	}
	assert.True(t, types[store.ActivityReminderCreated])
	assert.True(t, types[store.ActivityReminderPaused])
	assert.True(t, types[store.ActivityReminderResumed])
}
