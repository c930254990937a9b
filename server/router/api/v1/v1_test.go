package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remindkit/remindkit/internal/profile"
	"github.com/remindkit/remindkit/server/notifier"
	"github.com/remindkit/remindkit/server/scheduler/dispatch"
	"github.com/remindkit/remindkit/server/scheduler/escalation"
	"github.com/remindkit/remindkit/server/service/ack"
	"github.com/remindkit/remindkit/server/service/reminder"
	"github.com/remindkit/remindkit/server/stats"
	"github.com/remindkit/remindkit/store"
	teststore "github.com/remindkit/remindkit/store/test"
)

func newTestAPI(t *testing.T) (*echo.Echo, *store.Store, *notifier.MockNotifier) {
	t.Helper()

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
		HealthStaleCycle:     3 * time.Minute,
		HealthFailureRate:    0.1,
		UnhealthyStaleCycle:  10 * time.Minute,
		UnhealthyFailureRate: 0.5,
	}

	st, _ := teststore.NewTestStore()
	mock := notifier.NewMockNotifier()

	resolver := escalation.NewResolverRegistry()
	engine := escalation.NewEngine(st, mock, resolver, p, nil)
	dispatchService := dispatch.NewService(st, mock, p, nil)
	collector := stats.NewCollector(st)

	api := NewAPIV1Service(
		p, st,
		reminder.NewService(st, p, nil),
		ack.NewTracker(st, engine, nil),
		dispatchService,
		engine,
		collector,
		nil,
	)

	e := echo.New()
	api.Register(e)
	return e, st, mock
}

func doJSON(e *echo.Echo, method, path, actor string, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if actor != "" {
		req.Header.Set(actorHeader, actor)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndGetReminder(t *testing.T) {
	e, _, _ := newTestAPI(t)

	rec := doJSON(e, http.MethodPost, "/api/v1/reminders", "creator", `{
		"recipient": "user-1",
		"content": "submit the report",
		"timezone": "Europe/Berlin",
		"schedule": {"type": "daily", "timeOfDay": "09:00"}
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created reminderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.UID)
	assert.Equal(t, "creator", created.CreatorID)
	assert.Equal(t, store.ReminderStatusActive, created.Status)
	require.NotNil(t, created.NextDueTs)

	rec = doJSON(e, http.MethodGet, "/api/v1/reminders/"+created.UID, "creator", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(e, http.MethodGet, "/api/v1/reminders/missing", "creator", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateValidationError(t *testing.T) {
	e, _, _ := newTestAPI(t)

	rec := doJSON(e, http.MethodPost, "/api/v1/reminders", "creator", `{
		"recipient": "user-1",
		"content": "",
		"schedule": {"type": "daily", "timeOfDay": "09:00"}
	}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION")
}

func TestUpdateUnauthorizedMapsTo403(t *testing.T) {
	e, _, _ := newTestAPI(t)

	rec := doJSON(e, http.MethodPost, "/api/v1/reminders", "creator", `{
		"recipient": "user-1",
		"content": "water plants",
		"schedule": {"type": "daily", "timeOfDay": "09:00"}
	}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created reminderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(e, http.MethodPatch, "/api/v1/reminders/"+created.UID, "someone-else", `{"content": "changed"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")
}

func TestPauseResumeCancelFlow(t *testing.T) {
	e, _, _ := newTestAPI(t)

	rec := doJSON(e, http.MethodPost, "/api/v1/reminders", "creator", `{
		"recipient": "user-1",
		"content": "standup",
		"schedule": {"type": "daily", "timeOfDay": "09:00"}
	}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created reminderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(e, http.MethodPost, "/api/v1/reminders/"+created.UID+"/pause", "creator", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var paused reminderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &paused))
	assert.Equal(t, store.ReminderStatusPaused, paused.Status)
	assert.Nil(t, paused.NextDueTs)

	rec = doJSON(e, http.MethodPost, "/api/v1/reminders/"+created.UID+"/resume", "creator", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/v1/reminders/"+created.UID+"/cancel", "creator", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Cancelling a finished reminder is a validation error.
	rec = doJSON(e, http.MethodPost, "/api/v1/reminders/"+created.UID+"/cancel", "creator", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func seedDelivered(t *testing.T, st *store.Store) (*store.Reminder, *store.Delivery) {
	t.Helper()
	ctx := context.Background()

	deliveredTs := time.Now().Add(-10 * time.Minute).Unix()
	created, err := st.CreateReminder(ctx, &store.Reminder{
		UID:             "rem-api",
		CreatorID:       "creator",
		Recipient:       "user-1",
		Content:         "check backups",
		Timezone:        "UTC",
		Status:          store.ReminderStatusActive,
		Schedule:        store.ScheduleSpec{Type: store.ScheduleDaily, TimeOfDay: "09:00"},
		LastDeliveredTs: &deliveredTs,
	})
	require.NoError(t, err)

	delivery, err := st.CreateDelivery(ctx, &store.Delivery{
		UID:         "del-api",
		ReminderID:  created.ID,
		Recipient:   "user-1",
		Status:      store.DeliveryStatusDelivered,
		DeliveredTs: &deliveredTs,
	})
	require.NoError(t, err)
	return created, delivery
}

func TestAcknowledgeDelivery(t *testing.T) {
	e, st, _ := newTestAPI(t)
	_, delivery := seedDelivered(t, st)

	rec := doJSON(e, http.MethodPost, "/api/v1/deliveries/"+delivery.UID+"/ack", "user-1", `{"action": "complete"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result acknowledgeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Delivery.Acknowledged)
	assert.Equal(t, "api", result.Delivery.AckMethod)
	assert.Equal(t, store.ReminderStatusCompleted, result.Reminder.Status)

	// Repeated acknowledgment maps to 409.
	rec = doJSON(e, http.MethodPost, "/api/v1/deliveries/"+delivery.UID+"/ack", "user-1", `{"action": "complete"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "ALREADY_ACKNOWLEDGED")
}

func TestAcknowledgeUnknownDelivery(t *testing.T) {
	e, _, _ := newTestAPI(t)

	rec := doJSON(e, http.MethodPost, "/api/v1/deliveries/missing/ack", "user-1", `{"action": "react"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestManualEscalationEndpoint(t *testing.T) {
	e, st, mock := newTestAPI(t)
	ctx := context.Background()

	reminderRecord, delivery := seedDelivered(t, st)
	policy := &store.EscalationPolicy{
		Enabled:              true,
		MaxLevel:             1,
		StopOnAcknowledgment: true,
		Levels: []store.EscalationLevel{
			{Level: 1, DelayMinutes: 60, Targets: []string{"user-2"}},
		},
	}
	_, err := st.UpdateReminder(ctx, &store.UpdateReminder{ID: reminderRecord.ID, Escalation: policy})
	require.NoError(t, err)

	// Manual trigger bypasses the delay.
	rec := doJSON(e, http.MethodPost, "/api/v1/deliveries/"+delivery.UID+"/escalate", "creator", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"executed":true`)
	assert.Len(t, mock.EscalationSends, 1)

	rec = doJSON(e, http.MethodPost, "/api/v1/deliveries/missing/escalate", "creator", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	e, _, _ := newTestAPI(t)

	// No runner started and no cycle recorded: unhealthy.
	rec := doJSON(e, http.MethodGet, "/api/v1/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var snapshot dispatch.HealthSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, dispatch.HealthUnhealthy, snapshot.Status)
	assert.False(t, snapshot.Running)
}

func TestStatsEndpoint(t *testing.T) {
	e, st, _ := newTestAPI(t)
	seedDelivered(t, st)

	rec := doJSON(e, http.MethodGet, "/api/v1/stats", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestActivityListing(t *testing.T) {
	e, st, _ := newTestAPI(t)
	ctx := context.Background()

	_, err := st.CreateActivity(ctx, &store.Activity{
		Type:        store.ActivityReminderCreated,
		ReminderUID: "rem-1",
		ActorID:     "creator",
		Payload:     "{}",
	})
	require.NoError(t, err)

	rec := doJSON(e, http.MethodGet, "/api/v1/activities?reminderUid=rem-1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var activities []*activityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &activities))
	require.Len(t, activities, 1)
	assert.Equal(t, store.ActivityReminderCreated, activities[0].Type)
}
