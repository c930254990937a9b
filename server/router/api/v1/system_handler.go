package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/remindkit/remindkit/server/scheduler/dispatch"
	"github.com/remindkit/remindkit/store"
)

// health reports the scheduler's health classification. Degraded still
// returns 200 so load balancers only rotate out unhealthy instances.
func (s *APIV1Service) health(c echo.Context) error {
	snapshot, err := s.Dispatch.Health(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}

	status := http.StatusOK
	if snapshot.Status == dispatch.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, snapshot)
}

func (s *APIV1Service) getStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Stats.GetStats())
}

func (s *APIV1Service) listActivities(c echo.Context) error {
	find := &store.FindActivity{}
	if activityType := c.QueryParam("type"); activityType != "" {
		t := store.ActivityType(activityType)
		find.Type = &t
	}
	if reminderUID := c.QueryParam("reminderUid"); reminderUID != "" {
		find.ReminderUID = &reminderUID
	}
	if actor := c.QueryParam("actorId"); actor != "" {
		find.ActorID = &actor
	}
	var limit, offset int
	if err := echo.QueryParamsBinder(c).Int("limit", &limit).Int("offset", &offset).BindError(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid pagination parameter")
	}
	if limit > 0 {
		find.Limit = &limit
	}
	if offset > 0 {
		find.Offset = &offset
	}

	activities, err := s.Store.ListActivities(c.Request().Context(), find)
	if err != nil {
		return toHTTPError(err)
	}
	out := make([]*activityResponse, 0, len(activities))
	for _, a := range activities {
		out = append(out, convertActivity(a))
	}
	return c.JSON(http.StatusOK, out)
}
