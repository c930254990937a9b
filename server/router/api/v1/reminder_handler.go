package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/remindkit/remindkit/server/service/reminder"
	"github.com/remindkit/remindkit/store"
)

type createReminderRequest struct {
	Recipient  string                  `json:"recipient"`
	Content    string                  `json:"content"`
	Timezone   string                  `json:"timezone"`
	Schedule   store.ScheduleSpec      `json:"schedule"`
	Escalation *store.EscalationPolicy `json:"escalation,omitempty"`
	Draft      bool                    `json:"draft,omitempty"`
}

func (s *APIV1Service) createReminder(c echo.Context) error {
	req := &createReminderRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	created, err := s.Reminders.Create(c.Request().Context(), &reminder.CreateRequest{
		CreatorID:  actorID(c),
		Recipient:  req.Recipient,
		Content:    req.Content,
		Timezone:   req.Timezone,
		Schedule:   req.Schedule,
		Escalation: req.Escalation,
		Draft:      req.Draft,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, convertReminder(created))
}

func (s *APIV1Service) listReminders(c echo.Context) error {
	req := &reminder.ListRequest{}
	if creator := c.QueryParam("creatorId"); creator != "" {
		req.CreatorID = &creator
	}
	if recipient := c.QueryParam("recipient"); recipient != "" {
		req.Recipient = &recipient
	}
	if status := c.QueryParam("status"); status != "" {
		reminderStatus := store.ReminderStatus(status)
		req.Status = &reminderStatus
	}
	var limit, offset int
	if err := echo.QueryParamsBinder(c).Int("limit", &limit).Int("offset", &offset).BindError(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid pagination parameter")
	}
	if limit > 0 {
		req.Limit = &limit
	}
	if offset > 0 {
		req.Offset = &offset
	}

	list, err := s.Reminders.List(c.Request().Context(), req)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, convertReminderList(list))
}

func (s *APIV1Service) getReminder(c echo.Context) error {
	found, err := s.Reminders.Get(c.Request().Context(), c.Param("uid"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, convertReminder(found))
}

type updateReminderRequest struct {
	Recipient  *string                 `json:"recipient,omitempty"`
	Content    *string                 `json:"content,omitempty"`
	Timezone   *string                 `json:"timezone,omitempty"`
	Schedule   *store.ScheduleSpec     `json:"schedule,omitempty"`
	Escalation *store.EscalationPolicy `json:"escalation,omitempty"`
}

func (s *APIV1Service) updateReminder(c echo.Context) error {
	req := &updateReminderRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	updated, err := s.Reminders.Update(c.Request().Context(), c.Param("uid"), &reminder.UpdateRequest{
		ActorID:    actorID(c),
		Recipient:  req.Recipient,
		Content:    req.Content,
		Timezone:   req.Timezone,
		Schedule:   req.Schedule,
		Escalation: req.Escalation,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, convertReminder(updated))
}

func (s *APIV1Service) pauseReminder(c echo.Context) error {
	paused, err := s.Reminders.Pause(c.Request().Context(), c.Param("uid"), actorID(c))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, convertReminder(paused))
}

func (s *APIV1Service) resumeReminder(c echo.Context) error {
	resumed, err := s.Reminders.Resume(c.Request().Context(), c.Param("uid"), actorID(c))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, convertReminder(resumed))
}

func (s *APIV1Service) cancelReminder(c echo.Context) error {
	cancelled, err := s.Reminders.Cancel(c.Request().Context(), c.Param("uid"), actorID(c))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, convertReminder(cancelled))
}

func (s *APIV1Service) listDeliveries(c echo.Context) error {
	deliveries, err := s.Reminders.ListDeliveries(c.Request().Context(), c.Param("uid"))
	if err != nil {
		return toHTTPError(err)
	}
	out := make([]*deliveryResponse, 0, len(deliveries))
	for _, d := range deliveries {
		out = append(out, convertDelivery(d))
	}
	return c.JSON(http.StatusOK, out)
}
