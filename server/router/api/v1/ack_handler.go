package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/remindkit/remindkit/server/service/ack"
)

type acknowledgeRequest struct {
	Action        string         `json:"action"`
	Method        string         `json:"method,omitempty"`
	SnoozeMinutes int            `json:"snoozeMinutes,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type acknowledgeResponse struct {
	Delivery      *deliveryResponse `json:"delivery"`
	Reminder      *reminderResponse `json:"reminder"`
	Partial       bool              `json:"partial,omitempty"`
	PartialReason string            `json:"partialReason,omitempty"`
}

func (s *APIV1Service) acknowledgeDelivery(c echo.Context) error {
	req := &acknowledgeRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	method := req.Method
	if method == "" {
		method = "api"
	}

	result, err := s.Ack.ProcessAcknowledgment(c.Request().Context(), &ack.Request{
		DeliveryUID:   c.Param("uid"),
		ActorID:       actorID(c),
		Action:        ack.Action(req.Action),
		Method:        method,
		SnoozeMinutes: req.SnoozeMinutes,
		Metadata:      req.Metadata,
	})
	if err != nil {
		return toHTTPError(err)
	}

	// A partial result means the acknowledgment stands but a side effect
	// failed; 207 lets the client distinguish that from full success.
	status := http.StatusOK
	if result.Partial {
		status = http.StatusMultiStatus
	}
	return c.JSON(status, &acknowledgeResponse{
		Delivery:      convertDelivery(result.Delivery),
		Reminder:      convertReminder(result.Reminder),
		Partial:       result.Partial,
		PartialReason: result.PartialReason,
	})
}

func (s *APIV1Service) escalateDelivery(c echo.Context) error {
	executed, err := s.Escalation.TriggerManual(c.Request().Context(), c.Param("uid"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"executed": executed})
}
