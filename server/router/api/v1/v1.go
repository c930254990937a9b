// Package v1 exposes the reminder service over a JSON HTTP API.
package v1

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/remindkit/remindkit/internal/profile"
	serviceerrors "github.com/remindkit/remindkit/server/internal/errors"
	"github.com/remindkit/remindkit/server/middleware"
	"github.com/remindkit/remindkit/server/scheduler/dispatch"
	"github.com/remindkit/remindkit/server/scheduler/escalation"
	"github.com/remindkit/remindkit/server/service/ack"
	"github.com/remindkit/remindkit/server/service/reminder"
	"github.com/remindkit/remindkit/server/stats"
	"github.com/remindkit/remindkit/store"
)

// actorHeader carries the acting user's identifier. The service trusts the
// deployment's edge to authenticate; authorization against the record is
// enforced per operation.
const actorHeader = "X-Actor-ID"

// APIV1Service wires the service layer into the echo router.
type APIV1Service struct {
	Profile *profile.Profile
	Store   *store.Store

	Reminders  *reminder.Service
	Ack        *ack.Tracker
	Dispatch   *dispatch.Service
	Escalation *escalation.Engine
	Stats      *stats.Collector

	logger     *slog.Logger
	ackLimiter *middleware.RateLimiter
}

// NewAPIV1Service creates the API service.
func NewAPIV1Service(
	p *profile.Profile,
	st *store.Store,
	reminders *reminder.Service,
	ackTracker *ack.Tracker,
	dispatchService *dispatch.Service,
	escalationEngine *escalation.Engine,
	statsCollector *stats.Collector,
	logger *slog.Logger,
) *APIV1Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIV1Service{
		Profile:    p,
		Store:      st,
		Reminders:  reminders,
		Ack:        ackTracker,
		Dispatch:   dispatchService,
		Escalation: escalationEngine,
		Stats:      statsCollector,
		logger:     logger,
		ackLimiter: middleware.NewRateLimiter(100*time.Millisecond, 20),
	}
}

// Register mounts all v1 routes on the echo server.
func (s *APIV1Service) Register(e *echo.Echo) {
	g := e.Group("/api/v1")

	g.POST("/reminders", s.createReminder)
	g.GET("/reminders", s.listReminders)
	g.GET("/reminders/:uid", s.getReminder)
	g.PATCH("/reminders/:uid", s.updateReminder)
	g.POST("/reminders/:uid/pause", s.pauseReminder)
	g.POST("/reminders/:uid/resume", s.resumeReminder)
	g.POST("/reminders/:uid/cancel", s.cancelReminder)
	g.GET("/reminders/:uid/deliveries", s.listDeliveries)

	g.POST("/deliveries/:uid/ack", s.acknowledgeDelivery, s.ackLimiter.Middleware())
	g.POST("/deliveries/:uid/escalate", s.escalateDelivery)

	g.GET("/activities", s.listActivities)
	g.GET("/health", s.health)
	g.GET("/stats", s.getStats)
}

func actorID(c echo.Context) string {
	return c.Request().Header.Get(actorHeader)
}

// toHTTPError maps the service error taxonomy onto HTTP statuses. Unknown
// errors surface as 500 without leaking internals.
func toHTTPError(err error) *echo.HTTPError {
	code := serviceerrors.GetCodeFromError(err, serviceerrors.ErrCodeStorage)
	status := http.StatusInternalServerError
	switch code {
	case serviceerrors.ErrCodeValidation:
		status = http.StatusBadRequest
	case serviceerrors.ErrCodeUnauthorized:
		status = http.StatusForbidden
	case serviceerrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case serviceerrors.ErrCodeAlreadyAcknowledged:
		status = http.StatusConflict
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	return echo.NewHTTPError(status, map[string]any{
		"code":    string(code),
		"message": message,
	})
}
