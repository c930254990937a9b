// Package server assembles the HTTP server, the delivery scheduler, the
// escalation engine and the statistics collector into one runnable unit.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/remindkit/remindkit/internal/profile"
	"github.com/remindkit/remindkit/server/notifier"
	apiv1 "github.com/remindkit/remindkit/server/router/api/v1"
	"github.com/remindkit/remindkit/server/scheduler/dispatch"
	"github.com/remindkit/remindkit/server/scheduler/escalation"
	"github.com/remindkit/remindkit/server/service/ack"
	"github.com/remindkit/remindkit/server/service/reminder"
	"github.com/remindkit/remindkit/server/stats"
	"github.com/remindkit/remindkit/store"
)

// Server is the remindkit process.
type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	logger     *slog.Logger

	dispatchRunner   *dispatch.Runner
	escalationRunner *escalation.Runner
	statsCollector   *stats.Collector
	statsCancel      context.CancelFunc
}

// NewServer wires the service stack onto the given store.
func NewServer(ctx context.Context, p *profile.Profile, st *store.Store, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())

	dispatcher := notifier.NewDispatcher(notifier.ChannelLog, logger)
	dispatcher.Register(notifier.ChannelLog, notifier.NewLogSender(logger))
	if p.WebhookURL != "" {
		dispatcher.Register(notifier.ChannelWebhook, notifier.NewWebhookSender(notifier.WebhookConfig{
			URL:               p.WebhookURL,
			Secret:            p.WebhookSecret,
			Timeout:           p.WebhookTimeout,
			RequestsPerSecond: p.WebhookRPS,
		}, logger))
	}

	resolver := escalation.NewResolverRegistry()
	escalationEngine := escalation.NewEngine(st, dispatcher, resolver, p, logger)
	dispatchService := dispatch.NewService(st, dispatcher, p, logger)
	statsCollector := stats.NewCollector(st)

	apiService := apiv1.NewAPIV1Service(
		p, st,
		reminder.NewService(st, p, logger),
		ack.NewTracker(st, escalationEngine, logger),
		dispatchService,
		escalationEngine,
		statsCollector,
		logger,
	)
	apiService.Register(e)

	return &Server{
		Profile:          p,
		Store:            st,
		echoServer:       e,
		logger:           logger,
		dispatchRunner:   dispatch.NewRunner(dispatchService, p.PollInterval, logger),
		escalationRunner: escalation.NewRunner(escalationEngine, p.EscalationInterval, logger),
		statsCollector:   statsCollector,
	}, nil
}

// Start launches the background runners and the HTTP listener. It returns
// once the listener stops.
func (s *Server) Start(ctx context.Context) error {
	s.dispatchRunner.Start(ctx)
	s.escalationRunner.Start(ctx)

	statsCtx, cancel := context.WithCancel(ctx)
	s.statsCancel = cancel
	s.statsCollector.Start(statsCtx, 15*time.Minute)

	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	s.logger.Info("remindkit server started",
		"address", address,
		"version", s.Profile.Version,
		"mode", s.Profile.Mode,
	)
	return s.echoServer.Start(address)
}

// Shutdown stops the runners and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.dispatchRunner.Stop()
	s.escalationRunner.Stop()
	if s.statsCancel != nil {
		s.statsCancel()
	}
	s.statsCollector.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.echoServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "failed to shut down http server")
	}

	s.logger.Info("remindkit server stopped")
	return nil
}
