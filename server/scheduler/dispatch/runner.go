package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Runner drives the delivery service on a fixed cadence. Stopping means
// "stop accepting new ticks"; an in-flight cycle finishes on its own.
type Runner struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewRunner creates a runner for the delivery service.
func NewRunner(service *Service, interval time.Duration, logger *slog.Logger) *Runner {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		service:  service,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the periodic loop. Starting an already-running runner is a
// no-op.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.mu.Unlock()

	r.service.SetRunning(true)
	r.wg.Add(1)
	go r.run(ctx)

	r.logger.Info("delivery runner started", "interval", r.interval)
}

// Stop stops the periodic loop and waits for the in-flight cycle.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
	r.service.SetRunning(false)
	r.logger.Info("delivery runner stopped")
}

// IsRunning reports whether the runner is active.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Runner) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Run immediately on start.
	r.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	if _, err := r.service.RunCycle(ctx); err != nil {
		r.logger.Error("delivery cycle failed", "error", err)
	}
}
