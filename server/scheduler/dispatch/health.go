package dispatch

import (
	"context"
	"sync"
	"time"

	serviceerrors "github.com/remindkit/remindkit/server/internal/errors"
	"github.com/remindkit/remindkit/store"
)

// HealthStatus classifies the scheduler for an external health collaborator.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthSnapshot is the health/status surface produced for monitoring.
type HealthSnapshot struct {
	Status       HealthStatus `json:"status"`
	Running      bool         `json:"running"`
	LastCycleTs  int64        `json:"lastCycleTs"`
	CycleCount   int64        `json:"cycleCount"`
	SuccessCount int64        `json:"successCount"`
	FailureCount int64        `json:"failureCount"`
	FailureRate  float64      `json:"failureRate"`
	DueCount     int          `json:"dueCount"`
	OverdueCount int          `json:"overdueCount"`
}

type cycleStats struct {
	mu           sync.Mutex
	running      bool
	lastCycle    time.Time
	cycleCount   int64
	successCount int64
	failureCount int64
}

func (c *cycleStats) recordCycle(at time.Time, delivered, failed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastCycle = at
	c.cycleCount++
	c.successCount += int64(delivered)
	c.failureCount += int64(failed)
}

func (c *cycleStats) setRunning(running bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = running
}

func (c *cycleStats) snapshot() (running bool, lastCycle time.Time, cycles, successes, failures int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running, c.lastCycle, c.cycleCount, c.successCount, c.failureCount
}

// SetRunning records whether the periodic runner is active. The runner calls
// this on start/stop; manual run-one-cycle invocations leave it false.
func (s *Service) SetRunning(running bool) {
	s.stats.setRunning(running)
}

// Health reports the current health classification along with cycle
// statistics and due/overdue counts.
func (s *Service) Health(ctx context.Context) (*HealthSnapshot, error) {
	running, lastCycle, cycles, successes, failures := s.stats.snapshot()

	now := s.now()
	status := store.ReminderStatusActive

	dueCutoff := now.Add(s.profile.GracePeriod).Unix()
	due, err := s.store.ListReminders(ctx, &store.FindReminder{Status: &status, NextDueBefore: &dueCutoff})
	if err != nil {
		return nil, serviceerrors.Storage("failed to count due reminders", err)
	}

	// Overdue means missed by more than a full poll interval.
	overdueCutoff := now.Add(-s.profile.PollInterval).Unix()
	overdue, err := s.store.ListReminders(ctx, &store.FindReminder{Status: &status, NextDueBefore: &overdueCutoff})
	if err != nil {
		return nil, serviceerrors.Storage("failed to count overdue reminders", err)
	}

	var failureRate float64
	if total := successes + failures; total > 0 {
		failureRate = float64(failures) / float64(total)
	}

	snapshot := &HealthSnapshot{
		Running:      running,
		CycleCount:   cycles,
		SuccessCount: successes,
		FailureCount: failures,
		FailureRate:  failureRate,
		DueCount:     len(due),
		OverdueCount: len(overdue),
	}
	if !lastCycle.IsZero() {
		snapshot.LastCycleTs = lastCycle.Unix()
	}

	staleness := now.Sub(lastCycle)
	switch {
	case !running, lastCycle.IsZero(), staleness > s.profile.UnhealthyStaleCycle, failureRate >= s.profile.UnhealthyFailureRate && failures > 0:
		snapshot.Status = HealthUnhealthy
	case staleness > s.profile.HealthStaleCycle, failureRate >= s.profile.HealthFailureRate && failures > 0:
		snapshot.Status = HealthDegraded
	default:
		snapshot.Status = HealthHealthy
	}
	return snapshot, nil
}
