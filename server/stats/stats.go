// Package stats provides lightweight local usage statistics for the
// reminder service, a small alternative to an external metrics stack.
package stats

import (
	"context"
	"sync"
	"time"

	"github.com/remindkit/remindkit/store"
)

// Stats is a point-in-time summary of reminder and delivery state.
type Stats struct {
	// Reminder counts by lifecycle status.
	TotalReminders     int64 `json:"totalReminders"`
	ActiveReminders    int64 `json:"activeReminders"`
	PausedReminders    int64 `json:"pausedReminders"`
	CompletedReminders int64 `json:"completedReminders"`
	FailedReminders    int64 `json:"failedReminders"`

	// Delivery counts.
	TotalDeliveries      int64 `json:"totalDeliveries"`
	DeliveredCount       int64 `json:"deliveredCount"`
	FailedDeliveries     int64 `json:"failedDeliveries"`
	AcknowledgedCount    int64 `json:"acknowledgedCount"`
	EscalationDeliveries int64 `json:"escalationDeliveries"`
	// AckRate is acknowledged / delivered, 0 when nothing was delivered.
	AckRate float64 `json:"ackRate"`

	// Activity counts over the trailing day.
	ActivitiesToday int64 `json:"activitiesToday"`

	LastUpdated time.Time `json:"lastUpdated"`
}

// Collector periodically gathers statistics from the store.
type Collector struct {
	store *store.Store

	mu       sync.Mutex
	stats    *Stats
	tickStop chan struct{}
	stopOnce sync.Once
}

// NewCollector creates a statistics collector.
func NewCollector(st *store.Store) *Collector {
	return &Collector{
		store:    st,
		stats:    &Stats{},
		tickStop: make(chan struct{}),
	}
}

// Start begins periodic collection at the given interval.
func (c *Collector) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	c.Collect(ctx)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Collect(ctx)
			case <-ctx.Done():
				return
			case <-c.tickStop:
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.tickStop) })
}

// GetStats returns a copy of the current statistics.
func (c *Collector) GetStats() *Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := *c.stats
	return &snapshot
}

// Collect gathers statistics from the store now.
func (c *Collector) Collect(ctx context.Context) {
	now := time.Now()
	next := &Stats{LastUpdated: now}

	if reminders, err := c.store.ListReminders(ctx, &store.FindReminder{}); err == nil {
		next.TotalReminders = int64(len(reminders))
		for _, r := range reminders {
			switch r.Status {
			case store.ReminderStatusActive:
				next.ActiveReminders++
			case store.ReminderStatusPaused:
				next.PausedReminders++
			case store.ReminderStatusCompleted:
				next.CompletedReminders++
			case store.ReminderStatusFailed:
				next.FailedReminders++
			}
		}
	}

	if deliveries, err := c.store.ListDeliveries(ctx, &store.FindDelivery{}); err == nil {
		next.TotalDeliveries = int64(len(deliveries))
		for _, d := range deliveries {
			switch d.Status {
			case store.DeliveryStatusDelivered:
				next.DeliveredCount++
			case store.DeliveryStatusFailed:
				next.FailedDeliveries++
			}
			if d.Acknowledged {
				next.AcknowledgedCount++
			}
			if d.IsEscalation {
				next.EscalationDeliveries++
			}
		}
		if next.DeliveredCount > 0 {
			next.AckRate = float64(next.AcknowledgedCount) / float64(next.DeliveredCount)
		}
	}

	dayAgo := now.AddDate(0, 0, -1).Unix()
	if activities, err := c.store.ListActivities(ctx, &store.FindActivity{}); err == nil {
		for _, a := range activities {
			if a.CreatedTs >= dayAgo {
				next.ActivitiesToday++
			}
		}
	}

	c.mu.Lock()
	c.stats = next
	c.mu.Unlock()
}
