// Package test provides an in-memory store.Driver so service and scheduler
// tests run without a database. Filtering and ordering mirror the SQL drivers.
package test

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/remindkit/remindkit/internal/profile"
	"github.com/remindkit/remindkit/store"
)

type MemoryDriver struct {
	mu sync.RWMutex

	reminders  map[int32]*store.Reminder
	deliveries map[int32]*store.Delivery
	activities []*store.Activity

	nextReminderID int32
	nextDeliveryID int32
	nextActivityID int32

	// Now is the clock used for created_ts/updated_ts stamping. Tests may
	// replace it to control time.
	Now func() time.Time
}

func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{
		reminders:      map[int32]*store.Reminder{},
		deliveries:     map[int32]*store.Delivery{},
		nextReminderID: 1,
		nextDeliveryID: 1,
		nextActivityID: 1,
		Now:            time.Now,
	}
}

// NewTestStore builds a Store backed by the in-memory driver with defaults
// suitable for unit tests.
func NewTestStore() (*store.Store, *MemoryDriver) {
	driver := NewMemoryDriver()
	p := &profile.Profile{
		Mode:      "test",
		Driver:    "memory",
		BatchSize: 50,
	}
	return store.New(driver, p), driver
}

func (d *MemoryDriver) GetDB() *sql.DB {
	return nil
}

func (d *MemoryDriver) Close() error {
	return nil
}

func (d *MemoryDriver) IsInitialized(context.Context) (bool, error) {
	return true, nil
}

func (d *MemoryDriver) CreateReminder(_ context.Context, create *store.Reminder) (*store.Reminder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.Now().Unix()
	create.ID = d.nextReminderID
	d.nextReminderID++
	create.CreatedTs = now
	create.UpdatedTs = now

	clone := cloneReminder(create)
	d.reminders[clone.ID] = clone
	return cloneReminder(clone), nil
}

func (d *MemoryDriver) ListReminders(_ context.Context, find *store.FindReminder) ([]*store.Reminder, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	list := make([]*store.Reminder, 0)
	for _, reminder := range d.reminders {
		if v := find.ID; v != nil && reminder.ID != *v {
			continue
		}
		if v := find.UID; v != nil && reminder.UID != *v {
			continue
		}
		if v := find.CreatorID; v != nil && reminder.CreatorID != *v {
			continue
		}
		if v := find.Recipient; v != nil && reminder.Recipient != *v {
			continue
		}
		if v := find.Status; v != nil && reminder.Status != *v {
			continue
		}
		if v := find.NextDueBefore; v != nil {
			if reminder.NextDueTs == nil || *reminder.NextDueTs > *v {
				continue
			}
		}
		list = append(list, cloneReminder(reminder))
	}

	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		switch {
		case a.NextDueTs == nil && b.NextDueTs == nil:
			return a.ID < b.ID
		case a.NextDueTs == nil:
			return false
		case b.NextDueTs == nil:
			return true
		case *a.NextDueTs != *b.NextDueTs:
			return *a.NextDueTs < *b.NextDueTs
		default:
			return a.ID < b.ID
		}
	})

	return paginate(list, find.Limit, find.Offset), nil
}

func (d *MemoryDriver) UpdateReminder(_ context.Context, update *store.UpdateReminder) (*store.Reminder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	reminder, ok := d.reminders[update.ID]
	if !ok {
		return nil, errors.Errorf("reminder not found: %d", update.ID)
	}

	if v := update.Recipient; v != nil {
		reminder.Recipient = *v
	}
	if v := update.Content; v != nil {
		reminder.Content = *v
	}
	if v := update.Timezone; v != nil {
		reminder.Timezone = *v
	}
	if v := update.Status; v != nil {
		reminder.Status = *v
	}
	if v := update.Schedule; v != nil {
		reminder.Schedule = *v
	}
	if v := update.Escalation; v != nil {
		reminder.Escalation = v
	}
	if update.ClearNextDue {
		reminder.NextDueTs = nil
	} else if v := update.NextDueTs; v != nil {
		ts := *v
		reminder.NextDueTs = &ts
	}
	if v := update.LastDeliveredTs; v != nil {
		ts := *v
		reminder.LastDeliveredTs = &ts
	}
	if v := update.OccurrenceCount; v != nil {
		reminder.OccurrenceCount = *v
	}
	if update.ClearSnooze {
		reminder.SnoozedUntilTs = nil
	} else if v := update.SnoozedUntilTs; v != nil {
		ts := *v
		reminder.SnoozedUntilTs = &ts
	}
	if v := update.FailStreak; v != nil {
		reminder.FailStreak = *v
	}
	reminder.UpdatedTs = d.Now().Unix()

	return cloneReminder(reminder), nil
}

func (d *MemoryDriver) DeleteReminder(_ context.Context, del *store.DeleteReminder) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.reminders[del.ID]; !ok {
		return errors.New("reminder not found")
	}
	// ON DELETE CASCADE in the SQL schema.
	for id, delivery := range d.deliveries {
		if delivery.ReminderID == del.ID {
			delete(d.deliveries, id)
		}
	}
	delete(d.reminders, del.ID)
	return nil
}

func (d *MemoryDriver) CreateDelivery(_ context.Context, create *store.Delivery) (*store.Delivery, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	create.ID = d.nextDeliveryID
	d.nextDeliveryID++
	create.CreatedTs = d.Now().Unix()

	clone := cloneDelivery(create)
	d.deliveries[clone.ID] = clone
	return cloneDelivery(clone), nil
}

func (d *MemoryDriver) ListDeliveries(_ context.Context, find *store.FindDelivery) ([]*store.Delivery, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	list := make([]*store.Delivery, 0)
	for _, delivery := range d.deliveries {
		if v := find.ID; v != nil && delivery.ID != *v {
			continue
		}
		if v := find.UID; v != nil && delivery.UID != *v {
			continue
		}
		if v := find.ReminderID; v != nil && delivery.ReminderID != *v {
			continue
		}
		if v := find.Recipient; v != nil && delivery.Recipient != *v {
			continue
		}
		if v := find.Status; v != nil && delivery.Status != *v {
			continue
		}
		if v := find.Unacknowledged; v != nil && *v {
			if delivery.Acknowledged || delivery.Status != store.DeliveryStatusDelivered {
				continue
			}
		}
		if v := find.IsEscalation; v != nil && delivery.IsEscalation != *v {
			continue
		}
		if v := find.OriginalDeliveryID; v != nil {
			if delivery.OriginalDeliveryID == nil || *delivery.OriginalDeliveryID != *v {
				continue
			}
		}
		if v := find.EscalationLevel; v != nil {
			if delivery.EscalationLevel == nil || *delivery.EscalationLevel != *v {
				continue
			}
		}
		list = append(list, cloneDelivery(delivery))
	}

	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.CreatedTs != b.CreatedTs {
			return a.CreatedTs > b.CreatedTs
		}
		return a.ID > b.ID
	})

	return paginate(list, find.Limit, find.Offset), nil
}

func (d *MemoryDriver) UpdateDelivery(_ context.Context, update *store.UpdateDelivery) (*store.Delivery, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delivery, ok := d.deliveries[update.ID]
	if !ok {
		return nil, errors.Errorf("delivery not found: %d", update.ID)
	}
	if update.OnlyIfUnacknowledged && delivery.Acknowledged {
		return nil, nil
	}

	if v := update.Status; v != nil {
		delivery.Status = *v
	}
	if v := update.DeliveredTs; v != nil {
		ts := *v
		delivery.DeliveredTs = &ts
	}
	if v := update.AttemptCount; v != nil {
		delivery.AttemptCount = *v
	}
	if v := update.ErrorMessage; v != nil {
		delivery.ErrorMessage = *v
	}
	if v := update.Acknowledged; v != nil {
		delivery.Acknowledged = *v
	}
	if v := update.AcknowledgedTs; v != nil {
		ts := *v
		delivery.AcknowledgedTs = &ts
	}
	if v := update.AckMethod; v != nil {
		delivery.AckMethod = *v
	}
	if v := update.AckActorID; v != nil {
		delivery.AckActorID = *v
	}

	return cloneDelivery(delivery), nil
}

func (d *MemoryDriver) CreateActivity(_ context.Context, create *store.Activity) (*store.Activity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	create.ID = d.nextActivityID
	d.nextActivityID++
	create.CreatedTs = d.Now().Unix()

	clone := *create
	d.activities = append(d.activities, &clone)
	result := clone
	return &result, nil
}

func (d *MemoryDriver) ListActivities(_ context.Context, find *store.FindActivity) ([]*store.Activity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	list := make([]*store.Activity, 0)
	for _, activity := range d.activities {
		if v := find.Type; v != nil && activity.Type != *v {
			continue
		}
		if v := find.ReminderUID; v != nil && activity.ReminderUID != *v {
			continue
		}
		if v := find.ActorID; v != nil && activity.ActorID != *v {
			continue
		}
		clone := *activity
		list = append(list, &clone)
	}

	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.CreatedTs != b.CreatedTs {
			return a.CreatedTs > b.CreatedTs
		}
		return a.ID > b.ID
	})

	return paginate(list, find.Limit, find.Offset), nil
}

func cloneReminder(r *store.Reminder) *store.Reminder {
	clone := *r
	clone.NextDueTs = cloneInt64(r.NextDueTs)
	clone.LastDeliveredTs = cloneInt64(r.LastDeliveredTs)
	clone.SnoozedUntilTs = cloneInt64(r.SnoozedUntilTs)

	clone.Schedule = r.Schedule
	clone.Schedule.Weekdays = append([]time.Weekday(nil), r.Schedule.Weekdays...)
	clone.Schedule.ExcludedDates = append([]string(nil), r.Schedule.ExcludedDates...)

	if r.Escalation != nil {
		policy := *r.Escalation
		policy.Levels = make([]store.EscalationLevel, len(r.Escalation.Levels))
		for i, level := range r.Escalation.Levels {
			policy.Levels[i] = level
			policy.Levels[i].Targets = append([]string(nil), level.Targets...)
		}
		policy.LastEscalatedTs = cloneInt64(r.Escalation.LastEscalatedTs)
		clone.Escalation = &policy
	}
	return &clone
}

func cloneDelivery(d *store.Delivery) *store.Delivery {
	clone := *d
	clone.DeliveredTs = cloneInt64(d.DeliveredTs)
	clone.AcknowledgedTs = cloneInt64(d.AcknowledgedTs)
	if d.EscalationLevel != nil {
		level := *d.EscalationLevel
		clone.EscalationLevel = &level
	}
	if d.OriginalDeliveryID != nil {
		id := *d.OriginalDeliveryID
		clone.OriginalDeliveryID = &id
	}
	return &clone
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	clone := *v
	return &clone
}

func paginate[T any](list []T, limit, offset *int) []T {
	if offset != nil && limit != nil {
		if *offset >= len(list) {
			return []T{}
		}
		list = list[*offset:]
	}
	if limit != nil && *limit < len(list) {
		list = list[:*limit]
	}
	return list
}
