package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/remindkit/remindkit/store"
)

func (d *DB) CreateReminder(ctx context.Context, create *store.Reminder) (*store.Reminder, error) {
	schedule, err := store.MarshalScheduleSpec(&create.Schedule)
	if err != nil {
		return nil, err
	}
	escalation, err := store.MarshalEscalationPolicy(create.Escalation)
	if err != nil {
		return nil, err
	}

	fields := []string{
		"uid", "creator_id", "recipient", "content", "timezone",
		"status", "schedule", "escalation",
		"next_due_ts", "last_delivered_ts", "occurrence_count",
		"snoozed_until_ts", "fail_streak",
	}
	placeholderValues := []any{
		create.UID, create.CreatorID, create.Recipient, create.Content, create.Timezone,
		create.Status, schedule, escalation,
		create.NextDueTs, create.LastDeliveredTs, create.OccurrenceCount,
		create.SnoozedUntilTs, create.FailStreak,
	}

	stmt := `INSERT INTO reminder (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(placeholderValues)) + `)
		RETURNING id, created_ts, updated_ts`

	if err := d.db.QueryRowContext(ctx, stmt, placeholderValues...).Scan(
		&create.ID,
		&create.CreatedTs,
		&create.UpdatedTs,
	); err != nil {
		return nil, fmt.Errorf("failed to create reminder: %w", err)
	}

	return create, nil
}

func (d *DB) ListReminders(ctx context.Context, find *store.FindReminder) ([]*store.Reminder, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := find.ID; v != nil {
		where, args = append(where, "reminder.id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.UID; v != nil {
		where, args = append(where, "reminder.uid = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.CreatorID; v != nil {
		where, args = append(where, "reminder.creator_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Recipient; v != nil {
		where, args = append(where, "reminder.recipient = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Status; v != nil {
		where, args = append(where, "reminder.status = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.NextDueBefore; v != nil {
		where, args = append(where, "reminder.next_due_ts IS NOT NULL AND reminder.next_due_ts <= "+placeholder(len(args)+1)), append(args, *v)
	}

	query := `
		SELECT
			id, uid, creator_id, recipient, content, timezone,
			status, schedule, escalation,
			next_due_ts, last_delivered_ts, occurrence_count,
			snoozed_until_ts, fail_streak,
			created_ts, updated_ts
		FROM reminder
		WHERE ` + strings.Join(where, " AND ") + ` ORDER BY reminder.next_due_ts ASC, reminder.id ASC`

	if find.Limit != nil {
		query = fmt.Sprintf("%s LIMIT %d", query, *find.Limit)
		if find.Offset != nil {
			query = fmt.Sprintf("%s OFFSET %d", query, *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reminders: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Reminder, 0)
	for rows.Next() {
		reminder, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, reminder)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reminders: %w", err)
	}

	return list, nil
}

func scanReminder(rows *sql.Rows) (*store.Reminder, error) {
	var reminder store.Reminder
	var schedule, escalation string
	var nextDueTs, lastDeliveredTs, snoozedUntilTs sql.NullInt64

	if err := rows.Scan(
		&reminder.ID,
		&reminder.UID,
		&reminder.CreatorID,
		&reminder.Recipient,
		&reminder.Content,
		&reminder.Timezone,
		&reminder.Status,
		&schedule,
		&escalation,
		&nextDueTs,
		&lastDeliveredTs,
		&reminder.OccurrenceCount,
		&snoozedUntilTs,
		&reminder.FailStreak,
		&reminder.CreatedTs,
		&reminder.UpdatedTs,
	); err != nil {
		return nil, fmt.Errorf("failed to scan reminder: %w", err)
	}

	spec, err := store.UnmarshalScheduleSpec(schedule)
	if err != nil {
		return nil, err
	}
	reminder.Schedule = spec

	policy, err := store.UnmarshalEscalationPolicy(escalation)
	if err != nil {
		return nil, err
	}
	reminder.Escalation = policy

	if nextDueTs.Valid {
		reminder.NextDueTs = &nextDueTs.Int64
	}
	if lastDeliveredTs.Valid {
		reminder.LastDeliveredTs = &lastDeliveredTs.Int64
	}
	if snoozedUntilTs.Valid {
		reminder.SnoozedUntilTs = &snoozedUntilTs.Int64
	}

	return &reminder, nil
}

func (d *DB) UpdateReminder(ctx context.Context, update *store.UpdateReminder) (*store.Reminder, error) {
	set, args := []string{}, []any{}

	if v := update.Recipient; v != nil {
		set, args = append(set, "recipient = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Content; v != nil {
		set, args = append(set, "content = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Timezone; v != nil {
		set, args = append(set, "timezone = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Status; v != nil {
		set, args = append(set, "status = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Schedule; v != nil {
		schedule, err := store.MarshalScheduleSpec(v)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "schedule = "+placeholder(len(args)+1)), append(args, schedule)
	}
	if v := update.Escalation; v != nil {
		escalation, err := store.MarshalEscalationPolicy(v)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "escalation = "+placeholder(len(args)+1)), append(args, escalation)
	}
	if update.ClearNextDue {
		set = append(set, "next_due_ts = NULL")
	} else if v := update.NextDueTs; v != nil {
		set, args = append(set, "next_due_ts = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.LastDeliveredTs; v != nil {
		set, args = append(set, "last_delivered_ts = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.OccurrenceCount; v != nil {
		set, args = append(set, "occurrence_count = "+placeholder(len(args)+1)), append(args, *v)
	}
	if update.ClearSnooze {
		set = append(set, "snoozed_until_ts = NULL")
	} else if v := update.SnoozedUntilTs; v != nil {
		set, args = append(set, "snoozed_until_ts = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.FailStreak; v != nil {
		set, args = append(set, "fail_streak = "+placeholder(len(args)+1)), append(args, *v)
	}

	set = append(set, "updated_ts = (strftime('%s', 'now'))")
	args = append(args, update.ID)

	stmt := `UPDATE reminder SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args))
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, fmt.Errorf("failed to update reminder: %w", err)
	}

	list, err := d.ListReminders(ctx, &store.FindReminder{ID: &update.ID})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("reminder not found after update: %d", update.ID)
	}
	return list[0], nil
}

func (d *DB) DeleteReminder(ctx context.Context, delete *store.DeleteReminder) error {
	stmt := `DELETE FROM reminder WHERE id = ` + placeholder(1)
	result, err := d.db.ExecContext(ctx, stmt, delete.ID)
	if err != nil {
		return fmt.Errorf("failed to delete reminder: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("reminder not found")
	}

	return nil
}
