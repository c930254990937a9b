package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/remindkit/remindkit/store"
)

func (d *DB) CreateActivity(ctx context.Context, create *store.Activity) (*store.Activity, error) {
	fields := []string{"type", "reminder_uid", "actor_id", "payload"}
	placeholderValues := []any{create.Type, create.ReminderUID, create.ActorID, create.Payload}

	stmt := `INSERT INTO activity (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(placeholderValues)) + `)
		RETURNING id, created_ts`

	if err := d.db.QueryRowContext(ctx, stmt, placeholderValues...).Scan(
		&create.ID,
		&create.CreatedTs,
	); err != nil {
		return nil, fmt.Errorf("failed to create activity: %w", err)
	}

	return create, nil
}

func (d *DB) ListActivities(ctx context.Context, find *store.FindActivity) ([]*store.Activity, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := find.Type; v != nil {
		where, args = append(where, "activity.type = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.ReminderUID; v != nil {
		where, args = append(where, "activity.reminder_uid = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.ActorID; v != nil {
		where, args = append(where, "activity.actor_id = "+placeholder(len(args)+1)), append(args, *v)
	}

	query := `
		SELECT id, type, reminder_uid, actor_id, payload, created_ts
		FROM activity
		WHERE ` + strings.Join(where, " AND ") + ` ORDER BY activity.created_ts DESC, activity.id DESC`

	if find.Limit != nil {
		query = fmt.Sprintf("%s LIMIT %d", query, *find.Limit)
		if find.Offset != nil {
			query = fmt.Sprintf("%s OFFSET %d", query, *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Activity, 0)
	for rows.Next() {
		var activity store.Activity
		if err := rows.Scan(
			&activity.ID,
			&activity.Type,
			&activity.ReminderUID,
			&activity.ActorID,
			&activity.Payload,
			&activity.CreatedTs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		list = append(list, &activity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activities: %w", err)
	}

	return list, nil
}
