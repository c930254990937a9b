package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/remindkit/remindkit/store"
)

func (d *DB) CreateDelivery(ctx context.Context, create *store.Delivery) (*store.Delivery, error) {
	fields := []string{
		"uid", "reminder_id", "recipient", "status",
		"delivered_ts", "acknowledged", "acknowledged_ts", "ack_method", "ack_actor_id",
		"attempt_count", "is_escalation", "escalation_level", "original_delivery_id",
		"error_message",
	}
	placeholderValues := []any{
		create.UID, create.ReminderID, create.Recipient, create.Status,
		create.DeliveredTs, create.Acknowledged, create.AcknowledgedTs, create.AckMethod, create.AckActorID,
		create.AttemptCount, create.IsEscalation, create.EscalationLevel, create.OriginalDeliveryID,
		create.ErrorMessage,
	}

	stmt := `INSERT INTO delivery (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(placeholderValues)) + `)
		RETURNING id, created_ts`

	if err := d.db.QueryRowContext(ctx, stmt, placeholderValues...).Scan(
		&create.ID,
		&create.CreatedTs,
	); err != nil {
		return nil, fmt.Errorf("failed to create delivery: %w", err)
	}

	return create, nil
}

func (d *DB) ListDeliveries(ctx context.Context, find *store.FindDelivery) ([]*store.Delivery, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := find.ID; v != nil {
		where, args = append(where, "delivery.id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.UID; v != nil {
		where, args = append(where, "delivery.uid = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.ReminderID; v != nil {
		where, args = append(where, "delivery.reminder_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Recipient; v != nil {
		where, args = append(where, "delivery.recipient = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Status; v != nil {
		where, args = append(where, "delivery.status = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Unacknowledged; v != nil && *v {
		where = append(where, "delivery.acknowledged = FALSE", "delivery.status = 'delivered'")
	}
	if v := find.IsEscalation; v != nil {
		where, args = append(where, "delivery.is_escalation = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.OriginalDeliveryID; v != nil {
		where, args = append(where, "delivery.original_delivery_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.EscalationLevel; v != nil {
		where, args = append(where, "delivery.escalation_level = "+placeholder(len(args)+1)), append(args, *v)
	}

	query := `
		SELECT
			id, uid, reminder_id, recipient, status,
			delivered_ts, acknowledged, acknowledged_ts, ack_method, ack_actor_id,
			attempt_count, is_escalation, escalation_level, original_delivery_id,
			error_message, created_ts
		FROM delivery
		WHERE ` + strings.Join(where, " AND ") + ` ORDER BY delivery.created_ts DESC, delivery.id DESC`

	if find.Limit != nil {
		query = fmt.Sprintf("%s LIMIT %d", query, *find.Limit)
		if find.Offset != nil {
			query = fmt.Sprintf("%s OFFSET %d", query, *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Delivery, 0)
	for rows.Next() {
		var delivery store.Delivery
		var deliveredTs, acknowledgedTs sql.NullInt64
		var escalationLevel, originalDeliveryID sql.NullInt64

		if err := rows.Scan(
			&delivery.ID,
			&delivery.UID,
			&delivery.ReminderID,
			&delivery.Recipient,
			&delivery.Status,
			&deliveredTs,
			&delivery.Acknowledged,
			&acknowledgedTs,
			&delivery.AckMethod,
			&delivery.AckActorID,
			&delivery.AttemptCount,
			&delivery.IsEscalation,
			&escalationLevel,
			&originalDeliveryID,
			&delivery.ErrorMessage,
			&delivery.CreatedTs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}

		if deliveredTs.Valid {
			delivery.DeliveredTs = &deliveredTs.Int64
		}
		if acknowledgedTs.Valid {
			delivery.AcknowledgedTs = &acknowledgedTs.Int64
		}
		if escalationLevel.Valid {
			level := int(escalationLevel.Int64)
			delivery.EscalationLevel = &level
		}
		if originalDeliveryID.Valid {
			id := int32(originalDeliveryID.Int64)
			delivery.OriginalDeliveryID = &id
		}

		list = append(list, &delivery)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deliveries: %w", err)
	}

	return list, nil
}

func (d *DB) UpdateDelivery(ctx context.Context, update *store.UpdateDelivery) (*store.Delivery, error) {
	set, args := []string{}, []any{}

	if v := update.Status; v != nil {
		set, args = append(set, "status = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.DeliveredTs; v != nil {
		set, args = append(set, "delivered_ts = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.AttemptCount; v != nil {
		set, args = append(set, "attempt_count = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.ErrorMessage; v != nil {
		set, args = append(set, "error_message = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Acknowledged; v != nil {
		set, args = append(set, "acknowledged = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.AcknowledgedTs; v != nil {
		set, args = append(set, "acknowledged_ts = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.AckMethod; v != nil {
		set, args = append(set, "ack_method = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.AckActorID; v != nil {
		set, args = append(set, "ack_actor_id = "+placeholder(len(args)+1)), append(args, *v)
	}

	if len(set) == 0 {
		return nil, fmt.Errorf("no fields to update for delivery %d", update.ID)
	}

	args = append(args, update.ID)

	stmt := `UPDATE delivery SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args))
	if update.OnlyIfUnacknowledged {
		stmt += ` AND acknowledged = FALSE`
	}
	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update delivery: %w", err)
	}
	if update.OnlyIfUnacknowledged {
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to read affected rows: %w", err)
		}
		if affected == 0 {
			return nil, nil
		}
	}

	list, err := d.ListDeliveries(ctx, &store.FindDelivery{ID: &update.ID})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("delivery not found after update: %d", update.ID)
	}
	return list[0], nil
}
