package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
//
// Writes are atomic per record; drivers do not provide cross-record
// transactions. Callers must treat reminder and delivery writes as
// independent and recover by idempotent re-derivation.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// Reminder model related methods.
	CreateReminder(ctx context.Context, create *Reminder) (*Reminder, error)
	ListReminders(ctx context.Context, find *FindReminder) ([]*Reminder, error)
	UpdateReminder(ctx context.Context, update *UpdateReminder) (*Reminder, error)
	DeleteReminder(ctx context.Context, delete *DeleteReminder) error

	// Delivery model related methods.
	CreateDelivery(ctx context.Context, create *Delivery) (*Delivery, error)
	ListDeliveries(ctx context.Context, find *FindDelivery) ([]*Delivery, error)
	UpdateDelivery(ctx context.Context, update *UpdateDelivery) (*Delivery, error)

	// Activity model related methods.
	CreateActivity(ctx context.Context, create *Activity) (*Activity, error)
	ListActivities(ctx context.Context, find *FindActivity) ([]*Activity, error)
}
