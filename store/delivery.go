package store

import (
	"context"
	"time"
)

// DeliveryStatus is the state of a single delivery attempt record.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusSending   DeliveryStatus = "sending"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusRetrying  DeliveryStatus = "retrying"
)

// Delivery is the record of one notification delivery to one recipient.
type Delivery struct {
	ID         int32
	UID        string
	ReminderID int32
	Recipient  string
	Status     DeliveryStatus

	DeliveredTs *int64

	// Acknowledged transitions false -> true exactly once.
	Acknowledged   bool
	AcknowledgedTs *int64
	AckMethod      string
	AckActorID     string

	AttemptCount int

	// IsEscalation marks deliveries created by the escalation engine.
	// EscalationLevel and OriginalDeliveryID are set only on those.
	IsEscalation       bool
	EscalationLevel    *int
	OriginalDeliveryID *int32

	// ErrorMessage holds the last delivery error, if any.
	ErrorMessage string

	CreatedTs int64
}

// DeliveredTime returns DeliveredTs as time.Time, or the zero value when unset.
func (d *Delivery) DeliveredTime() time.Time {
	if d.DeliveredTs == nil {
		return time.Time{}
	}
	return time.Unix(*d.DeliveredTs, 0)
}

// InFlight reports whether the delivery occupies the per-reminder
// single-pending slot.
func (d *Delivery) InFlight() bool {
	return d.Status == DeliveryStatusPending || d.Status == DeliveryStatusSending
}

// FindDelivery is the find condition for deliveries.
type FindDelivery struct {
	ID         *int32
	UID        *string
	ReminderID *int32
	Recipient  *string
	Status     *DeliveryStatus

	// Unacknowledged selects delivered-but-unacknowledged records when true.
	Unacknowledged *bool
	// IsEscalation filters on the escalation flag.
	IsEscalation *bool
	// OriginalDeliveryID selects escalation deliveries for one original.
	OriginalDeliveryID *int32
	// EscalationLevel filters escalation deliveries by level.
	EscalationLevel *int

	Limit  *int
	Offset *int
}

// UpdateDelivery is the update request for a delivery.
type UpdateDelivery struct {
	ID int32

	Status       *DeliveryStatus
	DeliveredTs  *int64
	AttemptCount *int
	ErrorMessage *string

	Acknowledged   *bool
	AcknowledgedTs *int64
	AckMethod      *string
	AckActorID     *string

	// OnlyIfUnacknowledged guards the update on acknowledged = false,
	// making the false->true acknowledgment transition a compare-and-set.
	// When the guard does not match, drivers return (nil, nil).
	OnlyIfUnacknowledged bool
}

// CreateDelivery creates a new delivery record.
func (s *Store) CreateDelivery(ctx context.Context, create *Delivery) (*Delivery, error) {
	return s.driver.CreateDelivery(ctx, create)
}

// ListDeliveries lists deliveries with filter.
func (s *Store) ListDeliveries(ctx context.Context, find *FindDelivery) ([]*Delivery, error) {
	return s.driver.ListDeliveries(ctx, find)
}

// GetDelivery gets a single delivery, or nil when absent.
func (s *Store) GetDelivery(ctx context.Context, find *FindDelivery) (*Delivery, error) {
	list, err := s.driver.ListDeliveries(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// UpdateDelivery updates a delivery record.
func (s *Store) UpdateDelivery(ctx context.Context, update *UpdateDelivery) (*Delivery, error) {
	return s.driver.UpdateDelivery(ctx, update)
}
