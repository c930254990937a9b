package v1

import (
	"github.com/remindkit/remindkit/store"
)

type reminderResponse struct {
	UID        string                  `json:"uid"`
	CreatorID  string                  `json:"creatorId"`
	Recipient  string                  `json:"recipient"`
	Content    string                  `json:"content"`
	Timezone   string                  `json:"timezone"`
	Status     store.ReminderStatus    `json:"status"`
	Schedule   store.ScheduleSpec      `json:"schedule"`
	Escalation *store.EscalationPolicy `json:"escalation,omitempty"`

	NextDueTs       *int64 `json:"nextDueTs,omitempty"`
	LastDeliveredTs *int64 `json:"lastDeliveredTs,omitempty"`
	OccurrenceCount int    `json:"occurrenceCount"`
	SnoozedUntilTs  *int64 `json:"snoozedUntilTs,omitempty"`

	CreatedTs int64 `json:"createdTs"`
	UpdatedTs int64 `json:"updatedTs"`
}

func convertReminder(r *store.Reminder) *reminderResponse {
	return &reminderResponse{
		UID:             r.UID,
		CreatorID:       r.CreatorID,
		Recipient:       r.Recipient,
		Content:         r.Content,
		Timezone:        r.Timezone,
		Status:          r.Status,
		Schedule:        r.Schedule,
		Escalation:      r.Escalation,
		NextDueTs:       r.NextDueTs,
		LastDeliveredTs: r.LastDeliveredTs,
		OccurrenceCount: r.OccurrenceCount,
		SnoozedUntilTs:  r.SnoozedUntilTs,
		CreatedTs:       r.CreatedTs,
		UpdatedTs:       r.UpdatedTs,
	}
}

func convertReminderList(list []*store.Reminder) []*reminderResponse {
	out := make([]*reminderResponse, 0, len(list))
	for _, r := range list {
		out = append(out, convertReminder(r))
	}
	return out
}

type deliveryResponse struct {
	UID       string               `json:"uid"`
	Recipient string               `json:"recipient"`
	Status    store.DeliveryStatus `json:"status"`

	DeliveredTs *int64 `json:"deliveredTs,omitempty"`

	Acknowledged   bool   `json:"acknowledged"`
	AcknowledgedTs *int64 `json:"acknowledgedTs,omitempty"`
	AckMethod      string `json:"ackMethod,omitempty"`
	AckActorID     string `json:"ackActorId,omitempty"`

	AttemptCount    int    `json:"attemptCount"`
	IsEscalation    bool   `json:"isEscalation"`
	EscalationLevel *int   `json:"escalationLevel,omitempty"`
	ErrorMessage    string `json:"errorMessage,omitempty"`

	CreatedTs int64 `json:"createdTs"`
}

func convertDelivery(d *store.Delivery) *deliveryResponse {
	return &deliveryResponse{
		UID:             d.UID,
		Recipient:       d.Recipient,
		Status:          d.Status,
		DeliveredTs:     d.DeliveredTs,
		Acknowledged:    d.Acknowledged,
		AcknowledgedTs:  d.AcknowledgedTs,
		AckMethod:       d.AckMethod,
		AckActorID:      d.AckActorID,
		AttemptCount:    d.AttemptCount,
		IsEscalation:    d.IsEscalation,
		EscalationLevel: d.EscalationLevel,
		ErrorMessage:    d.ErrorMessage,
		CreatedTs:       d.CreatedTs,
	}
}

type activityResponse struct {
	Type        store.ActivityType `json:"type"`
	ReminderUID string             `json:"reminderUid"`
	ActorID     string             `json:"actorId"`
	Payload     string             `json:"payload"`
	CreatedTs   int64              `json:"createdTs"`
}

func convertActivity(a *store.Activity) *activityResponse {
	return &activityResponse{
		Type:        a.Type,
		ReminderUID: a.ReminderUID,
		ActorID:     a.ActorID,
		Payload:     a.Payload,
		CreatedTs:   a.CreatedTs,
	}
}
