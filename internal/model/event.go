package model

import "time"

// PartnerEventType is the partner feed's action on an object.
type PartnerEventType string

const (
	PartnerEventCreate      PartnerEventType = "create"
	PartnerEventUpdate      PartnerEventType = "update"
	PartnerEventDelete      PartnerEventType = "delete"
	PartnerEventUntreatable PartnerEventType = "untreatable"
)

// PartnerEventObject is the kind of object a partner event refers to.
type PartnerEventObject string

const (
	PartnerObjectAppointment PartnerEventObject = "appointment"
	PartnerObjectSession     PartnerEventObject = "session"
	PartnerObjectUntreatable PartnerEventObject = "untreatable"
)

// PartnerEvent is one entry of the partner's append-only event feed. ID is
// the event's natural identity and doubles as the idempotency key when the
// intake loop schedules downstream work.
type PartnerEvent struct {
	ID            string             `json:"id"`
	Type          PartnerEventType   `json:"type"`
	Object        PartnerEventObject `json:"object"`
	ObjectID      string             `json:"object_id"`
	BeneficiaryID string             `json:"beneficiary_id"`
	OccurredAt    time.Time          `json:"occurred_at"`
}
