package models

import "time"

// MovementType enumerates the kinds of ledger events.
type MovementType string

const (
	MovementInitiated    MovementType = "INITIATED"
	MovementDelegated    MovementType = "DELEGATED"
	MovementReturned     MovementType = "RETURNED"
	MovementReminded     MovementType = "REMINDED"
	MovementAutoApproved MovementType = "AUTO_APPROVED"
)

// MovementEvent is one immutable ledger entry for a subject. PerformedBy is
// nil for system-generated events. StatusOnMovement snapshots the subject
// status before the transition took effect.
type MovementEvent struct {
	ID               string          `db:"id" json:"id"`
	SubjectID        string          `db:"subject_id" json:"subject_id"`
	Type             MovementType    `db:"type" json:"type"`
	PerformedBy      *string         `db:"performed_by" json:"performed_by,omitempty"`
	FromUser         *string         `db:"from_user" json:"from_user,omitempty"`
	ToUsers          StringSet       `db:"to_users" json:"to_users"`
	StatusOnMovement ReferenceStatus `db:"status_on_movement" json:"status_on_movement"`
	Remarks          string          `db:"remarks" json:"remarks"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}
