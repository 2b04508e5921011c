package models

import "time"

// NotificationKind labels an in-app notification.
type NotificationKind string

const (
	NotificationReferenceShared  NotificationKind = "REFERENCE_SHARED"
	NotificationReferenceUpdated NotificationKind = "REFERENCE_UPDATED"
	NotificationReferenceMoved   NotificationKind = "REFERENCE_MOVED"
	NotificationReminder         NotificationKind = "REMINDER"
	NotificationReopenApproved   NotificationKind = "REOPEN_APPROVED"
	NotificationReopenRejected   NotificationKind = "REOPEN_REJECTED"
)

// Notification is a persisted in-app notification row.
type Notification struct {
	ID        string           `db:"id" json:"id"`
	UserID    string           `db:"user_id" json:"user_id"`
	Kind      NotificationKind `db:"kind" json:"kind"`
	Title     string           `db:"title" json:"title"`
	Message   string           `db:"message" json:"message"`
	SubjectID *string          `db:"subject_id" json:"subject_id,omitempty"`
	Read      bool             `db:"read" json:"read"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}

// NotificationFilter constrains listing queries.
type NotificationFilter struct {
	UserID     string
	UnreadOnly bool
	Page       int
	PageSize   int
}
