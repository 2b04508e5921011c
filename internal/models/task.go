package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// TaskKind enumerates supported background job categories.
type TaskKind string

const (
	TaskKindFormDistribution      TaskKind = "FORM_DISTRIBUTION"
	TaskKindReferenceDistribution TaskKind = "REFERENCE_DISTRIBUTION"
)

// TaskStatus captures background job lifecycle states.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusFailed     TaskStatus = "FAILED"
)

// DistributionAction labels the notification intent of a fan-out run.
type DistributionAction string

const (
	ActionShared  DistributionAction = "SHARED"
	ActionUpdated DistributionAction = "UPDATED"
)

// BackgroundTask is one persisted record per long-running job. Progress is
// held at 100 exactly when the task completed; processed items never decrease.
type BackgroundTask struct {
	ID             string      `db:"id" json:"id"`
	Kind           TaskKind    `db:"kind" json:"kind"`
	Status         TaskStatus  `db:"status" json:"status"`
	Progress       int         `db:"progress" json:"progress"`
	ProcessedItems int         `db:"processed_items" json:"processed_items"`
	TotalItems     int         `db:"total_items" json:"total_items"`
	Payload        TaskPayload `db:"payload" json:"payload"`
	ErrorMessage   *string     `db:"error_message" json:"error_message,omitempty"`
	CreatedBy      string      `db:"created_by" json:"created_by"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether no further mutation is accepted.
func (t *BackgroundTask) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

// TaskPayload stores the distribution parameters persisted as JSONB.
type TaskPayload struct {
	SubjectID      string              `json:"subjectId"`
	Action         DistributionAction  `json:"action"`
	Target         DistributionTarget  `json:"target"`
	PreviousTarget *DistributionTarget `json:"previousTarget,omitempty"`
}

// Value marshals the payload to JSON for persistence.
func (p TaskPayload) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal task payload: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the struct.
func (p *TaskPayload) Scan(value interface{}) error {
	if value == nil {
		*p = TaskPayload{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for TaskPayload", value)
	}
	if len(data) == 0 {
		*p = TaskPayload{}
		return nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		return fmt.Errorf("unmarshal task payload: %w", err)
	}
	return nil
}
