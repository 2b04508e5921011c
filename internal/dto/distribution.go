package dto

import "github.com/noah-isme/reftrack-api/internal/models"

// DistributeRequest triggers an asynchronous fan-out run for a subject.
// PreviousTarget, when present, makes the run a diff: only newly gained
// recipients are notified.
type DistributeRequest struct {
	SubjectID      string                     `json:"subjectId" validate:"required"`
	Action         models.DistributionAction  `json:"action" validate:"required"`
	Target         models.DistributionTarget  `json:"target"`
	PreviousTarget *models.DistributionTarget `json:"previousTarget,omitempty"`
}

// DistributionResponse acknowledges an accepted run; clients poll the task.
type DistributionResponse struct {
	TaskID string            `json:"task_id"`
	Status models.TaskStatus `json:"status"`
}

// TaskStatusResponse exposes polled task progress.
type TaskStatusResponse struct {
	ID             string            `json:"id"`
	Kind           models.TaskKind   `json:"kind"`
	Status         models.TaskStatus `json:"status"`
	Progress       int               `json:"progress"`
	ProcessedItems int               `json:"processed_items"`
	TotalItems     int               `json:"total_items"`
	Error          *string           `json:"error,omitempty"`
}
