package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/reftrack-api/internal/dto"
	"github.com/noah-isme/reftrack-api/internal/models"
	"github.com/noah-isme/reftrack-api/internal/repository"
	appErrors "github.com/noah-isme/reftrack-api/pkg/errors"
)

type taskStore interface {
	Create(ctx context.Context, task *models.BackgroundTask) error
	GetByID(ctx context.Context, id string) (*models.BackgroundTask, error)
	Update(ctx context.Context, id string, params repository.UpdateTaskParams) error
	ListPending(ctx context.Context, limit int) ([]models.BackgroundTask, error)
}

// TaskService tracks the lifecycle of long-running jobs. Transitions are
// PENDING -> IN_PROGRESS -> COMPLETED/FAILED; terminal tasks accept no
// further mutation.
type TaskService struct {
	repo   taskStore
	logger *zap.Logger
}

// NewTaskService constructs the tracker.
func NewTaskService(repo taskStore, logger *zap.Logger) *TaskService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskService{repo: repo, logger: logger}
}

// Create persists a new PENDING task.
func (s *TaskService) Create(ctx context.Context, kind models.TaskKind, createdBy string, payload models.TaskPayload) (*models.BackgroundTask, error) {
	task := &models.BackgroundTask{
		Kind:      kind,
		Status:    models.TaskStatusPending,
		Payload:   payload,
		CreatedBy: createdBy,
	}
	if err := s.repo.Create(ctx, task); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create background task")
	}
	return task, nil
}

// Start moves a PENDING task to IN_PROGRESS. Idempotent: already running or
// terminal tasks are left untouched.
func (s *TaskService) Start(ctx context.Context, id string) error {
	task, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if task.Status != models.TaskStatusPending {
		return nil
	}
	status := models.TaskStatusInProgress
	return s.repo.Update(ctx, id, repository.UpdateTaskParams{Status: &status})
}

// Advance records cumulative progress. Callers supply the authoritative
// processed count, not a delta; the store clamps with GREATEST so a late
// arrival can never move the task backwards. total == 0 completes immediately
// at 100. Calls on a terminal task are logged no-ops.
func (s *TaskService) Advance(ctx context.Context, id string, processed, total int) error {
	task, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if task.IsTerminal() {
		s.logger.Sugar().Warnw("advance on terminal task ignored", "task_id", id, "status", task.Status)
		return nil
	}

	progress := 100
	if total > 0 {
		progress = processed * 100 / total
	}

	params := repository.UpdateTaskParams{
		Progress:       &progress,
		ProcessedItems: &processed,
		TotalItems:     &total,
	}
	if total == 0 || processed >= total {
		completed := models.TaskStatusCompleted
		full := 100
		params.Status = &completed
		params.Progress = &full
	}
	return s.repo.Update(ctx, id, params)
}

// Fail terminates a task with a stored message. Rejected once terminal.
func (s *TaskService) Fail(ctx context.Context, id, message string) error {
	task, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if task.IsTerminal() {
		return appErrors.Clone(appErrors.ErrTaskTerminal, "")
	}
	failed := models.TaskStatusFailed
	return s.repo.Update(ctx, id, repository.UpdateTaskParams{
		Status:       &failed,
		ErrorMessage: &message,
	})
}

// GetStatus exposes task metadata to polling clients, enforcing ownership for
// non-admin users.
func (s *TaskService) GetStatus(ctx context.Context, id string, actor *models.JWTClaims) (*dto.TaskStatusResponse, error) {
	task, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load task")
	}
	if actor != nil && !actor.IsAdmin() && task.CreatedBy != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	resp := &dto.TaskStatusResponse{
		ID:             task.ID,
		Kind:           task.Kind,
		Status:         task.Status,
		Progress:       task.Progress,
		ProcessedItems: task.ProcessedItems,
		TotalItems:     task.TotalItems,
	}
	if task.ErrorMessage != nil && *task.ErrorMessage != "" {
		resp.Error = task.ErrorMessage
	}
	return resp, nil
}
