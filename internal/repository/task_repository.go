package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/reftrack-api/internal/models"
)

// TaskRepository persists background task metadata.
type TaskRepository struct {
	db *sqlx.DB
}

// NewTaskRepository constructs the repository.
func NewTaskRepository(db *sqlx.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create inserts a new task row with generated defaults.
func (r *TaskRepository) Create(ctx context.Context, task *models.BackgroundTask) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	const query = `INSERT INTO background_tasks (id, kind, status, progress, processed_items, total_items, payload, error_message, created_by, created_at, updated_at)
VALUES (:id, :kind, :status, :progress, :processed_items, :total_items, :payload, :error_message, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, task); err != nil {
		return fmt.Errorf("create background task: %w", err)
	}
	return nil
}

// GetByID returns a task row by its identifier.
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*models.BackgroundTask, error) {
	const query = `SELECT id, kind, status, progress, processed_items, total_items, payload, error_message, created_by, created_at, updated_at
FROM background_tasks WHERE id = $1`
	var task models.BackgroundTask
	if err := r.db.GetContext(ctx, &task, query, id); err != nil {
		return nil, fmt.Errorf("get background task: %w", err)
	}
	return &task, nil
}

// UpdateTaskParams defines the mutable fields.
type UpdateTaskParams struct {
	Status         *models.TaskStatus
	Progress       *int
	ProcessedItems *int
	TotalItems     *int
	ErrorMessage   *string
}

// Update persists the provided changes for a task row. Processed items and
// progress use GREATEST so out-of-order arrivals can never move a task
// backwards.
func (r *TaskRepository) Update(ctx context.Context, id string, params UpdateTaskParams) error {
	set := make([]string, 0, 5)
	args := make([]interface{}, 0, 6)
	argPos := 1

	if params.Status != nil {
		set = append(set, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *params.Status)
		argPos++
	}
	if params.Progress != nil {
		set = append(set, fmt.Sprintf("progress = GREATEST(progress, $%d)", argPos))
		args = append(args, *params.Progress)
		argPos++
	}
	if params.ProcessedItems != nil {
		set = append(set, fmt.Sprintf("processed_items = GREATEST(processed_items, $%d)", argPos))
		args = append(args, *params.ProcessedItems)
		argPos++
	}
	if params.TotalItems != nil {
		set = append(set, fmt.Sprintf("total_items = $%d", argPos))
		args = append(args, *params.TotalItems)
		argPos++
	}
	if params.ErrorMessage != nil {
		set = append(set, fmt.Sprintf("error_message = $%d", argPos))
		args = append(args, *params.ErrorMessage)
		argPos++
	}

	if len(set) == 0 {
		return nil
	}
	set = append(set, fmt.Sprintf("updated_at = $%d", argPos))
	args = append(args, time.Now().UTC())
	argPos++

	query := fmt.Sprintf("UPDATE background_tasks SET %s WHERE id = $%d", strings.Join(set, ", "), argPos)
	args = append(args, id)

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update background task: %w", err)
	}
	return nil
}

// ListPending fetches non-started tasks (used for cold start recovery).
func (r *TaskRepository) ListPending(ctx context.Context, limit int) ([]models.BackgroundTask, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT id, kind, status, progress, processed_items, total_items, payload, error_message, created_by, created_at, updated_at
FROM background_tasks WHERE status = 'PENDING' ORDER BY created_at ASC LIMIT $1`
	var tasks []models.BackgroundTask
	if err := r.db.SelectContext(ctx, &tasks, query, limit); err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	return tasks, nil
}
