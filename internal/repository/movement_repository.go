package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/reftrack-api/internal/models"
)

// MovementRepository persists the append-only movement ledger. Rows are never
// updated or deleted.
type MovementRepository struct {
	db *sqlx.DB
}

// NewMovementRepository constructs the repository.
func NewMovementRepository(db *sqlx.DB) *MovementRepository {
	return &MovementRepository{db: db}
}

// Append inserts one ledger entry.
func (r *MovementRepository) Append(ctx context.Context, event *models.MovementEvent) error {
	return insertMovement(ctx, r.db, event)
}

// insertMovement writes one ledger row through the given executor, so the
// reference repository can append inside its own transaction.
func insertMovement(ctx context.Context, ext sqlx.ExtContext, event *models.MovementEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO movements (id, subject_id, type, performed_by, from_user, to_users, status_on_movement, remarks, created_at)
VALUES (:id, :subject_id, :type, :performed_by, :from_user, :to_users, :status_on_movement, :remarks, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, event); err != nil {
		return fmt.Errorf("append movement: %w", err)
	}
	return nil
}

// History returns the ordered event sequence for one subject, oldest first.
// Ties on created_at fall back to insertion order via the id column.
func (r *MovementRepository) History(ctx context.Context, subjectID string, limit, offset int) ([]models.MovementEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	const query = `SELECT id, subject_id, type, performed_by, from_user, to_users, status_on_movement, remarks, created_at
FROM movements WHERE subject_id = $1 ORDER BY created_at ASC, id ASC LIMIT $2 OFFSET $3`
	var events []models.MovementEvent
	if err := r.db.SelectContext(ctx, &events, query, subjectID, limit, offset); err != nil {
		return nil, fmt.Errorf("movement history: %w", err)
	}
	return events, nil
}
