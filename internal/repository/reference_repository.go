package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/reftrack-api/internal/models"
	appErrors "github.com/noah-isme/reftrack-api/pkg/errors"
)

const referenceColumns = `id, ref_id, kind, subject, status, priority, marked_to, is_hidden, is_archived, reopen_request, created_by, created_at, updated_at, version`

// ReferenceRepository provides persistence for routed subjects.
type ReferenceRepository struct {
	db *sqlx.DB
}

// NewReferenceRepository creates the repository.
func NewReferenceRepository(db *sqlx.DB) *ReferenceRepository {
	return &ReferenceRepository{db: db}
}

// Create inserts a new subject row.
func (r *ReferenceRepository) Create(ctx context.Context, ref *models.Reference) error {
	return insertReference(ctx, r.db, ref)
}

// CreateWithEvent inserts the subject row and its first ledger entry in one
// transaction. Either both rows land or neither does.
func (r *ReferenceRepository) CreateWithEvent(ctx context.Context, ref *models.Reference, event *models.MovementEvent) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = insertReference(ctx, tx, ref); err != nil {
		return err
	}
	if event != nil {
		if event.SubjectID == "" {
			event.SubjectID = ref.ID
		}
		if err = insertMovement(ctx, tx, event); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create tx: %w", err)
	}
	return nil
}

func insertReference(ctx context.Context, ext sqlx.ExtContext, ref *models.Reference) error {
	if ref.ID == "" {
		ref.ID = uuid.NewString()
	}
	if ref.Status == "" {
		ref.Status = models.StatusOpen
	}
	if ref.Priority == "" {
		ref.Priority = models.PriorityNormal
	}
	now := time.Now().UTC()
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = now
	}
	ref.UpdatedAt = now
	ref.Version = 1
	const query = `INSERT INTO references_subjects (id, ref_id, kind, subject, status, priority, marked_to, is_hidden, is_archived, reopen_request, created_by, created_at, updated_at, version)
VALUES (:id, :ref_id, :kind, :subject, :status, :priority, :marked_to, :is_hidden, :is_archived, :reopen_request, :created_by, :created_at, :updated_at, :version)`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, ref); err != nil {
		return fmt.Errorf("create reference: %w", err)
	}
	return nil
}

// GetByID returns a subject by identifier.
func (r *ReferenceRepository) GetByID(ctx context.Context, id string) (*models.Reference, error) {
	query := `SELECT ` + referenceColumns + ` FROM references_subjects WHERE id = $1`
	var ref models.Reference
	if err := r.db.GetContext(ctx, &ref, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get reference: %w", err)
	}
	return &ref, nil
}

// UpdateReferenceParams defines the mutable subject fields.
type UpdateReferenceParams struct {
	Status        *models.ReferenceStatus
	MarkedTo      *models.StringSet
	IsHidden      *bool
	IsArchived    *bool
	ReopenRequest *models.ReopenRequest
	ClearReopen   bool
}

// UpdateVersioned applies the changes only when the stored version still
// matches expectedVersion, bumping the version on success. A stale version
// surfaces as ErrConflict so the caller can retry with fresh state.
func (r *ReferenceRepository) UpdateVersioned(ctx context.Context, id string, expectedVersion int, params UpdateReferenceParams) error {
	return updateVersioned(ctx, r.db, id, expectedVersion, params)
}

// UpdateVersionedWithEvent applies the versioned update and appends the
// ledger entry in one transaction, so marked_to never changes without a
// matching movement row.
func (r *ReferenceRepository) UpdateVersionedWithEvent(ctx context.Context, id string, expectedVersion int, params UpdateReferenceParams, event *models.MovementEvent) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin move tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = updateVersioned(ctx, tx, id, expectedVersion, params); err != nil {
		return err
	}
	if event != nil {
		if err = insertMovement(ctx, tx, event); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit move tx: %w", err)
	}
	return nil
}

func updateVersioned(ctx context.Context, ext sqlx.ExtContext, id string, expectedVersion int, params UpdateReferenceParams) error {
	set := make([]string, 0, 6)
	args := make([]interface{}, 0, 8)
	argPos := 1

	if params.Status != nil {
		set = append(set, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *params.Status)
		argPos++
	}
	if params.MarkedTo != nil {
		set = append(set, fmt.Sprintf("marked_to = $%d", argPos))
		args = append(args, *params.MarkedTo)
		argPos++
	}
	if params.IsHidden != nil {
		set = append(set, fmt.Sprintf("is_hidden = $%d", argPos))
		args = append(args, *params.IsHidden)
		argPos++
	}
	if params.IsArchived != nil {
		set = append(set, fmt.Sprintf("is_archived = $%d", argPos))
		args = append(args, *params.IsArchived)
		argPos++
	}
	if params.ReopenRequest != nil {
		set = append(set, fmt.Sprintf("reopen_request = $%d", argPos))
		args = append(args, *params.ReopenRequest)
		argPos++
	} else if params.ClearReopen {
		set = append(set, "reopen_request = NULL")
	}

	if len(set) == 0 {
		return nil
	}
	set = append(set, fmt.Sprintf("updated_at = $%d", argPos))
	args = append(args, time.Now().UTC())
	argPos++
	set = append(set, "version = version + 1")

	query := fmt.Sprintf("UPDATE references_subjects SET %s WHERE id = $%d AND version = $%d",
		strings.Join(set, ", "), argPos, argPos+1)
	args = append(args, id, expectedVersion)

	res, err := ext.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update reference: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update reference rows: %w", err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrConflict, "reference was modified concurrently")
	}
	return nil
}

// List returns subjects matching the filter with total count.
func (r *ReferenceRepository) List(ctx context.Context, filter models.ReferenceFilter) ([]models.Reference, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}

	if filter.Kind != "" {
		where = append(where, fmt.Sprintf("kind = $%d", len(args)+1))
		args = append(args, filter.Kind)
	}
	if len(filter.Status) > 0 {
		values := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			values = append(values, string(s))
		}
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)+1))
		args = append(args, pq.Array(values))
	}
	if filter.HolderID != "" {
		where = append(where, fmt.Sprintf("marked_to @> $%d", len(args)+1))
		args = append(args, fmt.Sprintf(`["%s"]`, filter.HolderID))
	}
	if filter.CreatedBy != "" {
		where = append(where, fmt.Sprintf("created_by = $%d", len(args)+1))
		args = append(args, filter.CreatedBy)
	}
	if !filter.IncludeHidden {
		where = append(where, "is_hidden = FALSE")
	}

	whereClause := strings.Join(where, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM references_subjects WHERE " + whereClause
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count references: %w", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	query := fmt.Sprintf("SELECT %s FROM references_subjects WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		referenceColumns, whereClause, len(args)+1, len(args)+2)
	args = append(args, pageSize, (page-1)*pageSize)

	var refs []models.Reference
	if err := r.db.SelectContext(ctx, &refs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list references: %w", err)
	}
	return refs, total, nil
}
