package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/reftrack-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestTaskRepositoryCreateGeneratesDefaults(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTaskRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO background_tasks")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	task := &models.BackgroundTask{
		Kind:      models.TaskKindReferenceDistribution,
		Payload:   models.TaskPayload{SubjectID: "ref-1", Action: models.ActionShared},
		CreatedBy: "user-1",
	}
	require.NoError(t, repo.Create(context.Background(), task))
	require.NotEmpty(t, task.ID)
	require.Equal(t, models.TaskStatusPending, task.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepositoryUpdateClampsProgress(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTaskRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE background_tasks SET progress = GREATEST(progress, $1), processed_items = GREATEST(processed_items, $2), total_items = $3, updated_at = $4 WHERE id = $5")).
		WithArgs(57, 20, 35, sqlmock.AnyArg(), "task-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	progress := 57
	processed := 20
	total := 35
	require.NoError(t, repo.Update(context.Background(), "task-1", UpdateTaskParams{
		Progress:       &progress,
		ProcessedItems: &processed,
		TotalItems:     &total,
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepositoryUpdateWithoutChangesIsNoop(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTaskRepository(db)
	require.NoError(t, repo.Update(context.Background(), "task-1", UpdateTaskParams{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepositoryListPending(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewTaskRepository(db)
	rows := sqlmock.NewRows([]string{"id", "kind", "status", "progress", "processed_items", "total_items", "payload", "error_message", "created_by", "created_at", "updated_at"}).
		AddRow("task-1", "REFERENCE_DISTRIBUTION", "PENDING", 0, 0, 0, []byte(`{"subjectId":"ref-1","action":"SHARED","target":{}}`), nil, "user-1", time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM background_tasks WHERE status = 'PENDING'")).
		WithArgs(20).
		WillReturnRows(rows)

	tasks, err := repo.ListPending(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "ref-1", tasks[0].Payload.SubjectID)
	require.NoError(t, mock.ExpectationsWereMet())
}
