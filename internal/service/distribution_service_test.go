package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/reftrack-api/internal/dto"
	"github.com/noah-isme/reftrack-api/internal/models"
	"github.com/noah-isme/reftrack-api/pkg/jobs"
	"github.com/noah-isme/reftrack-api/pkg/mailer"
)

type notificationStoreStub struct {
	mu      sync.Mutex
	created []*models.Notification
	failFor map[string]bool
}

func newNotificationStoreStub() *notificationStoreStub {
	return &notificationStoreStub{failFor: make(map[string]bool)}
}

func (s *notificationStoreStub) Create(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[n.UserID] {
		return fmt.Errorf("store rejected %s", n.UserID)
	}
	s.created = append(s.created, n)
	return nil
}

func (s *notificationStoreStub) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Notification, 0, len(s.created))
	for _, n := range s.created {
		if filter.UserID != "" && n.UserID != filter.UserID {
			continue
		}
		out = append(out, *n)
	}
	return out, len(out), nil
}

func (s *notificationStoreStub) MarkRead(ctx context.Context, id, userID string) error {
	return nil
}

func (s *notificationStoreStub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created)
}

type userLookupStub struct {
	err error
}

func (s *userLookupStub) FindByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	users := make([]models.User, 0, len(ids))
	for _, id := range ids {
		users = append(users, models.User{ID: id, FullName: "User " + id, Active: true})
	}
	return users, nil
}

type subjectLoaderStub struct {
	subjects map[string]*models.Reference
}

func (s *subjectLoaderStub) GetByID(ctx context.Context, id string) (*models.Reference, error) {
	ref, ok := s.subjects[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *ref
	return &copy, nil
}

type queueStub struct {
	jobs []jobs.Job
	err  error
}

func (s *queueStub) Enqueue(job jobs.Job) error {
	if s.err != nil {
		return s.err
	}
	s.jobs = append(s.jobs, job)
	return nil
}

type distributionFixture struct {
	svc           *DistributionService
	taskRepo      *taskRepoStub
	notifications *notificationStoreStub
	queue         *queueStub
	audit         *auditStoreStub
}

type auditStoreStub struct {
	logs []*models.AuditLog
}

func (a *auditStoreStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func newDistributionFixture(t *testing.T, batchSize int, subjects ...*models.Reference) *distributionFixture {
	t.Helper()
	taskRepo := newTaskRepoStub()
	notifications := newNotificationStoreStub()
	users := &userLookupStub{}
	queue := &queueStub{}
	audit := &auditStoreStub{}

	loader := &subjectLoaderStub{subjects: make(map[string]*models.Reference)}
	for _, subject := range subjects {
		loader.subjects[subject.ID] = subject
	}

	tasks := NewTaskService(taskRepo, nil)
	recipients := NewRecipientService(&labDirectoryStub{}, nil)
	notifier := NewNotifyService(notifications, users, &mailer.NopSender{}, nil, nil)
	svc := NewDistributionService(tasks, recipients, notifier, users, loader, queue, NewAuditService(audit, nil), nil, batchSize, nil)

	return &distributionFixture{
		svc:           svc,
		taskRepo:      taskRepo,
		notifications: notifications,
		queue:         queue,
		audit:         audit,
	}
}

func manyUserIDs(n int) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, fmt.Sprintf("user-%03d", i))
	}
	return ids
}

func testSubject(id string) *models.Reference {
	return &models.Reference{
		ID:      id,
		RefID:   "REF/2026/001",
		Kind:    models.SubjectKindReference,
		Subject: "Quarterly safety inspection",
		Status:  models.StatusOpen,
	}
}

func TestStartDistributionRejectsUnknownAction(t *testing.T) {
	f := newDistributionFixture(t, 10, testSubject("ref-1"))

	_, err := f.svc.StartDistribution(context.Background(), dto.DistributeRequest{
		SubjectID: "ref-1",
		Action:    models.DistributionAction("BROADCAST"),
	}, "actor-1")
	require.Error(t, err)
}

func TestStartDistributionCreatesAndEnqueuesTask(t *testing.T) {
	f := newDistributionFixture(t, 10, testSubject("ref-1"))

	resp, err := f.svc.StartDistribution(context.Background(), dto.DistributeRequest{
		SubjectID: "ref-1",
		Action:    models.ActionShared,
		Target:    models.DistributionTarget{UserIDs: []string{"u1", "u2"}},
	}, "actor-1")
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusPending, resp.Status)
	require.Len(t, f.queue.jobs, 1)
	require.Equal(t, resp.TaskID, f.queue.jobs[0].ID)
	require.Len(t, f.audit.logs, 1)
}

func TestDistributionEmptyRecipientSetCompletesInstantly(t *testing.T) {
	f := newDistributionFixture(t, 10, testSubject("ref-1"))
	resp, err := f.svc.StartDistribution(context.Background(), dto.DistributeRequest{
		SubjectID: "ref-1",
		Action:    models.ActionShared,
	}, "actor-1")
	require.NoError(t, err)

	require.NoError(t, f.svc.Handle(context.Background(), jobs.Job{ID: resp.TaskID}))

	task, err := f.taskRepo.GetByID(context.Background(), resp.TaskID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusCompleted, task.Status)
	require.Equal(t, 100, task.Progress)
	require.Zero(t, f.notifications.count())
}

func TestDistributionBatchProgressSequence(t *testing.T) {
	f := newDistributionFixture(t, 10, testSubject("ref-1"))
	resp, err := f.svc.StartDistribution(context.Background(), dto.DistributeRequest{
		SubjectID: "ref-1",
		Action:    models.ActionShared,
		Target:    models.DistributionTarget{UserIDs: manyUserIDs(35)},
	}, "actor-1")
	require.NoError(t, err)

	require.NoError(t, f.svc.Handle(context.Background(), jobs.Job{ID: resp.TaskID}))

	// 35 recipients in batches of 10 report 28, 57, 85, 100.
	var observed []int
	for _, update := range f.taskRepo.updates {
		if update.Progress != nil && update.ProcessedItems != nil {
			observed = append(observed, *update.Progress)
		}
	}
	require.Equal(t, []int{28, 57, 85, 100}, observed)

	task, err := f.taskRepo.GetByID(context.Background(), resp.TaskID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusCompleted, task.Status)
	require.Equal(t, 35, f.notifications.count())
}

func TestDistributionSoftFailureDoesNotAbortRun(t *testing.T) {
	f := newDistributionFixture(t, 10, testSubject("ref-1"))
	f.notifications.failFor["user-003"] = true

	resp, err := f.svc.StartDistribution(context.Background(), dto.DistributeRequest{
		SubjectID: "ref-1",
		Action:    models.ActionShared,
		Target:    models.DistributionTarget{UserIDs: manyUserIDs(12)},
	}, "actor-1")
	require.NoError(t, err)

	require.NoError(t, f.svc.Handle(context.Background(), jobs.Job{ID: resp.TaskID}))

	task, err := f.taskRepo.GetByID(context.Background(), resp.TaskID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusCompleted, task.Status)
	require.Equal(t, 100, task.Progress)
	// Eleven of twelve deliveries landed; the failed one is logged, not fatal.
	require.Equal(t, 11, f.notifications.count())
}

func TestDistributionSubjectGoneFailsTask(t *testing.T) {
	f := newDistributionFixture(t, 10, testSubject("ref-1"))
	resp, err := f.svc.StartDistribution(context.Background(), dto.DistributeRequest{
		SubjectID: "ref-1",
		Action:    models.ActionShared,
		Target:    models.DistributionTarget{UserIDs: []string{"u1"}},
	}, "actor-1")
	require.NoError(t, err)

	// The subject disappears before the run executes.
	delete(f.svc.subjects.(*subjectLoaderStub).subjects, "ref-1")

	require.NoError(t, f.svc.Handle(context.Background(), jobs.Job{ID: resp.TaskID}))

	task, err := f.taskRepo.GetByID(context.Background(), resp.TaskID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusFailed, task.Status)
	require.NotNil(t, task.ErrorMessage)
}

func TestDistributionHandleTerminalTaskIsNoop(t *testing.T) {
	f := newDistributionFixture(t, 10, testSubject("ref-1"))
	seedTask(f.taskRepo, "task-done", models.TaskStatusCompleted)

	require.NoError(t, f.svc.Handle(context.Background(), jobs.Job{ID: "task-done"}))
	require.Empty(t, f.taskRepo.updates)
	require.Zero(t, f.notifications.count())
}

func TestDistributionReShareIdenticalTargetCompletesInstantly(t *testing.T) {
	f := newDistributionFixture(t, 10, testSubject("ref-1"))
	target := models.DistributionTarget{UserIDs: []string{"u1", "u2", "u3"}}

	resp, err := f.svc.StartDistribution(context.Background(), dto.DistributeRequest{
		SubjectID:      "ref-1",
		Action:         models.ActionShared,
		Target:         target,
		PreviousTarget: &target,
	}, "actor-1")
	require.NoError(t, err)

	require.NoError(t, f.svc.Handle(context.Background(), jobs.Job{ID: resp.TaskID}))

	// Everyone already has the subject: the diff is empty, so the run
	// completes instantly with nothing dispatched.
	task, err := f.taskRepo.GetByID(context.Background(), resp.TaskID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusCompleted, task.Status)
	require.Equal(t, 100, task.Progress)
	require.Zero(t, f.notifications.count())
}

func TestDistributionDiffDeltaNotifiesOnlyNewRecipients(t *testing.T) {
	f := newDistributionFixture(t, 10, testSubject("ref-1"))
	previous := models.DistributionTarget{UserIDs: []string{"u1", "u2"}}

	resp, err := f.svc.StartDistribution(context.Background(), dto.DistributeRequest{
		SubjectID:      "ref-1",
		Action:         models.ActionUpdated,
		Target:         models.DistributionTarget{UserIDs: []string{"u1", "u2", "u3"}},
		PreviousTarget: &previous,
	}, "actor-1")
	require.NoError(t, err)

	require.NoError(t, f.svc.Handle(context.Background(), jobs.Job{ID: resp.TaskID}))

	require.Equal(t, 1, f.notifications.count())
	n := f.notifications.created[0]
	require.Equal(t, "u3", n.UserID)
	// The new recipient gets a SHARED notice, not an UPDATED one.
	require.Equal(t, models.NotificationReferenceShared, n.Kind)
}

func TestRecoverPendingRequeuesUnstartedTasks(t *testing.T) {
	f := newDistributionFixture(t, 10)
	f.taskRepo.pending = []models.BackgroundTask{
		{ID: "task-a", Kind: models.TaskKindReferenceDistribution},
		{ID: "task-b", Kind: models.TaskKindFormDistribution},
	}

	f.svc.RecoverPending(context.Background())
	require.Len(t, f.queue.jobs, 2)
	require.Equal(t, "task-a", f.queue.jobs[0].ID)
}
