package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/reftrack-api/internal/dto"
	"github.com/noah-isme/reftrack-api/internal/models"
	appErrors "github.com/noah-isme/reftrack-api/pkg/errors"
	"github.com/noah-isme/reftrack-api/pkg/jobs"
)

type subjectLoader interface {
	GetByID(ctx context.Context, id string) (*models.Reference, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

// DistributionService orchestrates mass fan-out runs: resolve recipients,
// dispatch notifications in bounded batches, and report progress through the
// task tracker. Runs execute detached from the triggering request; callers
// poll the task.
type DistributionService struct {
	tasks      *TaskService
	recipients *RecipientService
	notifier   *NotifyService
	users      recipientLookup
	subjects   subjectLoader
	queue      jobDispatcher
	audit      *AuditService
	metrics    *MetricsService
	logger     *zap.Logger
	batchSize  int
}

// NewDistributionService constructs the processor. batchSize bounds
// concurrent notification calls per step; it is a backpressure control, never
// unbounded.
func NewDistributionService(
	tasks *TaskService,
	recipients *RecipientService,
	notifier *NotifyService,
	users recipientLookup,
	subjects subjectLoader,
	queue jobDispatcher,
	audit *AuditService,
	metrics *MetricsService,
	batchSize int,
	logger *zap.Logger,
) *DistributionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	return &DistributionService{
		tasks:      tasks,
		recipients: recipients,
		notifier:   notifier,
		users:      users,
		subjects:   subjects,
		queue:      queue,
		audit:      audit,
		metrics:    metrics,
		logger:     logger,
		batchSize:  batchSize,
	}
}

// StartDistribution validates the request, persists a PENDING task, and
// enqueues the run. The caller gets the task ID back immediately.
func (s *DistributionService) StartDistribution(ctx context.Context, req dto.DistributeRequest, actorID string) (*dto.DistributionResponse, error) {
	if req.SubjectID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "subjectId is required")
	}
	if req.Action != models.ActionShared && req.Action != models.ActionUpdated {
		return nil, appErrors.Clone(appErrors.ErrValidation, "action must be SHARED or UPDATED")
	}

	subject, err := s.subjects.GetByID(ctx, req.SubjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}

	kind := models.TaskKindReferenceDistribution
	if subject.Kind == models.SubjectKindForm {
		kind = models.TaskKindFormDistribution
	}

	task, err := s.tasks.Create(ctx, kind, actorID, models.TaskPayload{
		SubjectID:      req.SubjectID,
		Action:         req.Action,
		Target:         req.Target,
		PreviousTarget: req.PreviousTarget,
	})
	if err != nil {
		return nil, err
	}

	if err := s.queue.Enqueue(jobs.Job{ID: task.ID, Kind: string(kind)}); err != nil {
		if failErr := s.tasks.Fail(ctx, task.ID, "failed to enqueue distribution"); failErr != nil {
			s.logger.Sugar().Warnw("failed to mark task failed", "task_id", task.ID, "error", failErr)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue distribution")
	}

	s.audit.Record(ctx, &actorID, models.AuditActionDistributionStart, "reference", &req.SubjectID, nil, req)

	return &dto.DistributionResponse{TaskID: task.ID, Status: models.TaskStatusPending}, nil
}

// RecoverPending re-enqueues tasks that never started (e.g. after a restart).
func (s *DistributionService) RecoverPending(ctx context.Context) {
	pending, err := s.tasks.repo.ListPending(ctx, 50)
	if err != nil {
		s.logger.Sugar().Warnw("failed to recover pending tasks", "error", err)
		return
	}
	for _, task := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: task.ID, Kind: string(task.Kind)}); err != nil {
			s.logger.Sugar().Warnw("failed to requeue pending task", "task_id", task.ID, "error", err)
		}
	}
}

// Handle processes one queued distribution run. Structural failures terminate
// the task as FAILED; per-recipient failures are soft and never reach this
// level.
func (s *DistributionService) Handle(ctx context.Context, job jobs.Job) error {
	task, err := s.tasks.repo.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}
	if task.IsTerminal() {
		return nil
	}

	if err := s.run(ctx, task); err != nil {
		if ctx.Err() != nil {
			// Shutdown mid-run: leave the task as-is for restart recovery.
			return ctx.Err()
		}
		if failErr := s.tasks.Fail(ctx, task.ID, err.Error()); failErr != nil {
			s.logger.Sugar().Warnw("failed to mark task failed", "task_id", task.ID, "error", failErr)
		}
		s.logger.Sugar().Errorw("distribution run failed", "task_id", task.ID, "error", err)
		// The task carries the failure; do not requeue.
		return nil
	}
	return nil
}

func (s *DistributionService) run(ctx context.Context, task *models.BackgroundTask) error {
	payload := task.Payload

	subject, err := s.subjects.GetByID(ctx, payload.SubjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("subject %s no longer exists", payload.SubjectID)
		}
		return fmt.Errorf("load subject: %w", err)
	}

	recipients, action, err := s.resolveRecipients(ctx, payload)
	if err != nil {
		return err
	}

	// Empty set completes instantly: progress 100, nothing dispatched.
	if len(recipients) == 0 {
		return s.tasks.Advance(ctx, task.ID, 0, 0)
	}

	if err := s.tasks.Start(ctx, task.ID); err != nil {
		return fmt.Errorf("start task: %w", err)
	}

	total := len(recipients)
	processed := 0
	kind, title, message := s.describe(action, subject)

	for start := 0; start < total; start += s.batchSize {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		end := start + s.batchSize
		if end > total {
			end = total
		}
		batch := recipients[start:end]

		if err := s.dispatchBatch(ctx, batch, kind, title, message, subject.ID); err != nil {
			return err
		}

		processed += len(batch)
		if s.metrics != nil {
			s.metrics.CountBatch()
		}
		if err := s.tasks.Advance(ctx, task.ID, processed, total); err != nil {
			return fmt.Errorf("advance task: %w", err)
		}
	}
	return nil
}

func (s *DistributionService) resolveRecipients(ctx context.Context, payload models.TaskPayload) (models.StringSet, models.DistributionAction, error) {
	if payload.PreviousTarget != nil {
		diff, err := s.recipients.Diff(ctx, payload.Target, *payload.PreviousTarget, payload.Action)
		if err != nil {
			return nil, "", err
		}
		return diff.Recipients, diff.Action, nil
	}
	resolved, err := s.recipients.Resolve(ctx, payload.Target)
	if err != nil {
		return nil, "", err
	}
	return resolved, payload.Action, nil
}

// dispatchBatch notifies every recipient of one batch concurrently and waits
// for the whole batch before returning. Recipient lookup failure is
// structural; individual delivery failures are soft.
func (s *DistributionService) dispatchBatch(ctx context.Context, batch models.StringSet, kind models.NotificationKind, title, message, subjectID string) error {
	users, err := s.users.FindByIDs(ctx, batch)
	if err != nil {
		return fmt.Errorf("lookup batch recipients: %w", err)
	}

	var wg sync.WaitGroup
	for _, user := range users {
		wg.Add(1)
		go func(u models.User) {
			defer wg.Done()
			if err := s.notifier.Notify(ctx, u, kind, title, message, subjectID); err == nil && s.metrics != nil {
				s.metrics.CountDispatched()
			}
		}(user)
	}
	wg.Wait()
	return nil
}

func (s *DistributionService) describe(action models.DistributionAction, subject *models.Reference) (models.NotificationKind, string, string) {
	switch action {
	case models.ActionUpdated:
		return models.NotificationReferenceUpdated,
			fmt.Sprintf("%s updated", subject.RefID),
			fmt.Sprintf("%q has been updated.", subject.Subject)
	default:
		return models.NotificationReferenceShared,
			fmt.Sprintf("%s shared with you", subject.RefID),
			fmt.Sprintf("%q has been shared with you.", subject.Subject)
	}
}
