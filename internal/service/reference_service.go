package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/reftrack-api/internal/dto"
	"github.com/noah-isme/reftrack-api/internal/models"
	"github.com/noah-isme/reftrack-api/internal/repository"
	"github.com/noah-isme/reftrack-api/pkg/config"
	appErrors "github.com/noah-isme/reftrack-api/pkg/errors"
)

type referenceStore interface {
	CreateWithEvent(ctx context.Context, ref *models.Reference, event *models.MovementEvent) error
	GetByID(ctx context.Context, id string) (*models.Reference, error)
	UpdateVersioned(ctx context.Context, id string, expectedVersion int, params repository.UpdateReferenceParams) error
	UpdateVersionedWithEvent(ctx context.Context, id string, expectedVersion int, params repository.UpdateReferenceParams, event *models.MovementEvent) error
	List(ctx context.Context, filter models.ReferenceFilter) ([]models.Reference, int, error)
}

type adminDirectory interface {
	FindByRoles(ctx context.Context, roles []string) ([]string, error)
}

// ReferenceService is the movement state machine for routed subjects. It owns
// the "current holder" invariant: every change to marked_to appends a ledger
// event in the same logical operation.
type ReferenceService struct {
	repo      referenceStore
	movements *MovementService
	directory adminDirectory
	notifier  *NotifyService
	audit     *AuditService
	cache     *repository.CacheRepository
	cfg       config.WorkflowConfig
	validator *validator.Validate
	logger    *zap.Logger
}

// NewReferenceService constructs the service and registers domain validations.
func NewReferenceService(
	repo referenceStore,
	movements *MovementService,
	directory adminDirectory,
	notifier *NotifyService,
	audit *AuditService,
	cache *repository.CacheRepository,
	cfg config.WorkflowConfig,
	validate *validator.Validate,
	logger *zap.Logger,
) *ReferenceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.AdminRoles) == 0 {
		cfg.AdminRoles = []string{string(models.RoleSuperAdmin), string(models.RoleAdmin)}
	}
	svc := &ReferenceService{
		repo:      repo,
		movements: movements,
		directory: directory,
		notifier:  notifier,
		audit:     audit,
		cache:     cache,
		cfg:       cfg,
		validator: validate,
		logger:    logger,
	}
	svc.validator.RegisterValidation("subjectkind", func(fl validator.FieldLevel) bool {
		switch models.SubjectKind(strings.ToUpper(fl.Field().String())) {
		case models.SubjectKindReference, models.SubjectKindForm:
			return true
		default:
			return false
		}
	})
	svc.validator.RegisterValidation("priority", func(fl validator.FieldLevel) bool {
		switch models.ReferencePriority(strings.ToUpper(fl.Field().String())) {
		case models.PriorityLow, models.PriorityNormal, models.PriorityHigh:
			return true
		default:
			return false
		}
	})
	svc.validator.RegisterValidation("refstatus", func(fl validator.FieldLevel) bool {
		switch models.ReferenceStatus(strings.ToUpper(fl.Field().String())) {
		case models.StatusOpen, models.StatusInProgress, models.StatusClosed, models.StatusReopened:
			return true
		default:
			return false
		}
	})
	return svc
}

// Create stores a new Open subject and appends the INITIATED ledger event.
func (s *ReferenceService) Create(ctx context.Context, req dto.CreateReferenceRequest, actorID string) (*models.Reference, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reference payload")
	}
	markedTo := models.NewStringSet(req.MarkedTo...)
	if len(markedTo) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "markedTo must name at least one holder")
	}

	priority := models.ReferencePriority(strings.ToUpper(req.Priority))
	if priority == "" {
		priority = models.PriorityNormal
	}
	ref := &models.Reference{
		RefID:     req.RefID,
		Kind:      models.SubjectKind(strings.ToUpper(req.Kind)),
		Subject:   req.Subject,
		Status:    models.StatusOpen,
		Priority:  priority,
		MarkedTo:  markedTo,
		CreatedBy: actorID,
	}
	// The subject row and its INITIATED event land in one transaction; a
	// subject without a ledger never exists.
	event := s.movements.InitiatedEvent(ref)
	if err := s.repo.CreateWithEvent(ctx, ref, event); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create reference")
	}
	s.movements.Recorded(event)

	s.notifier.NotifyIDs(ctx, markedTo, models.NotificationReferenceMoved,
		fmt.Sprintf("%s marked to you", ref.RefID),
		fmt.Sprintf("%q requires your action.", ref.Subject), ref.ID)
	s.audit.Record(ctx, &actorID, models.AuditActionReferenceCreate, "reference", &ref.ID, nil, ref)

	return ref, nil
}

// Get loads one subject, hiding admin-suppressed items from regular users.
func (s *ReferenceService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Reference, error) {
	ref, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if ref.IsHidden && (actor == nil || !actor.IsAdmin()) {
		return nil, appErrors.ErrNotFound
	}
	return ref, nil
}

// List returns subjects matching the filter. Hidden items are only visible to
// administrators.
func (s *ReferenceService) List(ctx context.Context, filter models.ReferenceFilter, actor *models.JWTClaims) ([]models.Reference, int, error) {
	if actor == nil || !actor.IsAdmin() {
		filter.IncludeHidden = false
	}
	refs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list references")
	}
	return refs, total, nil
}

// ApplyMove validates and applies one holder handoff / status transition.
// Closing always hands the subject to the administrator set regardless of the
// holders the actor named. A stale version surfaces as Conflict for client
// retry.
func (s *ReferenceService) ApplyMove(ctx context.Context, id string, actor *models.JWTClaims, req dto.MoveReferenceRequest) (*models.Reference, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid move payload")
	}

	ref, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if !ref.MarkedTo.Contains(actor.UserID) && !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrNotHolder, "")
	}

	newStatus := models.ReferenceStatus(strings.ToUpper(req.NewStatus))
	if !validTransition(ref.Status, newStatus) {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("cannot transition from %s to %s", ref.Status, newStatus))
	}

	newHolders := models.NewStringSet(req.NewHolders...)
	if newHolders.Contains(actor.UserID) {
		return nil, appErrors.Clone(appErrors.ErrSelfAssignment, "")
	}

	// Closing overrides the holder set: only administrators may act on a
	// closed subject.
	if newStatus == models.StatusClosed {
		adminIDs, err := s.directory.FindByRoles(ctx, s.cfg.AdminRoles)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve administrator set")
		}
		newHolders = models.NewStringSet(adminIDs...)
	}
	if len(newHolders) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "newHolders must name at least one user")
	}

	movementType := models.MovementDelegated
	if prior, err := s.movements.PriorHolders(ctx, ref.ID); err == nil && len(newHolders.Diff(prior)) == 0 {
		movementType = models.MovementReturned
	}

	statusBefore := ref.Status
	event := &models.MovementEvent{
		SubjectID:        ref.ID,
		Type:             movementType,
		PerformedBy:      &actor.UserID,
		FromUser:         &actor.UserID,
		ToUsers:          newHolders,
		StatusOnMovement: statusBefore,
		Remarks:          req.Remarks,
	}
	if err := s.movements.Stage(event); err != nil {
		return nil, err
	}
	// One transaction: the holder change and its ledger event commit together
	// or not at all.
	if err := s.repo.UpdateVersionedWithEvent(ctx, ref.ID, ref.Version, repository.UpdateReferenceParams{
		Status:   &newStatus,
		MarkedTo: &newHolders,
	}, event); err != nil {
		return nil, err
	}
	s.movements.Recorded(event)

	s.invalidateHolderCache(ctx, ref.ID)
	s.notifier.NotifyIDs(ctx, newHolders, models.NotificationReferenceMoved,
		fmt.Sprintf("%s marked to you", ref.RefID),
		fmt.Sprintf("%q has been marked to you.", ref.Subject), ref.ID)
	s.audit.Record(ctx, &actor.UserID, models.AuditActionReferenceMove, "reference", &ref.ID,
		map[string]interface{}{"status": statusBefore, "marked_to": ref.MarkedTo},
		map[string]interface{}{"status": newStatus, "marked_to": newHolders})

	ref.Status = newStatus
	ref.MarkedTo = newHolders
	ref.Version++
	return ref, nil
}

// Remind appends a REMINDED ledger event and nudges the current holders. No
// status or holder change occurs.
func (s *ReferenceService) Remind(ctx context.Context, id string, actor *models.JWTClaims, remarks string) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	ref, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if ref.CreatedBy != actor.UserID && !actor.IsAdmin() {
		return appErrors.ErrForbidden
	}
	if ref.IsClosed() {
		return appErrors.Clone(appErrors.ErrValidation, "closed references cannot be reminded")
	}

	if err := s.movements.Append(ctx, &models.MovementEvent{
		SubjectID:        ref.ID,
		Type:             models.MovementReminded,
		PerformedBy:      &actor.UserID,
		FromUser:         &actor.UserID,
		ToUsers:          ref.MarkedTo,
		StatusOnMovement: ref.Status,
		Remarks:          remarks,
	}); err != nil {
		return err
	}

	s.notifier.NotifyIDs(ctx, ref.MarkedTo, models.NotificationReminder,
		fmt.Sprintf("Reminder: %s", ref.RefID),
		fmt.Sprintf("%q is awaiting your action.", ref.Subject), ref.ID)
	return nil
}

// SetHidden toggles the admin-only visibility flag. Independent of status; no
// ledger event is appended.
func (s *ReferenceService) SetHidden(ctx context.Context, id string, hidden bool, actor *models.JWTClaims) error {
	if actor == nil || !actor.IsAdmin() {
		return appErrors.ErrForbidden
	}
	ref, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateVersioned(ctx, ref.ID, ref.Version, repository.UpdateReferenceParams{
		IsHidden: &hidden,
	}); err != nil {
		return err
	}
	s.audit.Record(ctx, &actor.UserID, models.AuditActionReferenceHide, "reference", &ref.ID,
		map[string]interface{}{"is_hidden": ref.IsHidden},
		map[string]interface{}{"is_hidden": hidden})
	return nil
}

// SetArchived toggles the archive flag. Archiving requires a Closed subject;
// unarchiving never does.
func (s *ReferenceService) SetArchived(ctx context.Context, id string, archived bool, actor *models.JWTClaims) error {
	if actor == nil || !actor.IsAdmin() {
		return appErrors.ErrForbidden
	}
	ref, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if archived && !ref.IsClosed() {
		return appErrors.Clone(appErrors.ErrNotClosed, "only closed references may be archived")
	}
	if err := s.repo.UpdateVersioned(ctx, ref.ID, ref.Version, repository.UpdateReferenceParams{
		IsArchived: &archived,
	}); err != nil {
		return err
	}
	s.audit.Record(ctx, &actor.UserID, models.AuditActionReferenceArchive, "reference", &ref.ID,
		map[string]interface{}{"is_archived": ref.IsArchived},
		map[string]interface{}{"is_archived": archived})
	return nil
}

// CurrentHolders answers "who may act on this now", serving from cache when
// warm.
func (s *ReferenceService) CurrentHolders(ctx context.Context, id string) (models.StringSet, error) {
	key := holderCacheKey(id)
	if s.cache != nil {
		var cached models.StringSet
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}
	ref, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, ref.MarkedTo, s.cfg.HolderCacheTTL); err != nil {
			s.logger.Sugar().Warnw("holder cache set failed", "subject_id", id, "error", err)
		}
	}
	return ref.MarkedTo, nil
}

func (s *ReferenceService) invalidateHolderCache(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, holderCacheKey(id)); err != nil {
		s.logger.Sugar().Warnw("holder cache invalidation failed", "subject_id", id, "error", err)
	}
}

func (s *ReferenceService) load(ctx context.Context, id string) (*models.Reference, error) {
	ref, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reference")
	}
	return ref, nil
}

func holderCacheKey(id string) string {
	return "reference:holders:" + id
}

// validTransition encodes the workflow chain. Open -> InProgress -> Closed;
// Reopened behaves like InProgress for holder actions. Leaving Closed happens
// only through the reopen gate, never here.
func validTransition(from, to models.ReferenceStatus) bool {
	if from == models.StatusClosed {
		return false
	}
	if to == models.StatusReopened {
		return false
	}
	switch from {
	case models.StatusOpen:
		return to == models.StatusOpen || to == models.StatusInProgress
	case models.StatusInProgress, models.StatusReopened:
		return to == models.StatusInProgress || to == models.StatusClosed
	default:
		return false
	}
}
