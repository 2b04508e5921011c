package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/reftrack-api/internal/dto"
	"github.com/noah-isme/reftrack-api/internal/models"
	"github.com/noah-isme/reftrack-api/internal/repository"
	appErrors "github.com/noah-isme/reftrack-api/pkg/errors"
)

// ReopenService gates the single-outstanding reopen request per closed
// subject and its approve/reject resolution.
type ReopenService struct {
	refs      *ReferenceService
	repo      referenceStore
	movements *MovementService
	notifier  *NotifyService
	audit     *AuditService
	logger    *zap.Logger
}

// NewReopenService constructs the gate.
func NewReopenService(refs *ReferenceService, repo referenceStore, movements *MovementService, notifier *NotifyService, audit *AuditService, logger *zap.Logger) *ReopenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReopenService{
		refs:      refs,
		repo:      repo,
		movements: movements,
		notifier:  notifier,
		audit:     audit,
		logger:    logger,
	}
}

// Request files a reopen petition. The subject must be Closed and carry no
// unresolved request. Status does not change here.
func (s *ReopenService) Request(ctx context.Context, id string, actor *models.JWTClaims, req dto.ReopenRequestPayload) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if strings.TrimSpace(req.Reason) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "reason is required")
	}

	ref, err := s.refs.load(ctx, id)
	if err != nil {
		return err
	}
	if !ref.IsClosed() {
		return appErrors.Clone(appErrors.ErrNotClosed, "only closed references may be reopened")
	}
	if ref.ReopenRequest != nil {
		return appErrors.Clone(appErrors.ErrReopenPending, "")
	}

	request := models.ReopenRequest{
		RequestedBy: actor.UserID,
		Reason:      strings.TrimSpace(req.Reason),
		RequestedAt: time.Now().UTC(),
	}
	if err := s.repo.UpdateVersioned(ctx, ref.ID, ref.Version, repository.UpdateReferenceParams{
		ReopenRequest: &request,
	}); err != nil {
		return err
	}

	s.audit.Record(ctx, &actor.UserID, models.AuditActionReopenRequest, "reference", &ref.ID, nil, request)
	s.notifier.NotifyIDs(ctx, ref.MarkedTo, models.NotificationReferenceMoved,
		fmt.Sprintf("Reopen requested for %s", ref.RefID),
		fmt.Sprintf("%s requested to reopen %q.", actor.FullName, ref.Subject), ref.ID)
	return nil
}

// Resolve settles the outstanding request. Approval reopens the subject and
// returns it to the requester; rejection leaves it Closed with the request
// cleared. The resolver must be an administrator, or for approvals only, a
// current administrator-holder. Requesters never resolve their own petition.
func (s *ReopenService) Resolve(ctx context.Context, id string, actor *models.JWTClaims, req dto.ResolveReopenRequest) (*models.Reference, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}

	ref, err := s.refs.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if ref.ReopenRequest == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no outstanding reopen request")
	}

	request := *ref.ReopenRequest
	if actor.UserID == request.RequestedBy && !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "requesters cannot resolve their own reopen request")
	}
	if !actor.IsAdmin() {
		if !req.Approve || !ref.MarkedTo.Contains(actor.UserID) {
			return nil, appErrors.ErrForbidden
		}
	}

	resolution := models.ReopenResolution{
		Approved:        req.Approve,
		ResolvedBy:      actor.UserID,
		ResolvedAt:      time.Now().UTC(),
		RejectionReason: strings.TrimSpace(req.RejectionReason),
	}

	if req.Approve {
		reopened := models.StatusReopened
		requester := models.NewStringSet(request.RequestedBy)
		event := &models.MovementEvent{
			SubjectID:        ref.ID,
			Type:             models.MovementReturned,
			PerformedBy:      &actor.UserID,
			FromUser:         &actor.UserID,
			ToUsers:          requester,
			StatusOnMovement: models.StatusClosed,
			Remarks:          request.Reason,
		}
		if err := s.movements.Stage(event); err != nil {
			return nil, err
		}
		// Reopening changes the holder set, so the status flip and the
		// RETURNED event commit in one transaction.
		if err := s.repo.UpdateVersionedWithEvent(ctx, ref.ID, ref.Version, repository.UpdateReferenceParams{
			Status:      &reopened,
			MarkedTo:    &requester,
			ClearReopen: true,
		}, event); err != nil {
			return nil, err
		}
		s.movements.Recorded(event)
		s.refs.invalidateHolderCache(ctx, ref.ID)
		s.notifier.NotifyIDs(ctx, requester, models.NotificationReopenApproved,
			fmt.Sprintf("%s reopened", ref.RefID),
			fmt.Sprintf("Your request to reopen %q was approved.", ref.Subject), ref.ID)

		ref.Status = models.StatusReopened
		ref.MarkedTo = requester
	} else {
		// The subject stays Closed; the timeline records nothing, the
		// audit trail keeps the decision.
		if err := s.repo.UpdateVersioned(ctx, ref.ID, ref.Version, repository.UpdateReferenceParams{
			ClearReopen: true,
		}); err != nil {
			return nil, err
		}
		s.notifier.NotifyIDs(ctx, []string{request.RequestedBy}, models.NotificationReopenRejected,
			fmt.Sprintf("Reopen request for %s rejected", ref.RefID),
			fmt.Sprintf("Your request to reopen %q was rejected: %s", ref.Subject, resolution.RejectionReason), ref.ID)
	}

	s.audit.Record(ctx, &actor.UserID, models.AuditActionReopenResolve, "reference", &ref.ID, request, resolution)

	ref.ReopenRequest = nil
	ref.Version++
	return ref, nil
}
