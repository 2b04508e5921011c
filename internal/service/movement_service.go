package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/reftrack-api/internal/models"
	appErrors "github.com/noah-isme/reftrack-api/pkg/errors"
)

type movementStore interface {
	Append(ctx context.Context, event *models.MovementEvent) error
	History(ctx context.Context, subjectID string, limit, offset int) ([]models.MovementEvent, error)
}

// MovementService is the append-only ledger of handoffs and status changes.
// Events are immutable once written; the first event for any subject is
// INITIATED with the creator as from_user.
type MovementService struct {
	repo         movementStore
	metrics      *MetricsService
	remarkMaxLen int
	logger       *zap.Logger
}

// NewMovementService constructs the ledger service. remarkMaxLen is injected
// from config once so a run stays consistent even if config changes.
func NewMovementService(repo movementStore, metrics *MetricsService, remarkMaxLen int, logger *zap.Logger) *MovementService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if remarkMaxLen <= 0 {
		remarkMaxLen = 500
	}
	return &MovementService{repo: repo, metrics: metrics, remarkMaxLen: remarkMaxLen, logger: logger}
}

// Append validates and inserts one ledger entry.
func (s *MovementService) Append(ctx context.Context, event *models.MovementEvent) error {
	if event.SubjectID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "subject id is required")
	}
	if err := s.Stage(event); err != nil {
		return err
	}
	if err := s.repo.Append(ctx, event); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append movement")
	}
	s.Recorded(event)
	return nil
}

// Stage validates and normalizes an event that the caller will persist inside
// its own transaction. Call Recorded once that transaction commits.
func (s *MovementService) Stage(event *models.MovementEvent) error {
	if len(event.ToUsers) == 0 {
		return appErrors.Clone(appErrors.ErrValidation, "movement requires at least one target")
	}
	event.Remarks = strings.TrimSpace(event.Remarks)
	if len(event.Remarks) > s.remarkMaxLen {
		return appErrors.Clone(appErrors.ErrValidation, "remarks exceed maximum length")
	}
	return nil
}

// Recorded counts a staged event after its enclosing transaction committed.
func (s *MovementService) Recorded(event *models.MovementEvent) {
	if s.metrics != nil {
		s.metrics.CountMovement(string(event.Type))
	}
}

// InitiatedEvent builds the creation entry for a fresh subject.
func (s *MovementService) InitiatedEvent(subject *models.Reference) *models.MovementEvent {
	creator := subject.CreatedBy
	return &models.MovementEvent{
		SubjectID:        subject.ID,
		Type:             models.MovementInitiated,
		PerformedBy:      &creator,
		FromUser:         &creator,
		ToUsers:          subject.MarkedTo,
		StatusOnMovement: subject.Status,
	}
}

// History returns the ordered event sequence for one subject.
func (s *MovementService) History(ctx context.Context, subjectID string, limit, offset int) ([]models.MovementEvent, error) {
	events, err := s.repo.History(ctx, subjectID, limit, offset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load movement history")
	}
	return events, nil
}

// PriorHolders returns every user that has held the subject at some point,
// derived from the ledger. Used to classify a move as RETURNED. The whole
// ledger is walked page by page so early holders of a long-lived subject are
// never dropped.
func (s *MovementService) PriorHolders(ctx context.Context, subjectID string) (models.StringSet, error) {
	const pageSize = 200
	holders := models.StringSet{}
	for offset := 0; ; offset += pageSize {
		events, err := s.repo.History(ctx, subjectID, pageSize, offset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load movement history")
		}
		for _, event := range events {
			holders = holders.Union(event.ToUsers)
			if event.FromUser != nil {
				holders = holders.Union(models.NewStringSet(*event.FromUser))
			}
		}
		if len(events) < pageSize {
			return holders, nil
		}
	}
}
