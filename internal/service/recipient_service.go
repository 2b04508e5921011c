package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/reftrack-api/internal/models"
	appErrors "github.com/noah-isme/reftrack-api/pkg/errors"
)

type labDirectory interface {
	FindByLabs(ctx context.Context, labNames []string) ([]string, error)
}

// RecipientService expands distribution targets into concrete user ID sets.
// It has no side effects; results are a pure function of the directory state
// at call time.
type RecipientService struct {
	directory labDirectory
	logger    *zap.Logger
}

// NewRecipientService constructs the resolver.
func NewRecipientService(directory labDirectory, logger *zap.Logger) *RecipientService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecipientService{directory: directory, logger: logger}
}

// Resolve unions the target's explicit user IDs with all members of its named
// labs. Duplicates collapse; ordering is stable.
func (s *RecipientService) Resolve(ctx context.Context, target models.DistributionTarget) (models.StringSet, error) {
	explicit := models.NewStringSet(target.UserIDs...)
	if len(target.LabNames) == 0 {
		return explicit, nil
	}
	members, err := s.directory.FindByLabs(ctx, target.LabNames)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve lab members")
	}
	return explicit.Union(models.NewStringSet(members...)), nil
}

// DiffResult carries the newly gained recipients and the action the caller
// should use when notifying them.
type DiffResult struct {
	Recipients models.StringSet
	Action     models.DistributionAction
}

// Diff resolves both targets and returns only the recipients present in
// current but absent from previous. When the requested action was UPDATED and
// the delta is non-empty, the effective action downgrades to SHARED: those
// users are seeing the subject for the first time and an update notice would
// be misleading.
func (s *RecipientService) Diff(ctx context.Context, current, previous models.DistributionTarget, requested models.DistributionAction) (DiffResult, error) {
	currentSet, err := s.Resolve(ctx, current)
	if err != nil {
		return DiffResult{}, err
	}
	previousSet, err := s.Resolve(ctx, previous)
	if err != nil {
		return DiffResult{}, err
	}

	delta := currentSet.Diff(previousSet)
	action := requested
	if requested == models.ActionUpdated && len(delta) > 0 {
		action = models.ActionShared
	}
	return DiffResult{Recipients: delta, Action: action}, nil
}
