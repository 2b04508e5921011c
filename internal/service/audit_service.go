package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/noah-isme/reftrack-api/internal/models"
)

type auditStore interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AuditService records audit trail entries best-effort: a failed write is
// logged and never surfaces to the caller.
type AuditService struct {
	repo   auditStore
	logger *zap.Logger
}

// NewAuditService constructs the service.
func NewAuditService(repo auditStore, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{repo: repo, logger: logger}
}

// Record writes one audit entry. Old and new values are marshalled to JSON;
// marshal failures degrade to empty payloads.
func (s *AuditService) Record(ctx context.Context, actor *string, action, resource string, resourceID *string, oldValues, newValues interface{}) {
	if s == nil || s.repo == nil {
		return
	}
	log := &models.AuditLog{
		UserID:     actor,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		IPAddress:  "system",
		UserAgent:  "workflow-engine",
	}
	if oldValues != nil {
		if data, err := json.Marshal(oldValues); err == nil {
			log.OldValues = data
		}
	}
	if newValues != nil {
		if data, err := json.Marshal(newValues); err == nil {
			log.NewValues = data
		}
	}
	if err := s.repo.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
