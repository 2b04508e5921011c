package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/reftrack-api/internal/models"
	"github.com/noah-isme/reftrack-api/pkg/mailer"
)

type notificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	MarkRead(ctx context.Context, id, userID string) error
}

type recipientLookup interface {
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
}

// NotifyService delivers one recipient's in-app notification and, when the
// user has a registered email, a fire-and-forget email. Every failure is
// caught and logged with the offending user ID; it never aborts the caller.
// One bad address must not stop delivery to the remaining recipients.
type NotifyService struct {
	repo    notificationStore
	users   recipientLookup
	mail    mailer.Sender
	logger  *zap.Logger
	metrics *MetricsService
}

// NewNotifyService constructs the dispatcher.
func NewNotifyService(repo notificationStore, users recipientLookup, mail mailer.Sender, metrics *MetricsService, logger *zap.Logger) *NotifyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mail == nil {
		mail = &mailer.NopSender{}
	}
	return &NotifyService{repo: repo, users: users, mail: mail, logger: logger, metrics: metrics}
}

// Notify creates the in-app record and queues the email for one user. The
// returned error is a soft failure signal for aggregate reporting only.
func (s *NotifyService) Notify(ctx context.Context, user models.User, kind models.NotificationKind, title, message string, subjectID string) error {
	var sid *string
	if subjectID != "" {
		sid = &subjectID
	}
	err := s.repo.Create(ctx, &models.Notification{
		UserID:    user.ID,
		Kind:      kind,
		Title:     title,
		Message:   message,
		SubjectID: sid,
	})
	if err != nil {
		s.logger.Sugar().Warnw("notification create failed", "user_id", user.ID, "kind", kind, "error", err)
		s.countSoftFailure()
		return fmt.Errorf("notify %s: %w", user.ID, err)
	}

	if user.Email == "" {
		return nil
	}
	if err := s.mail.Send(ctx, user.Email, title, "<p>"+message+"</p>"); err != nil {
		s.logger.Sugar().Warnw("email send failed", "user_id", user.ID, "error", err)
		s.countSoftFailure()
		return fmt.Errorf("mail %s: %w", user.ID, err)
	}
	return nil
}

// NotifyIDs resolves the given user IDs and notifies each in turn. Used for
// holder handoffs and reminders where the set is small. Soft failures are
// swallowed after logging.
func (s *NotifyService) NotifyIDs(ctx context.Context, userIDs []string, kind models.NotificationKind, title, message, subjectID string) {
	if len(userIDs) == 0 {
		return
	}
	users, err := s.users.FindByIDs(ctx, userIDs)
	if err != nil {
		s.logger.Sugar().Warnw("recipient lookup failed", "error", err)
		return
	}
	for _, user := range users {
		_ = s.Notify(ctx, user, kind, title, message, subjectID)
	}
}

// List returns the caller's notifications, newest first.
func (s *NotifyService) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	return s.repo.List(ctx, filter)
}

// MarkRead flips the read flag. Scoped to the owning user so one user cannot
// acknowledge another's notifications.
func (s *NotifyService) MarkRead(ctx context.Context, id, userID string) error {
	return s.repo.MarkRead(ctx, id, userID)
}

func (s *NotifyService) countSoftFailure() {
	if s.metrics != nil {
		s.metrics.CountSoftFailure()
	}
}
