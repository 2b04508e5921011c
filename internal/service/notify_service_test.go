package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/reftrack-api/internal/models"
	"github.com/noah-isme/reftrack-api/pkg/mailer"
)

type mailSenderStub struct {
	sent    []string
	failFor map[string]bool
}

func (s *mailSenderStub) Send(ctx context.Context, to, subject, html string) error {
	if s.failFor[to] {
		return errors.New("smtp rejected")
	}
	s.sent = append(s.sent, to)
	return nil
}

func TestNotifyServiceSkipsEmailWithoutAddress(t *testing.T) {
	store := newNotificationStoreStub()
	mail := &mailSenderStub{}
	svc := NewNotifyService(store, &userLookupStub{}, mail, nil, nil)

	err := svc.Notify(context.Background(), models.User{ID: "u1"}, models.NotificationReminder, "Reminder", "pending", "ref-1")
	require.NoError(t, err)
	require.Equal(t, 1, store.count())
	require.Empty(t, mail.sent)
}

func TestNotifyServiceEmailFailureIsSoft(t *testing.T) {
	store := newNotificationStoreStub()
	mail := &mailSenderStub{failFor: map[string]bool{"bad@example.com": true}}
	svc := NewNotifyService(store, &userLookupStub{}, mail, nil, nil)

	err := svc.Notify(context.Background(), models.User{ID: "u1", Email: "bad@example.com"}, models.NotificationReminder, "Reminder", "pending", "ref-1")
	require.Error(t, err)
	// The in-app record survives even when the email bounces.
	require.Equal(t, 1, store.count())
}

func TestNotifyServiceStoreFailureIsSoft(t *testing.T) {
	store := newNotificationStoreStub()
	store.failFor["u1"] = true
	svc := NewNotifyService(store, &userLookupStub{}, &mailer.NopSender{}, nil, nil)

	err := svc.Notify(context.Background(), models.User{ID: "u1", Email: "u1@example.com"}, models.NotificationReminder, "Reminder", "pending", "ref-1")
	require.Error(t, err)
	require.Zero(t, store.count())
}

func TestNotifyIDsSwallowsIndividualFailures(t *testing.T) {
	store := newNotificationStoreStub()
	store.failFor["u2"] = true
	svc := NewNotifyService(store, &userLookupStub{}, &mailer.NopSender{}, nil, nil)

	svc.NotifyIDs(context.Background(), []string{"u1", "u2", "u3"}, models.NotificationReferenceMoved, "Moved", "msg", "ref-1")
	require.Equal(t, 2, store.count())
}

func TestNotifyServiceListScopesToUser(t *testing.T) {
	store := newNotificationStoreStub()
	svc := NewNotifyService(store, &userLookupStub{}, &mailer.NopSender{}, nil, nil)

	require.NoError(t, svc.Notify(context.Background(), models.User{ID: "u1"}, models.NotificationReminder, "A", "a", "ref-1"))
	require.NoError(t, svc.Notify(context.Background(), models.User{ID: "u2"}, models.NotificationReminder, "B", "b", "ref-1"))

	items, total, err := svc.List(context.Background(), models.NotificationFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, items, 1)
	require.Equal(t, "u1", items[0].UserID)
}
