package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/reftrack-api/internal/dto"
	"github.com/noah-isme/reftrack-api/internal/models"
	appErrors "github.com/noah-isme/reftrack-api/pkg/errors"
)

type reopenFixture struct {
	*referenceFixture
	reopens *ReopenService
}

func newReopenFixture(t *testing.T) *reopenFixture {
	t.Helper()
	base := newReferenceFixture(t)
	reopens := NewReopenService(base.svc, base.store, base.svc.movements, base.svc.notifier, base.svc.audit, nil)
	return &reopenFixture{referenceFixture: base, reopens: reopens}
}

func closedReference(t *testing.T, f *reopenFixture) *models.Reference {
	t.Helper()
	ref := createTestReference(t, f.referenceFixture, "holder-1")
	stored := f.store.refs[ref.ID]
	stored.Status = models.StatusClosed
	stored.MarkedTo = models.NewStringSet("admin-1", "admin-2")
	return ref
}

func TestReopenRequestRequiresClosedSubject(t *testing.T) {
	f := newReopenFixture(t)
	ref := createTestReference(t, f.referenceFixture, "holder-1")

	err := f.reopens.Request(context.Background(), ref.ID, userClaims("creator-1"), dto.ReopenRequestPayload{Reason: "missed detail"})
	require.True(t, appErrors.Is(err, appErrors.ErrNotClosed))
}

func TestReopenRequestRequiresReason(t *testing.T) {
	f := newReopenFixture(t)
	ref := closedReference(t, f)

	err := f.reopens.Request(context.Background(), ref.ID, userClaims("creator-1"), dto.ReopenRequestPayload{Reason: "   "})
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestReopenRequestSingleOutstanding(t *testing.T) {
	f := newReopenFixture(t)
	ref := closedReference(t, f)

	require.NoError(t, f.reopens.Request(context.Background(), ref.ID, userClaims("creator-1"), dto.ReopenRequestPayload{Reason: "missed detail"}))

	err := f.reopens.Request(context.Background(), ref.ID, userClaims("other-user"), dto.ReopenRequestPayload{Reason: "me too"})
	require.True(t, appErrors.Is(err, appErrors.ErrReopenPending))

	stored := f.store.refs[ref.ID]
	require.NotNil(t, stored.ReopenRequest)
	require.Equal(t, "creator-1", stored.ReopenRequest.RequestedBy)
	require.Equal(t, models.StatusClosed, stored.Status)
}

func TestReopenResolveWithoutRequestRejected(t *testing.T) {
	f := newReopenFixture(t)
	ref := closedReference(t, f)

	_, err := f.reopens.Resolve(context.Background(), ref.ID, adminClaims("admin-1"), dto.ResolveReopenRequest{Approve: true})
	require.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestReopenRequesterCannotResolveOwnRequest(t *testing.T) {
	f := newReopenFixture(t)
	ref := closedReference(t, f)
	require.NoError(t, f.reopens.Request(context.Background(), ref.ID, userClaims("creator-1"), dto.ReopenRequestPayload{Reason: "missed detail"}))

	_, err := f.reopens.Resolve(context.Background(), ref.ID, userClaims("creator-1"), dto.ResolveReopenRequest{Approve: true})
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestReopenNonAdminNonHolderCannotResolve(t *testing.T) {
	f := newReopenFixture(t)
	ref := closedReference(t, f)
	require.NoError(t, f.reopens.Request(context.Background(), ref.ID, userClaims("creator-1"), dto.ReopenRequestPayload{Reason: "missed detail"}))

	_, err := f.reopens.Resolve(context.Background(), ref.ID, userClaims("stranger"), dto.ResolveReopenRequest{Approve: true})
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestReopenApproveReopensAndReturnsToRequester(t *testing.T) {
	f := newReopenFixture(t)
	ref := closedReference(t, f)
	require.NoError(t, f.reopens.Request(context.Background(), ref.ID, userClaims("creator-1"), dto.ReopenRequestPayload{Reason: "missed detail"}))

	eventsBefore := len(f.movements.events)
	resolved, err := f.reopens.Resolve(context.Background(), ref.ID, adminClaims("admin-1"), dto.ResolveReopenRequest{Approve: true})
	require.NoError(t, err)
	require.Equal(t, models.StatusReopened, resolved.Status)
	require.Equal(t, models.StringSet{"creator-1"}, resolved.MarkedTo)
	require.Nil(t, resolved.ReopenRequest)

	stored := f.store.refs[ref.ID]
	require.Equal(t, models.StatusReopened, stored.Status)
	require.Nil(t, stored.ReopenRequest)

	require.Len(t, f.movements.events, eventsBefore+1)
	event := f.movements.lastEvent()
	require.Equal(t, models.MovementReturned, event.Type)
	require.Equal(t, models.StatusClosed, event.StatusOnMovement)
	require.Equal(t, models.StringSet{"creator-1"}, event.ToUsers)
}

func TestReopenApproveLedgerFailureLeavesSubjectClosed(t *testing.T) {
	f := newReopenFixture(t)
	ref := closedReference(t, f)
	require.NoError(t, f.reopens.Request(context.Background(), ref.ID, userClaims("creator-1"), dto.ReopenRequestPayload{Reason: "missed detail"}))

	f.store.failAppend[models.MovementReturned] = errors.New("append movement: connection reset")
	eventsBefore := len(f.movements.events)

	_, err := f.reopens.Resolve(context.Background(), ref.ID, adminClaims("admin-1"), dto.ResolveReopenRequest{Approve: true})
	require.Error(t, err)

	// A failed RETURNED append must not leave a silently reopened subject.
	stored := f.store.refs[ref.ID]
	require.Equal(t, models.StatusClosed, stored.Status)
	require.NotNil(t, stored.ReopenRequest)
	require.Len(t, f.movements.events, eventsBefore)
}

func TestReopenRejectLeavesSubjectClosed(t *testing.T) {
	f := newReopenFixture(t)
	ref := closedReference(t, f)
	require.NoError(t, f.reopens.Request(context.Background(), ref.ID, userClaims("creator-1"), dto.ReopenRequestPayload{Reason: "missed detail"}))

	eventsBefore := len(f.movements.events)
	resolved, err := f.reopens.Resolve(context.Background(), ref.ID, adminClaims("admin-1"), dto.ResolveReopenRequest{
		Approve:         false,
		RejectionReason: "already superseded",
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusClosed, resolved.Status)
	require.Nil(t, resolved.ReopenRequest)

	// Rejection is recorded in the audit trail only; the ledger stays silent.
	require.Len(t, f.movements.events, eventsBefore)

	stored := f.store.refs[ref.ID]
	require.Equal(t, models.StatusClosed, stored.Status)
	require.Nil(t, stored.ReopenRequest)

	// A fresh request may now be filed.
	require.NoError(t, f.reopens.Request(context.Background(), ref.ID, userClaims("creator-1"), dto.ReopenRequestPayload{Reason: "second attempt"}))
}

func TestReopenHolderMayApproveButNotReject(t *testing.T) {
	f := newReopenFixture(t)
	ref := closedReference(t, f)
	// Make a regular user a current holder of the closed subject.
	f.store.refs[ref.ID].MarkedTo = models.NewStringSet("holder-9")
	require.NoError(t, f.reopens.Request(context.Background(), ref.ID, userClaims("creator-1"), dto.ReopenRequestPayload{Reason: "missed detail"}))

	_, err := f.reopens.Resolve(context.Background(), ref.ID, userClaims("holder-9"), dto.ResolveReopenRequest{Approve: false})
	require.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	resolved, err := f.reopens.Resolve(context.Background(), ref.ID, userClaims("holder-9"), dto.ResolveReopenRequest{Approve: true})
	require.NoError(t, err)
	require.Equal(t, models.StatusReopened, resolved.Status)
}
