package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/reftrack-api/internal/models"
	appErrors "github.com/noah-isme/reftrack-api/pkg/errors"
)

func TestMovementServiceAppendValidation(t *testing.T) {
	store := &movementStoreStub{}
	svc := NewMovementService(store, nil, 20, nil)

	err := svc.Append(context.Background(), &models.MovementEvent{
		Type:    models.MovementDelegated,
		ToUsers: models.NewStringSet("u1"),
	})
	require.True(t, appErrors.Is(err, appErrors.ErrValidation), "subject id is mandatory")

	err = svc.Append(context.Background(), &models.MovementEvent{
		SubjectID: "ref-1",
		Type:      models.MovementDelegated,
	})
	require.True(t, appErrors.Is(err, appErrors.ErrValidation), "at least one target is mandatory")

	err = svc.Append(context.Background(), &models.MovementEvent{
		SubjectID: "ref-1",
		Type:      models.MovementDelegated,
		ToUsers:   models.NewStringSet("u1"),
		Remarks:   strings.Repeat("x", 21),
	})
	require.True(t, appErrors.Is(err, appErrors.ErrValidation), "remarks beyond the cap are rejected")

	require.Empty(t, store.events)
}

func TestMovementServiceAppendTrimsRemarks(t *testing.T) {
	store := &movementStoreStub{}
	svc := NewMovementService(store, nil, 500, nil)

	require.NoError(t, svc.Append(context.Background(), &models.MovementEvent{
		SubjectID: "ref-1",
		Type:      models.MovementDelegated,
		ToUsers:   models.NewStringSet("u1"),
		Remarks:   "  handled  ",
	}))
	require.Equal(t, "handled", store.events[0].Remarks)
}

func TestMovementServicePriorHoldersSpansLedger(t *testing.T) {
	store := &movementStoreStub{}
	creator := "creator-1"
	holder := "holder-1"
	store.events = []models.MovementEvent{
		{SubjectID: "ref-1", Type: models.MovementInitiated, FromUser: &creator, ToUsers: models.NewStringSet("holder-1")},
		{SubjectID: "ref-1", Type: models.MovementDelegated, FromUser: &holder, ToUsers: models.NewStringSet("holder-2", "holder-3")},
		{SubjectID: "ref-2", Type: models.MovementInitiated, FromUser: &creator, ToUsers: models.NewStringSet("elsewhere")},
	}
	svc := NewMovementService(store, nil, 500, nil)

	holders, err := svc.PriorHolders(context.Background(), "ref-1")
	require.NoError(t, err)
	require.Equal(t, models.StringSet{"creator-1", "holder-1", "holder-2", "holder-3"}, holders)
	require.False(t, holders.Contains("elsewhere"))
}

func TestMovementServicePriorHoldersWalksLongLedger(t *testing.T) {
	store := &movementStoreStub{}
	creator := "creator-1"
	// The very first holder appears only in the oldest event, beyond any
	// single history page.
	store.events = append(store.events, models.MovementEvent{
		SubjectID: "ref-1", Type: models.MovementInitiated,
		FromUser: &creator, ToUsers: models.NewStringSet("early-holder"),
	})
	for i := 0; i < 450; i++ {
		from := fmt.Sprintf("holder-%03d", i)
		store.events = append(store.events, models.MovementEvent{
			SubjectID: "ref-1", Type: models.MovementDelegated,
			FromUser: &from, ToUsers: models.NewStringSet(fmt.Sprintf("holder-%03d", i+1)),
		})
	}
	svc := NewMovementService(store, nil, 500, nil)

	holders, err := svc.PriorHolders(context.Background(), "ref-1")
	require.NoError(t, err)
	require.True(t, holders.Contains("early-holder"))
	require.True(t, holders.Contains("creator-1"))
	require.True(t, holders.Contains("holder-450"))
}
