package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/reftrack-api/internal/models"
)

type labDirectoryStub struct {
	members map[string][]string
	calls   int
	err     error
}

func (s *labDirectoryStub) FindByLabs(ctx context.Context, labNames []string) ([]string, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	var out []string
	for _, name := range labNames {
		out = append(out, s.members[name]...)
	}
	return out, nil
}

func TestRecipientServiceResolveUnionsAndDeduplicates(t *testing.T) {
	directory := &labDirectoryStub{members: map[string][]string{
		"lab-a": {"u3", "u1"},
		"lab-b": {"u4"},
	}}
	svc := NewRecipientService(directory, nil)

	set, err := svc.Resolve(context.Background(), models.DistributionTarget{
		UserIDs:  []string{"u2", "u1", "u2"},
		LabNames: []string{"lab-a", "lab-b"},
	})
	require.NoError(t, err)
	require.Equal(t, models.StringSet{"u1", "u2", "u3", "u4"}, set)
}

func TestRecipientServiceResolveSkipsDirectoryWithoutLabs(t *testing.T) {
	directory := &labDirectoryStub{}
	svc := NewRecipientService(directory, nil)

	set, err := svc.Resolve(context.Background(), models.DistributionTarget{UserIDs: []string{"u1"}})
	require.NoError(t, err)
	require.Equal(t, models.StringSet{"u1"}, set)
	require.Zero(t, directory.calls)
}

func TestRecipientServiceResolveDirectoryFailure(t *testing.T) {
	directory := &labDirectoryStub{err: errors.New("directory down")}
	svc := NewRecipientService(directory, nil)

	_, err := svc.Resolve(context.Background(), models.DistributionTarget{LabNames: []string{"lab-a"}})
	require.Error(t, err)
}

func TestRecipientServiceDiffReturnsOnlyNewRecipients(t *testing.T) {
	directory := &labDirectoryStub{members: map[string][]string{
		"lab-a": {"u1", "u2"},
	}}
	svc := NewRecipientService(directory, nil)

	result, err := svc.Diff(context.Background(),
		models.DistributionTarget{UserIDs: []string{"u3"}, LabNames: []string{"lab-a"}},
		models.DistributionTarget{UserIDs: []string{"u1", "u2"}},
		models.ActionShared)
	require.NoError(t, err)
	require.Equal(t, models.StringSet{"u3"}, result.Recipients)
	require.Equal(t, models.ActionShared, result.Action)

	for _, previous := range []string{"u1", "u2"} {
		require.False(t, result.Recipients.Contains(previous))
	}
}

func TestRecipientServiceDiffDowngradesUpdateForNewRecipients(t *testing.T) {
	directory := &labDirectoryStub{}
	svc := NewRecipientService(directory, nil)

	result, err := svc.Diff(context.Background(),
		models.DistributionTarget{UserIDs: []string{"u1", "u2"}},
		models.DistributionTarget{UserIDs: []string{"u1"}},
		models.ActionUpdated)
	require.NoError(t, err)
	require.Equal(t, models.StringSet{"u2"}, result.Recipients)
	// New recipients see the subject for the first time; an "updated" notice
	// would be misleading.
	require.Equal(t, models.ActionShared, result.Action)
}

func TestRecipientServiceDiffEmptyDeltaKeepsAction(t *testing.T) {
	directory := &labDirectoryStub{}
	svc := NewRecipientService(directory, nil)

	result, err := svc.Diff(context.Background(),
		models.DistributionTarget{UserIDs: []string{"u1"}},
		models.DistributionTarget{UserIDs: []string{"u1", "u2"}},
		models.ActionUpdated)
	require.NoError(t, err)
	require.Empty(t, result.Recipients)
	require.Equal(t, models.ActionUpdated, result.Action)
}
