package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bountyarbiter/arbiterd/internal/domain"
)

func TestMemStoreInsertBountyIsIdempotentByGUID(t *testing.T) {
	s := NewMemStore()
	guid := uuid.New()
	in := NewBountyInput{
		GUID: guid, NumArtifacts: 1, ExpirationBlock: 100, VoteWindow: 25, RevealWindow: 25,
		Artifacts: []NewArtifactInput{{Hash: "h", Name: "n"}},
		Backends:  []string{"A"},
	}

	_, _, err := s.InsertBounty(context.Background(), in)
	require.NoError(t, err)

	_, _, err = s.InsertBounty(context.Background(), in)
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestMemStoreNewToSubmittingIsExactlyOnce(t *testing.T) {
	s := NewMemStore()
	guid := uuid.New()
	in := NewBountyInput{
		GUID: guid, NumArtifacts: 1, ExpirationBlock: 100, VoteWindow: 25, RevealWindow: 25,
		Artifacts: []NewArtifactInput{{Hash: "h", Name: "n"}},
		Backends:  []string{"A", "B"},
	}
	_, artifacts, err := s.InsertBounty(context.Background(), in)
	require.NoError(t, err)

	first, err := s.NewToSubmitting(context.Background(), artifacts[0].ID)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := s.NewToSubmitting(context.Background(), artifacts[0].ID)
	require.NoError(t, err)
	require.Empty(t, second)
}

func TestMemStoreSetManualTruthRejectsVotedBounty(t *testing.T) {
	s := NewMemStore()
	guid := uuid.New()
	_, _, err := s.InsertBounty(context.Background(), NewBountyInput{GUID: guid, NumArtifacts: 1})
	require.NoError(t, err)

	err = s.WithBountyLock(context.Background(), 1, func(b *domain.Bounty) (*domain.Bounty, error) {
		b.Voted = true
		return b, nil
	})
	require.NoError(t, err)

	err = s.SetManualTruth(context.Background(), guid, []bool{true})
	require.ErrorIs(t, err, ErrBountyTerminal)
}

func TestMemStoreMarkArtifactProcessedIsOnceOnly(t *testing.T) {
	s := NewMemStore()
	_, artifacts, err := s.InsertBounty(context.Background(), NewBountyInput{
		GUID: uuid.New(), NumArtifacts: 1,
		Artifacts: []NewArtifactInput{{Hash: "h", Name: "n"}},
	})
	require.NoError(t, err)

	v := 100
	require.NoError(t, s.MarkArtifactProcessed(context.Background(), artifacts[0].ID, &v, time.Now(), 1))
	a, err := s.GetArtifact(context.Background(), artifacts[0].ID)
	require.NoError(t, err)
	require.True(t, a.Processed)
	require.Equal(t, 100, *a.Verdict)

	other := 0
	require.NoError(t, s.MarkArtifactProcessed(context.Background(), artifacts[0].ID, &other, time.Now(), 2))
	a, err = s.GetArtifact(context.Background(), artifacts[0].ID)
	require.NoError(t, err)
	require.Equal(t, 100, *a.Verdict, "second mark must be a no-op")
}
