package memory

import (
	"context"
	"testing"
	"time"

	"rehearsal/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParticipantRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryParticipantRepository()
	now := time.Now()

	alice := &domain.Participant{ClientID: "alice", Username: "Alice", JoinedAt: now}
	bob := &domain.Participant{ClientID: "bob", Username: "Bob", JoinedAt: now.Add(time.Second)}
	require.NoError(t, repo.Add(ctx, bob))
	require.NoError(t, repo.Add(ctx, alice))
	assert.ErrorIs(t, repo.Add(ctx, alice), domain.ErrParticipantExists)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.ClientID("alice"), list[0].ClientID, "join order")

	got, err := repo.GetByID(ctx, "alice")
	require.NoError(t, err)
	got.Downloaded = append(got.Downloaded, "track:1")
	again, _ := repo.GetByID(ctx, "alice")
	assert.Empty(t, again.Downloaded, "callers get copies")

	require.NoError(t, repo.Update(ctx, got))
	again, _ = repo.GetByID(ctx, "alice")
	assert.Equal(t, []domain.AudioID{"track:1"}, again.Downloaded)

	require.NoError(t, repo.Remove(ctx, "alice"))
	assert.ErrorIs(t, repo.Remove(ctx, "alice"), domain.ErrParticipantNotFound)
	_, err = repo.GetByID(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrParticipantNotFound)
	assert.ErrorIs(t, repo.Update(ctx, alice), domain.ErrParticipantNotFound)
}

func TestTrackRepository_TracksAndTakes(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTrackRepository()

	first, err := repo.CreateTrack(ctx, &domain.Track{Name: "warmup"})
	require.NoError(t, err)
	second, err := repo.CreateTrack(ctx, &domain.Track{Name: "anthem"})
	require.NoError(t, err)
	assert.Equal(t, domain.TrackID(1), first)
	assert.Equal(t, domain.TrackID(2), second)

	tracks, err := repo.ListTracks(ctx)
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	assert.Equal(t, "warmup", tracks[0].Name)

	_, err = repo.CreateTake(ctx, &domain.Take{TrackID: 9})
	assert.ErrorIs(t, err, domain.ErrTrackNotFound)

	takeID, err := repo.CreateTake(ctx, &domain.Take{TrackID: second, ClientID: "alice"})
	require.NoError(t, err)
	take, err := repo.GetTake(ctx, takeID)
	require.NoError(t, err)
	assert.Equal(t, domain.ClientID("alice"), take.ClientID)

	takes, err := repo.ListTakes(ctx, second)
	require.NoError(t, err)
	assert.Len(t, takes, 1)
	takes, err = repo.ListTakes(ctx, first)
	require.NoError(t, err)
	assert.Empty(t, takes)

	_, err = repo.GetTrack(ctx, 42)
	assert.ErrorIs(t, err, domain.ErrTrackNotFound)
	_, err = repo.GetTake(ctx, 42)
	assert.ErrorIs(t, err, domain.ErrTakeNotFound)
}
