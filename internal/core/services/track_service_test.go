package services

import (
	"context"
	"testing"

	"rehearsal/internal/core/domain"
	"rehearsal/internal/infrastructure/control"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackService_RegisterTrack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.join(t, "alice")
	f.addFile("/session/tracks/001.wav", domain.SampleRate)

	track, err := f.tracks.RegisterTrack(ctx, "Warm-up", "001.wav")
	require.NoError(t, err)
	assert.Equal(t, domain.TrackID(1), track.ID)
	assert.Equal(t, "/session/tracks/001.wav", track.Path)
	assert.Equal(t, 2, track.Channels)

	var cmd control.DownloadCommand
	assert.Equal(t, control.CommandDownload, sess.last(t, &cmd))
	assert.Equal(t, domain.AudioID("track:1"), cmd.AudioID)
	assert.Equal(t, "http://studio:8080/api/v1/tracks/1/audio", cmd.URL)

	list, err := f.tracks.ListTracks(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestTrackService_RejectsBadFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addFile("/session/tracks/44k.wav", 44100)

	for _, name := range []string{"", "..", "../etc/passwd", "sub/001.wav"} {
		_, err := f.tracks.RegisterTrack(ctx, "x", name)
		assert.ErrorIs(t, err, ErrInvalidFileName, name)
	}

	_, err := f.tracks.RegisterTrack(ctx, "x", "44k.wav")
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)

	_, err = f.tracks.RegisterTrack(ctx, "x", "missing.wav")
	assert.ErrorIs(t, err, errNoSuchFile)

	_, err = f.tracks.RegisterTake(ctx, 9, "alice", "take", "001.wav")
	assert.ErrorIs(t, err, domain.ErrTrackNotFound)
}

func TestTrackService_RegisterTake(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addFile("/session/tracks/001.wav", domain.SampleRate)
	f.addFile("/session/takes/001.wav", domain.SampleRate)

	track, err := f.tracks.RegisterTrack(ctx, "Song", "001.wav")
	require.NoError(t, err)

	take, err := f.tracks.RegisterTake(ctx, track.ID, "bob", "bob's alto", "001.wav")
	require.NoError(t, err)
	assert.Equal(t, domain.TakeID(1), take.ID)
	assert.Equal(t, "/session/takes/001.wav", take.Path)

	takes, err := f.tracks.ListTakes(ctx, track.ID)
	require.NoError(t, err)
	require.Len(t, takes, 1)
	assert.Equal(t, domain.ClientID("bob"), takes[0].ClientID)
}

func TestTrackService_OfferDownloads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addFile("/session/tracks/001.wav", domain.SampleRate)
	f.addFile("/session/tracks/002.wav", domain.SampleRate)
	f.addFile("/session/takes/001.wav", domain.SampleRate)

	_, err := f.tracks.RegisterTrack(ctx, "One", "001.wav")
	require.NoError(t, err)
	_, err = f.tracks.RegisterTrack(ctx, "Two", "002.wav")
	require.NoError(t, err)
	_, err = f.tracks.RegisterTake(ctx, 1, "bob", "take", "001.wav")
	require.NoError(t, err)

	sess := f.join(t, "carol")
	require.NoError(t, f.participants.MarkDownloaded(ctx, "carol", "track:2"))

	require.NoError(t, f.tracks.OfferDownloads(ctx, "carol"))
	assert.Equal(t, []string{control.CommandDownload, control.CommandDownload}, sess.commands())

	var cmd control.DownloadCommand
	sess.last(t, &cmd)
	assert.Equal(t, domain.AudioID("take:1"), cmd.AudioID)

	assert.ErrorIs(t, f.tracks.OfferDownloads(ctx, "nobody"), domain.ErrParticipantNotFound)
}
