package backup

import (
	"context"
	"errors"
	"fmt"

	"rehearsal/internal/core/ports"
	"rehearsal/pkg/backup"

	"go.uber.org/zap"
)

var ErrIDMismatch = errors.New("restored id does not match backup")

type RestoreService struct {
	backups *backup.BackupService
	tracks  ports.TrackRepository
	logger  *zap.SugaredLogger
}

func NewRestoreService(backups *backup.BackupService, tracks ports.TrackRepository, logger *zap.SugaredLogger) *RestoreService {
	return &RestoreService{
		backups: backups,
		tracks:  tracks,
		logger:  logger,
	}
}

// RestoreLatest replays the newest backup into the track repository and
// returns the size of the restored manifest. A repository that already
// holds tracks is left alone. Ids are handed out in order, so replaying in
// id order reproduces the original ids; any drift is an error.
func (rs *RestoreService) RestoreLatest(ctx context.Context) (int, error) {
	existing, err := rs.tracks.ListTracks(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list tracks: %w", err)
	}
	if len(existing) > 0 {
		rs.logger.Infow("track repository not empty, skipping restore", "tracks", len(existing))
		return 0, nil
	}

	name, err := rs.backups.Latest(ctx)
	if errors.Is(err, backup.ErrNoBackups) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var m Manifest
	env, err := rs.backups.RestoreBackup(ctx, name, &m)
	if err != nil {
		return 0, err
	}
	// The file may have been edited by hand.
	m.sort()

	for _, track := range m.Tracks {
		want := track.ID
		id, err := rs.tracks.CreateTrack(ctx, track)
		if err != nil {
			return 0, fmt.Errorf("failed to restore track %d: %w", want, err)
		}
		if id != want {
			return 0, fmt.Errorf("%w: track %d restored as %d", ErrIDMismatch, want, id)
		}
	}
	for _, take := range m.Takes {
		want := take.ID
		id, err := rs.tracks.CreateTake(ctx, take)
		if err != nil {
			return 0, fmt.Errorf("failed to restore take %d: %w", want, err)
		}
		if id != want {
			return 0, fmt.Errorf("%w: take %d restored as %d", ErrIDMismatch, want, id)
		}
	}

	rs.logger.Infow("session manifest restored",
		"backup_name", name,
		"written_by", env.Version,
		"tracks", len(m.Tracks),
		"takes", len(m.Takes),
	)
	return m.size(), nil
}
