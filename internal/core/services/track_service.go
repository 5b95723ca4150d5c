package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rehearsal/internal/core/domain"
	"rehearsal/internal/core/ports"
	"rehearsal/internal/infrastructure/control"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

var ErrInvalidFileName = errors.New("invalid file name")

// Sessions is the participant-service view the track and playback services
// broadcast through.
type Sessions interface {
	Sessions() map[domain.ClientID]ports.ClientSession
	Get(ctx context.Context, clientID domain.ClientID) (*domain.Participant, error)
}

// TrackService registers backing tracks and takes found under the session
// directory and hands out download links for them.
type TrackService struct {
	repo         ports.TrackRepository
	opener       ports.BackingTrackOpener
	participants Sessions
	tracksDir    string
	takesDir     string
	publicURL    string
	logger       *zap.SugaredLogger
	now          func() time.Time
}

func NewTrackService(
	repo ports.TrackRepository,
	opener ports.BackingTrackOpener,
	participants Sessions,
	sessionDir, publicURL string,
	logger *zap.SugaredLogger,
) *TrackService {
	return &TrackService{
		repo:         repo,
		opener:       opener,
		participants: participants,
		tracksDir:    filepath.Join(sessionDir, "tracks"),
		takesDir:     filepath.Join(sessionDir, "takes"),
		publicURL:    strings.TrimSuffix(publicURL, "/"),
		logger:       logger,
		now:          time.Now,
	}
}

// EnsureDirs creates the tracks and takes directories.
func (s *TrackService) EnsureDirs() error {
	for _, dir := range []string{s.tracksDir, s.takesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// resolve maps a bare file name onto dir. Paths that try to leave dir are
// refused.
func resolve(dir, file string) (string, error) {
	if file == "" || file != filepath.Base(file) || file == "." || file == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, file)
	}
	return filepath.Join(dir, file), nil
}

func (s *TrackService) probe(path string) (domain.AudioFileInfo, error) {
	info, err := s.opener.Probe(path)
	if err != nil {
		return info, err
	}
	if info.SampleRate != domain.SampleRate {
		return info, fmt.Errorf("%w: %s is %d Hz, want %d Hz",
			domain.ErrUnsupportedFormat, filepath.Base(path), info.SampleRate, domain.SampleRate)
	}
	return info, nil
}

func (s *TrackService) RegisterTrack(ctx context.Context, name, file string) (*domain.Track, error) {
	path, err := resolve(s.tracksDir, file)
	if err != nil {
		return nil, err
	}
	info, err := s.probe(path)
	if err != nil {
		return nil, err
	}

	track := &domain.Track{
		Name:       name,
		Path:       path,
		SampleRate: info.SampleRate,
		Channels:   info.Channels,
		SizeBytes:  info.SizeBytes,
		CreatedAt:  s.now(),
	}
	id, err := s.repo.CreateTrack(ctx, track)
	if err != nil {
		return nil, fmt.Errorf("failed to store track: %w", err)
	}
	track.ID = id

	s.logger.Infow("track registered",
		"track_id", id,
		"name", name,
		"channels", info.Channels,
		"bit_depth", info.BitDepth,
		"size", humanize.Bytes(uint64(info.SizeBytes)),
	)

	s.offerToEveryone(ctx, track.ID.AudioID(), s.TrackURL(track.ID))
	return track, nil
}

func (s *TrackService) RegisterTake(ctx context.Context, trackID domain.TrackID, clientID domain.ClientID, name, file string) (*domain.Take, error) {
	if _, err := s.repo.GetTrack(ctx, trackID); err != nil {
		return nil, err
	}
	path, err := resolve(s.takesDir, file)
	if err != nil {
		return nil, err
	}
	info, err := s.probe(path)
	if err != nil {
		return nil, err
	}

	take := &domain.Take{
		TrackID:   trackID,
		ClientID:  clientID,
		Name:      name,
		Path:      path,
		CreatedAt: s.now(),
	}
	id, err := s.repo.CreateTake(ctx, take)
	if err != nil {
		return nil, fmt.Errorf("failed to store take: %w", err)
	}
	take.ID = id

	s.logger.Infow("take registered",
		"take_id", id,
		"track_id", trackID,
		"client_id", clientID,
		"size", humanize.Bytes(uint64(info.SizeBytes)),
	)

	s.offerToEveryone(ctx, take.ID.AudioID(), s.TakeURL(take.ID))
	return take, nil
}

func (s *TrackService) GetTrack(ctx context.Context, id domain.TrackID) (*domain.Track, error) {
	return s.repo.GetTrack(ctx, id)
}

func (s *TrackService) ListTracks(ctx context.Context) ([]*domain.Track, error) {
	return s.repo.ListTracks(ctx)
}

func (s *TrackService) GetTake(ctx context.Context, id domain.TakeID) (*domain.Take, error) {
	return s.repo.GetTake(ctx, id)
}

func (s *TrackService) ListTakes(ctx context.Context, trackID domain.TrackID) ([]*domain.Take, error) {
	return s.repo.ListTakes(ctx, trackID)
}

func (s *TrackService) TrackURL(id domain.TrackID) string {
	return fmt.Sprintf("%s/api/v1/tracks/%d/audio", s.publicURL, id)
}

func (s *TrackService) TakeURL(id domain.TakeID) string {
	return fmt.Sprintf("%s/api/v1/takes/%d/audio", s.publicURL, id)
}

func (s *TrackService) offerToEveryone(ctx context.Context, audioID domain.AudioID, url string) {
	cmd := control.DownloadCommand{AudioID: audioID, URL: url}
	_ = broadcast(ctx, s.participants.Sessions(), control.CommandDownload, cmd, s.logger)
}

func (s *TrackService) OfferDownloads(ctx context.Context, clientID domain.ClientID) error {
	sess, ok := s.participants.Sessions()[clientID]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	p, err := s.participants.Get(ctx, clientID)
	if err != nil {
		return err
	}

	tracks, err := s.repo.ListTracks(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tracks: %w", err)
	}

	var offers []control.DownloadCommand
	for _, track := range tracks {
		offers = append(offers, control.DownloadCommand{AudioID: track.ID.AudioID(), URL: s.TrackURL(track.ID)})

		takes, err := s.repo.ListTakes(ctx, track.ID)
		if err != nil {
			return fmt.Errorf("failed to list takes: %w", err)
		}
		for _, take := range takes {
			offers = append(offers, control.DownloadCommand{AudioID: take.ID.AudioID(), URL: s.TakeURL(take.ID)})
		}
	}

	offers = lo.Reject(offers, func(cmd control.DownloadCommand, _ int) bool {
		return lo.Contains(p.Downloaded, cmd.AudioID)
	})
	for _, cmd := range offers {
		if err := sess.Send(ctx, control.CommandDownload, cmd); err != nil {
			return fmt.Errorf("failed to offer %s: %w", cmd.AudioID, err)
		}
	}

	if len(offers) > 0 {
		s.logger.Infow("offered downloads", "client_id", clientID, "count", len(offers))
	}
	return nil
}

var _ ports.TrackService = (*TrackService)(nil)
