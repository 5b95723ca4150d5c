package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rehearsal/internal/core/domain"
	"rehearsal/internal/core/ports"
	"rehearsal/internal/infrastructure/control"
	"rehearsal/pkg/tracing"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const trackCacheSize = 64

// PlaybackService starts and stops the backing track for the whole room:
// the engine mixes it into everyone's feed and every client is told to
// play its local copy in step.
type PlaybackService struct {
	tracks       ports.TrackRepository
	opener       ports.BackingTrackOpener
	engine       ports.AudioEngine
	participants Sessions
	logger       *zap.SugaredLogger
	now          func() time.Time
	cache        *lru.Cache[domain.TrackID, *domain.Track]

	mu        sync.Mutex
	state     domain.PlaybackState
	listeners []func(domain.PlaybackState)

	observe func(operation string, err error)
}

func NewPlaybackService(
	tracks ports.TrackRepository,
	opener ports.BackingTrackOpener,
	engine ports.AudioEngine,
	participants Sessions,
	logger *zap.SugaredLogger,
) (*PlaybackService, error) {
	cache, err := lru.New[domain.TrackID, *domain.Track](trackCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create track cache: %w", err)
	}
	s := &PlaybackService{
		tracks:       tracks,
		opener:       opener,
		engine:       engine,
		participants: participants,
		logger:       logger,
		now:          time.Now,
		cache:        cache,
		observe:      func(string, error) {},
	}
	engine.OnPlaybackFinished(s.finished)
	return s, nil
}

// OnOperation registers fn to be told the outcome of every play, stop and
// record request. Call before serving requests.
func (s *PlaybackService) OnOperation(fn func(operation string, err error)) {
	s.observe = fn
}

// endOperation closes out a traced play, stop or record request.
func (s *PlaybackService) endOperation(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	tracing.MeasureDuration(ctx, start)
	span.End()
	s.observe(operation, err)
}

func (s *PlaybackService) track(ctx context.Context, id domain.TrackID) (*domain.Track, error) {
	if t, ok := s.cache.Get(id); ok {
		return t, nil
	}
	t, err := s.tracks.GetTrack(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, t)
	return t, nil
}

func (s *PlaybackService) checkTakes(ctx context.Context, trackID domain.TrackID, takeIDs []domain.TakeID) error {
	for _, id := range lo.Uniq(takeIDs) {
		take, err := s.tracks.GetTake(ctx, id)
		if err != nil {
			return err
		}
		if take.TrackID != trackID {
			return fmt.Errorf("%w: take %d belongs to track %d", domain.ErrTakeNotFound, id, take.TrackID)
		}
	}
	return nil
}

// PlayForEveryone replaces whatever is playing with trackID. The takes are
// played by the clients; the server only mixes the backing track.
func (s *PlaybackService) PlayForEveryone(ctx context.Context, trackID domain.TrackID, takeIDs []domain.TakeID) (err error) {
	start := time.Now()
	ctx, span := tracing.TracePlayback(ctx, "play", int(trackID), len(takeIDs))
	defer func() { s.endOperation(ctx, span, "play", start, err) }()

	track, err := s.track(ctx, trackID)
	if err != nil {
		return err
	}
	if err := s.checkTakes(ctx, trackID, takeIDs); err != nil {
		return err
	}

	source, err := s.opener.Open(ctx, track)
	if err != nil {
		return fmt.Errorf("failed to open track %d: %w", trackID, err)
	}
	if err := s.engine.Play(source); err != nil {
		return err
	}

	state := domain.PlaybackState{
		Playing:   true,
		TrackID:   trackID,
		TakeIDs:   takeIDs,
		StartedAt: s.now(),
	}
	s.setState(state)

	cmd := control.PlayCommand{TrackID: trackID, TakeIDs: takeIDs}
	_ = broadcast(ctx, s.participants.Sessions(), control.CommandPlay, cmd, s.logger)

	s.logger.Infow("playing for everyone",
		"track_id", trackID,
		"track", track.Name,
		"takes", len(takeIDs),
	)
	return nil
}

func (s *PlaybackService) StopForEveryone(ctx context.Context) (err error) {
	start := time.Now()
	ctx, span := tracing.TracePlayback(ctx, "stop", 0, 0)
	defer func() { s.endOperation(ctx, span, "stop", start, err) }()

	s.mu.Lock()
	playing := s.state.Playing
	s.mu.Unlock()
	if !playing && !s.engine.Playing() {
		return domain.ErrNothingPlaying
	}

	if err := s.engine.StopPlayback(); err != nil {
		s.logger.Warnw("failed to close backing track", "error", err)
	}
	s.setState(domain.PlaybackState{})

	_ = broadcast(ctx, s.participants.Sessions(), control.CommandStop, nil, s.logger)
	s.logger.Info("stopped for everyone")
	return nil
}

// RecordForEveryone asks every client to record a take over trackID.
func (s *PlaybackService) RecordForEveryone(ctx context.Context, trackID domain.TrackID) (err error) {
	start := time.Now()
	ctx, span := tracing.TracePlayback(ctx, "record", int(trackID), 0)
	defer func() { s.endOperation(ctx, span, "record", start, err) }()

	if _, err := s.track(ctx, trackID); err != nil {
		return err
	}
	return broadcast(ctx, s.participants.Sessions(), control.CommandRecord, control.RecordCommand{TrackID: trackID}, s.logger)
}

func (s *PlaybackService) State() domain.PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *PlaybackService) AddListener(fn func(domain.PlaybackState)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *PlaybackService) setState(state domain.PlaybackState) {
	s.mu.Lock()
	s.state = state
	listeners := append(([]func(domain.PlaybackState))(nil), s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}

// finished runs on the engine goroutine when the track reaches its end.
func (s *PlaybackService) finished() {
	s.logger.Infow("backing track finished", "track_id", s.State().TrackID)
	s.setState(domain.PlaybackState{})
}

var _ ports.PlaybackService = (*PlaybackService)(nil)
