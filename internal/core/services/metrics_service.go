package services

import (
	"context"
	"time"

	"rehearsal/internal/core/domain"
	"rehearsal/internal/core/ports"

	"go.uber.org/zap"
)

type participantCounter interface {
	Count() int
}

// MetricsService assembles room-wide statistics and reports them
// periodically.
type MetricsService struct {
	engine       ports.AudioEngine
	participants participantCounter
	playback     ports.PlaybackService
	logger       *zap.SugaredLogger
	started      time.Time
	now          func() time.Time
}

func NewMetricsService(
	engine ports.AudioEngine,
	participants participantCounter,
	playback ports.PlaybackService,
	logger *zap.SugaredLogger,
) *MetricsService {
	return &MetricsService{
		engine:       engine,
		participants: participants,
		playback:     playback,
		logger:       logger,
		started:      time.Now(),
		now:          time.Now,
	}
}

func (m *MetricsService) Snapshot() domain.RoomStats {
	return domain.RoomStats{
		Participants: m.participants.Count(),
		Playback:     m.playback.State(),
		Engine:       m.engine.Metrics(),
		Uptime:       m.now().Sub(m.started),
	}
}

// Run calls report with a fresh snapshot every interval and logs a summary
// of what changed since the previous one. It returns when ctx is done.
func (m *MetricsService) Run(ctx context.Context, interval time.Duration, report func(domain.RoomStats)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := m.Snapshot()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := m.Snapshot()
			if report != nil {
				report(cur)
			}
			m.logDelta(prev, cur)
			prev = cur
		}
	}
}

func (m *MetricsService) logDelta(prev, cur domain.RoomStats) {
	e, p := cur.Engine, prev.Engine
	if e.Periods == p.Periods && cur.Participants == prev.Participants {
		return
	}
	m.logger.Infow("room stats",
		"participants", cur.Participants,
		"connections", e.Connections,
		"playing", cur.Playback.Playing,
		"periods", e.Periods-p.Periods,
		"catch_ups", e.CatchUps-p.CatchUps,
		"concealed", e.FramesConcealed-p.FramesConcealed,
		"jitter_resets", e.JitterResets-p.JitterResets,
		"max_tick", e.MaxTick.String(),
	)
}
