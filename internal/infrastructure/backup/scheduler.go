package backup

import (
	"context"
	"time"

	"rehearsal/internal/core/ports"
	"rehearsal/pkg/backup"

	"go.uber.org/zap"
)

type Config struct {
	Interval time.Duration
	// Keep is how many backups survive pruning.
	Keep int
}

// Scheduler writes a backup whenever the manifest has grown since the last
// one, checking every interval and once more on shutdown.
type Scheduler struct {
	backups *backup.BackupService
	tracks  ports.TrackRepository
	cfg     Config
	logger  *zap.SugaredLogger

	saved int
}

func NewScheduler(backups *backup.BackupService, tracks ports.TrackRepository, cfg Config, logger *zap.SugaredLogger) *Scheduler {
	if cfg.Keep < 1 {
		cfg.Keep = 1
	}
	return &Scheduler{
		backups: backups,
		tracks:  tracks,
		cfg:     cfg,
		logger:  logger,
		saved:   -1,
	}
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.RunOnce(final)
			cancel()
			return
		}
	}
}

// MarkRestored records the size of a manifest that was just restored so an
// unchanged session is not backed up again.
func (s *Scheduler) MarkRestored(size int) {
	s.saved = size
}

// RunOnce backs up the manifest if it changed. Tracks and takes are never
// removed, so a changed manifest is a bigger one.
func (s *Scheduler) RunOnce(ctx context.Context) {
	m, err := collect(ctx, s.tracks)
	if err != nil {
		s.logger.Errorw("failed to collect session manifest", "error", err)
		return
	}
	if m.size() == s.saved {
		return
	}

	name, err := s.backups.CreateBackup(ctx, m)
	if err != nil {
		s.logger.Errorw("failed to create backup", "error", err)
		return
	}
	s.saved = m.size()
	s.logger.Infow("session manifest backed up",
		"backup_name", name,
		"tracks", len(m.Tracks),
		"takes", len(m.Takes),
	)

	deleted, err := s.backups.Prune(ctx, s.cfg.Keep)
	if err != nil {
		s.logger.Warnw("failed to prune old backups", "error", err)
	}
	if deleted > 0 {
		s.logger.Debugw("pruned old backups", "deleted", deleted)
	}
}
