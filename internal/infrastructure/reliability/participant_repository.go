package reliability

import (
	"context"
	"errors"

	"rehearsal/internal/core/domain"
	"rehearsal/internal/core/ports"
	"rehearsal/pkg/circuitbreaker"
	"rehearsal/pkg/retry"

	"go.uber.org/zap"
)

// ParticipantRepository retries transient storage failures and trips a
// circuit breaker when the backend keeps failing, so control-plane handlers
// fail fast instead of queueing behind a dead Redis.
type ParticipantRepository struct {
	repo    ports.ParticipantRepository
	logger  *zap.SugaredLogger
	retry   retry.Config
	breaker *circuitbreaker.CircuitBreaker
}

func NewParticipantRepository(
	repo ports.ParticipantRepository,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *ParticipantRepository {
	// Lookup misses and duplicates are answers, not outages.
	retryConfig.Permanent = append(retryConfig.Permanent,
		domain.ErrParticipantNotFound,
		domain.ErrParticipantExists,
		circuitbreaker.ErrOpen,
	)

	w := &ParticipantRepository{
		repo:    repo,
		logger:  logger,
		retry:   retryConfig,
		breaker: circuitbreaker.New(cbConfig),
	}
	w.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("participant repository circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})
	return w
}

func (w *ParticipantRepository) do(ctx context.Context, fn func() error) error {
	return retry.Do(ctx, w.retry, func() error {
		return w.breaker.Execute(func() error {
			err := fn()
			if isAnswer(err) {
				// Keep the breaker closed; the backend responded.
				return nil
			}
			return err
		})
	})
}

func isAnswer(err error) bool {
	return err == nil ||
		errors.Is(err, domain.ErrParticipantNotFound) ||
		errors.Is(err, domain.ErrParticipantExists)
}

func (w *ParticipantRepository) Add(ctx context.Context, p *domain.Participant) error {
	var opErr error
	err := w.do(ctx, func() error {
		opErr = w.repo.Add(ctx, p)
		return opErr
	})
	if err != nil {
		return err
	}
	return opErr
}

func (w *ParticipantRepository) GetByID(ctx context.Context, id domain.ClientID) (*domain.Participant, error) {
	var (
		p     *domain.Participant
		opErr error
	)
	err := w.do(ctx, func() error {
		p, opErr = w.repo.GetByID(ctx, id)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return p, opErr
}

func (w *ParticipantRepository) Update(ctx context.Context, p *domain.Participant) error {
	var opErr error
	err := w.do(ctx, func() error {
		opErr = w.repo.Update(ctx, p)
		return opErr
	})
	if err != nil {
		return err
	}
	return opErr
}

func (w *ParticipantRepository) Remove(ctx context.Context, id domain.ClientID) error {
	var opErr error
	err := w.do(ctx, func() error {
		opErr = w.repo.Remove(ctx, id)
		return opErr
	})
	if err != nil {
		return err
	}
	return opErr
}

func (w *ParticipantRepository) List(ctx context.Context) ([]*domain.Participant, error) {
	var list []*domain.Participant
	err := w.do(ctx, func() error {
		var err error
		list, err = w.repo.List(ctx)
		return err
	})
	return list, err
}

func (w *ParticipantRepository) BreakerStats() circuitbreaker.Stats {
	return w.breaker.Stats()
}

var _ ports.ParticipantRepository = (*ParticipantRepository)(nil)
