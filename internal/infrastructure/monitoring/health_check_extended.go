package monitoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rehearsal/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

var ErrEngineStopped = errors.New("mixing engine not running")

func (h *HealthChecker) AddRedisCheck(client *redis.Client, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}, interval, timeout)
}

// AddRepositoryCheck lists participants as a round trip through storage.
func (h *HealthChecker) AddRepositoryCheck(repo ports.ParticipantRepository, interval, timeout time.Duration) {
	h.AddCheck("repository", func(ctx context.Context) error {
		if _, err := repo.List(ctx); err != nil {
			return fmt.Errorf("list participants: %w", err)
		}
		return nil
	}, interval, timeout)
}

// AddEngineCheck fails while running reports false.
func (h *HealthChecker) AddEngineCheck(running func() bool, interval time.Duration) {
	h.AddCheck("engine", func(context.Context) error {
		if !running() {
			return ErrEngineStopped
		}
		return nil
	}, interval, 0)
}

func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Healthy()
}
