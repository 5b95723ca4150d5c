package repositories

import (
	"context"

	"rehearsal/internal/core/ports"
	"rehearsal/internal/infrastructure/repositories/memory"
	redisrepo "rehearsal/internal/infrastructure/repositories/redis"
	"rehearsal/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates Redis repositories when Redis is configured and
// reachable, memory repositories otherwise.
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory, nil
}

// CreateParticipantRepository clears participants left over from a previous
// run before handing out the Redis repository.
func (f *RepositoryFactory) CreateParticipantRepository(ctx context.Context) ports.ParticipantRepository {
	if f.useRedis && f.redisClient != nil {
		removed, err := redisrepo.ResetParticipants(ctx, f.redisClient)
		if err != nil {
			f.logger.Warnw("failed to clear stale participants", "error", err)
		} else if removed > 0 {
			f.logger.Infow("cleared stale participants", "count", removed)
		}
		return redisrepo.NewRedisParticipantRepository(f.redisClient)
	}
	return memory.NewMemoryParticipantRepository()
}

func (f *RepositoryFactory) CreateTrackRepository() ports.TrackRepository {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRedisTrackRepository(f.redisClient)
	}
	return memory.NewMemoryTrackRepository()
}

// RedisClient returns the shared client, or nil when running on memory.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

func (f *RepositoryFactory) UsingRedis() bool {
	return f.useRedis && f.redisClient != nil
}

func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
