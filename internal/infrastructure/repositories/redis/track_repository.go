package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"rehearsal/internal/core/domain"
	"rehearsal/internal/core/ports"
	"rehearsal/pkg/tracing"

	"github.com/redis/go-redis/v9"
)

const (
	trackSeqKey = keyPrefix + "track:seq"
	takeSeqKey  = keyPrefix + "take:seq"
	tracksKey   = keyPrefix + "tracks"
)

type RedisTrackRepository struct {
	client *redis.Client
}

func NewRedisTrackRepository(client *redis.Client) ports.TrackRepository {
	return &RedisTrackRepository{client: client}
}

func trackKey(id domain.TrackID) string {
	return keyPrefix + "track:" + strconv.Itoa(int(id))
}

func takeKey(id domain.TakeID) string {
	return keyPrefix + "take:" + strconv.Itoa(int(id))
}

func trackTakesKey(id domain.TrackID) string {
	return trackKey(id) + ":takes"
}

func (r *RedisTrackRepository) CreateTrack(ctx context.Context, track *domain.Track) (domain.TrackID, error) {
	ctx, span := tracing.TraceRepositoryOperation(ctx, "track.create", "redis")
	defer span.End()

	seq, err := r.client.Incr(ctx, trackSeqKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate track id: %w", err)
	}

	stored := *track
	stored.ID = domain.TrackID(seq)
	data, err := json.Marshal(&stored)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal track: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, trackKey(stored.ID), data, 0)
		pipe.ZAdd(ctx, tracksKey, redis.Z{Score: float64(stored.ID), Member: int(stored.ID)})
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to store track in Redis: %w", err)
	}
	return stored.ID, nil
}

func (r *RedisTrackRepository) GetTrack(ctx context.Context, id domain.TrackID) (*domain.Track, error) {
	var track domain.Track
	if err := r.getJSON(ctx, trackKey(id), &track); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrTrackNotFound
		}
		return nil, fmt.Errorf("failed to get track from Redis: %w", err)
	}
	return &track, nil
}

func (r *RedisTrackRepository) ListTracks(ctx context.Context) ([]*domain.Track, error) {
	ids, err := r.client.ZRange(ctx, tracksKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks from Redis: %w", err)
	}

	out := make([]*domain.Track, 0, len(ids))
	for _, raw := range ids {
		id, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		track, err := r.GetTrack(ctx, domain.TrackID(id))
		if err != nil {
			continue
		}
		out = append(out, track)
	}
	return out, nil
}

func (r *RedisTrackRepository) CreateTake(ctx context.Context, take *domain.Take) (domain.TakeID, error) {
	ctx, span := tracing.TraceRepositoryOperation(ctx, "take.create", "redis")
	defer span.End()

	exists, err := r.client.Exists(ctx, trackKey(take.TrackID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to check track: %w", err)
	}
	if exists == 0 {
		return 0, domain.ErrTrackNotFound
	}

	seq, err := r.client.Incr(ctx, takeSeqKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate take id: %w", err)
	}

	stored := *take
	stored.ID = domain.TakeID(seq)
	data, err := json.Marshal(&stored)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal take: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, takeKey(stored.ID), data, 0)
		pipe.ZAdd(ctx, trackTakesKey(stored.TrackID), redis.Z{Score: float64(stored.ID), Member: int(stored.ID)})
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to store take in Redis: %w", err)
	}
	return stored.ID, nil
}

func (r *RedisTrackRepository) GetTake(ctx context.Context, id domain.TakeID) (*domain.Take, error) {
	var take domain.Take
	if err := r.getJSON(ctx, takeKey(id), &take); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrTakeNotFound
		}
		return nil, fmt.Errorf("failed to get take from Redis: %w", err)
	}
	return &take, nil
}

func (r *RedisTrackRepository) ListTakes(ctx context.Context, trackID domain.TrackID) ([]*domain.Take, error) {
	ids, err := r.client.ZRange(ctx, trackTakesKey(trackID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list takes from Redis: %w", err)
	}

	var out []*domain.Take
	for _, raw := range ids {
		id, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		take, err := r.GetTake(ctx, domain.TakeID(id))
		if err != nil {
			continue
		}
		out = append(out, take)
	}
	return out, nil
}

func (r *RedisTrackRepository) getJSON(ctx context.Context, key string, v interface{}) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
