package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"rehearsal/internal/core/domain"
	"rehearsal/internal/core/ports"
	"rehearsal/pkg/tracing"

	"github.com/redis/go-redis/v9"
)

const (
	participantPrefix = keyPrefix + "participant:"
	participantsKey   = keyPrefix + "participants"
)

type RedisParticipantRepository struct {
	client *redis.Client
}

func NewRedisParticipantRepository(client *redis.Client) ports.ParticipantRepository {
	return &RedisParticipantRepository{client: client}
}

func participantKey(id domain.ClientID) string {
	return participantPrefix + string(id)
}

func (r *RedisParticipantRepository) Add(ctx context.Context, p *domain.Participant) error {
	ctx, span := tracing.TraceRepositoryOperation(ctx, "participant.add", "redis")
	defer span.End()

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal participant: %w", err)
	}

	ok, err := r.client.SetNX(ctx, participantKey(p.ClientID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store participant in Redis: %w", err)
	}
	if !ok {
		return domain.ErrParticipantExists
	}

	score := float64(p.JoinedAt.UnixNano())
	if err := r.client.ZAdd(ctx, participantsKey, redis.Z{Score: score, Member: string(p.ClientID)}).Err(); err != nil {
		return fmt.Errorf("failed to index participant: %w", err)
	}
	return nil
}

func (r *RedisParticipantRepository) GetByID(ctx context.Context, id domain.ClientID) (*domain.Participant, error) {
	data, err := r.client.Get(ctx, participantKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrParticipantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get participant from Redis: %w", err)
	}

	var p domain.Participant
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal participant: %w", err)
	}
	return &p, nil
}

func (r *RedisParticipantRepository) Update(ctx context.Context, p *domain.Participant) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal participant: %w", err)
	}

	ok, err := r.client.SetXX(ctx, participantKey(p.ClientID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to update participant in Redis: %w", err)
	}
	if !ok {
		return domain.ErrParticipantNotFound
	}
	return nil
}

func (r *RedisParticipantRepository) Remove(ctx context.Context, id domain.ClientID) error {
	ctx, span := tracing.TraceRepositoryOperation(ctx, "participant.remove", "redis")
	defer span.End()

	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, participantKey(id))
		pipe.ZRem(ctx, participantsKey, string(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete participant from Redis: %w", err)
	}
	if del.Val() == 0 {
		return domain.ErrParticipantNotFound
	}
	return nil
}

// List returns participants in join order. Index entries whose record has
// gone are skipped.
func (r *RedisParticipantRepository) List(ctx context.Context) ([]*domain.Participant, error) {
	ids, err := r.client.ZRange(ctx, participantsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list participants from Redis: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = participantKey(domain.ClientID(id))
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load participants from Redis: %w", err)
	}

	out := make([]*domain.Participant, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var p domain.Participant
		if err := json.Unmarshal([]byte(s), &p); err != nil {
			continue
		}
		out = append(out, &p)
	}
	return out, nil
}

// ResetParticipants deletes every stored participant. Participants only live
// as long as their TCP session, so records left by a previous process are
// stale.
func ResetParticipants(ctx context.Context, client *redis.Client) (int, error) {
	var removed int
	iter := client.Scan(ctx, 0, participantPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := client.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, fmt.Errorf("failed to delete %s: %w", iter.Val(), err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan participants: %w", err)
	}
	if err := client.Del(ctx, participantsKey).Err(); err != nil {
		return removed, fmt.Errorf("failed to clear participant index: %w", err)
	}
	return removed, nil
}
