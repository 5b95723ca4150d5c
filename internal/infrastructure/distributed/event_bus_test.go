package distributed

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"rehearsal/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func unreachableBus(t *testing.T) *EventBus {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })
	return NewEventBus(client, "instance-a", zaptest.NewLogger(t).Sugar())
}

func TestParticipantEvent(t *testing.T) {
	now := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)
	cases := map[domain.ParticipantEventType]EventType{
		domain.ParticipantJoined:  EventParticipantJoined,
		domain.ParticipantUpdated: EventParticipantUpdated,
		domain.ParticipantLeft:    EventParticipantLeft,
	}

	for in, want := range cases {
		ev, err := participantEvent(domain.ParticipantEvent{
			Type:        in,
			Participant: domain.Participant{ClientID: "alice", Username: "Alice"},
			Timestamp:   now,
		})
		require.NoError(t, err)
		assert.Equal(t, want, ev.Type)
		assert.Equal(t, domain.ClientID("alice"), ev.ClientID)
		assert.Equal(t, now, ev.Timestamp)

		var p domain.Participant
		require.NoError(t, json.Unmarshal(ev.Payload, &p))
		assert.Equal(t, "Alice", p.Username)
	}
}

func TestPlaybackEvent(t *testing.T) {
	ev, err := playbackEvent(domain.PlaybackState{Playing: true, TrackID: 3, TakeIDs: []domain.TakeID{1}})
	require.NoError(t, err)
	assert.Equal(t, EventPlaybackStarted, ev.Type)
	assert.Equal(t, domain.TrackID(3), ev.TrackID)

	ev, err = playbackEvent(domain.PlaybackState{})
	require.NoError(t, err)
	assert.Equal(t, EventPlaybackStopped, ev.Type)
}

func TestPublishFailsWithoutRedis(t *testing.T) {
	bus := unreachableBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := bus.PublishPlayback(ctx, domain.PlaybackState{Playing: true, TrackID: 1})
	assert.Error(t, err)
}

func TestSubscribeOnlyOnce(t *testing.T) {
	bus := unreachableBus(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- bus.Subscribe(ctx, func(*Event) error { return nil })
	}()

	require.Eventually(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return bus.pubsub != nil
	}, time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, bus.Subscribe(context.Background(), func(*Event) error { return nil }), ErrAlreadySubscribed)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe did not return after cancel")
	}
}
