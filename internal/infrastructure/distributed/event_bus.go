package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"rehearsal/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const eventsChannel = "rehearsal:events"

var ErrAlreadySubscribed = errors.New("event bus already subscribed")

type EventType string

const (
	EventParticipantJoined  EventType = "participant.joined"
	EventParticipantUpdated EventType = "participant.updated"
	EventParticipantLeft    EventType = "participant.left"
	EventPlaybackStarted    EventType = "playback.started"
	EventPlaybackStopped    EventType = "playback.stopped"
	EventConnectionEvicted  EventType = "connection.evicted"
)

// Event is published to every server instance sharing the Redis deployment.
type Event struct {
	Type       EventType       `json:"type"`
	InstanceID string          `json:"instance_id"`
	Timestamp  time.Time       `json:"timestamp"`
	ClientID   domain.ClientID `json:"client_id,omitempty"`
	TrackID    domain.TrackID  `json:"track_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type EventBus struct {
	client     *redis.Client
	instanceID string
	logger     *zap.SugaredLogger

	mu     sync.Mutex
	pubsub *redis.PubSub
}

func NewEventBus(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
	}
}

func (eb *EventBus) InstanceID() string {
	return eb.instanceID
}

func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = eb.instanceID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := eb.client.Publish(ctx, eventsChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"client_id", event.ClientID,
		"track_id", event.TrackID,
	)
	return nil
}

// Subscribe blocks delivering events from other instances to handler until
// ctx is cancelled.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	eb.mu.Lock()
	if eb.pubsub != nil {
		eb.mu.Unlock()
		return ErrAlreadySubscribed
	}
	pubsub := eb.client.Subscribe(ctx, eventsChannel)
	eb.pubsub = pubsub
	eb.mu.Unlock()

	defer func() {
		eb.mu.Lock()
		eb.pubsub = nil
		eb.mu.Unlock()
		pubsub.Close()
	}()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			if event.InstanceID == eb.instanceID {
				continue
			}

			if err := handler(&event); err != nil {
				eb.logger.Warnw("error handling event",
					"type", event.Type,
					"error", err,
				)
			}
		}
	}
}

// PublishParticipant maps a participant change onto the bus.
func (eb *EventBus) PublishParticipant(ctx context.Context, ev domain.ParticipantEvent) error {
	event, err := participantEvent(ev)
	if err != nil {
		return err
	}
	return eb.Publish(ctx, event)
}

func (eb *EventBus) PublishPlayback(ctx context.Context, state domain.PlaybackState) error {
	event, err := playbackEvent(state)
	if err != nil {
		return err
	}
	return eb.Publish(ctx, event)
}

func participantEvent(ev domain.ParticipantEvent) (*Event, error) {
	var typ EventType
	switch ev.Type {
	case domain.ParticipantJoined:
		typ = EventParticipantJoined
	case domain.ParticipantLeft:
		typ = EventParticipantLeft
	default:
		typ = EventParticipantUpdated
	}

	payload, err := json.Marshal(ev.Participant)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal participant: %w", err)
	}
	return &Event{
		Type:      typ,
		Timestamp: ev.Timestamp,
		ClientID:  ev.Participant.ClientID,
		Payload:   payload,
	}, nil
}

func playbackEvent(state domain.PlaybackState) (*Event, error) {
	typ := EventPlaybackStopped
	if state.Playing {
		typ = EventPlaybackStarted
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal playback state: %w", err)
	}
	return &Event{
		Type:    typ,
		TrackID: state.TrackID,
		Payload: payload,
	}, nil
}

func (eb *EventBus) Close() error {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}
