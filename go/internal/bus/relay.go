package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/reflex/go/internal/room"
	"github.com/rs/zerolog/log"
)

// PublishRecorder is told the outcome of every publish.
type PublishRecorder interface {
	RecordPublish(eventType string, success bool)
}

type RelayConfig struct {
	BufferSize     int
	MaxRetries     int
	RetryDelay     time.Duration
	PublishTimeout time.Duration
	DrainTimeout   time.Duration
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		BufferSize:     1024,
		MaxRetries:     3,
		RetryDelay:     100 * time.Millisecond,
		PublishTimeout: 5 * time.Second,
		DrainTimeout:   5 * time.Second,
	}
}

// Relay mirrors room broadcasts onto a Publisher. Broadcast never blocks the
// caller: messages are queued and published by Run, and dropped when the
// queue is full.
type Relay struct {
	publisher Publisher
	recorder  PublishRecorder
	config    RelayConfig
	queue     chan Message
	dropped   atomic.Int64
}

func NewRelay(publisher Publisher, config RelayConfig, recorder PublishRecorder) *Relay {
	def := DefaultRelayConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = def.BufferSize
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = def.MaxRetries
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = def.PublishTimeout
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = def.DrainTimeout
	}

	return &Relay{
		publisher: publisher,
		recorder:  recorder,
		config:    config,
		queue:     make(chan Message, config.BufferSize),
	}
}

// Broadcast implements room.Broadcaster.
func (r *Relay) Broadcast(recipients []string, event room.Event) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		log.Error().
			Err(err).
			Str("room_id", event.RoomID).
			Str("event_type", string(event.Type)).
			Msg("failed to marshal event for bus")
		return
	}

	msg := Message{
		ID:         uuid.New(),
		RoomID:     event.RoomID,
		EventType:  string(event.Type),
		Recipients: len(recipients),
		Timestamp:  event.At,
		Payload:    payload,
	}

	select {
	case r.queue <- msg:
	default:
		r.dropped.Add(1)
		if r.recorder != nil {
			r.recorder.RecordPublish(msg.EventType, false)
		}
		log.Warn().
			Str("room_id", msg.RoomID).
			Str("event_type", msg.EventType).
			Msg("bus relay queue full, dropping event")
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (r *Relay) Dropped() int64 {
	return r.dropped.Load()
}

// Run publishes queued messages until ctx is cancelled, then drains what is
// left within DrainTimeout.
func (r *Relay) Run(ctx context.Context) error {
	log.Info().Int("buffer", r.config.BufferSize).Msg("bus relay started")

	for {
		select {
		case <-ctx.Done():
			r.drain()
			log.Info().Msg("bus relay stopped")
			return nil
		case msg := <-r.queue:
			r.publish(ctx, msg)
		}
	}
}

func (r *Relay) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.DrainTimeout)
	defer cancel()

	for {
		select {
		case msg := <-r.queue:
			r.publish(ctx, msg)
		default:
			return
		}
	}
}

func (r *Relay) publish(ctx context.Context, msg Message) {
	err := r.publishWithRetry(ctx, msg)
	if r.recorder != nil {
		r.recorder.RecordPublish(msg.EventType, err == nil)
	}
	if err != nil {
		log.Error().
			Err(err).
			Str("event_id", msg.ID.String()).
			Str("room_id", msg.RoomID).
			Str("event_type", msg.EventType).
			Msg("failed to publish event")
	}
}

func (r *Relay) publishWithRetry(ctx context.Context, msg Message) error {
	var lastErr error

	for attempt := 0; attempt < r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			// Linear backoff
			select {
			case <-time.After(r.config.RetryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		pubCtx, cancel := context.WithTimeout(ctx, r.config.PublishTimeout)
		err := r.publisher.Publish(pubCtx, msg)
		cancel()
		if err == nil {
			return nil
		}

		lastErr = err
		log.Warn().
			Err(err).
			Str("event_id", msg.ID.String()).
			Int("attempt", attempt+1).
			Msg("publish attempt failed")
	}

	return fmt.Errorf("failed after %d attempts: %w", r.config.MaxRetries, lastErr)
}
