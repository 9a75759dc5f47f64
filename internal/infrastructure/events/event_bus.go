package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rtcstats/internal/core/domain"
	"rtcstats/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is the pub/sub channel session events go to.
const DefaultChannel = "rtcstats:events"

// EventBus publishes session events over Redis pub/sub and lets other
// processes follow them.
type EventBus struct {
	client     *redis.Client
	channel    string
	instanceID string
	logger     *zap.SugaredLogger
	now        func() time.Time
}

var _ ports.EventPublisher = (*EventBus)(nil)

// NewEventBus creates a new event bus
func NewEventBus(client *redis.Client, channel, instanceID string, logger *zap.SugaredLogger) *EventBus {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &EventBus{
		client:     client,
		channel:    channel,
		instanceID: instanceID,
		logger:     logger,
		now:        time.Now,
	}
}

// Publish stamps the event with this instance and the current time and
// publishes it.
func (eb *EventBus) Publish(ctx context.Context, event *domain.SessionEvent) error {
	event.InstanceID = eb.instanceID
	event.Timestamp = eb.now().UTC()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"client_id", event.ClientID,
		"dump_id", event.DumpID,
	)
	return nil
}

// Subscribe calls handler for every event on the channel until ctx is done.
// ready, if non-nil, is closed once the subscription is active.
func (eb *EventBus) Subscribe(ctx context.Context, ready chan<- struct{}, handler func(*domain.SessionEvent) error) error {
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", eb.channel, err)
	}
	if ready != nil {
		close(ready)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var event domain.SessionEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
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
