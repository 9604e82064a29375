package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/relaykit/taskqueue/internal/logger"
)

const channelPrefix = "taskqueue:events:"

// RedisBridge republishes every event an Emitter fires to a Redis pub/sub
// channel, and lets other processes (typically the API server's websocket
// hub) subscribe to a single engine's events without sharing its Emitter
// in-process. This is an optional cross-process convenience, not the
// engine's event contract itself — §4.5's synchronous Emitter fan-out is.
type RedisBridge struct {
	client *redis.Client
}

func NewRedisBridge(client *redis.Client) *RedisBridge {
	return &RedisBridge{client: client}
}

// Attach registers a listener on every event type that republishes to Redis.
func (b *RedisBridge) Attach(e *Emitter) {
	for _, t := range []Type{TaskAdded, TaskStarted, TaskCompleted, TaskFailed, TaskRetried, TaskStuck, TaskRemoved} {
		e.On(t, b.publish)
	}
}

func (b *RedisBridge) publish(ev Event) {
	data, err := ev.ToJSON()
	if err != nil {
		logger.Error().Err(err).Msg("failed to serialize event for redis bridge")
		return
	}
	ctx := context.Background()
	if err := b.client.Publish(ctx, b.channelName(ev.Type), data).Err(); err != nil {
		logger.Warn().Err(err).Str("event_type", string(ev.Type)).Msg("failed to publish event to redis bridge")
	}
}

func (b *RedisBridge) channelName(t Type) string {
	return channelPrefix + string(t)
}

// Subscribe returns a channel of events for the given types, read by a
// remote process (e.g. the websocket hub on another api-server instance).
func (b *RedisBridge) Subscribe(ctx context.Context, types ...Type) (<-chan Event, error) {
	channels := make([]string, len(types))
	for i, t := range types {
		channels[i] = b.channelName(t)
	}

	pubsub := b.client.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("subscribe to redis bridge: %w", err)
	}

	out := make(chan Event, 100)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ev, err := FromJSON([]byte(msg.Payload))
				if err != nil {
					logger.Error().Err(err).Msg("failed to parse bridged event")
					continue
				}
				select {
				case out <- *ev:
				default:
					logger.Warn().Str("event_type", string(ev.Type)).Msg("bridged event channel full, dropping event")
				}
			}
		}
	}()

	return out, nil
}
