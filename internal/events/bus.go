package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nidhogg/hivemind/internal/engine"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Stream is the Redis Stream carrying routing lifecycle events.
const Stream = "hivemind:events"

// Event is one routing lifecycle notification for external monitors.
type Event struct {
	Type          string    `json:"type"` // "routed", "completed", "cancelled"
	TaskID        string    `json:"task_id"`
	ChosenAgentID string    `json:"chosen_agent_id"`
	State         string    `json:"state"`
	Timestamp     time.Time `json:"timestamp"`
}

// Bus publishes routing events to a Redis Stream. It implements
// engine.EventPublisher; a failed publish is the engine's to log and ignore,
// dashboards are never on the routing critical path.
type Bus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewBus connects to Redis and returns a ready event bus.
func NewBus(redisURL string, logger *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Bus{rdb: rdb, logger: logger}, nil
}

// Publish appends one lifecycle event to the stream.
func (b *Bus) Publish(ctx context.Context, eventType string, d *engine.RoutingDecision) error {
	data, err := json.Marshal(Event{
		Type:          eventType,
		TaskID:        d.TaskID,
		ChosenAgentID: d.ChosenAgentID,
		State:         string(d.State),
		Timestamp:     time.Now(),
	})
	if err != nil {
		return err
	}

	_, err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: Stream,
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", Stream, err)
	}

	b.logger.Debug("event published",
		zap.String("type", eventType),
		zap.String("task", d.TaskID))
	return nil
}

// Subscribe tails the event stream from now on. Cancel the context to stop.
func (b *Bus) Subscribe(ctx context.Context) <-chan *Event {
	ch := make(chan *Event, 16)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{Stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if errors.Is(err, redis.Nil) {
					continue
				}
				// A persistent error (Redis down, auth lost) must not spin.
				b.logger.Warn("event stream read failed", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ev Event
					if json.Unmarshal([]byte(data), &ev) == nil {
						ch <- &ev
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}
