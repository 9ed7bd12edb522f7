// Package realtime is the pub/sub bridge between services. The push service
// publishes events to Redis topics; the API service subscribes and forwards
// them to connected WebSocket clients, so delivery works across instances.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/stridecampus/internal/logger"
)

// Topic names. Per-post and per-chat topics are derived; user notifications
// share one topic and carry the recipient id in the payload.
const (
	TopicUserNotifications = "user_notifications"
	topicVotesPrefix       = "votes:"
	topicChatPrefix        = "chat:"
)

func VotesTopic(postID string) string { return topicVotesPrefix + postID }
func ChatTopic(chatID string) string  { return topicChatPrefix + chatID }

// IsVotesTopic reports whether a topic carries vote events.
func IsVotesTopic(topic string) bool { return strings.HasPrefix(topic, topicVotesPrefix) }

// Event is the wire envelope: an event name plus a JSON payload.
type Event struct {
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// NotificationEvent is the payload broadcast on TopicUserNotifications.
type NotificationEvent struct {
	UserID string            `json:"user_id"`
	Kind   string            `json:"kind"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

// Publisher is the fire-and-forget publish surface used by the dispatcher.
// Implemented by Bridge; tests use fakes.
type Publisher interface {
	Publish(ctx context.Context, topic, name string, payload any) error
}

type Bridge struct {
	rdb *redis.Client
}

func NewBridge(rdb *redis.Client) *Bridge {
	return &Bridge{rdb: rdb}
}

// Publish marshals payload into an Event envelope and publishes it on topic.
// Subscribers on other instances receive it via their Redis subscriptions.
func (b *Bridge) Publish(ctx context.Context, topic, name string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("realtime: marshal payload: %w", err)
	}
	env, err := json.Marshal(Event{Name: name, Payload: raw})
	if err != nil {
		return fmt.Errorf("realtime: marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, topic, env).Err(); err != nil {
		return fmt.Errorf("realtime: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe delivers decoded events for the given topics to handle until ctx
// is cancelled. Malformed envelopes are logged and skipped.
func (b *Bridge) Subscribe(ctx context.Context, handle func(topic string, ev Event), topics ...string) {
	b.consume(ctx, b.rdb.Subscribe(ctx, topics...), handle)
}

// PSubscribe is Subscribe over Redis glob patterns; used for the derived
// per-post and per-chat topics ("votes:*", "chat:*").
func (b *Bridge) PSubscribe(ctx context.Context, handle func(topic string, ev Event), patterns ...string) {
	b.consume(ctx, b.rdb.PSubscribe(ctx, patterns...), handle)
}

func (b *Bridge) consume(ctx context.Context, pubsub *redis.PubSub, handle func(topic string, ev Event)) {
	go func() {
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
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.Errorf("realtime: bad event on %s: %v", msg.Channel, err)
					continue
				}
				handle(msg.Channel, ev)
			}
		}
	}()
}
