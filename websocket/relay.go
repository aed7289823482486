package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// PushChannel is the Redis channel push events travel on between API instances.
const PushChannel = "commission:push"

type relayMessage struct {
	UserID  string          `json:"userId"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// RedisRelay fans pushes out to every API instance through Redis pub/sub, so a
// partner connected to another instance still receives them. Each instance delivers
// what it receives to its own hub.
type RedisRelay struct {
	client  *redis.Client
	hub     *Hub
	channel string
	logger  *zap.Logger
}

func NewRedisRelay(client *redis.Client, hub *Hub, logger *zap.Logger) *RedisRelay {
	return &RedisRelay{client: client, hub: hub, channel: PushChannel, logger: logger}
}

// PushToUser publishes the event for every instance, including this one.
func (r *RedisRelay) PushToUser(ctx context.Context, userID primitive.ObjectID, event string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode push payload: %w", err)
	}
	msg, err := json.Marshal(relayMessage{UserID: userID.Hex(), Event: event, Payload: body})
	if err != nil {
		return fmt.Errorf("encode push message: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, msg).Err(); err != nil {
		return fmt.Errorf("publish push: %w", err)
	}
	return nil
}

// Run subscribes to the channel and delivers to the local hub until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("push relay subscribed", zap.String("channel", r.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver(ctx, m.Payload)
		}
	}
}

func (r *RedisRelay) deliver(ctx context.Context, raw string) {
	var msg relayMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		r.logger.Warn("malformed push relay message", zap.Error(err))
		return
	}
	userID, err := primitive.ObjectIDFromHex(msg.UserID)
	if err != nil {
		r.logger.Warn("push relay message with bad user id", zap.String("userId", msg.UserID))
		return
	}
	if r.hub.Connected(userID) == 0 {
		return
	}
	if err := r.hub.PushToUser(ctx, userID, msg.Event, msg.Payload); err != nil {
		r.logger.Debug("relayed push not delivered", zap.String("userId", msg.UserID), zap.Error(err))
	}
}
