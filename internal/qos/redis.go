package qos

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// NewRedisInvalidatorFromClient adapts a go-redis client into a
// RedisInvalidator, matching the reference codebase's direct use of
// *redis.Client for pub/sub in internal/fabric/redis_event_bus.go.
func NewRedisInvalidatorFromClient(client *redis.Client) *RedisInvalidator {
	return NewRedisInvalidator(func(ctx context.Context, channel, payload string) error {
		return client.Publish(ctx, channel, payload).Err()
	})
}

// SubscribeReload subscribes to a Redis channel and calls onReload with
// the published profile path each time a peer invalidates it. It blocks
// until ctx is done or the subscription's channel closes; run it in its
// own goroutine.
func SubscribeReload(ctx context.Context, client *redis.Client, channel string, onReload func(path string)) {
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			slog.Debug("qos reload notification received", "channel", channel, "path", msg.Payload)
			if onReload != nil {
				onReload(msg.Payload)
			}
		}
	}
}
