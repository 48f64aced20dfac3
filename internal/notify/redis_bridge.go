package notify

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisBridge mirrors hub broadcasts onto a redis channel so other processes
// (the ops API's live stream) can observe them.
type RedisBridge struct {
	client  *redis.Client
	channel string
	sub     *Subscription
	logger  *slog.Logger
}

// NewRedisBridge subscribes to the hub topic and republishes to channel.
func NewRedisBridge(client *redis.Client, channel string, hub *Hub, topic string, logger *slog.Logger) *RedisBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBridge{
		client:  client,
		channel: channel,
		sub:     hub.Subscribe(topic, 64),
		logger:  logger,
	}
}

// Run pumps hub messages into redis until the context ends or the hub closes.
// Publish failures are logged and skipped; the live stream is best-effort.
func (b *RedisBridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.sub.Close()
			return
		case payload, ok := <-b.sub.C():
			if !ok {
				return
			}
			if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
				b.logger.Warn("redis publish failed", "channel", b.channel, "error", err)
			}
		}
	}
}
