package fanout

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRelay fans out envelopes over a Redis pub/sub channel.
type RedisRelay struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
}

// NewRedisRelay connects to the Redis server at url and verifies it with a ping.
func NewRedisRelay(ctx context.Context, url, channel string, logger *zap.Logger) (*RedisRelay, error) {
	if channel == "" {
		channel = DefaultSubject
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisRelay{client: c, channel: channel, logger: logger}, nil
}

// Publish sends env to every subscribed instance.
func (r *RedisRelay) Publish(ctx context.Context, env Envelope) error {
	data, err := encode(env)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("redis: publish: %w", err)
	}
	return nil
}

// Subscribe delivers every envelope on the channel to handler until Close.
func (r *RedisRelay) Subscribe(ctx context.Context, handler Handler) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redis: subscribe: %w", err)
	}
	r.mu.Lock()
	r.pubsub = pubsub
	r.mu.Unlock()

	go func() {
		for msg := range pubsub.Channel() {
			env, err := decode([]byte(msg.Payload))
			if err != nil {
				r.logger.Warn("dropping malformed envelope", zap.Error(err))
				continue
			}
			handler(env)
		}
	}()
	return nil
}

// Close stops the subscription and closes the client.
func (r *RedisRelay) Close() error {
	r.mu.Lock()
	pubsub := r.pubsub
	r.pubsub = nil
	r.mu.Unlock()
	if pubsub != nil {
		_ = pubsub.Close()
	}
	return r.client.Close()
}
