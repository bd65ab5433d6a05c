package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is the channel events are published on
const DefaultRedisChannel = "cloner.events"

// RedisConfig holds the connection settings of the Redis bridge
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// RedisBridge publishes events on a Redis pub/sub channel
type RedisBridge struct {
	client  *redis.Client
	channel string
}

// NewRedisBridge connects to Redis and checks the connection
func NewRedisBridge(cfg RedisConfig) (*RedisBridge, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return NewRedisBridgeWithClient(client, cfg.Channel), nil
}

// NewRedisBridgeWithClient wraps an existing client
func NewRedisBridgeWithClient(client *redis.Client, channel string) *RedisBridge {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisBridge{client: client, channel: channel}
}

// Channel returns the channel name
func (b *RedisBridge) Channel() string {
	return b.channel
}

// Listener returns the bridge as an event listener
func (b *RedisBridge) Listener() Listener {
	return b.Forward
}

// Forward publishes ev as JSON
func (b *RedisBridge) Forward(ctx context.Context, ev Event) error {
	payload, err := NewMessage(ev).Encode()
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish %q to redis: %w", ev.Name, err)
	}
	return nil
}

// Close closes the client
func (b *RedisBridge) Close() error {
	return b.client.Close()
}
