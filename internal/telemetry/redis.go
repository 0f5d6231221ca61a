package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the status-snapshot pub/sub mirror.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// RedisMirror publishes status-snapshot payloads to one Redis pub/sub
// channel, letting other processes on the network observe machine
// state without talking to the coordinator's own HTTP/WS surface.
type RedisMirror struct {
	client  *redis.Client
	channel string
}

// NewRedisMirror dials Redis and verifies connectivity with a Ping.
func NewRedisMirror(cfg RedisConfig) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisMirror{client: client, channel: cfg.Channel}, nil
}

// Publish marshals payload as JSON and publishes it to the mirror channel.
func (m *RedisMirror) Publish(ctx context.Context, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telemetry payload: %w", err)
	}
	return m.client.Publish(ctx, m.channel, data).Err()
}

// Close closes the underlying Redis connection.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
