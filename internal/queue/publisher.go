// Package queue provides the work queue publisher for docstream.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ProcessingMessage is the work item handed to the extraction worker pool.
// Delivery is at-least-once; consumers must tolerate duplicates.
type ProcessingMessage struct {
	TaskID     string    `json:"task_id"`
	Filename   string    `json:"filename"`
	ObjectKey  string    `json:"object_key"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Publisher enqueues processing requests onto the external broker.
type Publisher interface {
	Publish(ctx context.Context, msg ProcessingMessage) error
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Stream   string
}

// RedisPublisher implements Publisher on a Redis stream.
type RedisPublisher struct {
	client *redis.Client
	stream string
}

// NewRedisPublisher creates a Redis-backed publisher and verifies the
// connection with a ping.
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	stream := cfg.Stream
	if stream == "" {
		stream = "docstream:pdf-processing"
	}

	return &RedisPublisher{
		client: client,
		stream: stream,
	}, nil
}

// Publish appends a processing message to the stream.
func (p *RedisPublisher) Publish(ctx context.Context, msg ProcessingMessage) error {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}

	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"task_id":     msg.TaskID,
			"filename":    msg.Filename,
			"object_key":  msg.ObjectKey,
			"enqueued_at": msg.EnqueuedAt.Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis xadd %s: %w", p.stream, err)
	}
	return nil
}

// Close closes the underlying Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
