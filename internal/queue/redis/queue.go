// Package redis provides a durable task queue on a Redis list.
//
// Tasks are RPUSHed and LPOPed, so the list is FIFO. A popped task is gone
// from Redis whether or not it is processed successfully.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/pricespy/internal/queue"
	"github.com/JakeFAU/pricespy/internal/tracker"
)

// DefaultKey is the list tasks are stored under.
const DefaultKey = "price_tasks"

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Queue implements tracker.TaskQueue on a Redis list.
type Queue struct {
	client *redis.Client
	key    string
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Queue, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("queue.redis.addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewWithClient(client, cfg.Key), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, key string) *Queue {
	if key == "" {
		key = DefaultKey
	}
	return &Queue{client: client, key: key}
}

// Enqueue appends a task to the tail of the list.
func (q *Queue) Enqueue(ctx context.Context, task tracker.AcquisitionTask) error {
	payload, err := queue.EncodeTask(task)
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", q.key, err)
	}
	return nil
}

// Poll pops the head of the list. Bare product IDs pushed by other producers
// are accepted as well as JSON tasks.
func (q *Queue) Poll(ctx context.Context) (tracker.AcquisitionTask, bool, error) {
	payload, err := q.client.LPop(ctx, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return tracker.AcquisitionTask{}, false, nil
	}
	if err != nil {
		return tracker.AcquisitionTask{}, false, fmt.Errorf("lpop %s: %w", q.key, err)
	}
	task, err := queue.DecodeTask([]byte(payload))
	if err != nil {
		return tracker.AcquisitionTask{}, false, err
	}
	return task, true, nil
}

// Len reports the number of pending tasks.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", q.key, err)
	}
	return n, nil
}

// Ping checks connectivity.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close closes the client.
func (q *Queue) Close() error {
	return q.client.Close()
}
