// Package pubsub provides a task queue on a Google Cloud Pub/Sub topic and
// subscription pair.
//
// Poll acknowledges a message as soon as it is received, so a task that fails
// afterwards is not redelivered. This matches the Redis queue's pop semantics.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/pricespy/internal/queue"
	"github.com/JakeFAU/pricespy/internal/tracker"
)

// DefaultPollWait bounds how long Poll listens before reporting an empty queue.
const DefaultPollWait = 2 * time.Second

// Config names the topic producers publish to and the subscription the
// worker pulls from.
type Config struct {
	Topic        string
	Subscription string
	PollWait     time.Duration
}

// Queue implements tracker.TaskQueue on Pub/Sub.
type Queue struct {
	topic    *pubsub.Topic
	sub      *pubsub.Subscription
	pollWait time.Duration
}

// New wraps an existing client. The client stays owned by the caller.
func New(client *pubsub.Client, cfg Config) (*Queue, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	if cfg.Topic == "" || cfg.Subscription == "" {
		return nil, errors.New("pubsub queue needs a topic and a subscription")
	}
	if cfg.PollWait <= 0 {
		cfg.PollWait = DefaultPollWait
	}
	sub := client.Subscription(cfg.Subscription)
	sub.ReceiveSettings.MaxOutstandingMessages = 1
	sub.ReceiveSettings.NumGoroutines = 1
	return &Queue{
		topic:    client.Topic(cfg.Topic),
		sub:      sub,
		pollWait: cfg.PollWait,
	}, nil
}

// Enqueue publishes a task and waits for the server to accept it.
func (q *Queue) Enqueue(ctx context.Context, task tracker.AcquisitionTask) error {
	payload, err := queue.EncodeTask(task)
	if err != nil {
		return err
	}
	result := q.topic.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: map[string]string{"content_type": "application/json"},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish task to %s: %w", q.topic.ID(), err)
	}
	return nil
}

// Poll receives at most one task, waiting up to the configured poll wait.
func (q *Queue) Poll(ctx context.Context) (tracker.AcquisitionTask, bool, error) {
	recvCtx, cancel := context.WithTimeout(ctx, q.pollWait)
	defer cancel()

	var (
		mu      sync.Mutex
		payload []byte
		got     bool
	)
	err := q.sub.Receive(recvCtx, func(_ context.Context, msg *pubsub.Message) {
		mu.Lock()
		defer mu.Unlock()
		if got {
			// Someone else's turn.
			msg.Nack()
			return
		}
		got = true
		payload = msg.Data
		msg.Ack()
		cancel()
	})
	if err != nil {
		return tracker.AcquisitionTask{}, false, fmt.Errorf("receive from %s: %w", q.sub.ID(), err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !got {
		return tracker.AcquisitionTask{}, false, nil
	}
	task, err := queue.DecodeTask(payload)
	if err != nil {
		return tracker.AcquisitionTask{}, false, err
	}
	return task, true, nil
}

// Ping checks that the subscription exists.
func (q *Queue) Ping(ctx context.Context) error {
	ok, err := q.sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("check subscription %s: %w", q.sub.ID(), err)
	}
	if !ok {
		return fmt.Errorf("subscription %s does not exist", q.sub.ID())
	}
	return nil
}

// Close flushes pending publishes.
func (q *Queue) Close() error {
	q.topic.Stop()
	return nil
}
