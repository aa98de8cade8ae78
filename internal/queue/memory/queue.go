// Package memory provides queue implementations for local development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/pricespy/internal/tracker"
)

// ErrClosed is returned once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory FIFO of acquisition tasks. The channel is
// never closed; done signals shutdown so senders cannot race a close.
type Queue struct {
	ch        chan tracker.AcquisitionTask
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch:   make(chan tracker.AcquisitionTask, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes a task, waiting for room until the context ends or the
// queue is closed.
func (q *Queue) Enqueue(ctx context.Context, task tracker.AcquisitionTask) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- task:
		return nil
	}
}

// Poll pops the oldest task without waiting. Tasks queued before Close can
// still be drained; after that Poll reports ErrClosed.
func (q *Queue) Poll(ctx context.Context) (tracker.AcquisitionTask, bool, error) {
	if err := ctx.Err(); err != nil {
		return tracker.AcquisitionTask{}, false, fmt.Errorf("poll canceled: %w", err)
	}
	select {
	case task := <-q.ch:
		return task, true, nil
	default:
	}
	select {
	case <-q.done:
		return tracker.AcquisitionTask{}, false, ErrClosed
	default:
		return tracker.AcquisitionTask{}, false, nil
	}
}

// Len reports the number of pending tasks.
func (q *Queue) Len(context.Context) (int64, error) {
	return int64(len(q.ch)), nil
}

// Close stops the queue and wakes blocked producers.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
