// Package worker runs the single consumer loop that turns queued
// acquisition tasks into price observations.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricespy/internal/metrics"
	"github.com/JakeFAU/pricespy/internal/tracker"
)

// Acquirer performs one acquisition.
type Acquirer interface {
	AcquirePrice(ctx context.Context, productID int64) (tracker.PriceObservation, error)
}

// Config controls Worker behavior.
type Config struct {
	// PollInterval is the pause after an empty poll.
	PollInterval time.Duration
	// TaskTimeout bounds one acquisition, browser session included.
	TaskTimeout time.Duration
	// MaxAttempts of 1 means at-most-once: failed tasks are logged and dropped.
	MaxAttempts int
	// RequeueTimeout bounds how long a retry waits for room in the queue; the
	// worker is often the queue's only consumer.
	RequeueTimeout time.Duration
}

// DefaultRequeueTimeout is used when Config.RequeueTimeout is unset.
const DefaultRequeueTimeout = 5 * time.Second

// Worker polls the task queue and acquires one product at a time.
type Worker struct {
	queue    tracker.TaskQueue
	acquirer Acquirer
	clock    tracker.Clock
	retry    *RetryPolicy
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker.
func New(queue tracker.TaskQueue, acquirer Acquirer, clock tracker.Clock, cfg Config, logger *zap.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.RequeueTimeout <= 0 {
		cfg.RequeueTimeout = DefaultRequeueTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    queue,
		acquirer: acquirer,
		clock:    clock,
		retry:    NewRetryPolicy(cfg.MaxAttempts),
		cfg:      cfg,
		logger:   logger.Named("worker"),
	}
}

// Run blocks, consuming tasks until ctx ends.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started",
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Int("max_attempts", w.cfg.MaxAttempts),
	)
	failures := 0
	for {
		processed, err := w.ProcessNext(ctx)
		if ctx.Err() != nil {
			w.logger.Info("worker stopped")
			return
		}

		var wait time.Duration
		switch {
		case err != nil:
			failures++
			wait = w.retry.Backoff(failures)
			w.logger.Error("queue poll failed", zap.Int("consecutive_failures", failures), zap.Error(err))
		case !processed:
			failures = 0
			wait = w.cfg.PollInterval
			metrics.ObserveIdlePoll()
		default:
			failures = 0
			continue
		}

		if !sleep(ctx, wait) {
			w.logger.Info("worker stopped")
			return
		}
	}
}

// ProcessNext polls one task and handles it. It reports whether a task was
// found. Only queue failures are returned; acquisition failures are logged.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	task, ok, err := w.queue.Poll(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	w.handle(ctx, task)
	return true, nil
}

func (w *Worker) handle(ctx context.Context, task tracker.AcquisitionTask) {
	attempts := task.Attempt + 1
	logger := w.logger.With(zap.Int64("product_id", task.ProductID), zap.Int("attempt", attempts))

	taskCtx := ctx
	if w.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, w.cfg.TaskTimeout)
		defer cancel()
	}

	started := w.clock.Now()
	obs, err := w.acquirer.AcquirePrice(taskCtx, task.ProductID)
	elapsed := w.clock.Now().Sub(started)
	if err == nil {
		metrics.ObserveWorkerTask("success")
		logger.Info("price acquired",
			zap.Int64("observation_id", obs.ID),
			zap.Float64("price", obs.Price),
			zap.Duration("elapsed", elapsed),
		)
		return
	}

	kind := tracker.ErrorKind(err)
	fields := []zap.Field{zap.String("error_kind", kind), zap.Duration("elapsed", elapsed), zap.Error(err)}
	if !w.retry.ShouldRetry(err, attempts) || ctx.Err() != nil {
		metrics.ObserveWorkerTask("dropped")
		if kind == tracker.KindInternal || kind == tracker.KindCompetitorNotConfigured {
			logger.Error("price acquisition failed", fields...)
		} else {
			logger.Warn("price acquisition failed", fields...)
		}
		return
	}

	next := tracker.AcquisitionTask{ProductID: task.ProductID, Attempt: attempts, EnqueuedAt: w.clock.Now()}
	requeueCtx, cancel := context.WithTimeout(ctx, w.cfg.RequeueTimeout)
	defer cancel()
	if qerr := w.queue.Enqueue(requeueCtx, next); qerr != nil {
		metrics.ObserveWorkerTask("dropped")
		logger.Error("requeue failed", append(fields, zap.NamedError("queue_error", qerr))...)
		return
	}
	metrics.ObserveWorkerTask("requeued")
	logger.Warn("price acquisition failed, requeued", fields...)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
