// Package scheduler runs background jobs on a bounded worker pool.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/boddenberg/pj-ledger-sync-go/internal/infra/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("scheduler")

// ErrQueueFull is returned by Submit when the job queue has no room.
// The job is dropped, not blocked.
var ErrQueueFull = errors.New("job queue full")

const jobTimeout = 120 * time.Second

// Job is a unit of background work.
type Job interface {
	Execute(ctx context.Context) error
	UserID() string
	Description() string
}

// WorkerPool processes jobs on a fixed set of goroutines with a bounded
// queue. Submit never blocks the caller.
type WorkerPool struct {
	workerCount int
	jobDelay    time.Duration
	jobs        chan Job
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// NewWorkerPool creates a pool with workerCount goroutines and a queue of
// queueSize jobs. jobDelay spaces consecutive jobs per worker, zero disables it.
func NewWorkerPool(workerCount, queueSize int, jobDelay time.Duration, logger *zap.Logger, metrics *observability.Metrics) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		workerCount: workerCount,
		jobDelay:    jobDelay,
		jobs:        make(chan Job, queueSize),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
		metrics:     metrics,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	wp.logger.Info("starting worker pool", zap.Int("workers", wp.workerCount))

	for i := 1; i <= wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug("worker shutting down", zap.Int("worker_id", id))
			return

		case job, ok := <-wp.jobs:
			if !ok {
				return
			}

			wp.processJob(id, job)

			if wp.jobDelay > 0 {
				select {
				case <-time.After(wp.jobDelay):
				case <-wp.ctx.Done():
					return
				}
			}
		}
	}
}

func (wp *WorkerPool) processJob(workerID int, job Job) {
	ctx, cancel := context.WithTimeout(wp.ctx, jobTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "WorkerPool.processJob")
	defer span.End()
	span.SetAttributes(
		attribute.Int("worker.id", workerID),
		attribute.String("job.description", job.Description()),
	)

	start := time.Now()

	if err := job.Execute(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		wp.metrics.IncrJob("error")
		wp.logger.Error("job failed",
			zap.Int("worker_id", workerID),
			zap.String("job", job.Description()),
			zap.String("user_id", job.UserID()),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return
	}

	wp.metrics.IncrJob("success")
	wp.logger.Info("job completed",
		zap.Int("worker_id", workerID),
		zap.String("job", job.Description()),
		zap.String("user_id", job.UserID()),
		zap.Duration("duration", time.Since(start)),
	)
}

// Submit queues a job without blocking. Returns ErrQueueFull when the queue
// is at capacity, or the pool context's error after shutdown.
func (wp *WorkerPool) Submit(job Job) error {
	select {
	case <-wp.ctx.Done():
		return wp.ctx.Err()
	case wp.jobs <- job:
		return nil
	default:
		wp.metrics.IncrJobDropped()
		wp.logger.Warn("job queue full, dropping job",
			zap.String("job", job.Description()),
			zap.String("user_id", job.UserID()),
		)
		return ErrQueueFull
	}
}

// Shutdown stops accepting jobs, drains the queue, and waits for workers.
func (wp *WorkerPool) Shutdown() {
	close(wp.jobs)
	wp.wg.Wait()
	wp.cancel()
	wp.logger.Info("worker pool stopped")
}

// ShutdownWithTimeout drains like Shutdown but force-cancels running jobs
// when the timeout elapses.
func (wp *WorkerPool) ShutdownWithTimeout(timeout time.Duration) {
	close(wp.jobs)

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Info("worker pool drained")
	case <-time.After(timeout):
		wp.logger.Warn("worker pool shutdown timed out, cancelling jobs")
		wp.cancel()
	}
}
