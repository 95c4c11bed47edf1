package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrQueueFull is returned when the buffer has no free slot.
var ErrQueueFull = errors.New("queue full")

// Job is one queued unit of work.
type Job[T any] struct {
	ID       string
	Payload  T
	Attempt  int
	Enqueued time.Time
}

// Handler processes a job.
type Handler[T any] func(context.Context, Job[T]) error

// QueueConfig configures worker pool behaviour.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// Queue is an in-memory job dispatcher backed by goroutines. Stop drains jobs already accepted.
type Queue[T any] struct {
	name    string
	handler Handler[T]

	workers    int
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger

	jobs    chan Job[T]
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	pending sync.WaitGroup
	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewQueue builds a new queue with the provided handler.
func NewQueue[T any](name string, handler Handler[T], cfg QueueConfig) *Queue[T] {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Queue[T]{
		name:       name,
		handler:    handler,
		workers:    cfg.Workers,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
		jobs:       make(chan Job[T], cfg.BufferSize),
	}
}

// Start begins worker consumption. Safe to call once.
func (q *Queue[T]) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.started = true
	q.logger.Info("queue started", zap.String("queue", q.name), zap.Int("workers", q.workers))
}

// Stop refuses new jobs and returns once every accepted job has succeeded or run out of retries.
func (q *Queue[T]) Stop() {
	q.mu.Lock()
	if !q.started || q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.pending.Wait()
	close(q.jobs)
	q.wg.Wait()
	q.cancel()
	q.logger.Info("queue stopped", zap.String("queue", q.name))
}

// Enqueue pushes a job without blocking. A full buffer returns ErrQueueFull.
func (q *Queue[T]) Enqueue(job Job[T]) error {
	return q.EnqueueAll(job)
}

// EnqueueAll accepts every job or none of them. When the buffer cannot hold the whole batch it
// returns ErrQueueFull and nothing is queued.
func (q *Queue[T]) EnqueueAll(batch ...Job[T]) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.started || q.closed {
		return fmt.Errorf("queue %s not accepting jobs", q.name)
	}
	// Holding the write lock keeps other senders out, so free slots can only grow until we return.
	if free := cap(q.jobs) - len(q.jobs); len(batch) > free {
		return fmt.Errorf("queue %s: %d jobs, %d free: %w", q.name, len(batch), free, ErrQueueFull)
	}

	now := time.Now().UTC()
	q.pending.Add(len(batch))
	for _, job := range batch {
		if job.Enqueued.IsZero() {
			job.Enqueued = now
		}
		q.jobs <- job
	}
	return nil
}

func (q *Queue[T]) worker() {
	defer q.wg.Done()
	for job := range q.jobs {
		if err := q.handler(q.ctx, job); err != nil {
			q.handleFailure(job, err)
			continue
		}
		q.pending.Done()
	}
}

func (q *Queue[T]) handleFailure(job Job[T], err error) {
	job.Attempt++
	log := q.logger.With(zap.String("queue", q.name), zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	if job.Attempt > q.maxRetries {
		log.Error("job exceeded retries", zap.Error(err))
		q.pending.Done()
		return
	}
	log.Warn("job failed, retrying", zap.Error(err))

	// Retries bypass the closed check so a job accepted before Stop is never refused. The read lock
	// keeps them from taking slots EnqueueAll has counted as free.
	go func(j Job[T]) {
		timer := time.NewTimer(q.retryDelay)
		defer timer.Stop()
		<-timer.C
		q.mu.RLock()
		q.jobs <- j
		q.mu.RUnlock()
	}(job)
}
