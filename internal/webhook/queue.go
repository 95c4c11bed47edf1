package webhook

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/student-tracker-sync/internal/models"
	appErrors "github.com/noah-isme/student-tracker-sync/pkg/errors"
	"github.com/noah-isme/student-tracker-sync/pkg/jobs"
)

type pendingWriter interface {
	Insert(ctx context.Context, p models.PendingCommit) error
}

// AsyncQueue accepts pending commits immediately and writes them to the store from a worker pool,
// retrying failed writes.
type AsyncQueue struct {
	queue *jobs.Queue[models.PendingCommit]
}

// NewAsyncQueue builds a queue writing to store.
func NewAsyncQueue(store pendingWriter, cfg jobs.QueueConfig) *AsyncQueue {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	handler := func(ctx context.Context, j jobs.Job[models.PendingCommit]) error {
		return store.Insert(ctx, j.Payload)
	}
	return &AsyncQueue{queue: jobs.NewQueue("pending-commits", handler, cfg)}
}

// Start launches the workers.
func (q *AsyncQueue) Start(ctx context.Context) { q.queue.Start(ctx) }

// Stop flushes accepted commits and stops the workers.
func (q *AsyncQueue) Stop() { q.queue.Stop() }

// InsertBatch queues the commits of one delivery together. When the buffer cannot take all of them
// nothing is queued and a transient 503 is returned, so a redelivery does not duplicate entries.
func (q *AsyncQueue) InsertBatch(_ context.Context, entries []models.PendingCommit) error {
	if len(entries) == 0 {
		return nil
	}
	batch := make([]jobs.Job[models.PendingCommit], 0, len(entries))
	for _, p := range entries {
		batch = append(batch, jobs.Job[models.PendingCommit]{ID: uuid.NewString(), Payload: p})
	}
	err := q.queue.EnqueueAll(batch...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jobs.ErrQueueFull):
		return appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "pending commit queue is full")
	default:
		return appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "pending commit queue is closed")
	}
}
