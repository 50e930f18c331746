package worker

import (
	"context"
	"fmt"

	"github.com/uw-hai/crowdjs-server/internal/domain"
	"github.com/uw-hai/crowdjs-server/internal/queue"
	"github.com/uw-hai/crowdjs-server/internal/storage"
)

// Enqueuer records an inference job row and publishes it to the stream.
// The row is the durable source of truth for job status; the stream entry
// is just the wake-up call.
type Enqueuer struct {
	jobRepo *storage.InferenceJobRepo
	queue   *queue.RedisQueue
}

func NewEnqueuer(jobRepo *storage.InferenceJobRepo, q *queue.RedisQueue) *Enqueuer {
	return &Enqueuer{jobRepo: jobRepo, queue: q}
}

func (e *Enqueuer) Enqueue(ctx context.Context, taskID, strategy string) (*domain.InferenceJob, error) {
	if !domain.ValidStrategy(strategy) {
		return nil, fmt.Errorf("%w: unknown strategy %q", domain.ErrInvalidInput, strategy)
	}

	job := &domain.InferenceJob{
		TaskID:   taskID,
		Strategy: strategy,
		Status:   domain.JobPending,
	}
	if err := e.jobRepo.Create(ctx, job); err != nil {
		return nil, err
	}

	if err := e.queue.Publish(ctx, job); err != nil {
		return nil, fmt.Errorf("publish job %s: %w", job.ID, err)
	}

	return job, nil
}
