package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/uw-hai/crowdjs-server/internal/domain"
	"github.com/uw-hai/crowdjs-server/internal/em"
	"github.com/uw-hai/crowdjs-server/internal/pomdp"
	"github.com/uw-hai/crowdjs-server/internal/queue"
	"github.com/uw-hai/crowdjs-server/internal/storage"
)

// Worker drains the inference job stream. EM fitting and policy solving
// live here so the request path never waits on them; the price is a
// staleness window between a new vote and the refreshed estimates.
type Worker struct {
	queue        *queue.RedisQueue
	jobRepo      *storage.InferenceJobRepo
	answerRepo   *storage.AnswerRepo
	questionRepo *storage.QuestionRepo
	workerRepo   *storage.WorkerRepo
	provider     *pomdp.Provider
	emConfig     em.Config
	concurrency  int
	batchSize    int
}

func New(
	q *queue.RedisQueue,
	jobRepo *storage.InferenceJobRepo,
	answerRepo *storage.AnswerRepo,
	questionRepo *storage.QuestionRepo,
	workerRepo *storage.WorkerRepo,
	provider *pomdp.Provider,
	emConfig em.Config,
	concurrency int,
	batchSize int,
) *Worker {
	return &Worker{
		queue:        q,
		jobRepo:      jobRepo,
		answerRepo:   answerRepo,
		questionRepo: questionRepo,
		workerRepo:   workerRepo,
		provider:     provider,
		emConfig:     emConfig,
		concurrency:  concurrency,
		batchSize:    batchSize,
	}
}

func (w *Worker) Start(ctx context.Context) error {
	log.Printf("Starting inference worker with concurrency=%d, batchSize=%d", w.concurrency, w.batchSize)

	jobs := make(chan queue.Message, w.concurrency*2)
	var wg sync.WaitGroup

	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.processJobs(ctx, workerID, jobs)
		}(i)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				close(jobs)
				return
			default:
				messages, err := w.queue.Consume(ctx, int64(w.batchSize), 5*time.Second)
				if err != nil {
					log.Printf("Error consuming messages: %v", err)
					time.Sleep(time.Second)
					continue
				}

				for _, msg := range messages {
					select {
					case jobs <- msg:
					case <-ctx.Done():
						close(jobs)
						return
					}
				}
			}
		}
	}()

	wg.Wait()
	return nil
}

func (w *Worker) processJobs(ctx context.Context, workerID int, jobs <-chan queue.Message) {
	for msg := range jobs {
		if err := w.runJob(ctx, msg.Job); err != nil {
			log.Printf("Worker %d: error processing job %s: %v", workerID, msg.Job.ID, err)
		}

		if err := w.queue.Ack(ctx, msg.ID); err != nil {
			log.Printf("Worker %d: error acking %s: %v", workerID, msg.ID, err)
		}
	}
}

func (w *Worker) runJob(ctx context.Context, job *domain.InferenceJob) error {
	log.Printf("Processing inference job %s: task=%s strategy=%s", job.ID, job.TaskID, job.Strategy)

	if err := w.jobRepo.MarkRunning(ctx, job.ID); err != nil {
		return err
	}

	var err error
	switch job.Strategy {
	case domain.StrategyMajorityVote:
		err = w.runMajorityVote(ctx, job.TaskID)
	case domain.StrategyEM:
		err = w.runEM(ctx, job.TaskID)
	case domain.StrategyPOMDP:
		err = w.runPolicySolve(ctx, job.TaskID)
	default:
		err = fmt.Errorf("%w: unknown strategy %q", domain.ErrInvalidInput, job.Strategy)
	}

	if err != nil {
		if markErr := w.jobRepo.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
			log.Printf("Error marking job %s failed: %v", job.ID, markErr)
		}
		return err
	}

	return w.jobRepo.MarkCompleted(ctx, job.ID)
}

func (w *Worker) runMajorityVote(ctx context.Context, taskID string) error {
	votes, err := w.answerRepo.VotesByTask(ctx, taskID)
	if err != nil {
		return err
	}

	byQuestion := make(map[string][]domain.Label)
	for _, v := range votes {
		byQuestion[v.QuestionID] = append(byQuestion[v.QuestionID], v.Label)
	}

	now := time.Now()
	for questionID, ballot := range byQuestion {
		var trueVotes int
		for _, l := range ballot {
			if l == domain.LabelTrue {
				trueVotes++
			}
		}
		inf := domain.QuestionInference{
			Timestamp: now,
			Posterior: float64(trueVotes) / float64(len(ballot)),
		}
		if err := w.questionRepo.SaveInference(ctx, questionID, domain.StrategyMajorityVote, inf); err != nil {
			return err
		}
	}

	return nil
}

func (w *Worker) runEM(ctx context.Context, taskID string) error {
	votes, err := w.answerRepo.VotesByTask(ctx, taskID)
	if err != nil {
		return err
	}

	estimates := em.Estimate(votes, w.emConfig)
	now := time.Now()

	for workerID, skill := range estimates.Workers {
		inf := domain.WorkerInference{Timestamp: now, Skill: skill}
		if err := w.workerRepo.SaveInference(ctx, workerID, domain.StrategyEM, inf); err != nil {
			return err
		}
	}

	for questionID, est := range estimates.Questions {
		inf := domain.QuestionInference{Timestamp: now, Posterior: est.Posterior, Difficulty: est.Difficulty}
		if err := w.questionRepo.SaveInference(ctx, questionID, domain.StrategyEM, inf); err != nil {
			return err
		}
	}

	// Warm the policy cache for the new skill bucket; the next status or
	// assignment call gets a hit instead of a solve. Best effort only.
	if _, err := w.provider.Policy(ctx, estimates.AverageSkill()); err != nil {
		log.Printf("Warning: policy warm-up for task %s failed: %v", taskID, err)
	}

	return nil
}

func (w *Worker) runPolicySolve(ctx context.Context, taskID string) error {
	votes, err := w.answerRepo.VotesByTask(ctx, taskID)
	if err != nil {
		return err
	}

	estimates := em.Estimate(votes, w.emConfig)
	if _, err := w.provider.Policy(ctx, estimates.AverageSkill()); err != nil {
		return err
	}

	return nil
}
