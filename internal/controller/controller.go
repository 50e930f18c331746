package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/uw-hai/crowdjs-server/internal/assign"
	"github.com/uw-hai/crowdjs-server/internal/domain"
	"github.com/uw-hai/crowdjs-server/internal/pomdp"
)

// Assignment strategies. MinAnswers is the budget-spreading default; POMDP
// ranks questions by how much the policy wants another label; Random is for
// baselines and experiments.
const (
	StrategyMinAnswers = "min_answers"
	StrategyPOMDP      = "pomdp"
	StrategyRandom     = "random"
)

func validAssignStrategy(s string) bool {
	switch s {
	case StrategyMinAnswers, StrategyPOMDP, StrategyRandom:
		return true
	}
	return false
}

type Controller struct {
	tasks     TaskSource
	questions QuestionSource
	answers   AnswerStore
	skills    SkillSource
	queue     assign.Queue
	policies  PolicyProvider
	jobs      JobEnqueuer
	notifier  Notifier

	numBins int
}

// Deps carries the controller's collaborators. Jobs and Notifier may be nil;
// submission then skips the corresponding side effect.
type Deps struct {
	Tasks     TaskSource
	Questions QuestionSource
	Answers   AnswerStore
	Skills    SkillSource
	Queue     assign.Queue
	Policies  PolicyProvider
	Jobs      JobEnqueuer
	Notifier  Notifier
	NumBins   int
}

func New(deps Deps) *Controller {
	numBins := deps.NumBins
	if numBins == 0 {
		numBins = 11
	}
	return &Controller{
		tasks:     deps.Tasks,
		questions: deps.Questions,
		answers:   deps.Answers,
		skills:    deps.Skills,
		queue:     deps.Queue,
		policies:  deps.Policies,
		jobs:      deps.Jobs,
		notifier:  deps.Notifier,
		numBins:   numBins,
	}
}

// RegisterQuestion opens a question's budget in the assignment queue. Called
// once per question at creation; re-registration is a no-op.
func (c *Controller) RegisterQuestion(ctx context.Context, q *domain.Question) error {
	return c.queue.AddQuestion(ctx, q.TaskID, q.ID, q.AnswersPerQuestion, q.UniqueWorkers)
}

// Assign picks the next question for a worker. A worker holding an
// outstanding reservation gets it back unchanged, so repeated requests never
// double-assign. Preview returns the candidate without reserving anything;
// a previewed question may go to someone else before the worker commits.
func (c *Controller) Assign(ctx context.Context, taskID, workerID, strategy string, preview bool) (*domain.Answer, error) {
	if strategy == "" {
		strategy = StrategyMinAnswers
	}
	if !validAssignStrategy(strategy) {
		return nil, fmt.Errorf("%w: unknown strategy %q", domain.ErrInvalidInput, strategy)
	}

	task, err := c.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	outstanding, err := c.answers.Outstanding(ctx, taskID, workerID)
	if err != nil {
		return nil, err
	}
	if outstanding != nil {
		return outstanding, nil
	}

	if task.TotalBudget != domain.UnlimitedBudget {
		alive, err := c.answers.CountAlive(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if alive >= task.TotalBudget {
			return nil, domain.ErrCapacityExhausted
		}
	}

	questionID, err := c.pickQuestion(ctx, taskID, workerID, strategy, preview)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	answer := &domain.Answer{
		TaskID:      taskID,
		QuestionID:  questionID,
		WorkerID:    workerID,
		RequesterID: task.RequesterID,
		Status:      domain.AnswerAssigned,
		IsAlive:     true,
		AssignTime:  &now,
	}
	if preview {
		return answer, nil
	}

	if err := c.answers.Create(ctx, answer); err != nil {
		return nil, err
	}
	return answer, nil
}

func (c *Controller) pickQuestion(ctx context.Context, taskID, workerID, strategy string, preview bool) (string, error) {
	switch strategy {
	case StrategyMinAnswers:
		if preview {
			return c.firstOpen(ctx, taskID)
		}
		return c.queue.ReserveNext(ctx, taskID, workerID)

	case StrategyRandom:
		open, err := c.queue.OpenQuestions(ctx, taskID)
		if err != nil {
			return "", err
		}
		rand.Shuffle(len(open), func(i, j int) { open[i], open[j] = open[j], open[i] })
		return c.reserveFirst(ctx, taskID, workerID, open, preview)

	case StrategyPOMDP:
		ranked, err := c.rankByPolicy(ctx, taskID)
		if err != nil {
			if errors.Is(err, domain.ErrSolverTimeout) {
				// Safe fallback: spread the budget instead of blocking.
				log.Printf("Policy unavailable for task %s, falling back to min_answers: %v", taskID, err)
				return c.pickQuestion(ctx, taskID, workerID, StrategyMinAnswers, preview)
			}
			return "", err
		}
		return c.reserveFirst(ctx, taskID, workerID, ranked, preview)
	}
	return "", fmt.Errorf("%w: unknown strategy %q", domain.ErrInvalidInput, strategy)
}

func (c *Controller) firstOpen(ctx context.Context, taskID string) (string, error) {
	open, err := c.queue.OpenQuestions(ctx, taskID)
	if err != nil {
		return "", err
	}
	if len(open) == 0 {
		return "", domain.ErrNoAssignmentAvailable
	}
	return open[0], nil
}

// reserveFirst walks the candidate list in order and takes the first slot
// the worker is eligible for. A candidate lost to a concurrent reservation
// just moves us to the next one.
func (c *Controller) reserveFirst(ctx context.Context, taskID, workerID string, candidates []string, preview bool) (string, error) {
	if preview {
		if len(candidates) == 0 {
			return "", domain.ErrNoAssignmentAvailable
		}
		return candidates[0], nil
	}
	for _, id := range candidates {
		err := c.queue.ReserveQuestion(ctx, taskID, workerID, id)
		if err == nil {
			return id, nil
		}
		if errors.Is(err, domain.ErrNoAssignmentAvailable) {
			continue
		}
		return "", err
	}
	return "", domain.ErrNoAssignmentAvailable
}

// rankByPolicy orders open questions into two tiers: first the ones the
// policy still wants labels for, most valuable request first; then the ones
// the policy considers decided, least confident first. The second tier keeps
// workers busy when the policy thinks everything is done but budget remains.
func (c *Controller) rankByPolicy(ctx context.Context, taskID string) ([]string, error) {
	open, err := c.queue.OpenQuestions(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		return nil, nil
	}

	ev, err := c.evidence(ctx, taskID)
	if err != nil {
		return nil, err
	}

	policy, err := c.policies.Policy(ctx, ev.averageSkill)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		id     string
		reward float64
	}
	var wanting, decided []candidate

	for _, id := range open {
		b := ev.belief(id, c.numBins)
		rewards, err := policy.ActionRewards(b)
		if err != nil {
			return nil, err
		}
		action, best, err := policy.BestAction(b)
		if err != nil {
			return nil, err
		}
		if action == pomdp.ActionRequestLabel {
			wanting = append(wanting, candidate{id, rewards[pomdp.ActionRequestLabel]})
		} else {
			decided = append(decided, candidate{id, best})
		}
	}

	sort.SliceStable(wanting, func(i, j int) bool { return wanting[i].reward > wanting[j].reward })
	sort.SliceStable(decided, func(i, j int) bool { return decided[i].reward < decided[j].reward })

	ranked := make([]string, 0, len(wanting)+len(decided))
	for _, cand := range wanting {
		ranked = append(ranked, cand.id)
	}
	for _, cand := range decided {
		ranked = append(ranked, cand.id)
	}
	return ranked, nil
}

// SubmitObservation records a worker's label. It completes the worker's
// outstanding reservation when one matches; otherwise the label is accepted
// as a walk-in answer and the queue budget is consumed to match. Either way
// an EM refresh job is enqueued and the task's callback is notified.
func (c *Controller) SubmitObservation(ctx context.Context, taskID, workerID, questionID string, value int) (*domain.Answer, error) {
	if !domain.ValidLabel(value) {
		return nil, fmt.Errorf("%w: label must be 0 or 1, got %d", domain.ErrInvalidInput, value)
	}
	label := domain.Label(value)

	task, err := c.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	answer, err := c.completeOutstanding(ctx, taskID, workerID, questionID, label)
	if err != nil {
		return nil, err
	}
	if answer == nil {
		answer, err = c.acceptWalkIn(ctx, task, workerID, questionID, label)
		if err != nil {
			return nil, err
		}
	}

	if c.jobs != nil {
		if _, err := c.jobs.Enqueue(ctx, taskID, domain.StrategyEM); err != nil {
			log.Printf("Warning: failed to enqueue inference job for task %s: %v", taskID, err)
		}
	}
	if c.notifier != nil && task.AnswerCallbackURL != "" {
		if err := c.notifier.AnswerCompleted(ctx, task, answer); err != nil {
			log.Printf("Warning: answer callback for task %s failed: %v", taskID, err)
		}
	}

	return answer, nil
}

func (c *Controller) completeOutstanding(ctx context.Context, taskID, workerID, questionID string, label domain.Label) (*domain.Answer, error) {
	outstanding, err := c.answers.Outstanding(ctx, taskID, workerID)
	if err != nil {
		return nil, err
	}
	if outstanding == nil || outstanding.QuestionID != questionID {
		return nil, nil
	}

	ok, err := c.answers.Complete(ctx, outstanding.ID, label)
	if err != nil {
		return nil, err
	}
	if !ok {
		// A requeue won the race; the slot went back to the pool, so the
		// submission is treated as a walk-in instead.
		return nil, nil
	}

	now := time.Now()
	outstanding.Status = domain.AnswerCompleted
	outstanding.Value = &label
	outstanding.CompleteTime = &now
	return outstanding, nil
}

func (c *Controller) acceptWalkIn(ctx context.Context, task *domain.Task, workerID, questionID string, label domain.Label) (*domain.Answer, error) {
	question, err := c.questions.GetByID(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if question.TaskID != task.ID {
		return nil, fmt.Errorf("%w: question %s does not belong to task %s", domain.ErrInvalidInput, questionID, task.ID)
	}

	now := time.Now()
	answer := &domain.Answer{
		TaskID:       task.ID,
		QuestionID:   questionID,
		WorkerID:     workerID,
		RequesterID:  task.RequesterID,
		Status:       domain.AnswerCompleted,
		Value:        &label,
		IsAlive:      true,
		AssignTime:   &now,
		CompleteTime: &now,
	}
	if err := c.answers.Create(ctx, answer); err != nil {
		return nil, err
	}

	if err := c.queue.RecordExternalAnswer(ctx, task.ID, workerID, questionID); err != nil {
		log.Printf("Warning: failed to record walk-in answer in queue for question %s: %v", questionID, err)
	}
	return answer, nil
}

// Requeue reclaims a worker's expired reservation. It is safe to race with
// the worker's own submission: the conditional status flip decides a single
// winner and the loser no-ops.
func (c *Controller) Requeue(ctx context.Context, taskID, questionID, workerID string) error {
	outstanding, err := c.answers.Outstanding(ctx, taskID, workerID)
	if err != nil {
		return err
	}
	if outstanding == nil || outstanding.QuestionID != questionID {
		return nil
	}
	return c.RequeueAnswer(ctx, outstanding)
}

// RequeueAnswer reclaims a specific reservation row, the entry point used by
// the background scanner.
func (c *Controller) RequeueAnswer(ctx context.Context, answer *domain.Answer) error {
	ok, err := c.answers.MarkRequeued(ctx, answer.ID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return c.queue.Requeue(ctx, answer.TaskID, answer.WorkerID, answer.QuestionID)
}
