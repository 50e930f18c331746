package controller

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uw-hai/crowdjs-server/internal/assign"
	"github.com/uw-hai/crowdjs-server/internal/domain"
	"github.com/uw-hai/crowdjs-server/internal/pomdp"
)

// fakeStore backs every storage interface with maps so controller tests run
// without postgres.
type fakeStore struct {
	tasks     map[string]*domain.Task
	questions map[string]*domain.Question
	answers   []*domain.Answer
	skills    map[string]float64
	nextID    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:     make(map[string]*domain.Task),
		questions: make(map[string]*domain.Question),
		skills:    make(map[string]float64),
	}
}

func (s *fakeStore) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	if t, ok := s.tasks[id]; ok {
		return t, nil
	}
	return nil, domain.ErrNotFound
}

type fakeQuestions struct{ store *fakeStore }

func (q fakeQuestions) GetByID(ctx context.Context, id string) (*domain.Question, error) {
	if question, ok := q.store.questions[id]; ok {
		return question, nil
	}
	return nil, domain.ErrNotFound
}

func (q fakeQuestions) ListByTask(ctx context.Context, taskID string) ([]*domain.Question, error) {
	var out []*domain.Question
	for _, question := range q.store.questions {
		if question.TaskID == taskID {
			out = append(out, question)
		}
	}
	return out, nil
}

func (s *fakeStore) Create(ctx context.Context, a *domain.Answer) error {
	s.nextID++
	a.ID = fmt.Sprintf("answer-%d", s.nextID)
	copied := *a
	s.answers = append(s.answers, &copied)
	return nil
}

func (s *fakeStore) Outstanding(ctx context.Context, taskID, workerID string) (*domain.Answer, error) {
	for _, a := range s.answers {
		if a.TaskID == taskID && a.WorkerID == workerID && a.Status == domain.AnswerAssigned {
			copied := *a
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) Complete(ctx context.Context, answerID string, value domain.Label) (bool, error) {
	for _, a := range s.answers {
		if a.ID == answerID && a.Status == domain.AnswerAssigned {
			now := time.Now()
			a.Status = domain.AnswerCompleted
			a.Value = &value
			a.CompleteTime = &now
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) MarkRequeued(ctx context.Context, answerID string) (bool, error) {
	for _, a := range s.answers {
		if a.ID == answerID && a.Status == domain.AnswerAssigned {
			a.Status = domain.AnswerRequeued
			a.IsAlive = false
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) CountAlive(ctx context.Context, taskID string) (int, error) {
	var count int
	for _, a := range s.answers {
		if a.TaskID == taskID && a.IsAlive {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) VotesByTask(ctx context.Context, taskID string) ([]domain.Vote, error) {
	var votes []domain.Vote
	for _, a := range s.answers {
		if a.TaskID != taskID {
			continue
		}
		if v, ok := a.Vote(); ok {
			votes = append(votes, v)
		}
	}
	return votes, nil
}

func (s *fakeStore) Skills(ctx context.Context, workerIDs []string, strategy string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, id := range workerIDs {
		if skill, ok := s.skills[id]; ok {
			out[id] = skill
		}
	}
	return out, nil
}

// myopicPolicy values one step ahead: requesting always costs 1, submitting
// costs the penalty weighted by the mass on the wrong label. Enough structure
// for decision classification without running the solver.
func myopicPolicy(numBins int, penalty float64) *pomdp.Policy {
	n := 2*numBins + 1
	request := make([]float64, n)
	submitTrue := make([]float64, n)
	submitFalse := make([]float64, n)
	for i := 0; i < 2*numBins; i++ {
		request[i] = -1
	}
	for i := 0; i < numBins; i++ {
		submitTrue[numBins+i] = penalty
		submitFalse[i] = penalty
	}
	return &pomdp.Policy{
		NumStates: n,
		Vectors: []pomdp.AlphaVector{
			{Action: pomdp.ActionRequestLabel, Values: request},
			{Action: pomdp.ActionSubmitTrue, Values: submitTrue},
			{Action: pomdp.ActionSubmitFalse, Values: submitFalse},
		},
	}
}

type fakePolicyProvider struct {
	policy *pomdp.Policy
	err    error
}

func (p fakePolicyProvider) Policy(ctx context.Context, averageSkill float64) (*pomdp.Policy, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.policy, nil
}

type fakeEnqueuer struct {
	jobs []string
}

func (e *fakeEnqueuer) Enqueue(ctx context.Context, taskID, strategy string) (*domain.InferenceJob, error) {
	e.jobs = append(e.jobs, strategy)
	return &domain.InferenceJob{ID: "job", TaskID: taskID, Strategy: strategy}, nil
}

type testRig struct {
	store    *fakeStore
	queue    *assign.MemoryQueue
	enqueuer *fakeEnqueuer
	ctrl     *Controller
}

func newRig(t *testing.T, provider PolicyProvider) *testRig {
	t.Helper()
	store := newFakeStore()
	queue := assign.NewMemoryQueue()
	enqueuer := &fakeEnqueuer{}
	ctrl := New(Deps{
		Tasks:     store,
		Questions: fakeQuestions{store},
		Answers:   store,
		Skills:    store,
		Queue:     queue,
		Policies:  provider,
		Jobs:      enqueuer,
		NumBins:   11,
	})
	return &testRig{store: store, queue: queue, enqueuer: enqueuer, ctrl: ctrl}
}

func (r *testRig) addTask(t *testing.T, id string, totalBudget int) {
	t.Helper()
	r.store.tasks[id] = &domain.Task{
		ID:                 id,
		RequesterID:        "req-1",
		AssignmentDuration: time.Hour,
		TotalBudget:        totalBudget,
	}
}

func (r *testRig) addQuestion(t *testing.T, taskID, id string, budget int) {
	t.Helper()
	q := &domain.Question{
		ID:                 id,
		TaskID:             taskID,
		AnswersPerQuestion: budget,
		UniqueWorkers:      true,
	}
	r.store.questions[id] = q
	require.NoError(t, r.ctrl.RegisterQuestion(context.Background(), q))
}

func defaultProvider() fakePolicyProvider {
	return fakePolicyProvider{policy: myopicPolicy(11, -10)}
}

func TestAssignAndSubmitLifecycle(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, defaultProvider())
	rig.addTask(t, "t1", domain.UnlimitedBudget)
	rig.addQuestion(t, "t1", "q1", 1)

	// Worker A takes the only slot.
	a, err := rig.ctrl.Assign(ctx, "t1", "wA", StrategyMinAnswers, false)
	require.NoError(t, err)
	assert.Equal(t, "q1", a.QuestionID)
	assert.Equal(t, domain.AnswerAssigned, a.Status)

	// Worker B finds nothing.
	_, err = rig.ctrl.Assign(ctx, "t1", "wB", StrategyMinAnswers, false)
	assert.True(t, errors.Is(err, domain.ErrNoAssignmentAvailable))

	// A submits; the reservation completes and an EM refresh is queued.
	answer, err := rig.ctrl.SubmitObservation(ctx, "t1", "wA", "q1", 1)
	require.NoError(t, err)
	assert.Equal(t, domain.AnswerCompleted, answer.Status)
	require.NotNil(t, answer.Value)
	assert.Equal(t, domain.LabelTrue, *answer.Value)
	assert.Equal(t, []string{domain.StrategyEM}, rig.enqueuer.jobs)

	open, err := rig.queue.OpenQuestions(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, open, "fully answered question leaves the open set")
}

func TestAssignIdempotentRefetch(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, defaultProvider())
	rig.addTask(t, "t1", domain.UnlimitedBudget)
	rig.addQuestion(t, "t1", "q1", 5)

	first, err := rig.ctrl.Assign(ctx, "t1", "wA", StrategyMinAnswers, false)
	require.NoError(t, err)

	second, err := rig.ctrl.Assign(ctx, "t1", "wA", StrategyMinAnswers, false)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "re-fetch returns the outstanding reservation")

	remaining, err := rig.queue.Remaining(ctx, "t1", "q1")
	require.NoError(t, err)
	assert.Equal(t, 4, remaining, "re-fetch must not consume another slot")
}

func TestAssignTaskBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, defaultProvider())
	rig.addTask(t, "t1", 1)
	rig.addQuestion(t, "t1", "q1", 5)

	_, err := rig.ctrl.Assign(ctx, "t1", "wA", StrategyMinAnswers, false)
	require.NoError(t, err)

	_, err = rig.ctrl.Assign(ctx, "t1", "wB", StrategyMinAnswers, false)
	assert.True(t, errors.Is(err, domain.ErrCapacityExhausted))
}

func TestAssignUnknownStrategy(t *testing.T) {
	rig := newRig(t, defaultProvider())
	rig.addTask(t, "t1", domain.UnlimitedBudget)

	_, err := rig.ctrl.Assign(context.Background(), "t1", "wA", "greedy", false)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestAssignPOMDPPrefersUndecidedQuestions(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, defaultProvider())
	rig.addTask(t, "t1", domain.UnlimitedBudget)
	rig.addQuestion(t, "t1", "decided", 5)
	rig.addQuestion(t, "t1", "fresh", 1)

	// Three agreeing votes push "decided" past the submit threshold.
	for _, w := range []string{"w1", "w2", "w3"} {
		label := domain.LabelTrue
		now := time.Now()
		rig.store.answers = append(rig.store.answers, &domain.Answer{
			ID: "seed-" + w, TaskID: "t1", QuestionID: "decided", WorkerID: w,
			Status: domain.AnswerCompleted, Value: &label, IsAlive: true,
			AssignTime: &now, CompleteTime: &now,
		})
	}

	a, err := rig.ctrl.Assign(ctx, "t1", "wA", StrategyPOMDP, false)
	require.NoError(t, err)
	assert.Equal(t, "fresh", a.QuestionID, "the unlabeled question needs labels most")

	// With "fresh" closed, the decided question still absorbs spare
	// capacity.
	b, err := rig.ctrl.Assign(ctx, "t1", "wB", StrategyPOMDP, false)
	require.NoError(t, err)
	assert.Equal(t, "decided", b.QuestionID)
}

func TestAssignPOMDPFallsBackOnSolverTimeout(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, fakePolicyProvider{err: domain.ErrSolverTimeout})
	rig.addTask(t, "t1", domain.UnlimitedBudget)
	rig.addQuestion(t, "t1", "q1", 1)

	a, err := rig.ctrl.Assign(ctx, "t1", "wA", StrategyPOMDP, false)
	require.NoError(t, err, "solver trouble must not block assignment")
	assert.Equal(t, "q1", a.QuestionID)
}

func TestAssignPreviewReservesNothing(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, defaultProvider())
	rig.addTask(t, "t1", domain.UnlimitedBudget)
	rig.addQuestion(t, "t1", "q1", 1)

	a, err := rig.ctrl.Assign(ctx, "t1", "wA", StrategyMinAnswers, true)
	require.NoError(t, err)
	assert.Equal(t, "q1", a.QuestionID)
	assert.Empty(t, a.ID, "preview is not persisted")

	remaining, err := rig.queue.Remaining(ctx, "t1", "q1")
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}

func TestSubmitWalkInAnswer(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, defaultProvider())
	rig.addTask(t, "t1", domain.UnlimitedBudget)
	rig.addQuestion(t, "t1", "q1", 2)

	// No reservation exists; the label is accepted and a slot consumed.
	answer, err := rig.ctrl.SubmitObservation(ctx, "t1", "wA", "q1", 0)
	require.NoError(t, err)
	assert.Equal(t, domain.AnswerCompleted, answer.Status)

	remaining, err := rig.queue.Remaining(ctx, "t1", "q1")
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}

func TestSubmitInvalidLabel(t *testing.T) {
	rig := newRig(t, defaultProvider())
	rig.addTask(t, "t1", domain.UnlimitedBudget)

	_, err := rig.ctrl.SubmitObservation(context.Background(), "t1", "wA", "q1", 7)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestRequeueReclaimsSlotAndRacesSafely(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, defaultProvider())
	rig.addTask(t, "t1", domain.UnlimitedBudget)
	rig.addQuestion(t, "t1", "q1", 1)

	a, err := rig.ctrl.Assign(ctx, "t1", "wA", StrategyMinAnswers, false)
	require.NoError(t, err)

	require.NoError(t, rig.ctrl.Requeue(ctx, "t1", "q1", "wA"))

	remaining, err := rig.queue.Remaining(ctx, "t1", "q1")
	require.NoError(t, err)
	assert.Equal(t, 1, remaining, "requeue reopens the slot")

	// Another worker can now take the question.
	b, err := rig.ctrl.Assign(ctx, "t1", "wB", StrategyMinAnswers, false)
	require.NoError(t, err)
	assert.Equal(t, "q1", b.QuestionID)

	// A's late submission lands as a walk-in, not a double completion of
	// the requeued reservation.
	late, err := rig.ctrl.SubmitObservation(ctx, "t1", "wA", "q1", 1)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, late.ID)

	// Requeue after completion is a no-op.
	_, err = rig.ctrl.SubmitObservation(ctx, "t1", "wB", "q1", 1)
	require.NoError(t, err)
	require.NoError(t, rig.ctrl.Requeue(ctx, "t1", "q1", "wB"))
}

func TestStatusReportsDecisions(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, defaultProvider())
	rig.addTask(t, "t1", domain.UnlimitedBudget)
	rig.addQuestion(t, "t1", "q1", 5)
	rig.addQuestion(t, "t1", "q2", 5)

	for _, w := range []string{"w1", "w2", "w3"} {
		label := domain.LabelTrue
		now := time.Now()
		rig.store.answers = append(rig.store.answers, &domain.Answer{
			ID: "seed-" + w, TaskID: "t1", QuestionID: "q1", WorkerID: w,
			Status: domain.AnswerCompleted, Value: &label, IsAlive: true,
			AssignTime: &now, CompleteTime: &now,
		})
	}

	status, err := rig.ctrl.Status(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", status.TaskID)
	assert.InDelta(t, domain.NeutralSkill, status.AverageSkill, 1e-12)

	q1 := status.Questions["q1"]
	assert.Equal(t, domain.DecisionSubmitTrue, q1.Decision)
	assert.Len(t, q1.Votes, 3)
	assert.Contains(t, q1.ActionRewards, pomdp.ActionRequestLabel.String())

	q2 := status.Questions["q2"]
	assert.Equal(t, domain.DecisionNeedsMoreLabels, q2.Decision)
	assert.Empty(t, q2.Votes)
}

func TestStatusFallbackOnSolverTimeout(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, fakePolicyProvider{err: domain.ErrSolverTimeout})
	rig.addTask(t, "t1", domain.UnlimitedBudget)
	rig.addQuestion(t, "t1", "q1", 5)

	status, err := rig.ctrl.Status(ctx, "t1")
	require.NoError(t, err)

	q1 := status.Questions["q1"]
	assert.True(t, q1.PolicyFallback)
	assert.Equal(t, domain.DecisionNeedsMoreLabels, q1.Decision)
	assert.Equal(t, pomdp.ActionRequestLabel.String(), q1.BestAction)
}

func TestWorkerMetrics(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, defaultProvider())
	rig.addTask(t, "t1", domain.UnlimitedBudget)
	rig.addQuestion(t, "t1", "q1", 5)
	rig.addQuestion(t, "t1", "q2", 5)

	seed := func(worker, question string, label domain.Label) {
		now := time.Now()
		rig.store.answers = append(rig.store.answers, &domain.Answer{
			ID: "seed-" + worker + question, TaskID: "t1", QuestionID: question, WorkerID: worker,
			Status: domain.AnswerCompleted, Value: &label, IsAlive: true,
			AssignTime: &now, CompleteTime: &now,
		})
	}
	// w1 and w2 agree everywhere; w3 dissents on both questions.
	seed("w1", "q1", domain.LabelTrue)
	seed("w2", "q1", domain.LabelTrue)
	seed("w3", "q1", domain.LabelFalse)
	seed("w1", "q2", domain.LabelFalse)
	seed("w2", "q2", domain.LabelFalse)
	seed("w3", "q2", domain.LabelTrue)

	metrics, err := rig.ctrl.WorkerMetrics(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, metrics, 3)

	byID := make(map[string]domain.WorkerMetrics)
	for _, m := range metrics {
		byID[m.WorkerID] = m
	}
	assert.InDelta(t, 1.0, byID["w1"].AgreementRate, 1e-12)
	assert.InDelta(t, 0.0, byID["w3"].AgreementRate, 1e-12)
	assert.Equal(t, 2, byID["w3"].Votes)
}
