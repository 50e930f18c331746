package assign

import (
	"context"
	"sort"
	"sync"

	"github.com/uw-hai/crowdjs-server/internal/domain"
)

// MemoryQueue keeps queue state in process memory with one lock per task so
// unrelated tasks never contend. Used in tests and single-node deployments.
type MemoryQueue struct {
	mu    sync.Mutex
	tasks map[string]*taskState
}

type taskState struct {
	mu        sync.Mutex
	questions map[string]*questionState
	order     []string
	byWorker  map[string]map[string]bool
}

type questionState struct {
	budget        int
	answers       int
	uniqueWorkers bool
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{tasks: make(map[string]*taskState)}
}

func (q *MemoryQueue) task(taskID string) *taskState {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[taskID]
	if !ok {
		t = &taskState{
			questions: make(map[string]*questionState),
			byWorker:  make(map[string]map[string]bool),
		}
		q.tasks[taskID] = t
	}
	return t
}

func (q *MemoryQueue) AddQuestion(ctx context.Context, taskID, questionID string, budget int, uniqueWorkers bool) error {
	if budget < 0 {
		return domain.ErrInvalidInput
	}
	t := q.task(taskID)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.questions[questionID]; ok {
		return nil
	}
	t.questions[questionID] = &questionState{budget: budget, uniqueWorkers: uniqueWorkers}
	t.order = append(t.order, questionID)
	return nil
}

func (t *taskState) eligible(workerID, questionID string) bool {
	if !t.questions[questionID].uniqueWorkers {
		return true
	}
	return !t.byWorker[workerID][questionID]
}

func (t *taskState) record(workerID, questionID string) {
	seen, ok := t.byWorker[workerID]
	if !ok {
		seen = make(map[string]bool)
		t.byWorker[workerID] = seen
	}
	seen[questionID] = true
}

// openOrdered returns open question ids, fewest answers first, insertion
// order breaking ties.
func (t *taskState) openOrdered() []string {
	ids := make([]string, 0, len(t.order))
	for _, id := range t.order {
		if s := t.questions[id]; s.answers < s.budget {
			ids = append(ids, id)
		}
	}
	sort.SliceStable(ids, func(i, j int) bool {
		return t.questions[ids[i]].answers < t.questions[ids[j]].answers
	})
	return ids
}

func (q *MemoryQueue) ReserveNext(ctx context.Context, taskID, workerID string) (string, error) {
	t := q.task(taskID)
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range t.openOrdered() {
		if !t.eligible(workerID, id) {
			continue
		}
		t.questions[id].answers++
		t.record(workerID, id)
		return id, nil
	}
	return "", domain.ErrNoAssignmentAvailable
}

func (q *MemoryQueue) ReserveQuestion(ctx context.Context, taskID, workerID, questionID string) error {
	t := q.task(taskID)
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.questions[questionID]
	if !ok {
		return domain.ErrNotFound
	}
	if s.answers >= s.budget || !t.eligible(workerID, questionID) {
		return domain.ErrNoAssignmentAvailable
	}
	s.answers++
	t.record(workerID, questionID)
	return nil
}

func (q *MemoryQueue) Requeue(ctx context.Context, taskID, workerID, questionID string) error {
	t := q.task(taskID)
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.questions[questionID]
	if !ok {
		return domain.ErrNotFound
	}
	if s.answers > 0 {
		s.answers--
	}
	delete(t.byWorker[workerID], questionID)
	return nil
}

func (q *MemoryQueue) RecordExternalAnswer(ctx context.Context, taskID, workerID, questionID string) error {
	t := q.task(taskID)
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.questions[questionID]
	if !ok {
		return domain.ErrNotFound
	}
	s.answers++
	t.record(workerID, questionID)
	return nil
}

func (q *MemoryQueue) Remaining(ctx context.Context, taskID, questionID string) (int, error) {
	t := q.task(taskID)
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.questions[questionID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if s.answers >= s.budget {
		return 0, nil
	}
	return s.budget - s.answers, nil
}

func (q *MemoryQueue) OpenQuestions(ctx context.Context, taskID string) ([]string, error) {
	t := q.task(taskID)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.openOrdered(), nil
}
