// Package assign owns the per-task assignment queue: which questions are
// still open for labeling, how many answer slots each has left, and which
// workers have already touched which questions.
package assign

import "context"

// Queue tracks per-question answer budgets for a task. A question is open
// while it has remaining slots; reserving a slot may close it, and a requeue
// reopens it. Implementations must keep the budget invariant under
// concurrent reservations: slots handed out never exceed the budget.
type Queue interface {
	// AddQuestion registers a question with its answer budget. When
	// uniqueWorkers is set, a worker who has touched the question is never
	// offered it again. Adding an existing question is a no-op.
	AddQuestion(ctx context.Context, taskID, questionID string, budget int, uniqueWorkers bool) error

	// ReserveNext picks the open question with the fewest answers so far
	// that the worker is still eligible for, consumes one slot, and
	// records the worker's membership. Returns
	// domain.ErrNoAssignmentAvailable when nothing qualifies.
	ReserveNext(ctx context.Context, taskID, workerID string) (string, error)

	// ReserveQuestion consumes a slot on a specific question, used when a
	// policy has already ranked the candidates. Returns
	// domain.ErrNoAssignmentAvailable if the question is closed or the
	// worker is ineligible.
	ReserveQuestion(ctx context.Context, taskID, workerID, questionID string) error

	// Requeue releases a slot that was reserved but never answered,
	// reopening the question if it was closed, and clears the worker's
	// membership so they become eligible again.
	Requeue(ctx context.Context, taskID, workerID, questionID string) error

	// RecordExternalAnswer consumes a slot for an answer that arrived
	// without a reservation and records the worker's membership.
	RecordExternalAnswer(ctx context.Context, taskID, workerID, questionID string) error

	// Remaining reports the open slot count for a question; 0 means
	// closed.
	Remaining(ctx context.Context, taskID, questionID string) (int, error)

	// OpenQuestions lists the open questions for a task ordered by fewest
	// answers first. Ties break in a stable order (insertion order in
	// memory, member order in redis).
	OpenQuestions(ctx context.Context, taskID string) ([]string, error)
}
