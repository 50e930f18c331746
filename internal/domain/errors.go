package domain

import "errors"

// Error taxonomy. Everything the core surfaces to callers is one of these
// (possibly wrapped); API layers map them to responses deterministically.
var (
	// ErrInvalidInput covers malformed observations/labels and unknown
	// task/question/worker references. Never silently coerced.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is a lookup miss for a referenced entity.
	ErrNotFound = errors.New("not found")

	// ErrCapacityExhausted means a task or question answer budget has been
	// reached. It is an expected outcome, not a failure.
	ErrCapacityExhausted = errors.New("capacity exhausted")

	// ErrNoAssignmentAvailable means no open question is eligible for the
	// requesting worker. Expected outcome, not a failure.
	ErrNoAssignmentAvailable = errors.New("no assignment available")

	// ErrSolverTimeout means the policy solver produced no policy within
	// its deadline. Callers fall back to requesting another label.
	ErrSolverTimeout = errors.New("solver timeout")

	// ErrConcurrencyConflict is internal to the assignment queue's
	// optimistic retry loop. It escapes only when the retry budget is
	// spent, which indicates pathological contention.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)
