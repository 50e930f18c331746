package domain

import "time"

// UnlimitedBudget disables the per-task answer cap.
const UnlimitedBudget = -1

type Task struct {
	ID          string `json:"id"`
	RequesterID string `json:"requester_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Data is an opaque blob the requester may attach to the task.
	Data string `json:"data,omitempty"`

	// AssignmentDuration is how long a worker may hold an assignment
	// before it becomes eligible for requeue.
	AssignmentDuration time.Duration `json:"assignment_duration"`

	// TotalBudget caps the number of alive answers across the whole task.
	// UnlimitedBudget means no cap.
	TotalBudget int `json:"total_budget"`

	// AnswerCallbackURL, when set, receives a webhook event after every
	// completed answer.
	AnswerCallbackURL string `json:"answer_callback_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
