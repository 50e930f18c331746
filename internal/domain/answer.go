package domain

import "time"

// Label is a binary answer value.
type Label int

const (
	LabelFalse Label = 0
	LabelTrue  Label = 1
)

// ValidLabel reports whether v is one of the two allowed labels.
func ValidLabel(v int) bool {
	return v == 0 || v == 1
}

type AnswerStatus string

const (
	// AnswerAssigned means a worker holds an outstanding reservation for
	// the question and has not submitted a value yet.
	AnswerAssigned AnswerStatus = "assigned"
	// AnswerCompleted means the worker submitted a value.
	AnswerCompleted AnswerStatus = "completed"
	// AnswerRequeued means the reservation timed out and its budget slot
	// was returned to the queue.
	AnswerRequeued AnswerStatus = "requeued"
)

// Answer is the record tying a worker to a question. It is created at
// assignment time (status assigned) and completed when the worker submits a
// value; a completed answer is the immutable vote used for inference.
type Answer struct {
	ID          string       `json:"id"`
	TaskID      string       `json:"task_id"`
	QuestionID  string       `json:"question_id"`
	WorkerID    string       `json:"worker_id"`
	RequesterID string       `json:"requester_id,omitempty"`
	Status      AnswerStatus `json:"status"`
	Value       *Label       `json:"value,omitempty"`

	// IsAlive marks answers that count toward the task's total budget.
	IsAlive bool `json:"is_alive"`

	AssignTime   *time.Time `json:"assign_time,omitempty"`
	CompleteTime *time.Time `json:"complete_time,omitempty"`
}

// Vote is the immutable (worker, question, label) observation extracted from
// a completed answer. Votes are append-only evidence; they are never edited.
type Vote struct {
	WorkerID   string `json:"worker_id"`
	QuestionID string `json:"question_id"`
	Label      Label  `json:"label"`
}

// Vote converts a completed answer into a vote. The second return is false
// for answers that have no value yet.
func (a *Answer) Vote() (Vote, bool) {
	if a.Status != AnswerCompleted || a.Value == nil {
		return Vote{}, false
	}
	return Vote{WorkerID: a.WorkerID, QuestionID: a.QuestionID, Label: *a.Value}, true
}
