package domain

import "time"

type Question struct {
	ID          string `json:"id"`
	TaskID      string `json:"task_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Data is an opaque blob shown to workers (e.g. a photo URL).
	Data string `json:"data,omitempty"`

	// AnswersPerQuestion is the answer budget for this question.
	AnswersPerQuestion int `json:"answers_per_question"`

	// UniqueWorkers, when true (the default policy), forbids assigning
	// the same question to the same worker twice.
	UniqueWorkers bool `json:"unique_workers"`

	// InferenceResults maps strategy name -> most recent result for that
	// strategy. Writers overwrite only their own strategy's entry.
	InferenceResults map[string]QuestionInference `json:"inference_results,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// QuestionInference is one strategy's latest estimate for a question.
type QuestionInference struct {
	Timestamp  time.Time `json:"timestamp"`
	Posterior  float64   `json:"posterior"`
	Difficulty float64   `json:"difficulty"`
}
