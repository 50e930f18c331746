package domain

import "time"

// Inference strategy names. They key the per-entity InferenceResults maps,
// so renaming one orphans previously persisted results.
const (
	StrategyMajorityVote = "majority_vote"
	StrategyEM           = "em"
	StrategyPOMDP        = "pomdp"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// InferenceJob is a background aggregation run over one task's votes.
// Jobs are queued by the API and executed by the inference worker; EM and
// policy solving are deliberately kept off the request path.
type InferenceJob struct {
	ID        string     `json:"id"`
	TaskID    string     `json:"task_id"`
	Strategy  string     `json:"strategy"`
	Status    JobStatus  `json:"status"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	DoneAt    *time.Time `json:"done_at,omitempty"`
}

// ValidStrategy reports whether s names a known inference strategy.
func ValidStrategy(s string) bool {
	switch s {
	case StrategyMajorityVote, StrategyEM, StrategyPOMDP:
		return true
	}
	return false
}
