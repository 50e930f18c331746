package domain

// Decision classifies a question from the policy's point of view.
type Decision string

const (
	// DecisionNeedsMoreLabels means the policy wants another label before
	// committing to an answer.
	DecisionNeedsMoreLabels Decision = "needs_more_labels"
	// DecisionSubmitTrue / DecisionSubmitFalse mean the policy would
	// submit that label now.
	DecisionSubmitTrue  Decision = "submit_true"
	DecisionSubmitFalse Decision = "submit_false"
)

// VoteDetail is one vote annotated with the voter's current skill estimate,
// as exposed by the status endpoint.
type VoteDetail struct {
	WorkerID         string  `json:"worker_id"`
	WorkerPlatformID string  `json:"worker_platform_id,omitempty"`
	EstimatedSkill   float64 `json:"est_skill"`
	Value            Label   `json:"value"`
}

// QuestionStatus is the decision engine's view of one question.
type QuestionStatus struct {
	QuestionID     string             `json:"question_id"`
	Decision       Decision           `json:"decision"`
	BestAction     string             `json:"best_action"`
	BestReward     float64            `json:"best_expected_reward"`
	ActionRewards  map[string]float64 `json:"action_rewards"`
	Belief         []float64          `json:"belief,omitempty"`
	Votes          []VoteDetail       `json:"votes,omitempty"`
	PolicyFallback bool               `json:"policy_fallback,omitempty"`
}

// TaskStatus maps every question in a task to its current status.
type TaskStatus struct {
	TaskID       string                    `json:"task_id"`
	AverageSkill float64                   `json:"average_skill"`
	Questions    map[string]QuestionStatus `json:"questions"`
}

// WorkerMetrics summarizes one worker's activity on a task for dashboards:
// the EM skill estimate plus raw agreement with the per-question majority.
type WorkerMetrics struct {
	WorkerID       string  `json:"worker_id"`
	EstimatedSkill float64 `json:"est_skill"`
	Votes          int     `json:"votes"`
	MajorityVotes  int     `json:"majority_votes"`
	AgreementRate  float64 `json:"agreement_rate"`
}
