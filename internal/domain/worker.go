package domain

import "time"

// NeutralSkill is the gamma assumed for a worker before EM has estimated one.
// Lower gamma means higher accuracy in the Dai model.
const NeutralSkill = 1.0

type Worker struct {
	ID           string `json:"id"`
	PlatformID   string `json:"platform_id"`
	PlatformName string `json:"platform_name"`

	// InferenceResults maps strategy name -> most recent skill estimate.
	InferenceResults map[string]WorkerInference `json:"inference_results,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// WorkerInference is one strategy's latest skill estimate for a worker.
type WorkerInference struct {
	Timestamp time.Time `json:"timestamp"`
	Skill     float64   `json:"skill"`
}

// Skill returns the worker's estimated gamma under the named strategy,
// falling back to NeutralSkill when no estimate exists yet.
func (w *Worker) Skill(strategy string) float64 {
	if res, ok := w.InferenceResults[strategy]; ok {
		return res.Skill
	}
	return NeutralSkill
}
