// Package pomdp defines the labeling decision process from Dai et al.'s
// AIJ paper, an offline point-based solver for it, and the policy evaluator
// used at assignment time.
//
// States are (difficulty-bin, label) pairs plus one absorbing terminal
// state entered on submission. True-label states occupy the low indices so
// that state order matches the belief vector layout.
package pomdp

import (
	"github.com/uw-hai/crowdjs-server/internal/belief"
)

type Action int

const (
	// ActionRequestLabel asks the crowd for one more label.
	ActionRequestLabel Action = iota
	// ActionSubmitTrue and ActionSubmitFalse commit to a final answer and
	// move the process to the terminal state.
	ActionSubmitTrue
	ActionSubmitFalse
)

// Actions lists every action in index order; a Policy's alpha vectors are
// tagged with these indices.
var Actions = []Action{ActionRequestLabel, ActionSubmitTrue, ActionSubmitFalse}

func (a Action) String() string {
	switch a {
	case ActionRequestLabel:
		return "request-label"
	case ActionSubmitTrue:
		return "submit-true"
	case ActionSubmitFalse:
		return "submit-false"
	}
	return "unknown"
}

// NumObservations is the observation alphabet size: a label is 0 or 1.
const NumObservations = 2

// Model is the finite POMDP parameterized by the crowd's average worker
// skill and the submission rewards. It is re-instantiated whenever the
// tracked average skill crosses a cache bucket, since the observation
// function depends on it.
type Model struct {
	NumBins         int
	AverageSkill    float64
	RewardRequest   float64
	RewardCorrect   float64
	RewardIncorrect float64

	bins []float64
}

func NewModel(numBins int, averageSkill, rewardRequest, rewardCorrect, rewardIncorrect float64) *Model {
	return &Model{
		NumBins:         numBins,
		AverageSkill:    averageSkill,
		RewardRequest:   rewardRequest,
		RewardCorrect:   rewardCorrect,
		RewardIncorrect: rewardIncorrect,
		bins:            belief.Bins(numBins),
	}
}

// NumStates includes the terminal state.
func (m *Model) NumStates() int { return 2*m.NumBins + 1 }

// Terminal is the index of the absorbing terminal state.
func (m *Model) Terminal() int { return 2 * m.NumBins }

func (m *Model) IsTerminal(s int) bool { return s == m.Terminal() }

// LabelTrue reports whether non-terminal state s carries true label 1.
func (m *Model) LabelTrue(s int) bool { return s < m.NumBins }

// Difficulty returns non-terminal state s's difficulty bin value.
func (m *Model) Difficulty(s int) float64 { return m.bins[s%m.NumBins] }

// Start is the uniform prior: label prior 0.5, difficulty uniform, zero at
// terminal.
func (m *Model) Start(s int) float64 {
	if m.IsTerminal(s) {
		return 0
	}
	return 1 / float64(m.NumStates()-1)
}

// StartBelief materializes Start as a belief vector.
func (m *Model) StartBelief() []float64 {
	b := make([]float64, m.NumStates())
	for s := range b {
		b[s] = m.Start(s)
	}
	return b
}

// Transition is deterministic: requesting a label stays put, submitting
// moves to terminal, and terminal absorbs.
func (m *Model) Transition(s int, a Action, s1 int) float64 {
	switch {
	case m.IsTerminal(s):
		if m.IsTerminal(s1) {
			return 1
		}
		return 0
	case a == ActionSubmitTrue || a == ActionSubmitFalse:
		if m.IsTerminal(s1) {
			return 1
		}
		return 0
	default: // request-label
		if s == s1 {
			return 1
		}
		return 0
	}
}

// Observation is the Dai accuracy model applied to the end state's
// difficulty and the average worker skill, symmetric under label mismatch.
// The terminal state deterministically "observes" 1 so the distribution
// still sums to one after submission.
func (m *Model) Observation(s1 int, _ Action, o int) float64 {
	if m.IsTerminal(s1) {
		if o == 1 {
			return 1
		}
		return 0
	}
	pCorrect := belief.Accuracy(m.AverageSkill, m.Difficulty(s1))
	matches := (o == 1) == m.LabelTrue(s1)
	if matches {
		return pCorrect
	}
	return 1 - pCorrect
}

// Reward depends only on the origin state and action: requesting a label
// has a fixed cost, a correct submit is free, an incorrect submit pays the
// misclassification penalty, and everything from the terminal state is free.
func (m *Model) Reward(s int, a Action, _ int) float64 {
	if m.IsTerminal(s) {
		return 0
	}
	switch a {
	case ActionRequestLabel:
		return m.RewardRequest
	case ActionSubmitTrue:
		if m.LabelTrue(s) {
			return m.RewardCorrect
		}
		return m.RewardIncorrect
	case ActionSubmitFalse:
		if !m.LabelTrue(s) {
			return m.RewardCorrect
		}
		return m.RewardIncorrect
	}
	return 0
}

// ExpectedReward folds Reward over the (deterministic) transition for s,a.
func (m *Model) ExpectedReward(s int, a Action) float64 {
	if m.IsTerminal(s) {
		return 0
	}
	if a == ActionRequestLabel {
		return m.Reward(s, a, s)
	}
	return m.Reward(s, a, m.Terminal())
}
