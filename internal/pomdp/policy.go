package pomdp

import (
	"fmt"
	"math/rand/v2"

	"github.com/uw-hai/crowdjs-server/internal/domain"
)

// AlphaVector is one expected-value hyperplane over belief space, tagged
// with the action that is optimal somewhere on the simplex.
type AlphaVector struct {
	Action Action    `json:"action"`
	Values []float64 `json:"values"`

	// Masked marks entries that carry no value for their state, a quirk
	// of some solver output formats. A masked vector only applies to
	// beliefs with zero mass on every masked state; masked entries read
	// as zero. Policies produced by Solve carry no masks, but cached
	// policies written by other solvers may.
	Masked []bool `json:"masked,omitempty"`
}

// applies reports whether the vector may be evaluated against b: a vector
// is filtered out when b puts positive mass on a masked state.
func (v *AlphaVector) applies(b []float64) bool {
	if len(v.Masked) == 0 {
		return true
	}
	for s, masked := range v.Masked {
		if masked && b[s] > 0 {
			return false
		}
	}
	return true
}

func (v *AlphaVector) dot(b []float64) float64 {
	var sum float64
	for s, p := range b {
		if len(v.Masked) > 0 && v.Masked[s] {
			continue
		}
		sum += p * v.Values[s]
	}
	return sum
}

// Policy is an immutable set of alpha vectors produced by an offline solve.
// Every vector has the same dimensionality as the belief vectors it will be
// evaluated against.
type Policy struct {
	NumStates int           `json:"num_states"`
	Vectors   []AlphaVector `json:"vectors"`
}

// ActionRewards returns, per action, the maximum expected reward over that
// action's applicable alpha vectors at belief b. Actions with no applicable
// vector are absent from the result.
func (p *Policy) ActionRewards(b []float64) (map[Action]float64, error) {
	if len(b) != p.NumStates {
		return nil, fmt.Errorf("%w: belief has %d states, policy expects %d",
			domain.ErrInvalidInput, len(b), p.NumStates)
	}
	rewards := make(map[Action]float64)
	for i := range p.Vectors {
		v := &p.Vectors[i]
		if !v.applies(b) {
			continue
		}
		r := v.dot(b)
		if cur, ok := rewards[v.Action]; !ok || r > cur {
			rewards[v.Action] = r
		}
	}
	return rewards, nil
}

// BestAction returns the argmax action over ActionRewards. Exact ties break
// by uniform random choice among the tied actions, deliberately avoiding a
// systematic bias toward any fixed action index.
func (p *Policy) BestAction(b []float64) (Action, float64, error) {
	rewards, err := p.ActionRewards(b)
	if err != nil {
		return 0, 0, err
	}
	if len(rewards) == 0 {
		return 0, 0, fmt.Errorf("%w: no alpha vector applies to belief", domain.ErrInvalidInput)
	}

	best := make([]Action, 0, len(Actions))
	var bestReward float64
	// Iterate in fixed action order so the tied set is deterministic even
	// though the final choice is not.
	for _, a := range Actions {
		r, ok := rewards[a]
		if !ok {
			continue
		}
		switch {
		case len(best) == 0 || r > bestReward:
			best = best[:0]
			best = append(best, a)
			bestReward = r
		case r == bestReward:
			best = append(best, a)
		}
	}
	return best[rand.IntN(len(best))], bestReward, nil
}
