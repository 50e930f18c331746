package pomdp

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/uw-hai/crowdjs-server/internal/domain"
)

// SolverConfig bounds a point-based value iteration run.
type SolverConfig struct {
	// Discount must be < 1.0.
	Discount float64
	// Timeout caps wall-clock time. If it expires before a single sweep
	// completes, Solve fails with domain.ErrSolverTimeout; otherwise the
	// best policy so far is returned.
	Timeout time.Duration
	// MaxIterations caps backup sweeps over the belief set.
	MaxIterations int
	// Epsilon stops iteration once no belief point improves by more.
	Epsilon float64
	// MaxBeliefPoints caps the expanded belief set.
	MaxBeliefPoints int
}

// DefaultSolverConfig mirrors the reference controller's parameters.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		Discount:        0.99,
		Timeout:         60 * time.Second,
		MaxIterations:   200,
		Epsilon:         1e-3,
		MaxBeliefPoints: 200,
	}
}

// Solve runs point-based value iteration over a belief set reachable from
// the model's start distribution and returns the resulting policy: a finite
// set of action-tagged alpha vectors.
//
// Solving is expensive and must stay off the request-serving path; callers
// go through a Provider, which consults the disk cache first.
func Solve(ctx context.Context, m *Model, cfg SolverConfig) (*Policy, error) {
	if cfg.Discount >= 1.0 || cfg.Discount <= 0 {
		return nil, fmt.Errorf("%w: discount must be in (0,1), got %v", domain.ErrInvalidInput, cfg.Discount)
	}
	deadline := time.Now().Add(cfg.Timeout)

	points := expandBeliefs(m, cfg.MaxBeliefPoints)

	// Seed with the value of the always-request policy: a sound lower
	// bound (request never incurs the misclassification penalty) that
	// leaves the terminal state exactly valued at zero.
	seed := AlphaVector{Action: ActionRequestLabel, Values: make([]float64, m.NumStates())}
	for s := 0; s < m.NumStates(); s++ {
		if !m.IsTerminal(s) {
			seed.Values[s] = m.RewardRequest / (1 - cfg.Discount)
		}
	}
	vectors := []AlphaVector{seed}

	completed := 0
	for iter := 0; iter < cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			break
		}

		next := make([]AlphaVector, 0, len(points))
		improvement := 0.0
		for _, b := range points {
			alpha := backup(m, b, vectors, cfg.Discount)
			next = appendUnique(next, alpha)
			improvement = math.Max(improvement, alpha.dot(b)-value(vectors, b))
		}
		vectors = next
		completed++

		if improvement < cfg.Epsilon {
			break
		}
	}

	if completed == 0 {
		return nil, fmt.Errorf("%w: no sweep finished within %v", domain.ErrSolverTimeout, cfg.Timeout)
	}
	return &Policy{NumStates: m.NumStates(), Vectors: vectors}, nil
}

// backup computes the one-step lookahead alpha vector at belief b against
// the current vector set and tags it with the maximizing action.
func backup(m *Model, b []float64, vectors []AlphaVector, discount float64) AlphaVector {
	n := m.NumStates()
	best := AlphaVector{}
	bestVal := math.Inf(-1)

	for _, a := range Actions {
		vals := make([]float64, n)
		for s := 0; s < n; s++ {
			vals[s] = m.ExpectedReward(s, a)
		}
		for o := 0; o < NumObservations; o++ {
			g := bestProjection(m, b, vectors, a, o)
			for s := 0; s < n; s++ {
				vals[s] += discount * g[s]
			}
		}

		alpha := AlphaVector{Action: a, Values: vals}
		if v := alpha.dot(b); v > bestVal {
			bestVal = v
			best = alpha
		}
	}
	return best
}

// bestProjection returns g(s) = sum_{s'} T(s,a,s') O(s',a,o) alpha(s') for
// the alpha vector maximizing its inner product with b. Transitions are
// deterministic, so the projection collapses to a single end state per s.
func bestProjection(m *Model, b []float64, vectors []AlphaVector, a Action, o int) []float64 {
	n := m.NumStates()
	bestDot := math.Inf(-1)
	var best []float64

	for i := range vectors {
		alpha := vectors[i].Values
		g := make([]float64, n)
		for s := 0; s < n; s++ {
			s1 := s
			if m.IsTerminal(s) || a != ActionRequestLabel {
				s1 = m.Terminal()
			}
			g[s] = m.Observation(s1, a, o) * alpha[s1]
		}
		var dot float64
		for s, p := range b {
			dot += p * g[s]
		}
		if dot > bestDot {
			bestDot = dot
			best = g
		}
	}
	return best
}

// expandBeliefs grows the belief set reachable from the start distribution
// by applying Bayes updates for both observations under request-label,
// breadth first, deduplicating near-identical points. The terminal belief
// is always included so submission continuations get valued.
func expandBeliefs(m *Model, maxPoints int) [][]float64 {
	start := m.StartBelief()
	terminal := make([]float64, m.NumStates())
	terminal[m.Terminal()] = 1.0

	points := [][]float64{start, terminal}
	frontier := [][]float64{start}

	for len(points) < maxPoints && len(frontier) > 0 {
		var next [][]float64
		for _, b := range frontier {
			for o := 0; o < NumObservations; o++ {
				b1, ok := observationUpdate(m, b, o)
				if !ok || contains(points, b1) {
					continue
				}
				points = append(points, b1)
				next = append(next, b1)
				if len(points) >= maxPoints {
					return points
				}
			}
		}
		frontier = next
	}
	return points
}

// observationUpdate is the Bayes filter for one observation under
// request-label. Returns false for unreachable observations.
func observationUpdate(m *Model, b []float64, o int) ([]float64, bool) {
	n := m.NumStates()
	out := make([]float64, n)
	var norm float64
	for s := 0; s < n; s++ {
		out[s] = m.Observation(s, ActionRequestLabel, o) * b[s]
		norm += out[s]
	}
	if norm < 1e-12 {
		return nil, false
	}
	for s := range out {
		out[s] /= norm
	}
	return out, true
}

func value(vectors []AlphaVector, b []float64) float64 {
	best := math.Inf(-1)
	for i := range vectors {
		if v := vectors[i].dot(b); v > best {
			best = v
		}
	}
	return best
}

func appendUnique(vectors []AlphaVector, alpha AlphaVector) []AlphaVector {
	for i := range vectors {
		if vectors[i].Action != alpha.Action {
			continue
		}
		if vectorsEqual(vectors[i].Values, alpha.Values) {
			return vectors
		}
	}
	return append(vectors, alpha)
}

func vectorsEqual(a, b []float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-9 {
			return false
		}
	}
	return true
}

func contains(points [][]float64, b []float64) bool {
	for _, p := range points {
		if vectorsEqual(p, b) {
			return true
		}
	}
	return false
}
