package pomdp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uw-hai/crowdjs-server/internal/domain"
)

func testSolverConfig() SolverConfig {
	return SolverConfig{
		Discount:        0.99,
		Timeout:         2 * time.Minute,
		MaxIterations:   100,
		Epsilon:         1e-3,
		MaxBeliefPoints: 80,
	}
}

var (
	testPolicyOnce sync.Once
	testPolicy     *Policy
	testPolicyErr  error
)

// solveTestPolicy solves the penalty -10 model once for the suite; the
// policy is immutable so sharing it across tests is safe.
func solveTestPolicy(t *testing.T) *Policy {
	t.Helper()
	testPolicyOnce.Do(func() {
		m := NewModel(11, 1.0, -1, 0, -10)
		testPolicy, testPolicyErr = Solve(context.Background(), m, testSolverConfig())
	})
	require.NoError(t, testPolicyErr)
	return testPolicy
}

// confidentBelief spreads pTrue uniformly over the true states and the rest
// over the false states.
func confidentBelief(m *Model, pTrue float64) []float64 {
	b := make([]float64, m.NumStates())
	for i := 0; i < m.NumBins; i++ {
		b[i] = pTrue / float64(m.NumBins)
		b[m.NumBins+i] = (1 - pTrue) / float64(m.NumBins)
	}
	return b
}

func TestSolveAlphaVectorDimensions(t *testing.T) {
	m := NewModel(11, 1.0, -1, 0, -10)
	p := solveTestPolicy(t)

	require.NotEmpty(t, p.Vectors)
	assert.Equal(t, m.NumStates(), p.NumStates)
	for _, v := range p.Vectors {
		assert.Len(t, v.Values, m.NumStates())
	}
}

func TestSolveUncertainBeliefRequestsLabel(t *testing.T) {
	m := NewModel(11, 1.0, -1, 0, -10)
	p := solveTestPolicy(t)

	// At the 50/50 prior, submitting loses 5 in expectation while one
	// label costs 1 and is usually informative.
	a, _, err := p.BestAction(m.StartBelief())
	require.NoError(t, err)
	assert.Equal(t, ActionRequestLabel, a)
}

func TestSolveConfidentBeliefSubmits(t *testing.T) {
	m := NewModel(11, 1.0, -1, 0, -10)
	p := solveTestPolicy(t)

	// At 95% confidence the residual error costs 0.5 in expectation,
	// less than the price of one more label.
	a, r, err := p.BestAction(confidentBelief(m, 0.95))
	require.NoError(t, err)
	assert.Equal(t, ActionSubmitTrue, a)
	assert.InDelta(t, -0.5, r, 1e-6)

	// Symmetric for a confident false belief.
	a, _, err = p.BestAction(confidentBelief(m, 0.05))
	require.NoError(t, err)
	assert.Equal(t, ActionSubmitFalse, a)
}

func TestSolveSubmitRewardTracksLabelConfidence(t *testing.T) {
	m := NewModel(11, 1.0, -1, 0, -10)
	p := solveTestPolicy(t)

	// Submit-true's expected reward must fall monotonically as belief
	// drifts from the true label toward the coin flip.
	prev := 1.0
	for _, pTrue := range []float64{0.99, 0.9, 0.75, 0.6, 0.5} {
		rewards, err := p.ActionRewards(confidentBelief(m, pTrue))
		require.NoError(t, err)
		r, ok := rewards[ActionSubmitTrue]
		require.True(t, ok)
		assert.Less(t, r, prev, "pTrue=%v", pTrue)
		prev = r
	}
}

func TestSolveTerminalBeliefWorthless(t *testing.T) {
	m := NewModel(11, 1.0, -1, 0, -10)
	p := solveTestPolicy(t)

	terminal := make([]float64, m.NumStates())
	terminal[m.Terminal()] = 1.0

	_, r, err := p.BestAction(terminal)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, r, 1e-9, "everything after submission is free")
}

func TestSolveInvalidDiscount(t *testing.T) {
	m := NewModel(11, 1.0, -1, 0, -10)
	cfg := testSolverConfig()
	cfg.Discount = 1.0

	_, err := Solve(context.Background(), m, cfg)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestSolveTimeout(t *testing.T) {
	m := NewModel(11, 1.0, -1, 0, -10)
	cfg := testSolverConfig()
	cfg.Timeout = -time.Second

	_, err := Solve(context.Background(), m, cfg)
	assert.True(t, errors.Is(err, domain.ErrSolverTimeout))
}

func TestSolveRespectsContext(t *testing.T) {
	m := NewModel(11, 1.0, -1, 0, -10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Solve(ctx, m, testSolverConfig())
	assert.Error(t, err)
}
