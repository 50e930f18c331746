package pomdp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uw-hai/crowdjs-server/internal/domain"
)

func TestActionRewardsMaxPerAction(t *testing.T) {
	p := &Policy{
		NumStates: 3,
		Vectors: []AlphaVector{
			{Action: ActionRequestLabel, Values: []float64{-1, -1, 0}},
			{Action: ActionRequestLabel, Values: []float64{-3, -3, 0}},
			{Action: ActionSubmitTrue, Values: []float64{0, -10, 0}},
		},
	}
	b := []float64{0.5, 0.5, 0}

	rewards, err := p.ActionRewards(b)
	require.NoError(t, err)

	assert.InDelta(t, -1.0, rewards[ActionRequestLabel], 1e-12, "keeps the max per action")
	assert.InDelta(t, -5.0, rewards[ActionSubmitTrue], 1e-12)
}

func TestActionRewardsMaskedFilter(t *testing.T) {
	p := &Policy{
		NumStates: 3,
		Vectors: []AlphaVector{
			{Action: ActionSubmitTrue, Values: []float64{100, 0, 0}, Masked: []bool{false, true, false}},
			{Action: ActionSubmitTrue, Values: []float64{-2, -2, 0}},
		},
	}

	// Positive mass on the masked state filters the first vector out.
	rewards, err := p.ActionRewards([]float64{0.5, 0.5, 0})
	require.NoError(t, err)
	assert.InDelta(t, -2.0, rewards[ActionSubmitTrue], 1e-12)

	// No mass on the masked state: the vector applies, masked entry reads
	// as zero.
	rewards, err = p.ActionRewards([]float64{1, 0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 100.0, rewards[ActionSubmitTrue], 1e-12)
}

func TestActionRewardsDimensionMismatch(t *testing.T) {
	p := &Policy{NumStates: 3, Vectors: []AlphaVector{{Action: ActionSubmitTrue, Values: []float64{0, 0, 0}}}}

	_, err := p.ActionRewards([]float64{1, 0})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestBestActionUnique(t *testing.T) {
	p := &Policy{
		NumStates: 2,
		Vectors: []AlphaVector{
			{Action: ActionRequestLabel, Values: []float64{-1, -1}},
			{Action: ActionSubmitTrue, Values: []float64{-5, -5}},
		},
	}

	a, r, err := p.BestAction([]float64{0.5, 0.5})
	require.NoError(t, err)
	assert.Equal(t, ActionRequestLabel, a)
	assert.InDelta(t, -1.0, r, 1e-12)
}

func TestBestActionTieBreaksUniformly(t *testing.T) {
	p := &Policy{
		NumStates: 2,
		Vectors: []AlphaVector{
			{Action: ActionSubmitTrue, Values: []float64{-2, -2}},
			{Action: ActionSubmitFalse, Values: []float64{-2, -2}},
		},
	}
	b := []float64{0.5, 0.5}

	// Any tied action is acceptable; over many draws both should appear.
	seen := make(map[Action]int)
	for i := 0; i < 200; i++ {
		a, r, err := p.BestAction(b)
		require.NoError(t, err)
		assert.InDelta(t, -2.0, r, 1e-12)
		seen[a]++
	}
	assert.Len(t, seen, 2, "both tied actions should be chosen eventually")
}

func TestBestActionNoApplicableVectors(t *testing.T) {
	p := &Policy{
		NumStates: 2,
		Vectors: []AlphaVector{
			{Action: ActionSubmitTrue, Values: []float64{1, 0}, Masked: []bool{false, true}},
		},
	}

	_, _, err := p.BestAction([]float64{0, 1})
	assert.Error(t, err)
}
