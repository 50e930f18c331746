package pomdp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testModel() *Model {
	return NewModel(11, 1.0, -1, 0, -50)
}

func TestStartDistribution(t *testing.T) {
	m := testModel()
	b := m.StartBelief()

	require.Len(t, b, 23)
	var sum float64
	for _, p := range b {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	assert.Equal(t, 0.0, b[m.Terminal()])
}

func TestTransitionRowsSumToOne(t *testing.T) {
	m := testModel()
	for s := 0; s < m.NumStates(); s++ {
		for _, a := range Actions {
			var sum float64
			for s1 := 0; s1 < m.NumStates(); s1++ {
				sum += m.Transition(s, a, s1)
			}
			assert.InDelta(t, 1.0, sum, 1e-12, "s=%d a=%s", s, a)
		}
	}
}

func TestTransitionShape(t *testing.T) {
	m := testModel()

	// Requesting stays put; submitting absorbs.
	assert.Equal(t, 1.0, m.Transition(3, ActionRequestLabel, 3))
	assert.Equal(t, 0.0, m.Transition(3, ActionRequestLabel, m.Terminal()))
	assert.Equal(t, 1.0, m.Transition(3, ActionSubmitTrue, m.Terminal()))
	assert.Equal(t, 1.0, m.Transition(3, ActionSubmitFalse, m.Terminal()))
	assert.Equal(t, 1.0, m.Transition(m.Terminal(), ActionRequestLabel, m.Terminal()))
}

func TestObservationRowsSumToOne(t *testing.T) {
	m := testModel()
	for s1 := 0; s1 < m.NumStates(); s1++ {
		for _, a := range Actions {
			var sum float64
			for o := 0; o < NumObservations; o++ {
				sum += m.Observation(s1, a, o)
			}
			assert.InDelta(t, 1.0, sum, 1e-12, "s1=%d a=%s", s1, a)
		}
	}
}

func TestObservationInformativenessDropsWithDifficulty(t *testing.T) {
	m := testModel()

	// State 0 is (true, easiest); state NumBins-1 is (true, hardest).
	easy := m.Observation(0, ActionRequestLabel, 1)
	hard := m.Observation(m.NumBins-1, ActionRequestLabel, 1)

	assert.Equal(t, 1.0, easy, "easiest questions are answered perfectly")
	assert.InDelta(t, 0.5, hard, 1e-12, "hardest questions are coin flips")
	for s := 1; s < m.NumBins; s++ {
		assert.Less(t, m.Observation(s, ActionRequestLabel, 1),
			m.Observation(s-1, ActionRequestLabel, 1))
	}
}

func TestRewards(t *testing.T) {
	m := testModel()
	trueState := 2
	falseState := m.NumBins + 2

	assert.Equal(t, -1.0, m.Reward(trueState, ActionRequestLabel, trueState))
	assert.Equal(t, 0.0, m.Reward(trueState, ActionSubmitTrue, m.Terminal()))
	assert.Equal(t, -50.0, m.Reward(trueState, ActionSubmitFalse, m.Terminal()))
	assert.Equal(t, 0.0, m.Reward(falseState, ActionSubmitFalse, m.Terminal()))
	assert.Equal(t, -50.0, m.Reward(falseState, ActionSubmitTrue, m.Terminal()))

	for _, a := range Actions {
		assert.Equal(t, 0.0, m.Reward(m.Terminal(), a, m.Terminal()), "terminal actions are free")
	}
}

func TestStateGeometry(t *testing.T) {
	m := testModel()

	assert.True(t, m.LabelTrue(0))
	assert.True(t, m.LabelTrue(m.NumBins-1))
	assert.False(t, m.LabelTrue(m.NumBins))
	assert.Equal(t, 0.0, m.Difficulty(0))
	assert.Equal(t, 1.0, m.Difficulty(m.NumBins-1))
	assert.Equal(t, 0.0, m.Difficulty(m.NumBins))
	assert.True(t, m.IsTerminal(m.NumStates()-1))
}
