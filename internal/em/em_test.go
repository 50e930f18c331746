package em

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uw-hai/crowdjs-server/internal/domain"
)

func vote(w, q string, label domain.Label) domain.Vote {
	return domain.Vote{WorkerID: w, QuestionID: q, Label: label}
}

// majorityVotes has workers A and B voting true on every question while C
// always votes false.
func majorityVotes(numQuestions int) []domain.Vote {
	var votes []domain.Vote
	for i := 0; i < numQuestions; i++ {
		q := fmt.Sprintf("q%d", i)
		votes = append(votes,
			vote("A", q, domain.LabelTrue),
			vote("B", q, domain.LabelTrue),
			vote("C", q, domain.LabelFalse),
		)
	}
	return votes
}

func TestEstimateEmpty(t *testing.T) {
	est := Estimate(nil, DefaultConfig())

	assert.Empty(t, est.Workers)
	assert.Empty(t, est.Questions)
	assert.Equal(t, domain.NeutralSkill, est.AverageSkill())
}

func TestEstimateMajorityAgreement(t *testing.T) {
	est := Estimate(majorityVotes(5), DefaultConfig())

	require.Len(t, est.Workers, 3)
	require.Len(t, est.Questions, 5)

	for q, qe := range est.Questions {
		assert.Greater(t, qe.Posterior, 0.8, "question %s should lean true", q)
		assert.GreaterOrEqual(t, qe.Difficulty, 0.0)
		assert.LessOrEqual(t, qe.Difficulty, 1.0)
	}

	// Gamma is an error exponent: the contrarian must come out with a
	// larger gamma (lower accuracy) than the agreeing workers.
	assert.Greater(t, est.Workers["C"], est.Workers["A"])
	assert.Greater(t, est.Workers["C"], est.Workers["B"])
}

func TestEstimateIdempotentOnUnchangedVotes(t *testing.T) {
	votes := majorityVotes(4)

	first := Estimate(votes, DefaultConfig())
	second := Estimate(votes, DefaultConfig())

	for w, g := range first.Workers {
		assert.InDelta(t, g, second.Workers[w], 1e-9, "worker %s", w)
	}
	for q, qe := range first.Questions {
		assert.InDelta(t, qe.Posterior, second.Questions[q].Posterior, 1e-9, "question %s", q)
		assert.InDelta(t, qe.Difficulty, second.Questions[q].Difficulty, 1e-9, "question %s", q)
	}
}

func TestEstimateSingleWorkerDegenerate(t *testing.T) {
	votes := []domain.Vote{vote("A", "q0", domain.LabelTrue)}

	est := Estimate(votes, DefaultConfig())

	require.Contains(t, est.Workers, "A")
	qe := est.Questions["q0"]
	assert.Greater(t, qe.Posterior, 0.5, "a lone true vote should tilt true")
}

func TestEstimateIgnoresDuplicateVotePairs(t *testing.T) {
	votes := []domain.Vote{
		vote("A", "q0", domain.LabelTrue),
		vote("A", "q0", domain.LabelFalse), // later duplicate, dropped
		vote("B", "q0", domain.LabelTrue),
	}

	est := Estimate(votes, DefaultConfig())
	assert.Greater(t, est.Questions["q0"].Posterior, 0.5)
}

func TestAverageSkill(t *testing.T) {
	est := Estimates{Workers: map[string]float64{"a": 0.8, "b": 1.2}}
	assert.InDelta(t, 1.0, est.AverageSkill(), 1e-12)
}

func TestMajorityVote(t *testing.T) {
	label, count, ok := MajorityVote([]domain.Label{1, 1, 0})
	require.True(t, ok)
	assert.Equal(t, domain.LabelTrue, label)
	assert.Equal(t, 2, count)

	_, _, ok = MajorityVote(nil)
	assert.False(t, ok)
}

func TestMajorityVoteByQuestion(t *testing.T) {
	votes := []domain.Vote{
		vote("A", "q0", domain.LabelTrue),
		vote("B", "q0", domain.LabelTrue),
		vote("C", "q0", domain.LabelFalse),
		vote("A", "q1", domain.LabelFalse),
	}

	labels := MajorityVoteByQuestion(votes)
	assert.Equal(t, domain.LabelTrue, labels["q0"])
	assert.Equal(t, domain.LabelFalse, labels["q1"])
}
