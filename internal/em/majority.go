package em

import "github.com/uw-hai/crowdjs-server/internal/domain"

// MajorityVote reduces a ballot to its most common label and that label's
// count. An exact tie resolves to true, matching how a 0.5 posterior rounds.
// The second return is false for an empty ballot.
func MajorityVote(ballot []domain.Label) (domain.Label, int, bool) {
	if len(ballot) == 0 {
		return 0, 0, false
	}
	var trues int
	for _, l := range ballot {
		if l == domain.LabelTrue {
			trues++
		}
	}
	falses := len(ballot) - trues
	if trues >= falses {
		return domain.LabelTrue, trues, true
	}
	return domain.LabelFalse, falses, true
}

// MajorityVoteByQuestion applies MajorityVote to every question that has at
// least one vote.
func MajorityVoteByQuestion(votes []domain.Vote) map[string]domain.Label {
	ballots := make(map[string][]domain.Label)
	for _, v := range votes {
		ballots[v.QuestionID] = append(ballots[v.QuestionID], v.Label)
	}
	out := make(map[string]domain.Label, len(ballots))
	for q, b := range ballots {
		if label, _, ok := MajorityVote(b); ok {
			out[q] = label
		}
	}
	return out
}
