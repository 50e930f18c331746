package controller

import (
	"context"
	"errors"
	"sort"

	"github.com/uw-hai/crowdjs-server/internal/belief"
	"github.com/uw-hai/crowdjs-server/internal/domain"
	"github.com/uw-hai/crowdjs-server/internal/em"
	"github.com/uw-hai/crowdjs-server/internal/pomdp"
)

// evidence is a consistent snapshot of one task's votes and the skill
// estimates for the workers who cast them.
type evidence struct {
	byQuestion   map[string][]domain.Vote
	skills       map[string]float64
	averageSkill float64
}

func (c *Controller) evidence(ctx context.Context, taskID string) (*evidence, error) {
	votes, err := c.answers.VotesByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	byQuestion := make(map[string][]domain.Vote)
	voterSet := make(map[string]bool)
	for _, v := range votes {
		byQuestion[v.QuestionID] = append(byQuestion[v.QuestionID], v)
		voterSet[v.WorkerID] = true
	}

	voters := make([]string, 0, len(voterSet))
	for id := range voterSet {
		voters = append(voters, id)
	}

	skills, err := c.skills.Skills(ctx, voters, domain.StrategyEM)
	if err != nil {
		return nil, err
	}

	avg := domain.NeutralSkill
	if len(voters) > 0 {
		var sum float64
		for _, id := range voters {
			sum += voterSkill(skills, id)
		}
		avg = sum / float64(len(voters))
	}

	return &evidence{byQuestion: byQuestion, skills: skills, averageSkill: avg}, nil
}

func voterSkill(skills map[string]float64, workerID string) float64 {
	if s, ok := skills[workerID]; ok {
		return s
	}
	return domain.NeutralSkill
}

// belief folds a question's votes into a posterior over (label, difficulty)
// states, starting from the uniform prior.
func (e *evidence) belief(questionID string, numBins int) []float64 {
	b := belief.Init(belief.NumLabels, numBins)
	bins := belief.Bins(numBins)
	for _, v := range e.byQuestion[questionID] {
		next, err := belief.Update(b, int(v.Label), voterSkill(e.skills, v.WorkerID), bins)
		if err != nil {
			continue
		}
		b = next
	}
	return b
}

func decisionFor(action pomdp.Action) domain.Decision {
	switch action {
	case pomdp.ActionSubmitTrue:
		return domain.DecisionSubmitTrue
	case pomdp.ActionSubmitFalse:
		return domain.DecisionSubmitFalse
	}
	return domain.DecisionNeedsMoreLabels
}

// Status reports the policy's current view of every question in the task:
// recomputed belief, per-action expected rewards, and the chosen decision.
// When the solver cannot produce a policy in time, every question falls back
// to requesting another label and the snapshot says so.
func (c *Controller) Status(ctx context.Context, taskID string) (*domain.TaskStatus, error) {
	if _, err := c.tasks.GetByID(ctx, taskID); err != nil {
		return nil, err
	}

	questions, err := c.questions.ListByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	ev, err := c.evidence(ctx, taskID)
	if err != nil {
		return nil, err
	}

	var policy *pomdp.Policy
	fallback := false
	policy, err = c.policies.Policy(ctx, ev.averageSkill)
	if err != nil {
		if !errors.Is(err, domain.ErrSolverTimeout) {
			return nil, err
		}
		fallback = true
	}

	status := &domain.TaskStatus{
		TaskID:       taskID,
		AverageSkill: ev.averageSkill,
		Questions:    make(map[string]domain.QuestionStatus, len(questions)),
	}

	for _, q := range questions {
		b := ev.belief(q.ID, c.numBins)
		qs := domain.QuestionStatus{
			QuestionID: q.ID,
			Belief:     b,
			Votes:      voteDetails(ev, q.ID),
		}

		if fallback {
			qs.Decision = domain.DecisionNeedsMoreLabels
			qs.BestAction = pomdp.ActionRequestLabel.String()
			qs.PolicyFallback = true
			status.Questions[q.ID] = qs
			continue
		}

		rewards, err := policy.ActionRewards(b)
		if err != nil {
			return nil, err
		}
		action, best, err := policy.BestAction(b)
		if err != nil {
			return nil, err
		}

		qs.Decision = decisionFor(action)
		qs.BestAction = action.String()
		qs.BestReward = best
		qs.ActionRewards = make(map[string]float64, len(rewards))
		for a, r := range rewards {
			qs.ActionRewards[a.String()] = r
		}
		status.Questions[q.ID] = qs
	}

	return status, nil
}

func voteDetails(ev *evidence, questionID string) []domain.VoteDetail {
	votes := ev.byQuestion[questionID]
	details := make([]domain.VoteDetail, 0, len(votes))
	for _, v := range votes {
		details = append(details, domain.VoteDetail{
			WorkerID:       v.WorkerID,
			EstimatedSkill: voterSkill(ev.skills, v.WorkerID),
			Value:          v.Label,
		})
	}
	return details
}

// WorkerMetrics summarizes each voter's activity on the task: vote count,
// agreement with the per-question majority, and the persisted skill
// estimate.
func (c *Controller) WorkerMetrics(ctx context.Context, taskID string) ([]domain.WorkerMetrics, error) {
	if _, err := c.tasks.GetByID(ctx, taskID); err != nil {
		return nil, err
	}

	votes, err := c.answers.VotesByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	majorities := em.MajorityVoteByQuestion(votes)

	counts := make(map[string]*domain.WorkerMetrics)
	for _, v := range votes {
		m, ok := counts[v.WorkerID]
		if !ok {
			m = &domain.WorkerMetrics{WorkerID: v.WorkerID}
			counts[v.WorkerID] = m
		}
		m.Votes++
		if majorities[v.QuestionID] == v.Label {
			m.MajorityVotes++
		}
	}

	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	skills, err := c.skills.Skills(ctx, ids, domain.StrategyEM)
	if err != nil {
		return nil, err
	}

	metrics := make([]domain.WorkerMetrics, 0, len(ids))
	for _, id := range ids {
		m := counts[id]
		m.EstimatedSkill = voterSkill(skills, id)
		if m.Votes > 0 {
			m.AgreementRate = float64(m.MajorityVotes) / float64(m.Votes)
		}
		metrics = append(metrics, *m)
	}

	return metrics, nil
}
