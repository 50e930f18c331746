// Package em jointly estimates worker skill (gamma) and question
// difficulty/posterior from a task's vote set via Expectation-Maximization
// over the Dai accuracy model.
package em

import (
	"math"

	"github.com/uw-hai/crowdjs-server/internal/belief"
	"github.com/uw-hai/crowdjs-server/internal/domain"
)

// Config bounds the EM fit. The iteration cap protects against
// non-termination; no convergence guarantee is asserted.
type Config struct {
	MaxIterations int
	Tolerance     float64
	// MaxSkill caps the gamma grid. Gamma has no finite maximizer for a
	// worker who is wrong more often than right, since Dai accuracy is
	// bounded below by 0.5.
	MaxSkill  float64
	SkillStep float64
	// DifficultyStep is the grid resolution for the per-question
	// difficulty refit.
	DifficultyStep float64
}

// DefaultConfig matches the reference estimator's behavior.
func DefaultConfig() Config {
	return Config{
		MaxIterations:  50,
		Tolerance:      1e-4,
		MaxSkill:       4.0,
		SkillStep:      0.05,
		DifficultyStep: 0.01,
	}
}

// QuestionEstimate is the per-question output of a fit.
type QuestionEstimate struct {
	// Posterior is P(true label = 1 | votes, skills).
	Posterior float64
	// Difficulty is the maximum-expected-likelihood difficulty in [0,1].
	Difficulty float64
}

// Estimates is the output of one EM fit. Workers or questions absent from
// the vote set do not appear; callers treat missing workers as
// domain.NeutralSkill and missing questions as not yet estimable.
type Estimates struct {
	Workers   map[string]float64
	Questions map[string]QuestionEstimate
}

// AverageSkill returns the mean worker gamma, or domain.NeutralSkill when no
// workers have been estimated. The POMDP observation model consumes this.
func (e Estimates) AverageSkill() float64 {
	if len(e.Workers) == 0 {
		return domain.NeutralSkill
	}
	var sum float64
	for _, g := range e.Workers {
		sum += g
	}
	return sum / float64(len(e.Workers))
}

// Estimate runs EM over the vote set. An empty vote set returns empty maps;
// degenerate inputs (a single worker, unanimous votes) are legal and simply
// produce weakly informed estimates.
func Estimate(votes []domain.Vote, cfg Config) Estimates {
	est := Estimates{
		Workers:   make(map[string]float64),
		Questions: make(map[string]QuestionEstimate),
	}
	if len(votes) == 0 {
		return est
	}

	// Index votes both ways. Later duplicates for the same (worker,
	// question) pair are ignored: votes are append-only and the first
	// completed answer wins.
	byQuestion := make(map[string][]domain.Vote)
	byWorker := make(map[string][]domain.Vote)
	seen := make(map[[2]string]bool)
	for _, v := range votes {
		key := [2]string{v.WorkerID, v.QuestionID}
		if seen[key] {
			continue
		}
		seen[key] = true
		byQuestion[v.QuestionID] = append(byQuestion[v.QuestionID], v)
		byWorker[v.WorkerID] = append(byWorker[v.WorkerID], v)
	}

	skills := make(map[string]float64, len(byWorker))
	for w := range byWorker {
		skills[w] = domain.NeutralSkill
	}
	difficulties := make(map[string]float64, len(byQuestion))
	for q := range byQuestion {
		difficulties[q] = 0.5
	}
	posteriors := make(map[string]float64, len(byQuestion))

	for iter := 0; iter < cfg.MaxIterations; iter++ {
		// E-step: per-question posterior over the true label.
		var maxDelta float64
		for q, qv := range byQuestion {
			p := posterior(qv, skills, difficulties[q])
			maxDelta = math.Max(maxDelta, math.Abs(p-posteriors[q]))
			posteriors[q] = p
		}

		// M-step: refit difficulties against posteriors, then skills
		// against the refreshed difficulties.
		for q, qv := range byQuestion {
			difficulties[q] = fitDifficulty(qv, posteriors[q], skills, cfg)
		}
		for w, wv := range byWorker {
			g := fitSkill(wv, posteriors, difficulties, cfg)
			maxDelta = math.Max(maxDelta, math.Abs(g-skills[w]))
			skills[w] = g
		}

		if maxDelta < cfg.Tolerance {
			break
		}
	}

	for w, g := range skills {
		est.Workers[w] = g
	}
	for q := range byQuestion {
		est.Questions[q] = QuestionEstimate{
			Posterior:  posteriors[q],
			Difficulty: difficulties[q],
		}
	}
	return est
}

// posterior computes P(label=1 | votes) by Bayes combination of per-voter
// accuracy-weighted likelihoods, in log space to avoid underflow. The label
// prior is 0.5.
func posterior(qv []domain.Vote, skills map[string]float64, difficulty float64) float64 {
	var logOdds float64
	for _, v := range qv {
		acc := clampAccuracy(belief.Accuracy(skills[v.WorkerID], difficulty))
		if v.Label == domain.LabelTrue {
			logOdds += math.Log(acc) - math.Log(1-acc)
		} else {
			logOdds += math.Log(1-acc) - math.Log(acc)
		}
	}
	return 1 / (1 + math.Exp(-logOdds))
}

// fitDifficulty grid-searches the difficulty maximizing the expected
// log-likelihood of the question's votes under the current posterior.
func fitDifficulty(qv []domain.Vote, post float64, skills map[string]float64, cfg Config) float64 {
	bestD, bestLL := 0.5, math.Inf(-1)
	for d := 0.0; d <= 1.0+1e-12; d += cfg.DifficultyStep {
		var ll float64
		for _, v := range qv {
			pCorrect := post
			if v.Label == domain.LabelFalse {
				pCorrect = 1 - post
			}
			acc := clampAccuracy(belief.Accuracy(skills[v.WorkerID], d))
			ll += pCorrect*math.Log(acc) + (1-pCorrect)*math.Log(1-acc)
		}
		if ll > bestLL {
			bestLL, bestD = ll, d
		}
	}
	return bestD
}

// fitSkill grid-searches the gamma maximizing the expected log-likelihood of
// the worker's votes across all questions they touched.
func fitSkill(wv []domain.Vote, posteriors map[string]float64, difficulties map[string]float64, cfg Config) float64 {
	bestG, bestLL := domain.NeutralSkill, math.Inf(-1)
	for g := cfg.SkillStep; g <= cfg.MaxSkill+1e-12; g += cfg.SkillStep {
		var ll float64
		for _, v := range wv {
			pCorrect := posteriors[v.QuestionID]
			if v.Label == domain.LabelFalse {
				pCorrect = 1 - pCorrect
			}
			acc := clampAccuracy(belief.Accuracy(g, difficulties[v.QuestionID]))
			ll += pCorrect*math.Log(acc) + (1-pCorrect)*math.Log(1-acc)
		}
		if ll > bestLL {
			bestLL, bestG = ll, g
		}
	}
	return bestG
}

func clampAccuracy(a float64) float64 {
	const eps = 1e-9
	return math.Min(math.Max(a, 0.5), 1-eps)
}
