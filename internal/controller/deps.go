// Package controller drives the label-request loop: decide which question a
// worker should see next, fold submitted labels back into the evidence, and
// report the policy's view of every question in a task.
package controller

import (
	"context"

	"github.com/uw-hai/crowdjs-server/internal/domain"
	"github.com/uw-hai/crowdjs-server/internal/pomdp"
)

// TaskSource reads task metadata.
type TaskSource interface {
	GetByID(ctx context.Context, id string) (*domain.Task, error)
}

// QuestionSource reads question metadata.
type QuestionSource interface {
	GetByID(ctx context.Context, id string) (*domain.Question, error)
	ListByTask(ctx context.Context, taskID string) ([]*domain.Question, error)
}

// AnswerStore persists assignment lifecycle rows and serves the vote set.
type AnswerStore interface {
	Create(ctx context.Context, a *domain.Answer) error
	Outstanding(ctx context.Context, taskID, workerID string) (*domain.Answer, error)
	Complete(ctx context.Context, answerID string, value domain.Label) (bool, error)
	MarkRequeued(ctx context.Context, answerID string) (bool, error)
	CountAlive(ctx context.Context, taskID string) (int, error)
	VotesByTask(ctx context.Context, taskID string) ([]domain.Vote, error)
}

// SkillSource reads persisted per-worker skill estimates.
type SkillSource interface {
	Skills(ctx context.Context, workerIDs []string, strategy string) (map[string]float64, error)
}

// PolicyProvider hands out a solved policy for the given average skill.
type PolicyProvider interface {
	Policy(ctx context.Context, averageSkill float64) (*pomdp.Policy, error)
}

// JobEnqueuer records an inference job and hands it to the background
// worker.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, taskID, strategy string) (*domain.InferenceJob, error)
}

// Notifier delivers answer events to the task's callback endpoint.
type Notifier interface {
	AnswerCompleted(ctx context.Context, task *domain.Task, answer *domain.Answer) error
}
