package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/uw-hai/crowdjs-server/internal/domain"
)

type InferenceJobRepo struct {
	db *PostgresDB
}

func NewInferenceJobRepo(db *PostgresDB) *InferenceJobRepo {
	return &InferenceJobRepo{db: db}
}

func (r *InferenceJobRepo) Create(ctx context.Context, job *domain.InferenceJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.Status == "" {
		job.Status = domain.JobPending
	}

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO inference_jobs (id, task_id, strategy, status, error, created_at, started_at, done_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, job.ID, job.TaskID, job.Strategy, job.Status, job.Error, job.CreatedAt, job.StartedAt, job.DoneAt)

	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}

	return nil
}

func (r *InferenceJobRepo) GetByID(ctx context.Context, id string) (*domain.InferenceJob, error) {
	var job domain.InferenceJob

	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, task_id, strategy, status, error, created_at, started_at, done_at
		FROM inference_jobs
		WHERE id = $1
	`, id).Scan(&job.ID, &job.TaskID, &job.Strategy, &job.Status, &job.Error,
		&job.CreatedAt, &job.StartedAt, &job.DoneAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	return &job, nil
}

func (r *InferenceJobRepo) MarkRunning(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, domain.JobRunning, "")
}

func (r *InferenceJobRepo) MarkCompleted(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, domain.JobCompleted, "")
}

func (r *InferenceJobRepo) MarkFailed(ctx context.Context, id, errMsg string) error {
	return r.setStatus(ctx, id, domain.JobFailed, errMsg)
}

func (r *InferenceJobRepo) setStatus(ctx context.Context, id string, status domain.JobStatus, errMsg string) error {
	now := time.Now()
	var started, done *time.Time
	switch status {
	case domain.JobRunning:
		started = &now
	case domain.JobCompleted, domain.JobFailed:
		done = &now
	}

	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE inference_jobs
		SET status = $2,
			error = $3,
			started_at = COALESCE($4, started_at),
			done_at = COALESCE($5, done_at)
		WHERE id = $1
	`, id, status, errMsg, started, done)

	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	return nil
}

func (r *InferenceJobRepo) ListByTask(ctx context.Context, taskID string) ([]*domain.InferenceJob, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, task_id, strategy, status, error, created_at, started_at, done_at
		FROM inference_jobs
		WHERE task_id = $1
		ORDER BY created_at DESC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.InferenceJob
	for rows.Next() {
		var job domain.InferenceJob
		if err := rows.Scan(&job.ID, &job.TaskID, &job.Strategy, &job.Status, &job.Error,
			&job.CreatedAt, &job.StartedAt, &job.DoneAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		jobs = append(jobs, &job)
	}

	return jobs, nil
}
