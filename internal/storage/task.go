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

type TaskRepo struct {
	db *PostgresDB
}

func NewTaskRepo(db *PostgresDB) *TaskRepo {
	return &TaskRepo{db: db}
}

func (r *TaskRepo) Create(ctx context.Context, task *domain.Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO tasks (
			id, requester_id, name, description, data,
			assignment_duration_secs, total_budget, answer_callback_url, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, task.ID, task.RequesterID, task.Name, task.Description, task.Data,
		int64(task.AssignmentDuration.Seconds()), task.TotalBudget, task.AnswerCallbackURL, task.CreatedAt)

	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}

	return nil
}

func (r *TaskRepo) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	var task domain.Task
	var durationSecs int64

	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, requester_id, name, description, data,
			assignment_duration_secs, total_budget, answer_callback_url, created_at
		FROM tasks
		WHERE id = $1
	`, id).Scan(&task.ID, &task.RequesterID, &task.Name, &task.Description, &task.Data,
		&durationSecs, &task.TotalBudget, &task.AnswerCallbackURL, &task.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	task.AssignmentDuration = time.Duration(durationSecs) * time.Second
	return &task, nil
}

func (r *TaskRepo) List(ctx context.Context, requesterID string) ([]*domain.Task, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, requester_id, name, description, data,
			assignment_duration_secs, total_budget, answer_callback_url, created_at
		FROM tasks
		WHERE requester_id = $1
		ORDER BY created_at DESC
	`, requesterID)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		var task domain.Task
		var durationSecs int64
		if err := rows.Scan(&task.ID, &task.RequesterID, &task.Name, &task.Description, &task.Data,
			&durationSecs, &task.TotalBudget, &task.AnswerCallbackURL, &task.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		task.AssignmentDuration = time.Duration(durationSecs) * time.Second
		tasks = append(tasks, &task)
	}

	return tasks, nil
}
