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

type AnswerRepo struct {
	db *PostgresDB
}

func NewAnswerRepo(db *PostgresDB) *AnswerRepo {
	return &AnswerRepo{db: db}
}

func (r *AnswerRepo) Create(ctx context.Context, a *domain.Answer) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO answers (
			id, task_id, question_id, worker_id, requester_id,
			status, value, is_alive, assign_time, complete_time
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, a.ID, a.TaskID, a.QuestionID, a.WorkerID, a.RequesterID,
		a.Status, labelValue(a.Value), a.IsAlive, a.AssignTime, a.CompleteTime)

	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}

	return nil
}

// Outstanding returns the worker's open reservation in the task, if any.
func (r *AnswerRepo) Outstanding(ctx context.Context, taskID, workerID string) (*domain.Answer, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT id, task_id, question_id, worker_id, requester_id,
			status, value, is_alive, assign_time, complete_time
		FROM answers
		WHERE task_id = $1 AND worker_id = $2 AND status = $3
		ORDER BY assign_time ASC
		LIMIT 1
	`, taskID, workerID, domain.AnswerAssigned)

	a, err := scanAnswer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// Complete flips an assigned answer to completed and records the value.
// Returns false when the answer is no longer assigned, which happens when a
// requeue won the race; the caller must treat the reservation as gone.
func (r *AnswerRepo) Complete(ctx context.Context, answerID string, value domain.Label) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE answers
		SET status = $2, value = $3, complete_time = $4
		WHERE id = $1 AND status = $5
	`, answerID, domain.AnswerCompleted, int(value), time.Now(), domain.AnswerAssigned)

	if err != nil {
		return false, fmt.Errorf("update: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// MarkRequeued flips an assigned answer to requeued and kills it so it no
// longer counts toward the task budget. Returns false when a submission won
// the race and the answer is already completed.
func (r *AnswerRepo) MarkRequeued(ctx context.Context, answerID string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE answers
		SET status = $2, is_alive = FALSE
		WHERE id = $1 AND status = $3
	`, answerID, domain.AnswerRequeued, domain.AnswerAssigned)

	if err != nil {
		return false, fmt.Errorf("update: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// CountAlive counts the answers that consume the task's total budget.
func (r *AnswerRepo) CountAlive(ctx context.Context, taskID string) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM answers WHERE task_id = $1 AND is_alive
	`, taskID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

// VotesByTask returns the completed (worker, question, label) observations
// for a task, the evidence set EM and belief recomputation run over.
func (r *AnswerRepo) VotesByTask(ctx context.Context, taskID string) ([]domain.Vote, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT worker_id, question_id, value
		FROM answers
		WHERE task_id = $1 AND status = $2 AND value IS NOT NULL
		ORDER BY complete_time ASC
	`, taskID, domain.AnswerCompleted)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var votes []domain.Vote
	for rows.Next() {
		var v domain.Vote
		var value int
		if err := rows.Scan(&v.WorkerID, &v.QuestionID, &value); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		v.Label = domain.Label(value)
		votes = append(votes, v)
	}

	return votes, nil
}

// StaleAssigned lists reservations older than each task's assignment
// duration, the requeue scanner's work list.
func (r *AnswerRepo) StaleAssigned(ctx context.Context, now time.Time) ([]*domain.Answer, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT a.id, a.task_id, a.question_id, a.worker_id, a.requester_id,
			a.status, a.value, a.is_alive, a.assign_time, a.complete_time
		FROM answers a
		JOIN tasks t ON t.id = a.task_id
		WHERE a.status = $1
		  AND a.assign_time + make_interval(secs => t.assignment_duration_secs) < $2
	`, domain.AnswerAssigned, now)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var answers []*domain.Answer
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}

	return answers, nil
}

func (r *AnswerRepo) GetByID(ctx context.Context, id string) (*domain.Answer, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT id, task_id, question_id, worker_id, requester_id,
			status, value, is_alive, assign_time, complete_time
		FROM answers
		WHERE id = $1
	`, id)

	a, err := scanAnswer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return a, err
}

func scanAnswer(row rowScanner) (*domain.Answer, error) {
	var a domain.Answer
	var value *int

	if err := row.Scan(&a.ID, &a.TaskID, &a.QuestionID, &a.WorkerID, &a.RequesterID,
		&a.Status, &value, &a.IsAlive, &a.AssignTime, &a.CompleteTime); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	if value != nil {
		label := domain.Label(*value)
		a.Value = &label
	}

	return &a, nil
}

func labelValue(l *domain.Label) *int {
	if l == nil {
		return nil
	}
	v := int(*l)
	return &v
}
