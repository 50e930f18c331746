package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/uw-hai/crowdjs-server/internal/domain"
)

type QuestionRepo struct {
	db *PostgresDB
}

func NewQuestionRepo(db *PostgresDB) *QuestionRepo {
	return &QuestionRepo{db: db}
}

func (r *QuestionRepo) Create(ctx context.Context, q *domain.Question) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}

	resultsJSON, err := json.Marshal(q.InferenceResults)
	if err != nil {
		return fmt.Errorf("marshal inference results: %w", err)
	}

	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO questions (
			id, task_id, name, description, data,
			answers_per_question, unique_workers, inference_results, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, q.ID, q.TaskID, q.Name, q.Description, q.Data,
		q.AnswersPerQuestion, q.UniqueWorkers, resultsJSON, q.CreatedAt)

	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}

	return nil
}

func (r *QuestionRepo) CreateBatch(ctx context.Context, questions []*domain.Question) error {
	batch := &pgx.Batch{}
	now := time.Now()

	for _, q := range questions {
		if q.ID == "" {
			q.ID = uuid.New().String()
		}
		if q.CreatedAt.IsZero() {
			q.CreatedAt = now
		}
		resultsJSON, _ := json.Marshal(q.InferenceResults)

		batch.Queue(`
			INSERT INTO questions (
				id, task_id, name, description, data,
				answers_per_question, unique_workers, inference_results, created_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, q.ID, q.TaskID, q.Name, q.Description, q.Data,
			q.AnswersPerQuestion, q.UniqueWorkers, resultsJSON, q.CreatedAt)
	}

	results := r.db.Pool.SendBatch(ctx, batch)
	defer results.Close()

	for range questions {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch exec: %w", err)
		}
	}

	return nil
}

func (r *QuestionRepo) GetByID(ctx context.Context, id string) (*domain.Question, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT id, task_id, name, description, data,
			answers_per_question, unique_workers, inference_results, created_at
		FROM questions
		WHERE id = $1
	`, id)

	q, err := scanQuestion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return q, err
}

func (r *QuestionRepo) ListByTask(ctx context.Context, taskID string) ([]*domain.Question, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, task_id, name, description, data,
			answers_per_question, unique_workers, inference_results, created_at
		FROM questions
		WHERE task_id = $1
		ORDER BY created_at ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var questions []*domain.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}

	return questions, nil
}

// SaveInference overwrites one strategy's entry in the question's
// inference_results map, leaving other strategies' entries untouched.
func (r *QuestionRepo) SaveInference(ctx context.Context, questionID, strategy string, inf domain.QuestionInference) error {
	entryJSON, err := json.Marshal(inf)
	if err != nil {
		return fmt.Errorf("marshal inference: %w", err)
	}

	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE questions
		SET inference_results = jsonb_set(COALESCE(inference_results, '{}'::jsonb), ARRAY[$2], $3::jsonb)
		WHERE id = $1
	`, questionID, strategy, entryJSON)

	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row rowScanner) (*domain.Question, error) {
	var q domain.Question
	var resultsJSON []byte

	if err := row.Scan(&q.ID, &q.TaskID, &q.Name, &q.Description, &q.Data,
		&q.AnswersPerQuestion, &q.UniqueWorkers, &resultsJSON, &q.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	if resultsJSON != nil {
		if err := json.Unmarshal(resultsJSON, &q.InferenceResults); err != nil {
			return nil, fmt.Errorf("unmarshal inference results: %w", err)
		}
	}

	return &q, nil
}
