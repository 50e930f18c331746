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

type WorkerRepo struct {
	db *PostgresDB
}

func NewWorkerRepo(db *PostgresDB) *WorkerRepo {
	return &WorkerRepo{db: db}
}

// Upsert finds or creates the worker identified by (platform_name,
// platform_id). Crowd platforms send their own worker ids; we keep ours
// stable across repeated visits.
func (r *WorkerRepo) Upsert(ctx context.Context, platformName, platformID string) (*domain.Worker, error) {
	var w domain.Worker
	var resultsJSON []byte

	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO workers (id, platform_id, platform_name, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (platform_name, platform_id) DO UPDATE SET platform_id = EXCLUDED.platform_id
		RETURNING id, platform_id, platform_name, inference_results, created_at
	`, uuid.New().String(), platformID, platformName, time.Now()).Scan(
		&w.ID, &w.PlatformID, &w.PlatformName, &resultsJSON, &w.CreatedAt)

	if err != nil {
		return nil, fmt.Errorf("upsert: %w", err)
	}

	if resultsJSON != nil {
		if err := json.Unmarshal(resultsJSON, &w.InferenceResults); err != nil {
			return nil, fmt.Errorf("unmarshal inference results: %w", err)
		}
	}

	return &w, nil
}

func (r *WorkerRepo) GetByID(ctx context.Context, id string) (*domain.Worker, error) {
	var w domain.Worker
	var resultsJSON []byte

	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, platform_id, platform_name, inference_results, created_at
		FROM workers
		WHERE id = $1
	`, id).Scan(&w.ID, &w.PlatformID, &w.PlatformName, &resultsJSON, &w.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	if resultsJSON != nil {
		if err := json.Unmarshal(resultsJSON, &w.InferenceResults); err != nil {
			return nil, fmt.Errorf("unmarshal inference results: %w", err)
		}
	}

	return &w, nil
}

// Skills returns each worker's persisted gamma under the named strategy.
// Workers without an estimate are simply absent from the map.
func (r *WorkerRepo) Skills(ctx context.Context, workerIDs []string, strategy string) (map[string]float64, error) {
	if len(workerIDs) == 0 {
		return map[string]float64{}, nil
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, (inference_results -> $2 ->> 'skill')::float8
		FROM workers
		WHERE id = ANY($1) AND inference_results ? $2
	`, workerIDs, strategy)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	skills := make(map[string]float64)
	for rows.Next() {
		var id string
		var skill float64
		if err := rows.Scan(&id, &skill); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		skills[id] = skill
	}

	return skills, nil
}

// SaveInference overwrites one strategy's skill entry for a worker.
func (r *WorkerRepo) SaveInference(ctx context.Context, workerID, strategy string, inf domain.WorkerInference) error {
	entryJSON, err := json.Marshal(inf)
	if err != nil {
		return fmt.Errorf("marshal inference: %w", err)
	}

	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE workers
		SET inference_results = jsonb_set(COALESCE(inference_results, '{}'::jsonb), ARRAY[$2], $3::jsonb)
		WHERE id = $1
	`, workerID, strategy, entryJSON)

	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	return nil
}
