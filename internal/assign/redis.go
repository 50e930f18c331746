package assign

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/uw-hai/crowdjs-server/internal/domain"
)

// maxRetries caps the optimistic retry loop. Conflicts are expected under
// load and retried transparently; hitting the cap means the key is so hot
// that the caller should back off.
const maxRetries = 16

// RedisQueue keeps queue state in redis so every server process sees the
// same budgets. Open questions live in a per-task sorted set scored by
// answers handed out so far; a question is removed from the set when its
// budget fills and re-added on requeue. Worker membership is a per-worker
// set of question ids. All mutations run under WATCH with a transactional
// pipeline, retrying from scratch when a concurrent writer moves the keys.
type RedisQueue struct {
	client   *redis.Client
	strategy string
}

func NewRedisQueue(client *redis.Client, strategy string) *RedisQueue {
	if strategy == "" {
		strategy = "min_answers"
	}
	return &RedisQueue{client: client, strategy: strategy}
}

func (q *RedisQueue) queueKey(taskID string) string {
	return fmt.Sprintf("queue_task%s_strategy%s", taskID, q.strategy)
}

func (q *RedisQueue) budgetKey(taskID string) string {
	return fmt.Sprintf("budget_task%s", taskID)
}

func (q *RedisQueue) uniqueKey(taskID string) string {
	return fmt.Sprintf("unique_task%s", taskID)
}

func (q *RedisQueue) workerKey(taskID, workerID string) string {
	return fmt.Sprintf("assigned_task%s_worker%s", taskID, workerID)
}

func (q *RedisQueue) AddQuestion(ctx context.Context, taskID, questionID string, budget int, uniqueWorkers bool) error {
	if budget < 0 {
		return domain.ErrInvalidInput
	}
	unique := 0
	if uniqueWorkers {
		unique = 1
	}
	pipe := q.client.TxPipeline()
	pipe.HSetNX(ctx, q.budgetKey(taskID), questionID, budget)
	pipe.HSetNX(ctx, q.uniqueKey(taskID), questionID, unique)
	pipe.ZAddNX(ctx, q.queueKey(taskID), redis.Z{Score: 0, Member: questionID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("add question: %w", err)
	}
	return nil
}

func (q *RedisQueue) uniqueWorkers(ctx context.Context, tx *redis.Tx, taskID, questionID string) (bool, error) {
	unique, err := tx.HGet(ctx, q.uniqueKey(taskID), questionID).Int()
	if err == redis.Nil {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("hget unique: %w", err)
	}
	return unique != 0, nil
}

func (q *RedisQueue) ReserveNext(ctx context.Context, taskID, workerID string) (string, error) {
	queueKey := q.queueKey(taskID)
	workerKey := q.workerKey(taskID, workerID)

	var picked string
	for i := 0; i < maxRetries; i++ {
		picked = ""
		err := q.client.Watch(ctx, func(tx *redis.Tx) error {
			entries, err := tx.ZRangeWithScores(ctx, queueKey, 0, -1).Result()
			if err != nil {
				return fmt.Errorf("zrange: %w", err)
			}

			members, err := tx.SMembers(ctx, workerKey).Result()
			if err != nil {
				return fmt.Errorf("smembers: %w", err)
			}
			seen := make(map[string]bool, len(members))
			for _, m := range members {
				seen[m] = true
			}

			for _, e := range entries {
				id, ok := e.Member.(string)
				if !ok {
					continue
				}
				if seen[id] {
					unique, err := q.uniqueWorkers(ctx, tx, taskID, id)
					if err != nil {
						return err
					}
					if unique {
						continue
					}
				}
				budget, err := tx.HGet(ctx, q.budgetKey(taskID), id).Int()
				if err != nil {
					return fmt.Errorf("hget budget: %w", err)
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					if int(e.Score)+1 >= budget {
						pipe.ZRem(ctx, queueKey, id)
					} else {
						pipe.ZIncrBy(ctx, queueKey, 1, id)
					}
					pipe.SAdd(ctx, workerKey, id)
					return nil
				})
				if err != nil {
					return err
				}
				picked = id
				return nil
			}
			return domain.ErrNoAssignmentAvailable
		}, queueKey, workerKey)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return "", err
		}
		return picked, nil
	}
	return "", domain.ErrConcurrencyConflict
}

func (q *RedisQueue) ReserveQuestion(ctx context.Context, taskID, workerID, questionID string) error {
	queueKey := q.queueKey(taskID)
	workerKey := q.workerKey(taskID, workerID)

	for i := 0; i < maxRetries; i++ {
		err := q.client.Watch(ctx, func(tx *redis.Tx) error {
			score, err := tx.ZScore(ctx, queueKey, questionID).Result()
			if err == redis.Nil {
				known, herr := tx.HExists(ctx, q.budgetKey(taskID), questionID).Result()
				if herr != nil {
					return fmt.Errorf("hexists: %w", herr)
				}
				if !known {
					return domain.ErrNotFound
				}
				return domain.ErrNoAssignmentAvailable
			}
			if err != nil {
				return fmt.Errorf("zscore: %w", err)
			}

			member, err := tx.SIsMember(ctx, workerKey, questionID).Result()
			if err != nil {
				return fmt.Errorf("sismember: %w", err)
			}
			if member {
				unique, err := q.uniqueWorkers(ctx, tx, taskID, questionID)
				if err != nil {
					return err
				}
				if unique {
					return domain.ErrNoAssignmentAvailable
				}
			}

			budget, err := tx.HGet(ctx, q.budgetKey(taskID), questionID).Int()
			if err != nil {
				return fmt.Errorf("hget budget: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if int(score)+1 >= budget {
					pipe.ZRem(ctx, queueKey, questionID)
				} else {
					pipe.ZIncrBy(ctx, queueKey, 1, questionID)
				}
				pipe.SAdd(ctx, workerKey, questionID)
				return nil
			})
			return err
		}, queueKey, workerKey)

		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return domain.ErrConcurrencyConflict
}

func (q *RedisQueue) Requeue(ctx context.Context, taskID, workerID, questionID string) error {
	queueKey := q.queueKey(taskID)
	workerKey := q.workerKey(taskID, workerID)

	for i := 0; i < maxRetries; i++ {
		err := q.client.Watch(ctx, func(tx *redis.Tx) error {
			budget, err := tx.HGet(ctx, q.budgetKey(taskID), questionID).Int()
			if err == redis.Nil {
				return domain.ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("hget budget: %w", err)
			}

			score, err := tx.ZScore(ctx, queueKey, questionID).Result()
			open := err != redis.Nil
			if err != nil && err != redis.Nil {
				return fmt.Errorf("zscore: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if !open {
					// The question was full; give back one slot.
					pipe.ZAdd(ctx, queueKey, redis.Z{Score: float64(budget - 1), Member: questionID})
				} else if score > 0 {
					pipe.ZIncrBy(ctx, queueKey, -1, questionID)
				}
				pipe.SRem(ctx, workerKey, questionID)
				return nil
			})
			return err
		}, queueKey, workerKey)

		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return domain.ErrConcurrencyConflict
}

func (q *RedisQueue) RecordExternalAnswer(ctx context.Context, taskID, workerID, questionID string) error {
	queueKey := q.queueKey(taskID)
	workerKey := q.workerKey(taskID, workerID)

	for i := 0; i < maxRetries; i++ {
		err := q.client.Watch(ctx, func(tx *redis.Tx) error {
			budget, err := tx.HGet(ctx, q.budgetKey(taskID), questionID).Int()
			if err == redis.Nil {
				return domain.ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("hget budget: %w", err)
			}

			score, err := tx.ZScore(ctx, queueKey, questionID).Result()
			open := err != redis.Nil
			if err != nil && err != redis.Nil {
				return fmt.Errorf("zscore: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if open {
					if int(score)+1 >= budget {
						pipe.ZRem(ctx, queueKey, questionID)
					} else {
						pipe.ZIncrBy(ctx, queueKey, 1, questionID)
					}
				}
				pipe.SAdd(ctx, workerKey, questionID)
				return nil
			})
			return err
		}, queueKey, workerKey)

		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return domain.ErrConcurrencyConflict
}

func (q *RedisQueue) Remaining(ctx context.Context, taskID, questionID string) (int, error) {
	budget, err := q.client.HGet(ctx, q.budgetKey(taskID), questionID).Int()
	if err == redis.Nil {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("hget budget: %w", err)
	}
	score, err := q.client.ZScore(ctx, q.queueKey(taskID), questionID).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("zscore: %w", err)
	}
	return budget - int(score), nil
}

func (q *RedisQueue) OpenQuestions(ctx context.Context, taskID string) ([]string, error) {
	ids, err := q.client.ZRange(ctx, q.queueKey(taskID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange: %w", err)
	}
	return ids, nil
}
