package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/podushkina/moderation/internal/fault"
	"github.com/podushkina/moderation/internal/task"
)

const taskColumns = `id, item_id, status, is_violation, probability, error_message, attempts, created_at, processed_at`

// PostgresStore keeps tasks in the moderation_results table. Transitions are
// single UPDATE ... WHERE status = 'pending' statements, so a terminal row is
// never rewritten.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreatePending(ctx context.Context, itemID int64) (*task.Task, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO moderation_results (item_id, status)
		VALUES ($1, 'pending')
		RETURNING `+taskColumns, itemID)

	t, err := scanTask(row)
	if err != nil {
		return nil, fault.Storage("create task", err)
	}
	return t, nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*task.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM moderation_results WHERE id = $1`, id)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.NotFound("task %d", id)
		}
		return nil, fault.Storage(fmt.Sprintf("get task %d", id), err)
	}
	return t, nil
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id int64, isViolation bool, probability float64) (*task.Task, error) {
	if probability < 0 || probability > 1 {
		return nil, fault.Validation("probability %v out of range [0, 1]", probability)
	}
	return s.transition(ctx, id, `
		UPDATE moderation_results
		SET status = 'completed',
		    is_violation = $2,
		    probability = $3,
		    error_message = NULL,
		    processed_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+taskColumns, id, isViolation, probability)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id int64, errorMessage string) (*task.Task, error) {
	return s.transition(ctx, id, `
		UPDATE moderation_results
		SET status = 'failed',
		    error_message = $2,
		    processed_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+taskColumns, id, errorMessage)
}

func (s *PostgresStore) MarkRetry(ctx context.Context, id int64, errorMessage string) (*task.Task, error) {
	return s.transition(ctx, id, `
		UPDATE moderation_results
		SET error_message = $2,
		    attempts = attempts + 1
		WHERE id = $1 AND status = 'pending'
		RETURNING `+taskColumns, id, errorMessage)
}

func (s *PostgresStore) RecordError(ctx context.Context, id int64, errorMessage string) (*task.Task, error) {
	return s.transition(ctx, id, `
		UPDATE moderation_results
		SET error_message = $2
		WHERE id = $1 AND status = 'pending'
		RETURNING `+taskColumns, id, errorMessage)
}

func (s *PostgresStore) GetLatestPendingByItem(ctx context.Context, itemID int64) (*task.Task, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM moderation_results
		WHERE item_id = $1 AND status = 'pending'
		ORDER BY id DESC
		LIMIT 1`, itemID)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.NotFound("pending task for item %d", itemID)
		}
		return nil, fault.Storage("latest pending task", err)
	}
	return t, nil
}

func (s *PostgresStore) ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM moderation_results
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at, id`
	args := []any{createdBefore}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fault.Storage("list pending tasks", err)
	}
	defer rows.Close()

	tasks := []*task.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fault.Storage("scan pending task", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Storage("list pending tasks", err)
	}

	return tasks, nil
}

func (s *PostgresStore) transition(ctx context.Context, id int64, sql string, args ...any) (*task.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, sql, args...))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.Storage(fmt.Sprintf("update task %d", id), err)
	}

	// No pending row matched: either the task is missing or already terminal.
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, fault.InvalidTransition("task %d is %s", id, current.Status)
}

func scanTask(row pgx.Row) (*task.Task, error) {
	var t task.Task
	var status string
	if err := row.Scan(
		&t.ID, &t.ItemID, &status, &t.IsViolation, &t.Probability,
		&t.ErrorMessage, &t.Attempts, &t.CreatedAt, &t.ProcessedAt,
	); err != nil {
		return nil, err
	}
	t.Status = task.Status(status)
	return &t, nil
}
