// Package store keeps the authoritative lifecycle record of moderation tasks.
package store

import (
	"context"
	"time"

	"github.com/podushkina/moderation/internal/task"
)

// Store persists tasks. Every mutation is an atomic single-record transition;
// mutating a completed or failed task returns fault.ErrInvalidTransition and
// leaves the record untouched.
type Store interface {
	CreatePending(ctx context.Context, itemID int64) (*task.Task, error)
	Get(ctx context.Context, id int64) (*task.Task, error)
	MarkCompleted(ctx context.Context, id int64, isViolation bool, probability float64) (*task.Task, error)
	MarkFailed(ctx context.Context, id int64, errorMessage string) (*task.Task, error)
	MarkRetry(ctx context.Context, id int64, errorMessage string) (*task.Task, error)
	// RecordError sets error_message on a pending task without counting an attempt.
	RecordError(ctx context.Context, id int64, errorMessage string) (*task.Task, error)
	GetLatestPendingByItem(ctx context.Context, itemID int64) (*task.Task, error)
	// ListPending returns pending tasks created before the cutoff, oldest first.
	ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]*task.Task, error)
	Close() error
}
