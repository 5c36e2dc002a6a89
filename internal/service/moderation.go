// Package service implements the enqueue and result contracts the API exposes.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/podushkina/moderation/internal/catalog"
	"github.com/podushkina/moderation/internal/fault"
	"github.com/podushkina/moderation/internal/queue"
	"github.com/podushkina/moderation/internal/store"
	"github.com/podushkina/moderation/internal/task"
)

const AcceptedMessage = "Moderation request accepted"

type Moderation struct {
	store    store.Store
	catalog  catalog.Repository
	producer *queue.Producer
	logger   *slog.Logger
}

func NewModeration(st store.Store, cat catalog.Repository, prod *queue.Producer, logger *slog.Logger) *Moderation {
	return &Moderation{store: st, catalog: cat, producer: prod, logger: logger}
}

type Enqueued struct {
	TaskID  int64       `json:"task_id"`
	Status  task.Status `json:"status"`
	Message string      `json:"message"`
}

// Enqueue creates a pending task for an existing listing and publishes its
// work message. When the publish fails the task stays pending with the error
// recorded, and the returned error wraps fault.ErrChannelUnavailable.
func (m *Moderation) Enqueue(ctx context.Context, itemID int64) (*Enqueued, error) {
	if itemID <= 0 {
		return nil, fault.Validation("item_id must be positive")
	}
	if _, err := m.catalog.GetListing(ctx, itemID); err != nil {
		return nil, err
	}

	t, err := m.store.CreatePending(ctx, itemID)
	if err != nil {
		return nil, err
	}
	log := m.logger.With("task_id", t.ID, "item_id", itemID)

	if err := m.producer.SendModerationRequest(ctx, itemID, t.ID, 0); err != nil {
		log.Error("publish moderation request", "error", err)
		if _, rerr := m.store.RecordError(context.WithoutCancel(ctx), t.ID, err.Error()); rerr != nil {
			log.Error("record publish failure", "error", rerr)
		}
		return nil, fmt.Errorf("enqueue task %d: %w", t.ID, err)
	}

	log.Info("moderation request enqueued")
	return &Enqueued{TaskID: t.ID, Status: t.Status, Message: AcceptedMessage}, nil
}

func (m *Moderation) Result(ctx context.Context, taskID int64) (*task.Task, error) {
	if taskID <= 0 {
		return nil, fault.Validation("task_id must be positive")
	}
	return m.store.Get(ctx, taskID)
}

// Stale lists tasks still pending after olderThan, the candidates for
// re-enqueueing by an operator.
func (m *Moderation) Stale(ctx context.Context, olderThan time.Duration, limit int) ([]*task.Task, error) {
	if olderThan < 0 {
		return nil, fault.Validation("older_than must not be negative")
	}
	return m.store.ListPending(ctx, time.Now().Add(-olderThan), limit)
}
