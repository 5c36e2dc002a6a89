package task

import (
	"math"
	"time"

	"github.com/podushkina/moderation/internal/fault"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is one moderation attempt for one listing.
// IsViolation and Probability are set only once the task is completed.
type Task struct {
	ID           int64      `json:"id"`
	ItemID       int64      `json:"item_id"`
	Status       Status     `json:"status"`
	IsViolation  *bool      `json:"is_violation"`
	Probability  *float64   `json:"probability"`
	ErrorMessage *string    `json:"error_message"`
	Attempts     int        `json:"attempts"`
	CreatedAt    time.Time  `json:"created_at"`
	ProcessedAt  *time.Time `json:"processed_at"`
}

func NewPending(id, itemID int64, now time.Time) *Task {
	return &Task{
		ID:        id,
		ItemID:    itemID,
		Status:    StatusPending,
		CreatedAt: now,
	}
}

func (t *Task) Complete(isViolation bool, probability float64, now time.Time) error {
	if err := t.mutable(); err != nil {
		return err
	}
	if math.IsNaN(probability) || probability < 0 || probability > 1 {
		return fault.Validation("probability %v out of range [0, 1]", probability)
	}
	t.Status = StatusCompleted
	t.IsViolation = &isViolation
	t.Probability = &probability
	t.ErrorMessage = nil
	t.ProcessedAt = &now
	return nil
}

func (t *Task) Fail(message string, now time.Time) error {
	if err := t.mutable(); err != nil {
		return err
	}
	t.Status = StatusFailed
	t.ErrorMessage = &message
	t.ProcessedAt = &now
	return nil
}

// Retry records a failed attempt; the task stays pending.
func (t *Task) Retry(message string) error {
	if err := t.mutable(); err != nil {
		return err
	}
	t.ErrorMessage = &message
	t.Attempts++
	return nil
}

// RecordError notes a failure outside a processing attempt; the attempt
// count is unchanged.
func (t *Task) RecordError(message string) error {
	if err := t.mutable(); err != nil {
		return err
	}
	t.ErrorMessage = &message
	return nil
}

func (t *Task) mutable() error {
	if t.Status.Terminal() {
		return fault.InvalidTransition("task %d is %s", t.ID, t.Status)
	}
	return nil
}
