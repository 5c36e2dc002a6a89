package task

import (
	"math"
	"testing"
	"time"

	"github.com/podushkina/moderation/internal/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusValid(t *testing.T) {
	assert.True(t, StatusPending.Valid())
	assert.True(t, StatusCompleted.Valid())
	assert.True(t, StatusFailed.Valid())
	assert.False(t, Status("processing").Valid())

	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestNewPendingHasNoOutcome(t *testing.T) {
	now := time.Now()
	tsk := NewPending(1, 42, now)

	assert.Equal(t, StatusPending, tsk.Status)
	assert.Nil(t, tsk.IsViolation)
	assert.Nil(t, tsk.Probability)
	assert.Nil(t, tsk.ErrorMessage)
	assert.Nil(t, tsk.ProcessedAt)
	assert.Equal(t, now, tsk.CreatedAt)
}

func TestRetryThenComplete(t *testing.T) {
	tsk := NewPending(1, 42, time.Now())

	require.NoError(t, tsk.Retry("classifier timeout"))
	assert.Equal(t, StatusPending, tsk.Status)
	assert.Equal(t, 1, tsk.Attempts)
	require.NotNil(t, tsk.ErrorMessage)
	assert.Equal(t, "classifier timeout", *tsk.ErrorMessage)
	assert.Nil(t, tsk.ProcessedAt)

	done := time.Now()
	require.NoError(t, tsk.Complete(true, 0.92, done))
	assert.Equal(t, StatusCompleted, tsk.Status)
	assert.True(t, *tsk.IsViolation)
	assert.Equal(t, 0.92, *tsk.Probability)
	assert.Nil(t, tsk.ErrorMessage)
	assert.Equal(t, done, *tsk.ProcessedAt)
}

func TestTerminalTasksRejectTransitions(t *testing.T) {
	completed := NewPending(1, 42, time.Now())
	require.NoError(t, completed.Complete(false, 0.1, time.Now()))
	failed := NewPending(2, 42, time.Now())
	require.NoError(t, failed.Fail("listing 42: not found", time.Now()))

	for _, tsk := range []*Task{completed, failed} {
		before := *tsk

		assert.ErrorIs(t, tsk.Complete(true, 0.9, time.Now()), fault.ErrInvalidTransition)
		assert.ErrorIs(t, tsk.Fail("boom", time.Now()), fault.ErrInvalidTransition)
		assert.ErrorIs(t, tsk.Retry("boom"), fault.ErrInvalidTransition)
		assert.Equal(t, before, *tsk)
	}
}

func TestCompleteRejectsProbabilityOutOfRange(t *testing.T) {
	tsk := NewPending(1, 42, time.Now())

	err := tsk.Complete(true, 1.5, time.Now())
	assert.ErrorIs(t, err, fault.ErrValidation)
	assert.Equal(t, StatusPending, tsk.Status)

	err = tsk.Complete(true, math.NaN(), time.Now())
	assert.ErrorIs(t, err, fault.ErrValidation)
	assert.Equal(t, StatusPending, tsk.Status)
	assert.Nil(t, tsk.Probability)
}

func TestRecordErrorKeepsAttempts(t *testing.T) {
	tsk := NewPending(1, 42, time.Now())

	require.NoError(t, tsk.RecordError("publish moderation: broker down"))
	assert.Equal(t, StatusPending, tsk.Status)
	assert.Zero(t, tsk.Attempts)
	require.NotNil(t, tsk.ErrorMessage)
	assert.Equal(t, "publish moderation: broker down", *tsk.ErrorMessage)

	require.NoError(t, tsk.Fail("boom", time.Now()))
	assert.ErrorIs(t, tsk.RecordError("late"), fault.ErrInvalidTransition)
}
