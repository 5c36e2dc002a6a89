package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/podushkina/moderation/internal/fault"
	"github.com/podushkina/moderation/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreTests exercises the Store contract against any backend.
func runStoreTests(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		created, err := s.CreatePending(ctx, 42)
		require.NoError(t, err)
		assert.NotZero(t, created.ID)

		got, err := s.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusPending, got.Status)
		assert.Equal(t, int64(42), got.ItemID)
		assert.Nil(t, got.IsViolation)
		assert.Nil(t, got.Probability)
		assert.Nil(t, got.ErrorMessage)
		assert.Nil(t, got.ProcessedAt)
		assert.False(t, got.CreatedAt.IsZero())
	})

	t.Run("IDsAreUnique", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first, err := s.CreatePending(ctx, 1)
		require.NoError(t, err)
		second, err := s.CreatePending(ctx, 1)
		require.NoError(t, err)

		assert.NotEqual(t, first.ID, second.ID)
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Get(context.Background(), 999999)
		assert.ErrorIs(t, err, fault.ErrNotFound)
	})

	t.Run("MarkCompleted", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		created, err := s.CreatePending(ctx, 7)
		require.NoError(t, err)
		_, err = s.MarkRetry(ctx, created.ID, "temporary model error")
		require.NoError(t, err)

		done, err := s.MarkCompleted(ctx, created.ID, true, 0.92)
		require.NoError(t, err)
		assert.Equal(t, task.StatusCompleted, done.Status)

		got, err := s.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusCompleted, got.Status)
		require.NotNil(t, got.IsViolation)
		assert.True(t, *got.IsViolation)
		require.NotNil(t, got.Probability)
		assert.InDelta(t, 0.92, *got.Probability, 1e-9)
		assert.Nil(t, got.ErrorMessage)
		assert.NotNil(t, got.ProcessedAt)
	})

	t.Run("MarkRetryStaysPending", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		created, err := s.CreatePending(ctx, 7)
		require.NoError(t, err)

		_, err = s.MarkRetry(ctx, created.ID, "first")
		require.NoError(t, err)
		retried, err := s.MarkRetry(ctx, created.ID, "second")
		require.NoError(t, err)

		assert.Equal(t, task.StatusPending, retried.Status)
		assert.Equal(t, 2, retried.Attempts)
		require.NotNil(t, retried.ErrorMessage)
		assert.Equal(t, "second", *retried.ErrorMessage)
		assert.Nil(t, retried.ProcessedAt)
	})

	t.Run("RecordErrorKeepsAttempts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		created, err := s.CreatePending(ctx, 7)
		require.NoError(t, err)

		got, err := s.RecordError(ctx, created.ID, "publish failed")
		require.NoError(t, err)
		assert.Equal(t, task.StatusPending, got.Status)
		assert.Zero(t, got.Attempts)
		require.NotNil(t, got.ErrorMessage)
		assert.Equal(t, "publish failed", *got.ErrorMessage)

		_, err = s.MarkFailed(ctx, created.ID, "done")
		require.NoError(t, err)
		_, err = s.RecordError(ctx, created.ID, "late")
		assert.ErrorIs(t, err, fault.ErrInvalidTransition)
	})

	t.Run("MarkFailed", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		created, err := s.CreatePending(ctx, 7)
		require.NoError(t, err)

		failed, err := s.MarkFailed(ctx, created.ID, "listing 7: not found")
		require.NoError(t, err)

		assert.Equal(t, task.StatusFailed, failed.Status)
		require.NotNil(t, failed.ErrorMessage)
		assert.Equal(t, "listing 7: not found", *failed.ErrorMessage)
		assert.NotNil(t, failed.ProcessedAt)
		assert.Nil(t, failed.IsViolation)
	})

	t.Run("TerminalTasksRejectMutation", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		created, err := s.CreatePending(ctx, 7)
		require.NoError(t, err)
		done, err := s.MarkCompleted(ctx, created.ID, false, 0.2)
		require.NoError(t, err)

		_, err = s.MarkCompleted(ctx, created.ID, true, 0.99)
		assert.ErrorIs(t, err, fault.ErrInvalidTransition)
		_, err = s.MarkFailed(ctx, created.ID, "late failure")
		assert.ErrorIs(t, err, fault.ErrInvalidTransition)
		_, err = s.MarkRetry(ctx, created.ID, "late retry")
		assert.ErrorIs(t, err, fault.ErrInvalidTransition)

		got, err := s.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusCompleted, got.Status)
		assert.False(t, *got.IsViolation)
		assert.InDelta(t, 0.2, *got.Probability, 1e-9)
		assert.True(t, done.ProcessedAt.Equal(*got.ProcessedAt))
	})

	t.Run("TransitionMissingTask", func(t *testing.T) {
		s := newStore(t)

		_, err := s.MarkCompleted(context.Background(), 999999, true, 0.5)
		assert.ErrorIs(t, err, fault.ErrNotFound)
	})

	t.Run("LatestPendingByItem", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.GetLatestPendingByItem(ctx, 5)
		assert.ErrorIs(t, err, fault.ErrNotFound)

		older, err := s.CreatePending(ctx, 5)
		require.NoError(t, err)
		newer, err := s.CreatePending(ctx, 5)
		require.NoError(t, err)
		_, err = s.CreatePending(ctx, 6)
		require.NoError(t, err)

		latest, err := s.GetLatestPendingByItem(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, newer.ID, latest.ID)

		_, err = s.MarkFailed(ctx, newer.ID, "boom")
		require.NoError(t, err)

		latest, err = s.GetLatestPendingByItem(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, older.ID, latest.ID)
	})

	t.Run("ListPending", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first, err := s.CreatePending(ctx, 1)
		require.NoError(t, err)
		second, err := s.CreatePending(ctx, 2)
		require.NoError(t, err)
		_, err = s.MarkCompleted(ctx, second.ID, false, 0.1)
		require.NoError(t, err)

		pending, err := s.ListPending(ctx, time.Now().Add(time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, first.ID, pending[0].ID)

		pending, err = s.ListPending(ctx, time.Now().Add(-time.Hour), 10)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("ConcurrentCompletionHasOneWinner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		created, err := s.CreatePending(ctx, 7)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.MarkCompleted(ctx, created.ID, i%2 == 0, float64(i)/10)
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
					return
				}
				assert.ErrorIs(t, err, fault.ErrInvalidTransition)
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, wins)
	})
}
