package queue

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podushkina/moderation/internal/fault"
)

func setupStreams(t *testing.T, consumer string) (*RedisStreams, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	return newStreams(t, mr, consumer), mr
}

func newStreams(t *testing.T, mr *miniredis.Miniredis, consumer string) *RedisStreams {
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rs := NewRedisStreamsFromClient(client, RedisOptions{
		Group:    "moderation-worker-group",
		Consumer: consumer,
		Block:    50 * time.Millisecond,
	})
	t.Cleanup(func() { rs.Close() })
	return rs
}

func TestRedisStreams_PublishSubscribeAck(t *testing.T) {
	rs, mr := setupStreams(t, "c1")
	ctx := context.Background()

	sub, err := rs.Subscribe(ctx, "moderation")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, rs.Publish(ctx, "moderation", Message{Key: "1", Payload: []byte(`{"task_id":1}`)}))

	d, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "moderation", d.Topic)
	assert.JSONEq(t, `{"task_id":1}`, string(d.Payload))
	require.NoError(t, d.Ack(ctx))
	require.NoError(t, sub.Close())

	// An acknowledged entry is not replayed to a restarted consumer.
	restarted, err := newStreams(t, mr, "c1").Subscribe(ctx, "moderation")
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	_, err = restarted.Next(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisStreams_NextHonorsContext(t *testing.T) {
	rs, _ := setupStreams(t, "c1")

	sub, err := rs.Subscribe(context.Background(), "moderation")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisStreams_UnackedIsRedeliveredAfterRestart(t *testing.T) {
	rs, mr := setupStreams(t, "worker-a")
	ctx := context.Background()

	first, err := rs.Subscribe(ctx, "moderation")
	require.NoError(t, err)
	require.NoError(t, rs.Publish(ctx, "moderation", Message{Payload: []byte(`{"task_id":7}`)}))

	d, err := first.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// Same consumer name after a restart resumes its pending entries.
	restarted := newStreams(t, mr, "worker-a")
	second, err := restarted.Subscribe(ctx, "moderation")
	require.NoError(t, err)

	again, err := second.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, d.ID, again.ID)
	require.NoError(t, again.Ack(ctx))

	// Once drained, the pending list is not replayed again.
	require.NoError(t, restarted.Publish(ctx, "moderation", Message{Payload: []byte(`{"task_id":8}`)}))
	next, err := second.Next(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, d.ID, next.ID)
	assert.JSONEq(t, `{"task_id":8}`, string(next.Payload))
}

func TestRedisStreams_PublishUnavailable(t *testing.T) {
	rs, mr := setupStreams(t, "c1")
	mr.Close()

	err := rs.Publish(context.Background(), "moderation", Message{Payload: []byte("x")})
	assert.ErrorIs(t, err, fault.ErrChannelUnavailable)
}

func TestRedisStreams_ClosedSubscription(t *testing.T) {
	rs, _ := setupStreams(t, "c1")

	sub, err := rs.Subscribe(context.Background(), "moderation")
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, SplitCSV(" a:9092, ,b:9092 "))
	assert.Empty(t, SplitCSV(""))
}

func TestRedisStreams_TrimmedEntryAckFailureIsLogged(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	var logs bytes.Buffer
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	rs := NewRedisStreamsFromClient(client, RedisOptions{
		Group:    "moderation-worker-group",
		Consumer: "c1",
		Logger:   slog.New(slog.NewTextHandler(&logs, nil)),
	})
	defer rs.Close()

	sub, err := rs.Subscribe(context.Background(), "moderation")
	require.NoError(t, err)
	mr.Close()

	// An entry trimmed from the stream comes back without values.
	d := sub.(*redisSubscription).delivery(redis.XMessage{ID: "1-0"})
	assert.Nil(t, d)
	assert.Contains(t, logs.String(), "ack trimmed stream entry")
	assert.Contains(t, logs.String(), "1-0")
}
