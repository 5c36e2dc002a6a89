package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/podushkina/moderation/internal/fault"
	"github.com/podushkina/moderation/internal/task"
)

const (
	seqKey         = "moderation:task:seq"
	taskPrefix     = "moderation:task:"
	pendingKey     = "moderation:pending"
	itemPendingFmt = "moderation:item:%d:pending"

	maxTxAttempts = 10
)

type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedis(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisFromClient(client), nil
}

func NewRedisFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) CreatePending(ctx context.Context, itemID int64) (*task.Task, error) {
	id, err := s.client.Incr(ctx, seqKey).Result()
	if err != nil {
		return nil, fault.Storage("allocate task id", err)
	}

	t := task.NewPending(id, itemID, s.now().UTC())
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, taskKey(id), data, 0)
		pipe.ZAdd(ctx, pendingKey, redis.Z{Score: float64(t.CreatedAt.UnixMilli()), Member: id})
		pipe.ZAdd(ctx, itemPendingKey(itemID), redis.Z{Score: float64(id), Member: id})
		return nil
	})
	if err != nil {
		return nil, fault.Storage("create task", err)
	}

	return t, nil
}

func (s *RedisStore) Get(ctx context.Context, id int64) (*task.Task, error) {
	return getTask(ctx, s.client, id)
}

func (s *RedisStore) MarkCompleted(ctx context.Context, id int64, isViolation bool, probability float64) (*task.Task, error) {
	return s.transition(ctx, id, func(t *task.Task) error {
		return t.Complete(isViolation, probability, s.now().UTC())
	})
}

func (s *RedisStore) MarkFailed(ctx context.Context, id int64, errorMessage string) (*task.Task, error) {
	return s.transition(ctx, id, func(t *task.Task) error {
		return t.Fail(errorMessage, s.now().UTC())
	})
}

func (s *RedisStore) MarkRetry(ctx context.Context, id int64, errorMessage string) (*task.Task, error) {
	return s.transition(ctx, id, func(t *task.Task) error {
		return t.Retry(errorMessage)
	})
}

func (s *RedisStore) RecordError(ctx context.Context, id int64, errorMessage string) (*task.Task, error) {
	return s.transition(ctx, id, func(t *task.Task) error {
		return t.RecordError(errorMessage)
	})
}

func (s *RedisStore) GetLatestPendingByItem(ctx context.Context, itemID int64) (*task.Task, error) {
	ids, err := s.client.ZRevRange(ctx, itemPendingKey(itemID), 0, 0).Result()
	if err != nil {
		return nil, fault.Storage("latest pending task", err)
	}
	if len(ids) == 0 {
		return nil, fault.NotFound("pending task for item %d", itemID)
	}

	id, err := strconv.ParseInt(ids[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse task id %q: %w", ids[0], err)
	}
	return s.Get(ctx, id)
}

func (s *RedisStore) ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]*task.Task, error) {
	by := &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(createdBefore.UnixMilli(), 10),
	}
	if limit > 0 {
		by.Count = int64(limit)
	}
	ids, err := s.client.ZRangeByScore(ctx, pendingKey, by).Result()
	if err != nil {
		return nil, fault.Storage("list pending tasks", err)
	}

	tasks := make([]*task.Task, 0, len(ids))
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		t, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, fault.ErrNotFound) {
				continue
			}
			return nil, err
		}
		tasks = append(tasks, t)
	}

	return tasks, nil
}

// transition applies fn under WATCH so concurrent readers never see a
// half-written record and concurrent writers cannot interleave.
func (s *RedisStore) transition(ctx context.Context, id int64, fn func(*task.Task) error) (*task.Task, error) {
	key := taskKey(id)
	var updated *task.Task

	txf := func(tx *redis.Tx) error {
		t, err := getTask(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}

		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal task: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if t.Status.Terminal() {
				pipe.ZRem(ctx, pendingKey, id)
				pipe.ZRem(ctx, itemPendingKey(t.ItemID), id)
			}
			return nil
		})
		if err != nil {
			return err
		}
		updated = t
		return nil
	}

	for i := 0; i < maxTxAttempts; i++ {
		err := s.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return updated, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, fault.ErrNotFound), errors.Is(err, fault.ErrInvalidTransition),
			errors.Is(err, fault.ErrValidation), errors.Is(err, fault.ErrStorage):
			return nil, err
		default:
			return nil, fault.Storage(fmt.Sprintf("update task %d", id), err)
		}
	}

	return nil, fault.Storage(fmt.Sprintf("update task %d", id), errors.New("too much contention"))
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getTask(ctx context.Context, c getter, id int64) (*task.Task, error) {
	data, err := c.Get(ctx, taskKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fault.NotFound("task %d", id)
		}
		return nil, fault.Storage(fmt.Sprintf("get task %d", id), err)
	}

	var t task.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fault.Storage(fmt.Sprintf("decode task %d", id), err)
	}

	return &t, nil
}

func taskKey(id int64) string {
	return taskPrefix + strconv.FormatInt(id, 10)
}

func itemPendingKey(itemID int64) string {
	return fmt.Sprintf(itemPendingFmt, itemID)
}
