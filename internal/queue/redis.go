package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/podushkina/moderation/internal/fault"
)

const (
	streamPrefix = "moderation:stream:"
	payloadField = "payload"
	keyField     = "key"
	readCount    = 10
)

type RedisOptions struct {
	Group    string
	Consumer string
	// Block bounds one XREADGROUP call so Next can notice cancellation.
	Block time.Duration
	// ClaimIdle is how long a delivery may stay unacknowledged by another
	// consumer before this one takes it over. Zero disables claiming.
	ClaimIdle time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// RedisStreams is a Channel over Redis Streams consumer groups. Topics map to
// streams; a delivery stays in the group's pending list until acknowledged.
type RedisStreams struct {
	client *redis.Client
	opts   RedisOptions
}

func NewRedisStreams(addr, password string, db int, opts RedisOptions) (*RedisStreams, error) {
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

	return NewRedisStreamsFromClient(client, opts), nil
}

func NewRedisStreamsFromClient(client *redis.Client, opts RedisOptions) *RedisStreams {
	if opts.Block <= 0 {
		opts.Block = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &RedisStreams{client: client, opts: opts}
}

func (r *RedisStreams) Close() error {
	return r.client.Close()
}

func (r *RedisStreams) Publish(ctx context.Context, topic string, msg Message) error {
	err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamPrefix + topic,
		Values: map[string]any{
			keyField:     msg.Key,
			payloadField: msg.Payload,
		},
	}).Err()
	if err != nil {
		return fault.Unavailable("publish "+topic, err)
	}
	return nil
}

func (r *RedisStreams) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	stream := streamPrefix + topic
	err := r.client.XGroupCreateMkStream(ctx, stream, r.opts.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fault.Unavailable("subscribe "+topic, err)
	}

	return &redisSubscription{
		client:        r.client,
		topic:         topic,
		stream:        stream,
		opts:          r.opts,
		pendingCursor: "0",
	}, nil
}

type redisSubscription struct {
	client *redis.Client
	topic  string
	stream string
	opts   RedisOptions

	mu            sync.Mutex
	buf           []redis.XMessage
	pendingCursor string
	pendingDone   bool
	lastClaim     time.Time
	closed        bool
}

// Next first drains this consumer's own pending entries, which resumes work
// left unacknowledged by a previous run, then reads new entries.
func (s *redisSubscription) Next(ctx context.Context) (*Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.closed {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for len(s.buf) > 0 {
			msg := s.buf[0]
			s.buf = s.buf[1:]
			if d := s.delivery(msg); d != nil {
				return d, nil
			}
		}

		var err error
		switch {
		case !s.pendingDone:
			err = s.read(ctx, s.pendingCursor, -1)
			if err == nil {
				if len(s.buf) == 0 {
					s.pendingDone = true
				} else {
					s.pendingCursor = s.buf[len(s.buf)-1].ID
				}
			}
		case s.opts.ClaimIdle > 0 && time.Since(s.lastClaim) >= s.opts.ClaimIdle:
			s.lastClaim = time.Now()
			err = s.claim(ctx)
			if err == nil && len(s.buf) > 0 {
				continue
			}
			if err == nil {
				err = s.read(ctx, ">", s.opts.Block)
			}
		default:
			err = s.read(ctx, ">", s.opts.Block)
		}

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fault.Unavailable("receive "+s.topic, err)
		}
	}
}

func (s *redisSubscription) read(ctx context.Context, id string, block time.Duration) error {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.opts.Group,
		Consumer: s.opts.Consumer,
		Streams:  []string{s.stream, id},
		Count:    readCount,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	for _, st := range streams {
		s.buf = append(s.buf, st.Messages...)
	}
	return nil
}

func (s *redisSubscription) claim(ctx context.Context) error {
	msgs, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.stream,
		Group:    s.opts.Group,
		Consumer: s.opts.Consumer,
		MinIdle:  s.opts.ClaimIdle,
		Start:    "0-0",
		Count:    readCount,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	s.buf = append(s.buf, msgs...)
	return nil
}

// delivery converts a stream entry. Entries trimmed from the stream come
// back without values; they are acknowledged and skipped.
func (s *redisSubscription) delivery(msg redis.XMessage) *Delivery {
	raw, ok := msg.Values[payloadField]
	if !ok {
		if err := s.client.XAck(context.Background(), s.stream, s.opts.Group, msg.ID).Err(); err != nil {
			s.opts.Logger.Error("ack trimmed stream entry", "stream", s.stream, "id", msg.ID, "error", err)
		}
		return nil
	}

	var payload []byte
	switch v := raw.(type) {
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	default:
		payload = []byte(fmt.Sprint(v))
	}

	id := msg.ID
	return &Delivery{
		ID:      id,
		Topic:   s.topic,
		Payload: payload,
		ack: func(ctx context.Context) error {
			if err := s.client.XAck(ctx, s.stream, s.opts.Group, id).Err(); err != nil {
				return fault.Unavailable("ack "+s.topic, err)
			}
			return nil
		},
	}
}

func (s *redisSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
