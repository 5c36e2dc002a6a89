package queue

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/podushkina/moderation/internal/fault"
)

// JetStream is a Channel over NATS JetStream. Each topic gets its own stream
// and the group name is used as the durable pull consumer.
type JetStream struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	group   string
	ackWait time.Duration
}

func NewJetStream(url, group string, ackWait time.Duration) (*JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}
	if ackWait <= 0 {
		ackWait = 30 * time.Second
	}

	return &JetStream{nc: nc, js: js, group: group, ackWait: ackWait}, nil
}

func (j *JetStream) Close() error {
	return j.nc.Drain()
}

func (j *JetStream) ensureStream(topic string) (string, error) {
	name := streamName(topic)
	if _, err := j.js.StreamInfo(name); err == nil {
		return name, nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return "", err
	}

	_, err := j.js.AddStream(&nats.StreamConfig{
		Name:      name,
		Subjects:  []string{topic},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return "", err
	}
	return name, nil
}

func (j *JetStream) Publish(ctx context.Context, topic string, msg Message) error {
	if _, err := j.ensureStream(topic); err != nil {
		return fault.Unavailable("publish "+topic, err)
	}

	m := nats.NewMsg(topic)
	m.Data = msg.Payload
	if msg.Key != "" {
		m.Header.Set("Moderation-Key", msg.Key)
	}
	if _, err := j.js.PublishMsg(m, nats.Context(ctx)); err != nil {
		return fault.Unavailable("publish "+topic, err)
	}
	return nil
}

func (j *JetStream) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	stream, err := j.ensureStream(topic)
	if err != nil {
		return nil, fault.Unavailable("subscribe "+topic, err)
	}

	sub, err := j.js.PullSubscribe(topic, j.group,
		nats.BindStream(stream),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(j.ackWait),
	)
	if err != nil {
		return nil, fault.Unavailable("subscribe "+topic, err)
	}

	return &jsSubscription{sub: sub, topic: topic}, nil
}

type jsSubscription struct {
	sub   *nats.Subscription
	topic string
}

func (s *jsSubscription) Next(ctx context.Context) (*Delivery, error) {
	for {
		fctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		msgs, err := s.sub.Fetch(1, nats.Context(fctx))
		cancel()

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
				continue
			}
			return nil, fault.Unavailable("receive "+s.topic, err)
		}
		if len(msgs) == 0 {
			continue
		}

		m := msgs[0]
		id := ""
		if meta, err := m.Metadata(); err == nil {
			id = meta.Stream + "/" + strconv.FormatUint(meta.Sequence.Stream, 10)
		}
		return &Delivery{
			ID:      id,
			Topic:   s.topic,
			Payload: m.Data,
			ack: func(ctx context.Context) error {
				if err := m.AckSync(nats.Context(ctx)); err != nil {
					return fault.Unavailable("ack "+s.topic, err)
				}
				return nil
			},
		}, nil
	}
}

func (s *jsSubscription) Close() error {
	return s.sub.Unsubscribe()
}

func streamName(topic string) string {
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")
	return strings.ToUpper(r.Replace(topic))
}
