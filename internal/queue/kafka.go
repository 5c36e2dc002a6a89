package queue

import (
	"context"
	"strconv"
	"strings"
	"time"

	kgo "github.com/segmentio/kafka-go"

	"github.com/podushkina/moderation/internal/fault"
)

// Kafka is a Channel over Kafka topics. Offsets are committed only when a
// delivery is acknowledged.
type Kafka struct {
	brokers []string
	group   string
	writer  *kgo.Writer
	timeout time.Duration
}

func NewKafka(brokersCSV, group string) *Kafka {
	brokers := SplitCSV(brokersCSV)

	w := &kgo.Writer{
		Addr:                   kgo.TCP(brokers...),
		Balancer:               &kgo.Hash{},
		RequiredAcks:           kgo.RequireAll,
		AllowAutoTopicCreation: true,
	}

	return &Kafka{
		brokers: brokers,
		group:   group,
		writer:  w,
		timeout: 5 * time.Second,
	}
}

func (k *Kafka) Close() error { return k.writer.Close() }

func (k *Kafka) Publish(ctx context.Context, topic string, msg Message) error {
	cctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	err := k.writer.WriteMessages(cctx, kgo.Message{
		Topic: topic,
		Key:   []byte(msg.Key),
		Value: msg.Payload,
		Time:  time.Now(),
	})
	if err != nil {
		return fault.Unavailable("publish "+topic, err)
	}
	return nil
}

func (k *Kafka) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	r := kgo.NewReader(kgo.ReaderConfig{
		Brokers:        k.brokers,
		Topic:          topic,
		GroupID:        k.group,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commits
		StartOffset:    kgo.FirstOffset,
	})
	return &kafkaSubscription{reader: r, topic: topic}, nil
}

type kafkaSubscription struct {
	reader *kgo.Reader
	topic  string
}

func (s *kafkaSubscription) Next(ctx context.Context) (*Delivery, error) {
	m, err := s.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fault.Unavailable("receive "+s.topic, err)
	}

	return &Delivery{
		ID:      strconv.Itoa(m.Partition) + "/" + strconv.FormatInt(m.Offset, 10),
		Topic:   s.topic,
		Payload: m.Value,
		ack: func(ctx context.Context) error {
			cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := s.reader.CommitMessages(cctx, m); err != nil {
				return fault.Unavailable("commit "+s.topic, err)
			}
			return nil
		},
	}, nil
}

func (s *kafkaSubscription) Close() error { return s.reader.Close() }

func SplitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
