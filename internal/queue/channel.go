// Package queue is the message channel between the API and the workers:
// durable, at-least-once publish/subscribe over a broker.
package queue

import (
	"context"
	"errors"
)

// Message is one broker payload. Key selects the partition on brokers that
// partition by key, so messages about one task stay ordered.
type Message struct {
	Key     string
	Payload []byte
}

type Publisher interface {
	// Publish fails with fault.ErrChannelUnavailable instead of dropping.
	Publish(ctx context.Context, topic string, msg Message) error
}

type Channel interface {
	Publisher
	// Subscribe joins the consumer group for topic. Unacknowledged
	// deliveries are redelivered, possibly to another subscriber.
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Close() error
}

type Subscription interface {
	// Next blocks until a delivery is available or ctx is done.
	Next(ctx context.Context) (*Delivery, error)
	Close() error
}

type Delivery struct {
	ID      string
	Topic   string
	Payload []byte
	ack     func(ctx context.Context) error
}

// Ack confirms processing; the broker will not redeliver the message.
func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

var ErrClosed = errors.New("subscription closed")
