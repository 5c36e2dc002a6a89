package queue

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/podushkina/moderation/internal/fault"
)

// Memory is an in-process Channel. Every subscriber of a topic competes for
// the same messages, like members of one consumer group.
type Memory struct {
	mu         sync.Mutex
	topics     map[string]*memTopic
	publishErr error
	closed     bool
}

type memTopic struct {
	ch        chan *Delivery
	published []Message
	acked     int
}

func NewMemory() *Memory {
	return &Memory{topics: make(map[string]*memTopic)}
}

// SetPublishError makes every Publish fail with err until reset with nil.
func (m *Memory) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishErr = err
}

func (m *Memory) topic(name string) *memTopic {
	t, ok := m.topics[name]
	if !ok {
		t = &memTopic{ch: make(chan *Delivery, 1024)}
		m.topics[name] = t
	}
	return t
}

func (m *Memory) Publish(ctx context.Context, topic string, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fault.Unavailable("publish "+topic, errors.New("channel closed"))
	}
	if m.publishErr != nil {
		return fault.Unavailable("publish "+topic, m.publishErr)
	}

	t := m.topic(topic)
	payload := append([]byte(nil), msg.Payload...)
	d := &Delivery{ID: strconv.Itoa(len(t.published) + 1), Topic: topic, Payload: payload}
	d.ack = func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		t.acked++
		return nil
	}

	select {
	case t.ch <- d:
	default:
		return fault.Unavailable("publish "+topic, errors.New("buffer full"))
	}
	t.published = append(t.published, Message{Key: msg.Key, Payload: payload})
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &memSubscription{ch: m.topic(topic).ch, done: make(chan struct{})}, nil
}

// Redeliver puts a delivery back on its topic as the broker would after a
// consumer crash.
func (m *Memory) Redeliver(d *Delivery) error {
	m.mu.Lock()
	ch := m.topic(d.Topic).ch
	m.mu.Unlock()

	select {
	case ch <- d:
		return nil
	default:
		return fault.Unavailable("redeliver "+d.Topic, errors.New("buffer full"))
	}
}

// Published returns every message accepted on topic, in order.
func (m *Memory) Published(topic string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.topic(topic).published...)
}

func (m *Memory) Acked(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.topic(topic).acked
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type memSubscription struct {
	ch   chan *Delivery
	done chan struct{}
	once sync.Once
}

func (s *memSubscription) Next(ctx context.Context) (*Delivery, error) {
	select {
	case d := <-s.ch:
		return d, nil
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *memSubscription) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
