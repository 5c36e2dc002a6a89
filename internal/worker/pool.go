package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/podushkina/moderation/internal/queue"
)

type Handler interface {
	Handle(ctx context.Context, payload []byte) (Outcome, error)
}

// Pool runs count consumers of one topic, each with its own subscription in
// the shared consumer group.
type Pool struct {
	channel queue.Channel
	topic   string
	handler Handler
	count   int
	logger  *slog.Logger

	wg   sync.WaitGroup
	mu   sync.Mutex
	subs []queue.Subscription
}

func NewPool(ch queue.Channel, topic string, h Handler, count int, logger *slog.Logger) *Pool {
	if count < 1 {
		count = 1
	}
	return &Pool{
		channel: ch,
		topic:   topic,
		handler: h,
		count:   count,
		logger:  logger,
	}
}

// Start subscribes every consumer before any of them runs, so a broker that
// is down fails startup instead of a background goroutine.
func (p *Pool) Start(ctx context.Context) error {
	subs := make([]queue.Subscription, 0, p.count)
	for i := 0; i < p.count; i++ {
		sub, err := p.channel.Subscribe(ctx, p.topic)
		if err != nil {
			for _, s := range subs {
				s.Close()
			}
			return err
		}
		subs = append(subs, sub)
	}

	p.mu.Lock()
	p.subs = subs
	p.mu.Unlock()

	for i, sub := range subs {
		p.wg.Add(1)
		go p.worker(ctx, i, sub)
	}
	p.logger.Info("started workers", "count", p.count, "topic", p.topic)
	return nil
}

// Stop waits for the consumers to return after ctx passed to Start is
// cancelled, then releases their subscriptions.
func (p *Pool) Stop() {
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.subs {
		s.Close()
	}
	p.subs = nil
	p.logger.Info("all workers stopped")
}

func (p *Pool) worker(ctx context.Context, id int, sub queue.Subscription) {
	defer p.wg.Done()
	log := p.logger.With("worker", id)
	log.Info("worker started")

	for {
		d, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				log.Info("worker shutting down")
				return
			}
			log.Error("receive failed", "error", err)
			sleepCtx(ctx, time.Second)
			continue
		}

		p.process(ctx, log, d)
	}
}

func (p *Pool) process(ctx context.Context, log *slog.Logger, d *queue.Delivery) {
	outcome, err := p.handler.Handle(ctx, d.Payload)
	if err != nil {
		log.Error("message left unacknowledged", "delivery_id", d.ID, "error", err)
		return
	}

	if err := d.Ack(context.WithoutCancel(ctx)); err != nil {
		log.Error("ack failed", "delivery_id", d.ID, "outcome", string(outcome), "error", err)
		return
	}
	log.Debug("message acknowledged", "delivery_id", d.ID, "outcome", string(outcome))
}
