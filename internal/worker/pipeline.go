// Package worker consumes work messages and drives each one through
// classification to a committed outcome, a retry or a dead letter.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/podushkina/moderation/internal/catalog"
	"github.com/podushkina/moderation/internal/fault"
	"github.com/podushkina/moderation/internal/queue"
	"github.com/podushkina/moderation/internal/retry"
	"github.com/podushkina/moderation/internal/store"
	"github.com/podushkina/moderation/internal/task"
)

type Outcome string

const (
	OutcomeDone         Outcome = "done"
	OutcomeRetrying     Outcome = "retrying"
	OutcomeDeadLettered Outcome = "dead_lettered"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeError        Outcome = "error"
)

// Moderator is the classification step.
type Moderator interface {
	Moderate(ctx context.Context, l *catalog.Listing, s *catalog.Seller) (bool, float64, error)
}

// Pipeline handles one work message at a time per call. It is safe for
// concurrent use; deliveries of the same task are serialized.
type Pipeline struct {
	store     store.Store
	catalog   catalog.Repository
	moderator Moderator
	producer  *queue.Producer
	policy    retry.Policy
	metrics   *Metrics
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration)

	locks taskLocks
}

func NewPipeline(st store.Store, cat catalog.Repository, mod Moderator, prod *queue.Producer, policy retry.Policy, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:     st,
		catalog:   cat,
		moderator: mod,
		producer:  prod,
		policy:    policy,
		logger:    logger,
		sleep:     sleepCtx,
		locks:     taskLocks{m: make(map[int64]*taskLock)},
	}
}

// WithMetrics records every handled message in m.
func (p *Pipeline) WithMetrics(m *Metrics) *Pipeline {
	p.metrics = m
	return p
}

// Handle processes one payload. A nil error means the message is settled and
// may be acknowledged. A non-nil error means the outcome could not be
// committed and the message must stay unacknowledged for redelivery.
func (p *Pipeline) Handle(ctx context.Context, payload []byte) (Outcome, error) {
	start := time.Now()
	outcome, err := p.handle(ctx, payload)
	if err != nil {
		outcome = OutcomeError
	}
	p.metrics.observe(outcome, time.Since(start))
	return outcome, err
}

func (p *Pipeline) handle(ctx context.Context, payload []byte) (Outcome, error) {
	msg, decodeErr := task.DecodeWorkMessage(payload)
	log := p.logger.With("task_id", msg.TaskID, "item_id", msg.ItemID, "retry_count", msg.RetryCount)

	if msg.TaskID == 0 {
		log.Warn("malformed work message", "error", decodeErr)
		return p.deadLetterOnly(ctx, log, payload, decodeErr, msg.RetryCount)
	}

	unlock := p.locks.lock(msg.TaskID)
	defer unlock()

	current, err := p.store.Get(ctx, msg.TaskID)
	switch {
	case errors.Is(err, fault.ErrNotFound):
		log.Warn("work message for unknown task", "error", err)
		return p.deadLetterOnly(ctx, log, payload, err, msg.RetryCount)
	case err != nil:
		log.Error("load task", "error", err)
		return "", fmt.Errorf("load task %d: %w", msg.TaskID, err)
	case current.Status.Terminal():
		log.Info("duplicate delivery", "status", current.Status)
		return OutcomeDuplicate, nil
	}

	retryCount := max(msg.RetryCount, current.Attempts)

	var (
		isViolation bool
		probability float64
	)
	procErr := decodeErr
	if procErr == nil {
		isViolation, probability, procErr = p.process(ctx, msg.ItemID)
	}

	// The commit must finish even if shutdown starts now.
	commitCtx := context.WithoutCancel(ctx)

	if procErr == nil {
		if _, err := p.store.MarkCompleted(commitCtx, msg.TaskID, isViolation, probability); err != nil {
			return p.commitFailed(log, "mark completed", err)
		}
		log.Info("moderation completed", "is_violation", isViolation, "probability", probability)
		return OutcomeDone, nil
	}

	if ctx.Err() != nil {
		log.Info("processing interrupted by shutdown", "error", procErr)
		return "", fmt.Errorf("task %d: %w", msg.TaskID, ctx.Err())
	}

	errMsg := procErr.Error()
	decision := p.policy.Decide(procErr, retryCount)
	log.Warn("moderation attempt failed", "error", errMsg, "decision", decision.Action.String(), "attempts", current.Attempts)

	if decision.Action == retry.ActionRetry {
		if _, err := p.store.MarkRetry(commitCtx, msg.TaskID, errMsg); err != nil {
			return p.commitFailed(log, "mark retry", err)
		}

		p.sleep(ctx, decision.Delay)

		if err := p.producer.SendModerationRequest(commitCtx, msg.ItemID, msg.TaskID, retryCount+1); err != nil {
			log.Error("republish failed, task left pending", "error", err)
			return "", fmt.Errorf("republish task %d: %w", msg.TaskID, err)
		}
		log.Info("moderation retry scheduled", "next_retry_count", retryCount+1, "delay", decision.Delay)
		return OutcomeRetrying, nil
	}

	if _, err := p.store.MarkFailed(commitCtx, msg.TaskID, errMsg); err != nil {
		return p.commitFailed(log, "mark failed", err)
	}
	if err := p.producer.SendToDeadLetter(commitCtx, payload, errMsg, retryCount+1); err != nil {
		log.Error("dead letter publish failed", "error", err)
		return "", fmt.Errorf("dead letter task %d: %w", msg.TaskID, err)
	}
	log.Warn("moderation dead-lettered", "error", errMsg)
	return OutcomeDeadLettered, nil
}

func (p *Pipeline) process(ctx context.Context, itemID int64) (bool, float64, error) {
	listing, err := p.catalog.GetListing(ctx, itemID)
	if err != nil {
		return false, 0, err
	}
	seller, err := p.catalog.GetSeller(ctx, listing.SellerID)
	if err != nil {
		return false, 0, err
	}
	return p.moderator.Moderate(ctx, listing, seller)
}

// deadLetterOnly handles messages that refer to no stored task.
func (p *Pipeline) deadLetterOnly(ctx context.Context, log *slog.Logger, payload []byte, cause error, retryCount int) (Outcome, error) {
	commitCtx := context.WithoutCancel(ctx)
	if err := p.producer.SendToDeadLetter(commitCtx, payload, cause.Error(), retryCount+1); err != nil {
		log.Error("dead letter publish failed", "error", err)
		return "", fmt.Errorf("dead letter: %w", err)
	}
	log.Warn("message dead-lettered", "error", cause)
	return OutcomeDeadLettered, nil
}

// commitFailed treats a lost race against another delivery as a duplicate.
func (p *Pipeline) commitFailed(log *slog.Logger, op string, err error) (Outcome, error) {
	if errors.Is(err, fault.ErrInvalidTransition) {
		log.Info("duplicate delivery", "op", op, "error", err)
		return OutcomeDuplicate, nil
	}
	log.Error("commit failed", "op", op, "error", err)
	return "", fmt.Errorf("%s: %w", op, err)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

type taskLock struct {
	mu   sync.Mutex
	refs int
}

type taskLocks struct {
	mu sync.Mutex
	m  map[int64]*taskLock
}

func (l *taskLocks) lock(id int64) func() {
	l.mu.Lock()
	tl, ok := l.m[id]
	if !ok {
		tl = &taskLock{}
		l.m[id] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.mu.Lock()
	return func() {
		tl.mu.Unlock()
		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}
