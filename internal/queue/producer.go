package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/podushkina/moderation/internal/fault"
	"github.com/podushkina/moderation/internal/task"
)

// Producer publishes the two message kinds of the moderation flow.
type Producer struct {
	pub             Publisher
	workTopic       string
	deadLetterTopic string
	now             func() time.Time
}

func NewProducer(pub Publisher, workTopic, deadLetterTopic string) *Producer {
	return &Producer{
		pub:             pub,
		workTopic:       workTopic,
		deadLetterTopic: deadLetterTopic,
		now:             time.Now,
	}
}

func (p *Producer) WorkTopic() string       { return p.workTopic }
func (p *Producer) DeadLetterTopic() string { return p.deadLetterTopic }

// SendModerationRequest publishes a work message keyed by task id.
func (p *Producer) SendModerationRequest(ctx context.Context, itemID, taskID int64, retryCount int) error {
	body, err := json.Marshal(task.WorkMessage{
		ItemID:     itemID,
		TaskID:     taskID,
		RetryCount: retryCount,
		Timestamp:  p.now().UTC(),
	})
	if err != nil {
		return fault.Validation("encode work message: %v", err)
	}

	return p.pub.Publish(ctx, p.workTopic, Message{
		Key:     strconv.FormatInt(taskID, 10),
		Payload: body,
	})
}

// SendToDeadLetter publishes the original payload with the final error.
func (p *Producer) SendToDeadLetter(ctx context.Context, original []byte, errMsg string, retryCount int) error {
	body, err := json.Marshal(task.NewDeadLetter(original, errMsg, retryCount, p.now()))
	if err != nil {
		return fault.Validation("encode dead letter: %v", err)
	}

	var key string
	if msg, err := task.DecodeWorkMessage(original); err == nil || msg.TaskID > 0 {
		key = strconv.FormatInt(msg.TaskID, 10)
	}

	return p.pub.Publish(ctx, p.deadLetterTopic, Message{Key: key, Payload: body})
}
