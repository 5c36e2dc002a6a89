package task

import (
	"encoding/json"
	"time"

	"github.com/podushkina/moderation/internal/fault"
)

// WorkMessage asks a worker to classify the listing behind a task.
type WorkMessage struct {
	ItemID     int64     `json:"item_id"`
	TaskID     int64     `json:"task_id"`
	RetryCount int       `json:"retry_count"`
	Timestamp  time.Time `json:"timestamp"`
}

type DeadLetterMessage struct {
	OriginalMessage json.RawMessage `json:"original_message"`
	Error           string          `json:"error"`
	RetryCount      int             `json:"retry_count"`
	Timestamp       time.Time       `json:"timestamp"`
}

// DecodeWorkMessage parses a work payload. retry_count defaults to 0 and the
// timestamp is ignored. On error the returned message still carries whatever
// identifiers could be read, so the caller can fail the task it refers to.
func DecodeWorkMessage(payload []byte) (WorkMessage, error) {
	var raw struct {
		ItemID     *int64 `json:"item_id"`
		TaskID     *int64 `json:"task_id"`
		RetryCount *int   `json:"retry_count"`
	}
	decodeErr := json.Unmarshal(payload, &raw)

	var msg WorkMessage
	if raw.TaskID != nil && *raw.TaskID > 0 {
		msg.TaskID = *raw.TaskID
	}
	if raw.ItemID != nil && *raw.ItemID > 0 {
		msg.ItemID = *raw.ItemID
	}
	if raw.RetryCount != nil {
		msg.RetryCount = *raw.RetryCount
	}

	switch {
	case decodeErr != nil:
		return msg, fault.Validation("decode work message: %v", decodeErr)
	case msg.TaskID == 0:
		return msg, fault.Validation("work message: task_id missing or not positive")
	case msg.ItemID == 0:
		return msg, fault.Validation("work message: item_id missing or not positive")
	case msg.RetryCount < 0:
		return msg, fault.Validation("work message: retry_count %d is negative", msg.RetryCount)
	}
	return msg, nil
}

// NewDeadLetter wraps the original payload. Bodies that are not valid JSON are
// kept as a JSON string so the dead-letter message stays decodable.
func NewDeadLetter(original []byte, errMsg string, retryCount int, now time.Time) DeadLetterMessage {
	raw := json.RawMessage(original)
	if !json.Valid(original) {
		quoted, _ := json.Marshal(string(original))
		raw = quoted
	}
	return DeadLetterMessage{
		OriginalMessage: raw,
		Error:           errMsg,
		RetryCount:      retryCount,
		Timestamp:       now.UTC(),
	}
}
