// Package retry decides what happens to a work message whose processing failed.
package retry

import (
	"time"

	"github.com/podushkina/moderation/internal/fault"
)

type Action int

const (
	ActionRetry Action = iota + 1
	ActionDeadLetter
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionDeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffExponential Backoff = "exponential"
)

type Decision struct {
	Action Action
	Delay  time.Duration
}

// Policy bounds retries of transient faults. Delay is the base interval;
// with BackoffExponential it doubles per retry, capped at MaxDelay.
type Policy struct {
	MaxRetries int
	Delay      time.Duration
	Backoff    Backoff
	MaxDelay   time.Duration
}

// Decide returns a retry iff err is transient and retryCount < MaxRetries.
func (p Policy) Decide(err error, retryCount int) Decision {
	if fault.IsPermanent(err) || retryCount >= p.MaxRetries {
		return Decision{Action: ActionDeadLetter}
	}
	return Decision{Action: ActionRetry, Delay: p.delay(retryCount)}
}

func (p Policy) delay(retryCount int) time.Duration {
	if p.Backoff != BackoffExponential || p.Delay <= 0 {
		return p.Delay
	}
	if retryCount > 30 {
		retryCount = 30
	}
	d := p.Delay << uint(retryCount)
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		return p.MaxDelay
	}
	return d
}
