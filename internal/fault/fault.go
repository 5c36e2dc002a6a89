// Package fault defines the error kinds shared by the moderation pipeline.
//
// Every error produced by the store, the message channel and the catalog
// carries one of the sentinel kinds below, so callers branch with errors.Is
// instead of matching strings.
package fault

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a missing listing, seller or task. Permanent.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks a malformed payload or input. Permanent.
	ErrValidation = errors.New("validation failed")
	// ErrTransient marks a fault expected to clear on retry.
	ErrTransient = errors.New("transient fault")
	// ErrChannelUnavailable marks a broker publish or subscribe failure.
	ErrChannelUnavailable = errors.New("channel unavailable")
	// ErrStorage marks a task store I/O failure.
	ErrStorage = errors.New("storage error")
	// ErrInvalidTransition marks an attempted mutation of a terminal task.
	ErrInvalidTransition = errors.New("invalid transition")
)

// Error attaches a kind and an operation to an optional cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return e.Op + ": " + e.Kind.Error()
	case e.Op == "":
		return e.Err.Error()
	default:
		return e.Op + ": " + e.Err.Error()
	}
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Op: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Op: fmt.Sprintf(format, args...)}
}

func InvalidTransition(format string, args ...any) error {
	return &Error{Kind: ErrInvalidTransition, Op: fmt.Sprintf(format, args...)}
}

func Transient(op string, err error) error {
	return &Error{Kind: ErrTransient, Op: op, Err: err}
}

func Storage(op string, err error) error {
	return &Error{Kind: ErrStorage, Op: op, Err: err}
}

func Unavailable(op string, err error) error {
	return &Error{Kind: ErrChannelUnavailable, Op: op, Err: err}
}

// IsPermanent reports whether retrying cannot fix err.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation)
}
