package channel

import (
	"errors"
	"fmt"

	"github.com/fzft/go-pollchan/poll"
)

var (
	ErrDisconnected      = errors.New("channel disconnected")
	ErrFull              = errors.New("channel full")
	ErrEmpty             = errors.New("channel empty")
	ErrAlreadyRegistered = errors.New("receiver already registered")
	ErrNotRegistered     = errors.New("receiver not registered")
)

// SendError carries back a value that was not enqueued. Err is ErrFull,
// ErrDisconnected or an unexpected transport error.
type SendError[T any] struct {
	Value T
	Err   error
}

func (e *SendError[T]) Error() string {
	return "send failed: " + e.Err.Error()
}

func (e *SendError[T]) Unwrap() error {
	return e.Err
}

// ReadinessError reports that the poll readiness could not be updated. On
// the send path the value has been enqueued anyway.
type ReadinessError struct {
	Ready poll.Ready
	Err   error
}

func (e *ReadinessError) Error() string {
	return fmt.Sprintf("set readiness %s: %v", e.Ready, e.Err)
}

func (e *ReadinessError) Unwrap() error {
	return e.Err
}

// IsDelivered reports whether a Send/TrySend result means the value was
// enqueued: nil or a readiness failure.
func IsDelivered(err error) bool {
	var re *ReadinessError
	return err == nil || errors.As(err, &re)
}
