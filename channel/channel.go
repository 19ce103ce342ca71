// Package channel is a multi-producer single-consumer channel whose receiver
// is a poll.Evented: it can be registered with a poll.Poll next to sockets
// and timers, and reports Readable while it holds unread values.
//
// Readiness is level-triggered and coarse. A readable event may find the
// channel empty; treat ErrEmpty from TryRecv as normal and wait again.
package channel

import (
	"errors"

	"code.hybscloud.com/iox"
	"github.com/fzft/go-pollchan/log"
	"github.com/fzft/go-pollchan/poll"
	"github.com/fzft/go-pollchan/transport"
	"go.uber.org/zap"
)

// Unbounded creates a channel whose sends never block.
func Unbounded[T any]() (*Sender[T], *Receiver[T]) {
	return FromTransport[T](transport.Unbounded[T]())
}

// Bounded creates a channel holding at most capacity values. Send blocks
// while it is full. It panics if capacity < 1.
func Bounded[T any](capacity int) (*Sender[T], *Receiver[T]) {
	return FromTransport[T](transport.Bounded[T](capacity))
}

// FromTransport wraps the two ends of a fresh transport queue. The queue
// must not have been used before: values already in it are not counted.
func FromTransport[T any](tx *transport.Sender[T], rx *transport.Receiver[T]) (*Sender[T], *Receiver[T]) {
	txCtl, rxCtl := NewCtlPair()
	return &Sender[T]{tx: tx, ctl: txCtl}, &Receiver[T]{rx: rx, ctl: rxCtl}
}

// Sender is a producer handle. Clone it for each producer and Close every
// clone when done.
type Sender[T any] struct {
	tx  *transport.Sender[T]
	ctl SenderCtl
}

// Send enqueues v, blocking while a bounded channel is full. A
// *ReadinessError means v was delivered but the poll readiness may be
// stale; see IsDelivered.
func (s *Sender[T]) Send(v T) error {
	if err := s.tx.Send(v); err != nil {
		return sendError(v, err)
	}
	return s.ctl.Inc()
}

// TrySend is Send without blocking; a full channel returns a *SendError
// wrapping ErrFull.
func (s *Sender[T]) TrySend(v T) error {
	if err := s.tx.TrySend(v); err != nil {
		return sendError(v, err)
	}
	return s.ctl.Inc()
}

func (s *Sender[T]) Clone() *Sender[T] {
	return &Sender[T]{tx: s.tx.Clone(), ctl: s.ctl}
}

// Close releases this handle. The receiver reports ErrDisconnected once
// every clone is closed and the channel is drained.
func (s *Sender[T]) Close() {
	s.tx.Close()
}

func sendError[T any](v T, err error) error {
	switch {
	case errors.Is(err, transport.ErrClosed):
		err = ErrDisconnected
	case iox.IsWouldBlock(err):
		err = ErrFull
	}
	return &SendError[T]{Value: v, Err: err}
}

// Receiver is the single consumer. It is not cloneable.
type Receiver[T any] struct {
	rx  *transport.Receiver[T]
	ctl *ReceiverCtl
}

// TryRecv dequeues the oldest value, or fails with ErrEmpty or
// ErrDisconnected. A failed readiness update after a successful dequeue is
// logged, not returned.
func (r *Receiver[T]) TryRecv() (T, error) {
	v, err := r.rx.TryRecv()
	if err != nil {
		switch {
		case errors.Is(err, transport.ErrClosed):
			err = ErrDisconnected
		case iox.IsWouldBlock(err):
			err = ErrEmpty
		}
		return v, err
	}

	if err := r.ctl.Dec(); err != nil {
		log.Logger.Debug("readiness update after receive failed", zap.Uint32("channel", r.ctl.inner.id), zap.Error(err))
	}
	return v, nil
}

// Pending returns a snapshot of the number of unread values.
func (r *Receiver[T]) Pending() uint64 {
	return r.ctl.Pending()
}

func (r *Receiver[T]) Register(p *poll.Poll, token poll.Token, interest poll.Ready, opts poll.PollOpt) error {
	return r.ctl.Register(p, token, interest, opts)
}

func (r *Receiver[T]) Reregister(p *poll.Poll, token poll.Token, interest poll.Ready, opts poll.PollOpt) error {
	return r.ctl.Reregister(p, token, interest, opts)
}

func (r *Receiver[T]) Deregister(p *poll.Poll) error {
	return r.ctl.Deregister(p)
}

// Close disconnects the senders and releases the poll registration.
func (r *Receiver[T]) Close() error {
	r.rx.Close()
	return r.ctl.Close()
}
