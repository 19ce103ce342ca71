// Package transport provides the multi-producer single-consumer FIFO queues
// that carry channel values.
//
// Operations never block except Sender.Send on a full bounded queue.
// Full and empty are reported as iox.ErrWouldBlock; a vanished peer as
// ErrClosed.
package transport

import (
	"errors"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
)

var ErrClosed = errors.New("transport: peer closed")

// queue is the storage behind a sender/receiver pair. push may be called
// concurrently, pop only from the single consumer.
type queue[T any] interface {
	push(v T) error
	pop() (T, error)
	// release is called once every sender has closed.
	release()
}

type shared[T any] struct {
	q        queue[T]
	senders  atomix.Uint32
	rxClosed atomix.Uint32
}

func newPair[T any](q queue[T]) (*Sender[T], *Receiver[T]) {
	s := &shared[T]{q: q}
	s.senders.Add(1)
	return &Sender[T]{s: s}, &Receiver[T]{s: s}
}

// Sender is a producer handle. Clone it for every producer and Close each
// clone; the receiver observes ErrClosed once all of them are closed and
// the queue is drained.
type Sender[T any] struct {
	s      *shared[T]
	closed atomix.Uint32
}

// Send enqueues v, backing off while a bounded queue is full.
func (tx *Sender[T]) Send(v T) error {
	return tx.send(v, true)
}

// TrySend enqueues v or fails with iox.ErrWouldBlock when the queue is full.
func (tx *Sender[T]) TrySend(v T) error {
	return tx.send(v, false)
}

func (tx *Sender[T]) send(v T, block bool) error {
	if tx.closed.LoadAcquire() != 0 {
		return ErrClosed
	}

	var bo iox.Backoff
	for {
		if tx.s.rxClosed.LoadAcquire() != 0 {
			return ErrClosed
		}
		err := tx.s.q.push(v)
		if err == nil {
			return nil
		}
		if !block || !iox.IsWouldBlock(err) {
			return err
		}
		bo.Wait()
	}
}

// Clone returns a new producer handle on the same queue. Cloning a closed
// sender yields a closed sender, and so does a Clone that loses a race with
// the last Close: the sender count never moves up from zero.
func (tx *Sender[T]) Clone() *Sender[T] {
	clone := &Sender[T]{s: tx.s}
	if tx.closed.LoadAcquire() == 0 {
		for {
			n := tx.s.senders.LoadAcquire()
			if n == 0 {
				break
			}
			if tx.s.senders.CompareAndSwap(n, n+1) {
				return clone
			}
		}
	}
	clone.closed.Add(1)
	return clone
}

// Close releases this handle. It is idempotent.
func (tx *Sender[T]) Close() {
	if tx.closed.Add(1) != 1 {
		return
	}
	if tx.s.senders.Add(^uint32(0)) == 0 {
		tx.s.q.release()
	}
}

// Receiver is the single consumer handle.
type Receiver[T any] struct {
	s *shared[T]
}

// TryRecv dequeues the oldest value. It fails with iox.ErrWouldBlock when
// nothing is queued and with ErrClosed when nothing is queued and every
// sender is closed.
func (rx *Receiver[T]) TryRecv() (T, error) {
	if rx.s.rxClosed.LoadAcquire() != 0 {
		var zero T
		return zero, ErrClosed
	}

	// Loaded before pop: every push of a closed sender happened before its
	// Close, so an empty queue after seeing zero senders is final.
	disconnected := rx.s.senders.LoadAcquire() == 0

	v, err := rx.s.q.pop()
	if err == nil {
		return v, nil
	}
	if disconnected && iox.IsWouldBlock(err) {
		return v, ErrClosed
	}
	return v, err
}

// Close makes every further send fail with ErrClosed.
func (rx *Receiver[T]) Close() {
	rx.s.rxClosed.Add(1)
}
