package transport

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
)

type node[T any] struct {
	next  atomix.Pointer[node[T]]
	value T
}

// listQueue is an intrusive MPSC linked list: producers swap the head,
// the single consumer walks from the tail. push never fails.
type listQueue[T any] struct {
	head atomix.Pointer[node[T]]
	tail *node[T]
}

// Unbounded creates a queue without a capacity limit.
func Unbounded[T any]() (*Sender[T], *Receiver[T]) {
	stub := &node[T]{}
	q := &listQueue[T]{tail: stub}
	q.head.StoreRelease(stub)
	return newPair[T](q)
}

func (q *listQueue[T]) push(v T) error {
	n := &node[T]{value: v}
	prev := q.head.Swap(n)
	prev.next.StoreRelease(n)
	return nil
}

// pop reports iox.ErrWouldBlock while a producer sits between its head swap
// and the link; that value becomes visible once push returns.
func (q *listQueue[T]) pop() (T, error) {
	next := q.tail.next.LoadAcquire()
	if next == nil {
		var zero T
		return zero, iox.ErrWouldBlock
	}

	v := next.value
	var zero T
	next.value = zero
	q.tail = next
	return v, nil
}

func (q *listQueue[T]) release() {}
