package transport

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
)

// ring is the subset of an lfq queue used here.
type ring[T any] interface {
	Enqueue(elem *T) error
	Dequeue() (T, error)
}

// boundedQueue holds at most capacity values. The lfq ring rounds its size
// up to a power of two, so the exact bound is kept by reserving a slot
// before every enqueue.
type boundedQueue[T any] struct {
	r        ring[T]
	capacity uint64
	used     atomix.Uint64
}

// Bounded creates a queue holding at most capacity values. It panics if
// capacity < 1.
func Bounded[T any](capacity int) (*Sender[T], *Receiver[T]) {
	if capacity < 1 {
		panic("transport: bounded capacity must be at least 1")
	}

	size := capacity
	if size < 2 {
		size = 2
	}

	q := &boundedQueue[T]{
		r:        lfq.Build[T](lfq.New(size).SingleConsumer().Compact()),
		capacity: uint64(capacity),
	}
	return newPair[T](q)
}

func (q *boundedQueue[T]) reserve() bool {
	for {
		used := q.used.LoadAcquire()
		if used >= q.capacity {
			return false
		}
		if q.used.CompareAndSwap(used, used+1) {
			return true
		}
	}
}

func (q *boundedQueue[T]) push(v T) error {
	if !q.reserve() {
		return iox.ErrWouldBlock
	}
	if err := q.r.Enqueue(&v); err != nil {
		q.used.Add(^uint64(0))
		return err
	}
	return nil
}

func (q *boundedQueue[T]) pop() (T, error) {
	v, err := q.r.Dequeue()
	if err != nil {
		return v, err
	}
	q.used.Add(^uint64(0))
	return v, nil
}

// release lets the consumer drain past lfq's producer-activity threshold.
func (q *boundedQueue[T]) release() {
	if d, ok := q.r.(lfq.Drainer); ok {
		d.Drain()
	}
}
