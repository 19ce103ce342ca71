// Package lazy provides cells that are written at most once and then read
// concurrently without locks.
package lazy

import (
	"errors"

	"code.hybscloud.com/atomix"
)

var ErrAlreadySet = errors.New("lazy: value already set")

const (
	stateEmpty uint32 = iota
	stateInitializing
	stateReady
)

// Lazy is a write-once cell. A second Set or Init fails with ErrAlreadySet
// and leaves the published value untouched.
type Lazy[T any] struct {
	state atomix.Uint32
	value T
}

// Set publishes v if the cell is empty.
func (l *Lazy[T]) Set(v T) error {
	if !l.state.CompareAndSwap(stateEmpty, stateInitializing) {
		return ErrAlreadySet
	}
	l.value = v
	l.state.StoreRelease(stateReady)
	return nil
}

// Init claims the cell, runs fn and publishes its result. If fn fails the
// cell goes back to empty and the error is returned.
func (l *Lazy[T]) Init(fn func() (T, error)) (T, error) {
	var zero T
	if !l.state.CompareAndSwap(stateEmpty, stateInitializing) {
		return zero, ErrAlreadySet
	}

	v, err := fn()
	if err != nil {
		l.state.StoreRelease(stateEmpty)
		return zero, err
	}

	l.value = v
	l.state.StoreRelease(stateReady)
	return v, nil
}

// Get returns the published value. Readers racing an in-flight Set or Init
// observe the cell as empty.
func (l *Lazy[T]) Get() (T, bool) {
	if l.state.LoadAcquire() != stateReady {
		var zero T
		return zero, false
	}
	return l.value, true
}

// IsSet reports whether the cell has been claimed, even if publication is
// still in progress.
func (l *Lazy[T]) IsSet() bool {
	return l.state.LoadAcquire() != stateEmpty
}

// AtomicLazy is a publication cell for hot read paths: Get is a single
// atomic load. Unlike Lazy it can be replaced with Swap.
type AtomicLazy[T any] struct {
	ptr atomix.Pointer[T]
}

func (l *AtomicLazy[T]) Get() (*T, bool) {
	p := l.ptr.LoadAcquire()
	return p, p != nil
}

// Set publishes v if nothing is published yet.
func (l *AtomicLazy[T]) Set(v T) error {
	if l.ptr.LoadAcquire() != nil {
		return ErrAlreadySet
	}
	if !l.ptr.CompareAndSwap(nil, &v) {
		return ErrAlreadySet
	}
	return nil
}

// Swap publishes v unconditionally and returns the previous value, if any.
func (l *AtomicLazy[T]) Swap(v T) *T {
	return l.ptr.Swap(&v)
}
