//go:build linux
// +build linux

package poll

import (
	"os"
	"sync"

	"code.hybscloud.com/atomix"
	"golang.org/x/sys/unix"
)

// readinessNode backs a user-space event source with an eventfd. The
// eventfd counter is non-zero exactly while readiness intersects the
// interest, which keeps the source level-triggered for epoll without waking
// it for readiness Poll would filter out.
type readinessNode struct {
	ready atomix.Uint32

	// mu orders readiness transitions with registration changes and Close.
	mu       sync.Mutex
	efd      int
	interest Ready
	poll     *Poll
	closed   bool
}

func (n *readinessNode) readiness() Ready {
	return Ready(n.ready.LoadAcquire())
}

// Registration is the poll-side half of a user-space event source.
type Registration struct {
	node *readinessNode
}

// SetReadiness is the producer-side half of a user-space event source. It
// is safe for concurrent use.
type SetReadiness struct {
	node *readinessNode
}

// NewRegistration creates a user-space event source registered with p.
func NewRegistration(p *Poll, token Token, interest Ready, opts PollOpt) (*Registration, *SetReadiness, error) {
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, nil, os.NewSyscallError("eventfd", err)
	}

	node := &readinessNode{efd: efd, interest: interest}
	if err := p.add(efd, &entry{token: token, interest: interest, opts: opts, node: node}); err != nil {
		_ = unix.Close(efd)
		return nil, nil, err
	}
	node.poll = p

	return &Registration{node: node}, &SetReadiness{node: node}, nil
}

// Update changes token, interest and options. A deregistered source is
// registered again with p.
func (r *Registration) Update(p *Poll, token Token, interest Ready, opts PollOpt) error {
	n := r.node
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}

	e := &entry{token: token, interest: interest, opts: opts, node: n}
	switch n.poll {
	case nil:
		if err := p.add(n.efd, e); err != nil {
			return err
		}
		n.poll = p
	case p:
		if err := p.modify(n.efd, e); err != nil {
			return err
		}
	default:
		return ErrPollMismatch
	}

	ready := n.readiness()
	prev := ready & n.interest
	n.interest = interest
	return n.signal(prev, ready&interest)
}

// Deregister removes the source from p. Its readiness is kept.
func (r *Registration) Deregister(p *Poll) error {
	n := r.node
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	if n.poll == nil {
		return ErrNotRegistered
	}
	if n.poll != p {
		return ErrPollMismatch
	}

	if err := p.remove(n.efd); err != nil {
		return err
	}
	n.poll = nil
	return nil
}

// Close deregisters the source if needed and releases its eventfd. Later
// SetReadiness calls fail with ErrClosed.
func (r *Registration) Close() error {
	n := r.node
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	if n.poll != nil {
		_ = n.poll.remove(n.efd)
		n.poll = nil
	}
	return CloseFd(n.efd)
}

// SetReadiness sets the current readiness of the source. Newly set bits in
// the interest wake the poll; readiness outside the interest is recorded
// without waking it.
func (s *SetReadiness) SetReadiness(ready Ready) error {
	n := s.node
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}

	prev := n.readiness() & n.interest
	n.ready.StoreRelease(uint32(ready))
	return n.signal(prev, ready&n.interest)
}

// signal moves the eventfd counter from the visible readiness prev to next.
// Newly visible bits wake the poll; nothing visible clears it. Callers hold
// n.mu.
func (n *readinessNode) signal(prev, next Ready) error {
	switch {
	case next&^prev != None:
		return writeEventfd(n.efd, 1)
	case next == None && prev != None:
		if _, err := readEventfd(n.efd); err != nil && !IsTemporaryError(err) {
			return err
		}
	}
	return nil
}

// Readiness returns the readiness last set.
func (s *SetReadiness) Readiness() Ready {
	return s.node.readiness()
}
