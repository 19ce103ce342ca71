//go:build linux
// +build linux

package poll

import (
	"math"
	"os"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"github.com/fzft/go-pollchan/log"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// https://copyconstruct.medium.com/the-method-to-epolls-madness-d9d2d6378642

const (
	readEvents  = unix.EPOLLPRI | unix.EPOLLIN
	writeEvents = unix.EPOLLOUT
)

// entry is what the poll knows about one registered descriptor.
type entry struct {
	token    Token
	interest Ready
	opts     PollOpt
	// node is set for user-space registrations; their readiness comes from
	// the node, not from the epoll event mask.
	node *readinessNode
}

type Poll struct {
	epollFd int
	wakeFd  int // eventfd used by Wakeup
	closed  atomix.Bool

	mu      sync.RWMutex
	entries map[int]*entry
}

func New() (*Poll, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		log.Logger.Error("Failed to create epoll", zap.Error(err))
		return nil, os.NewSyscallError("epoll_create1", err)
	}

	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		log.Logger.Error("Failed to create eventfd", zap.Error(err))
		_ = unix.Close(epfd)
		return nil, os.NewSyscallError("eventfd", err)
	}

	err = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, efd, &unix.EpollEvent{Fd: int32(efd), Events: readEvents})
	if err != nil {
		log.Logger.Error("Failed to add eventfd to epoll", zap.Error(err))
		_ = unix.Close(efd)
		_ = unix.Close(epfd)
		return nil, os.NewSyscallError("epoll_ctl add", err)
	}

	return &Poll{
		epollFd: epfd,
		wakeFd:  efd,
		entries: make(map[int]*entry),
	}, nil
}

// Register registers src under token. It is shorthand for src.Register(p, ...).
func (p *Poll) Register(src Evented, token Token, interest Ready, opts PollOpt) error {
	return src.Register(p, token, interest, opts)
}

func (p *Poll) Reregister(src Evented, token Token, interest Ready, opts PollOpt) error {
	return src.Reregister(p, token, interest, opts)
}

func (p *Poll) Deregister(src Evented) error {
	return src.Deregister(p)
}

// Poll waits for readiness events and stores them in events. A negative
// timeout blocks until at least one event arrives or Wakeup is called.
// An interrupted wait returns zero events and no error.
func (p *Poll) Poll(events *Events, timeout time.Duration) (int, error) {
	if p.closed.LoadAcquire() {
		return 0, ErrClosed
	}

	msec := timeoutMsec(timeout)
	events.events = events.events[:0]

	// level triggered unless the registration asked for EPOLLET
	n, err := unix.EpollWait(p.epollFd, events.raw, msec)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		log.Logger.Error("epoll wait error", zap.Error(err))
		return 0, os.NewSyscallError("epoll_wait", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	for i := 0; i < n; i++ {
		ev := &events.raw[i]
		fd := int(ev.Fd)

		if fd == p.wakeFd {
			p.drainWakeup()
			continue
		}

		e, ok := p.entries[fd]
		if !ok {
			// deregistered after the kernel queued the event
			continue
		}

		var ready Ready
		if e.node != nil {
			ready = e.node.readiness() & e.interest
		} else {
			ready = readyFromEpoll(ev.Events) & (e.interest | Error | Hup)
		}
		if ready == None {
			continue
		}
		events.events = append(events.events, Event{Token: e.token, Ready: ready})
	}

	return len(events.events), nil
}

// timeoutMsec converts a Poll timeout to epoll_wait milliseconds, rounding
// up and clamping to what the 32-bit argument can carry.
func timeoutMsec(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	if timeout > math.MaxInt32*time.Millisecond {
		return math.MaxInt32
	}
	return int((timeout + time.Millisecond - 1) / time.Millisecond)
}

// Wakeup makes a concurrent or the next Poll call return.
func (p *Poll) Wakeup() error {
	if p.closed.LoadAcquire() {
		return ErrClosed
	}
	if err := writeEventfd(p.wakeFd, 1); err != nil {
		log.Logger.Error("Failed to write to wakeup eventfd", zap.Error(err))
		return err
	}
	return nil
}

func (p *Poll) drainWakeup() {
	if _, err := readEventfd(p.wakeFd); err != nil && !IsTemporaryError(err) {
		log.Logger.Debug("Failed to drain wakeup eventfd", zap.Error(err))
	}
}

// Close releases the wakeup eventfd and the epoll descriptor. Registered
// sources stay owned by their callers.
func (p *Poll) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	p.mu.Lock()
	p.entries = make(map[int]*entry)
	p.mu.Unlock()

	var err error
	err = multierr.Append(err, CloseFd(p.wakeFd))
	err = multierr.Append(err, CloseFd(p.epollFd))
	if err != nil {
		log.Logger.Info("Failed to close poll", zap.Error(err))
	}
	return err
}

func readyFromEpoll(events uint32) Ready {
	var r Ready
	if events&readEvents != 0 {
		r |= Readable
	}
	if events&writeEvents != 0 {
		r |= Writable
	}
	if events&unix.EPOLLERR != 0 {
		r |= Error
	}
	if events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		r |= Hup
	}
	return r
}

// Events is a reusable buffer for Poll.Poll.
type Events struct {
	raw    []unix.EpollEvent
	events []Event
}

func NewEvents(capacity int) *Events {
	if capacity < 1 {
		capacity = 1
	}
	return &Events{
		raw:    make([]unix.EpollEvent, capacity),
		events: make([]Event, 0, capacity),
	}
}

func (e *Events) Len() int { return len(e.events) }

func (e *Events) Get(i int) Event { return e.events[i] }

// All returns the events of the last Poll call. The slice is reused by the
// next call.
func (e *Events) All() []Event { return e.events }
