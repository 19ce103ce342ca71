//go:build linux
// +build linux

package poll

import (
	"os"

	"golang.org/x/sys/unix"
)

// epollMask translates an interest set and trigger options into epoll flags.
// User-space registrations are always watched through EPOLLIN on their
// eventfd whatever readiness they carry.
func epollMask(interest Ready, opts PollOpt, user bool) uint32 {
	var events uint32
	if user {
		if interest != None {
			events |= unix.EPOLLIN
		}
	} else {
		if interest&Readable != 0 {
			events |= readEvents | unix.EPOLLRDHUP
		}
		if interest&Writable != 0 {
			events |= writeEvents
		}
	}
	if opts&Edge != 0 {
		events |= unix.EPOLLET
	}
	if opts&Oneshot != 0 {
		events |= unix.EPOLLONESHOT
	}
	return events
}

// add registers fd with epoll and records its entry.
func (p *Poll) add(fd int, e *entry) error {
	if p.closed.LoadAcquire() {
		return ErrClosed
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ev := &unix.EpollEvent{Fd: int32(fd), Events: epollMask(e.interest, e.opts, e.node != nil)}
	if err := unix.EpollCtl(p.epollFd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return os.NewSyscallError("epoll_ctl add", err)
	}

	p.entries[fd] = e
	return nil
}

// modify updates the interest of an already registered fd.
func (p *Poll) modify(fd int, e *entry) error {
	if p.closed.LoadAcquire() {
		return ErrClosed
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.entries[fd]; !ok {
		return ErrNotRegistered
	}

	ev := &unix.EpollEvent{Fd: int32(fd), Events: epollMask(e.interest, e.opts, e.node != nil)}
	if err := unix.EpollCtl(p.epollFd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return os.NewSyscallError("epoll_ctl mod", err)
	}

	p.entries[fd] = e
	return nil
}

// remove deletes fd from epoll.
func (p *Poll) remove(fd int) error {
	if p.closed.LoadAcquire() {
		return ErrClosed
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.entries[fd]; !ok {
		return ErrNotRegistered
	}

	if err := unix.EpollCtl(p.epollFd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return os.NewSyscallError("epoll_ctl del", err)
	}

	delete(p.entries, fd)
	return nil
}

// Fd is a raw file descriptor watched through its kernel readiness.
// The caller keeps ownership: deregister before closing it, otherwise a
// recycled descriptor number may receive stale events.
type Fd int

func (fd Fd) Register(p *Poll, token Token, interest Ready, opts PollOpt) error {
	return p.add(int(fd), &entry{token: token, interest: interest, opts: opts})
}

func (fd Fd) Reregister(p *Poll, token Token, interest Ready, opts PollOpt) error {
	return p.modify(int(fd), &entry{token: token, interest: interest, opts: opts})
}

func (fd Fd) Deregister(p *Poll) error {
	return p.remove(int(fd))
}
