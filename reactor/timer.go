//go:build linux
// +build linux

package reactor

import (
	"encoding/binary"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/fzft/go-pollchan/poll"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

var ErrInvalidInterval = errors.New("reactor: ticker interval must be positive")

// Timer is a periodic timerfd driven by the reactor loop.
type Timer struct {
	r     *Reactor
	fd    int
	token poll.Token

	once sync.Once
}

// Ticker calls fn on the loop every d. fn receives the number of intervals
// that elapsed since the previous call, which is more than one when the
// loop fell behind.
func (r *Reactor) Ticker(d time.Duration, fn func(expirations uint64) error) (*Timer, error) {
	if d <= 0 {
		return nil, ErrInvalidInterval
	}

	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("timerfd_create", err)
	}

	ts := unix.NsecToTimespec(d.Nanoseconds())
	if err := unix.TimerfdSettime(fd, 0, &unix.ItimerSpec{Interval: ts, Value: ts}, nil); err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("timerfd_settime", err)
	}

	t := &Timer{r: r, fd: fd}
	token, err := r.Register(poll.Fd(fd), poll.Readable, poll.Level, HandlerFunc(func(poll.Event) error {
		n, err := readExpirations(fd)
		if err != nil {
			if poll.IsTemporaryError(err) {
				return nil
			}
			return err
		}
		return fn(n)
	}))
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	t.token = token

	r.mu.Lock()
	r.timers[t] = struct{}{}
	r.mu.Unlock()
	return t, nil
}

func (t *Timer) Token() poll.Token { return t.token }

// Stop disarms the timer and closes its descriptor. It is idempotent.
func (t *Timer) Stop() error {
	var err error
	t.once.Do(func() {
		t.r.mu.Lock()
		delete(t.r.timers, t)
		t.r.mu.Unlock()

		if derr := t.r.Deregister(t.token); derr != nil && !errors.Is(derr, poll.ErrClosed) {
			err = multierr.Append(err, derr)
		}
		err = multierr.Append(err, poll.CloseFd(t.fd))
	})
	return err
}

func readExpirations(fd int) (uint64, error) {
	var buf [8]byte
	if _, err := unix.Read(fd, buf[:]); err != nil {
		return 0, os.NewSyscallError("read timerfd", err)
	}
	return binary.NativeEndian.Uint64(buf[:]), nil
}
