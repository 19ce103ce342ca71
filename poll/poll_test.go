//go:build linux
// +build linux

package poll

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestPoll(t *testing.T) *Poll {
	t.Helper()
	p, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPollFdReadable(t *testing.T) {
	p := newTestPoll(t)

	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	require.NoError(t, p.Register(Fd(fds[0]), Token(3), Readable, Level))

	events := NewEvents(8)
	n, err := p.Poll(events, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = unix.Write(fds[1], []byte("x"))
	require.NoError(t, err)

	n, err = p.Poll(events, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, Token(3), events.Get(0).Token)
	assert.True(t, events.Get(0).Ready.IsReadable())

	require.NoError(t, p.Deregister(Fd(fds[0])))
	n, err = p.Poll(events, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.ErrorIs(t, p.Deregister(Fd(fds[0])), ErrNotRegistered)
}

func TestRegistrationLevelTriggered(t *testing.T) {
	p := newTestPoll(t)

	reg, set, err := NewRegistration(p, Token(7), Readable, Level)
	require.NoError(t, err)
	defer reg.Close()

	events := NewEvents(8)
	n, err := p.Poll(events, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, set.SetReadiness(Readable))
	assert.Equal(t, Readable, set.Readiness())

	// level triggered: reported on every wait until cleared
	for i := 0; i < 3; i++ {
		n, err = p.Poll(events, 0)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		assert.Equal(t, Event{Token: Token(7), Ready: Readable}, events.Get(0))
	}

	require.NoError(t, set.SetReadiness(None))
	n, err = p.Poll(events, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRegistrationInterestFiltersReadiness(t *testing.T) {
	p := newTestPoll(t)

	reg, set, err := NewRegistration(p, Token(1), Writable, Level)
	require.NoError(t, err)
	defer reg.Close()

	require.NoError(t, set.SetReadiness(Readable))

	events := NewEvents(8)
	n, err := p.Poll(events, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, reg.Update(p, Token(2), Readable|Writable, Level))
	n, err = p.Poll(events, 0)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, Token(2), events.Get(0).Token)
}

// pollCalls polls with a 30ms timeout until d has passed, expecting no
// events, and returns how many waits it took.
func pollCalls(t *testing.T, p *Poll, d time.Duration) int {
	t.Helper()
	events := NewEvents(8)
	calls := 0
	for deadline := time.Now().Add(d); time.Now().Before(deadline); calls++ {
		n, err := p.Poll(events, 30*time.Millisecond)
		require.NoError(t, err)
		require.Equal(t, 0, n)
	}
	return calls
}

func TestRegistrationOutsideInterestDoesNotWake(t *testing.T) {
	p := newTestPoll(t)

	reg, set, err := NewRegistration(p, Token(1), Writable, Level)
	require.NoError(t, err)
	defer reg.Close()

	require.NoError(t, set.SetReadiness(Readable))

	// waits must block for their timeout instead of spinning
	events := NewEvents(8)
	assert.Less(t, pollCalls(t, p, 90*time.Millisecond), 20)

	require.NoError(t, reg.Update(p, Token(1), Readable, Level))
	n, err := p.Poll(events, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, Event{Token: Token(1), Ready: Readable}, events.Get(0))

	// narrowing the interest again silences the source
	require.NoError(t, reg.Update(p, Token(1), Writable, Level))
	assert.Less(t, pollCalls(t, p, 90*time.Millisecond), 20)

	require.NoError(t, set.SetReadiness(Readable|Writable))
	n, err = p.Poll(events, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, Writable, events.Get(0).Ready)
}

func TestRegistrationEdgeTriggered(t *testing.T) {
	p := newTestPoll(t)

	reg, set, err := NewRegistration(p, Token(4), Readable, Edge)
	require.NoError(t, err)
	defer reg.Close()

	events := NewEvents(8)

	require.NoError(t, set.SetReadiness(Readable))
	n, err := p.Poll(events, 0)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, Event{Token: Token(4), Ready: Readable}, events.Get(0))

	// no new edge while readiness stays set
	n, err = p.Poll(events, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, set.SetReadiness(Readable))
	n, err = p.Poll(events, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, set.SetReadiness(None))
	require.NoError(t, set.SetReadiness(Readable))
	n, err = p.Poll(events, 0)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, Token(4), events.Get(0).Token)
}

func TestTimeoutMsec(t *testing.T) {
	assert.Equal(t, -1, timeoutMsec(-time.Second))
	assert.Equal(t, 0, timeoutMsec(0))
	assert.Equal(t, 1, timeoutMsec(time.Microsecond))
	assert.Equal(t, 1500, timeoutMsec(1500*time.Millisecond))
	assert.Equal(t, math.MaxInt32, timeoutMsec(math.MaxInt32*time.Millisecond))
	assert.Equal(t, math.MaxInt32, timeoutMsec(time.Duration(math.MaxInt64)))
}

func TestPollHugeTimeoutReturnsReadyEvent(t *testing.T) {
	p := newTestPoll(t)

	reg, set, err := NewRegistration(p, Token(2), Readable, Level)
	require.NoError(t, err)
	defer reg.Close()
	require.NoError(t, set.SetReadiness(Readable))

	n, err := p.Poll(NewEvents(4), time.Duration(math.MaxInt64))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRegistrationOneshot(t *testing.T) {
	p := newTestPoll(t)

	reg, set, err := NewRegistration(p, Token(1), Readable, Oneshot)
	require.NoError(t, err)
	defer reg.Close()

	require.NoError(t, set.SetReadiness(Readable))

	events := NewEvents(8)
	n, err := p.Poll(events, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = p.Poll(events, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "oneshot must be re-armed")

	require.NoError(t, reg.Update(p, Token(1), Readable, Oneshot))
	n, err = p.Poll(events, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRegistrationDeregisterAndClose(t *testing.T) {
	p := newTestPoll(t)
	other := newTestPoll(t)

	reg, set, err := NewRegistration(p, Token(1), Readable, Level)
	require.NoError(t, err)

	assert.ErrorIs(t, reg.Update(other, Token(1), Readable, Level), ErrPollMismatch)
	assert.ErrorIs(t, reg.Deregister(other), ErrPollMismatch)

	require.NoError(t, set.SetReadiness(Readable))
	require.NoError(t, reg.Deregister(p))
	assert.ErrorIs(t, reg.Deregister(p), ErrNotRegistered)

	events := NewEvents(8)
	n, err := p.Poll(events, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// readiness survives deregistration
	require.NoError(t, reg.Update(p, Token(9), Readable, Level))
	n, err = p.Poll(events, 0)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, Token(9), events.Get(0).Token)

	require.NoError(t, reg.Close())
	require.NoError(t, reg.Close())
	assert.ErrorIs(t, set.SetReadiness(None), ErrClosed)
}

func TestPollWakeup(t *testing.T) {
	p := newTestPoll(t)

	done := make(chan int, 1)
	go func() {
		events := NewEvents(4)
		n, _ := p.Poll(events, -1)
		done <- n
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, p.Wakeup())

	select {
	case n := <-done:
		assert.Equal(t, 0, n)
	case <-time.After(time.Second):
		t.Fatal("poll was not woken up")
	}
}

func TestPollClosed(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err = p.Poll(NewEvents(1), 0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, p.Wakeup(), ErrClosed)

	_, _, err = NewRegistration(p, Token(1), Readable, Level)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReadyString(t *testing.T) {
	assert.Equal(t, "None", None.String())
	assert.Equal(t, "Readable|Hup", (Readable | Hup).String())
}
