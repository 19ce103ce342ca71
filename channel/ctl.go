package channel

import (
	"errors"

	"code.hybscloud.com/atomix"
	"github.com/fzft/go-pollchan/lazy"
	"github.com/fzft/go-pollchan/log"
	"github.com/fzft/go-pollchan/poll"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// readinessSetter is satisfied by *poll.SetReadiness.
type readinessSetter interface {
	SetReadiness(ready poll.Ready) error
}

// serial numbers control pairs for logging.
var serial atomix.Uint32

// inner is the state shared by every SenderCtl and the ReceiverCtl of one
// channel. pending counts values enqueued and not yet dequeued; it never
// looks at the transport.
type inner struct {
	id        uint32
	pending   atomix.Uint64
	readiness lazy.AtomicLazy[readinessSetter]
}

func (in *inner) setReadiness(ready poll.Ready) error {
	s, ok := in.readiness.Get()
	if !ok {
		return nil
	}
	if err := (*s).SetReadiness(ready); err != nil {
		return &ReadinessError{Ready: ready, Err: err}
	}
	return nil
}

// NewCtlPair creates the control halves of one channel.
func NewCtlPair() (SenderCtl, *ReceiverCtl) {
	in := &inner{id: serial.Add(1)}
	return SenderCtl{inner: in}, &ReceiverCtl{inner: in}
}

// SenderCtl tracks sent values. Copies share the same state.
type SenderCtl struct {
	inner *inner
}

// Inc records one enqueued value. The 0→1 transition marks the receiver
// readable once it is registered.
func (c SenderCtl) Inc() error {
	if c.inner.pending.Add(1) == 1 {
		return c.inner.setReadiness(poll.Readable)
	}
	return nil
}

// ReceiverCtl tracks received values and owns the poll registration. There
// is exactly one per channel.
type ReceiverCtl struct {
	noCopy       noCopy
	inner        *inner
	registration lazy.Lazy[*poll.Registration]
}

// Dec records one dequeued value. On the 1→0 transition readiness is
// cleared before the decrement; if a sender slipped in between, it is set
// again. The decrement happens even when a readiness update fails.
func (c *ReceiverCtl) Dec() error {
	var err error

	first := c.inner.pending.LoadAcquire()
	if first == 1 {
		err = multierr.Append(err, c.inner.setReadiness(poll.None))
	}

	after := c.inner.pending.Add(^uint64(0))

	if first == 1 && after > 0 {
		err = multierr.Append(err, c.inner.setReadiness(poll.Readable))
	}

	return err
}

// Pending returns a snapshot of the number of values enqueued and not yet
// dequeued.
func (c *ReceiverCtl) Pending() uint64 {
	return c.inner.pending.LoadAcquire()
}

// Register makes the receiver an event source of p. A receiver can be
// registered once in its lifetime; Deregister does not reset that.
func (c *ReceiverCtl) Register(p *poll.Poll, token poll.Token, interest poll.Ready, opts poll.PollOpt) error {
	_, err := c.registration.Init(func() (*poll.Registration, error) {
		reg, set, err := poll.NewRegistration(p, token, interest, opts)
		if err != nil {
			return nil, err
		}
		if err := c.inner.readiness.Set(set); err != nil {
			_ = reg.Close()
			return nil, err
		}
		return reg, nil
	})
	if errors.Is(err, lazy.ErrAlreadySet) {
		return ErrAlreadyRegistered
	}
	if err != nil {
		return err
	}

	// Checked after the setter is published so a concurrent Inc either
	// sees the setter or is seen here.
	if c.inner.pending.LoadAcquire() > 0 {
		if err := c.inner.setReadiness(poll.Readable); err != nil {
			// the next Inc/Dec transition reconciles readiness
			log.Logger.Debug("initial readiness not applied", zap.Uint32("channel", c.inner.id), zap.Error(err))
		}
	}

	log.Logger.Debug("receiver registered", zap.Uint32("channel", c.inner.id), zap.Uint64("token", uint64(token)))
	return nil
}

func (c *ReceiverCtl) Reregister(p *poll.Poll, token poll.Token, interest poll.Ready, opts poll.PollOpt) error {
	reg, ok := c.registration.Get()
	if !ok {
		return ErrNotRegistered
	}
	return reg.Update(p, token, interest, opts)
}

func (c *ReceiverCtl) Deregister(p *poll.Poll) error {
	reg, ok := c.registration.Get()
	if !ok {
		return ErrNotRegistered
	}
	return reg.Deregister(p)
}

// Close releases the registration, if any. Later readiness updates from
// senders fail with poll.ErrClosed.
func (c *ReceiverCtl) Close() error {
	reg, ok := c.registration.Get()
	if !ok {
		return nil
	}
	return reg.Close()
}

// noCopy may be embedded into structs which must not be copied after first
// use. See https://golang.org/issues/8005#issuecomment-190753527.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
