//go:build linux
// +build linux

package reactor

import (
	"errors"

	"github.com/fzft/go-pollchan/channel"
	"github.com/fzft/go-pollchan/log"
	"github.com/fzft/go-pollchan/poll"
	"go.uber.org/zap"
)

// consumeBatch bounds how many values one readable event drains, so a busy
// channel cannot starve the other sources. Readiness is level-triggered, so
// the rest is picked up on the next wait.
const consumeBatch = 256

// Consume registers rx with the reactor and calls fn on the loop for every
// received value. When a drain finds the channel disconnected, rx is
// deregistered. The receiver is not closed; that stays with the caller.
func Consume[T any](r *Reactor, rx *channel.Receiver[T], fn func(T) error) (poll.Token, error) {
	return r.Register(rx, poll.Readable, poll.Level, HandlerFunc(func(ev poll.Event) error {
		for i := 0; i < consumeBatch; i++ {
			v, err := rx.TryRecv()
			switch {
			case err == nil:
				if err := fn(v); err != nil {
					return err
				}
			case errors.Is(err, channel.ErrEmpty):
				// spurious or already drained
				return nil
			case errors.Is(err, channel.ErrDisconnected):
				log.Logger.Debug("channel disconnected, deregistering", zap.Uint64("token", uint64(ev.Token)))
				return r.Deregister(ev.Token)
			default:
				return err
			}
		}
		return nil
	}))
}
