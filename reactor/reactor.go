//go:build linux
// +build linux

// Package reactor runs a single-goroutine event loop over a poll.Poll and
// dispatches readiness events to handlers by token.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"code.hybscloud.com/atomix"
	"github.com/fzft/go-pollchan/log"
	"github.com/fzft/go-pollchan/poll"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const defaultEventsCapacity = 1024

var ErrUnknownToken = errors.New("reactor: unknown token")

// Handler reacts to one readiness event. An error stops Reactor.Run.
type Handler interface {
	Handle(ev poll.Event) error
}

type HandlerFunc func(ev poll.Event) error

func (f HandlerFunc) Handle(ev poll.Event) error { return f(ev) }

type Config struct {
	// EventsCapacity is the number of events collected per wait.
	EventsCapacity int
}

type source struct {
	src poll.Evented
	h   Handler
}

type Reactor struct {
	poll   *poll.Poll
	events *poll.Events
	stop   atomix.Bool

	mu      sync.Mutex
	next    poll.Token
	sources map[poll.Token]*source
	timers  map[*Timer]struct{}
}

func New(cfg Config) (*Reactor, error) {
	if cfg.EventsCapacity <= 0 {
		cfg.EventsCapacity = defaultEventsCapacity
	}

	p, err := poll.New()
	if err != nil {
		return nil, err
	}

	return &Reactor{
		poll:    p,
		events:  poll.NewEvents(cfg.EventsCapacity),
		sources: make(map[poll.Token]*source),
		timers:  make(map[*Timer]struct{}),
	}, nil
}

// Register adds src to the loop and returns the token its events carry.
// It is safe to call from any goroutine, including handlers.
func (r *Reactor) Register(src poll.Evented, interest poll.Ready, opts poll.PollOpt, h Handler) (poll.Token, error) {
	r.mu.Lock()
	r.next++
	token := r.next
	r.sources[token] = &source{src: src, h: h}
	r.mu.Unlock()

	if err := src.Register(r.poll, token, interest, opts); err != nil {
		r.mu.Lock()
		delete(r.sources, token)
		r.mu.Unlock()
		return 0, fmt.Errorf("register token %d: %w", token, err)
	}

	log.Logger.Debug("source registered", zap.Uint64("token", uint64(token)), zap.Stringer("interest", interest))
	return token, nil
}

// Deregister removes the source registered under token.
func (r *Reactor) Deregister(token poll.Token) error {
	r.mu.Lock()
	s, ok := r.sources[token]
	delete(r.sources, token)
	r.mu.Unlock()

	if !ok {
		return ErrUnknownToken
	}

	log.Logger.Debug("source deregistered", zap.Uint64("token", uint64(token)))
	return s.src.Deregister(r.poll)
}

func (r *Reactor) handler(token poll.Token) (Handler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[token]
	if !ok {
		return nil, false
	}
	return s.h, true
}

// Run waits for events and dispatches them until ctx is done, Stop is called
// or a handler fails. Only one goroutine may run the loop.
func (r *Reactor) Run(ctx context.Context) error {
	defer context.AfterFunc(ctx, r.Stop)()
	defer log.Logger.Info("reactor stopped")

	for !r.stop.LoadAcquire() {
		// level triggered, poll mode
		_, err := r.poll.Poll(r.events, -1)
		if err != nil {
			log.Logger.Error("poll error", zap.Error(err))
			return err
		}

		for _, ev := range r.events.All() {
			h, ok := r.handler(ev.Token)
			if !ok {
				// deregistered by an earlier handler in this batch
				continue
			}
			if err := h.Handle(ev); err != nil {
				log.Logger.Error("Failed to process event", zap.Uint64("token", uint64(ev.Token)), zap.Error(err))
				return fmt.Errorf("token %d: %w", ev.Token, err)
			}
		}
	}
	return nil
}

// Stop makes Run return after the current batch. A stopped reactor does not
// run again.
func (r *Reactor) Stop() {
	if r.stop.Swap(true) {
		return
	}
	if err := r.poll.Wakeup(); err != nil && !errors.Is(err, poll.ErrClosed) {
		log.Logger.Warn("Failed to wake reactor", zap.Error(err))
	}
}

// Close stops the timers it created and releases the poll. Other sources
// stay owned by their callers.
func (r *Reactor) Close() error {
	r.Stop()

	r.mu.Lock()
	timers := make([]*Timer, 0, len(r.timers))
	for t := range r.timers {
		timers = append(timers, t)
	}
	r.mu.Unlock()

	var err error
	for _, t := range timers {
		err = multierr.Append(err, t.Stop())
	}
	err = multierr.Append(err, r.poll.Close())
	return err
}
