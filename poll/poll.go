// Package poll is a readiness-based event loop engine on top of epoll.
//
// Kernel objects (sockets, pipes, timerfds) are registered through Fd.
// Anything else can take part in the same wait call through a Registration:
// a user-space event source whose readiness is driven by its paired
// SetReadiness handle from any goroutine.
package poll

import (
	"errors"
	"strings"
)

var (
	ErrClosed        = errors.New("poll: closed")
	ErrPollMismatch  = errors.New("poll: registration bound to a different poll")
	ErrNotRegistered = errors.New("poll: not registered")
)

// Token identifies an event source in the events returned by Poll.Poll.
type Token uintptr

// Ready is a set of readiness states.
type Ready uint8

const (
	Readable Ready = 1 << iota
	Writable
	Error
	Hup
)

const None Ready = 0

func (r Ready) IsReadable() bool { return r&Readable != 0 }
func (r Ready) IsWritable() bool { return r&Writable != 0 }
func (r Ready) IsError() bool    { return r&Error != 0 }
func (r Ready) IsHup() bool      { return r&Hup != 0 }

func (r Ready) String() string {
	if r == None {
		return "None"
	}
	var parts []string
	for _, f := range []struct {
		bit  Ready
		name string
	}{{Readable, "Readable"}, {Writable, "Writable"}, {Error, "Error"}, {Hup, "Hup"}} {
		if r&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

// PollOpt selects the trigger mode of a registration. Level is the default.
type PollOpt uint8

const (
	Level PollOpt = 1 << iota
	Edge
	Oneshot
)

// Event is one readiness notification.
type Event struct {
	Token Token
	Ready Ready
}

// Evented is implemented by anything that can be watched by a Poll.
type Evented interface {
	Register(p *Poll, token Token, interest Ready, opts PollOpt) error
	Reregister(p *Poll, token Token, interest Ready, opts PollOpt) error
	Deregister(p *Poll) error
}
