// Package inorder hands a connection's inbound messages to a handler one at a
// time, in arrival order, without blocking the code that enqueues them.
package inorder

import (
	"errors"
	"fmt"
	"sync"
)

// Mode selects what Close does with messages still queued.
type Mode int

const (
	// ModeClose handles every queued message before the consumer stops.
	ModeClose Mode = iota
	// ModeKill discards queued messages and stops after the current one.
	ModeKill
)

func (m Mode) String() string {
	if m == ModeKill {
		return "kill"
	}
	return "close"
}

// ParseMode parses "close" or "kill".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "close":
		return ModeClose, nil
	case "kill":
		return ModeKill, nil
	default:
		return ModeClose, fmt.Errorf("unknown cleanup mode %q", s)
	}
}

// ErrClosed resolves messages pushed after Close and messages discarded by
// ModeKill.
var ErrClosed = errors.New("inorder: pipeline closed")

// Handler processes one message. The next message is not handed over until
// Handler returns.
type Handler[T any] func(msg T) error

type entry[T any] struct {
	msg  T
	done chan error
}

// Pipeline is an unbounded single-consumer queue.
type Pipeline[T any] struct {
	handler Handler[T]

	mu     sync.Mutex
	queue  []entry[T]
	closed bool
	killed bool

	wake chan struct{}
	done chan struct{}
}

// New starts the consumer goroutine. It runs until Close is called and, for
// ModeClose, the queue is empty.
func New[T any](handler Handler[T]) *Pipeline[T] {
	p := &Pipeline[T]{
		handler: handler,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Push enqueues msg. The returned channel receives the handler's result
// once the message has been processed, or ErrClosed if it never will be.
func (p *Pipeline[T]) Push(msg T) <-chan error {
	done := make(chan error, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		done <- ErrClosed
		return done
	}
	p.queue = append(p.queue, entry[T]{msg: msg, done: done})
	p.mu.Unlock()

	p.signal()
	return done
}

// Close stops accepting messages. With ModeClose the consumer drains the
// queue first; with ModeKill queued messages resolve with ErrClosed. A later
// Close can upgrade ModeClose to ModeKill.
func (p *Pipeline[T]) Close(mode Mode) {
	p.mu.Lock()
	p.closed = true
	if mode == ModeKill {
		p.killed = true
	}
	p.mu.Unlock()

	p.signal()
}

// Done is closed when the consumer goroutine has exited.
func (p *Pipeline[T]) Done() <-chan struct{} {
	return p.done
}

// Len returns the number of messages waiting to be handled.
func (p *Pipeline[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pipeline[T]) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pipeline[T]) run() {
	defer close(p.done)

	for {
		p.mu.Lock()
		if p.killed {
			dropped := p.queue
			p.queue = nil
			p.mu.Unlock()
			for _, e := range dropped {
				e.done <- ErrClosed
			}
			return
		}
		if len(p.queue) == 0 {
			closed := p.closed
			p.mu.Unlock()
			if closed {
				return
			}
			<-p.wake
			continue
		}
		e := p.queue[0]
		p.queue[0] = entry[T]{}
		p.queue = p.queue[1:]
		p.mu.Unlock()

		// Handler errors belong to the message, never to the consumer.
		e.done <- p.invoke(e.msg)
	}
}

func (p *Pipeline[T]) invoke(msg T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("inorder: handler panic: %v", r)
		}
	}()
	return p.handler(msg)
}
