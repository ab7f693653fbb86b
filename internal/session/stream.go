package session

import (
	"context"
	"sync"
)

// Stream is the unified event channel between the listener and the
// registry. Any number of goroutines may Send; exactly one consumer reads
// Events and calls Close when it stops reading.
type Stream struct {
	ch        chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewStream creates a stream holding at most buffer undelivered events.
// Senders block once it is full.
func NewStream(buffer int) *Stream {
	if buffer < 0 {
		buffer = 0
	}
	return &Stream{
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
}

// Send delivers ev, blocking while the stream is full. It returns
// ErrChannelClosed once the consumer has closed the stream, or ctx.Err()
// if ctx ends first.
func (s *Stream) Send(ctx context.Context, ev Event) error {
	select {
	case <-s.done:
		return ErrChannelClosed
	default:
	}
	select {
	case s.ch <- ev:
		return nil
	case <-s.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events is the receive side. The channel itself is never closed; watch
// Done to learn the stream was closed.
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// Done is closed by Close.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Close marks the receiver gone. Pending and future sends fail with
// ErrChannelClosed. Safe to call more than once.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
