package bridge

import (
	"sync"
	"sync/atomic"
)

// Hub fans values out to buffered subscriptions. A subscriber whose buffer
// is full when a value arrives is evicted: its channel is closed and it
// receives nothing further.
type Hub[T any] struct {
	mu      sync.Mutex
	subs    map[*Subscription[T]]struct{}
	buffer  int
	evicted atomic.Int64
}

// Subscription is one subscriber's queue.
type Subscription[T any] struct {
	ch     chan T
	closed bool // guarded by the hub's mu
}

// C is closed when the subscription is evicted or unsubscribed.
func (s *Subscription[T]) C() <-chan T { return s.ch }

func NewHub[T any](buffer int) *Hub[T] {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub[T]{subs: make(map[*Subscription[T]]struct{}), buffer: buffer}
}

// Subscribe registers a subscriber. Values returned by initial are queued
// ahead of anything published afterwards, with no publish in between.
func (h *Hub[T]) Subscribe(initial func() []T) *Subscription[T] {
	h.mu.Lock()
	defer h.mu.Unlock()

	var first []T
	if initial != nil {
		first = initial()
	}
	size := h.buffer
	if len(first) > size {
		size = len(first)
	}
	s := &Subscription[T]{ch: make(chan T, size)}
	for _, v := range first {
		s.ch <- v
	}
	h.subs[s] = struct{}{}
	return s
}

func (h *Hub[T]) Unsubscribe(s *Subscription[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s)
}

func (h *Hub[T]) removeLocked(s *Subscription[T]) {
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Publish delivers v to every subscriber without blocking and reports how
// many received it.
func (h *Hub[T]) Publish(v T) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for s := range h.subs {
		select {
		case s.ch <- v:
			delivered++
		default:
			h.removeLocked(s)
			h.evicted.Add(1)
		}
	}
	return delivered
}

// Len reports the number of live subscriptions.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Evicted counts subscribers dropped for falling behind.
func (h *Hub[T]) Evicted() int64 { return h.evicted.Load() }

// Close unsubscribes everyone.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		h.removeLocked(s)
	}
}
