// Package monitor turns a source's notification stream into the unified
// event stream the registry consumes. One relay goroutine per live session
// forwards that session's updates; all of them share a single sink.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/np-widget/backend/internal/observability"
	"github.com/np-widget/backend/internal/session"
	"github.com/np-widget/backend/internal/source"
	"github.com/np-widget/backend/internal/ws"
)

// DefaultDrainTimeout bounds how long a finishing relay waits for its
// update stream to close.
const DefaultDrainTimeout = 500 * time.Millisecond

type relay struct {
	cancel context.CancelFunc
	finish chan struct{}
	done   chan struct{}
}

// Listener fans manager notifications and per-session update streams into
// one session.Stream. Updates of a single session keep their order; updates
// of different sessions interleave arbitrarily.
type Listener struct {
	sink         *session.Stream
	logger       *slog.Logger
	health       *listenerHealth
	drainTimeout time.Duration

	mu     sync.Mutex
	relays map[session.ID]*relay
	wg     sync.WaitGroup
}

func NewListener(sink *session.Stream, logger *slog.Logger) *Listener {
	return &Listener{
		sink:         sink,
		logger:       observability.WithComponent(logger, "listener"),
		health:       newListenerHealth(),
		drainTimeout: DefaultDrainTimeout,
		relays:       make(map[session.ID]*relay),
	}
}

// SetDrainTimeout sets how long a removed or replaced session's relay keeps
// reading its update stream before it is cancelled. Call before Run.
func (l *Listener) SetDrainTimeout(d time.Duration) {
	l.drainTimeout = d
}

// Run consumes notifications until the channel closes or ctx is done. When
// the source ends, Run waits for the remaining relays to drain their
// streams; when ctx ends, it cancels them. Either way no relay is running
// once Run returns.
func (l *Listener) Run(ctx context.Context, notifications <-chan source.Notification) error {
	l.logger.Info("listener started")
	defer l.Wait()

	for {
		select {
		case <-ctx.Done():
			l.stopAll()
			l.logger.Info("listener stopped")
			return nil
		case n, ok := <-notifications:
			if !ok {
				l.health.recordSourceEnded()
				l.logger.Info("notification stream ended", slog.Int("relays", l.ActiveRelays()))
				l.drain(ctx)
				return nil
			}
			l.handle(ctx, n)
		}
	}
}

func (l *Listener) handle(ctx context.Context, n source.Notification) {
	me := NormalizeNotification(n)
	switch me.Kind {
	case session.SessionCreated:
		// a second create for a live id replaces its relay
		l.finishRelay(me.SessionID)
		l.forward(ctx, Unify(me), false)
		if n.Updates != nil {
			l.startRelay(ctx, me.SessionID, n.Updates)
		}
	case session.SessionRemoved:
		// updates already produced go out first; none can follow the delete
		l.finishRelay(me.SessionID)
		l.forward(ctx, Unify(me), false)
	default:
		l.forward(ctx, Unify(me), false)
	}
}

func (l *Listener) forward(ctx context.Context, ev session.Event, update bool) bool {
	err := l.sink.Send(ctx, ev)
	switch {
	case err == nil:
		l.health.recordForwarded(update)
		return true
	case errors.Is(err, session.ErrChannelClosed):
		l.health.recordFailure(err, true)
		if update {
			l.logger.Debug("stream closed, dropping update", slog.String("session_id", ev.SessionID.String()))
		} else {
			l.logger.Warn("stream closed, dropping event",
				slog.String("event", ev.Type.String()),
				slog.String("session_id", ev.SessionID.String()))
		}
	case ctx.Err() != nil:
		// shutting down or relay cancelled
	default:
		l.health.recordFailure(err, false)
		observability.WithError(l.logger, err).Warn("forward failed")
	}
	return false
}

func (l *Listener) startRelay(ctx context.Context, id session.ID, updates <-chan source.Update) {
	rctx, cancel := context.WithCancel(ctx)
	r := &relay{cancel: cancel, finish: make(chan struct{}), done: make(chan struct{})}

	l.mu.Lock()
	l.relays[id] = r
	l.mu.Unlock()

	l.wg.Add(1)
	go l.runRelay(rctx, id, updates, r)
	l.logger.Debug("relay started", slog.String("session_id", id.String()))
}

func (l *Listener) runRelay(ctx context.Context, id session.ID, updates <-chan source.Update, r *relay) {
	defer l.wg.Done()
	defer close(r.done)
	defer func() {
		l.mu.Lock()
		if l.relays[id] == r {
			delete(l.relays, id)
		}
		l.mu.Unlock()
		r.cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.finish:
			l.drainRelay(ctx, id, updates)
			return
		case u, ok := <-updates:
			if !ok {
				l.logger.Debug("update stream ended", slog.String("session_id", id.String()))
				return
			}
			if !l.forward(ctx, session.UpdateEventFor(id, NormalizeUpdate(u)), true) {
				return
			}
		}
	}
}

// drainRelay forwards what is left on a finishing relay's stream until the
// stream closes or the drain timeout passes.
func (l *Listener) drainRelay(ctx context.Context, id session.ID, updates <-chan source.Update) {
	timer := time.NewTimer(l.drainTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if !l.forward(ctx, session.UpdateEventFor(id, NormalizeUpdate(u)), true) {
				return
			}
		case <-timer.C:
			l.logger.Warn("update stream still open after removal, dropping the rest",
				slog.String("session_id", id.String()),
				slog.Duration("timeout", l.drainTimeout))
			return
		}
	}
}

// finishRelay lets the relay for id, if any, forward the updates its stream
// still holds and waits for it to exit.
func (l *Listener) finishRelay(id session.ID) {
	l.mu.Lock()
	r, ok := l.relays[id]
	if ok {
		delete(l.relays, id)
	}
	l.mu.Unlock()
	if !ok {
		return
	}
	close(r.finish)
	<-r.done
	l.logger.Debug("relay finished", slog.String("session_id", id.String()))
}

func (l *Listener) stopAll() {
	l.mu.Lock()
	relays := make([]*relay, 0, len(l.relays))
	for id, r := range l.relays {
		relays = append(relays, r)
		delete(l.relays, id)
	}
	l.mu.Unlock()
	for _, r := range relays {
		r.cancel()
	}
}

// drain waits for relays to finish on their own, cancelling them if ctx
// ends first.
func (l *Listener) drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		l.stopAll()
	}
}

// Wait blocks until every relay has exited.
func (l *Listener) Wait() {
	l.wg.Wait()
}

// ActiveRelays reports how many relays are running.
func (l *Listener) ActiveRelays() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.relays)
}

// Health reports forwarding counters and status.
func (l *Listener) Health() ws.ListenerHealth {
	return l.health.snapshot(l.ActiveRelays())
}
