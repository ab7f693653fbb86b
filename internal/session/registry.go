package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/np-widget/backend/internal/observability"
)

// Delta labels published to the bridge.
const (
	LabelCreate      = "session_create"
	LabelUpdate      = "session_update"
	LabelDelete      = "session_delete"
	LabelUnsupported = "unsupported"
)

// Delta describes the outcome of one transition. Record is nil when nothing
// observable changed.
type Delta struct {
	Label  string
	Record *SessionRecord
}

// Apply is the registry transition function. It mutates sessions and
// returns the resulting delta. The returned error is never fatal: it
// classifies anomalies (ErrUnrecognizedEvent, ErrStaleUpdate) for logging.
func Apply(sessions map[ID]*SessionRecord, ev Event, now time.Time) (Delta, error) {
	switch ev.Type {
	case EventCreate:
		if ev.Manager.Kind != SessionCreated {
			return Delta{Label: LabelCreate}, fmt.Errorf("%w: create routed with %s", ErrUnrecognizedEvent, ev.Manager.Kind)
		}
		source := ev.Manager.Source
		rec := &SessionRecord{
			SessionID:        ev.Manager.SessionID,
			Source:           &source,
			TimestampCreated: NewTimestamp(now),
		}
		sessions[rec.SessionID] = rec
		return Delta{Label: LabelCreate, Record: rec.Clone()}, nil

	case EventUpdate:
		upd := ev.Update.Clone()
		existing, ok := sessions[ev.SessionID]
		if !ok {
			rec := &SessionRecord{
				SessionID:        ev.SessionID,
				TimestampCreated: NewTimestamp(now),
				TimestampUpdated: NewTimestamp(now),
			}
			setUpdate(rec, &upd)
			sessions[ev.SessionID] = rec
			return Delta{Label: LabelUpdate, Record: rec.Clone()}, ErrStaleUpdate
		}

		rec := *existing
		updated := now
		if rec.TimestampCreated != nil && updated.Before(rec.TimestampCreated.Time) {
			updated = rec.TimestampCreated.Time
		}
		rec.TimestampUpdated = NewTimestamp(updated)
		setUpdate(&rec, &upd)
		sessions[ev.SessionID] = &rec
		return Delta{Label: LabelUpdate, Record: rec.Clone()}, nil

	case EventDelete:
		rec, ok := sessions[ev.SessionID]
		if !ok {
			return Delta{Label: LabelDelete}, nil
		}
		delete(sessions, ev.SessionID)
		return Delta{Label: LabelDelete, Record: rec.Clone()}, nil

	case EventUnsupported:
		return Delta{Label: LabelUnsupported}, ErrUnrecognizedEvent
	}
	return Delta{Label: LabelUnsupported}, fmt.Errorf("%w: event type %d", ErrUnrecognizedEvent, ev.Type)
}

func setUpdate(rec *SessionRecord, upd *UpdateEvent) {
	if upd.Kind == UpdateMedia {
		rec.LastMediaUpdate = upd
	} else {
		rec.LastModelUpdate = upd
	}
}

// Replay applies events in order to an empty registry, reading the clock
// once per event.
func Replay(events []Event, clock func() time.Time) map[ID]*SessionRecord {
	sessions := make(map[ID]*SessionRecord)
	for _, ev := range events {
		_, _ = Apply(sessions, ev, clock())
	}
	return sessions
}

// Emitter receives every delta the registry produces.
type Emitter interface {
	Emit(Delta)
}

type Option func(*Registry)

// WithClock overrides time.Now, for deterministic tests and replays.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) { r.clock = clock }
}

// Registry is the single consumer of the unified stream. It applies one
// transition per event and hands each delta to the emitter.
type Registry struct {
	store   *Store
	emitter Emitter
	logger  *slog.Logger
	clock   func() time.Time
	applied atomic.Int64
}

func NewRegistry(store *Store, emitter Emitter, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:   store,
		emitter: emitter,
		logger:  observability.WithComponent(logger, "registry"),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run consumes stream until ctx is done. It closes the stream on return so
// writers observe ErrChannelClosed instead of blocking.
func (r *Registry) Run(ctx context.Context, stream *Stream) error {
	defer stream.Close()
	r.logger.Info("registry started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("registry stopped", slog.Int64("applied", r.applied.Load()))
			return nil
		case ev := <-stream.Events():
			r.Handle(ev)
		}
	}
}

// Handle applies a single event and emits its delta.
func (r *Registry) Handle(ev Event) Delta {
	delta, note := r.store.Apply(ev, r.clock())
	r.applied.Add(1)

	switch {
	case note == nil:
		r.logger.Debug("applied event",
			slog.String("event", ev.Type.String()),
			slog.String("session_id", ev.SessionID.String()),
			slog.String("label", delta.Label))
	case errors.Is(note, ErrStaleUpdate):
		r.logger.Info("synthesized record for unknown session",
			slog.String("session_id", ev.SessionID.String()),
			slog.String("update", ev.Update.Kind.String()))
	case ev.Type == EventUnsupported:
		attrs := []any{slog.String("label", ev.Label)}
		if ev.HasSession {
			attrs = append(attrs, slog.String("session_id", ev.SessionID.String()))
		}
		r.logger.Info("unsupported event", attrs...)
	default:
		r.logger.Warn("event not applied",
			slog.String("event", ev.Type.String()),
			slog.String("session_id", ev.SessionID.String()),
			slog.String("error", note.Error()))
	}

	if r.emitter != nil {
		r.emitter.Emit(delta)
	}
	return delta
}

// Snapshot returns a point-in-time copy of the registry.
func (r *Registry) Snapshot() Snapshot {
	return r.store.Snapshot()
}

// Applied reports how many events have been processed.
func (r *Registry) Applied() int64 {
	return r.applied.Load()
}

// Get returns a copy of one record.
func (r *Registry) Get(id ID) (*SessionRecord, bool) {
	return r.store.Get(id)
}
