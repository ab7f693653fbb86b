// Package bridge publishes registry deltas to UI-facing subscribers.
// Delivery is best-effort: publishers must never block the registry.
package bridge

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/np-widget/backend/internal/observability"
	"github.com/np-widget/backend/internal/session"
)

// Notification is one published delta.
type Notification struct {
	ID        ulid.ULID              `json:"id"`
	Event     string                 `json:"event"`
	Record    *session.SessionRecord `json:"record"`
	EmittedAt time.Time              `json:"emitted_at"`
}

// Publisher receives notifications. Publish must return promptly.
type Publisher interface {
	Publish(Notification)
}

// Emitter implements session.Emitter. Deltas without a record are logged
// and dropped; every other delta becomes one Notification handed to all
// publishers.
type Emitter struct {
	mu         sync.RWMutex
	publishers []Publisher
	logger     *slog.Logger
	clock      func() time.Time
	published  atomic.Int64
	skipped    atomic.Int64
}

func NewEmitter(logger *slog.Logger, publishers ...Publisher) *Emitter {
	return &Emitter{
		publishers: publishers,
		logger:     observability.WithComponent(logger, "bridge"),
		clock:      time.Now,
	}
}

// Attach adds a publisher. Later deltas reach it; earlier ones do not.
func (e *Emitter) Attach(p Publisher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publishers = append(e.publishers, p)
}

func (e *Emitter) Emit(d session.Delta) {
	if d.Record == nil {
		e.skipped.Add(1)
		e.logger.Info("nothing to publish", slog.String("event", d.Label))
		return
	}

	now := e.clock()
	n := Notification{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()),
		Event:     d.Label,
		Record:    d.Record,
		EmittedAt: now,
	}

	e.mu.RLock()
	publishers := e.publishers
	e.mu.RUnlock()

	for _, p := range publishers {
		p.Publish(n)
	}
	e.published.Add(1)
	e.logger.Debug("published",
		slog.String("event", d.Label),
		slog.String("session_id", d.Record.SessionID.String()),
		slog.String("id", n.ID.String()),
		slog.Int("publishers", len(publishers)))
}

// Published counts deltas handed to publishers.
func (e *Emitter) Published() int64 { return e.published.Load() }

// Skipped counts deltas dropped for lack of a record.
func (e *Emitter) Skipped() int64 { return e.skipped.Load() }
