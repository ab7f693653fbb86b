package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"

	"github.com/np-widget/backend/internal/bridge"
	"github.com/np-widget/backend/internal/observability"
	"github.com/np-widget/backend/internal/session"
)

// ErrTooManyConnections is returned by AddClient when the limit is reached.
var ErrTooManyConnections = errors.New("too many websocket connections")

const writeWait = 10 * time.Second

// SnapshotFunc returns the current registry contents.
type SnapshotFunc func() session.Snapshot

type client struct {
	id   string
	conn *websocket.Conn
	sub  *bridge.Subscription[[]byte]
	b    *Broadcaster
}

func (c *client) writePump() {
	defer func() {
		c.b.RemoveClient(c)
		c.conn.Close()
	}()
	for msg := range c.sub.C() {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			observability.WithError(c.b.logger, err).Debug("ws write failed", slog.String("client_id", c.id))
			return
		}
	}
	// evicted or removed
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

// Broadcaster pushes registry deltas to websocket clients. It implements
// bridge.Publisher. Every client first receives a snapshot, then the
// deltas published after it, in order. A client that falls behind by more
// than its buffer is disconnected.
type Broadcaster struct {
	snapshot SnapshotFunc
	hub      *bridge.Hub[[]byte]
	logger   *slog.Logger
	maxConns int

	pubMu sync.Mutex // serializes seq assignment and hub publication
	seq   uint64

	mu      sync.RWMutex // protects clients, privacy
	clients map[*client]bool
	privacy *session.PrivacyFilter

	cron     *cron.Cron
	resyncs  atomic.Int64
	stopOnce sync.Once
}

func NewBroadcaster(snapshot SnapshotFunc, clientBuffer, maxConns int, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		snapshot: snapshot,
		hub:      bridge.NewHub[[]byte](clientBuffer),
		logger:   observability.WithComponent(logger, "ws"),
		maxConns: maxConns,
		clients:  make(map[*client]bool),
		privacy:  &session.PrivacyFilter{},
	}
}

// SetPrivacyFilter replaces the filter applied to outgoing records.
func (b *Broadcaster) SetPrivacyFilter(f *session.PrivacyFilter) {
	if f == nil {
		f = &session.PrivacyFilter{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.privacy = f
}

func (b *Broadcaster) filter() *session.PrivacyFilter {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.privacy
}

// FilterSnapshot applies the privacy filter to snap.
func (b *Broadcaster) FilterSnapshot(snap session.Snapshot) session.Snapshot {
	return b.filter().FilterSnapshot(snap)
}

// StartResync broadcasts a full snapshot on the given cron schedule, which
// lets clients recover from any frame they failed to apply. An empty
// schedule disables it.
func (b *Broadcaster) StartResync(schedule string) error {
	if schedule == "" {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, b.Resync); err != nil {
		return fmt.Errorf("resync schedule %q: %w", schedule, err)
	}
	b.cron = c
	c.Start()
	b.logger.Info("resync scheduled", slog.String("schedule", schedule))
	return nil
}

// Resync broadcasts a snapshot to every client.
func (b *Broadcaster) Resync() {
	b.resyncs.Add(1)
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	if data, ok := b.encodeLocked(b.snapshotMessage()); ok {
		b.hub.Publish(data)
	}
}

// Resyncs counts snapshots broadcast by Resync.
func (b *Broadcaster) Resyncs() int64 { return b.resyncs.Load() }

func (b *Broadcaster) snapshotMessage() WSMessage {
	return WSMessage{
		Type:    MsgSnapshot,
		Payload: SnapshotPayload{Sessions: b.FilterSnapshot(b.snapshot())},
	}
}

// encodeLocked stamps the next sequence number. Caller must hold pubMu.
func (b *Broadcaster) encodeLocked(msg WSMessage) ([]byte, bool) {
	b.seq++
	msg.Seq = b.seq
	data, err := json.Marshal(msg)
	if err != nil {
		observability.WithError(b.logger, err).Error("ws marshal failed", slog.String("type", string(msg.Type)))
		return nil, false
	}
	return data, true
}

// Publish implements bridge.Publisher.
func (b *Broadcaster) Publish(n bridge.Notification) {
	f := b.filter()
	if n.Record == nil || !f.Allows(n.Record) {
		return
	}
	msg := WSMessage{
		Type:    MessageType(n.Event),
		ID:      n.ID.String(),
		Payload: f.Apply(n.Record),
	}

	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	data, ok := b.encodeLocked(msg)
	if !ok {
		return
	}
	before := b.hub.Evicted()
	b.hub.Publish(data)
	if evicted := b.hub.Evicted() - before; evicted > 0 {
		b.logger.Warn("ws clients too slow, disconnecting", slog.Int64("count", evicted))
	}
}

// AddClient registers conn and queues the bootstrap snapshot ahead of any
// later delta.
func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	c := &client{id: uuid.NewString(), conn: conn, b: b}
	b.clients[c] = true
	b.mu.Unlock()

	b.pubMu.Lock()
	c.sub = b.hub.Subscribe(func() [][]byte {
		data, ok := b.encodeLocked(b.snapshotMessage())
		if !ok {
			return nil
		}
		return [][]byte{data}
	})
	b.pubMu.Unlock()

	go c.writePump()
	b.logger.Debug("ws client added", slog.String("client_id", c.id))
	return c, nil
}

// RemoveClient unregisters c. Safe to call more than once.
func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	_, ok := b.clients[c]
	delete(b.clients, c)
	b.mu.Unlock()
	if ok && c.sub != nil {
		b.hub.Unsubscribe(c.sub)
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Evicted counts clients disconnected for being too slow.
func (b *Broadcaster) Evicted() int64 { return b.hub.Evicted() }

// Stop halts the resync schedule and disconnects every client.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		if b.cron != nil {
			<-b.cron.Stop().Done()
		}
		b.hub.Close()
	})
}
