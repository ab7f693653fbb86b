package client

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/np-widget/backend/internal/session"
	"github.com/np-widget/backend/internal/ws"
)

// ErrSequenceGap is returned by Apply when a delta does not directly follow
// the last applied frame. The mirror ignores deltas until the next snapshot.
var ErrSequenceGap = errors.New("sequence gap")

// Frame is a decoded WebSocket envelope with its payload left raw.
type Frame struct {
	Type    ws.MessageType  `json:"type"`
	Seq     uint64          `json:"seq"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Mirror rebuilds the server registry from the WebSocket feed.
type Mirror struct {
	sessions session.Snapshot
	seq      uint64
	synced   bool
	gaps     int
}

func NewMirror() *Mirror {
	return &Mirror{sessions: make(session.Snapshot)}
}

// Apply folds one frame into the mirror. A snapshot replaces everything and
// resynchronizes; deltas must arrive with consecutive sequence numbers.
func (m *Mirror) Apply(f Frame) error {
	if f.Type == ws.MsgSnapshot {
		var p ws.SnapshotPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return fmt.Errorf("decoding snapshot: %w", err)
		}
		m.sessions = p.Sessions
		if m.sessions == nil {
			m.sessions = make(session.Snapshot)
		}
		m.seq = f.Seq
		m.synced = true
		return nil
	}

	if !m.synced {
		return nil
	}
	if f.Seq != m.seq+1 {
		m.synced = false
		m.gaps++
		return fmt.Errorf("%w: have %d, got %d", ErrSequenceGap, m.seq, f.Seq)
	}

	var rec session.SessionRecord
	if err := json.Unmarshal(f.Payload, &rec); err != nil {
		return fmt.Errorf("decoding %s: %w", f.Type, err)
	}
	m.seq = f.Seq

	switch f.Type {
	case ws.MsgSessionCreate, ws.MsgSessionUpdate:
		m.sessions[rec.SessionID] = &rec
	case ws.MsgSessionDelete:
		delete(m.sessions, rec.SessionID)
	}
	return nil
}

// Reset forgets everything, e.g. after a reconnect.
func (m *Mirror) Reset() {
	m.sessions = make(session.Snapshot)
	m.seq = 0
	m.synced = false
}

// Records returns the mirrored sessions in display priority order.
func (m *Mirror) Records(priorities []string) []*session.SessionRecord {
	return session.SortByPriority(m.sessions, priorities)
}

func (m *Mirror) Len() int     { return len(m.sessions) }
func (m *Mirror) Seq() uint64  { return m.seq }
func (m *Mirror) Synced() bool { return m.synced }

// Gaps counts sequence gaps seen so far.
func (m *Mirror) Gaps() int { return m.gaps }
