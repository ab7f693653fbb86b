package ws

import (
	"github.com/np-widget/backend/internal/session"
)

type MessageType string

const (
	MsgSnapshot      MessageType = "snapshot"
	MsgSessionCreate MessageType = session.LabelCreate
	MsgSessionUpdate MessageType = session.LabelUpdate
	MsgSessionDelete MessageType = session.LabelDelete
)

// WSMessage is the envelope for every frame sent to clients. Seq increases
// by one per frame broadcast, so clients can detect gaps and resync.
type WSMessage struct {
	Type    MessageType `json:"type"`
	Seq     uint64      `json:"seq"`
	ID      string      `json:"id,omitempty"`
	Payload interface{} `json:"payload"`
}

type SnapshotPayload struct {
	Sessions session.Snapshot `json:"sessions"`
}

type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusFailed   HealthStatus = "failed"
)

// ListenerHealth describes the session listener.
type ListenerHealth struct {
	Status        HealthStatus `json:"status"`
	Relays        int          `json:"relays"`
	ManagerEvents int64        `json:"manager_events"`
	Updates       int64        `json:"updates"`
	SendFailures  int          `json:"send_failures"`
	LastError     string       `json:"last_error,omitempty"`
}

type HealthPayload struct {
	Status   HealthStatus    `json:"status"`
	Source   string          `json:"source"`
	Sessions int             `json:"sessions"`
	Clients  int             `json:"clients"`
	Relays   int             `json:"relays"`
	Evicted  int64           `json:"evicted_clients"`
	Listener *ListenerHealth `json:"listener,omitempty"`
}
