package session

import (
	"encoding/json"
	"time"
)

// Timestamp serializes as {"secs_since_epoch", "nanos_since_epoch"}, the
// epoch representation the widget UI expects.
type Timestamp struct {
	time.Time
}

type epochTime struct {
	Secs  int64 `json:"secs_since_epoch"`
	Nanos int64 `json:"nanos_since_epoch"`
}

func NewTimestamp(t time.Time) *Timestamp {
	return &Timestamp{Time: t}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(epochTime{
		Secs:  t.Unix(),
		Nanos: int64(t.Nanosecond()),
	})
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var e epochTime
	if err := json.Unmarshal(data, &e); err != nil {
		return err
	}
	t.Time = time.Unix(e.Secs, e.Nanos)
	return nil
}

// SessionRecord is the registry's view of one session. Each update replaces
// exactly one of LastMediaUpdate or LastModelUpdate.
type SessionRecord struct {
	SessionID        ID           `json:"session_id"`
	Source           *string      `json:"source"`
	TimestampCreated *Timestamp   `json:"timestamp_created"`
	TimestampUpdated *Timestamp   `json:"timestamp_updated"`
	LastMediaUpdate  *UpdateEvent `json:"last_media_update"`
	LastModelUpdate  *UpdateEvent `json:"last_model_update"`
}

// Clone returns a deep copy of the record, duplicating pointer fields so the
// copy can be mutated independently of the original.
func (r *SessionRecord) Clone() *SessionRecord {
	c := *r
	if r.Source != nil {
		s := *r.Source
		c.Source = &s
	}
	if r.TimestampCreated != nil {
		t := *r.TimestampCreated
		c.TimestampCreated = &t
	}
	if r.TimestampUpdated != nil {
		t := *r.TimestampUpdated
		c.TimestampUpdated = &t
	}
	if r.LastMediaUpdate != nil {
		u := r.LastMediaUpdate.Clone()
		c.LastMediaUpdate = &u
	}
	if r.LastModelUpdate != nil {
		u := r.LastModelUpdate.Clone()
		c.LastModelUpdate = &u
	}
	return &c
}

// SourceName returns the producing application, or "" when unknown.
func (r *SessionRecord) SourceName() string {
	if r.Source == nil {
		return ""
	}
	return *r.Source
}

// LatestModel returns the most informative metadata the record holds:
// the model update if present, else the media update's model.
func (r *SessionRecord) LatestModel() (SessionModel, bool) {
	switch {
	case r.LastModelUpdate != nil:
		return r.LastModelUpdate.Model, true
	case r.LastMediaUpdate != nil:
		return r.LastMediaUpdate.Model, true
	}
	return SessionModel{}, false
}

// LastSeen returns the update time, falling back to creation time.
func (r *SessionRecord) LastSeen() time.Time {
	if r.TimestampUpdated != nil {
		return r.TimestampUpdated.Time
	}
	if r.TimestampCreated != nil {
		return r.TimestampCreated.Time
	}
	return time.Time{}
}

// Snapshot is a point-in-time copy of the whole registry.
type Snapshot map[ID]*SessionRecord
