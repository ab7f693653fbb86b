package session

import (
	"encoding/json"
	"fmt"
)

// ID is the opaque handle a source assigns to a session. It is stable for
// the lifetime of the session.
type ID uint64

func (id ID) String() string {
	return fmt.Sprintf("%d", uint64(id))
}

// ManagerEventKind classifies session lifecycle notifications.
type ManagerEventKind int

const (
	SessionCreated ManagerEventKind = iota
	SessionRemoved
	CurrentSessionChanged
)

var managerKindNames = map[ManagerEventKind]string{
	SessionCreated:        "SessionCreated",
	SessionRemoved:        "SessionRemoved",
	CurrentSessionChanged: "CurrentSessionChanged",
}

func (k ManagerEventKind) String() string {
	if n, ok := managerKindNames[k]; ok {
		return n
	}
	return "unknown"
}

// ManagerEvent is a lifecycle notification from the session manager.
// Source is only set for SessionCreated. For CurrentSessionChanged,
// HasSession is false when no session is current.
type ManagerEvent struct {
	Kind       ManagerEventKind
	SessionID  ID
	HasSession bool
	Source     string
}

func NewSessionCreated(id ID, source string) ManagerEvent {
	return ManagerEvent{Kind: SessionCreated, SessionID: id, HasSession: true, Source: source}
}

func NewSessionRemoved(id ID) ManagerEvent {
	return ManagerEvent{Kind: SessionRemoved, SessionID: id, HasSession: true}
}

// NewCurrentSessionChanged builds the notification; a nil id means no
// session is current.
func NewCurrentSessionChanged(id *ID) ManagerEvent {
	if id == nil {
		return ManagerEvent{Kind: CurrentSessionChanged}
	}
	return ManagerEvent{Kind: CurrentSessionChanged, SessionID: *id, HasSession: true}
}

// UpdateKind selects which record field an update replaces.
type UpdateKind int

const (
	UpdateModel UpdateKind = iota
	UpdateMedia
)

func (k UpdateKind) String() string {
	if k == UpdateMedia {
		return "Media"
	}
	return "Model"
}

// Artwork is an opaque image blob. The core never decodes it.
type Artwork struct {
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// artworkJSON writes Data as an array of byte values instead of base64.
type artworkJSON struct {
	ContentType string `json:"content_type"`
	Data        []int  `json:"data"`
}

// MarshalJSON encodes Data as a JSON array of numbers, the form the widget
// feeds to a Uint8Array.
func (a Artwork) MarshalJSON() ([]byte, error) {
	out := artworkJSON{ContentType: a.ContentType, Data: make([]int, len(a.Data))}
	for i, b := range a.Data {
		out.Data[i] = int(b)
	}
	return json.Marshal(out)
}

func (a *Artwork) UnmarshalJSON(data []byte) error {
	var in artworkJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	a.ContentType = in.ContentType
	a.Data = nil
	if len(in.Data) > 0 {
		a.Data = make([]byte, len(in.Data))
	}
	for i, v := range in.Data {
		if v < 0 || v > 255 {
			return fmt.Errorf("artwork byte %d out of range: %d", i, v)
		}
		a.Data[i] = byte(v)
	}
	return nil
}

func (a *Artwork) clone() *Artwork {
	if a == nil {
		return nil
	}
	c := *a
	c.Data = append([]byte(nil), a.Data...)
	return &c
}

// UpdateEvent reports that one session's metadata (Model) or media
// properties with optional artwork (Media) changed.
type UpdateEvent struct {
	Kind    UpdateKind
	Model   SessionModel
	Artwork *Artwork // Media only
}

func NewModelUpdate(m SessionModel) UpdateEvent {
	return UpdateEvent{Kind: UpdateModel, Model: m}
}

func NewMediaUpdate(m SessionModel, art *Artwork) UpdateEvent {
	return UpdateEvent{Kind: UpdateMedia, Model: m, Artwork: art}
}

// Clone returns a deep copy of the update.
func (u UpdateEvent) Clone() UpdateEvent {
	u.Model = u.Model.Clone()
	u.Artwork = u.Artwork.clone()
	return u
}

// MarshalJSON encodes Model updates as {"Model": model} and Media updates
// as {"Media": [model, artwork|null]}, the shape the widget UI consumes.
func (u UpdateEvent) MarshalJSON() ([]byte, error) {
	if u.Kind == UpdateMedia {
		return json.Marshal(map[string][2]any{"Media": {u.Model, u.Artwork}})
	}
	return json.Marshal(map[string]SessionModel{"Model": u.Model})
}

func (u *UpdateEvent) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if m, ok := raw["Model"]; ok {
		var model SessionModel
		if err := json.Unmarshal(m, &model); err != nil {
			return fmt.Errorf("decoding Model update: %w", err)
		}
		*u = NewModelUpdate(model)
		return nil
	}
	if m, ok := raw["Media"]; ok {
		var pair []json.RawMessage
		if err := json.Unmarshal(m, &pair); err != nil {
			return fmt.Errorf("decoding Media update: %w", err)
		}
		if len(pair) != 2 {
			return fmt.Errorf("decoding Media update: want 2 elements, got %d", len(pair))
		}
		var model SessionModel
		if err := json.Unmarshal(pair[0], &model); err != nil {
			return fmt.Errorf("decoding Media model: %w", err)
		}
		var art *Artwork
		if err := json.Unmarshal(pair[1], &art); err != nil {
			return fmt.Errorf("decoding Media artwork: %w", err)
		}
		*u = NewMediaUpdate(model, art)
		return nil
	}
	return fmt.Errorf("%w: update has neither Model nor Media", ErrUnrecognizedEvent)
}

// EventType classifies events on the unified stream.
type EventType int

const (
	EventCreate EventType = iota
	EventUpdate
	EventDelete
	EventUnsupported
)

var eventTypeNames = map[EventType]string{
	EventCreate:      "create",
	EventUpdate:      "update",
	EventDelete:      "delete",
	EventUnsupported: "unsupported",
}

func (t EventType) String() string {
	if n, ok := eventTypeNames[t]; ok {
		return n
	}
	return "unknown"
}

// Event is one entry on the unified stream the registry consumes. Create
// and Delete carry the originating ManagerEvent, Update carries the
// UpdateEvent, Unsupported carries a Label and, when known, a session id.
type Event struct {
	Type       EventType
	SessionID  ID
	HasSession bool
	Manager    ManagerEvent
	Update     UpdateEvent
	Label      string
}

func CreateEvent(id ID, ev ManagerEvent) Event {
	return Event{Type: EventCreate, SessionID: id, HasSession: true, Manager: ev}
}

func UpdateEventFor(id ID, ev UpdateEvent) Event {
	return Event{Type: EventUpdate, SessionID: id, HasSession: true, Update: ev}
}

func DeleteEvent(id ID, ev ManagerEvent) Event {
	return Event{Type: EventDelete, SessionID: id, HasSession: true, Manager: ev}
}

// UnsupportedEvent builds an event the registry logs and otherwise ignores.
// A nil id means the event did not name a session.
func UnsupportedEvent(id *ID, label string) Event {
	ev := Event{Type: EventUnsupported, Label: label}
	if id != nil {
		ev.SessionID = *id
		ev.HasSession = true
	}
	return ev
}
