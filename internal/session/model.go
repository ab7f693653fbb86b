package session

import (
	"encoding/json"
)

type PlaybackStatus int

const (
	StatusClosed PlaybackStatus = iota
	StatusOpened
	StatusChanging
	StatusStopped
	StatusPlaying
	StatusPaused
)

var statusNames = map[PlaybackStatus]string{
	StatusClosed:   "Closed",
	StatusOpened:   "Opened",
	StatusChanging: "Changing",
	StatusStopped:  "Stopped",
	StatusPlaying:  "Playing",
	StatusPaused:   "Paused",
}

var statusFromName = map[string]PlaybackStatus{
	"Closed":   StatusClosed,
	"Opened":   StatusOpened,
	"Changing": StatusChanging,
	"Stopped":  StatusStopped,
	"Playing":  StatusPlaying,
	"Paused":   StatusPaused,
}

func (s PlaybackStatus) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "Closed"
}

func (s PlaybackStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *PlaybackStatus) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if v, ok := statusFromName[n]; ok {
		*s = v
	}
	return nil
}

// ParsePlaybackStatus maps a wire name to a status. Unknown names yield
// StatusClosed and false.
func ParsePlaybackStatus(name string) (PlaybackStatus, bool) {
	v, ok := statusFromName[name]
	return v, ok
}

type PlaybackType int

const (
	TypeUnknown PlaybackType = iota
	TypeMusic
	TypeVideo
	TypeImage
)

var typeNames = map[PlaybackType]string{
	TypeUnknown: "Unknown",
	TypeMusic:   "Music",
	TypeVideo:   "Video",
	TypeImage:   "Image",
}

var typeFromName = map[string]PlaybackType{
	"Unknown": TypeUnknown,
	"Music":   TypeMusic,
	"Video":   TypeVideo,
	"Image":   TypeImage,
}

func (t PlaybackType) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "Unknown"
}

func (t PlaybackType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *PlaybackType) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if v, ok := typeFromName[n]; ok {
		*t = v
	}
	return nil
}

type AutoRepeat int

const (
	RepeatNone AutoRepeat = iota
	RepeatTrack
	RepeatList
)

var repeatNames = map[AutoRepeat]string{
	RepeatNone:  "None",
	RepeatTrack: "Track",
	RepeatList:  "List",
}

var repeatFromName = map[string]AutoRepeat{
	"None":  RepeatNone,
	"Track": RepeatTrack,
	"List":  RepeatList,
}

func (r AutoRepeat) String() string {
	if n, ok := repeatNames[r]; ok {
		return n
	}
	return "None"
}

func (r AutoRepeat) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *AutoRepeat) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if v, ok := repeatFromName[n]; ok {
		*r = v
	}
	return nil
}

// SessionModel is the metadata snapshot a source reports for one session.
// Any of the nested models may be nil when the source has not resolved it.
type SessionModel struct {
	Source   string         `json:"source"`
	Playback *PlaybackModel `json:"playback"`
	Timeline *TimelineModel `json:"timeline"`
	Media    *MediaModel    `json:"media"`
}

type PlaybackModel struct {
	AutoRepeat AutoRepeat     `json:"auto_repeat"`
	Rate       float64        `json:"rate"`
	Shuffle    bool           `json:"shuffle"`
	Status     PlaybackStatus `json:"status"`
	Type       PlaybackType   `json:"type"`
}

// TimelineModel positions are in milliseconds.
type TimelineModel struct {
	Start           int64 `json:"start"`
	End             int64 `json:"end"`
	Position        int64 `json:"position"`
	LastUpdatedAtMs int64 `json:"last_updated_at_ms"`
}

type AlbumModel struct {
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	TrackCount int    `json:"track_count"`
}

type MediaModel struct {
	Title        string       `json:"title"`
	Subtitle     string       `json:"subtitle"`
	Artist       string       `json:"artist"`
	Album        *AlbumModel  `json:"album"`
	Genres       []string     `json:"genres"`
	PlaybackType PlaybackType `json:"playback_type"`
	TrackNumber  *int         `json:"track_number"`
}

// MarshalJSON writes a nil Genres as [] so the field is always an array.
func (m MediaModel) MarshalJSON() ([]byte, error) {
	type plain MediaModel
	if m.Genres == nil {
		m.Genres = []string{}
	}
	return json.Marshal(plain(m))
}

// Clone returns a deep copy of the model.
func (m SessionModel) Clone() SessionModel {
	if m.Playback != nil {
		p := *m.Playback
		m.Playback = &p
	}
	if m.Timeline != nil {
		t := *m.Timeline
		m.Timeline = &t
	}
	if m.Media != nil {
		md := *m.Media
		if md.Album != nil {
			a := *md.Album
			md.Album = &a
		}
		if md.Genres != nil {
			md.Genres = append([]string(nil), md.Genres...)
		}
		if md.TrackNumber != nil {
			n := *md.TrackNumber
			md.TrackNumber = &n
		}
		m.Media = &md
	}
	return m
}

// Status returns the playback status, or StatusClosed when unknown.
func (m SessionModel) Status() PlaybackStatus {
	if m.Playback == nil {
		return StatusClosed
	}
	return m.Playback.Status
}
