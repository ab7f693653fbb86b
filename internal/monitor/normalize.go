package monitor

import (
	"github.com/np-widget/backend/internal/session"
	"github.com/np-widget/backend/internal/source"
)

// LabelCurrentSessionChanged tags current-session notifications, which the
// registry does not track.
const LabelCurrentSessionChanged = "CurrentSessionChanged"

// NormalizeNotification maps a raw source notification onto the manager
// event taxonomy.
func NormalizeNotification(n source.Notification) session.ManagerEvent {
	id := session.ID(n.SessionID)
	switch n.Kind {
	case source.Created:
		return session.NewSessionCreated(id, n.Source)
	case source.Removed:
		return session.NewSessionRemoved(id)
	default:
		if n.Current == nil {
			return session.NewCurrentSessionChanged(nil)
		}
		cur := session.ID(*n.Current)
		return session.NewCurrentSessionChanged(&cur)
	}
}

// NormalizeUpdate maps a raw per-session change onto an UpdateEvent. Media
// changes carry the thumbnail as artwork; empty thumbnails are dropped.
func NormalizeUpdate(u source.Update) session.UpdateEvent {
	if !u.MediaChanged {
		return session.NewModelUpdate(u.Model)
	}
	var art *session.Artwork
	if u.Thumbnail != nil && len(u.Thumbnail.Data) > 0 {
		art = &session.Artwork{ContentType: u.Thumbnail.ContentType, Data: u.Thumbnail.Data}
	}
	return session.NewMediaUpdate(u.Model, art)
}

// Unify turns a manager event into the event the registry consumes.
func Unify(me session.ManagerEvent) session.Event {
	switch me.Kind {
	case session.SessionCreated:
		return session.CreateEvent(me.SessionID, me)
	case session.SessionRemoved:
		return session.DeleteEvent(me.SessionID, me)
	default:
		if !me.HasSession {
			return session.UnsupportedEvent(nil, LabelCurrentSessionChanged)
		}
		id := me.SessionID
		return session.UnsupportedEvent(&id, LabelCurrentSessionChanged)
	}
}
