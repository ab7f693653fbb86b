package session

import (
	"sync"
	"time"
)

// Store holds the session registry behind one guard. Records are replaced
// on every transition and never mutated in place, so a reader always sees
// either the whole previous record or the whole new one.
type Store struct {
	mu       sync.RWMutex
	sessions map[ID]*SessionRecord
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[ID]*SessionRecord),
	}
}

func (s *Store) Get(id ID) (*SessionRecord, bool) {
	s.mu.RLock()
	rec, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Snapshot returns a copy of the whole registry. The guard is held only
// while the map is copied; records are cloned after it is released, which
// is safe because stored records are immutable.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	shallow := make(map[ID]*SessionRecord, len(s.sessions))
	for id, rec := range s.sessions {
		shallow[id] = rec
	}
	s.mu.RUnlock()

	out := make(Snapshot, len(shallow))
	for id, rec := range shallow {
		out[id] = rec.Clone()
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Apply runs one transition under the exclusive guard.
func (s *Store) Apply(ev Event, now time.Time) (Delta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Apply(s.sessions, ev, now)
}
