package session

import (
	"math"
	"sort"
	"strings"
)

// SortByPriority orders records for display: playing sessions first, then
// by position of their source in priorities (case-insensitive, unlisted
// sources last), then most recently updated first, then by id.
func SortByPriority(snap Snapshot, priorities []string) []*SessionRecord {
	rank := make(map[string]int, len(priorities))
	for i, p := range priorities {
		key := strings.ToLower(strings.TrimSpace(p))
		if _, dup := rank[key]; !dup && key != "" {
			rank[key] = i
		}
	}

	out := make([]*SessionRecord, 0, len(snap))
	for _, rec := range snap {
		out = append(out, rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if pa, pb := isPlaying(a), isPlaying(b); pa != pb {
			return pa
		}
		if ra, rb := sourceRank(a, rank), sourceRank(b, rank); ra != rb {
			return ra < rb
		}
		if ta, tb := a.LastSeen(), b.LastSeen(); !ta.Equal(tb) {
			return ta.After(tb)
		}
		return a.SessionID < b.SessionID
	})
	return out
}

func isPlaying(rec *SessionRecord) bool {
	m, ok := rec.LatestModel()
	return ok && m.Status() == StatusPlaying
}

func sourceRank(rec *SessionRecord, rank map[string]int) int {
	for _, name := range []string{rec.SourceName(), modelSource(rec)} {
		if r, ok := rank[strings.ToLower(name)]; ok && name != "" {
			return r
		}
	}
	return math.MaxInt
}

func modelSource(rec *SessionRecord) string {
	m, ok := rec.LatestModel()
	if !ok {
		return ""
	}
	return m.Source
}
