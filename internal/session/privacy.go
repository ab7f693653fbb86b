package session

import (
	"crypto/sha256"
	"fmt"
	"path"
	"strings"
)

// PrivacyFilter decides which sessions reach clients and what they see of
// them. It is applied to outgoing records only; registry state is never
// filtered. The zero value is a no-op filter.
type PrivacyFilter struct {
	AllowedSources []string
	BlockedSources []string
	MaskSources    bool
	StripArtwork   bool
}

// IsAllowed reports whether a session from the given source should be sent.
// An unknown source is always allowed (the record was synthesized before
// its create arrived). Patterns are case-insensitive globs.
func (f *PrivacyFilter) IsAllowed(source string) bool {
	if source == "" {
		return true
	}
	source = strings.ToLower(source)

	if len(f.AllowedSources) > 0 {
		allowed := false
		for _, pattern := range f.AllowedSources {
			if matchSource(pattern, source) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	for _, pattern := range f.BlockedSources {
		if matchSource(pattern, source) {
			return false
		}
	}

	return true
}

func matchSource(pattern, source string) bool {
	matched, err := path.Match(strings.ToLower(pattern), source)
	return err == nil && matched
}

// Apply returns a filtered copy of rec. The original is never modified.
func (f *PrivacyFilter) Apply(rec *SessionRecord) *SessionRecord {
	if f.IsNoop() {
		return rec
	}
	out := rec.Clone()

	if f.MaskSources && out.Source != nil {
		masked := shortHash(*out.Source)
		out.Source = &masked
	}
	if f.MaskSources {
		for _, u := range []*UpdateEvent{out.LastMediaUpdate, out.LastModelUpdate} {
			if u != nil && u.Model.Source != "" {
				u.Model.Source = shortHash(u.Model.Source)
			}
		}
	}

	if f.StripArtwork && out.LastMediaUpdate != nil {
		out.LastMediaUpdate.Artwork = nil
	}

	return out
}

// Allows reports whether rec passes the source lists.
func (f *PrivacyFilter) Allows(rec *SessionRecord) bool {
	return f.IsAllowed(rec.SourceName())
}

// FilterSnapshot returns a new snapshot with only allowed sessions, each
// filtered. The original is not modified.
func (f *PrivacyFilter) FilterSnapshot(snap Snapshot) Snapshot {
	if f.IsNoop() {
		return snap
	}
	out := make(Snapshot, len(snap))
	for id, rec := range snap {
		if !f.Allows(rec) {
			continue
		}
		out[id] = f.Apply(rec)
	}
	return out
}

// IsNoop reports whether the filter does nothing.
func (f *PrivacyFilter) IsNoop() bool {
	return !f.MaskSources && !f.StripArtwork &&
		len(f.AllowedSources) == 0 && len(f.BlockedSources) == 0
}

// shortHash returns a truncated SHA-256 hex digest for an opaque identifier.
func shortHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:6])
}
