// Package source adapts OS-level media session facilities into raw
// notification streams. Each adapter owns decoding of its native shapes
// (including artwork bytes); the monitor package normalizes the result.
package source

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/np-widget/backend/internal/config"
	"github.com/np-widget/backend/internal/session"
)

// Source defines the interface for a media session provider.
type Source interface {
	// Name returns a short lowercase identifier, e.g. "mock", "process".
	Name() string

	// Start begins producing manager-level notifications. The returned
	// channel is closed when the source is exhausted or ctx ends. A
	// source that cannot initialize returns an error wrapping
	// session.ErrSourceUnavailable.
	Start(ctx context.Context) (<-chan Notification, error)
}

// NotificationKind is the raw manager-level event kind.
type NotificationKind int

const (
	Created NotificationKind = iota
	Removed
	CurrentChanged
)

// Notification is a raw manager-level event as a source produces it.
type Notification struct {
	Kind      NotificationKind
	SessionID uint64

	// Source names the producing application. Created only.
	Source string

	// Updates carries the session's own update stream. Created only. The
	// source closes it when the session ends.
	Updates <-chan Update

	// Current is the new current session, nil when none. CurrentChanged only.
	Current *uint64
}

// Update is a raw per-session change. MediaChanged distinguishes media
// property changes (which may carry a thumbnail) from other metadata
// changes such as playback state or timeline.
type Update struct {
	Model        session.SessionModel
	MediaChanged bool
	Thumbnail    *Thumbnail
}

// Thumbnail is artwork already read out of the native stream.
type Thumbnail struct {
	ContentType string
	Data        []byte
}

// Open builds the source selected by cfg.Kind.
func Open(cfg config.SourceConfig, logger *slog.Logger) (Source, error) {
	switch cfg.Kind {
	case "mock", "":
		return NewMockSource(cfg.Mock, logger), nil
	case "process":
		return NewProcessSource(cfg.Process, logger), nil
	case "scenario":
		return NewScenarioSource(cfg.Scenario, logger)
	}
	return nil, fmt.Errorf("%w: unknown source kind %q", session.ErrSourceUnavailable, cfg.Kind)
}

// emit sends n unless ctx ends first.
func emit(ctx context.Context, out chan<- Notification, n Notification) bool {
	select {
	case out <- n:
		return true
	case <-ctx.Done():
		return false
	}
}

// push sends u unless ctx ends first.
func push(ctx context.Context, out chan<- Update, u Update) bool {
	select {
	case out <- u:
		return true
	case <-ctx.Done():
		return false
	}
}
