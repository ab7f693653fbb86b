package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/np-widget/backend/internal/session"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	playingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	pausedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

// Column widths (fixed layout).
const (
	colID       = 6
	colSource   = 16
	colStatus   = 9
	colTitle    = 28
	colArtist   = 20
	colPosition = 13
	colUpdated  = 8
)

// RenderSessions draws records as a fixed-width table.
func RenderSessions(records []*session.SessionRecord, now time.Time) string {
	if len(records) == 0 {
		return dimStyle.Render("No sessions")
	}

	header := fmt.Sprintf("%-*s %-*s %-*s %-*s %-*s %-*s %*s",
		colID, "ID",
		colSource, "Source",
		colStatus, "Status",
		colTitle, "Title",
		colArtist, "Artist",
		colPosition, "Position",
		colUpdated, "Updated",
	)
	lines := []string{
		headerStyle.Render(header),
		dimStyle.Render(strings.Repeat("─", lipgloss.Width(header))),
	}

	for _, rec := range records {
		status := Status(rec)
		title, artist := Media(rec)

		statusStyle := dimStyle
		switch status {
		case session.StatusPlaying.String():
			statusStyle = playingStyle
		case session.StatusPaused.String():
			statusStyle = pausedStyle
		}

		line := strings.Join([]string{
			lipgloss.NewStyle().Width(colID).Render(rec.SessionID.String()),
			lipgloss.NewStyle().Width(colSource).Render(truncate(Source(rec), colSource-1)),
			statusStyle.Width(colStatus).Render(status),
			lipgloss.NewStyle().Width(colTitle).Render(truncate(title, colTitle-1)),
			lipgloss.NewStyle().Width(colArtist).Render(truncate(artist, colArtist-1)),
			dimStyle.Width(colPosition).Render(Position(rec)),
			dimStyle.Width(colUpdated).Align(lipgloss.Right).Render(Age(rec, now)),
		}, " ")
		lines = append(lines, line)
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func Source(rec *session.SessionRecord) string {
	if rec.Source == nil {
		return "-"
	}
	return *rec.Source
}

// latestModel prefers the model update, which carries the freshest
// playback state.
func latestModel(rec *session.SessionRecord) *session.SessionModel {
	if rec.LastModelUpdate != nil {
		return &rec.LastModelUpdate.Model
	}
	if rec.LastMediaUpdate != nil {
		return &rec.LastMediaUpdate.Model
	}
	return nil
}

func Status(rec *session.SessionRecord) string {
	m := latestModel(rec)
	if m == nil || m.Playback == nil {
		return "-"
	}
	return m.Playback.Status.String()
}

// Media returns title and artist, preferring the last media update.
func Media(rec *session.SessionRecord) (title, artist string) {
	var media *session.MediaModel
	if rec.LastMediaUpdate != nil {
		media = rec.LastMediaUpdate.Model.Media
	}
	if media == nil {
		if m := latestModel(rec); m != nil {
			media = m.Media
		}
	}
	if media == nil {
		return "-", "-"
	}
	return media.Title, media.Artist
}

func Position(rec *session.SessionRecord) string {
	m := latestModel(rec)
	if m == nil || m.Timeline == nil {
		return "-"
	}
	return clock(m.Timeline.Position) + " / " + clock(m.Timeline.End)
}

// clock formats milliseconds as m:ss.
func clock(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

// Age is the time since the record last changed.
func Age(rec *session.SessionRecord, now time.Time) string {
	ts := rec.TimestampUpdated
	if ts == nil {
		ts = rec.TimestampCreated
	}
	if ts == nil {
		return "-"
	}
	age := now.Sub(ts.Time)
	switch {
	case age < time.Minute:
		return fmt.Sprintf("%ds", int(age.Seconds()))
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	default:
		return fmt.Sprintf("%dh", int(age.Hours()))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
