package source

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand"
	"time"

	"github.com/np-widget/backend/internal/config"
	"github.com/np-widget/backend/internal/observability"
	"github.com/np-widget/backend/internal/session"
)

type mockTrack struct {
	title    string
	artist   string
	album    string
	duration time.Duration
}

type mockPlayer struct {
	id       uint64
	source   string
	kind     session.PlaybackType
	tracks   []mockTrack
	trackIdx int
	position time.Duration
	status   session.PlaybackStatus
	pattern  string
	updates  chan Update
	removed  bool

	// lifecycle, in ticks; zero means never
	removeAt   int
	recreateAt int
}

// MockSource emits scripted fake players for development and demos: track
// changes with artwork, timeline progress, pause/resume, a session that
// closes and later reappears under a new id, and current-session changes.
type MockSource struct {
	interval time.Duration
	rng      *rand.Rand
	logger   *slog.Logger
	players  []*mockPlayer
	nextID   uint64
	current  uint64
}

func NewMockSource(cfg config.MockConfig, logger *slog.Logger) *MockSource {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &MockSource{
		interval: interval,
		rng:      rand.New(rand.NewSource(seed)),
		logger:   observability.WithComponent(logger, "source").With(slog.String("source", "mock")),
		nextID:   100,
	}
}

func (m *MockSource) Name() string { return "mock" }

func (m *MockSource) Start(ctx context.Context) (<-chan Notification, error) {
	m.players = []*mockPlayer{
		{
			source: "SpotifyAB.SpotifyMusic_zpdnekdrzrea0!Spotify", kind: session.TypeMusic, pattern: "steady",
			status: session.StatusPlaying,
			tracks: []mockTrack{
				{title: "Midnight City", artist: "M83", album: "Hurry Up, We're Dreaming", duration: 8 * time.Second},
				{title: "Intro", artist: "The xx", album: "xx", duration: 6 * time.Second},
				{title: "Teardrop", artist: "Massive Attack", album: "Mezzanine", duration: 10 * time.Second},
			},
		},
		{
			source: "foobar2000.exe", kind: session.TypeMusic, pattern: "flaky",
			status: session.StatusPaused,
			tracks: []mockTrack{
				{title: "So What", artist: "Miles Davis", album: "Kind of Blue", duration: 12 * time.Second},
				{title: "Blue in Green", artist: "Miles Davis", album: "Kind of Blue", duration: 9 * time.Second},
			},
		},
		{
			source: "msedge.exe", kind: session.TypeVideo, pattern: "steady",
			status: session.StatusPlaying, removeAt: 40, recreateAt: 60,
			tracks: []mockTrack{
				{title: "Conference keynote", artist: "Some Channel", duration: 30 * time.Second},
			},
		},
	}

	out := make(chan Notification)
	go m.run(ctx, out)
	return out, nil
}

func (m *MockSource) run(ctx context.Context, out chan<- Notification) {
	defer close(out)
	defer func() {
		for _, p := range m.players {
			if !p.removed && p.updates != nil {
				close(p.updates)
			}
		}
	}()

	for _, p := range m.players {
		if !m.open(ctx, out, p) {
			return
		}
	}
	m.logger.Info("mock source started", slog.Int("players", len(m.players)), slog.Duration("interval", m.interval))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			for _, p := range m.players {
				if !m.advance(ctx, out, p, tick) {
					return
				}
			}
			if !m.announceCurrent(ctx, out) {
				return
			}
		}
	}
}

// open assigns a fresh id and announces the player with its first track.
func (m *MockSource) open(ctx context.Context, out chan<- Notification, p *mockPlayer) bool {
	m.nextID++
	p.id = m.nextID
	p.removed = false
	p.position = 0
	p.updates = make(chan Update, 4)

	if !emit(ctx, out, Notification{Kind: Created, SessionID: p.id, Source: p.source, Updates: p.updates}) {
		return false
	}
	return push(ctx, p.updates, m.mediaUpdate(p))
}

func (m *MockSource) advance(ctx context.Context, out chan<- Notification, p *mockPlayer, tick int) bool {
	if p.removed {
		if p.recreateAt > 0 && tick == p.recreateAt {
			m.logger.Debug("mock player reopening", slog.String("player", p.source))
			return m.open(ctx, out, p)
		}
		return true
	}

	if p.removeAt > 0 && tick == p.removeAt {
		p.removed = true
		close(p.updates)
		m.logger.Debug("mock player closing", slog.Uint64("session_id", p.id))
		return emit(ctx, out, Notification{Kind: Removed, SessionID: p.id})
	}

	switch p.pattern {
	case "flaky":
		// paused for 8 ticks out of every 20
		if tick%20 < 8 {
			p.status = session.StatusPaused
		} else {
			p.status = session.StatusPlaying
		}
	default:
		p.status = session.StatusPlaying
	}

	if p.status == session.StatusPlaying {
		jitter := time.Duration(m.rng.Intn(50)) * time.Millisecond
		p.position += m.interval + jitter
	}

	if p.position >= p.tracks[p.trackIdx].duration {
		p.trackIdx = (p.trackIdx + 1) % len(p.tracks)
		p.position = 0
		return push(ctx, p.updates, m.mediaUpdate(p))
	}
	return push(ctx, p.updates, Update{Model: m.model(p)})
}

// announceCurrent reports the lowest-id playing player as current when it
// changes.
func (m *MockSource) announceCurrent(ctx context.Context, out chan<- Notification) bool {
	var current uint64
	for _, p := range m.players {
		if !p.removed && p.status == session.StatusPlaying && (current == 0 || p.id < current) {
			current = p.id
		}
	}
	if current == m.current {
		return true
	}
	m.current = current
	n := Notification{Kind: CurrentChanged}
	if current != 0 {
		id := current
		n.Current = &id
	}
	return emit(ctx, out, n)
}

func (m *MockSource) model(p *mockPlayer) session.SessionModel {
	track := p.tracks[p.trackIdx]
	trackNumber := p.trackIdx + 1
	now := time.Now()

	var album *session.AlbumModel
	if track.album != "" {
		album = &session.AlbumModel{Title: track.album, Artist: track.artist, TrackCount: len(p.tracks)}
	}

	return session.SessionModel{
		Source: p.source,
		Playback: &session.PlaybackModel{
			AutoRepeat: session.RepeatList,
			Rate:       1,
			Status:     p.status,
			Type:       p.kind,
		},
		Timeline: &session.TimelineModel{
			End:             track.duration.Milliseconds(),
			Position:        p.position.Milliseconds(),
			LastUpdatedAtMs: now.UnixMilli(),
		},
		Media: &session.MediaModel{
			Title:        track.title,
			Artist:       track.artist,
			Album:        album,
			PlaybackType: p.kind,
			TrackNumber:  &trackNumber,
		},
	}
}

func (m *MockSource) mediaUpdate(p *mockPlayer) Update {
	return Update{
		Model:        m.model(p),
		MediaChanged: true,
		Thumbnail:    mockThumbnail(p.tracks[p.trackIdx]),
	}
}

// mockThumbnail returns a stable fake image per track. Only the PNG
// signature is real; consumers treat artwork as opaque.
func mockThumbnail(t mockTrack) *Thumbnail {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s/%s", t.artist, t.title)
	sum := h.Sum(nil)
	data := append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, sum...)
	return &Thumbnail{ContentType: "image/png", Data: data}
}
