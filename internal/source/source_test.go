package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/np-widget/backend/internal/config"
	"github.com/np-widget/backend/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func recv(t *testing.T, ch <-chan Notification) Notification {
	t.Helper()
	select {
	case n, ok := <-ch:
		require.True(t, ok, "notification channel closed")
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
	return Notification{}
}

func recvUpdate(t *testing.T, ch <-chan Update) Update {
	t.Helper()
	select {
	case u, ok := <-ch:
		require.True(t, ok, "update channel closed")
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
	}
	return Update{}
}

func TestOpenUnknownKind(t *testing.T) {
	_, err := Open(config.SourceConfig{Kind: "bluetooth"}, discardLogger())
	require.Error(t, err)
	assert.True(t, errors.Is(err, session.ErrSourceUnavailable))
}

func TestOpenDefaultsToMock(t *testing.T) {
	src, err := Open(config.SourceConfig{}, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "mock", src.Name())
}

func TestOpenScenarioMissingFile(t *testing.T) {
	_, err := Open(config.SourceConfig{
		Kind:     "scenario",
		Scenario: config.ScenarioConfig{Path: filepath.Join(t.TempDir(), "missing.yaml")},
	}, discardLogger())
	assert.ErrorIs(t, err, session.ErrSourceUnavailable)
}

func TestMockSourceAnnouncesPlayers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := NewMockSource(config.MockConfig{Interval: 10 * time.Millisecond, Seed: 42}, discardLogger())
	out, err := src.Start(ctx)
	require.NoError(t, err)

	seen := make(map[uint64]bool)
	for i := 0; i < 3; i++ {
		n := recv(t, out)
		require.Equal(t, Created, n.Kind)
		assert.False(t, seen[n.SessionID], "duplicate id %d", n.SessionID)
		seen[n.SessionID] = true
		require.NotNil(t, n.Updates)

		first := recvUpdate(t, n.Updates)
		assert.True(t, first.MediaChanged)
		require.NotNil(t, first.Thumbnail)
		assert.Equal(t, "image/png", first.Thumbnail.ContentType)
		assert.Equal(t, n.Source, first.Model.Source)
	}
}

func TestMockSourceClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := NewMockSource(config.MockConfig{Interval: 5 * time.Millisecond, Seed: 1}, discardLogger())
	out, err := src.Start(ctx)
	require.NoError(t, err)

	var streams []<-chan Update
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		n := recv(t, out)
		streams = append(streams, n.Updates)
	}
	for _, s := range streams {
		wg.Add(1)
		go func(s <-chan Update) {
			defer wg.Done()
			for range s {
			}
		}(s)
	}
	go func() {
		for range out {
		}
	}()

	cancel()
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("update streams not closed after cancel")
	}
}

func TestMockThumbnailStable(t *testing.T) {
	tr := mockTrack{title: "Teardrop", artist: "Massive Attack"}
	a, b := mockThumbnail(tr), mockThumbnail(tr)
	assert.Equal(t, a.Data, b.Data)
	assert.NotEqual(t, a.Data, mockThumbnail(mockTrack{title: "Intro", artist: "The xx"}).Data)
}

type fakeSampler struct {
	mu      sync.Mutex
	batches [][]procSample
	err     error
}

func (f *fakeSampler) Sample(_ context.Context, _ func(string) (string, bool)) ([]procSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	b := f.batches[0]
	if len(f.batches) > 1 {
		f.batches = f.batches[1:]
	}
	return b, nil
}

func newTestProcessSource(s sampler) *ProcessSource {
	p := NewProcessSource(config.ProcessConfig{
		Players:             []string{"Spotify.exe", "vlc"},
		PollInterval:        time.Hour,
		PlayingCPUThreshold: 2,
	}, discardLogger())
	p.sampler = s
	return p
}

func TestProcessSourceNoPlayers(t *testing.T) {
	p := NewProcessSource(config.ProcessConfig{}, discardLogger())
	_, err := p.Start(context.Background())
	assert.ErrorIs(t, err, session.ErrSourceUnavailable)
}

func TestProcessSourceFirstSampleFails(t *testing.T) {
	p := newTestProcessSource(&fakeSampler{err: errors.New("permission denied")})
	_, err := p.Start(context.Background())
	assert.ErrorIs(t, err, session.ErrSourceUnavailable)
}

func TestProcessNameNormalization(t *testing.T) {
	assert.Equal(t, "spotify", normalizeProcessName(" Spotify.EXE "))
	assert.Equal(t, "vlc", normalizeProcessName("/usr/bin/vlc"))

	p := newTestProcessSource(&fakeSampler{})
	name, ok := p.match("SPOTIFY.exe")
	assert.True(t, ok)
	assert.Equal(t, "spotify", name)
	_, ok = p.match("bash")
	assert.False(t, ok)
}

func TestProcessReconcile(t *testing.T) {
	ctx := context.Background()
	p := newTestProcessSource(&fakeSampler{})
	out := make(chan Notification, 8)

	// two spotify processes collapse into one session keyed by the lowest pid
	require.True(t, p.reconcile(ctx, out, []procSample{
		{PID: 900, Name: "spotify", CPU: 1.5},
		{PID: 400, Name: "spotify", CPU: 1.0},
	}))
	n := recv(t, out)
	assert.Equal(t, Created, n.Kind)
	assert.Equal(t, uint64(400), n.SessionID)
	assert.Equal(t, "spotify", n.Source)
	u := recvUpdate(t, n.Updates)
	assert.Equal(t, session.StatusPlaying, u.Model.Playback.Status)

	// combined cpu falls below the threshold
	require.True(t, p.reconcile(ctx, out, []procSample{{PID: 400, Name: "spotify", CPU: 0.1}}))
	u = recvUpdate(t, n.Updates)
	assert.Equal(t, session.StatusPaused, u.Model.Playback.Status)

	// unchanged status pushes nothing
	require.True(t, p.reconcile(ctx, out, []procSample{{PID: 400, Name: "spotify", CPU: 0.2}}))
	select {
	case <-n.Updates:
		t.Fatal("unexpected update")
	default:
	}

	// player gone: its stream closes before Removed is announced
	require.True(t, p.reconcile(ctx, out, nil))
	_, open := <-n.Updates
	assert.False(t, open)
	removed := recv(t, out)
	assert.Equal(t, Removed, removed.Kind)
	assert.Equal(t, uint64(400), removed.SessionID)
	assert.Empty(t, p.tracked)
}

func TestProcessSourceRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := newTestProcessSource(&fakeSampler{batches: [][]procSample{{{PID: 7, Name: "vlc", CPU: 10}}}})
	out, err := p.Start(ctx)
	require.NoError(t, err)

	n := recv(t, out)
	assert.Equal(t, Created, n.Kind)
	assert.Equal(t, uint64(7), n.SessionID)
	recvUpdate(t, n.Updates)

	cancel()
	for range out {
	}
	_, open := <-n.Updates
	assert.False(t, open)
}

const testScenario = `
steps:
  - create: {id: 1, source: Spotify}
  - update:
      id: 1
      kind: media
      title: Teardrop
      artist: Massive Attack
      album: Mezzanine
      status: Playing
      end_ms: 330000
      artwork:
        content_type: image/png
        data: iVBORw0K
  - delay: 1ms
    update: {id: 1, kind: model, status: Paused, position_ms: 1000}
  - current: {id: 1}
  - update: {id: 9, kind: model, status: Playing}
  - remove: 1
  - current: {}
`

func TestParseScenario(t *testing.T) {
	sc, err := ParseScenario([]byte(testScenario), ".")
	require.NoError(t, err)
	require.Len(t, sc.Steps, 7)
	assert.Equal(t, time.Millisecond, sc.Steps[2].Delay)
	assert.Equal(t, uint64(1), *sc.Steps[5].Remove)
	assert.Nil(t, sc.Steps[6].Current.ID)
}

func TestParseScenarioRejectsBadSteps(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty step", "steps:\n  - delay: 1s\n"},
		{"two actions", "steps:\n  - {remove: 1, close: 1}\n"},
		{"bad kind", "steps:\n  - update: {id: 1, kind: lyrics}\n"},
		{"bad status", "steps:\n  - update: {id: 1, kind: model, status: Rewinding}\n"},
		{"bad artwork", "steps:\n  - update: {id: 1, kind: media, artwork: {data: '***'}}\n"},
		{"not yaml", "steps: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml), ".")
			assert.Error(t, err)
		})
	}
}

func TestParseScenarioArtworkFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cover.jpg"), []byte{0xff, 0xd8, 0xff}, 0o644))

	sc, err := ParseScenario([]byte("steps:\n  - update: {id: 1, kind: media, artwork: {content_type: image/jpeg, file: cover.jpg}}\n"), dir)
	require.NoError(t, err)
	assert.Equal(t, "/9j/", sc.Steps[0].Update.Artwork.Data)
}

func TestScenarioSourceReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testScenario), 0o644))

	src, err := NewScenarioSource(config.ScenarioConfig{Path: path}, discardLogger())
	require.NoError(t, err)

	out, err := src.Start(context.Background())
	require.NoError(t, err)

	created := recv(t, out)
	assert.Equal(t, Created, created.Kind)
	assert.Equal(t, "Spotify", created.Source)

	media := recvUpdate(t, created.Updates)
	assert.True(t, media.MediaChanged)
	assert.Equal(t, "Teardrop", media.Model.Media.Title)
	assert.Equal(t, "Mezzanine", media.Model.Media.Album.Title)
	assert.Equal(t, session.StatusPlaying, media.Model.Playback.Status)
	require.NotNil(t, media.Thumbnail)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G', '\r', '\n'}, media.Thumbnail.Data)

	model := recvUpdate(t, created.Updates)
	assert.False(t, model.MediaChanged)
	assert.Equal(t, session.StatusPaused, model.Model.Playback.Status)
	assert.Equal(t, int64(1000), model.Model.Timeline.Position)

	cur := recv(t, out)
	assert.Equal(t, CurrentChanged, cur.Kind)
	require.NotNil(t, cur.Current)
	assert.Equal(t, uint64(1), *cur.Current)

	removed := recv(t, out)
	assert.Equal(t, Removed, removed.Kind)
	_, open := <-created.Updates
	assert.False(t, open)

	cleared := recv(t, out)
	assert.Equal(t, CurrentChanged, cleared.Kind)
	assert.Nil(t, cleared.Current)

	_, open = <-out
	assert.False(t, open, "scenario should close its channel when finished")
}

func TestScenarioSourceSkipsUpdateBeforeCreate(t *testing.T) {
	sc, err := ParseScenario([]byte(`
steps:
  - update: {id: 3, kind: media, title: Early}
  - create: {id: 3, source: vlc}
  - update: {id: 3, kind: media, title: Late}
`), ".")
	require.NoError(t, err)

	out, err := NewScenarioSourceFrom(sc, false, discardLogger()).Start(context.Background())
	require.NoError(t, err)

	created := recv(t, out)
	assert.Equal(t, Created, created.Kind)
	assert.Equal(t, uint64(3), created.SessionID)
	assert.Equal(t, "Late", recvUpdate(t, created.Updates).Model.Media.Title)

	_, open := <-out
	assert.False(t, open)
}
