package monitor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/np-widget/backend/internal/session"
	"github.com/np-widget/backend/internal/source"
	"github.com/np-widget/backend/internal/ws"
)

const testDrainTimeout = 50 * time.Millisecond

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	t        *testing.T
	stream   *session.Stream
	listener *Listener
	notifs   chan source.Notification
	cancel   context.CancelFunc
	result   chan error
}

func startListener(t *testing.T, buffer int) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		t:      t,
		stream: session.NewStream(buffer),
		notifs: make(chan source.Notification),
		cancel: cancel,
		result: make(chan error, 1),
	}
	h.listener = NewListener(h.stream, discardLogger())
	h.listener.SetDrainTimeout(testDrainTimeout)
	go func() { h.result <- h.listener.Run(ctx, h.notifs) }()
	t.Cleanup(cancel)
	return h
}

func (h *harness) send(n source.Notification) {
	h.t.Helper()
	select {
	case h.notifs <- n:
	case <-time.After(2 * time.Second):
		h.t.Fatal("listener did not accept notification")
	}
}

func (h *harness) next() session.Event {
	h.t.Helper()
	select {
	case ev := <-h.stream.Events():
		return ev
	case <-time.After(2 * time.Second):
		h.t.Fatal("no event on stream")
		return session.Event{}
	}
}

func (h *harness) wait() error {
	h.t.Helper()
	select {
	case err := <-h.result:
		return err
	case <-time.After(2 * time.Second):
		h.t.Fatal("listener did not return")
		return nil
	}
}

func created(id uint64, src string, updates <-chan source.Update) source.Notification {
	return source.Notification{Kind: source.Created, SessionID: id, Source: src, Updates: updates}
}

func titled(title string) source.Update {
	return source.Update{Model: session.SessionModel{Media: &session.MediaModel{Title: title}}, MediaChanged: true}
}

func assertNotReceived(t *testing.T, updates chan<- source.Update) {
	t.Helper()
	select {
	case updates <- titled("late"):
		t.Fatal("update accepted by a stopped relay")
	case <-time.After(50 * time.Millisecond):
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestListener_CreateUpdateRemove(t *testing.T) {
	h := startListener(t, 16)
	updates := make(chan source.Update)

	h.send(created(1, "Spotify", updates))
	ev := h.next()
	assert.Equal(t, session.EventCreate, ev.Type)
	assert.Equal(t, session.ID(1), ev.SessionID)
	assert.Equal(t, "Spotify", ev.Manager.Source)

	updates <- titled("Teardrop")
	ev = h.next()
	assert.Equal(t, session.EventUpdate, ev.Type)
	assert.Equal(t, session.ID(1), ev.SessionID)
	assert.Equal(t, session.UpdateMedia, ev.Update.Kind)
	assert.Equal(t, "Teardrop", ev.Update.Model.Media.Title)
	assert.Equal(t, 1, h.listener.ActiveRelays())

	h.send(source.Notification{Kind: source.Removed, SessionID: 1})
	ev = h.next()
	assert.Equal(t, session.EventDelete, ev.Type)
	assert.Equal(t, session.ID(1), ev.SessionID)
	assert.Equal(t, 0, h.listener.ActiveRelays())
	assertNotReceived(t, updates)

	close(h.notifs)
	assert.NoError(t, h.wait())

	health := h.listener.Health()
	assert.Equal(t, int64(2), health.ManagerEvents)
	assert.Equal(t, int64(1), health.Updates)
}

func TestListener_RemoveForwardsQueuedUpdates(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	playing := source.Update{Model: session.SessionModel{Playback: &session.PlaybackModel{Status: session.StatusPlaying}}}
	media := source.Update{
		Model:        session.SessionModel{Media: &session.MediaModel{Title: "Teardrop", Artist: "Massive Attack"}},
		MediaChanged: true,
		Thumbnail:    &source.Thumbnail{ContentType: "image/png", Data: []byte{0x89, 'P'}},
	}

	for range 100 {
		h := startListener(t, 16)
		updates := make(chan source.Update, 2)
		updates <- playing
		updates <- media
		close(updates)

		h.send(created(4, "Spotify", updates))
		h.send(source.Notification{Kind: source.Removed, SessionID: 4})

		store := session.NewStore()
		var types []session.EventType
		var last session.Delta
		for range 4 {
			ev := h.next()
			types = append(types, ev.Type)
			last, _ = store.Apply(ev, now)
		}
		require.Equal(t, []session.EventType{
			session.EventCreate, session.EventUpdate, session.EventUpdate, session.EventDelete,
		}, types)

		require.NotNil(t, last.Record)
		require.NotNil(t, last.Record.LastModelUpdate)
		require.NotNil(t, last.Record.LastMediaUpdate)
		assert.Equal(t, session.StatusPlaying, last.Record.LastModelUpdate.Model.Status())
		assert.Equal(t, "Teardrop", last.Record.LastMediaUpdate.Model.Media.Title)
		require.NotNil(t, last.Record.LastMediaUpdate.Artwork)
		assert.Equal(t, "image/png", last.Record.LastMediaUpdate.Artwork.ContentType)

		h.cancel()
		require.NoError(t, h.wait())
	}
}

func TestListener_RemoveGivesUpOnOpenStream(t *testing.T) {
	h := startListener(t, 16)
	updates := make(chan source.Update, 1)
	updates <- titled("queued")

	h.send(created(5, "vlc", updates))
	h.next()

	start := time.Now()
	h.send(source.Notification{Kind: source.Removed, SessionID: 5})
	ev := h.next()
	assert.Equal(t, session.EventUpdate, ev.Type)
	assert.Equal(t, "queued", ev.Update.Model.Media.Title)
	assert.Equal(t, session.EventDelete, h.next().Type)
	assert.GreaterOrEqual(t, time.Since(start), testDrainTimeout)

	assert.Equal(t, 0, h.listener.ActiveRelays())
	assertNotReceived(t, updates)
}

func TestListener_DuplicateCreateForwardsOldUpdatesFirst(t *testing.T) {
	h := startListener(t, 16)
	first := make(chan source.Update, 1)
	h.send(created(1, "vlc", first))
	h.next()

	first <- titled("old")
	close(first)
	h.send(created(1, "vlc", make(chan source.Update)))

	ev := h.next()
	assert.Equal(t, session.EventUpdate, ev.Type)
	assert.Equal(t, "old", ev.Update.Model.Media.Title)
	assert.Equal(t, session.EventCreate, h.next().Type)
}

func TestListener_DuplicateCreateReplacesRelay(t *testing.T) {
	h := startListener(t, 16)
	first := make(chan source.Update)
	second := make(chan source.Update)

	h.send(created(1, "vlc", first))
	h.next()
	h.send(created(1, "vlc", second))
	assert.Equal(t, session.EventCreate, h.next().Type)
	assert.Equal(t, 1, h.listener.ActiveRelays())

	assertNotReceived(t, first)
	second <- titled("Angel")
	ev := h.next()
	assert.Equal(t, "Angel", ev.Update.Model.Media.Title)
}

func TestListener_InterleavesSessions(t *testing.T) {
	h := startListener(t, 16)
	a := make(chan source.Update)
	b := make(chan source.Update)

	h.send(created(1, "vlc", a))
	h.next()
	h.send(created(2, "mpv", b))
	h.next()
	assert.Equal(t, 2, h.listener.ActiveRelays())

	a <- titled("a1")
	b <- titled("b1")
	a <- titled("a2")

	var fromA []string
	for range 3 {
		ev := h.next()
		if ev.SessionID == 1 {
			fromA = append(fromA, ev.Update.Model.Media.Title)
		}
	}
	assert.Equal(t, []string{"a1", "a2"}, fromA)
}

func TestListener_RelayEndsWithItsStream(t *testing.T) {
	h := startListener(t, 16)
	updates := make(chan source.Update)

	h.send(created(1, "foobar2000", updates))
	h.next()
	close(updates)

	waitFor(t, func() bool { return h.listener.ActiveRelays() == 0 })
}

func TestListener_DrainsRelaysWhenSourceEnds(t *testing.T) {
	h := startListener(t, 16)
	updates := make(chan source.Update, 2)
	updates <- titled("one")
	updates <- titled("two")
	close(updates)

	h.send(created(1, "Spotify", updates))
	close(h.notifs)
	require.NoError(t, h.wait())

	assert.Equal(t, session.EventCreate, h.next().Type)
	assert.Equal(t, "one", h.next().Update.Model.Media.Title)
	assert.Equal(t, "two", h.next().Update.Model.Media.Title)
	assert.Equal(t, 0, h.listener.ActiveRelays())
	assert.Equal(t, ws.StatusDegraded, h.listener.Health().Status)
}

func TestListener_CancelStopsRelays(t *testing.T) {
	h := startListener(t, 16)
	updates := make(chan source.Update)

	h.send(created(1, "Spotify", updates))
	h.next()
	h.send(created(2, "vlc", make(chan source.Update)))
	h.next()

	h.cancel()
	require.NoError(t, h.wait())
	assert.Equal(t, 0, h.listener.ActiveRelays())
	assertNotReceived(t, updates)
}

func TestListener_CurrentSessionChanged(t *testing.T) {
	h := startListener(t, 16)
	cur := uint64(9)

	h.send(source.Notification{Kind: source.CurrentChanged, Current: &cur})
	ev := h.next()
	assert.Equal(t, session.EventUnsupported, ev.Type)
	assert.Equal(t, LabelCurrentSessionChanged, ev.Label)
	assert.Equal(t, session.ID(9), ev.SessionID)
}

func TestListener_ClosedSink(t *testing.T) {
	h := startListener(t, 16)
	h.stream.Close()

	h.send(created(1, "Spotify", nil))
	h.send(source.Notification{Kind: source.Removed, SessionID: 1})
	close(h.notifs)
	require.NoError(t, h.wait())

	health := h.listener.Health()
	assert.Equal(t, ws.StatusFailed, health.Status)
	assert.Equal(t, 2, health.SendFailures)
	assert.Equal(t, session.ErrChannelClosed.Error(), health.LastError)
	assert.Zero(t, health.ManagerEvents)
}
