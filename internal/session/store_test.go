package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore(t *testing.T) {
	s := NewStore()
	require.NotNil(t, s)
	assert.Empty(t, s.Snapshot())
	assert.Equal(t, 0, s.Len())
}

func TestGetMissing(t *testing.T) {
	s := NewStore()
	rec, ok := s.Get(99)
	assert.False(t, ok)
	assert.Nil(t, rec)
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewStore()
	_, err := s.Apply(CreateEvent(1, NewSessionCreated(1, "original")), epoch)
	require.NoError(t, err)

	got, ok := s.Get(1)
	require.True(t, ok)
	*got.Source = "mutated"

	again, _ := s.Get(1)
	assert.Equal(t, "original", again.SourceName())
}

func TestSnapshotReturnsCopies(t *testing.T) {
	s := NewStore()
	_, _ = s.Apply(CreateEvent(1, NewSessionCreated(1, "a")), epoch)
	_, _ = s.Apply(UpdateEventFor(1, NewMediaUpdate(model("x"), artwork())), epoch)

	snap := s.Snapshot()
	snap[1].LastMediaUpdate.Artwork.Data[0] = 0
	delete(snap, 1)

	again := s.Snapshot()
	require.Contains(t, again, ID(1))
	assert.Equal(t, byte(0x89), again[1].LastMediaUpdate.Artwork.Data[0])
}

func TestDeltaRecordIsIndependent(t *testing.T) {
	s := NewStore()
	d, _ := s.Apply(CreateEvent(1, NewSessionCreated(1, "a")), epoch)
	*d.Record.Source = "b"

	got, _ := s.Get(1)
	assert.Equal(t, "a", got.SourceName())
}

func TestConcurrentApplyAndSnapshot(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := ID(w*1000 + i)
				_, _ = s.Apply(CreateEvent(id, NewSessionCreated(id, fmt.Sprintf("src-%d", w))), time.Now())
				_, _ = s.Apply(UpdateEventFor(id, NewModelUpdate(model("m"))), time.Now())
				if i%3 == 0 {
					_, _ = s.Apply(DeleteEvent(id, NewSessionRemoved(id)), time.Now())
				}
			}
		}(w)
	}
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = s.Snapshot()
				_ = s.Len()
			}
		}()
	}
	wg.Wait()

	// 4 writers * (100 - 34 deleted)
	assert.Equal(t, 4*66, s.Len())
}

func TestStreamSendBlocksWhenFull(t *testing.T) {
	st := NewStream(1)
	require.NoError(t, st.Send(context.Background(), UnsupportedEvent(nil, "a")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := st.Send(ctx, UnsupportedEvent(nil, "b"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	ev := <-st.Events()
	assert.Equal(t, "a", ev.Label)
}

func TestStreamCloseUnblocksSenders(t *testing.T) {
	st := NewStream(0)
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() { errs <- st.Send(context.Background(), UnsupportedEvent(nil, "x")) }()
	}

	time.Sleep(10 * time.Millisecond)
	st.Close()
	st.Close()

	for i := 0; i < 3; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrChannelClosed)
		case <-time.After(time.Second):
			t.Fatal("sender still blocked after Close")
		}
	}
}

func TestStreamPreservesOrderPerSender(t *testing.T) {
	st := NewStream(1)
	const n = 50
	go func() {
		for i := 0; i < n; i++ {
			id := ID(i)
			_ = st.Send(context.Background(), UnsupportedEvent(&id, "seq"))
		}
	}()
	for i := 0; i < n; i++ {
		ev := <-st.Events()
		assert.Equal(t, ID(i), ev.SessionID)
	}
}
