package monitor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/np-widget/backend/internal/ws"
)

func TestListenerHealthFailureTracking(t *testing.T) {
	h := newListenerHealth()
	assert.Equal(t, ws.StatusHealthy, h.snapshot(0).Status)

	h.recordFailure(errors.New("deadline exceeded"), false)
	h.recordFailure(errors.New("deadline exceeded"), false)
	assert.Equal(t, ws.StatusHealthy, h.snapshot(0).Status, "below threshold")

	h.recordFailure(errors.New("still failing"), false)
	snap := h.snapshot(2)
	assert.Equal(t, ws.StatusDegraded, snap.Status)
	assert.Equal(t, 3, snap.SendFailures)
	assert.Equal(t, "still failing", snap.LastError)
	assert.Equal(t, 2, snap.Relays)
}

func TestListenerHealthRecovery(t *testing.T) {
	h := newListenerHealth()
	for range 5 {
		h.recordFailure(errors.New("fail"), false)
	}
	assert.Equal(t, ws.StatusDegraded, h.snapshot(0).Status)

	h.recordForwarded(true)
	snap := h.snapshot(0)
	assert.Equal(t, ws.StatusHealthy, snap.Status)
	assert.Zero(t, snap.SendFailures)
	assert.Equal(t, int64(1), snap.Updates)
	assert.Equal(t, "fail", snap.LastError, "last error is kept after recovery")
}

func TestListenerHealthCounters(t *testing.T) {
	h := newListenerHealth()
	h.recordForwarded(false)
	h.recordForwarded(false)
	h.recordForwarded(true)

	snap := h.snapshot(1)
	assert.Equal(t, int64(2), snap.ManagerEvents)
	assert.Equal(t, int64(1), snap.Updates)
}

func TestListenerHealthSinkClosedIsTerminal(t *testing.T) {
	h := newListenerHealth()
	h.recordFailure(errors.New("channel closed"), true)
	h.recordForwarded(false)
	assert.Equal(t, ws.StatusFailed, h.snapshot(0).Status)
}

func TestListenerHealthSourceEnded(t *testing.T) {
	h := newListenerHealth()
	h.recordSourceEnded()
	assert.Equal(t, ws.StatusDegraded, h.snapshot(0).Status)
}
