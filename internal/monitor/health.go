package monitor

import (
	"sync"

	"github.com/np-widget/backend/internal/ws"
)

// failureThreshold is the number of consecutive send failures after which
// the listener reports itself degraded.
const failureThreshold = 3

// listenerHealth tracks forwarding counters and consecutive send failures.
// Written by the listener loop and relays, read by the HTTP health handler.
type listenerHealth struct {
	mu            sync.Mutex
	managerEvents int64
	updates       int64
	sendFailures  int
	lastErr       string
	sinkClosed    bool
	sourceEnded   bool
}

func newListenerHealth() *listenerHealth {
	return &listenerHealth{}
}

func (h *listenerHealth) recordForwarded(update bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if update {
		h.updates++
	} else {
		h.managerEvents++
	}
	h.sendFailures = 0
}

func (h *listenerHealth) recordFailure(err error, closed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendFailures++
	h.lastErr = err.Error()
	if closed {
		h.sinkClosed = true
	}
}

func (h *listenerHealth) recordSourceEnded() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sourceEnded = true
}

// statusLocked computes health status. Caller must hold h.mu.
func (h *listenerHealth) statusLocked() ws.HealthStatus {
	if h.sinkClosed {
		return ws.StatusFailed
	}
	if h.sendFailures >= failureThreshold || h.sourceEnded {
		return ws.StatusDegraded
	}
	return ws.StatusHealthy
}

// snapshot returns a consistent copy under the lock.
func (h *listenerHealth) snapshot(relays int) ws.ListenerHealth {
	h.mu.Lock()
	defer h.mu.Unlock()
	return ws.ListenerHealth{
		Status:        h.statusLocked(),
		Relays:        relays,
		ManagerEvents: h.managerEvents,
		Updates:       h.updates,
		SendFailures:  h.sendFailures,
		LastError:     h.lastErr,
	}
}
