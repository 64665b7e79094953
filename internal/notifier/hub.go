package notifier

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	heartbeatStaleAge = 90 * time.Second
	staleSweepPeriod  = 60 * time.Second
	pingPeriod        = 30 * time.Second
)

// Hub owns the notifier device table. At most one live record exists per
// device id at any time: re-registering a known id evicts the previous
// connection before the new one is inserted.
type Hub struct {
	mu      sync.Mutex
	devices map[string]*Device
}

func NewHub() *Hub {
	return &Hub{devices: make(map[string]*Device)}
}

// Register records a new device connection, evicting any previous
// connection with the same id. Enqueues the registered message on the new
// Device and returns it; the welcome message is the caller's to send.
func (h *Hub) Register(id, name, firmware string, conn Conn) *Device {
	h.mu.Lock()
	if old, exists := h.devices[id]; exists {
		slog.Info("notifier device re-registered, evicting previous connection", "deviceId", id)
		delete(h.devices, id)
		h.mu.Unlock()
		old.Close()
		h.mu.Lock()
	}
	d := newDevice(id, name, firmware, conn)
	h.devices[id] = d
	h.mu.Unlock()

	d.enqueue(registeredMessage(id), true)
	return d
}

// Remove evicts a device from the table without closing its connection
// (the caller is expected to already own that, e.g. on read-loop exit).
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.devices, id)
}

func (h *Hub) Heartbeat(id string, uptime, freeHeap int64, rssi int) {
	h.mu.Lock()
	d, ok := h.devices[id]
	h.mu.Unlock()
	if ok {
		d.recordHeartbeat(uptime, freeHeap, rssi)
	}
}

// Broadcast builds the notification message once and enqueues it to every
// connected device; each device's Conn encodes it to JSON on its own write. Delivery is best-effort per device: iterating a snapshot means
// a slow peer never blocks fan-out to the rest, or new registrations.
func (h *Hub) Broadcast(alert Alert) {
	msg := notificationMessage(alert)
	urgent := alert.Priority == PriorityUrgent

	h.mu.Lock()
	snapshot := make([]*Device, 0, len(h.devices))
	for _, d := range h.devices {
		snapshot = append(snapshot, d)
	}
	h.mu.Unlock()

	for _, d := range snapshot {
		d.enqueue(msg, urgent)
	}
}

// Count returns the number of currently-registered devices.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.devices)
}

// sweepStale forcibly disconnects and removes any device whose last
// heartbeat is older than heartbeatStaleAge. Implements engine.PollingFunc
// so it can be driven by engine.Poll(staleSweepPeriod, ...).
func (h *Hub) sweepStale(ctx context.Context) bool {
	h.mu.Lock()
	var stale []*Device
	for id, d := range h.devices {
		if d.staleSince(heartbeatStaleAge) {
			stale = append(stale, d)
			delete(h.devices, id)
		}
	}
	h.mu.Unlock()

	for _, d := range stale {
		slog.Info("notifier device stale, evicting", "deviceId", d.ID)
		d.Close()
	}
	return false
}

// pingAll enqueues a keepalive ping to every connected device. Implements
// engine.PollingFunc so it can be driven by engine.Poll(pingPeriod, ...).
func (h *Hub) pingAll(ctx context.Context) bool {
	h.mu.Lock()
	snapshot := make([]*Device, 0, len(h.devices))
	for _, d := range h.devices {
		snapshot = append(snapshot, d)
	}
	h.mu.Unlock()

	msg := pingMessage()
	for _, d := range snapshot {
		d.enqueue(msg, false)
	}
	return false
}
