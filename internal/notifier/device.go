package notifier

import (
	"log/slog"
	"sync"
	"time"
)

// Conn is the minimal capability a notifier transport (WebSocket, BLE
// peripheral) must provide so the Hub stays transport-agnostic.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

const deviceSendQueueDepth = 32

// Device is the live record for one connected wearable. Writes are
// decoupled from Broadcast via an internal bounded queue drained by a
// dedicated writer goroutine, so one slow device never blocks fan-out to
// the others.
type Device struct {
	ID       string
	Name     string
	Firmware string

	ConnectedAt time.Time

	conn Conn
	send chan serverMessage
	done chan struct{}

	mu            sync.Mutex
	lastHeartbeat time.Time
	uptime        int64
	freeHeap      int64
	rssi          int

	closeOnce sync.Once
}

func newDevice(id, name, firmware string, conn Conn) *Device {
	now := time.Now()
	d := &Device{
		ID:            id,
		Name:          name,
		Firmware:      firmware,
		ConnectedAt:   now,
		conn:          conn,
		send:          make(chan serverMessage, deviceSendQueueDepth),
		done:          make(chan struct{}),
		lastHeartbeat: now,
	}
	go d.writeLoop()
	return d
}

func (d *Device) writeLoop() {
	for {
		select {
		case msg := <-d.send:
			if err := d.conn.WriteJSON(msg); err != nil {
				slog.Warn("notifier write failed, evicting device", "deviceId", d.ID, "error", err)
				d.Close()
				return
			}
		case <-d.done:
			return
		}
	}
}

// enqueue delivers msg to the device's send queue. Non-urgent messages
// are dropped (oldest first) if the queue is full; urgent messages are
// never dropped — if there's no room, the connection is closed instead.
func (d *Device) enqueue(msg serverMessage, urgent bool) {
	select {
	case d.send <- msg:
		return
	default:
	}

	if !urgent {
		select {
		case <-d.send: // drop oldest
		default:
		}
		select {
		case d.send <- msg:
		default:
		}
		return
	}

	slog.Warn("notifier send queue full for urgent message, closing connection", "deviceId", d.ID)
	d.Close()
}

func (d *Device) recordHeartbeat(uptime, freeHeap int64, rssi int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastHeartbeat = time.Now()
	d.uptime = uptime
	d.freeHeap = freeHeap
	d.rssi = rssi
}

func (d *Device) staleSince(maxAge time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Since(d.lastHeartbeat) > maxAge
}

// Close idempotently stops the writer goroutine and closes the underlying
// connection.
func (d *Device) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
		d.conn.Close()
	})
}
