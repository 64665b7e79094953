package notifier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory Conn that records every message written to it.
type fakeConn struct {
	mu       sync.Mutex
	messages []serverMessage
	closed   bool
	failNext bool
}

func (f *fakeConn) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		return assert.AnError
	}
	f.messages = append(f.messages, v.(serverMessage))
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) snapshot() []serverMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]serverMessage(nil), f.messages...)
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition not met before deadline")
}

func TestHubRegisterEvictsPreviousConnectionWithSameID(t *testing.T) {
	h := NewHub()
	conn1 := &fakeConn{}
	conn2 := &fakeConn{}

	h.Register("d1", "watch-1", "1.0.0", conn1)
	assert.Equal(t, 1, h.Count())

	h.Register("d1", "watch-1", "1.0.1", conn2)
	assert.Equal(t, 1, h.Count())
	waitFor(t, conn1.isClosed)
}

func TestHubBroadcastDeliversToAllDevicesInCallOrder(t *testing.T) {
	h := NewHub()
	conn1 := &fakeConn{}
	conn2 := &fakeConn{}
	h.Register("d1", "n1", "1.0", conn1)
	h.Register("d2", "n2", "1.0", conn2)

	h.Broadcast(Alert{Table: "7", AlertType: "waiter_called", Message: "first", Priority: PriorityMedium, Timestamp: time.Now()})
	h.Broadcast(Alert{Table: "7", AlertType: "bill_ready", Message: "second", Priority: PriorityMedium, Timestamp: time.Now()})

	// Register already queued the registered message ahead of both alerts.
	waitFor(t, func() bool { return len(conn1.snapshot()) >= 3 && len(conn2.snapshot()) >= 3 })

	msgs1 := conn1.snapshot()
	require.Len(t, msgs1, 3)
	assert.Equal(t, "first", msgs1[1].Message)
	assert.Equal(t, "second", msgs1[2].Message)

	msgs2 := conn2.snapshot()
	require.Len(t, msgs2, 3)
	assert.Equal(t, "first", msgs2[1].Message)
	assert.Equal(t, "second", msgs2[2].Message)
}

func TestHubSweepStaleEvictsOldHeartbeats(t *testing.T) {
	h := NewHub()
	conn := &fakeConn{}
	d := h.Register("d1", "n1", "1.0", conn)
	d.lastHeartbeat = time.Now().Add(-100 * time.Second)

	h.sweepStale(context.Background())

	assert.Equal(t, 0, h.Count())
	waitFor(t, conn.isClosed)
}

func TestHubSweepStaleLeavesFreshDevices(t *testing.T) {
	h := NewHub()
	conn := &fakeConn{}
	h.Register("d1", "n1", "1.0", conn)
	h.Heartbeat("d1", 10, 1000, -50)

	h.sweepStale(context.Background())

	assert.Equal(t, 1, h.Count())
}

func TestHubBroadcastSurvivesOneFailingConnection(t *testing.T) {
	h := NewHub()
	bad := &fakeConn{failNext: true}
	good := &fakeConn{}
	h.Register("bad", "n1", "1.0", bad)
	h.Register("good", "n2", "1.0", good)

	h.Broadcast(Alert{Table: "3", AlertType: "bill_ready", Message: "hi", Priority: PriorityLow, Timestamp: time.Now()})

	waitFor(t, func() bool { return len(good.snapshot()) == 2 }) // registered + hi
	waitFor(t, bad.isClosed)
}
