package notifier

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/posforge/ticketbridge/engine"
)

// Server upgrades incoming connections to WebSocket and feeds the shared
// Hub, following the teacher's "module" shape: it can attach routes and
// attach long-running workers.
type Server struct {
	Hub *Hub

	upgrader websocket.Upgrader
}

func NewServer(hub *Hub) *Server {
	return &Server{
		Hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// AttachRoutes registers the WebSocket upgrade endpoint at "/" via the raw
// Handle path so the upgrader can hijack the connection directly.
func (s *Server) AttachRoutes(router *engine.Router) {
	router.Handle("/", http.HandlerFunc(s.serveWS))
}

// AttachWorkers registers the staleness sweep and keepalive ping loops.
func (s *Server) AttachWorkers(pm *engine.ProcMgr) {
	pm.Add(engine.Poll(staleSweepPeriod, s.Hub.sweepStale))
	pm.Add(engine.Poll(pingPeriod, s.Hub.pingAll))
}

type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) WriteJSON(v any) error {
	w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(v)
}

func (w *wsConn) Close() error { return w.conn.Close() }

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("notifier websocket upgrade failed", "error", err)
		return
	}

	wc := &wsConn{conn: conn}
	if err := wc.WriteJSON(welcomeMessage()); err != nil {
		conn.Close()
		return
	}

	conn.SetReadDeadline(time.Now().Add(heartbeatStaleAge))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(heartbeatStaleAge))
		return nil
	})

	var device *Device
	defer func() {
		if device != nil {
			s.Hub.Remove(device.ID)
			device.Close()
		} else {
			conn.Close()
		}
	}()

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(heartbeatStaleAge))

		switch msg.Type {
		case "register":
			if msg.DeviceID == "" {
				continue
			}
			device = s.Hub.Register(msg.DeviceID, msg.Name, msg.Firmware, wc)

		case "heartbeat":
			if device == nil {
				continue
			}
			s.Hub.Heartbeat(device.ID, msg.Uptime, msg.FreeHeap, msg.RSSI)

		case "ack":
			// Delivery confirmations are logged at debug level; the
			// broadcaster doesn't track per-notification delivery state.
			if device != nil {
				slog.Debug("notifier ack received", "deviceId", device.ID, "notificationId", msg.NotificationID)
			}

		case "pong":
			// read deadline already refreshed by ReadJSON succeeding

		default:
			slog.Debug("notifier: unrecognized message type", "type", msg.Type)
		}
	}
}
