package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// ChangeFeedSubscriber delivers typed row-level events for the four
// streams this daemon cares about, filtered server-side by tenant id.
// Reconnection on transient network loss is the implementation's concern;
// callers only see StatusCallback transitions and event deliveries.
type ChangeFeedSubscriber interface {
	// Subscribe blocks until ctx is canceled or a fatal error occurs,
	// invoking onStatus as the subscription readiness changes and onEvent
	// for each row-level change.
	Subscribe(ctx context.Context, tenantID string, onStatus func(SubscriptionStatus), onEvent func(Event)) error
}

// WSChangeFeedSubscriber subscribes to the cloud's realtime change-feed
// over a WebSocket connection, the same framing the notifier broadcaster
// uses locally (ping/pong keepalive, one write at a time per connection).
type WSChangeFeedSubscriber struct {
	url string
}

func NewWSChangeFeedSubscriber(baseWSURL string) *WSChangeFeedSubscriber {
	return &WSChangeFeedSubscriber{url: baseWSURL}
}

type wireEnvelope struct {
	Stream    string          `json:"stream"`
	EventType ChangeEventType `json:"eventType"`
	New       json.RawMessage `json:"new"`
	Old       json.RawMessage `json:"old"`
	Status    string          `json:"status"`
}

func (s *WSChangeFeedSubscriber) Subscribe(ctx context.Context, tenantID string, onStatus func(SubscriptionStatus), onEvent func(Event)) error {
	u, err := url.Parse(s.url)
	if err != nil {
		return fmt.Errorf("parsing change-feed url: %w", err)
	}
	q := u.Query()
	q.Set("tenant_id", tenantID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		onStatus(StatusChannelErr)
		return err
	}
	defer conn.Close()

	// Ping every 30s so the pong handler below keeps extending the read
	// deadline; close the connection when ctx is canceled.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(45 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(45 * time.Second))
		return nil
	})

	for {
		var env wireEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			onStatus(StatusChannelErr)
			return err
		}

		if env.Status != "" {
			onStatus(SubscriptionStatus(env.Status))
			continue
		}

		event, ok := decodeEvent(env)
		if !ok {
			continue
		}
		onEvent(event)
	}
}

func decodeEvent(env wireEnvelope) (Event, bool) {
	switch env.Stream {
	case "orders":
		var order Order
		if err := json.Unmarshal(env.New, &order); err != nil {
			slog.Warn("failed to decode order row", "error", err)
			return nil, false
		}
		switch env.EventType {
		case EventInsert:
			return OrderInsert{Order: order}, true
		case EventUpdate:
			var old *Order
			if len(env.Old) > 0 {
				var o Order
				if err := json.Unmarshal(env.Old, &o); err == nil {
					old = &o
				}
			}
			return OrderUpdate{New: order, Old: old}, true
		}

	case "order_tickets":
		var ticket CustomerTicket
		if err := json.Unmarshal(env.New, &ticket); err != nil {
			slog.Warn("failed to decode ticket row", "error", err)
			return nil, false
		}
		if ticket.TicketType != "customer" {
			return nil, false
		}
		switch env.EventType {
		case EventInsert:
			return CustomerTicketInsert{Ticket: ticket}, true
		case EventUpdate:
			var old *CustomerTicket
			if len(env.Old) > 0 {
				var o CustomerTicket
				if err := json.Unmarshal(env.Old, &o); err == nil {
					old = &o
				}
			}
			return CustomerTicketUpdate{New: ticket, Old: old}, true
		}

	case "cash_reports":
		var report CashReport
		if err := json.Unmarshal(env.New, &report); err != nil {
			slog.Warn("failed to decode cash report row", "error", err)
			return nil, false
		}
		if report.PrintRequestedAt == nil {
			return nil, false
		}
		switch env.EventType {
		case EventInsert, EventUpdate:
			var old *CashReport
			if len(env.Old) > 0 {
				var o CashReport
				if err := json.Unmarshal(env.Old, &o); err == nil {
					old = &o
				}
			}
			return CashReportChange{Report: report, Old: old}, true
		}

	case "alerts":
		var alert AlertRow
		if err := json.Unmarshal(env.New, &alert); err != nil {
			slog.Warn("failed to decode alert row", "error", err)
			return nil, false
		}
		switch env.EventType {
		case EventInsert, EventUpdate:
			return AlertNotification{Alert: alert}, true
		}
	}

	// DELETE events are an explicit no-op per the wire contract: the
	// original does not cancel in-flight claims on delete.
	return nil, false
}
