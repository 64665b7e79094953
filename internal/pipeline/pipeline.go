// Package pipeline is the event-to-print heart of the daemon: it consumes
// the cloud change-feed (or, in degraded mode, polls for orders), claims
// each job against the cloud so only one daemon in a fleet prints it,
// fetches the rendered payload, and dispatches to the printer registry.
package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/posforge/ticketbridge/engine"
	"github.com/posforge/ticketbridge/internal/cloud"
	"github.com/posforge/ticketbridge/internal/metrics"
	"github.com/posforge/ticketbridge/internal/notifier"
	"github.com/posforge/ticketbridge/internal/printer"
)

const (
	subscribeTimeout = 15 * time.Second
	pollInterval     = 3 * time.Second
	pollOverlap      = 5 * time.Second
	heartbeatPeriod  = 60 * time.Second
	drainGrace       = 5 * time.Second
)

// Mode is the pipeline's current event-discovery strategy, reported on
// every heartbeat.
type Mode string

const (
	ModeRealtime Mode = "realtime"
	ModePolling  Mode = "polling"
)

// Pipeline wires the change-feed subscriber, the claim client, the payload
// fetcher, the printer dispatcher, and the notifier hub together. It takes
// all collaborators at construction (REDESIGN FLAGS: no callback webs).
type Pipeline struct {
	subscriber cloud.ChangeFeedSubscriber
	poller     cloud.OrderPoller
	claims     *cloud.ClaimClient
	fetcher    *cloud.PayloadFetcher
	dispatcher *Dispatcher
	registry   *printer.Registry
	hub        *notifier.Hub
	metrics    *metrics.Metrics

	tenantID string
	version  string

	memo      *memo
	startedAt time.Time

	modeMu   sync.RWMutex
	mode     Mode
	lastPoll time.Time

	wg sync.WaitGroup
}

func New(
	subscriber cloud.ChangeFeedSubscriber,
	poller cloud.OrderPoller,
	claims *cloud.ClaimClient,
	fetcher *cloud.PayloadFetcher,
	registry *printer.Registry,
	hub *notifier.Hub,
	metrics *metrics.Metrics,
	tenantID, version string,
) *Pipeline {
	return &Pipeline{
		subscriber: subscriber,
		poller:     poller,
		claims:     claims,
		fetcher:    fetcher,
		dispatcher: NewDispatcher(registry),
		registry:   registry,
		hub:        hub,
		metrics:    metrics,
		tenantID:   tenantID,
		version:    version,
		memo:       newMemo(),
		startedAt:  time.Now(),
		mode:       ModeRealtime,
	}
}

// Dispatcher exposes the per-printer bounded-queue dispatcher so the local
// ingress surface can submit jobs through the same backpressure policy.
func (p *Pipeline) Dispatcher() *Dispatcher { return p.dispatcher }

// Registry exposes the underlying printer registry for diagnostics (e.g.
// the discovery endpoint's per-role availability map).
func (p *Pipeline) Registry() *printer.Registry { return p.registry }

func (p *Pipeline) setMode(m Mode) {
	p.modeMu.Lock()
	defer p.modeMu.Unlock()
	if p.mode != m {
		slog.Info("event pipeline mode changed", "mode", m)
	}
	p.mode = m
}

// Mode returns the pipeline's current discovery mode, for heartbeats and
// the discovery endpoint.
func (p *Pipeline) Mode() Mode {
	p.modeMu.RLock()
	defer p.modeMu.RUnlock()
	return p.mode
}

// AttachWorkers registers the change-feed/polling task and the heartbeat
// loop, following the teacher's ProcMgr supervision model.
func (p *Pipeline) AttachWorkers(pm *engine.ProcMgr) {
	p.dispatcher.AttachWorkers(pm)
	pm.Add(func(ctx context.Context) error {
		err := p.run(ctx)
		p.drain(drainGrace)
		return err
	})
	pm.Add(engine.Poll(heartbeatPeriod, p.heartbeatOnce))
}

func (p *Pipeline) drain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("pipeline shutdown grace window elapsed with jobs still in flight")
	}
}

// run subscribes to the change-feed; if the SUBSCRIBED signal doesn't
// arrive within subscribeTimeout (or the subscribe call itself fails), it
// falls back to polling mode for the remainder of the process lifetime.
// Per engine.ProcMgr's contract, run only returns once ctx is canceled.
func (p *Pipeline) run(ctx context.Context) error {
	subscribed := make(chan struct{})
	var once sync.Once
	eventsDone := make(chan error, 1)

	go func() {
		err := p.subscriber.Subscribe(ctx, p.tenantID, func(s cloud.SubscriptionStatus) {
			if s == cloud.StatusSubscribed {
				once.Do(func() { close(subscribed) })
			}
		}, func(ev cloud.Event) {
			p.dispatchEvent(ctx, ev)
		})
		eventsDone <- err
	}()

	select {
	case <-subscribed:
		slog.Info("change-feed subscription established")
		p.setMode(ModeRealtime)
	case <-time.After(subscribeTimeout):
		slog.Warn("change-feed subscription not confirmed in time, falling back to polling")
		p.setMode(ModePolling)
		return p.pollUntilDone(ctx)
	case err := <-eventsDone:
		slog.Warn("change-feed subscribe failed, falling back to polling", "error", err)
		p.setMode(ModePolling)
		return p.pollUntilDone(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-eventsDone:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("change-feed subscription ended, falling back to polling", "error", err)
		p.setMode(ModePolling)
		return p.pollUntilDone(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) pollUntilDone(ctx context.Context) error {
	if p.poller == nil {
		slog.Error("polling fallback engaged but no order poller is configured; orders will not be processed")
		<-ctx.Done()
		return ctx.Err()
	}

	p.modeMu.Lock()
	p.lastPoll = time.Now()
	p.modeMu.Unlock()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Pipeline) pollOnce(ctx context.Context) {
	p.modeMu.RLock()
	since := p.lastPoll.Add(-pollOverlap)
	p.modeMu.RUnlock()
	requestedAt := time.Now()

	orders, err := p.poller.PollOrders(ctx, p.tenantID, since)
	if err != nil {
		slog.Error("polling orders failed", "error", err)
		return
	}

	p.modeMu.Lock()
	p.lastPoll = requestedAt
	p.modeMu.Unlock()

	for _, order := range orders {
		p.handleOrderInsert(ctx, order)
	}
}

// dispatchEvent matches a change-feed row exactly once against the closed
// event set and spawns its handling so a slow print never blocks the
// read loop for the next row.
func (p *Pipeline) dispatchEvent(ctx context.Context, ev cloud.Event) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		switch e := ev.(type) {
		case cloud.OrderInsert:
			p.handleOrderInsert(ctx, e.Order)
		case cloud.OrderUpdate:
			p.handleOrderUpdate(ctx, e.New, e.Old)
		case cloud.CustomerTicketInsert:
			p.handleCustomerTicket(ctx, e.Ticket, ticketKey(e.Ticket.OrderID, e.Ticket.ID))
		case cloud.CustomerTicketUpdate:
			p.handleCustomerTicketUpdate(ctx, e.New, e.Old)
		case cloud.CashReportChange:
			p.handleCashReportChange(ctx, e.Report, e.Old)
		case cloud.AlertNotification:
			p.handleAlert(e.Alert)
		default:
			slog.Warn("event pipeline: unrecognized event type", "type", fmt.Sprintf("%T", ev))
		}
	}()
}

// claim wraps ClaimClient.Claim with claim-outcome metrics, using the
// spec's default TTL (0 tells ClaimClient to apply DefaultClaimTTLSeconds).
func (p *Pipeline) claim(ctx context.Context, kind string, keys cloud.ClaimKeys) cloud.ClaimResult {
	if p.metrics != nil {
		p.metrics.ClaimAttempted(kind)
	}
	result := p.claims.Claim(ctx, kind, keys, 0)
	if result.Success && p.metrics != nil {
		p.metrics.ClaimSucceeded(kind)
	}
	return result
}

func orderKey(orderID string) string           { return "order:" + orderID }
func additionKey(orderID, groupID string) string { return "addition:" + orderID + ":" + groupID }
func ticketKey(orderID, ticketID string) string  { return "ticket:" + orderID + ":" + ticketID }
func cashKey(reportID, stamp string) string      { return "cash:" + reportID + ":" + stamp }

// handleOrderInsert claims and prints a newly inserted order: per-station
// split tickets take priority over a single kitchen ticket.
func (p *Pipeline) handleOrderInsert(ctx context.Context, order cloud.Order) {
	if p.memo.SeenOrAdd(orderKey(order.ID)) {
		return
	}

	result := p.claim(ctx, string(printer.JobKitchenOrder), cloud.ClaimKeys{OrderID: order.ID})
	if !result.Success {
		return // lost claim: silently skipped, not a failure
	}

	success, errMsg := p.printOrder(ctx, order.ID)
	p.claims.Complete(ctx, result.JobID, success, errMsg)

	if p.metrics != nil {
		p.metrics.OrderProcessed(success)
	}
}

// submit wraps Dispatcher.Submit with per-role print metrics.
func (p *Pipeline) submit(ctx context.Context, role printer.Role, stationID string, buf []byte) printer.PrintResult {
	result := p.dispatcher.Submit(ctx, role, stationID, buf)
	if p.metrics != nil {
		if result.Success {
			p.metrics.PrintSucceeded(string(role))
		} else {
			p.metrics.PrintFailed(string(role))
		}
	}
	return result
}

func (p *Pipeline) printOrder(ctx context.Context, orderID string) (bool, string) {
	tickets, err := p.fetcher.FetchStationTickets(ctx, orderID)
	if err == nil && len(tickets) > 0 {
		results := p.registry.PrintStationTickets(ctx, tickets, decodeBase64)
		ok := true
		for _, r := range results {
			if p.metrics != nil {
				if r.Success {
					p.metrics.PrintSucceeded(string(printer.RoleStation))
				} else {
					p.metrics.PrintFailed(string(printer.RoleStation))
				}
			}
			if !r.Success {
				ok = false
			}
		}
		if !ok {
			return false, "one or more station tickets failed to print"
		}
		return true, ""
	}

	payload, ok := p.fetcher.FetchKitchenTicket(ctx, orderID)
	if !ok {
		return false, "kitchen ticket payload fetch failed"
	}
	buf, err := decodeBase64(payload)
	if err != nil {
		return false, err.Error()
	}
	result := p.submit(ctx, printer.RoleKitchenDefault, "", buf)
	return result.Success, result.Error
}

// handleOrderUpdate detects newly-added addition groups by comparing
// new.items against old.items, claiming and printing only the groups that
// weren't already present.
func (p *Pipeline) handleOrderUpdate(ctx context.Context, newOrder cloud.Order, oldOrder *cloud.Order) {
	newGroups := additionGroups(newOrder.Items)
	var oldGroups map[string]struct{}
	if oldOrder != nil {
		oldGroups = additionGroups(oldOrder.Items)
	}

	for group := range newGroups {
		if _, existed := oldGroups[group]; existed {
			continue
		}
		if p.memo.SeenOrAdd(additionKey(newOrder.ID, group)) {
			continue
		}

		result := p.claim(ctx, string(printer.JobAddition), cloud.ClaimKeys{OrderID: newOrder.ID, AdditionGroupID: group})
		if !result.Success {
			continue
		}

		payload, ok := p.fetcher.FetchAdditionTicket(ctx, newOrder.ID, group)
		if !ok {
			p.claims.Complete(ctx, result.JobID, false, "addition ticket payload fetch failed")
			continue
		}
		buf, err := decodeBase64(payload)
		if err != nil {
			p.claims.Complete(ctx, result.JobID, false, err.Error())
			continue
		}
		printResult := p.submit(ctx, printer.RoleKitchenDefault, "", buf)
		p.claims.Complete(ctx, result.JobID, printResult.Success, printResult.Error)
	}
}

// additionGroups returns the set of addition_group_id values among an
// order's is_addition line items, using the literal "default" group when
// absent.
func additionGroups(items []cloud.OrderItem) map[string]struct{} {
	groups := make(map[string]struct{})
	for _, item := range items {
		if !item.IsAddition {
			continue
		}
		group := item.AdditionGroupID
		if group == "" {
			group = "default"
		}
		groups[group] = struct{}{}
	}
	return groups
}

// handleCustomerTicket claims, prints, and (if the resolved assignment has
// cash_drawer_enabled) kicks the drawer on the same printer.
func (p *Pipeline) handleCustomerTicket(ctx context.Context, ticket cloud.CustomerTicket, memoKey string) {
	if p.memo.SeenOrAdd(memoKey) {
		return
	}

	result := p.claim(ctx, string(printer.JobCustomerTicket), cloud.ClaimKeys{OrderID: ticket.OrderID, TicketID: ticket.ID})
	if !result.Success {
		return
	}

	payload, ok := p.fetcher.FetchCustomerTicket(ctx, ticket.OrderID)
	if !ok {
		p.claims.Complete(ctx, result.JobID, false, "customer ticket payload fetch failed")
		return
	}
	buf, err := decodeBase64(payload)
	if err != nil {
		p.claims.Complete(ctx, result.JobID, false, err.Error())
		return
	}

	printResult := p.submit(ctx, printer.RoleCustomerTicket, "", buf)
	if printResult.Success {
		if assignment, ok := p.registry.AssignmentFor(printer.RoleCustomerTicket, ""); ok && assignment.CashDrawerEnabled {
			p.registry.OpenCashDrawerFor(ctx, printResult.PrinterID)
		}
	}
	p.claims.Complete(ctx, result.JobID, printResult.Success, printResult.Error)
}

// handleCustomerTicketUpdate treats a changed print_requested_at as a
// reprint request and applies the insert handler's logic again, keyed by
// the new timestamp so it isn't suppressed by the original insert's memo
// entry.
func (p *Pipeline) handleCustomerTicketUpdate(ctx context.Context, newTicket cloud.CustomerTicket, oldTicket *cloud.CustomerTicket) {
	if newTicket.PrintRequestedAt == nil {
		return
	}
	if oldTicket != nil && oldTicket.PrintRequestedAt != nil && oldTicket.PrintRequestedAt.Equal(*newTicket.PrintRequestedAt) {
		return
	}
	key := ticketKey(newTicket.OrderID, newTicket.ID) + ":" + newTicket.PrintRequestedAt.UTC().Format(time.RFC3339Nano)
	p.handleCustomerTicket(ctx, newTicket, key)
}

// handleCashReportChange claims and prints a cash report, for inserts and
// for updates whose print_requested_at changed. The fiscal role falls
// back to customer_ticket when no fiscal printer is assigned.
func (p *Pipeline) handleCashReportChange(ctx context.Context, report cloud.CashReport, old *cloud.CashReport) {
	if report.PrintRequestedAt == nil {
		return
	}
	if old != nil && old.PrintRequestedAt != nil && old.PrintRequestedAt.Equal(*report.PrintRequestedAt) {
		return
	}

	key := cashKey(report.ID, report.PrintRequestedAt.UTC().Format(time.RFC3339Nano))
	if p.memo.SeenOrAdd(key) {
		return
	}

	result := p.claim(ctx, string(printer.JobCashReport), cloud.ClaimKeys{ReportID: report.ID})
	if !result.Success {
		return
	}

	payload, ok := p.fetcher.FetchCashReport(ctx, report.ID)
	if !ok {
		p.claims.Complete(ctx, result.JobID, false, "cash report payload fetch failed")
		return
	}
	buf, err := decodeBase64(payload)
	if err != nil {
		p.claims.Complete(ctx, result.JobID, false, err.Error())
		return
	}

	role := printer.RoleFiscal
	if _, ok := p.registry.AssignmentFor(printer.RoleFiscal, ""); !ok {
		role = printer.RoleCustomerTicket
	}
	printResult := p.submit(ctx, role, "", buf)
	p.claims.Complete(ctx, result.JobID, printResult.Success, printResult.Error)
}

// handleAlert bridges alert-notification rows of the recognized types to
// the notifier broadcaster; other alert types are ignored by this bridge.
func (p *Pipeline) handleAlert(row cloud.AlertRow) {
	switch row.Type {
	case "waiter_called", "bill_ready", "payment_confirmed":
	default:
		return
	}

	priority := notifier.Priority(row.Priority)
	switch priority {
	case notifier.PriorityLow, notifier.PriorityMedium, notifier.PriorityHigh, notifier.PriorityUrgent:
	default:
		priority = notifier.PriorityMedium
	}

	p.hub.Broadcast(notifier.Alert{
		ID:        row.ID,
		Table:     row.Table,
		AlertType: row.Type,
		Message:   row.Message,
		Priority:  priority,
		Timestamp: time.Now().UTC(),
	})
}

func (p *Pipeline) heartbeatOnce(ctx context.Context) bool {
	status := "ok"
	for _, d := range p.registry.Descriptors() {
		if d.Status == printer.StatusError {
			status = "degraded"
			break
		}
	}
	p.claims.Heartbeat(ctx, cloud.HeartbeatPayload{
		Status:         "running",
		PrinterStatus:  status,
		Version:        p.version,
		UptimeSeconds:  int64(time.Since(p.startedAt).Seconds()),
		ConnectionMode: string(p.Mode()),
	})
	return false
}

func decodeBase64(b64 string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(b64)
}
