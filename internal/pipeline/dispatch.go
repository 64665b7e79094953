package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/posforge/ticketbridge/engine"
	"github.com/posforge/ticketbridge/internal/printer"
)

const (
	printerQueueDepth = 16
	submitTimeout     = 2 * time.Second
)

type printJob struct {
	role      printer.Role
	stationID string
	buf       []byte
	resultCh  chan printer.PrintResult
}

// chanWorkqueue adapts a channel of printJob to the engine's Workqueue
// interface, which the teacher built against a polled SQL table. GetItem
// does a non-blocking channel receive instead of a SELECT; everything
// downstream (PollWorkqueue and the Poll loop itself) is unchanged.
type chanWorkqueue struct {
	ch       chan printJob
	registry *printer.Registry
}

func (q *chanWorkqueue) GetItem(ctx context.Context) (printJob, error) {
	select {
	case item := <-q.ch:
		return item, nil
	default:
		return printJob{}, sql.ErrNoRows
	}
}

func (q *chanWorkqueue) ProcessItem(ctx context.Context, item printJob) error {
	result := q.registry.PrintByRole(ctx, item.role, item.stationID, item.buf)
	item.resultCh <- result
	if !result.Success {
		return errors.New(result.Error)
	}
	return nil
}

func (q *chanWorkqueue) UpdateItem(ctx context.Context, item printJob, success bool) error {
	return nil
}

// Dispatcher fronts each configured printer with a small bounded channel
// so a burst of jobs queues instead of blocking the pipeline indefinitely;
// if the queue is full, Submit times out with a retryable failure rather
// than stalling event processing.
type Dispatcher struct {
	registry *printer.Registry
	queues   map[string]chan printJob
}

func NewDispatcher(registry *printer.Registry) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		queues:   make(map[string]chan printJob),
	}
}

// AttachWorkers registers one polling worker per currently-configured
// printer, draining that printer's queue via the generic workqueue poller.
func (d *Dispatcher) AttachWorkers(pm *engine.ProcMgr) {
	for _, desc := range d.registry.Descriptors() {
		ch := make(chan printJob, printerQueueDepth)
		d.queues[desc.ID] = ch
		wq := &chanWorkqueue{ch: ch, registry: d.registry}
		pm.Add(engine.Poll(50*time.Millisecond, engine.PollWorkqueue(wq)))
	}
}

// Submit resolves role/stationID to a printer id and enqueues the job on
// that printer's queue, blocking until the result is known or the queue
// stays full past submitTimeout.
func (d *Dispatcher) Submit(ctx context.Context, role printer.Role, stationID string, buf []byte) printer.PrintResult {
	id, err := d.registry.GetPrinterForRole(role, stationID)
	if err != nil {
		return printer.PrintResult{Success: false, Error: err.Error(), Retryable: true}
	}

	ch, ok := d.queues[id]
	if !ok {
		// No dedicated queue (printer registered after boot) - write directly.
		return d.registry.PrintByRole(ctx, role, stationID, buf)
	}

	resultCh := make(chan printer.PrintResult, 1)
	select {
	case ch <- printJob{role: role, stationID: stationID, buf: buf, resultCh: resultCh}:
	case <-time.After(submitTimeout):
		return printer.PrintResult{Success: false, Error: "printer queue full", Retryable: true}
	case <-ctx.Done():
		return printer.PrintResult{Success: false, Error: "canceled", Retryable: true}
	}

	select {
	case result := <-resultCh:
		return result
	case <-ctx.Done():
		return printer.PrintResult{Success: false, Error: "canceled", Retryable: true}
	}
}
