package printer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Registry is the single source of truth for configured printers and role
// routing. State reads/writes go through a single RWMutex; writes to the
// same physical printer are additionally serialized by a per-id mutex so
// that for any two writes w1, w2 submitted in order, w1 completes in full
// before w2 begins.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
	transports  map[string]Transport
	assignments []RoleAssignment
	order       []string // registration order; order[0] is the default printer

	writeMus sync.Map // printer id -> *sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{
		descriptors: make(map[string]Descriptor),
		transports:  make(map[string]Transport),
	}
}

// Register idempotently adds or replaces a printer descriptor.
func (r *Registry) Register(d Descriptor) error {
	transport, err := NewTransport(d)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, exists := r.transports[d.ID]; exists {
		old.Close()
	} else {
		r.order = append(r.order, d.ID)
	}
	r.descriptors[d.ID] = d
	r.transports[d.ID] = transport
	return nil
}

// Unregister idempotently removes a printer and purges any role
// assignments that pointed at it.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.transports[id]; ok {
		t.Close()
	}
	delete(r.descriptors, id)
	delete(r.transports, id)

	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	filtered := r.assignments[:0]
	for _, a := range r.assignments {
		if a.PrinterID != id {
			filtered = append(filtered, a)
		}
	}
	r.assignments = filtered
}

// SetAssignments atomically replaces the full assignment set.
func (r *Registry) SetAssignments(assignments []RoleAssignment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignments = append([]RoleAssignment(nil), assignments...)
}

// defaultPrinterIDLocked returns the first registered printer id, or "" if none.
// Caller must hold r.mu.
func (r *Registry) defaultPrinterIDLocked() string {
	if len(r.order) == 0 {
		return ""
	}
	return r.order[0]
}

// GetPrinterForRole resolves (role, stationID) to a printer id following
// the fallback chain: exact (role, station) -> exact role -> default ->
// failure. For role=station with no matching assignment, falls back to
// kitchen_default before the default printer.
func (r *Registry) GetPrinterForRole(role Role, stationID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveLocked(role, stationID)
}

func (r *Registry) resolveLocked(role Role, stationID string) (string, error) {
	if role == RoleStation {
		for _, a := range r.assignments {
			if a.Role == RoleStation && a.StationID == stationID {
				if _, ok := r.descriptors[a.PrinterID]; ok {
					return a.PrinterID, nil
				}
			}
		}
		// station role mismatch: fall back to kitchen_default, then default
		return r.resolveLocked(RoleKitchenDefault, "")
	}

	for _, a := range r.assignments {
		if a.Role == role {
			if _, ok := r.descriptors[a.PrinterID]; ok {
				return a.PrinterID, nil
			}
		}
	}

	if def := r.defaultPrinterIDLocked(); def != "" {
		return def, nil
	}
	return "", fmt.Errorf("no printer available for role %s", role)
}

// assignmentFor returns the RoleAssignment matching (role, stationID), if any.
func (r *Registry) assignmentFor(role Role, stationID string) (RoleAssignment, bool) {
	for _, a := range r.assignments {
		if a.Role == role && (role != RoleStation || a.StationID == stationID) {
			return a, true
		}
	}
	return RoleAssignment{}, false
}

func (r *Registry) writeMutex(id string) *sync.Mutex {
	m, _ := r.writeMus.LoadOrStore(id, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// writeLocked serializes a write against the printer's own mutex, resolving
// the transport under the registry's read lock first.
func (r *Registry) writeLocked(ctx context.Context, id string, buf []byte) bool {
	r.mu.RLock()
	t, ok := r.transports[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	mu := r.writeMutex(id)
	mu.Lock()
	defer mu.Unlock()

	ok = t.Write(ctx, buf)
	r.setStatus(id, ok)
	return ok
}

func (r *Registry) setStatus(id string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, exists := r.descriptors[id]
	if !exists {
		return
	}
	if ok {
		d.Status = StatusReady
	} else {
		d.Status = StatusError
	}
	r.descriptors[id] = d
}

func (r *Registry) printerName(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.descriptors[id]; ok {
		return d.Name
	}
	return id
}

// PrintByRole resolves role (and, for role=station, stationID) to a
// printer and writes buf to it.
func (r *Registry) PrintByRole(ctx context.Context, role Role, stationID string, buf []byte) PrintResult {
	id, err := r.GetPrinterForRole(role, stationID)
	if err != nil {
		return PrintResult{Success: false, Error: err.Error(), Retryable: true}
	}
	name := r.printerName(id)
	if !r.writeLocked(ctx, id, buf) {
		slog.Error("printer write failed", "printerId", id, "role", role)
		return PrintResult{Success: false, PrinterID: id, PrinterName: name, Error: "printer write failed", Retryable: true}
	}
	return PrintResult{Success: true, PrinterID: id, PrinterName: name}
}

// PrintStationTickets resolves each ticket via (role=station, station_id)
// and writes it `copies` times, returning one result per copy.
func (r *Registry) PrintStationTickets(ctx context.Context, tickets []StationTicket, decode func(b64 string) ([]byte, error)) []PrintResult {
	var results []PrintResult
	for _, ticket := range tickets {
		buf, err := decode(ticket.EscposB64)
		if err != nil {
			results = append(results, PrintResult{Success: false, Error: err.Error(), Retryable: false})
			continue
		}
		copies := ticket.Copies
		if copies < 1 {
			copies = 1
		}
		for i := 0; i < copies; i++ {
			results = append(results, r.PrintByRole(ctx, RoleStation, ticket.StationID, buf))
		}
	}
	return results
}

// OpenCashDrawerByRole resolves role (defaulting to customer_ticket in
// callers) and sends the cash-drawer kick sequence.
func (r *Registry) OpenCashDrawerByRole(ctx context.Context, role Role) bool {
	id, err := r.GetPrinterForRole(role, "")
	if err != nil {
		return false
	}
	return r.writeLocked(ctx, id, CashDrawerKick)
}

// OpenCashDrawerFor sends the kick sequence directly to a known printer id,
// used right after a customer-ticket print when cash_drawer_enabled is set.
func (r *Registry) OpenCashDrawerFor(ctx context.Context, printerID string) bool {
	return r.writeLocked(ctx, printerID, CashDrawerKick)
}

// AssignmentFor exposes assignment lookup (used by the pipeline to check
// CashDrawerEnabled after a customer-ticket print).
func (r *Registry) AssignmentFor(role Role, stationID string) (RoleAssignment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.assignmentFor(role, stationID)
}

// TestPrinter runs connectivity diagnostics against one printer.
func (r *Registry) TestPrinter(ctx context.Context, id string) bool {
	r.mu.RLock()
	t, ok := r.transports[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	result := t.Test(ctx)
	r.setStatus(id, result)
	return result
}

// TestAll runs TestPrinter against every registered printer.
func (r *Registry) TestAll(ctx context.Context) map[string]bool {
	r.mu.RLock()
	ids := make([]string, 0, len(r.transports))
	for id := range r.transports {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	results := make(map[string]bool, len(ids))
	for _, id := range ids {
		results[id] = r.TestPrinter(ctx, id)
	}
	return results
}

// TestPage writes a short ESC/POS self-test payload to a printer.
func (r *Registry) TestPage(ctx context.Context, id string) bool {
	const testPage = "ticketbridge test page\n\n\n"
	return r.writeLocked(ctx, id, []byte(testPage))
}

// Descriptors returns a snapshot of all registered printer descriptors.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.descriptors[id])
	}
	return out
}

// Count returns the number of registered printers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// RoleAvailability reports, for each role in the closed set, whether a
// resolvable printer currently exists. Used by the discovery endpoint.
func (r *Registry) RoleAvailability() map[Role]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Role]bool, 4)
	for _, role := range []Role{RoleCustomerTicket, RoleKitchenDefault, RoleFiscal} {
		_, err := r.resolveLocked(role, "")
		out[role] = err == nil
	}
	return out
}
