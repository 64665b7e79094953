// Package ingress exposes the local HTTP surface LAN clients (POS
// tablets) use to push print jobs directly, without round-tripping
// through the cloud change-feed.
package ingress

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/posforge/ticketbridge/engine"
	"github.com/posforge/ticketbridge/internal/printer"
)

// dispatcher is the subset of pipeline.Dispatcher's API this package needs:
// single-job submission through the same per-printer bounded queue the
// event pipeline uses, so a burst of direct LAN prints degrades the same
// way a burst of change-feed jobs would rather than stalling indefinitely.
type dispatcher interface {
	Submit(ctx context.Context, role printer.Role, stationID string, buf []byte) printer.PrintResult
}

// Server is the local print-ingress HTTP surface.
type Server struct {
	registry     *printer.Registry
	dispatch     dispatcher
	deviceID     string
	restaurantID string
	version      string
}

func New(registry *printer.Registry, dispatch dispatcher, deviceID, restaurantID, version string) *Server {
	return &Server{
		registry:     registry,
		dispatch:     dispatch,
		deviceID:     deviceID,
		restaurantID: restaurantID,
		version:      version,
	}
}

// AttachRoutes registers the ingress endpoints on router.
func (s *Server) AttachRoutes(router *engine.Router) {
	router.HandleFunc("/api/discovery", s.handleDiscovery)
	router.HandleFunc("/api/print", s.handlePrint)
	router.HandleFunc("/api/print/station-tickets", s.handleStationTickets)
	router.HandleFunc("/api/cash-drawer/open", s.handleCashDrawerOpen)
	router.HandleFunc("/api/health", s.handleHealth)
}

// metadata is the common request envelope every print-ingress body
// carries, used to validate the caller is talking to the right tenant.
type metadata struct {
	OrderID         string `json:"order_id,omitempty"`
	TicketID        string `json:"ticket_id,omitempty"`
	RestaurantID    string `json:"restaurant_id"`
	DeviceID        string `json:"device_id"`
	JobID           string `json:"job_id,omitempty"`
	AdditionGroupID string `json:"addition_group_id,omitempty"`
}

// localPrintRequest is the body of POST /api/print.
type localPrintRequest struct {
	EscposB64      string       `json:"escpos_base64"`
	JobType        string       `json:"job_type"`
	Role           printer.Role `json:"role,omitempty"`
	StationID      string       `json:"station_id,omitempty"`
	Copies         int          `json:"copies,omitempty"`
	OpenCashDrawer bool         `json:"open_cash_drawer,omitempty"`
	Metadata       metadata     `json:"metadata"`
}

// stationTicketRequestItem is one entry of a StationTicketsRequest body.
// printer.StationTicket carries no json tags of its own (it is only ever
// built in-process by the payload fetcher), so the wire shape is decoded
// here and mapped across explicitly.
type stationTicketRequestItem struct {
	StationID   string `json:"station_id"`
	StationName string `json:"station_name"`
	PrinterName string `json:"printer_name"`
	Copies      int    `json:"copies"`
	EscposB64   string `json:"escpos_base64"`
}

// stationTicketsRequest is the body of POST /api/print/station-tickets.
type stationTicketsRequest struct {
	Tickets  []stationTicketRequestItem `json:"tickets"`
	Metadata metadata                   `json:"metadata"`
}

// cashDrawerRequest is the body of POST /api/cash-drawer/open.
type cashDrawerRequest struct {
	Role     printer.Role `json:"role,omitempty"`
	Metadata metadata     `json:"metadata"`
}

// printResponse mirrors the print-endpoint response schema from spec §6.
type printResponse struct {
	Success     bool   `json:"success"`
	PrintedAt   string `json:"printed_at,omitempty"`
	PrinterName string `json:"printer_name,omitempty"`
	Error       string `json:"error,omitempty"`
	Retryable   bool   `json:"retryable,omitempty"`
}

func fromPrintResult(r printer.PrintResult) printResponse {
	resp := printResponse{Success: r.Success, PrinterName: r.PrinterName, Error: r.Error, Retryable: r.Retryable}
	if r.Success {
		resp.PrintedAt = time.Now().UTC().Format(time.RFC3339)
	}
	return resp
}

// checkTenant validates restaurant_id against the configured tenant,
// writing an error response and returning false if it does not match.
// Callers run this only after their own registry-configured and
// required-field checks, per spec §4.G's fixed validation order.
func (s *Server) checkTenant(w http.ResponseWriter, rid string) bool {
	if rid != s.restaurantID {
		engine.ClientError(w, http.StatusForbidden, "restaurant_id does not match configured tenant")
		return false
	}
	return true
}

// roleForJobType returns the default role a job_type routes to when the
// caller does not supply an explicit role.
func roleForJobType(jobType string) printer.Role {
	switch printer.JobKind(jobType) {
	case printer.JobCustomerTicket:
		return printer.RoleCustomerTicket
	case printer.JobCashReport:
		return printer.RoleFiscal
	case printer.JobStationTicket:
		return printer.RoleStation
	default:
		return printer.RoleKitchenDefault
	}
}

func (s *Server) handlePrint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		engine.ClientError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.registry == nil {
		engine.SystemError(w, "no printer registry configured")
		return
	}
	var req localPrintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		engine.ClientError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.EscposB64 == "" || req.JobType == "" || req.Metadata.RestaurantID == "" {
		engine.ClientError(w, http.StatusBadRequest, "escpos_base64, job_type and metadata.restaurant_id are required")
		return
	}
	if !s.checkTenant(w, req.Metadata.RestaurantID) {
		return
	}

	buf, err := base64.StdEncoding.DecodeString(req.EscposB64)
	if err != nil {
		engine.ClientError(w, http.StatusBadRequest, "escpos_base64 is not valid base64")
		return
	}

	role := req.Role
	if role == "" {
		role = roleForJobType(req.JobType)
	}

	result := s.dispatch.Submit(r.Context(), role, req.StationID, buf)

	if result.Success && req.OpenCashDrawer {
		s.registry.OpenCashDrawerFor(r.Context(), result.PrinterID)
	}

	engine.WriteJSON(w, http.StatusOK, fromPrintResult(result))
}

func (s *Server) handleStationTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		engine.ClientError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.registry == nil {
		engine.SystemError(w, "no printer registry configured")
		return
	}
	var req stationTicketsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		engine.ClientError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Tickets) == 0 || req.Metadata.RestaurantID == "" {
		engine.ClientError(w, http.StatusBadRequest, "tickets and metadata.restaurant_id are required")
		return
	}
	if !s.checkTenant(w, req.Metadata.RestaurantID) {
		return
	}

	tickets := make([]printer.StationTicket, 0, len(req.Tickets))
	for _, t := range req.Tickets {
		tickets = append(tickets, printer.StationTicket{
			StationID:   t.StationID,
			StationName: t.StationName,
			PrinterName: t.PrinterName,
			Copies:      t.Copies,
			EscposB64:   t.EscposB64,
		})
	}

	results := s.registry.PrintStationTickets(r.Context(), tickets, func(b64 string) ([]byte, error) {
		return base64.StdEncoding.DecodeString(b64)
	})

	responses := make([]printResponse, 0, len(results))
	allSucceeded := true
	for _, result := range results {
		if !result.Success {
			allSucceeded = false
		}
		responses = append(responses, fromPrintResult(result))
	}

	engine.WriteJSON(w, http.StatusOK, map[string]any{
		"success": allSucceeded,
		"results": responses,
	})
}

func (s *Server) handleCashDrawerOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		engine.ClientError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.registry == nil {
		engine.SystemError(w, "no printer registry configured")
		return
	}
	var req cashDrawerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		engine.ClientError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Metadata.RestaurantID == "" {
		engine.ClientError(w, http.StatusBadRequest, "metadata.restaurant_id is required")
		return
	}
	if !s.checkTenant(w, req.Metadata.RestaurantID) {
		return
	}

	role := req.Role
	if role == "" {
		role = printer.RoleCustomerTicket
	}

	ok := s.registry.OpenCashDrawerByRole(r.Context(), role)
	resp := printResponse{Success: ok}
	if !ok {
		resp.Error = "no printer available for cash drawer role"
		resp.Retryable = true
	} else {
		resp.PrintedAt = time.Now().UTC().Format(time.RFC3339)
	}
	engine.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		engine.SystemError(w, "no printer registry configured")
		return
	}

	mode := "multi-printer"
	for _, d := range s.registry.Descriptors() {
		if d.ID == printer.LegacyMigratedID {
			mode = "legacy"
			break
		}
	}

	availability := s.registry.RoleAvailability()
	roles := make(map[string]bool, len(availability))
	for role, ok := range availability {
		roles[string(role)] = ok
	}

	engine.WriteJSON(w, http.StatusOK, map[string]any{
		"device_id":     s.deviceID,
		"restaurant_id": s.restaurantID,
		"version":       s.version,
		"mode":          mode,
		"status":        "ok",
		"printer_count": s.registry.Count(),
		"role_availability": roles,
		"capabilities": map[string]bool{
			"cash_drawer":     true,
			"station_routing": true,
			"multi_printer":   true,
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	engine.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
