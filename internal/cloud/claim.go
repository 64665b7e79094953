package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/posforge/ticketbridge/engine"
)

const DefaultClaimTTLSeconds = 30

// ClaimClient mediates claim/complete/heartbeat calls against the cloud so
// that only one daemon in a multi-daemon fleet prints a given job.
type ClaimClient struct {
	baseURL  string
	tenantID string
	deviceID string
	client   *http.Client
	limiter  *rate.Limiter
	events   *engine.EventLogger
}

func NewClaimClient(baseURL, tenantID, deviceID string, events *engine.EventLogger) *ClaimClient {
	return &ClaimClient{
		baseURL:  baseURL,
		tenantID: tenantID,
		deviceID: deviceID,
		client:   &http.Client{Timeout: 10 * time.Second},
		// Bursts of change-feed rows (e.g. a batch of order updates) must not
		// hammer the cloud's claim endpoint; this mirrors the teacher's
		// webhook-queue rate limiting applied to an outbound RPC instead.
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 5),
		events:  events,
	}
}

// Claim invokes the server-side claim_print_job procedure. Any transport
// error is treated pessimistically as success=false: we would rather skip
// a print than double-print.
func (c *ClaimClient) Claim(ctx context.Context, kind string, keys ClaimKeys, ttlSeconds int) ClaimResult {
	if ttlSeconds <= 0 {
		ttlSeconds = DefaultClaimTTLSeconds
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return ClaimResult{Success: false, Reason: "rate limited: " + err.Error()}
	}

	body := map[string]any{
		"tenant_id":         c.tenantID,
		"job_type":          kind,
		"device_id":         c.deviceID,
		"ttl_seconds":       ttlSeconds,
		"order_id":          keys.OrderID,
		"ticket_id":         keys.TicketID,
		"report_id":         keys.ReportID,
		"addition_group_id": keys.AdditionGroupID,
	}

	var result ClaimResult
	err := c.rpc(ctx, "claim_print_job", body, &result)
	if err != nil {
		slog.Error("claim_print_job transport error", "error", err, "jobType", kind)
		c.events.LogEvent(ctx, "claim", kind, keys.OrderID, "", false, err.Error())
		return ClaimResult{Success: false, Reason: "transport error"}
	}

	c.events.LogEvent(ctx, "claim", kind, keys.OrderID, "", result.Success, result.Reason)
	return result
}

// Complete invokes complete_print_job. Idempotent from the caller's point
// of view; transport errors are logged and swallowed so local state always
// advances.
func (c *ClaimClient) Complete(ctx context.Context, jobID string, success bool, errMsg string) {
	body := map[string]any{
		"job_id":        jobID,
		"device_id":     c.deviceID,
		"success":       success,
		"error_message": errMsg,
	}
	if err := c.rpc(ctx, "complete_print_job", body, nil); err != nil {
		slog.Error("complete_print_job transport error", "error", err, "jobId", jobID)
	}
	c.events.LogEvent(ctx, "claim", "complete", jobID, "", success, errMsg)
}

// Heartbeat upserts the daemon's current status into the cloud's
// heartbeat table, keyed by device id.
func (c *ClaimClient) Heartbeat(ctx context.Context, hb HeartbeatPayload) {
	body := map[string]any{
		"device_id":       c.deviceID,
		"status":          hb.Status,
		"printer_status":  hb.PrinterStatus,
		"version":         hb.Version,
		"uptime_seconds":  hb.UptimeSeconds,
		"last_seen_at":    time.Now().UTC().Format(time.RFC3339),
		"connection_mode": hb.ConnectionMode,
	}
	if err := c.rpc(ctx, "heartbeat", body, nil); err != nil {
		slog.Warn("heartbeat upsert failed", "error", err)
	}
}

func (c *ClaimClient) rpc(ctx context.Context, procedure string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/rpc/%s", c.baseURL, procedure)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status from %s: %d", procedure, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
