package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/posforge/ticketbridge/internal/printer"
)

const DefaultPaperWidth = 80

// PayloadFetcher retrieves base64 ESC/POS payloads from the cloud's
// ticket/cash-report rendering HTTP surface.
type PayloadFetcher struct {
	baseURL string
	client  *http.Client
}

func NewPayloadFetcher(baseURL string) *PayloadFetcher {
	return &PayloadFetcher{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// FetchKitchenTicket renders a kitchen-single ticket for an order.
func (f *PayloadFetcher) FetchKitchenTicket(ctx context.Context, orderID string) (string, bool) {
	return f.fetchEscpos(ctx, "/tickets/generate-escpos", map[string]any{
		"order_id":    orderID,
		"ticket_type": "kitchen",
		"paper_width": DefaultPaperWidth,
	})
}

// FetchCustomerTicket renders a customer ticket for an order.
func (f *PayloadFetcher) FetchCustomerTicket(ctx context.Context, orderID string) (string, bool) {
	return f.fetchEscpos(ctx, "/tickets/generate-escpos", map[string]any{
		"order_id":    orderID,
		"ticket_type": "customer",
		"paper_width": DefaultPaperWidth,
	})
}

// FetchAdditionTicket renders an addition ticket for one addition group.
func (f *PayloadFetcher) FetchAdditionTicket(ctx context.Context, orderID, additionGroupID string) (string, bool) {
	return f.fetchEscpos(ctx, "/tickets/generate-escpos", map[string]any{
		"order_id":          orderID,
		"ticket_type":       "addition",
		"addition_group_id": additionGroupID,
		"paper_width":       DefaultPaperWidth,
	})
}

// FetchCashReport renders a cash report.
func (f *PayloadFetcher) FetchCashReport(ctx context.Context, reportID string) (string, bool) {
	return f.fetchEscpos(ctx, "/cash/generate-report-escpos", map[string]any{
		"report_id":   reportID,
		"paper_width": DefaultPaperWidth,
	})
}

// FetchStationTickets renders the per-station split for an order. A
// non-empty result takes priority over the kitchen-single fetch.
func (f *PayloadFetcher) FetchStationTickets(ctx context.Context, orderID string) ([]printer.StationTicket, error) {
	body, err := json.Marshal(map[string]any{
		"order_id":    orderID,
		"paper_width": DefaultPaperWidth,
	})
	if err != nil {
		return nil, err
	}

	resp, err := f.post(ctx, "/tickets/generate-station-tickets", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil
	}

	var rows []struct {
		StationID     string `json:"station_id"`
		StationName   string `json:"station_name"`
		PrinterConfig struct {
			PrinterName string `json:"printer_name"`
			Copies      int    `json:"copies"`
		} `json:"printer_config"`
		// The per-station schema names this field escpos_base64, but spec
		// §4.D's blanket rule ("all responses accept either key
		// escposBase64 or data") still applies, so both spellings plus the
		// plain "data" fallback are accepted here.
		EscposBase64Snake string `json:"escpos_base64"`
		EscposBase64Camel string `json:"escposBase64"`
		Data              string `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, err
	}

	tickets := make([]printer.StationTicket, 0, len(rows))
	for _, row := range rows {
		payload := row.EscposBase64Snake
		if payload == "" {
			payload = row.EscposBase64Camel
		}
		if payload == "" {
			payload = row.Data
		}
		tickets = append(tickets, printer.StationTicket{
			StationID:   row.StationID,
			StationName: row.StationName,
			PrinterName: row.PrinterConfig.PrinterName,
			Copies:      row.PrinterConfig.Copies,
			EscposB64:   payload,
		})
	}
	return tickets, nil
}

func (f *PayloadFetcher) fetchEscpos(ctx context.Context, path string, body map[string]any) (string, bool) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", false
	}

	resp, err := f.post(ctx, path, payload)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", false
	}

	var decoded struct {
		EscposBase64 string `json:"escposBase64"`
		Data         string `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", false
	}
	if decoded.EscposBase64 != "" {
		return decoded.EscposBase64, true
	}
	if decoded.Data != "" {
		return decoded.Data, true
	}
	return "", false
}

func (f *PayloadFetcher) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s%s", f.baseURL, path), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return f.client.Do(req)
}
