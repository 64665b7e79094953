package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// OrderPoller is the degraded-mode fallback used when the change-feed
// subscription cannot be established: it discovers orders via periodic
// SELECTs instead of a realtime subscription.
type OrderPoller interface {
	// PollOrders returns orders for tenantID created at or after since,
	// ordered ascending by creation time.
	PollOrders(ctx context.Context, tenantID string, since time.Time) ([]Order, error)
}

// RESTOrderPoller polls orders over the cloud's PostgREST-style tabular
// API (the same backend the realtime change-feed and the RPC client talk
// to), using the standard `column=op.value` filter query syntax.
type RESTOrderPoller struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewRESTOrderPoller(baseURL, apiKey string) *RESTOrderPoller {
	return &RESTOrderPoller{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *RESTOrderPoller) PollOrders(ctx context.Context, tenantID string, since time.Time) ([]Order, error) {
	q := url.Values{}
	q.Set("tenant_id", "eq."+tenantID)
	q.Set("created_at", "gte."+since.UTC().Format(time.RFC3339Nano))
	q.Set("order", "created_at.asc")
	q.Set("select", "id,created_at,items")

	reqURL := fmt.Sprintf("%s/rest/v1/orders?%s", p.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	if p.apiKey != "" {
		req.Header.Set("apikey", p.apiKey)
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status polling orders: %d", resp.StatusCode)
	}

	var orders []Order
	if err := json.NewDecoder(resp.Body).Decode(&orders); err != nil {
		return nil, err
	}
	return orders, nil
}
