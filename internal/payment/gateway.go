package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ChargeRequest is sent to the gateway to open a checkout session.
type ChargeRequest struct {
	Reference     string  `json:"reference"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	CustomerEmail string  `json:"customer_email"`
	CustomerName  string  `json:"customer_name"`
}

// ChargeResponse is the gateway's reply to InitializeCharge.
type ChargeResponse struct {
	CheckoutURL string `json:"checkout_url"`
	Reference   string `json:"reference"`
}

// VerifyResponse is the gateway's reply to Verify, used both by
// VerifyPayment and the scheduled reconciliation job.
type VerifyResponse struct {
	Reference     string  `json:"reference"`
	Status        string  `json:"status"`
	Amount        float64 `json:"amount"`
	TransactionID string  `json:"transaction_id"`
}

// GatewayClient is the payment core's abstraction over the external
// payment processor. Wraps an outside
// dependency behind a small interface so the service layer stays testable
// behind a narrow interface so it can be swapped or faked in tests.
type GatewayClient interface {
	InitializeCharge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error)
	Verify(ctx context.Context, reference string) (*VerifyResponse, error)
}

// HTTPGateway is a net/http-backed GatewayClient, using the same plain
// http.Client-with-timeout idiom used for calling out to dependencies
// elsewhere in the platform (pkg/tracing, pkg/database's context-bound
// calls), generalized to an HTTP payment processor.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGateway builds an HTTPGateway. timeout bounds every call
// (10s gateway budget).
func NewHTTPGateway(baseURL string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGateway) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode gateway response: %w", err)
		}
	}
	return nil
}

// InitializeCharge opens a checkout session for a payment.
func (g *HTTPGateway) InitializeCharge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error) {
	var out ChargeResponse
	if err := g.post(ctx, "/charges", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify queries the gateway for the current status of a charge by
// reference, used by VerifyPayment and reconciliation.
func (g *HTTPGateway) Verify(ctx context.Context, reference string) (*VerifyResponse, error) {
	var out VerifyResponse
	path := fmt.Sprintf("/charges/%s", reference)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build gateway request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return &out, nil
}
