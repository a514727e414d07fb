package ticketing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// AnchorSubmitRequest carries a batch root to the configured blockchain.
type AnchorSubmitRequest struct {
	ChainID string `json:"chain_id"`
	Root    string `json:"root"`
}

// AnchorSubmitResponse is the chain client's reply to a submission.
type AnchorSubmitResponse struct {
	TransactionHash string  `json:"transaction_hash"`
	GasCost         float64 `json:"gas_cost"`
}

// AnchorStatusResponse reports confirmation progress for a submitted
// transaction.
type AnchorStatusResponse struct {
	BlockNumber   int64  `json:"block_number"`
	Confirmations int    `json:"confirmations"`
	Status        string `json:"status"`
}

// AnchorClient is the ticketing core's abstraction over the chain used to
// anchor Merkle roots. A minimal JSON-RPC-shaped HTTP client, mirroring
// internal/payment's GatewayClient seam.
type AnchorClient interface {
	Submit(ctx context.Context, req AnchorSubmitRequest) (*AnchorSubmitResponse, error)
	Status(ctx context.Context, txHash string) (*AnchorStatusResponse, error)
}

// HTTPAnchorClient is a net/http-backed AnchorClient.
type HTTPAnchorClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPAnchorClient builds an HTTPAnchorClient against the configured
// anchor service URL.
func NewHTTPAnchorClient(baseURL string, client *http.Client) *HTTPAnchorClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAnchorClient{baseURL: baseURL, client: client}
}

func (c *HTTPAnchorClient) postJSON(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal anchor request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build anchor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("anchor request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("anchor service returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Submit anchors a Merkle root on-chain.
func (c *HTTPAnchorClient) Submit(ctx context.Context, req AnchorSubmitRequest) (*AnchorSubmitResponse, error) {
	var out AnchorSubmitResponse
	if err := c.postJSON(ctx, "/anchors", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status polls confirmation progress for a previously submitted transaction.
func (c *HTTPAnchorClient) Status(ctx context.Context, txHash string) (*AnchorStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/anchors/"+txHash, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build anchor status request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anchor status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("anchor service returned status %d", resp.StatusCode)
	}

	var out AnchorStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode anchor status: %w", err)
	}
	return &out, nil
}
