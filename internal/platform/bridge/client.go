// Package bridge polls a bridge indexer API for cross-chain delivery
// status. BRIDGE steps have no destination transaction to watch directly,
// so the monitor asks the indexer whether the transfer keyed by the source
// transaction has landed.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Delivery states reported by the indexer.
const (
	StatePending   = "pending"
	StateDelivered = "delivered"
	StateFailed    = "failed"
)

// Client queries the bridge status API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a bridge status client.
//
// baseURL is the indexer root, e.g. "https://api.bridgescan.io/v1".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Delivery is one cross-chain transfer as reported by the indexer.
type Delivery struct {
	Status     string `json:"status"`
	DestChain  string `json:"dest_chain"`
	DestTxHash string `json:"dest_tx_hash"`
	Message    string `json:"message"`
}

// DeliveryStatus looks up the transfer initiated by txHash on srcChain
// through the given bridge provider. A transfer the indexer has not seen
// yet reports StatePending.
func (c *Client) DeliveryStatus(ctx context.Context, provider, srcChain, txHash string) (Delivery, error) {
	params := url.Values{}
	params.Set("provider", provider)
	params.Set("chain", srcChain)
	params.Set("tx", txHash)

	endpoint := c.baseURL + "/transfers?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Delivery{}, fmt.Errorf("bridge: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Delivery{}, fmt.Errorf("bridge: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Delivery{}, fmt.Errorf("bridge: read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return Delivery{Status: StatePending, Message: "transfer not indexed yet"}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Delivery{}, fmt.Errorf("bridge: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var delivery Delivery
	if err := json.Unmarshal(body, &delivery); err != nil {
		return Delivery{}, fmt.Errorf("bridge: decode delivery: %w", err)
	}

	switch delivery.Status {
	case StatePending, StateDelivered, StateFailed:
	default:
		return Delivery{}, fmt.Errorf("bridge: unknown delivery status %q", delivery.Status)
	}
	return delivery, nil
}
