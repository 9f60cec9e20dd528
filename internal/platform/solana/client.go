// Package solana is a minimal JSON-RPC 2.0 client covering the calls the
// step executor and transaction monitor need: sendTransaction and
// getSignatureStatuses.
package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mr-tron/base58"

	"github.com/omniswap/swapd/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second
	DefaultMaxDelay   = 10 * time.Second
)

// Client implements the Solana HTTP JSON-RPC surface with bounded retries.
type Client struct {
	endpoint   string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	maxDelay   time.Duration
	requestID  atomic.Uint64
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithMaxRetries sets the maximum retry attempts for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a Solana RPC client for the given endpoint.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		maxDelay:   DefaultMaxDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// call performs a JSON-RPC call with retries and exponential backoff.
// RPC-level errors are returned immediately; only transport and rate-limit
// failures retry.
func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}
		if rpcResp.Error != nil {
			return rpcResp.Error
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// SendTransaction broadcasts a base64-encoded signed transaction and
// returns its base58 signature. Signature verification failures map to
// domain.ErrInvalidSignature, other rejections to domain.ErrBroadcast.
func (c *Client) SendTransaction(ctx context.Context, signedTx string) (string, error) {
	if _, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signedTx)); err != nil {
		return "", fmt.Errorf("solana: %w: %v", domain.ErrInvalidSignature, err)
	}

	params := []interface{}{
		strings.TrimSpace(signedTx),
		map[string]interface{}{
			"encoding":            "base64",
			"preflightCommitment": "confirmed",
		},
	}

	var signature string
	if err := c.call(ctx, "sendTransaction", params, &signature); err != nil {
		if isSignatureError(err) {
			return "", fmt.Errorf("solana: %w: %v", domain.ErrInvalidSignature, err)
		}
		return "", fmt.Errorf("solana: %w: %v", domain.ErrBroadcast, err)
	}
	if !ValidSignature(signature) {
		return "", fmt.Errorf("solana: %w: malformed signature %q", domain.ErrBroadcast, signature)
	}
	return signature, nil
}

// SigStatus is the observed state of a broadcast Solana transaction.
type SigStatus struct {
	Found     bool
	Finalized bool
	Failed    bool
	Slot      uint64
}

// SignatureStatus looks a signature up, searching transaction history so
// signatures older than the node's recent-status cache still resolve.
func (c *Client) SignatureStatus(ctx context.Context, signature string) (SigStatus, error) {
	params := []interface{}{
		[]string{signature},
		map[string]interface{}{"searchTransactionHistory": true},
	}

	var result struct {
		Value []*struct {
			Slot               uint64      `json:"slot"`
			Err                interface{} `json:"err"`
			ConfirmationStatus string      `json:"confirmationStatus"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return SigStatus{}, fmt.Errorf("solana: signature status %s: %w", signature, err)
	}

	if len(result.Value) == 0 || result.Value[0] == nil {
		return SigStatus{}, nil
	}

	v := result.Value[0]
	return SigStatus{
		Found:     true,
		Finalized: v.ConfirmationStatus == "finalized",
		Failed:    v.Err != nil,
		Slot:      v.Slot,
	}, nil
}

// ValidSignature reports whether s is a well-formed base58 ed25519
// signature.
func ValidSignature(s string) bool {
	raw, err := base58.Decode(s)
	if err != nil {
		return false
	}
	return len(raw) == 64
}

// isSignatureError matches the RPC error shapes a bad signature produces.
func isSignatureError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "signature verification") ||
		strings.Contains(msg, "invalid signature") ||
		strings.Contains(msg, "sanitize")
}
