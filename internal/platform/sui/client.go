// Package sui is a minimal JSON-RPC 2.0 client for Sui covering
// transaction-block execution and checkpoint-finality lookups.
package sui

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/omniswap/swapd/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second
	DefaultMaxDelay   = 10 * time.Second
)

// Client implements the Sui HTTP JSON-RPC surface with bounded retries.
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

// NewClient creates a Sui RPC client for the given endpoint.
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

// ExecuteTransactionBlock broadcasts a signed transaction block and returns
// its digest. The signed payload is "txBytes|sig1,sig2" with every part
// base64 encoded, matching what wallet SDKs hand back.
func (c *Client) ExecuteTransactionBlock(ctx context.Context, signedTx string) (string, error) {
	txBytes, signatures, err := splitSignedPayload(signedTx)
	if err != nil {
		return "", fmt.Errorf("sui: %w: %v", domain.ErrInvalidSignature, err)
	}

	params := []interface{}{
		txBytes,
		signatures,
		map[string]interface{}{"showEffects": true},
		"WaitForEffectsCert",
	}

	var result struct {
		Digest  string `json:"digest"`
		Effects *struct {
			Status struct {
				Status string `json:"status"`
				Error  string `json:"error"`
			} `json:"status"`
		} `json:"effects"`
	}
	if err := c.call(ctx, "sui_executeTransactionBlock", params, &result); err != nil {
		if isSignatureError(err) {
			return "", fmt.Errorf("sui: %w: %v", domain.ErrInvalidSignature, err)
		}
		return "", fmt.Errorf("sui: %w: %v", domain.ErrBroadcast, err)
	}
	if result.Digest == "" {
		return "", fmt.Errorf("sui: %w: empty digest", domain.ErrBroadcast)
	}
	return result.Digest, nil
}

// TxStatus is the observed state of an executed Sui transaction block.
type TxStatus struct {
	Found      bool
	Failed     bool
	Checkpoint uint64 // 0 until the block lands in a checkpoint
}

// TransactionStatus looks up a transaction block by digest. A digest the
// node cannot resolve returns Found=false with no error.
func (c *Client) TransactionStatus(ctx context.Context, digest string) (TxStatus, error) {
	params := []interface{}{
		digest,
		map[string]interface{}{"showEffects": true},
	}

	var result struct {
		Digest     string `json:"digest"`
		Checkpoint string `json:"checkpoint"`
		Effects    *struct {
			Status struct {
				Status string `json:"status"`
				Error  string `json:"error"`
			} `json:"status"`
		} `json:"effects"`
	}
	if err := c.call(ctx, "sui_getTransactionBlock", params, &result); err != nil {
		if isNotFound(err) {
			return TxStatus{}, nil
		}
		return TxStatus{}, fmt.Errorf("sui: transaction status %s: %w", digest, err)
	}

	st := TxStatus{Found: true}
	if result.Effects != nil && result.Effects.Status.Status == "failure" {
		st.Failed = true
	}
	if result.Checkpoint != "" {
		cp, err := strconv.ParseUint(result.Checkpoint, 10, 64)
		if err != nil {
			return TxStatus{}, fmt.Errorf("sui: parse checkpoint %q: %w", result.Checkpoint, err)
		}
		st.Checkpoint = cp
	}
	return st, nil
}

// LatestCheckpoint returns the highest checkpoint sequence number the node
// has executed.
func (c *Client) LatestCheckpoint(ctx context.Context) (uint64, error) {
	var seq string
	if err := c.call(ctx, "sui_getLatestCheckpointSequenceNumber", nil, &seq); err != nil {
		return 0, fmt.Errorf("sui: latest checkpoint: %w", err)
	}
	cp, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sui: parse checkpoint %q: %w", seq, err)
	}
	return cp, nil
}

// splitSignedPayload splits "txBytes|sig1,sig2" and validates each part is
// base64.
func splitSignedPayload(signedTx string) (string, []string, error) {
	txBytes, sigPart, ok := strings.Cut(strings.TrimSpace(signedTx), "|")
	if !ok || sigPart == "" {
		return "", nil, fmt.Errorf("payload missing signature section")
	}
	if _, err := base64.StdEncoding.DecodeString(txBytes); err != nil {
		return "", nil, fmt.Errorf("tx bytes: %w", err)
	}

	signatures := strings.Split(sigPart, ",")
	for _, sig := range signatures {
		if _, err := base64.StdEncoding.DecodeString(sig); err != nil {
			return "", nil, fmt.Errorf("signature: %w", err)
		}
	}
	return txBytes, signatures, nil
}

func isSignatureError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "signature") || strings.Contains(msg, "invalid user signature")
}

func isNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "could not find") || strings.Contains(msg, "not found")
}
