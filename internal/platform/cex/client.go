// Package cex is the REST client for the exchange backing CEX_* route
// steps: deposit addresses, spot orders, withdrawals. Requests are signed
// with HMAC-SHA256 (X-API-* headers) using per-user credentials.
package cex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/omniswap/swapd/internal/crypto"
)

// Order and withdrawal states the exchange reports.
const (
	OrderStatusOpen     = "open"
	OrderStatusFilled   = "filled"
	OrderStatusRejected = "rejected"
	OrderStatusCanceled = "canceled"
)

// Client is an HMAC-authenticated exchange REST client. One Client per
// user credential pair; construction is cheap.
type Client struct {
	name       string
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
}

// NewClient creates an exchange client.
//
// baseURL is the API root, e.g. "https://api.exchange.example/v1". The
// auth pair usually comes from the credential store, unsealed per request.
func NewClient(name, baseURL string, auth *crypto.HMACAuth, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		name:    name,
		baseURL: baseURL,
		auth:    auth,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the configured exchange name.
func (c *Client) Name() string {
	return c.name
}

// DepositAddress returns the exchange deposit address for an asset on a
// chain, plus an optional memo/tag.
func (c *Client) DepositAddress(ctx context.Context, asset, chain string) (address, memo string, err error) {
	params := url.Values{}
	params.Set("asset", asset)
	params.Set("chain", chain)
	path := "/deposit/address?" + params.Encode()

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", "", fmt.Errorf("cex: deposit address %s/%s: %w", asset, chain, err)
	}

	var resp struct {
		Address string `json:"address"`
		Memo    string `json:"memo"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", "", fmt.Errorf("cex: decode deposit address: %w", err)
	}
	if resp.Address == "" {
		return "", "", fmt.Errorf("cex: empty deposit address for %s/%s", asset, chain)
	}
	return resp.Address, resp.Memo, nil
}

// Order is the exchange's view of a placed order.
type Order struct {
	ID     string `json:"order_id"`
	Status string `json:"status"`
	Filled string `json:"filled_quantity"`
}

// PlaceOrder submits a market order and returns the exchange's view of it.
func (c *Client) PlaceOrder(ctx context.Context, symbol, side, quantity string) (Order, error) {
	reqBody := map[string]string{
		"symbol":   symbol,
		"side":     side,
		"type":     "market",
		"quantity": quantity,
	}

	body, err := c.doSignedRequest(ctx, http.MethodPost, "/orders", reqBody)
	if err != nil {
		return Order{}, fmt.Errorf("cex: place order %s: %w", symbol, err)
	}

	var resp struct {
		Order Order `json:"order"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Order{}, fmt.Errorf("cex: decode order response: %w", err)
	}
	if resp.Order.ID == "" {
		return Order{}, fmt.Errorf("cex: order response missing id")
	}
	return resp.Order, nil
}

// OrderStatus fetches the current state of an order by id.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (Order, error) {
	path := fmt.Sprintf("/orders/%s", url.PathEscape(orderID))

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return Order{}, fmt.Errorf("cex: order status %s: %w", orderID, err)
	}

	var resp struct {
		Order Order `json:"order"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Order{}, fmt.Errorf("cex: decode order status: %w", err)
	}
	return resp.Order, nil
}

// Withdraw requests an on-chain withdrawal to address and returns the
// exchange withdrawal id.
func (c *Client) Withdraw(ctx context.Context, asset, chain, amount, address string) (string, error) {
	reqBody := map[string]string{
		"asset":   asset,
		"chain":   chain,
		"amount":  amount,
		"address": address,
	}

	body, err := c.doSignedRequest(ctx, http.MethodPost, "/withdrawals", reqBody)
	if err != nil {
		return "", fmt.Errorf("cex: withdraw %s %s: %w", amount, asset, err)
	}

	var resp struct {
		WithdrawalID string `json:"withdrawal_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("cex: decode withdrawal response: %w", err)
	}
	if resp.WithdrawalID == "" {
		return "", fmt.Errorf("cex: withdrawal response missing id")
	}
	return resp.WithdrawalID, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doSignedRequest builds, signs, sends, and reads an HTTP request against
// the exchange API.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var bodyReader io.Reader
	bodyStr := ""
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.auth.Headers(method, path, bodyStr) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// errorResponse is the exchange's error envelope.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// checkStatus maps non-2xx HTTP status codes to errors.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr errorResponse
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("not found: %s (%s)", apiErr.Message, apiErr.Code)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("unauthorized: %s (%s)", apiErr.Message, apiErr.Code)
	case http.StatusTooManyRequests:
		return fmt.Errorf("rate limited: %s (%s)", apiErr.Message, apiErr.Code)
	case http.StatusBadRequest:
		return fmt.Errorf("bad request: %s (%s)", apiErr.Message, apiErr.Code)
	default:
		return fmt.Errorf("HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	}
}
