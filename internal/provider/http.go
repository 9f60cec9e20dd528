// Package provider adapts the external quote aggregator's HTTP API to the
// domain interfaces. The aggregator itself is an external collaborator;
// this client only speaks the boundary contract: quote requests and spot
// price lookups. Platform fees are taken here, so every quote the rest of
// the system sees is already net of fee.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/omniswap/swapd/internal/domain"
)

const feeDenominatorBps = 10_000

// Client is a JSON-over-HTTP adapter for the configured aggregator
// endpoint. It implements domain.QuoteProvider and the spot-price lookup
// the price service uses.
type Client struct {
	baseURL    string
	feeBps     int64
	httpClient *http.Client
}

// NewClient creates an aggregator client.
//
// baseURL is the aggregator API root. feeBps is the platform fee in basis
// points shaved off every quoted output.
func NewClient(baseURL string, feeBps int64, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		feeBps:  feeBps,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type quoteRequest struct {
	FromToken string `json:"from_token"`
	ToToken   string `json:"to_token"`
	Amount    string `json:"amount"`
	Chain     string `json:"chain"`
}

type wireStep struct {
	Type           string `json:"type"`
	Chain          string `json:"chain"`
	ToChain        string `json:"to_chain"`
	Protocol       string `json:"protocol"`
	FromToken      string `json:"from_token"`
	ToToken        string `json:"to_token"`
	AmountIn       string `json:"amount_in"`
	ExpectedOut    string `json:"expected_out"`
	MinOutput      string `json:"min_output"`
	EstGasLimit    uint64 `json:"est_gas_limit"`
	EstDurationSec int64  `json:"est_duration_sec"`
}

type wireRoute struct {
	OutputAmount string     `json:"output_amount"`
	EstGasUSD    string     `json:"est_gas_usd"`
	Steps        []wireStep `json:"steps"`
}

type quoteResponse struct {
	FromChain    string      `json:"from_chain"`
	ToChain      string      `json:"to_chain"`
	OutputAmount string      `json:"output_amount"`
	PriceImpact  string      `json:"price_impact"`
	Routes       []wireRoute `json:"routes"`
	ExpiresAt    time.Time   `json:"expires_at"`
}

// GetQuote requests a quote for the pair, then applies the platform fee to
// every quoted output. The aggregator being unreachable or answering 5xx
// maps to ErrProviderDown so callers can degrade instead of failing hard.
func (c *Client) GetQuote(ctx context.Context, fromToken, toToken, amount, chain string) (domain.Quote, error) {
	body, err := json.Marshal(quoteRequest{
		FromToken: fromToken,
		ToToken:   toToken,
		Amount:    amount,
		Chain:     chain,
	})
	if err != nil {
		return domain.Quote{}, fmt.Errorf("provider: marshal quote request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/quote", bytes.NewReader(body))
	if err != nil {
		return domain.Quote{}, fmt.Errorf("provider: build quote request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var wire quoteResponse
	if err := c.do(req, &wire); err != nil {
		return domain.Quote{}, err
	}
	if len(wire.Routes) == 0 {
		return domain.Quote{}, fmt.Errorf("provider: no route for %s->%s on %s", fromToken, toToken, chain)
	}

	// Fractional wire fields arrive as decimal strings; like net(), values
	// that do not parse pass through as the zero value rather than failing
	// the quote.
	priceImpact, _ := strconv.ParseFloat(wire.PriceImpact, 64)

	quote := domain.Quote{
		FromToken:    fromToken,
		ToToken:      toToken,
		FromChain:    chain,
		ToChain:      wire.ToChain,
		InputAmount:  amount,
		OutputAmount: c.net(wire.OutputAmount),
		PriceImpact:  priceImpact,
		Routes:       make([]domain.Route, len(wire.Routes)),
		ExpiresAt:    wire.ExpiresAt,
	}
	if quote.FromChain == "" {
		quote.FromChain = wire.FromChain
	}

	for i, wr := range wire.Routes {
		estGasUSD, _ := strconv.ParseFloat(wr.EstGasUSD, 64)
		route := domain.Route{
			OutputAmount: c.net(wr.OutputAmount),
			EstGasUSD:    estGasUSD,
			Steps:        make([]domain.RouteStep, len(wr.Steps)),
		}
		for j, ws := range wr.Steps {
			route.Steps[j] = domain.RouteStep{
				Type:           domain.StepType(ws.Type),
				Chain:          ws.Chain,
				ToChain:        ws.ToChain,
				Protocol:       ws.Protocol,
				FromToken:      ws.FromToken,
				ToToken:        ws.ToToken,
				AmountIn:       ws.AmountIn,
				ExpectedOut:    ws.ExpectedOut,
				MinOutput:      ws.MinOutput,
				EstGasLimit:    ws.EstGasLimit,
				EstDurationSec: ws.EstDurationSec,
			}
		}
		// The fee comes out of the final delivery, so only the last step's
		// amounts shrink.
		if n := len(route.Steps); n > 0 {
			route.Steps[n-1].ExpectedOut = c.net(route.Steps[n-1].ExpectedOut)
			route.Steps[n-1].MinOutput = c.net(route.Steps[n-1].MinOutput)
		}
		quote.Routes[i] = route
	}

	return quote, nil
}

// SpotPrices implements the price service's live lookup.
// GET /prices?tokens=a,b -> {"prices":{"a":1.23}}
func (c *Client) SpotPrices(ctx context.Context, tokens []string) (map[string]float64, error) {
	params := url.Values{}
	params.Set("tokens", strings.Join(tokens, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/prices?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("provider: build price request: %w", err)
	}

	var wire struct {
		Prices map[string]float64 `json:"prices"`
	}
	if err := c.do(req, &wire); err != nil {
		return nil, err
	}
	if wire.Prices == nil {
		wire.Prices = map[string]float64{}
	}
	return wire.Prices, nil
}

// do executes the request and decodes a JSON body into out. Transport
// failures and 5xx answers map to ErrProviderDown; 4xx answers carry the
// aggregator's message verbatim.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider: %s %s: %v: %w", req.Method, req.URL.Path, err, domain.ErrProviderDown)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("provider: %s %s: status %d: %w",
			req.Method, req.URL.Path, resp.StatusCode, domain.ErrProviderDown)
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("provider: %s %s: status %d: %s",
			req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("provider: decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

// net shaves the platform fee off a base-unit amount string. Amounts that
// do not parse pass through untouched; validation happens downstream.
func (c *Client) net(amount string) string {
	if c.feeBps <= 0 || amount == "" {
		return amount
	}
	gross, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return amount
	}
	net := new(big.Int).Mul(gross, big.NewInt(feeDenominatorBps-c.feeBps))
	net.Quo(net, big.NewInt(feeDenominatorBps))
	return net.String()
}

var _ domain.QuoteProvider = (*Client)(nil)
