package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/omniswap/swapd/internal/domain"
)

type fakePriceService struct {
	prices map[string]float64
	price  float64
	ts     time.Time
	err    error

	gotTokens []string
}

func (f *fakePriceService) Prices(_ context.Context, tokens []string) (map[string]float64, error) {
	f.gotTokens = tokens
	return f.prices, f.err
}

func (f *fakePriceService) GetPrice(_ context.Context, _ string) (float64, time.Time, error) {
	return f.price, f.ts, f.err
}

func priceMux(svc PriceService) *http.ServeMux {
	h := NewPriceHandler(svc, discardLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/prices", h.ListPrices)
	mux.HandleFunc("GET /api/prices/{token}", h.GetPrice)
	return mux
}

func TestListPricesSplitsTokens(t *testing.T) {
	svc := &fakePriceService{prices: map[string]float64{"0xaaa": 1.5, "0xbbb": 2.25}}
	mux := priceMux(svc)

	status, env := do(t, mux, http.MethodGet, "/api/prices?tokens=0xaaa,%200xbbb,", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if len(svc.gotTokens) != 2 || svc.gotTokens[1] != "0xbbb" {
		t.Fatalf("tokens = %v", svc.gotTokens)
	}

	var payload struct {
		Prices map[string]float64 `json:"prices"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode prices: %v", err)
	}
	if payload.Prices["0xaaa"] != 1.5 {
		t.Fatalf("prices = %v", payload.Prices)
	}
}

func TestListPricesRequiresTokens(t *testing.T) {
	mux := priceMux(&fakePriceService{})

	status, env := do(t, mux, http.MethodGet, "/api/prices?tokens=,%20", "")
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	wantErrorCode(t, env, "VALIDATION_ERROR")
}

func TestGetPriceNotFound(t *testing.T) {
	mux := priceMux(&fakePriceService{err: domain.ErrNotFound})

	status, env := do(t, mux, http.MethodGet, "/api/prices/0xmissing", "")
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
	wantErrorCode(t, env, "PRICE_NOT_FOUND")
}

func TestGetPriceReturnsObservation(t *testing.T) {
	ts := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	mux := priceMux(&fakePriceService{price: 2510.75, ts: ts})

	status, env := do(t, mux, http.MethodGet, "/api/prices/0xeth", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}

	var payload struct {
		Token     string    `json:"token"`
		Price     float64   `json:"price"`
		UpdatedAt time.Time `json:"updated_at"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Token != "0xeth" || payload.Price != 2510.75 || !payload.UpdatedAt.Equal(ts) {
		t.Fatalf("payload = %+v", payload)
	}
}
