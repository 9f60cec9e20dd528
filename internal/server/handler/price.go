package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// PriceService defines the methods that the price handler requires from the
// service layer.
type PriceService interface {
	Prices(ctx context.Context, tokens []string) (map[string]float64, error)
	GetPrice(ctx context.Context, token string) (float64, time.Time, error)
}

// PriceHandler serves spot price HTTP endpoints.
type PriceHandler struct {
	prices PriceService
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler with the given service and logger.
func NewPriceHandler(prices PriceService, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{
		prices: prices,
		logger: logger,
	}
}

// ListPrices returns spot prices for a comma-separated token list. Tokens
// with no known price are absent from the result.
// GET /api/prices?tokens=0xaaa,0xbbb
func (h *PriceHandler) ListPrices(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("tokens")
	var tokens []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tokens = append(tokens, t)
		}
	}
	if len(tokens) == 0 {
		writeError(w, http.StatusBadRequest, codeValidation, "tokens query parameter required")
		return
	}

	prices, err := h.prices.Prices(r.Context(), tokens)
	if err != nil {
		writeServiceError(w, r, h.logger, err, codeInternal)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"prices": prices})
}

// GetPrice returns the latest price and observation time for one token.
// GET /api/prices/{token}
func (h *PriceHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	token := pathParam(r, "token")
	price, ts, err := h.prices.GetPrice(r.Context(), token)
	if err != nil {
		writeServiceError(w, r, h.logger, err, codePriceNotFound)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"token":      token,
		"price":      price,
		"updated_at": ts.UTC(),
	})
}
