package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/omniswap/swapd/internal/domain"
)

// QuoteService defines the methods that the quote handler requires from the
// service layer.
type QuoteService interface {
	RequestQuote(ctx context.Context, fromToken, toToken, amount, chain string) (domain.Quote, error)
	GetQuote(ctx context.Context, id string) (domain.Quote, error)
}

// QuoteHandler serves quote HTTP endpoints.
type QuoteHandler struct {
	quotes QuoteService
	logger *slog.Logger
}

// NewQuoteHandler creates a QuoteHandler with the given service and logger.
func NewQuoteHandler(quotes QuoteService, logger *slog.Logger) *QuoteHandler {
	return &QuoteHandler{
		quotes: quotes,
		logger: logger,
	}
}

type quoteRequest struct {
	FromToken string `json:"from_token"`
	ToToken   string `json:"to_token"`
	Amount    string `json:"amount"`
	Chain     string `json:"chain"`
}

type routeDTO struct {
	ID           string         `json:"id"`
	Steps        []routeStepDTO `json:"steps"`
	OutputAmount string         `json:"output_amount"`
	EstGasUSD    float64        `json:"est_gas_usd,omitempty"`
}

type quoteDTO struct {
	ID           string     `json:"id"`
	FromToken    string     `json:"from_token"`
	ToToken      string     `json:"to_token"`
	FromChain    string     `json:"from_chain"`
	ToChain      string     `json:"to_chain,omitempty"`
	InputAmount  string     `json:"input_amount"`
	OutputAmount string     `json:"output_amount"`
	PriceImpact  float64    `json:"price_impact,omitempty"`
	Routes       []routeDTO `json:"routes"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
}

func toQuoteDTO(q domain.Quote) quoteDTO {
	dto := quoteDTO{
		ID:           q.ID,
		FromToken:    q.FromToken,
		ToToken:      q.ToToken,
		FromChain:    q.FromChain,
		ToChain:      q.ToChain,
		InputAmount:  q.InputAmount,
		OutputAmount: q.OutputAmount,
		PriceImpact:  q.PriceImpact,
		Routes:       make([]routeDTO, len(q.Routes)),
		CreatedAt:    q.CreatedAt,
		ExpiresAt:    q.ExpiresAt,
	}
	for i, route := range q.Routes {
		steps := make([]routeStepDTO, len(route.Steps))
		for j, rs := range route.Steps {
			steps[j] = routeStepDTO{
				Type:           string(rs.Type),
				Chain:          rs.Chain,
				ToChain:        rs.ToChain,
				Protocol:       rs.Protocol,
				FromToken:      rs.FromToken,
				ToToken:        rs.ToToken,
				AmountIn:       rs.AmountIn,
				ExpectedOut:    rs.ExpectedOut,
				MinOutput:      rs.MinOutput,
				EstGasLimit:    rs.EstGasLimit,
				EstDurationSec: rs.EstDurationSec,
			}
		}
		dto.Routes[i] = routeDTO{
			ID:           route.ID,
			Steps:        steps,
			OutputAmount: route.OutputAmount,
			EstGasUSD:    route.EstGasUSD,
		}
	}
	return dto
}

// RequestQuote prices a token pair and returns candidate routes.
// POST /api/quotes
func (h *QuoteHandler) RequestQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body: "+err.Error())
		return
	}

	quote, err := h.quotes.RequestQuote(r.Context(), req.FromToken, req.ToToken, req.Amount, req.Chain)
	if err != nil {
		writeServiceError(w, r, h.logger, err, codeQuoteNotFound)
		return
	}
	writeData(w, http.StatusCreated, toQuoteDTO(quote))
}

// GetQuote returns a previously issued quote.
// GET /api/quotes/{id}
func (h *QuoteHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	quote, err := h.quotes.GetQuote(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, codeQuoteNotFound)
		return
	}
	writeData(w, http.StatusOK, toQuoteDTO(quote))
}
