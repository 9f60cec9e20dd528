package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/omniswap/swapd/internal/domain"
)

// quoteTTL is the validity window applied when the provider does not set
// its own expiry.
const quoteTTL = 30 * time.Second

// QuoteService fronts the external quote provider and persists every quote
// it hands out, so swap creation can check the validity window later.
type QuoteService struct {
	provider domain.QuoteProvider
	quotes   domain.QuoteStore
	ttl      time.Duration
	logger   *slog.Logger
}

// NewQuoteService creates a QuoteService with all required dependencies.
func NewQuoteService(provider domain.QuoteProvider, quotes domain.QuoteStore, logger *slog.Logger) *QuoteService {
	return &QuoteService{
		provider: provider,
		quotes:   quotes,
		ttl:      quoteTTL,
		logger:   logger,
	}
}

// WithTTL overrides the fallback validity window.
func (s *QuoteService) WithTTL(d time.Duration) *QuoteService {
	if d > 0 {
		s.ttl = d
	}
	return s
}

// RequestQuote fetches a quote from the provider, stamps identity and
// expiry where the provider left them blank, and persists it.
func (s *QuoteService) RequestQuote(ctx context.Context, fromToken, toToken, amount, chain string) (domain.Quote, error) {
	if fromToken == "" || toToken == "" || chain == "" {
		return domain.Quote{}, fmt.Errorf("quote_service: token pair and chain required: %w", domain.ErrValidation)
	}
	n, ok := new(big.Int).SetString(amount, 10)
	if !ok || n.Sign() <= 0 {
		return domain.Quote{}, fmt.Errorf("quote_service: amount %q must be a positive base-unit integer: %w",
			amount, domain.ErrValidation)
	}

	quote, err := s.provider.GetQuote(ctx, fromToken, toToken, amount, chain)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("quote_service: provider quote %s->%s on %s: %w",
			fromToken, toToken, chain, err)
	}

	now := time.Now().UTC()
	if quote.ID == "" {
		quote.ID = uuid.New().String()
	}
	if quote.CreatedAt.IsZero() {
		quote.CreatedAt = now
	}
	if quote.ExpiresAt.IsZero() {
		quote.ExpiresAt = now.Add(s.ttl)
	}
	for i := range quote.Routes {
		if quote.Routes[i].ID == "" {
			quote.Routes[i].ID = fmt.Sprintf("%s-r%d", quote.ID, i)
		}
	}

	if err := s.quotes.Create(ctx, quote); err != nil {
		return domain.Quote{}, fmt.Errorf("quote_service: persist quote %q: %w", quote.ID, err)
	}

	s.logger.InfoContext(ctx, "quote_service: quote issued",
		slog.String("quote_id", quote.ID),
		slog.String("pair", fromToken+"/"+toToken),
		slog.String("chain", chain),
		slog.Int("routes", len(quote.Routes)),
		slog.Time("expires_at", quote.ExpiresAt),
	)
	return quote, nil
}

// GetQuote returns a previously issued quote.
func (s *QuoteService) GetQuote(ctx context.Context, id string) (domain.Quote, error) {
	quote, err := s.quotes.GetByID(ctx, id)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("quote_service: get quote %q: %w", id, err)
	}
	return quote, nil
}

// Triggered swaps obtain their quotes through this service.
var _ QuoteRequester = (*QuoteService)(nil)
