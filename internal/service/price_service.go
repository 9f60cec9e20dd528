package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/omniswap/swapd/internal/domain"
)

// SpotPricer answers live spot-price lookups. Implementations wrap external
// aggregator APIs.
type SpotPricer interface {
	SpotPrices(ctx context.Context, tokens []string) (map[string]float64, error)
}

// PriceService is the price source the trigger workers evaluate against.
// Live provider reads refresh the cache; when the provider is down the
// last cached price is served instead of failing the check cycle.
type PriceService struct {
	cache    domain.PriceCache
	provider SpotPricer
	bus      domain.EventBus
	logger   *slog.Logger
}

// NewPriceService creates a PriceService with all required dependencies.
// provider may be nil, leaving the cache (kept warm by the price feed) as
// the only source.
func NewPriceService(cache domain.PriceCache, provider SpotPricer, bus domain.EventBus, logger *slog.Logger) *PriceService {
	return &PriceService{
		cache:    cache,
		provider: provider,
		bus:      bus,
		logger:   logger,
	}
}

// Prices returns spot prices for the given tokens. Tokens with no price
// from any source are absent from the result.
func (s *PriceService) Prices(ctx context.Context, tokens []string) (map[string]float64, error) {
	if len(tokens) == 0 {
		return map[string]float64{}, nil
	}

	if s.provider != nil {
		live, err := s.provider.SpotPrices(ctx, tokens)
		if err == nil {
			now := time.Now().UTC()
			for token, price := range live {
				if cacheErr := s.cache.SetPrice(ctx, token, price, now); cacheErr != nil {
					s.logger.WarnContext(ctx, "price_service: cache refresh failed",
						slog.String("token", token),
						slog.String("error", cacheErr.Error()),
					)
				}
			}
			return live, nil
		}
		s.logger.WarnContext(ctx, "price_service: provider unavailable, serving cached prices",
			slog.Int("tokens", len(tokens)),
			slog.String("error", err.Error()),
		)
	}

	cached, err := s.cache.GetPrices(ctx, tokens)
	if err != nil {
		return nil, fmt.Errorf("price_service: cached prices: %w", err)
	}
	return cached, nil
}

// HandleTick processes one price observation from the feed: the cache entry
// refreshes and a tick event goes out for subscribers.
func (s *PriceService) HandleTick(ctx context.Context, token string, price float64, ts time.Time) error {
	if err := s.cache.SetPrice(ctx, token, price, ts); err != nil {
		return fmt.Errorf("price_service: set price for %q: %w", token, err)
	}

	evt, _ := json.Marshal(map[string]any{
		"event":     "price_tick",
		"token":     token,
		"price":     price,
		"timestamp": ts.Format(time.RFC3339Nano),
	})
	if pubErr := s.bus.Publish(ctx, domain.ChannelPrices, evt); pubErr != nil {
		s.logger.WarnContext(ctx, "price_service: publish tick failed",
			slog.String("token", token),
			slog.String("error", pubErr.Error()),
		)
	}
	return nil
}

// GetPrice returns the latest cached price and its timestamp for one token.
func (s *PriceService) GetPrice(ctx context.Context, token string) (float64, time.Time, error) {
	price, ts, err := s.cache.GetPrice(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, time.Time{}, fmt.Errorf("price_service: no price for %q: %w", token, err)
		}
		return 0, time.Time{}, fmt.Errorf("price_service: get price for %q: %w", token, err)
	}
	return price, ts, nil
}

// Trigger check cycles read prices through this service.
var _ domain.PriceSource = (*PriceService)(nil)
