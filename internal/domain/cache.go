package domain

import (
	"context"
	"time"
)

// PriceCache is a read-through cache of last-known token prices in USD.
// Entries expire; a stale read returns ErrNotFound.
type PriceCache interface {
	SetPrice(ctx context.Context, token string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, token string) (float64, time.Time, error)
	// GetPrices batches lookups for one evaluation pass; missing tokens are
	// absent from the result, not an error.
	GetPrices(ctx context.Context, tokens []string) (map[string]float64, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is a single entry read back from the event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus provides pub/sub fan-out and a durable event stream.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// PriceSource answers batched spot-price lookups. Implementations sit in
// front of external aggregators; the cache-backed source degrades to the
// last cached price when the provider is down.
type PriceSource interface {
	Prices(ctx context.Context, tokens []string) (map[string]float64, error)
}

// QuoteProvider returns a best-effort quote for a token pair and amount.
// Concrete aggregator clients live outside the core.
type QuoteProvider interface {
	GetQuote(ctx context.Context, fromToken, toToken, amount, chain string) (Quote, error)
}
