package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omniswap/swapd/internal/domain"
)

// QuoteStore implements domain.QuoteStore using PostgreSQL.
type QuoteStore struct {
	pool *pgxpool.Pool
}

// NewQuoteStore creates a new QuoteStore backed by the given connection pool.
func NewQuoteStore(pool *pgxpool.Pool) *QuoteStore {
	return &QuoteStore{pool: pool}
}

// Create inserts a quote with its candidate routes stored as JSONB.
func (s *QuoteStore) Create(ctx context.Context, quote domain.Quote) error {
	routes, err := json.Marshal(quote.Routes)
	if err != nil {
		return fmt.Errorf("postgres: marshal routes: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO quotes (id, from_token, to_token, from_chain, to_chain, input_amount, output_amount, price_impact, routes, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		quote.ID, quote.FromToken, quote.ToToken, quote.FromChain, quote.ToChain,
		quote.InputAmount, quote.OutputAmount, quote.PriceImpact, routes,
		quote.CreatedAt, quote.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert quote: %w", err)
	}
	return nil
}

// GetByID returns a quote by id, including expired ones. Expiry is the
// caller's check so it can report QuoteExpired instead of not-found.
func (s *QuoteStore) GetByID(ctx context.Context, id string) (domain.Quote, error) {
	var quote domain.Quote
	var routesJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, from_token, to_token, from_chain, to_chain, input_amount, output_amount, price_impact, routes, created_at, expires_at
		FROM quotes WHERE id = $1`,
		id,
	).Scan(&quote.ID, &quote.FromToken, &quote.ToToken, &quote.FromChain, &quote.ToChain,
		&quote.InputAmount, &quote.OutputAmount, &quote.PriceImpact, &routesJSON,
		&quote.CreatedAt, &quote.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Quote{}, domain.ErrNotFound
		}
		return domain.Quote{}, fmt.Errorf("postgres: get quote %s: %w", id, err)
	}
	if err := json.Unmarshal(routesJSON, &quote.Routes); err != nil {
		return domain.Quote{}, fmt.Errorf("postgres: unmarshal routes: %w", err)
	}
	return quote, nil
}

// DeleteExpiredBefore removes quotes whose validity window ended before the
// cutoff and returns the number deleted.
func (s *QuoteStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM quotes WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete expired quotes: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.QuoteStore = (*QuoteStore)(nil)
