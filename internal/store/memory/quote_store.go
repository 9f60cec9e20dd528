package memory

import (
	"context"
	"sync"
	"time"

	"github.com/omniswap/swapd/internal/domain"
)

// QuoteStore is an in-memory implementation of domain.QuoteStore.
type QuoteStore struct {
	mu     sync.RWMutex
	quotes map[string]*domain.Quote
}

// NewQuoteStore creates a new in-memory quote store.
func NewQuoteStore() *QuoteStore {
	return &QuoteStore{quotes: make(map[string]*domain.Quote)}
}

func cloneQuote(q domain.Quote) domain.Quote {
	out := q
	out.Routes = make([]domain.Route, len(q.Routes))
	for i, r := range q.Routes {
		route := r
		route.Steps = append([]domain.RouteStep(nil), r.Steps...)
		out.Routes[i] = route
	}
	return out
}

// Create adds a quote.
func (s *QuoteStore) Create(_ context.Context, quote domain.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.quotes[quote.ID]; exists {
		return domain.ErrAlreadyExists
	}
	stored := cloneQuote(quote)
	s.quotes[quote.ID] = &stored
	return nil
}

// GetByID returns a copy of the quote, including expired ones.
func (s *QuoteStore) GetByID(_ context.Context, id string) (domain.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	quote, ok := s.quotes[id]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	return cloneQuote(*quote), nil
}

// DeleteExpiredBefore removes quotes that expired before the cutoff.
func (s *QuoteStore) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, quote := range s.quotes {
		if quote.ExpiresAt.Before(cutoff) {
			delete(s.quotes, id)
			deleted++
		}
	}
	return deleted, nil
}

// Compile-time interface check.
var _ domain.QuoteStore = (*QuoteStore)(nil)
