package memory

import (
	"context"
	"sync"
	"time"

	"github.com/omniswap/swapd/internal/domain"
)

// SwapEventStore is an in-memory implementation of domain.SwapEventStore.
type SwapEventStore struct {
	mu     sync.RWMutex
	events []domain.SwapEvent
	nextID int64
}

// NewSwapEventStore creates a new in-memory swap event store.
func NewSwapEventStore() *SwapEventStore {
	return &SwapEventStore{nextID: 1}
}

func cloneDetail(detail map[string]any) map[string]any {
	if detail == nil {
		return nil
	}
	out := make(map[string]any, len(detail))
	for k, v := range detail {
		out[k] = v
	}
	return out
}

// Log appends a transition event.
func (s *SwapEventStore) Log(_ context.Context, swapID string, eventType string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, domain.SwapEvent{
		ID:        s.nextID,
		SwapID:    swapID,
		Type:      eventType,
		Detail:    cloneDetail(detail),
		CreatedAt: time.Now(),
	})
	s.nextID++
	return nil
}

// ListBySwap returns a swap's events in insertion order.
func (s *SwapEventStore) ListBySwap(_ context.Context, swapID string, opts domain.ListOpts) ([]domain.SwapEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.SwapEvent
	for _, e := range s.events {
		if e.SwapID == swapID {
			e.Detail = cloneDetail(e.Detail)
			result = append(result, e)
		}
	}
	return paginate(result, opts.Limit, opts.Offset), nil
}

// ListBefore returns events created before the cutoff in insertion order.
func (s *SwapEventStore) ListBefore(_ context.Context, cutoff time.Time, opts domain.ListOpts) ([]domain.SwapEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.SwapEvent
	for _, e := range s.events {
		if e.CreatedAt.Before(cutoff) {
			e.Detail = cloneDetail(e.Detail)
			result = append(result, e)
		}
	}
	return paginate(result, opts.Limit, opts.Offset), nil
}

// Compile-time interface check.
var _ domain.SwapEventStore = (*SwapEventStore)(nil)
