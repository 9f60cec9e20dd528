// Package memory implements the domain store interfaces in process memory.
// It mirrors the conditional-update semantics of the postgres package so
// services can be tested without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/omniswap/swapd/internal/domain"
)

// SwapStore is an in-memory implementation of domain.SwapStore.
type SwapStore struct {
	mu    sync.RWMutex
	swaps map[string]*domain.Swap
}

// NewSwapStore creates a new in-memory swap store.
func NewSwapStore() *SwapStore {
	return &SwapStore{swaps: make(map[string]*domain.Swap)}
}

func cloneSwap(s domain.Swap) domain.Swap {
	out := s
	out.Route = append([]domain.RouteStep(nil), s.Route...)
	out.Steps = make([]domain.SwapStepExecution, len(s.Steps))
	for i, step := range s.Steps {
		out.Steps[i] = cloneStep(step)
	}
	out.StartedAt = cloneTime(s.StartedAt)
	out.CompletedAt = cloneTime(s.CompletedAt)
	return out
}

func cloneStep(s domain.SwapStepExecution) domain.SwapStepExecution {
	out := s
	out.StartedAt = cloneTime(s.StartedAt)
	out.CompletedAt = cloneTime(s.CompletedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Create adds a swap with its step records.
func (s *SwapStore) Create(_ context.Context, swap domain.Swap) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.swaps[swap.ID]; exists {
		return domain.ErrAlreadyExists
	}
	stored := cloneSwap(swap)
	s.swaps[swap.ID] = &stored
	return nil
}

// GetByID returns a copy of the swap with its steps.
func (s *SwapStore) GetByID(_ context.Context, id string) (domain.Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	swap, ok := s.swaps[id]
	if !ok {
		return domain.Swap{}, domain.ErrNotFound
	}
	return cloneSwap(*swap), nil
}

// ListByUser returns a user's swaps, newest first.
func (s *SwapStore) ListByUser(_ context.Context, userAddress string, opts domain.ListOpts) ([]domain.Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Swap
	for _, swap := range s.swaps {
		if swap.UserAddress != userAddress {
			continue
		}
		if opts.Since != nil && swap.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && swap.CreatedAt.After(*opts.Until) {
			continue
		}
		result = append(result, cloneSwap(*swap))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	return paginate(result, opts.Limit, opts.Offset), nil
}

// ListTerminalBefore returns terminal swaps completed before the cutoff,
// oldest first.
func (s *SwapStore) ListTerminalBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.Swap, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Swap
	for _, swap := range s.swaps {
		if !swap.Terminal() || swap.CompletedAt == nil || !swap.CompletedAt.Before(cutoff) {
			continue
		}
		result = append(result, cloneSwap(*swap))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CompletedAt.Before(*result[j].CompletedAt)
	})

	return paginate(result, limit, 0), nil
}

// UpdateStatus transitions the swap from one status to another.
func (s *SwapStore) UpdateStatus(_ context.Context, id string, from, to domain.SwapStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	swap, ok := s.swaps[id]
	if !ok {
		return domain.ErrNotFound
	}
	if swap.Status != from {
		return domain.ErrConflict
	}
	swap.Status = to
	if swap.StartedAt == nil {
		now := time.Now()
		swap.StartedAt = &now
	}
	return nil
}

// AdvanceStep moves the step cursor forward and applies the phase status.
func (s *SwapStore) AdvanceStep(_ context.Context, id string, fromIndex int, status domain.SwapStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	swap, ok := s.swaps[id]
	if !ok {
		return domain.ErrNotFound
	}
	if swap.Terminal() || swap.CurrentStepIndex != fromIndex {
		return domain.ErrConflict
	}
	swap.CurrentStepIndex = fromIndex + 1
	swap.Status = status
	return nil
}

// Complete marks the swap completed.
func (s *SwapStore) Complete(_ context.Context, id string, actualOutput string, gasCost string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	swap, ok := s.swaps[id]
	if !ok {
		return domain.ErrNotFound
	}
	if swap.Terminal() {
		return domain.ErrConflict
	}
	now := time.Now()
	swap.Status = domain.SwapStatusCompleted
	swap.ActualOutput = actualOutput
	swap.GasCost = gasCost
	swap.CompletedAt = &now
	return nil
}

// Fail marks the swap failed with a reason.
func (s *SwapStore) Fail(_ context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	swap, ok := s.swaps[id]
	if !ok {
		return domain.ErrNotFound
	}
	if swap.Terminal() {
		return domain.ErrConflict
	}
	now := time.Now()
	swap.Status = domain.SwapStatusFailed
	swap.Error = reason
	swap.CompletedAt = &now
	return nil
}

// MarkStepSubmitted records the broadcast tx hash on a pending step.
func (s *SwapStore) MarkStepSubmitted(_ context.Context, swapID string, stepIndex int, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	step, err := s.findStep(swapID, stepIndex)
	if err != nil {
		return err
	}
	if step.Status != domain.StepStatusPending {
		return domain.ErrConflict
	}
	now := time.Now()
	step.Status = domain.StepStatusSubmitted
	step.TxHash = txHash
	if step.StartedAt == nil {
		step.StartedAt = &now
	}
	return nil
}

// MarkStepConfirming moves a submitted step into the confirming state.
func (s *SwapStore) MarkStepConfirming(_ context.Context, swapID string, stepIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	step, err := s.findStep(swapID, stepIndex)
	if err != nil {
		return err
	}
	if step.Status != domain.StepStatusSubmitted {
		return domain.ErrConflict
	}
	step.Status = domain.StepStatusConfirming
	return nil
}

// MarkStepConfirmed finalizes a submitted or confirming step.
func (s *SwapStore) MarkStepConfirmed(_ context.Context, swapID string, stepIndex int, blockNumber int64, actualOutput string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	step, err := s.findStep(swapID, stepIndex)
	if err != nil {
		return err
	}
	if step.Status != domain.StepStatusSubmitted && step.Status != domain.StepStatusConfirming {
		return domain.ErrConflict
	}
	now := time.Now()
	step.Status = domain.StepStatusConfirmed
	step.BlockNumber = blockNumber
	step.ActualOutput = actualOutput
	step.CompletedAt = &now
	return nil
}

// MarkStepFailed terminates a non-terminal step with a reason.
func (s *SwapStore) MarkStepFailed(_ context.Context, swapID string, stepIndex int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	step, err := s.findStep(swapID, stepIndex)
	if err != nil {
		return err
	}
	if step.Status == domain.StepStatusConfirmed || step.Status == domain.StepStatusFailed {
		return domain.ErrConflict
	}
	now := time.Now()
	step.Status = domain.StepStatusFailed
	step.Error = reason
	step.CompletedAt = &now
	return nil
}

// findStep returns a pointer into the stored swap. Callers hold the lock.
func (s *SwapStore) findStep(swapID string, stepIndex int) (*domain.SwapStepExecution, error) {
	swap, ok := s.swaps[swapID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	for i := range swap.Steps {
		if swap.Steps[i].StepIndex == stepIndex {
			return &swap.Steps[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// Compile-time interface check.
var _ domain.SwapStore = (*SwapStore)(nil)
