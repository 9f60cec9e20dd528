package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/omniswap/swapd/internal/domain"
)

// TriggerStore is an in-memory implementation of domain.TriggerStore.
type TriggerStore struct {
	mu    sync.RWMutex
	conds map[string]*domain.TriggerCondition
}

// NewTriggerStore creates a new in-memory trigger store.
func NewTriggerStore() *TriggerStore {
	return &TriggerStore{conds: make(map[string]*domain.TriggerCondition)}
}

func cloneTrigger(c domain.TriggerCondition) domain.TriggerCondition {
	out := c
	out.NextRunAt = cloneTime(c.NextRunAt)
	out.FiredAt = cloneTime(c.FiredAt)
	out.LastCheckedAt = cloneTime(c.LastCheckedAt)
	return out
}

// Create adds a trigger condition.
func (s *TriggerStore) Create(_ context.Context, cond domain.TriggerCondition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conds[cond.ID]; exists {
		return domain.ErrAlreadyExists
	}
	stored := cloneTrigger(cond)
	s.conds[cond.ID] = &stored
	return nil
}

// GetByID returns a copy of the condition.
func (s *TriggerStore) GetByID(_ context.Context, id string) (domain.TriggerCondition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cond, ok := s.conds[id]
	if !ok {
		return domain.TriggerCondition{}, domain.ErrNotFound
	}
	return cloneTrigger(*cond), nil
}

// ListActive returns active conditions of the given kind in creation order.
func (s *TriggerStore) ListActive(_ context.Context, kind domain.TriggerKind, opts domain.ListOpts) ([]domain.TriggerCondition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.TriggerCondition
	for _, cond := range s.conds {
		if cond.Active && cond.Kind == kind {
			result = append(result, cloneTrigger(*cond))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	return paginate(result, opts.Limit, opts.Offset), nil
}

// ListByUser returns a user's conditions, newest first.
func (s *TriggerStore) ListByUser(_ context.Context, userAddress string, opts domain.ListOpts) ([]domain.TriggerCondition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.TriggerCondition
	for _, cond := range s.conds {
		if cond.UserAddress == userAddress {
			result = append(result, cloneTrigger(*cond))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	return paginate(result, opts.Limit, opts.Offset), nil
}

// Deactivate turns a condition off.
func (s *TriggerStore) Deactivate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cond, ok := s.conds[id]
	if !ok {
		return domain.ErrNotFound
	}
	cond.Active = false
	return nil
}

// MarkFired deactivates a one-shot condition; only an active one can fire.
func (s *TriggerStore) MarkFired(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cond, ok := s.conds[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !cond.Active {
		return domain.ErrConflict
	}
	cond.Active = false
	cond.FiredAt = &at
	return nil
}

// MarkExecuted advances the execution counter from its expected value.
func (s *TriggerStore) MarkExecuted(_ context.Context, id string, fromExecution int, nextRunAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cond, ok := s.conds[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !cond.Active || cond.ExecutionNumber != fromExecution {
		return domain.ErrConflict
	}
	now := time.Now()
	cond.ExecutionNumber = fromExecution + 1
	cond.NextRunAt = &nextRunAt
	cond.FiredAt = &now
	return nil
}

// TouchChecked stamps last_checked_at on a batch of conditions.
func (s *TriggerStore) TouchChecked(_ context.Context, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if cond, ok := s.conds[id]; ok {
			t := at
			cond.LastCheckedAt = &t
		}
	}
	return nil
}

// Compile-time interface check.
var _ domain.TriggerStore = (*TriggerStore)(nil)
