package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/omniswap/swapd/internal/domain"
)

func newTestSwap(id string) domain.Swap {
	return domain.Swap{
		ID:          id,
		UserAddress: "0xabc",
		Route: []domain.RouteStep{
			{Type: domain.StepTypeSwap, Chain: "ethereum", FromToken: "ETH", ToToken: "USDC"},
			{Type: domain.StepTypeSwap, Chain: "polygon", FromToken: "USDC", ToToken: "WMATIC"},
		},
		Steps: []domain.SwapStepExecution{
			{StepIndex: 0, Status: domain.StepStatusPending},
			{StepIndex: 1, Status: domain.StepStatusPending},
		},
		Status:    domain.SwapStatusPending,
		CreatedAt: time.Now(),
	}
}

func TestSwapStore_UpdateStatusConflict(t *testing.T) {
	store := NewSwapStore()
	ctx := context.Background()

	if err := store.Create(ctx, newTestSwap("s1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := store.UpdateStatus(ctx, "s1", domain.SwapStatusPending, domain.SwapStatusConfirming); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	err := store.UpdateStatus(ctx, "s1", domain.SwapStatusPending, domain.SwapStatusConfirming)
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Expected ErrConflict, got %v", err)
	}

	err = store.UpdateStatus(ctx, "missing", domain.SwapStatusPending, domain.SwapStatusConfirming)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSwapStore_TerminalGuard(t *testing.T) {
	store := NewSwapStore()
	ctx := context.Background()

	if err := store.Create(ctx, newTestSwap("s1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Fail(ctx, "s1", "boom"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	if err := store.Complete(ctx, "s1", "1", "0"); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Complete after Fail: expected ErrConflict, got %v", err)
	}
	if err := store.AdvanceStep(ctx, "s1", 0, domain.SwapStatusProcessing); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("AdvanceStep after Fail: expected ErrConflict, got %v", err)
	}

	got, err := store.GetByID(ctx, "s1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != domain.SwapStatusFailed {
		t.Errorf("Status = %s, want failed", got.Status)
	}
	if got.Error != "boom" {
		t.Errorf("Error = %q, want boom", got.Error)
	}
}

func TestSwapStore_StepOrdering(t *testing.T) {
	store := NewSwapStore()
	ctx := context.Background()

	if err := store.Create(ctx, newTestSwap("s1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// confirming before submitted must be rejected
	if err := store.MarkStepConfirming(ctx, "s1", 0); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Expected ErrConflict, got %v", err)
	}

	if err := store.MarkStepSubmitted(ctx, "s1", 0, "0xhash"); err != nil {
		t.Fatalf("MarkStepSubmitted failed: %v", err)
	}
	if err := store.MarkStepSubmitted(ctx, "s1", 0, "0xother"); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Double submit: expected ErrConflict, got %v", err)
	}

	if err := store.MarkStepConfirmed(ctx, "s1", 0, 42, "99.5"); err != nil {
		t.Fatalf("MarkStepConfirmed failed: %v", err)
	}
	if err := store.MarkStepFailed(ctx, "s1", 0, "late"); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Fail after confirm: expected ErrConflict, got %v", err)
	}

	got, _ := store.GetByID(ctx, "s1")
	if got.Steps[0].Status != domain.StepStatusConfirmed {
		t.Errorf("Step status = %s, want confirmed", got.Steps[0].Status)
	}
	if got.Steps[0].BlockNumber != 42 {
		t.Errorf("BlockNumber = %d, want 42", got.Steps[0].BlockNumber)
	}
}

func TestSwapStore_ListByUserNewestFirst(t *testing.T) {
	store := NewSwapStore()
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"s1", "s2", "s3"} {
		swap := newTestSwap(id)
		swap.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := store.Create(ctx, swap); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	other := newTestSwap("other")
	other.UserAddress = "0xdef"
	if err := store.Create(ctx, other); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	list, err := store.ListByUser(ctx, "0xabc", domain.ListOpts{Limit: 2})
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("Expected 2 swaps, got %d", len(list))
	}
	if list[0].ID != "s3" || list[1].ID != "s2" {
		t.Errorf("Wrong order: got %s, %s", list[0].ID, list[1].ID)
	}
}

func TestSwapStore_CopyIsolation(t *testing.T) {
	store := NewSwapStore()
	ctx := context.Background()

	if err := store.Create(ctx, newTestSwap("s1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, _ := store.GetByID(ctx, "s1")
	got.Steps[0].Status = domain.StepStatusFailed
	got.Route[0].FromToken = "mutated"

	again, _ := store.GetByID(ctx, "s1")
	if again.Steps[0].Status != domain.StepStatusPending {
		t.Errorf("Stored step mutated through returned copy")
	}
	if again.Route[0].FromToken != "ETH" {
		t.Errorf("Stored route mutated through returned copy")
	}
}
