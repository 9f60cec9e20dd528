package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// QuoteStore persists time-bounded quotes.
type QuoteStore interface {
	Create(ctx context.Context, quote Quote) error
	GetByID(ctx context.Context, id string) (Quote, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SwapStore persists swaps and their step records. All state transitions
// are conditional updates keyed on the expected prior state and return
// ErrConflict when the precondition no longer holds.
type SwapStore interface {
	// Create writes the swap and all step rows in one transaction.
	Create(ctx context.Context, swap Swap) error
	GetByID(ctx context.Context, id string) (Swap, error)
	ListByUser(ctx context.Context, userAddress string, opts ListOpts) ([]Swap, error)
	ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]Swap, error)

	// UpdateStatus transitions status from -> to.
	UpdateStatus(ctx context.Context, id string, from, to SwapStatus) error
	// AdvanceStep moves currentStepIndex from fromIndex to fromIndex+1 and
	// sets the given status, only while the swap is non-terminal.
	AdvanceStep(ctx context.Context, id string, fromIndex int, status SwapStatus) error
	// Complete marks the swap completed with its final output.
	Complete(ctx context.Context, id string, actualOutput string, gasCost string) error
	// Fail marks the swap failed with a reason, from any non-terminal state.
	Fail(ctx context.Context, id string, reason string) error

	MarkStepSubmitted(ctx context.Context, swapID string, stepIndex int, txHash string) error
	MarkStepConfirming(ctx context.Context, swapID string, stepIndex int) error
	MarkStepConfirmed(ctx context.Context, swapID string, stepIndex int, blockNumber int64, actualOutput string) error
	MarkStepFailed(ctx context.Context, swapID string, stepIndex int, reason string) error
}

// TriggerStore persists standing trigger conditions. MarkFired and
// MarkExecuted are conditional so two racing check cycles produce exactly
// one fire.
type TriggerStore interface {
	Create(ctx context.Context, cond TriggerCondition) error
	GetByID(ctx context.Context, id string) (TriggerCondition, error)
	ListActive(ctx context.Context, kind TriggerKind, opts ListOpts) ([]TriggerCondition, error)
	ListByUser(ctx context.Context, userAddress string, opts ListOpts) ([]TriggerCondition, error)
	// Deactivate turns a condition off at the user's request.
	Deactivate(ctx context.Context, id string) error
	// MarkFired deactivates a one-shot condition; ErrConflict if it already
	// fired or was cancelled.
	MarkFired(ctx context.Context, id string, at time.Time) error
	// MarkExecuted increments executionNumber from its expected value and
	// advances the schedule; ErrConflict if another cycle got there first.
	MarkExecuted(ctx context.Context, id string, fromExecution int, nextRunAt time.Time) error
	TouchChecked(ctx context.Context, ids []string, at time.Time) error
}

// SwapEventStore persists the append-only swap transition log.
type SwapEventStore interface {
	Log(ctx context.Context, swapID string, eventType string, detail map[string]any) error
	ListBySwap(ctx context.Context, swapID string, opts ListOpts) ([]SwapEvent, error)
	ListBefore(ctx context.Context, cutoff time.Time, opts ListOpts) ([]SwapEvent, error)
}

// CredentialStore persists encrypted exchange credentials.
type CredentialStore interface {
	Put(ctx context.Context, creds EncryptedCredentials) error
	Get(ctx context.Context, userAddress, exchange string) (EncryptedCredentials, error)
	Delete(ctx context.Context, userAddress, exchange string) error
}
