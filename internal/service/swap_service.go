package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/omniswap/swapd/internal/crypto"
	"github.com/omniswap/swapd/internal/domain"
	"github.com/omniswap/swapd/internal/monitor"
	"github.com/omniswap/swapd/internal/observability"
)

// defaultPageSize bounds list queries when the caller does not ask for a
// specific page size.
const defaultPageSize = 20

// StepExecutor builds unsigned step transactions and broadcasts signed ones.
type StepExecutor interface {
	BuildTransaction(ctx context.Context, swap domain.Swap, stepIndex int) (domain.StepTransaction, error)
	Submit(ctx context.Context, swap domain.Swap, stepIndex int, signedTx string) (domain.SubmitResult, error)
}

// QuoteRequester obtains a fresh persisted quote for a token pair, used when
// a fired trigger needs a swap without a client in the loop.
type QuoteRequester interface {
	RequestQuote(ctx context.Context, fromToken, toToken, amount, chain string) (domain.Quote, error)
}

// CreateSwapRequest carries everything needed to open a swap from a quote.
// Credentials are optional and only meaningful for routes with CEX steps.
type CreateSwapRequest struct {
	QuoteID     string
	RouteID     string
	UserAddress string
	TenantID    string
	Credentials *domain.CEXCredentials
}

func (r CreateSwapRequest) validate() error {
	switch {
	case r.QuoteID == "":
		return fmt.Errorf("swap_service: quote id required: %w", domain.ErrValidation)
	case r.RouteID == "":
		return fmt.Errorf("swap_service: route id required: %w", domain.ErrValidation)
	case r.UserAddress == "":
		return fmt.Errorf("swap_service: user address required: %w", domain.ErrValidation)
	}
	if r.Credentials != nil {
		if r.Credentials.Exchange == "" || r.Credentials.APIKey == "" || r.Credentials.APISecret == "" {
			return fmt.Errorf("swap_service: incomplete exchange credentials: %w", domain.ErrValidation)
		}
	}
	return nil
}

// SwapService owns the swap lifecycle: creation from a quote, step
// execution, and the confirmation callbacks that drive the state machine
// forward. All state transitions go through conditional store updates so
// racing workers settle on exactly one outcome.
type SwapService struct {
	swaps    domain.SwapStore
	quotes   domain.QuoteStore
	events   domain.SwapEventStore
	creds    domain.CredentialStore
	cipher   *crypto.Cipher
	executor StepExecutor
	quoter   QuoteRequester
	bus      domain.EventBus
	logger   *slog.Logger
}

// NewSwapService creates a SwapService with all required dependencies.
// cipher may be nil when CEX credential intake is disabled.
func NewSwapService(
	swaps domain.SwapStore,
	quotes domain.QuoteStore,
	events domain.SwapEventStore,
	creds domain.CredentialStore,
	cipher *crypto.Cipher,
	executor StepExecutor,
	quoter QuoteRequester,
	bus domain.EventBus,
	logger *slog.Logger,
) *SwapService {
	return &SwapService{
		swaps:    swaps,
		quotes:   quotes,
		events:   events,
		creds:    creds,
		cipher:   cipher,
		executor: executor,
		quoter:   quoter,
		bus:      bus,
		logger:   logger,
	}
}

// CreateSwap opens a swap from a previously issued quote. The chosen route
// is frozen onto the swap, every step starts pending, and the cursor sits
// at step zero. Supplied exchange credentials are sealed and stored before
// the swap row exists so no executable swap ever waits on plaintext key
// material.
func (s *SwapService) CreateSwap(ctx context.Context, req CreateSwapRequest) (domain.Swap, error) {
	if err := req.validate(); err != nil {
		return domain.Swap{}, err
	}

	quote, err := s.quotes.GetByID(ctx, req.QuoteID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Expired quotes get pruned, so an unknown id and a lapsed one
			// are the same condition from the caller's side.
			return domain.Swap{}, fmt.Errorf("swap_service: quote %q: %w", req.QuoteID, domain.ErrQuoteExpired)
		}
		return domain.Swap{}, fmt.Errorf("swap_service: load quote %q: %w", req.QuoteID, err)
	}

	now := time.Now().UTC()
	if quote.Expired(now) {
		return domain.Swap{}, fmt.Errorf("swap_service: quote %q expired at %s: %w",
			quote.ID, quote.ExpiresAt.Format(time.RFC3339), domain.ErrQuoteExpired)
	}

	route, ok := quote.FindRoute(req.RouteID)
	if !ok {
		return domain.Swap{}, fmt.Errorf("swap_service: route %q not in quote %q: %w",
			req.RouteID, quote.ID, domain.ErrRouteNotFound)
	}
	if len(route.Steps) == 0 {
		return domain.Swap{}, fmt.Errorf("swap_service: route %q has no steps: %w", route.ID, domain.ErrValidation)
	}

	if req.Credentials != nil {
		if err := s.storeCredentials(ctx, req.UserAddress, *req.Credentials, now); err != nil {
			return domain.Swap{}, err
		}
	}

	swap := domain.Swap{
		ID:               uuid.New().String(),
		UserAddress:      req.UserAddress,
		TenantID:         req.TenantID,
		QuoteID:          quote.ID,
		RouteID:          route.ID,
		Route:            route.Steps,
		Steps:            make([]domain.SwapStepExecution, len(route.Steps)),
		Status:           domain.SwapStatusPending,
		CurrentStepIndex: 0,
		InputAmount:      quote.InputAmount,
		ExpectedOutput:   route.OutputAmount,
		CreatedAt:        now,
	}
	for i := range swap.Steps {
		swap.Steps[i] = domain.SwapStepExecution{StepIndex: i, Status: domain.StepStatusPending}
	}

	if err := s.swaps.Create(ctx, swap); err != nil {
		return domain.Swap{}, fmt.Errorf("swap_service: create swap: %w", err)
	}
	observability.RecordSwapCreated()

	s.logEvent(ctx, swap.ID, domain.EventSwapCreated, map[string]any{
		"quote_id": quote.ID,
		"route_id": route.ID,
		"steps":    len(route.Steps),
	})
	s.publish(ctx, domain.BusEvent{
		Type:        domain.EventSwapCreated,
		SwapID:      swap.ID,
		UserAddress: swap.UserAddress,
		Detail:      map[string]any{"status": string(swap.Status), "steps": len(route.Steps)},
		At:          now,
	})

	s.logger.InfoContext(ctx, "swap_service: swap created",
		slog.String("swap_id", swap.ID),
		slog.String("user", swap.UserAddress),
		slog.String("quote_id", quote.ID),
		slog.Int("steps", len(route.Steps)),
	)

	return swap, nil
}

// storeCredentials seals the user's API key pair and persists the envelope.
func (s *SwapService) storeCredentials(ctx context.Context, userAddress string, creds domain.CEXCredentials, now time.Time) error {
	if s.cipher == nil {
		return fmt.Errorf("swap_service: credential cipher not configured: %w", domain.ErrValidation)
	}
	creds.UserAddress = userAddress
	sealed, err := s.cipher.Seal(creds)
	if err != nil {
		return fmt.Errorf("swap_service: seal credentials: %w", err)
	}
	if err := s.creds.Put(ctx, domain.EncryptedCredentials{
		UserAddress: userAddress,
		Exchange:    creds.Exchange,
		Ciphertext:  sealed,
		CreatedAt:   now,
	}); err != nil {
		return fmt.Errorf("swap_service: store credentials: %w", err)
	}
	return nil
}

// GetPendingTransaction returns the unsigned transaction (or exchange
// instruction) for the step the swap is currently waiting on. Only the step
// at the cursor, still pending, can be fetched.
func (s *SwapService) GetPendingTransaction(ctx context.Context, swapID string, stepIndex int) (domain.StepTransaction, error) {
	swap, err := s.swaps.GetByID(ctx, swapID)
	if err != nil {
		return domain.StepTransaction{}, fmt.Errorf("swap_service: load swap %q: %w", swapID, err)
	}
	if err := stepGuard(swap, stepIndex); err != nil {
		return domain.StepTransaction{}, err
	}

	tx, err := s.executor.BuildTransaction(ctx, swap, stepIndex)
	if err != nil {
		return domain.StepTransaction{}, fmt.Errorf("swap_service: build step %d: %w", stepIndex, err)
	}
	return tx, nil
}

// stepGuard enforces the execution-order rules shared by transaction fetch
// and step execution.
func stepGuard(swap domain.Swap, stepIndex int) error {
	if swap.Terminal() {
		return fmt.Errorf("swap_service: swap %s is %s: %w", swap.ID, swap.Status, domain.ErrSwapFinished)
	}
	if stepIndex < 0 || stepIndex >= len(swap.Route) {
		return fmt.Errorf("swap_service: step %d of %d: %w", stepIndex, len(swap.Route), domain.ErrStepIndexMismatch)
	}
	if stepIndex != swap.CurrentStepIndex {
		return fmt.Errorf("swap_service: step %d requested, cursor at %d: %w",
			stepIndex, swap.CurrentStepIndex, domain.ErrStepIndexMismatch)
	}
	if swap.Steps[stepIndex].Status != domain.StepStatusPending {
		return fmt.Errorf("swap_service: step %d already %s: %w",
			stepIndex, swap.Steps[stepIndex].Status, domain.ErrStepNotPending)
	}
	return nil
}

// ExecuteStep broadcasts the client-signed transaction for the current step
// and records the submission. The result carries the tx hash; for CEX steps
// the venue confirms synchronously and the result is final. A failed
// broadcast fails the step and the swap; confirmed earlier steps keep their
// records.
func (s *SwapService) ExecuteStep(ctx context.Context, swapID string, stepIndex int, signedTx string) (domain.SubmitResult, error) {
	swap, err := s.swaps.GetByID(ctx, swapID)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("swap_service: load swap %q: %w", swapID, err)
	}
	if err := stepGuard(swap, stepIndex); err != nil {
		return domain.SubmitResult{}, err
	}
	if !swap.Route[stepIndex].Type.CEX() && signedTx == "" {
		return domain.SubmitResult{}, fmt.Errorf("swap_service: signed transaction required for step %d: %w",
			stepIndex, domain.ErrValidation)
	}

	res, err := s.executor.Submit(ctx, swap, stepIndex, signedTx)
	if err != nil {
		// Duplicate submissions and rejected inputs surface as-is; the swap
		// only fails when a broadcast actually went wrong.
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrValidation) {
			return domain.SubmitResult{}, err
		}
		s.failSubmission(ctx, swap, stepIndex, err)
		return domain.SubmitResult{}, err
	}

	if err := s.swaps.MarkStepSubmitted(ctx, swap.ID, stepIndex, res.TxHash); err != nil && !errors.Is(err, domain.ErrConflict) {
		s.logger.WarnContext(ctx, "swap_service: record submission failed",
			slog.String("swap_id", swap.ID),
			slog.Int("step_index", stepIndex),
			slog.String("error", err.Error()),
		)
	}
	if stepIndex == 0 {
		if err := s.swaps.UpdateStatus(ctx, swap.ID, domain.SwapStatusPending, domain.SwapStatusConfirming); err != nil && !errors.Is(err, domain.ErrConflict) {
			s.logger.WarnContext(ctx, "swap_service: status update failed",
				slog.String("swap_id", swap.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logEvent(ctx, swap.ID, domain.EventStepSubmitted, map[string]any{
		"step_index": stepIndex,
		"tx_hash":    res.TxHash,
	})
	s.publish(ctx, domain.BusEvent{
		Type:        domain.EventStepSubmitted,
		SwapID:      swap.ID,
		UserAddress: swap.UserAddress,
		Detail:      map[string]any{"step_index": stepIndex, "tx_hash": res.TxHash},
		At:          res.SubmittedAt,
	})
	s.logger.InfoContext(ctx, "swap_service: step submitted",
		slog.String("swap_id", swap.ID),
		slog.Int("step_index", stepIndex),
		slog.String("tx_hash", res.TxHash),
	)

	if res.Final {
		// CEX venues confirm in-band; run the confirmation path now instead
		// of waiting on a monitor that will never be watching.
		if err := s.OnStepConfirmed(ctx, swap.ID, stepIndex, monitor.StepConfirmation{TxHash: res.TxHash}); err != nil && !errors.Is(err, domain.ErrConflict) {
			return res, fmt.Errorf("swap_service: finalize step %d: %w", stepIndex, err)
		}
	}

	return res, nil
}

// failSubmission marks both the step and the swap failed after a broadcast
// error. Best-effort: the submission error is what the caller gets.
func (s *SwapService) failSubmission(ctx context.Context, swap domain.Swap, stepIndex int, cause error) {
	reason := cause.Error()
	if err := s.swaps.MarkStepFailed(ctx, swap.ID, stepIndex, reason); err != nil && !errors.Is(err, domain.ErrConflict) {
		s.logger.ErrorContext(ctx, "swap_service: mark step failed",
			slog.String("swap_id", swap.ID),
			slog.Int("step_index", stepIndex),
			slog.String("error", err.Error()),
		)
	}
	if err := s.swaps.Fail(ctx, swap.ID, reason); err != nil && !errors.Is(err, domain.ErrConflict) {
		s.logger.ErrorContext(ctx, "swap_service: mark swap failed",
			slog.String("swap_id", swap.ID),
			slog.String("error", err.Error()),
		)
	}

	observability.RecordStepFailed()
	observability.RecordSwapFailed()
	s.logEvent(ctx, swap.ID, domain.EventStepFailed, map[string]any{"step_index": stepIndex, "reason": reason})
	s.logEvent(ctx, swap.ID, domain.EventSwapFailed, map[string]any{"reason": reason})
	s.publish(ctx, domain.BusEvent{
		Type:        domain.EventSwapFailed,
		SwapID:      swap.ID,
		UserAddress: swap.UserAddress,
		Detail:      map[string]any{"step_index": stepIndex, "reason": reason},
		At:          time.Now().UTC(),
	})
	s.logger.WarnContext(ctx, "swap_service: step submission failed",
		slog.String("swap_id", swap.ID),
		slog.Int("step_index", stepIndex),
		slog.String("reason", reason),
	)
}

// OnStepConfirming moves a submitted step into the confirming state as its
// transaction accrues depth.
func (s *SwapService) OnStepConfirming(ctx context.Context, swapID string, stepIndex int) error {
	if err := s.swaps.MarkStepConfirming(ctx, swapID, stepIndex); err != nil {
		return fmt.Errorf("swap_service: step %d confirming: %w", stepIndex, err)
	}
	return nil
}

// OnStepConfirmed finalizes a step: the execution record gets its block
// number and output, then the swap either completes (last step) or the
// cursor advances with the status reflecting the next step's phase.
func (s *SwapService) OnStepConfirmed(ctx context.Context, swapID string, stepIndex int, conf monitor.StepConfirmation) error {
	swap, err := s.swaps.GetByID(ctx, swapID)
	if err != nil {
		return fmt.Errorf("swap_service: load swap %q: %w", swapID, err)
	}
	if stepIndex < 0 || stepIndex >= len(swap.Route) {
		return fmt.Errorf("swap_service: confirm step %d of %d: %w", stepIndex, len(swap.Route), domain.ErrConflict)
	}

	// Receipt-level output parsing is a provider concern; the planned
	// output is what the record carries.
	actualOutput := swap.Route[stepIndex].ExpectedOut

	if err := s.swaps.MarkStepConfirmed(ctx, swapID, stepIndex, conf.BlockNumber, actualOutput); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("swap_service: record step %d confirmation: %w", stepIndex, err)
		}
		// Redelivery can land after the step write but before the cursor
		// moved. Only a still-stuck cursor is worth finishing; anything else
		// was settled elsewhere.
		fresh, freshErr := s.swaps.GetByID(ctx, swapID)
		if freshErr != nil || fresh.Terminal() || fresh.CurrentStepIndex != stepIndex ||
			fresh.Steps[stepIndex].Status != domain.StepStatusConfirmed {
			return fmt.Errorf("swap_service: step %d confirmation: %w", stepIndex, domain.ErrConflict)
		}
		swap = fresh
	}

	detail := map[string]any{
		"step_index":   stepIndex,
		"tx_hash":      conf.TxHash,
		"block_number": conf.BlockNumber,
	}
	if conf.GasUsed > 0 {
		detail["gas_used"] = conf.GasUsed
	}
	if conf.DestTxHash != "" {
		detail["dest_tx_hash"] = conf.DestTxHash
	}
	observability.RecordStepConfirmed()
	s.logEvent(ctx, swapID, domain.EventStepConfirmed, detail)

	if stepIndex >= len(swap.Route)-1 {
		if err := s.swaps.Complete(ctx, swapID, actualOutput, swap.GasCost); err != nil {
			return fmt.Errorf("swap_service: complete swap %q: %w", swapID, err)
		}
		observability.RecordSwapCompleted()
		s.logEvent(ctx, swapID, domain.EventSwapCompleted, map[string]any{"actual_output": actualOutput})
		s.publish(ctx, domain.BusEvent{
			Type:        domain.EventSwapCompleted,
			SwapID:      swapID,
			UserAddress: swap.UserAddress,
			Detail:      map[string]any{"actual_output": actualOutput},
			At:          time.Now().UTC(),
		})
		s.logger.InfoContext(ctx, "swap_service: swap completed",
			slog.String("swap_id", swapID),
			slog.String("actual_output", actualOutput),
		)
		return nil
	}

	next := stepIndex + 1
	if err := s.swaps.AdvanceStep(ctx, swapID, stepIndex, swap.StatusAfterStep(next)); err != nil {
		return fmt.Errorf("swap_service: advance past step %d: %w", stepIndex, err)
	}
	s.publish(ctx, domain.BusEvent{
		Type:        domain.EventStepConfirmed,
		SwapID:      swapID,
		UserAddress: swap.UserAddress,
		Detail:      map[string]any{"step_index": stepIndex, "next_step": next},
		At:          time.Now().UTC(),
	})
	s.logger.InfoContext(ctx, "swap_service: step confirmed",
		slog.String("swap_id", swapID),
		slog.Int("step_index", stepIndex),
		slog.Int("next_step", next),
	)
	return nil
}

// OnStepFailed terminates the step and the swap. The cursor stays where it
// is so the record shows exactly which step died.
func (s *SwapService) OnStepFailed(ctx context.Context, swapID string, stepIndex int, cause error) error {
	swap, err := s.swaps.GetByID(ctx, swapID)
	if err != nil {
		return fmt.Errorf("swap_service: load swap %q: %w", swapID, err)
	}

	reason := cause.Error()
	if err := s.swaps.MarkStepFailed(ctx, swapID, stepIndex, reason); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("swap_service: fail step %d: %w", stepIndex, err)
		}
		// The step write may have survived an earlier attempt that died
		// before failing the swap; finish that, settle otherwise.
		fresh, freshErr := s.swaps.GetByID(ctx, swapID)
		if freshErr != nil || fresh.Terminal() || stepIndex >= len(fresh.Steps) ||
			fresh.Steps[stepIndex].Status != domain.StepStatusFailed {
			return fmt.Errorf("swap_service: fail step %d: %w", stepIndex, domain.ErrConflict)
		}
	}
	if err := s.swaps.Fail(ctx, swapID, reason); err != nil && !errors.Is(err, domain.ErrConflict) {
		return fmt.Errorf("swap_service: fail swap %q: %w", swapID, err)
	}

	observability.RecordStepFailed()
	observability.RecordSwapFailed()
	s.logEvent(ctx, swapID, domain.EventStepFailed, map[string]any{"step_index": stepIndex, "reason": reason})
	s.logEvent(ctx, swapID, domain.EventSwapFailed, map[string]any{"reason": reason})
	s.publish(ctx, domain.BusEvent{
		Type:        domain.EventSwapFailed,
		SwapID:      swapID,
		UserAddress: swap.UserAddress,
		Detail:      map[string]any{"step_index": stepIndex, "reason": reason},
		At:          time.Now().UTC(),
	})
	s.logger.WarnContext(ctx, "swap_service: swap failed",
		slog.String("swap_id", swapID),
		slog.Int("step_index", stepIndex),
		slog.String("reason", reason),
	)
	return nil
}

// GetSwap returns the swap with its full step history.
func (s *SwapService) GetSwap(ctx context.Context, id string) (domain.Swap, error) {
	swap, err := s.swaps.GetByID(ctx, id)
	if err != nil {
		return domain.Swap{}, fmt.Errorf("swap_service: get swap %q: %w", id, err)
	}
	return swap, nil
}

// ListUserSwaps returns a user's swaps, newest first.
func (s *SwapService) ListUserSwaps(ctx context.Context, userAddress string, opts domain.ListOpts) ([]domain.Swap, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultPageSize
	}
	swaps, err := s.swaps.ListByUser(ctx, userAddress, opts)
	if err != nil {
		return nil, fmt.Errorf("swap_service: list swaps for %q: %w", userAddress, err)
	}
	return swaps, nil
}

// ListSwapEvents returns a swap's transition history in insertion order.
func (s *SwapService) ListSwapEvents(ctx context.Context, swapID string, opts domain.ListOpts) ([]domain.SwapEvent, error) {
	if _, err := s.swaps.GetByID(ctx, swapID); err != nil {
		return nil, fmt.Errorf("swap_service: get swap %q: %w", swapID, err)
	}
	events, err := s.events.ListBySwap(ctx, swapID, opts)
	if err != nil {
		return nil, fmt.Errorf("swap_service: list events for %q: %w", swapID, err)
	}
	return events, nil
}

// InitiateTriggeredSwap opens a swap on behalf of a fired limit-order or
// DCA condition, using a fresh quote for the condition's pair.
func (s *SwapService) InitiateTriggeredSwap(ctx context.Context, cond domain.TriggerCondition) (domain.Swap, error) {
	if s.quoter == nil {
		return domain.Swap{}, fmt.Errorf("swap_service: no quote requester configured: %w", domain.ErrValidation)
	}

	quote, err := s.quoter.RequestQuote(ctx, cond.FromToken, cond.ToToken, cond.Amount, cond.Chain)
	if err != nil {
		return domain.Swap{}, fmt.Errorf("swap_service: quote for trigger %q: %w", cond.ID, err)
	}
	if len(quote.Routes) == 0 {
		return domain.Swap{}, fmt.Errorf("swap_service: trigger %q: quote %q has no routes: %w",
			cond.ID, quote.ID, domain.ErrRouteNotFound)
	}

	// Providers order routes best first.
	swap, err := s.CreateSwap(ctx, CreateSwapRequest{
		QuoteID:     quote.ID,
		RouteID:     quote.Routes[0].ID,
		UserAddress: cond.UserAddress,
		TenantID:    cond.TenantID,
	})
	if err != nil {
		return domain.Swap{}, err
	}

	s.publish(ctx, domain.BusEvent{
		Type:        domain.EventTriggerFired,
		SwapID:      swap.ID,
		TriggerID:   cond.ID,
		UserAddress: cond.UserAddress,
		Detail:      map[string]any{"kind": string(cond.Kind)},
		At:          time.Now().UTC(),
	})
	s.logger.InfoContext(ctx, "swap_service: triggered swap opened",
		slog.String("trigger_id", cond.ID),
		slog.String("swap_id", swap.ID),
		slog.String("kind", string(cond.Kind)),
	)
	return swap, nil
}

// logEvent appends to the swap transition log. The log is advisory next to
// the conditional row updates, so failures are logged and swallowed.
func (s *SwapService) logEvent(ctx context.Context, swapID, eventType string, detail map[string]any) {
	if err := s.events.Log(ctx, swapID, eventType, detail); err != nil {
		s.logger.WarnContext(ctx, "swap_service: event log failed",
			slog.String("swap_id", swapID),
			slog.String("event", eventType),
			slog.String("error", err.Error()),
		)
	}
}

// publish fans the event out on the shared swaps channel plus the swap- and
// user-scoped channels WebSocket subscribers watch. Trigger-linked events
// additionally land on the triggers channel.
func (s *SwapService) publish(ctx context.Context, evt domain.BusEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	channels := []string{domain.ChannelSwaps}
	if evt.SwapID != "" {
		channels = append(channels, "swap:"+evt.SwapID)
	}
	if evt.UserAddress != "" {
		channels = append(channels, "user:"+evt.UserAddress)
	}
	if evt.TriggerID != "" {
		channels = append(channels, domain.ChannelTriggers)
	}
	for _, ch := range channels {
		if pubErr := s.bus.Publish(ctx, ch, payload); pubErr != nil {
			s.logger.WarnContext(ctx, "swap_service: publish event failed",
				slog.String("channel", ch),
				slog.String("error", pubErr.Error()),
			)
		}
	}
}

// The monitor drives confirmations through these callbacks.
var _ monitor.StepCallbacks = (*SwapService)(nil)
