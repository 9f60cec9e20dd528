package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/omniswap/swapd/internal/domain"
	"github.com/shopspring/decimal"
)

// minDCAInterval keeps DCA schedules above the bulk-check cadence; anything
// tighter would fire on every sweep.
const minDCAInterval = time.Minute

// CreateTriggerRequest carries the user-supplied fields of a new condition.
type CreateTriggerRequest struct {
	Kind        domain.TriggerKind
	UserAddress string
	TenantID    string

	Token       string
	Chain       string
	Comparison  domain.Comparison
	TargetPrice string

	FromToken   string
	ToToken     string
	Amount      string
	SlippageBps int64

	IntervalSec int64
	StartAt     *time.Time
}

// TriggerService validates and manages standing trigger conditions. The
// check cycles that evaluate them live in the trigger worker; this service
// only owns the CRUD surface.
type TriggerService struct {
	triggers domain.TriggerStore
	logger   *slog.Logger
}

// NewTriggerService creates a TriggerService with all required dependencies.
func NewTriggerService(triggers domain.TriggerStore, logger *slog.Logger) *TriggerService {
	return &TriggerService{
		triggers: triggers,
		logger:   logger,
	}
}

// CreateTrigger validates the request for its kind and persists an active
// condition.
func (s *TriggerService) CreateTrigger(ctx context.Context, req CreateTriggerRequest) (domain.TriggerCondition, error) {
	if req.UserAddress == "" {
		return domain.TriggerCondition{}, fmt.Errorf("trigger_service: user address required: %w", domain.ErrValidation)
	}

	now := time.Now().UTC()
	cond := domain.TriggerCondition{
		ID:          uuid.New().String(),
		Kind:        req.Kind,
		UserAddress: req.UserAddress,
		TenantID:    req.TenantID,
		Token:       req.Token,
		Chain:       req.Chain,
		Comparison:  req.Comparison,
		TargetPrice: req.TargetPrice,
		FromToken:   req.FromToken,
		ToToken:     req.ToToken,
		Amount:      req.Amount,
		SlippageBps: req.SlippageBps,
		IntervalSec: req.IntervalSec,
		Active:      true,
		CreatedAt:   now,
	}

	switch req.Kind {
	case domain.TriggerKindPriceAlert:
		if err := validatePriceRule(req); err != nil {
			return domain.TriggerCondition{}, err
		}
	case domain.TriggerKindLimitOrder:
		if err := validatePriceRule(req); err != nil {
			return domain.TriggerCondition{}, err
		}
		if err := validateSwapLeg(req); err != nil {
			return domain.TriggerCondition{}, err
		}
	case domain.TriggerKindDCA:
		if err := validateSwapLeg(req); err != nil {
			return domain.TriggerCondition{}, err
		}
		if time.Duration(req.IntervalSec)*time.Second < minDCAInterval {
			return domain.TriggerCondition{}, fmt.Errorf("trigger_service: dca interval %ds below minimum %s: %w",
				req.IntervalSec, minDCAInterval, domain.ErrValidation)
		}
		first := now.Add(time.Duration(req.IntervalSec) * time.Second)
		if req.StartAt != nil {
			if req.StartAt.Before(now) {
				return domain.TriggerCondition{}, fmt.Errorf("trigger_service: dca start %s is in the past: %w",
					req.StartAt.Format(time.RFC3339), domain.ErrValidation)
			}
			first = req.StartAt.UTC()
		}
		cond.NextRunAt = &first
	default:
		return domain.TriggerCondition{}, fmt.Errorf("trigger_service: unknown trigger kind %q: %w",
			req.Kind, domain.ErrValidation)
	}

	if err := s.triggers.Create(ctx, cond); err != nil {
		return domain.TriggerCondition{}, fmt.Errorf("trigger_service: create condition: %w", err)
	}

	s.logger.InfoContext(ctx, "trigger_service: condition created",
		slog.String("trigger_id", cond.ID),
		slog.String("kind", string(cond.Kind)),
		slog.String("user", cond.UserAddress),
	)
	return cond, nil
}

// validatePriceRule checks the threshold fields shared by alerts and limit
// orders.
func validatePriceRule(req CreateTriggerRequest) error {
	if req.Token == "" {
		return fmt.Errorf("trigger_service: token required: %w", domain.ErrValidation)
	}
	if req.Comparison != domain.ComparisonAbove && req.Comparison != domain.ComparisonBelow {
		return fmt.Errorf("trigger_service: comparison must be above or below: %w", domain.ErrValidation)
	}
	target, err := decimal.NewFromString(req.TargetPrice)
	if err != nil || !target.IsPositive() {
		return fmt.Errorf("trigger_service: target price %q must be a positive decimal: %w",
			req.TargetPrice, domain.ErrValidation)
	}
	return nil
}

// validateSwapLeg checks the fields a fired condition needs to open a swap.
func validateSwapLeg(req CreateTriggerRequest) error {
	if req.FromToken == "" || req.ToToken == "" || req.Chain == "" {
		return fmt.Errorf("trigger_service: swap pair and chain required: %w", domain.ErrValidation)
	}
	n, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok || n.Sign() <= 0 {
		return fmt.Errorf("trigger_service: amount %q must be a positive base-unit integer: %w",
			req.Amount, domain.ErrValidation)
	}
	if req.SlippageBps < 0 || req.SlippageBps > 10_000 {
		return fmt.Errorf("trigger_service: slippage %d out of range: %w", req.SlippageBps, domain.ErrValidation)
	}
	return nil
}

// GetTrigger returns a single condition.
func (s *TriggerService) GetTrigger(ctx context.Context, id string) (domain.TriggerCondition, error) {
	cond, err := s.triggers.GetByID(ctx, id)
	if err != nil {
		return domain.TriggerCondition{}, fmt.Errorf("trigger_service: get condition %q: %w", id, err)
	}
	return cond, nil
}

// ListUserTriggers returns a user's conditions, newest first.
func (s *TriggerService) ListUserTriggers(ctx context.Context, userAddress string, opts domain.ListOpts) ([]domain.TriggerCondition, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultPageSize
	}
	conds, err := s.triggers.ListByUser(ctx, userAddress, opts)
	if err != nil {
		return nil, fmt.Errorf("trigger_service: list conditions for %q: %w", userAddress, err)
	}
	return conds, nil
}

// CancelTrigger deactivates a condition at the owner's request. Cancelling
// an already-inactive condition is a no-op.
func (s *TriggerService) CancelTrigger(ctx context.Context, id string) error {
	if err := s.triggers.Deactivate(ctx, id); err != nil {
		return fmt.Errorf("trigger_service: cancel condition %q: %w", id, err)
	}
	s.logger.InfoContext(ctx, "trigger_service: condition cancelled",
		slog.String("trigger_id", id),
	)
	return nil
}
