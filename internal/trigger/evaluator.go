// Package trigger evaluates standing user conditions (price alerts, limit
// orders, DCA schedules) against current prices and executes the ones that
// fire. Execution comes before marking, so a crashed cycle re-fires rather
// than silently losing an execution; the conditional mark keeps racing
// cycles to one settled fire.
package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/omniswap/swapd/internal/domain"
)

// Notifier delivers fired-alert notifications.
type Notifier interface {
	PriceAlertFired(ctx context.Context, cond domain.TriggerCondition, price string) error
}

// SwapInitiator opens a swap for a satisfied limit order or due DCA cycle.
type SwapInitiator interface {
	InitiateTriggeredSwap(ctx context.Context, cond domain.TriggerCondition) (domain.Swap, error)
}

// Evaluator decides, executes, and settles one condition kind.
type Evaluator interface {
	Kind() domain.TriggerKind
	// Satisfied reports whether cond should fire given the price snapshot.
	Satisfied(cond domain.TriggerCondition, prices map[string]float64, now time.Time) (bool, error)
	// Execute performs the fire action. It runs before Mark, so it must
	// tolerate an occasional repeat after a crashed cycle.
	Execute(ctx context.Context, cond domain.TriggerCondition, prices map[string]float64) error
	// Mark settles the fired condition through a conditional update;
	// domain.ErrConflict means another cycle settled it first.
	Mark(ctx context.Context, cond domain.TriggerCondition, now time.Time) error
	// WantsPrices reports whether the kind needs a price snapshot at all.
	WantsPrices() bool
}

// Registry resolves the evaluator for a trigger kind.
type Registry map[domain.TriggerKind]Evaluator

// NewRegistry builds a Registry keyed by each evaluator's kind.
func NewRegistry(evs ...Evaluator) Registry {
	r := make(Registry, len(evs))
	for _, e := range evs {
		r[e.Kind()] = e
	}
	return r
}

// priceMeets compares the current price against the condition's target.
// Reaching the target exactly counts as crossing it.
func priceMeets(cond domain.TriggerCondition, prices map[string]float64) (bool, string, error) {
	price, ok := prices[cond.Token]
	if !ok {
		return false, "", fmt.Errorf("trigger: no price for token %s", cond.Token)
	}
	target, err := decimal.NewFromString(cond.TargetPrice)
	if err != nil {
		return false, "", fmt.Errorf("trigger: bad target price %q: %w", cond.TargetPrice, err)
	}

	cur := decimal.NewFromFloat(price)
	switch cond.Comparison {
	case domain.ComparisonAbove:
		return cur.GreaterThanOrEqual(target), cur.String(), nil
	case domain.ComparisonBelow:
		return cur.LessThanOrEqual(target), cur.String(), nil
	}
	return false, "", fmt.Errorf("trigger: unknown comparison %q", cond.Comparison)
}

// AlertEvaluator fires price alerts through the notifier, then deactivates
// them.
type AlertEvaluator struct {
	notifier Notifier
	store    domain.TriggerStore
}

// NewAlertEvaluator creates the price-alert evaluator.
func NewAlertEvaluator(notifier Notifier, store domain.TriggerStore) *AlertEvaluator {
	return &AlertEvaluator{notifier: notifier, store: store}
}

func (e *AlertEvaluator) Kind() domain.TriggerKind { return domain.TriggerKindPriceAlert }

func (e *AlertEvaluator) WantsPrices() bool { return true }

func (e *AlertEvaluator) Satisfied(cond domain.TriggerCondition, prices map[string]float64, _ time.Time) (bool, error) {
	met, _, err := priceMeets(cond, prices)
	return met, err
}

func (e *AlertEvaluator) Execute(ctx context.Context, cond domain.TriggerCondition, prices map[string]float64) error {
	_, price, err := priceMeets(cond, prices)
	if err != nil {
		return err
	}
	return e.notifier.PriceAlertFired(ctx, cond, price)
}

func (e *AlertEvaluator) Mark(ctx context.Context, cond domain.TriggerCondition, now time.Time) error {
	return e.store.MarkFired(ctx, cond.ID, now)
}

// LimitOrderEvaluator opens the configured swap when the price reaches the
// limit, then deactivates the order.
type LimitOrderEvaluator struct {
	swaps SwapInitiator
	store domain.TriggerStore
}

// NewLimitOrderEvaluator creates the limit-order evaluator.
func NewLimitOrderEvaluator(swaps SwapInitiator, store domain.TriggerStore) *LimitOrderEvaluator {
	return &LimitOrderEvaluator{swaps: swaps, store: store}
}

func (e *LimitOrderEvaluator) Kind() domain.TriggerKind { return domain.TriggerKindLimitOrder }

func (e *LimitOrderEvaluator) WantsPrices() bool { return true }

func (e *LimitOrderEvaluator) Satisfied(cond domain.TriggerCondition, prices map[string]float64, _ time.Time) (bool, error) {
	met, _, err := priceMeets(cond, prices)
	return met, err
}

func (e *LimitOrderEvaluator) Execute(ctx context.Context, cond domain.TriggerCondition, _ map[string]float64) error {
	_, err := e.swaps.InitiateTriggeredSwap(ctx, cond)
	return err
}

func (e *LimitOrderEvaluator) Mark(ctx context.Context, cond domain.TriggerCondition, now time.Time) error {
	return e.store.MarkFired(ctx, cond.ID, now)
}

// DCAEvaluator opens the configured swap each time the schedule comes due
// and advances the schedule by whole intervals, so a late cycle cannot
// drift it.
type DCAEvaluator struct {
	swaps SwapInitiator
	store domain.TriggerStore
}

// NewDCAEvaluator creates the DCA evaluator.
func NewDCAEvaluator(swaps SwapInitiator, store domain.TriggerStore) *DCAEvaluator {
	return &DCAEvaluator{swaps: swaps, store: store}
}

func (e *DCAEvaluator) Kind() domain.TriggerKind { return domain.TriggerKindDCA }

func (e *DCAEvaluator) WantsPrices() bool { return false }

func (e *DCAEvaluator) Satisfied(cond domain.TriggerCondition, _ map[string]float64, now time.Time) (bool, error) {
	return cond.Due(now), nil
}

func (e *DCAEvaluator) Execute(ctx context.Context, cond domain.TriggerCondition, _ map[string]float64) error {
	_, err := e.swaps.InitiateTriggeredSwap(ctx, cond)
	return err
}

func (e *DCAEvaluator) Mark(ctx context.Context, cond domain.TriggerCondition, now time.Time) error {
	return e.store.MarkExecuted(ctx, cond.ID, cond.ExecutionNumber, cond.NextOccurrence(now))
}
