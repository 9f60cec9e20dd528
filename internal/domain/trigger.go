package domain

import "time"

// TriggerKind classifies a standing condition.
type TriggerKind string

const (
	TriggerKindPriceAlert TriggerKind = "price_alert"
	TriggerKindLimitOrder TriggerKind = "limit_order"
	TriggerKindDCA        TriggerKind = "dca"
)

// OneShot reports whether the kind fires at most once then deactivates.
func (k TriggerKind) OneShot() bool {
	return k == TriggerKindPriceAlert || k == TriggerKindLimitOrder
}

// Comparison is the direction of a price threshold.
type Comparison string

const (
	ComparisonAbove Comparison = "above"
	ComparisonBelow Comparison = "below"
)

// TriggerCondition is a standing rule owned by a user. One-shot kinds
// (price alert, limit order) deactivate after firing; DCA fires on a
// schedule and counts executions.
type TriggerCondition struct {
	ID          string
	Kind        TriggerKind
	UserAddress string
	TenantID    string

	// Price condition (alert, limit order).
	Token       string
	Chain       string
	Comparison  Comparison
	TargetPrice string

	// Swap parameters (limit order, DCA).
	FromToken   string
	ToToken     string
	Amount      string
	SlippageBps int64

	// Schedule (DCA).
	IntervalSec int64
	NextRunAt   *time.Time

	Active          bool
	ExecutionNumber int
	FiredAt         *time.Time
	LastCheckedAt   *time.Time
	CreatedAt       time.Time
}

// Due reports whether a DCA condition's scheduled time has been reached.
func (c TriggerCondition) Due(now time.Time) bool {
	return c.NextRunAt != nil && !now.Before(*c.NextRunAt)
}

// NextOccurrence computes the schedule slot after now. Slots stay aligned
// to the original NextRunAt so a late cycle does not drift the schedule.
func (c TriggerCondition) NextOccurrence(now time.Time) time.Time {
	if c.NextRunAt == nil || c.IntervalSec <= 0 {
		return now
	}
	next := *c.NextRunAt
	step := time.Duration(c.IntervalSec) * time.Second
	for !next.After(now) {
		next = next.Add(step)
	}
	return next
}
