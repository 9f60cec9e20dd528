package domain

import "time"

// Event types recorded in the swap event log and published on the bus.
const (
	EventSwapCreated   = "swap.created"
	EventStepSubmitted = "step.submitted"
	EventStepConfirmed = "step.confirmed"
	EventStepFailed    = "step.failed"
	EventSwapCompleted = "swap.completed"
	EventSwapFailed    = "swap.failed"
	EventTriggerFired  = "trigger.fired"
)

// Bus channels. Swap events additionally fan out on "swap:<id>" and
// "user:<address>" for targeted subscriptions.
const (
	ChannelSwaps    = "swaps"
	ChannelTriggers = "triggers"
	ChannelPrices   = "prices"
)

// SwapEvent is one append-only entry in a swap's transition history.
type SwapEvent struct {
	ID        int64
	SwapID    string
	Type      string
	Detail    map[string]any
	CreatedAt time.Time
}

// BusEvent is the JSON envelope published to the event bus and pushed to
// WebSocket subscribers and notifiers.
type BusEvent struct {
	Type        string         `json:"type"`
	SwapID      string         `json:"swap_id,omitempty"`
	TriggerID   string         `json:"trigger_id,omitempty"`
	UserAddress string         `json:"user_address,omitempty"`
	Detail      map[string]any `json:"detail,omitempty"`
	At          time.Time      `json:"at"`
}
