package domain

import "time"

// SwapStatus is the overall lifecycle state of a swap.
type SwapStatus string

const (
	SwapStatusPending    SwapStatus = "pending"
	SwapStatusConfirming SwapStatus = "confirming"
	SwapStatusProcessing SwapStatus = "processing"
	SwapStatusBridging   SwapStatus = "bridging"
	SwapStatusCompleting SwapStatus = "completing"
	SwapStatusCompleted  SwapStatus = "completed"
	SwapStatusFailed     SwapStatus = "failed"
	SwapStatusRefunded   SwapStatus = "refunded"
)

// Terminal reports whether no further transitions are allowed.
func (s SwapStatus) Terminal() bool {
	return s == SwapStatusCompleted || s == SwapStatusFailed || s == SwapStatusRefunded
}

// StepType classifies one planned route action.
type StepType string

const (
	StepTypeSwap        StepType = "swap"
	StepTypeBridge      StepType = "bridge"
	StepTypeCEXDeposit  StepType = "cex_deposit"
	StepTypeCEXTrade    StepType = "cex_trade"
	StepTypeCEXWithdraw StepType = "cex_withdraw"
)

// CEX reports whether the step runs through an exchange API instead of a chain.
func (t StepType) CEX() bool {
	return t == StepTypeCEXDeposit || t == StepTypeCEXTrade || t == StepTypeCEXWithdraw
}

// StepStatus tracks one step's execution state. It only moves forward
// through pending -> submitted -> confirming -> confirmed, or terminates
// at failed.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusSubmitted  StepStatus = "submitted"
	StepStatusConfirming StepStatus = "confirming"
	StepStatusConfirmed  StepStatus = "confirmed"
	StepStatusFailed     StepStatus = "failed"
)

var stepStatusRank = map[StepStatus]int{
	StepStatusPending:    0,
	StepStatusSubmitted:  1,
	StepStatusConfirming: 2,
	StepStatusConfirmed:  3,
}

// CanAdvanceTo reports whether moving from s to next respects step ordering.
// failed is reachable from any non-terminal state.
func (s StepStatus) CanAdvanceTo(next StepStatus) bool {
	if s == StepStatusConfirmed || s == StepStatusFailed {
		return false
	}
	if next == StepStatusFailed {
		return true
	}
	cur, ok := stepStatusRank[s]
	nxt, ok2 := stepStatusRank[next]
	return ok && ok2 && nxt > cur
}

// RouteStep is one immutable planned action within a route. Amounts are
// decimal strings in the token's smallest (base) units. Token fields carry
// contract addresses for on-chain steps and exchange asset symbols for CEX
// steps.
type RouteStep struct {
	Type           StepType
	Chain          string
	ToChain        string // bridge steps: destination chain
	Protocol       string
	FromToken      string
	ToToken        string
	AmountIn       string
	ExpectedOut    string
	MinOutput      string
	EstGasLimit    uint64
	EstDurationSec int64
}

// SwapStepExecution is the mutable execution record for the route step at
// the same index.
type SwapStepExecution struct {
	StepIndex    int
	Status       StepStatus
	TxHash       string
	BlockNumber  int64
	ActualOutput string
	Error        string
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// Swap is one user-initiated exchange attempt. Route is fixed at creation;
// Steps and the status fields mutate as execution proceeds. Records are
// append-only audit data and are never deleted.
type Swap struct {
	ID               string
	UserAddress      string
	TenantID         string
	QuoteID          string
	RouteID          string
	Route            []RouteStep
	Steps            []SwapStepExecution
	Status           SwapStatus
	CurrentStepIndex int
	InputAmount      string
	ExpectedOutput   string
	ActualOutput     string
	PlatformFee      string
	GasCost          string
	Error            string
	CreatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// Terminal reports whether the swap reached a final state.
func (s Swap) Terminal() bool {
	return s.Status.Terminal()
}

// CurrentStep returns the route step at CurrentStepIndex.
func (s Swap) CurrentStep() (RouteStep, bool) {
	if s.CurrentStepIndex < 0 || s.CurrentStepIndex >= len(s.Route) {
		return RouteStep{}, false
	}
	return s.Route[s.CurrentStepIndex], true
}

// StatusAfterStep returns the swap status while the step at idx executes:
// bridging for bridge steps, completing for the final step, processing
// otherwise.
func (s Swap) StatusAfterStep(idx int) SwapStatus {
	if idx >= 0 && idx < len(s.Route) && s.Route[idx].Type == StepTypeBridge {
		return SwapStatusBridging
	}
	if idx >= len(s.Route)-1 {
		return SwapStatusCompleting
	}
	return SwapStatusProcessing
}

// StepTransaction is the unsigned payload a client signs for one step.
// For CEX steps To/Data/Value are empty and Instruction carries the
// exchange-API action instead.
type StepTransaction struct {
	To          string
	Data        string
	Value       string
	GasLimit    uint64
	Chain       string
	Instruction *CEXInstruction
}

// CEXInstruction describes an exchange-API action for a CEX step.
type CEXInstruction struct {
	Exchange string
	Action   StepType
	Symbol   string
	Amount   string
	Address  string // deposit/withdrawal address where applicable
	Memo     string // deposit memo/tag for chains that need one
}

// SubmitResult is returned by the step executor after a successful broadcast.
// Final is set when the venue confirmed the action synchronously (CEX
// steps), meaning no monitor watch follows.
type SubmitResult struct {
	TxHash      string
	SubmittedAt time.Time
	Final       bool
}
