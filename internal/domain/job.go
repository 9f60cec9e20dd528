package domain

import (
	"errors"
	"fmt"
	"time"
)

// Queue names. One queue per job kind so a handler never sees a payload
// shape it was not built for.
const (
	QueueMonitor     = "tx_monitor"
	QueueAlerts      = "alert_checks"
	QueueLimitOrders = "limit_order_checks"
	QueueDCA         = "dca_checks"
)

// QueueForKind returns the bulk-check queue for a trigger kind.
func QueueForKind(k TriggerKind) string {
	switch k {
	case TriggerKindPriceAlert:
		return QueueAlerts
	case TriggerKindLimitOrder:
		return QueueLimitOrders
	case TriggerKindDCA:
		return QueueDCA
	}
	return ""
}

// WatchType selects the confirmation predicate for a monitored transaction.
type WatchType string

const (
	WatchTypeEVM    WatchType = "evm"
	WatchTypeSolana WatchType = "solana"
	WatchTypeSui    WatchType = "sui"
	WatchTypeBridge WatchType = "bridge"
)

// MonitorJob asks the transaction monitor to watch one submitted step.
type MonitorJob struct {
	SwapID    string    `json:"swap_id"`
	StepIndex int       `json:"step_index"`
	Chain     string    `json:"chain"`
	TxHash    string    `json:"tx_hash"`
	Type      WatchType `json:"type"`
	Recheck   int       `json:"recheck,omitempty"` // reorg re-check counter
}

// Validate rejects malformed monitor payloads at the queue boundary.
func (j MonitorJob) Validate() error {
	if j.SwapID == "" {
		return errors.New("monitor job: missing swap_id")
	}
	if j.StepIndex < 0 {
		return fmt.Errorf("monitor job: negative step_index %d", j.StepIndex)
	}
	if j.TxHash == "" {
		return errors.New("monitor job: missing tx_hash")
	}
	switch j.Type {
	case WatchTypeEVM, WatchTypeSolana, WatchTypeSui, WatchTypeBridge:
	default:
		return fmt.Errorf("monitor job: unknown watch type %q", j.Type)
	}
	return nil
}

// DedupeKey makes re-submission of the same watch a no-op. The watch type
// is part of the key: a bridge step's source-chain watch and its delivery
// watch are distinct.
func (j MonitorJob) DedupeKey() string {
	return fmt.Sprintf("monitor:%s:%d:%s:%s:%s", j.SwapID, j.StepIndex, j.Chain, j.TxHash, j.Type)
}

// BulkCheckJob asks a trigger worker to evaluate every active condition of
// one kind in a single pass. The scheduler enqueues exactly one per
// interval regardless of population size.
type BulkCheckJob struct {
	Kind        TriggerKind `json:"kind"`
	ScheduledAt time.Time   `json:"scheduled_at"`
}

// Validate rejects malformed bulk-check payloads at the queue boundary.
func (j BulkCheckJob) Validate() error {
	switch j.Kind {
	case TriggerKindPriceAlert, TriggerKindLimitOrder, TriggerKindDCA:
	default:
		return fmt.Errorf("bulk check job: unknown trigger kind %q", j.Kind)
	}
	if j.ScheduledAt.IsZero() {
		return errors.New("bulk check job: missing scheduled_at")
	}
	return nil
}

// DedupeKey collapses overlapping scheduler replicas onto one job per
// interval slot.
func (j BulkCheckJob) DedupeKey() string {
	return fmt.Sprintf("bulkcheck:%s:%d", j.Kind, j.ScheduledAt.Unix())
}
