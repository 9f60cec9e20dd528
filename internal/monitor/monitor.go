// Package monitor confirms submitted step transactions. It consumes watch
// jobs from the monitor queue, polls the step's venue for finality, and
// reports the outcome through step callbacks. Pending watches re-enqueue
// themselves after the chain's poll interval, so no worker is parked on a
// single transaction.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/omniswap/swapd/internal/domain"
	"github.com/omniswap/swapd/internal/observability"
	"github.com/omniswap/swapd/internal/platform/bridge"
	"github.com/omniswap/swapd/internal/platform/evm"
	"github.com/omniswap/swapd/internal/platform/solana"
	"github.com/omniswap/swapd/internal/platform/sui"
)

// Watch jobs survive transient handler failures through queue redelivery.
const (
	redeliverAttempts = 5
	redeliverBackoff  = 5 * time.Second
)

// EVMWatcher is the slice of the EVM client the monitor needs.
type EVMWatcher interface {
	TransactionStatus(ctx context.Context, txHash string) (evm.TxStatus, error)
}

// SolanaWatcher is the slice of the Solana client the monitor needs.
type SolanaWatcher interface {
	SignatureStatus(ctx context.Context, signature string) (solana.SigStatus, error)
}

// SuiWatcher is the slice of the Sui client the monitor needs.
type SuiWatcher interface {
	TransactionStatus(ctx context.Context, digest string) (sui.TxStatus, error)
}

// BridgeWatcher is the slice of the bridge status client the monitor needs.
type BridgeWatcher interface {
	DeliveryStatus(ctx context.Context, provider, srcChain, txHash string) (bridge.Delivery, error)
}

// WatcherSet groups the configured status sources, chain watchers keyed by
// chain name.
type WatcherSet struct {
	EVM    map[string]EVMWatcher
	Solana map[string]SolanaWatcher
	Sui    map[string]SuiWatcher
	Bridge BridgeWatcher
}

// SwapReader is the read-side of the swap store the monitor needs.
type SwapReader interface {
	GetByID(ctx context.Context, id string) (domain.Swap, error)
}

// StepConfirmation carries what the venue reported for a confirmed step.
type StepConfirmation struct {
	TxHash      string
	BlockNumber int64  // slot on Solana, checkpoint on Sui
	GasUsed     uint64 // EVM only
	DestTxHash  string // bridge deliveries
}

// StepCallbacks is implemented by the swap lifecycle owner. The monitor
// may invoke a callback more than once for the same observation; the
// implementation resolves races through conditional updates and reports
// domain.ErrConflict for the losing call, which the monitor treats as
// settled.
type StepCallbacks interface {
	OnStepConfirming(ctx context.Context, swapID string, stepIndex int) error
	OnStepConfirmed(ctx context.Context, swapID string, stepIndex int, conf StepConfirmation) error
	OnStepFailed(ctx context.Context, swapID string, stepIndex int, cause error) error
}

// ChainParams bound one chain's confirmation polling.
type ChainParams struct {
	Confirmations uint64
	PollInterval  time.Duration
	MaxWait       time.Duration
}

func (p ChainParams) withDefaults() ChainParams {
	if p.Confirmations == 0 {
		p.Confirmations = 1
	}
	if p.PollInterval <= 0 {
		p.PollInterval = 10 * time.Second
	}
	if p.MaxWait <= 0 {
		p.MaxWait = 10 * time.Minute
	}
	return p
}

// Config holds monitor worker parameters.
type Config struct {
	Concurrency   int
	ReorgRechecks int // not-found rechecks before a seen tx counts as dropped
	RatePerSec    int
	Chains        map[string]ChainParams
	Bridge        ChainParams
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.ReorgRechecks <= 0 {
		c.ReorgRechecks = 3
	}
	if c.Bridge.PollInterval <= 0 {
		c.Bridge.PollInterval = 15 * time.Second
	}
	if c.Bridge.MaxWait <= 0 {
		c.Bridge.MaxWait = 30 * time.Minute
	}
	c.Bridge.Confirmations = 1
	return c
}

// Monitor drives submitted steps to confirmed or failed.
type Monitor struct {
	watchers  WatcherSet
	swaps     SwapReader
	callbacks StepCallbacks
	queue     domain.Queue
	cfg       Config
	logger    *slog.Logger
}

// New creates a Monitor.
func New(watchers WatcherSet, swaps SwapReader, callbacks StepCallbacks, queue domain.Queue, cfg Config, logger *slog.Logger) *Monitor {
	return &Monitor{
		watchers:  watchers,
		swaps:     swaps,
		callbacks: callbacks,
		queue:     queue,
		cfg:       cfg.withDefaults(),
		logger:    logger.With(slog.String("component", "monitor")),
	}
}

// Run consumes the monitor queue until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	return m.queue.Consume(ctx, domain.QueueMonitor, m.handle, domain.ConsumeOptions{
		Concurrency: m.cfg.Concurrency,
		RatePerSec:  m.cfg.RatePerSec,
	})
}

// observation is one venue poll, normalized across watch types.
type observation struct {
	found       bool
	failed      bool
	final       bool
	blockNumber int64
	gasUsed     uint64
	destTxHash  string
	detail      string
}

func (m *Monitor) handle(ctx context.Context, job domain.Job) error {
	var watch domain.MonitorJob
	if err := json.Unmarshal(job.Payload, &watch); err != nil {
		m.logger.ErrorContext(ctx, "dropping undecodable watch",
			slog.String("job_id", job.ID), slog.String("error", err.Error()))
		return nil
	}
	if err := watch.Validate(); err != nil {
		m.logger.ErrorContext(ctx, "dropping malformed watch",
			slog.String("job_id", job.ID), slog.String("error", err.Error()))
		return nil
	}

	swap, err := m.swaps.GetByID(ctx, watch.SwapID)
	if errors.Is(err, domain.ErrNotFound) {
		m.logger.WarnContext(ctx, "watch for unknown swap", slog.String("swap_id", watch.SwapID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("monitor: load swap %s: %w", watch.SwapID, err)
	}
	if watch.StepIndex >= len(swap.Steps) || watch.StepIndex >= len(swap.Route) {
		m.logger.WarnContext(ctx, "watch step out of range",
			slog.String("swap_id", watch.SwapID), slog.Int("step_index", watch.StepIndex))
		return nil
	}

	step := swap.Steps[watch.StepIndex]
	if swap.Terminal() || step.Status == domain.StepStatusConfirmed || step.Status == domain.StepStatusFailed {
		return nil
	}

	obs, err := m.observe(ctx, watch, swap.Route[watch.StepIndex])
	if err != nil {
		return fmt.Errorf("monitor: poll %s/%d: %w", watch.SwapID, watch.StepIndex, err)
	}

	switch {
	case obs.failed:
		return m.fail(ctx, watch, m.failureCause(watch, obs))

	case obs.final:
		return m.confirmed(ctx, watch, swap, obs)

	default:
		return m.pending(ctx, watch, swap, step, obs)
	}
}

// confirmed settles a finalized observation. For a bridge step the source
// chain landing is only the first leg; the watch switches to delivery
// polling instead of confirming the step.
func (m *Monitor) confirmed(ctx context.Context, watch domain.MonitorJob, swap domain.Swap, obs observation) error {
	route := swap.Route[watch.StepIndex]
	if route.Type == domain.StepTypeBridge && watch.Type != domain.WatchTypeBridge {
		delivery := watch
		delivery.Type = domain.WatchTypeBridge
		delivery.Recheck = 0
		m.logger.InfoContext(ctx, "bridge source landed, polling delivery",
			slog.String("swap_id", watch.SwapID),
			slog.Int("step_index", watch.StepIndex),
			slog.String("tx_hash", watch.TxHash))
		return m.enqueue(ctx, delivery, m.cfg.Bridge.PollInterval, delivery.DedupeKey())
	}

	err := m.callbacks.OnStepConfirmed(ctx, watch.SwapID, watch.StepIndex, StepConfirmation{
		TxHash:      watch.TxHash,
		BlockNumber: obs.blockNumber,
		GasUsed:     obs.gasUsed,
		DestTxHash:  obs.destTxHash,
	})
	if errors.Is(err, domain.ErrConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("monitor: confirm %s/%d: %w", watch.SwapID, watch.StepIndex, err)
	}
	m.logger.InfoContext(ctx, "step confirmed",
		slog.String("swap_id", watch.SwapID),
		slog.Int("step_index", watch.StepIndex),
		slog.String("tx_hash", watch.TxHash))
	return nil
}

// pending handles a not-yet-final observation: advance submitted steps to
// confirming on first sight, enforce the max wait, count reorg rechecks
// for transactions that were seen and then vanished, and re-enqueue the
// watch after the venue's poll interval.
func (m *Monitor) pending(ctx context.Context, watch domain.MonitorJob, swap domain.Swap, step domain.SwapStepExecution, obs observation) error {
	params := m.params(watch)

	if time.Since(m.watchStart(swap, step)) > params.MaxWait {
		observability.RecordMonitorTimeout(watch.Chain)
		return m.fail(ctx, watch, fmt.Errorf("no finality after %s: %w", params.MaxWait, domain.ErrTxTimeout))
	}

	if obs.found {
		if step.Status == domain.StepStatusSubmitted {
			err := m.callbacks.OnStepConfirming(ctx, watch.SwapID, watch.StepIndex)
			if err != nil && !errors.Is(err, domain.ErrConflict) {
				return fmt.Errorf("monitor: mark confirming %s/%d: %w", watch.SwapID, watch.StepIndex, err)
			}
		}
		watch.Recheck = 0
		return m.enqueue(ctx, watch, params.PollInterval, "")
	}

	// Not found. A tx never seen is still propagating; a tx seen and then
	// gone was reorged out and gets a bounded number of rechecks.
	if step.Status == domain.StepStatusConfirming {
		if watch.Recheck >= m.cfg.ReorgRechecks {
			return m.fail(ctx, watch, fmt.Errorf("gone after %d rechecks: %w", watch.Recheck, domain.ErrTxDropped))
		}
		watch.Recheck++
		m.logger.WarnContext(ctx, "seen transaction missing, rechecking",
			slog.String("swap_id", watch.SwapID),
			slog.Int("step_index", watch.StepIndex),
			slog.Int("recheck", watch.Recheck))
	}
	return m.enqueue(ctx, watch, params.PollInterval, "")
}

func (m *Monitor) fail(ctx context.Context, watch domain.MonitorJob, cause error) error {
	err := m.callbacks.OnStepFailed(ctx, watch.SwapID, watch.StepIndex, cause)
	if errors.Is(err, domain.ErrConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("monitor: fail %s/%d: %w", watch.SwapID, watch.StepIndex, err)
	}
	m.logger.WarnContext(ctx, "step failed",
		slog.String("swap_id", watch.SwapID),
		slog.Int("step_index", watch.StepIndex),
		slog.String("tx_hash", watch.TxHash),
		slog.String("cause", cause.Error()))
	return nil
}

func (m *Monitor) observe(ctx context.Context, watch domain.MonitorJob, route domain.RouteStep) (observation, error) {
	switch watch.Type {
	case domain.WatchTypeEVM:
		w, ok := m.watchers.EVM[watch.Chain]
		if !ok {
			return observation{}, fmt.Errorf("no evm watcher for %q", watch.Chain)
		}
		st, err := w.TransactionStatus(ctx, watch.TxHash)
		if err != nil {
			return observation{}, err
		}
		need := m.params(watch).Confirmations
		return observation{
			found:       st.Found,
			failed:      st.Found && st.Reverted,
			final:       st.Found && !st.Reverted && st.Confirmations >= need,
			blockNumber: int64(st.BlockNumber),
			gasUsed:     st.GasUsed,
		}, nil

	case domain.WatchTypeSolana:
		w, ok := m.watchers.Solana[watch.Chain]
		if !ok {
			return observation{}, fmt.Errorf("no solana watcher for %q", watch.Chain)
		}
		st, err := w.SignatureStatus(ctx, watch.TxHash)
		if err != nil {
			return observation{}, err
		}
		return observation{
			found:       st.Found,
			failed:      st.Found && st.Failed,
			final:       st.Found && !st.Failed && st.Finalized,
			blockNumber: int64(st.Slot),
		}, nil

	case domain.WatchTypeSui:
		w, ok := m.watchers.Sui[watch.Chain]
		if !ok {
			return observation{}, fmt.Errorf("no sui watcher for %q", watch.Chain)
		}
		st, err := w.TransactionStatus(ctx, watch.TxHash)
		if err != nil {
			return observation{}, err
		}
		return observation{
			found:       st.Found,
			failed:      st.Found && st.Failed,
			final:       st.Found && !st.Failed && st.Checkpoint > 0,
			blockNumber: int64(st.Checkpoint),
		}, nil

	case domain.WatchTypeBridge:
		if m.watchers.Bridge == nil {
			return observation{}, fmt.Errorf("no bridge watcher configured")
		}
		d, err := m.watchers.Bridge.DeliveryStatus(ctx, route.Protocol, watch.Chain, watch.TxHash)
		if err != nil {
			return observation{}, err
		}
		return observation{
			// Unindexed transfers report pending, never not-found.
			found:      true,
			failed:     d.Status == bridge.StateFailed,
			final:      d.Status == bridge.StateDelivered,
			destTxHash: d.DestTxHash,
			detail:     d.Message,
		}, nil
	}

	return observation{}, fmt.Errorf("unknown watch type %q", watch.Type)
}

func (m *Monitor) failureCause(watch domain.MonitorJob, obs observation) error {
	if watch.Type == domain.WatchTypeBridge {
		if obs.detail != "" {
			return fmt.Errorf("%s: %w", obs.detail, domain.ErrBridgeFailed)
		}
		return domain.ErrBridgeFailed
	}
	return domain.ErrTxReverted
}

func (m *Monitor) enqueue(ctx context.Context, watch domain.MonitorJob, delay time.Duration, dedupeKey string) error {
	payload, err := json.Marshal(watch)
	if err != nil {
		return fmt.Errorf("monitor: marshal watch: %w", err)
	}
	err = m.queue.Enqueue(ctx, domain.QueueMonitor, payload, domain.EnqueueOptions{
		Attempts:  redeliverAttempts,
		Backoff:   redeliverBackoff,
		Delay:     delay,
		DedupeKey: dedupeKey,
	})
	if err != nil {
		return fmt.Errorf("monitor: re-enqueue watch %s/%d: %w", watch.SwapID, watch.StepIndex, err)
	}
	return nil
}

func (m *Monitor) params(watch domain.MonitorJob) ChainParams {
	if watch.Type == domain.WatchTypeBridge {
		return m.cfg.Bridge
	}
	if p, ok := m.cfg.Chains[watch.Chain]; ok {
		return p.withDefaults()
	}
	return ChainParams{}.withDefaults()
}

// watchStart anchors the max-wait clock. Steps are stamped at submission;
// swap-level times cover records missing the stamp.
func (m *Monitor) watchStart(swap domain.Swap, step domain.SwapStepExecution) time.Time {
	if step.StartedAt != nil {
		return *step.StartedAt
	}
	if swap.StartedAt != nil {
		return *swap.StartedAt
	}
	return swap.CreatedAt
}
