package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/omniswap/swapd/internal/domain"
	"github.com/omniswap/swapd/internal/platform/bridge"
	"github.com/omniswap/swapd/internal/platform/evm"
	"github.com/omniswap/swapd/internal/platform/solana"
	"github.com/omniswap/swapd/internal/platform/sui"
)

type enqueuedJob struct {
	queue   string
	payload []byte
	opts    domain.EnqueueOptions
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []enqueuedJob
}

func (q *fakeQueue) Enqueue(_ context.Context, queue string, payload []byte, opts domain.EnqueueOptions) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, enqueuedJob{queue: queue, payload: payload, opts: opts})
	return nil
}

func (q *fakeQueue) Consume(ctx context.Context, _ string, _ domain.JobHandler, _ domain.ConsumeOptions) error {
	<-ctx.Done()
	return nil
}

type fakeEVMWatcher struct {
	status evm.TxStatus
	err    error
}

func (w *fakeEVMWatcher) TransactionStatus(context.Context, string) (evm.TxStatus, error) {
	return w.status, w.err
}

type fakeSolanaWatcher struct{ status solana.SigStatus }

func (w *fakeSolanaWatcher) SignatureStatus(context.Context, string) (solana.SigStatus, error) {
	return w.status, nil
}

type fakeSuiWatcher struct{ status sui.TxStatus }

func (w *fakeSuiWatcher) TransactionStatus(context.Context, string) (sui.TxStatus, error) {
	return w.status, nil
}

type fakeBridgeWatcher struct{ delivery bridge.Delivery }

func (w *fakeBridgeWatcher) DeliveryStatus(context.Context, string, string, string) (bridge.Delivery, error) {
	return w.delivery, nil
}

type fakeSwaps struct{ swap domain.Swap }

func (s *fakeSwaps) GetByID(_ context.Context, id string) (domain.Swap, error) {
	if id != s.swap.ID {
		return domain.Swap{}, domain.ErrNotFound
	}
	return s.swap, nil
}

type callbackRecorder struct {
	mu         sync.Mutex
	confirming int
	confirmed  []StepConfirmation
	failed     []error
}

func (r *callbackRecorder) OnStepConfirming(context.Context, string, int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirming++
	return nil
}

func (r *callbackRecorder) OnStepConfirmed(_ context.Context, _ string, _ int, conf StepConfirmation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirmed = append(r.confirmed, conf)
	return nil
}

func (r *callbackRecorder) OnStepFailed(_ context.Context, _ string, _ int, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, cause)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func watchedSwap(stepType domain.StepType, chain string, stepStatus domain.StepStatus) domain.Swap {
	started := time.Now().Add(-time.Minute)
	return domain.Swap{
		ID:          "swap-1",
		UserAddress: "0xuser",
		Status:      domain.SwapStatusProcessing,
		Route: []domain.RouteStep{{
			Type:      stepType,
			Chain:     chain,
			Protocol:  "wormhole",
			FromToken: "0xa1",
			ToToken:   "0xb2",
			AmountIn:  "100",
		}},
		Steps: []domain.SwapStepExecution{{
			StepIndex: 0,
			Status:    stepStatus,
			TxHash:    "0xfeed",
			StartedAt: &started,
		}},
		CreatedAt: started,
	}
}

func watchJob(t *testing.T, typ domain.WatchType, chain string, recheck int) domain.Job {
	t.Helper()
	payload, err := json.Marshal(domain.MonitorJob{
		SwapID:    "swap-1",
		StepIndex: 0,
		Chain:     chain,
		TxHash:    "0xfeed",
		Type:      typ,
		Recheck:   recheck,
	})
	if err != nil {
		t.Fatalf("marshal watch: %v", err)
	}
	return domain.Job{ID: "j1", Queue: domain.QueueMonitor, Payload: payload, Attempt: 1}
}

func newMonitor(watchers WatcherSet, swaps SwapReader, cb StepCallbacks, q domain.Queue, cfg Config) *Monitor {
	return New(watchers, swaps, cb, q, cfg, discardLogger())
}

func ethParams() map[string]ChainParams {
	return map[string]ChainParams{"ethereum": {
		Confirmations: 3,
		PollInterval:  7 * time.Second,
		MaxWait:       time.Hour,
	}}
}

func TestConfirmsAtConfiguredDepth(t *testing.T) {
	w := &fakeEVMWatcher{status: evm.TxStatus{Found: true, BlockNumber: 120, Confirmations: 3, GasUsed: 21000}}
	cb := &callbackRecorder{}
	q := &fakeQueue{}
	m := newMonitor(WatcherSet{EVM: map[string]EVMWatcher{"ethereum": w}},
		&fakeSwaps{swap: watchedSwap(domain.StepTypeSwap, "ethereum", domain.StepStatusConfirming)},
		cb, q, Config{Chains: ethParams()})

	if err := m.handle(context.Background(), watchJob(t, domain.WatchTypeEVM, "ethereum", 0)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(cb.confirmed) != 1 {
		t.Fatalf("confirmed callbacks = %d, want 1", len(cb.confirmed))
	}
	conf := cb.confirmed[0]
	if conf.BlockNumber != 120 || conf.GasUsed != 21000 || conf.TxHash != "0xfeed" {
		t.Fatalf("confirmation = %+v", conf)
	}
	if len(q.jobs) != 0 {
		t.Fatal("confirmed watch was re-enqueued")
	}
}

func TestBelowDepthMarksConfirmingAndRepolls(t *testing.T) {
	w := &fakeEVMWatcher{status: evm.TxStatus{Found: true, BlockNumber: 120, Confirmations: 1}}
	cb := &callbackRecorder{}
	q := &fakeQueue{}
	m := newMonitor(WatcherSet{EVM: map[string]EVMWatcher{"ethereum": w}},
		&fakeSwaps{swap: watchedSwap(domain.StepTypeSwap, "ethereum", domain.StepStatusSubmitted)},
		cb, q, Config{Chains: ethParams()})

	if err := m.handle(context.Background(), watchJob(t, domain.WatchTypeEVM, "ethereum", 0)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if cb.confirming != 1 {
		t.Fatalf("confirming callbacks = %d, want 1", cb.confirming)
	}
	if len(cb.confirmed) != 0 {
		t.Fatal("step confirmed below depth")
	}
	if len(q.jobs) != 1 {
		t.Fatalf("re-enqueued %d watches, want 1", len(q.jobs))
	}
	if q.jobs[0].opts.Delay != 7*time.Second {
		t.Fatalf("repoll delay = %v, want poll interval", q.jobs[0].opts.Delay)
	}
	if q.jobs[0].opts.DedupeKey != "" {
		t.Fatal("repoll carries a dedupe key")
	}
}

func TestRevertedTransactionFailsStep(t *testing.T) {
	w := &fakeEVMWatcher{status: evm.TxStatus{Found: true, Reverted: true, BlockNumber: 120, Confirmations: 5}}
	cb := &callbackRecorder{}
	q := &fakeQueue{}
	m := newMonitor(WatcherSet{EVM: map[string]EVMWatcher{"ethereum": w}},
		&fakeSwaps{swap: watchedSwap(domain.StepTypeSwap, "ethereum", domain.StepStatusConfirming)},
		cb, q, Config{Chains: ethParams()})

	if err := m.handle(context.Background(), watchJob(t, domain.WatchTypeEVM, "ethereum", 0)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(cb.failed) != 1 || !errors.Is(cb.failed[0], domain.ErrTxReverted) {
		t.Fatalf("failed callbacks = %v, want %v", cb.failed, domain.ErrTxReverted)
	}
	if len(q.jobs) != 0 {
		t.Fatal("failed watch was re-enqueued")
	}
}

func TestMaxWaitTimesOut(t *testing.T) {
	w := &fakeEVMWatcher{status: evm.TxStatus{Found: true, Confirmations: 1}}
	cb := &callbackRecorder{}
	q := &fakeQueue{}
	swap := watchedSwap(domain.StepTypeSwap, "ethereum", domain.StepStatusConfirming)
	old := time.Now().Add(-2 * time.Hour)
	swap.Steps[0].StartedAt = &old
	m := newMonitor(WatcherSet{EVM: map[string]EVMWatcher{"ethereum": w}},
		&fakeSwaps{swap: swap}, cb, q, Config{Chains: ethParams()})

	if err := m.handle(context.Background(), watchJob(t, domain.WatchTypeEVM, "ethereum", 0)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(cb.failed) != 1 || !errors.Is(cb.failed[0], domain.ErrTxTimeout) {
		t.Fatalf("failed callbacks = %v, want %v", cb.failed, domain.ErrTxTimeout)
	}
}

func TestVanishedTransactionRechecksThenDrops(t *testing.T) {
	w := &fakeEVMWatcher{status: evm.TxStatus{Found: false}}
	swap := watchedSwap(domain.StepTypeSwap, "ethereum", domain.StepStatusConfirming)
	cfg := Config{Chains: ethParams(), ReorgRechecks: 2}

	t.Run("recheck increments", func(t *testing.T) {
		cb := &callbackRecorder{}
		q := &fakeQueue{}
		m := newMonitor(WatcherSet{EVM: map[string]EVMWatcher{"ethereum": w}}, &fakeSwaps{swap: swap}, cb, q, cfg)

		if err := m.handle(context.Background(), watchJob(t, domain.WatchTypeEVM, "ethereum", 0)); err != nil {
			t.Fatalf("handle: %v", err)
		}
		if len(q.jobs) != 1 {
			t.Fatalf("re-enqueued %d watches, want 1", len(q.jobs))
		}
		var next domain.MonitorJob
		if err := json.Unmarshal(q.jobs[0].payload, &next); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if next.Recheck != 1 {
			t.Fatalf("recheck = %d, want 1", next.Recheck)
		}
		if len(cb.failed) != 0 {
			t.Fatal("step failed before recheck budget spent")
		}
	})

	t.Run("budget exhausted drops", func(t *testing.T) {
		cb := &callbackRecorder{}
		q := &fakeQueue{}
		m := newMonitor(WatcherSet{EVM: map[string]EVMWatcher{"ethereum": w}}, &fakeSwaps{swap: swap}, cb, q, cfg)

		if err := m.handle(context.Background(), watchJob(t, domain.WatchTypeEVM, "ethereum", 2)); err != nil {
			t.Fatalf("handle: %v", err)
		}
		if len(cb.failed) != 1 || !errors.Is(cb.failed[0], domain.ErrTxDropped) {
			t.Fatalf("failed callbacks = %v, want %v", cb.failed, domain.ErrTxDropped)
		}
		if len(q.jobs) != 0 {
			t.Fatal("dropped watch was re-enqueued")
		}
	})
}

func TestUnseenTransactionKeepsPollingWithoutRecheck(t *testing.T) {
	w := &fakeEVMWatcher{status: evm.TxStatus{Found: false}}
	cb := &callbackRecorder{}
	q := &fakeQueue{}
	m := newMonitor(WatcherSet{EVM: map[string]EVMWatcher{"ethereum": w}},
		&fakeSwaps{swap: watchedSwap(domain.StepTypeSwap, "ethereum", domain.StepStatusSubmitted)},
		cb, q, Config{Chains: ethParams()})

	if err := m.handle(context.Background(), watchJob(t, domain.WatchTypeEVM, "ethereum", 0)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(q.jobs) != 1 {
		t.Fatalf("re-enqueued %d watches, want 1", len(q.jobs))
	}
	var next domain.MonitorJob
	if err := json.Unmarshal(q.jobs[0].payload, &next); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if next.Recheck != 0 {
		t.Fatalf("recheck = %d for never-seen tx, want 0", next.Recheck)
	}
}

func TestBridgeStepSwitchesToDeliveryWatch(t *testing.T) {
	w := &fakeEVMWatcher{status: evm.TxStatus{Found: true, BlockNumber: 99, Confirmations: 5}}
	cb := &callbackRecorder{}
	q := &fakeQueue{}
	m := newMonitor(WatcherSet{EVM: map[string]EVMWatcher{"ethereum": w}},
		&fakeSwaps{swap: watchedSwap(domain.StepTypeBridge, "ethereum", domain.StepStatusConfirming)},
		cb, q, Config{Chains: ethParams()})

	if err := m.handle(context.Background(), watchJob(t, domain.WatchTypeEVM, "ethereum", 0)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(cb.confirmed) != 0 {
		t.Fatal("bridge step confirmed on source landing alone")
	}
	if len(q.jobs) != 1 {
		t.Fatalf("enqueued %d watches, want 1 delivery watch", len(q.jobs))
	}
	var next domain.MonitorJob
	if err := json.Unmarshal(q.jobs[0].payload, &next); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if next.Type != domain.WatchTypeBridge {
		t.Fatalf("next watch type = %q, want bridge", next.Type)
	}
	if q.jobs[0].opts.DedupeKey == "" {
		t.Fatal("delivery watch enqueued without dedupe key")
	}
}

func TestBridgeDeliveryConfirmsWithDestinationHash(t *testing.T) {
	bw := &fakeBridgeWatcher{delivery: bridge.Delivery{Status: bridge.StateDelivered, DestTxHash: "0xdst"}}
	cb := &callbackRecorder{}
	q := &fakeQueue{}
	m := newMonitor(WatcherSet{Bridge: bw},
		&fakeSwaps{swap: watchedSwap(domain.StepTypeBridge, "ethereum", domain.StepStatusConfirming)},
		cb, q, Config{Chains: ethParams()})

	if err := m.handle(context.Background(), watchJob(t, domain.WatchTypeBridge, "ethereum", 0)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(cb.confirmed) != 1 {
		t.Fatalf("confirmed callbacks = %d, want 1", len(cb.confirmed))
	}
	if cb.confirmed[0].DestTxHash != "0xdst" {
		t.Fatalf("dest tx hash = %q, want 0xdst", cb.confirmed[0].DestTxHash)
	}
}

func TestBridgeDeliveryFailureFailsStep(t *testing.T) {
	bw := &fakeBridgeWatcher{delivery: bridge.Delivery{Status: bridge.StateFailed, Message: "insufficient liquidity"}}
	cb := &callbackRecorder{}
	q := &fakeQueue{}
	m := newMonitor(WatcherSet{Bridge: bw},
		&fakeSwaps{swap: watchedSwap(domain.StepTypeBridge, "ethereum", domain.StepStatusConfirming)},
		cb, q, Config{})

	if err := m.handle(context.Background(), watchJob(t, domain.WatchTypeBridge, "ethereum", 0)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(cb.failed) != 1 || !errors.Is(cb.failed[0], domain.ErrBridgeFailed) {
		t.Fatalf("failed callbacks = %v, want %v", cb.failed, domain.ErrBridgeFailed)
	}
}

func TestBridgePendingDeliveryRepolls(t *testing.T) {
	bw := &fakeBridgeWatcher{delivery: bridge.Delivery{Status: bridge.StatePending}}
	cb := &callbackRecorder{}
	q := &fakeQueue{}
	m := newMonitor(WatcherSet{Bridge: bw},
		&fakeSwaps{swap: watchedSwap(domain.StepTypeBridge, "ethereum", domain.StepStatusConfirming)},
		cb, q, Config{Bridge: ChainParams{PollInterval: 9 * time.Second, MaxWait: time.Hour}})

	if err := m.handle(context.Background(), watchJob(t, domain.WatchTypeBridge, "ethereum", 0)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(q.jobs) != 1 {
		t.Fatalf("re-enqueued %d watches, want 1", len(q.jobs))
	}
	if q.jobs[0].opts.Delay != 9*time.Second {
		t.Fatalf("repoll delay = %v, want bridge poll interval", q.jobs[0].opts.Delay)
	}
}

func TestSolanaFinalizedConfirms(t *testing.T) {
	w := &fakeSolanaWatcher{status: solana.SigStatus{Found: true, Finalized: true, Slot: 421}}
	cb := &callbackRecorder{}
	q := &fakeQueue{}
	m := newMonitor(WatcherSet{Solana: map[string]SolanaWatcher{"solana": w}},
		&fakeSwaps{swap: watchedSwap(domain.StepTypeSwap, "solana", domain.StepStatusConfirming)},
		cb, q, Config{})

	if err := m.handle(context.Background(), watchJob(t, domain.WatchTypeSolana, "solana", 0)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(cb.confirmed) != 1 || cb.confirmed[0].BlockNumber != 421 {
		t.Fatalf("confirmed = %+v, want slot 421", cb.confirmed)
	}
}

func TestSuiCheckpointConfirms(t *testing.T) {
	w := &fakeSuiWatcher{status: sui.TxStatus{Found: true, Checkpoint: 88}}
	cb := &callbackRecorder{}
	q := &fakeQueue{}
	m := newMonitor(WatcherSet{Sui: map[string]SuiWatcher{"sui": w}},
		&fakeSwaps{swap: watchedSwap(domain.StepTypeSwap, "sui", domain.StepStatusConfirming)},
		cb, q, Config{})

	if err := m.handle(context.Background(), watchJob(t, domain.WatchTypeSui, "sui", 0)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(cb.confirmed) != 1 || cb.confirmed[0].BlockNumber != 88 {
		t.Fatalf("confirmed = %+v, want checkpoint 88", cb.confirmed)
	}
}

func TestSettledStepDropsWatch(t *testing.T) {
	w := &fakeEVMWatcher{status: evm.TxStatus{Found: true, Confirmations: 9}}
	cb := &callbackRecorder{}
	q := &fakeQueue{}
	m := newMonitor(WatcherSet{EVM: map[string]EVMWatcher{"ethereum": w}},
		&fakeSwaps{swap: watchedSwap(domain.StepTypeSwap, "ethereum", domain.StepStatusConfirmed)},
		cb, q, Config{Chains: ethParams()})

	if err := m.handle(context.Background(), watchJob(t, domain.WatchTypeEVM, "ethereum", 0)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if cb.confirming != 0 || len(cb.confirmed) != 0 || len(cb.failed) != 0 {
		t.Fatal("settled step triggered callbacks")
	}
	if len(q.jobs) != 0 {
		t.Fatal("settled step was re-enqueued")
	}
}

func TestTransportErrorRequeuesDelivery(t *testing.T) {
	w := &fakeEVMWatcher{err: errors.New("connection refused")}
	cb := &callbackRecorder{}
	q := &fakeQueue{}
	m := newMonitor(WatcherSet{EVM: map[string]EVMWatcher{"ethereum": w}},
		&fakeSwaps{swap: watchedSwap(domain.StepTypeSwap, "ethereum", domain.StepStatusConfirming)},
		cb, q, Config{Chains: ethParams()})

	if err := m.handle(context.Background(), watchJob(t, domain.WatchTypeEVM, "ethereum", 0)); err == nil {
		t.Fatal("handle swallowed a transport error")
	}
	if len(cb.failed) != 0 {
		t.Fatal("transport error failed the step")
	}
}

func TestUndecodableWatchIsDropped(t *testing.T) {
	cb := &callbackRecorder{}
	q := &fakeQueue{}
	m := newMonitor(WatcherSet{}, &fakeSwaps{}, cb, q, Config{})

	job := domain.Job{ID: "j1", Queue: domain.QueueMonitor, Payload: []byte("{not json"), Attempt: 1}
	if err := m.handle(context.Background(), job); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(q.jobs) != 0 {
		t.Fatal("poison watch was re-enqueued")
	}
}
