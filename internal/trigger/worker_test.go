package trigger

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
	"github.com/omniswap/swapd/internal/store/memory"
)

type fakeNotifier struct {
	mu     sync.Mutex
	fired  []string // condition IDs
	prices []string
	err    error
}

func (n *fakeNotifier) PriceAlertFired(_ context.Context, cond domain.TriggerCondition, price string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.fired = append(n.fired, cond.ID)
	n.prices = append(n.prices, price)
	return nil
}

type fakeInitiator struct {
	mu    sync.Mutex
	conds []string
	err   error
}

func (f *fakeInitiator) InitiateTriggeredSwap(_ context.Context, cond domain.TriggerCondition) (domain.Swap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.Swap{}, f.err
	}
	f.conds = append(f.conds, cond.ID)
	return domain.Swap{ID: "swap-" + cond.ID}, nil
}

type fakePrices struct {
	prices map[string]float64
	err    error
	calls  int
}

func (p *fakePrices) Prices(_ context.Context, _ []string) (map[string]float64, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.prices, nil
}

type fakeQueue struct{}

func (q *fakeQueue) Enqueue(context.Context, string, []byte, domain.EnqueueOptions) error {
	return nil
}

func (q *fakeQueue) Consume(ctx context.Context, _ string, _ domain.JobHandler, _ domain.ConsumeOptions) error {
	<-ctx.Done()
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bulkJob(t *testing.T, kind domain.TriggerKind) domain.Job {
	t.Helper()
	payload, err := json.Marshal(domain.BulkCheckJob{Kind: kind, ScheduledAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("marshal bulk check: %v", err)
	}
	return domain.Job{ID: "j1", Queue: domain.QueueForKind(kind), Payload: payload, Attempt: 1}
}

func alertCondition(id, token, target string, cmp domain.Comparison) domain.TriggerCondition {
	return domain.TriggerCondition{
		ID:          id,
		Kind:        domain.TriggerKindPriceAlert,
		UserAddress: "0xuser",
		Token:       token,
		Chain:       "ethereum",
		Comparison:  cmp,
		TargetPrice: target,
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}
}

func mustCreate(t *testing.T, store domain.TriggerStore, cond domain.TriggerCondition) {
	t.Helper()
	if err := store.Create(context.Background(), cond); err != nil {
		t.Fatalf("create condition %s: %v", cond.ID, err)
	}
}

func TestAlertFiresOnceThenDeactivates(t *testing.T) {
	store := memory.NewTriggerStore()
	mustCreate(t, store, alertCondition("a1", "ETH", "2000", domain.ComparisonAbove))

	notifier := &fakeNotifier{}
	prices := &fakePrices{prices: map[string]float64{"ETH": 2100}}
	w := NewWorker(NewAlertEvaluator(notifier, store), store, prices, &fakeQueue{}, WorkerConfig{}, discardLogger())

	if err := w.handle(context.Background(), bulkJob(t, domain.TriggerKindPriceAlert)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(notifier.fired) != 1 || notifier.fired[0] != "a1" {
		t.Fatalf("notifications = %v, want [a1]", notifier.fired)
	}

	cond, err := store.GetByID(context.Background(), "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cond.Active {
		t.Fatal("fired alert still active")
	}
	if cond.FiredAt == nil {
		t.Fatal("fired alert missing FiredAt")
	}

	// A second sweep sees no active conditions and sends nothing.
	if err := w.handle(context.Background(), bulkJob(t, domain.TriggerKindPriceAlert)); err != nil {
		t.Fatalf("second handle: %v", err)
	}
	if len(notifier.fired) != 1 {
		t.Fatalf("notifications after second sweep = %d, want 1", len(notifier.fired))
	}
}

func TestAlertBelowComparison(t *testing.T) {
	store := memory.NewTriggerStore()
	mustCreate(t, store, alertCondition("a1", "ETH", "1500", domain.ComparisonBelow))
	mustCreate(t, store, alertCondition("a2", "ETH", "1000", domain.ComparisonBelow))

	notifier := &fakeNotifier{}
	prices := &fakePrices{prices: map[string]float64{"ETH": 1200}}
	w := NewWorker(NewAlertEvaluator(notifier, store), store, prices, &fakeQueue{}, WorkerConfig{}, discardLogger())

	if err := w.handle(context.Background(), bulkJob(t, domain.TriggerKindPriceAlert)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(notifier.fired) != 1 || notifier.fired[0] != "a1" {
		t.Fatalf("notifications = %v, want only a1 (1200 <= 1500)", notifier.fired)
	}
}

func TestAlertUnreachedTargetStaysActive(t *testing.T) {
	store := memory.NewTriggerStore()
	mustCreate(t, store, alertCondition("a1", "ETH", "3000", domain.ComparisonAbove))

	notifier := &fakeNotifier{}
	prices := &fakePrices{prices: map[string]float64{"ETH": 2100}}
	w := NewWorker(NewAlertEvaluator(notifier, store), store, prices, &fakeQueue{}, WorkerConfig{}, discardLogger())

	if err := w.handle(context.Background(), bulkJob(t, domain.TriggerKindPriceAlert)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(notifier.fired) != 0 {
		t.Fatalf("notifications = %v, want none", notifier.fired)
	}

	cond, _ := store.GetByID(context.Background(), "a1")
	if !cond.Active {
		t.Fatal("unfired alert was deactivated")
	}
	if cond.LastCheckedAt == nil {
		t.Fatal("sweep did not stamp LastCheckedAt")
	}
}

func TestLimitOrderOpensSwapThenDeactivates(t *testing.T) {
	store := memory.NewTriggerStore()
	cond := alertCondition("lo1", "ETH", "2000", domain.ComparisonBelow)
	cond.Kind = domain.TriggerKindLimitOrder
	cond.FromToken = "0xa1"
	cond.ToToken = "0xb2"
	cond.Amount = "1000000"
	mustCreate(t, store, cond)

	initiator := &fakeInitiator{}
	prices := &fakePrices{prices: map[string]float64{"ETH": 1900}}
	w := NewWorker(NewLimitOrderEvaluator(initiator, store), store, prices, &fakeQueue{}, WorkerConfig{}, discardLogger())

	if err := w.handle(context.Background(), bulkJob(t, domain.TriggerKindLimitOrder)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(initiator.conds) != 1 || initiator.conds[0] != "lo1" {
		t.Fatalf("initiated swaps = %v, want [lo1]", initiator.conds)
	}

	got, _ := store.GetByID(context.Background(), "lo1")
	if got.Active {
		t.Fatal("filled limit order still active")
	}
}

func TestDCAAdvancesScheduleAndCounter(t *testing.T) {
	store := memory.NewTriggerStore()
	due := time.Now().Add(-time.Minute)
	cond := domain.TriggerCondition{
		ID:          "dca1",
		Kind:        domain.TriggerKindDCA,
		UserAddress: "0xuser",
		FromToken:   "0xa1",
		ToToken:     "0xb2",
		Amount:      "500000",
		IntervalSec: 3600,
		NextRunAt:   &due,
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}
	mustCreate(t, store, cond)

	initiator := &fakeInitiator{}
	w := NewWorker(NewDCAEvaluator(initiator, store), store, &fakePrices{}, &fakeQueue{}, WorkerConfig{}, discardLogger())

	if err := w.handle(context.Background(), bulkJob(t, domain.TriggerKindDCA)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(initiator.conds) != 1 {
		t.Fatalf("initiated swaps = %v, want one", initiator.conds)
	}

	got, _ := store.GetByID(context.Background(), "dca1")
	if got.ExecutionNumber != 1 {
		t.Fatalf("execution number = %d, want 1", got.ExecutionNumber)
	}
	if !got.Active {
		t.Fatal("DCA schedule deactivated by execution")
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(time.Now()) {
		t.Fatalf("next run = %v, want in the future", got.NextRunAt)
	}
}

func TestDCANotDueIsSkipped(t *testing.T) {
	store := memory.NewTriggerStore()
	later := time.Now().Add(time.Hour)
	mustCreate(t, store, domain.TriggerCondition{
		ID:          "dca1",
		Kind:        domain.TriggerKindDCA,
		UserAddress: "0xuser",
		IntervalSec: 3600,
		NextRunAt:   &later,
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	})

	initiator := &fakeInitiator{}
	w := NewWorker(NewDCAEvaluator(initiator, store), store, &fakePrices{}, &fakeQueue{}, WorkerConfig{}, discardLogger())

	if err := w.handle(context.Background(), bulkJob(t, domain.TriggerKindDCA)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(initiator.conds) != 0 {
		t.Fatalf("initiated swaps = %v, want none", initiator.conds)
	}
}

func TestBadConditionDoesNotStarveOthers(t *testing.T) {
	store := memory.NewTriggerStore()
	bad := alertCondition("bad", "ETH", "not-a-number", domain.ComparisonAbove)
	bad.CreatedAt = time.Now().Add(-time.Minute)
	mustCreate(t, store, bad)
	mustCreate(t, store, alertCondition("good", "ETH", "2000", domain.ComparisonAbove))

	notifier := &fakeNotifier{}
	prices := &fakePrices{prices: map[string]float64{"ETH": 2100}}
	w := NewWorker(NewAlertEvaluator(notifier, store), store, prices, &fakeQueue{}, WorkerConfig{}, discardLogger())

	if err := w.handle(context.Background(), bulkJob(t, domain.TriggerKindPriceAlert)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(notifier.fired) != 1 || notifier.fired[0] != "good" {
		t.Fatalf("notifications = %v, want [good]", notifier.fired)
	}
}

func TestMissingPriceSkipsCondition(t *testing.T) {
	store := memory.NewTriggerStore()
	mustCreate(t, store, alertCondition("a1", "OBSCURE", "2000", domain.ComparisonAbove))

	notifier := &fakeNotifier{}
	prices := &fakePrices{prices: map[string]float64{"ETH": 2100}}
	w := NewWorker(NewAlertEvaluator(notifier, store), store, prices, &fakeQueue{}, WorkerConfig{}, discardLogger())

	if err := w.handle(context.Background(), bulkJob(t, domain.TriggerKindPriceAlert)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(notifier.fired) != 0 {
		t.Fatalf("notifications = %v, want none", notifier.fired)
	}
	cond, _ := store.GetByID(context.Background(), "a1")
	if !cond.Active {
		t.Fatal("unpriced condition was deactivated")
	}
}

func TestExecutionFailureLeavesConditionActive(t *testing.T) {
	store := memory.NewTriggerStore()
	mustCreate(t, store, alertCondition("a1", "ETH", "2000", domain.ComparisonAbove))

	notifier := &fakeNotifier{err: errors.New("webhook down")}
	prices := &fakePrices{prices: map[string]float64{"ETH": 2100}}
	w := NewWorker(NewAlertEvaluator(notifier, store), store, prices, &fakeQueue{}, WorkerConfig{}, discardLogger())

	if err := w.handle(context.Background(), bulkJob(t, domain.TriggerKindPriceAlert)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	cond, _ := store.GetByID(context.Background(), "a1")
	if !cond.Active {
		t.Fatal("condition marked despite failed execution")
	}
}

func TestPriceSnapshotFailureRetriesBulkJob(t *testing.T) {
	store := memory.NewTriggerStore()
	mustCreate(t, store, alertCondition("a1", "ETH", "2000", domain.ComparisonAbove))

	w := NewWorker(NewAlertEvaluator(&fakeNotifier{}, store), store,
		&fakePrices{err: errors.New("provider down")}, &fakeQueue{}, WorkerConfig{}, discardLogger())

	if err := w.handle(context.Background(), bulkJob(t, domain.TriggerKindPriceAlert)); err == nil {
		t.Fatal("handle swallowed a price snapshot failure")
	}
}

func TestWrongKindJobDropped(t *testing.T) {
	store := memory.NewTriggerStore()
	mustCreate(t, store, alertCondition("a1", "ETH", "2000", domain.ComparisonAbove))

	notifier := &fakeNotifier{}
	prices := &fakePrices{prices: map[string]float64{"ETH": 2100}}
	w := NewWorker(NewAlertEvaluator(notifier, store), store, prices, &fakeQueue{}, WorkerConfig{}, discardLogger())

	if err := w.handle(context.Background(), bulkJob(t, domain.TriggerKindDCA)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(notifier.fired) != 0 {
		t.Fatalf("wrong-kind job fired %v", notifier.fired)
	}
}

func TestSnapshotDeduplicatesTokens(t *testing.T) {
	store := memory.NewTriggerStore()
	c1 := alertCondition("a1", "ETH", "2000", domain.ComparisonAbove)
	c1.CreatedAt = time.Now().Add(-time.Second)
	mustCreate(t, store, c1)
	mustCreate(t, store, alertCondition("a2", "ETH", "5000", domain.ComparisonAbove))

	notifier := &fakeNotifier{}
	prices := &fakePrices{prices: map[string]float64{"ETH": 2100}}
	w := NewWorker(NewAlertEvaluator(notifier, store), store, prices, &fakeQueue{}, WorkerConfig{}, discardLogger())

	if err := w.handle(context.Background(), bulkJob(t, domain.TriggerKindPriceAlert)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if prices.calls != 1 {
		t.Fatalf("price lookups = %d, want one batched call", prices.calls)
	}
	if len(notifier.fired) != 1 || notifier.fired[0] != "a1" {
		t.Fatalf("notifications = %v, want [a1]", notifier.fired)
	}
}
