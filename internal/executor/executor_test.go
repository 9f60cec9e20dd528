package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/omniswap/swapd/internal/crypto"
	"github.com/omniswap/swapd/internal/domain"
	"github.com/omniswap/swapd/internal/platform/cex"
	"github.com/omniswap/swapd/internal/store/memory"
)

const testUser = "0x00000000000000000000000000000000000000aa"

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

func (q *fakeQueue) all() []enqueuedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]enqueuedJob(nil), q.jobs...)
}

type fakeEVM struct {
	mu       sync.Mutex
	sendErrs []error
	hash     string
	sends    int
	estGas   uint64
	estErr   error
}

func (c *fakeEVM) SendRawTransaction(context.Context, string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends++
	if len(c.sendErrs) > 0 {
		err := c.sendErrs[0]
		c.sendErrs = c.sendErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return c.hash, nil
}

func (c *fakeEVM) EstimateGas(context.Context, string, string, []byte, *big.Int) (uint64, error) {
	if c.estErr != nil {
		return 0, c.estErr
	}
	return c.estGas, nil
}

type fakeSolana struct{ hash string }

func (c *fakeSolana) SendTransaction(context.Context, string) (string, error) {
	return c.hash, nil
}

type fakeExchange struct {
	depositAddr string
	depositMemo string
	orderID     string
	placeStatus string
	fillStatus  string
	statusCalls int
	withdrawID  string
}

func (f *fakeExchange) DepositAddress(context.Context, string, string) (string, string, error) {
	return f.depositAddr, f.depositMemo, nil
}

func (f *fakeExchange) PlaceOrder(context.Context, string, string, string) (cex.Order, error) {
	return cex.Order{ID: f.orderID, Status: f.placeStatus}, nil
}

func (f *fakeExchange) OrderStatus(_ context.Context, id string) (cex.Order, error) {
	f.statusCalls++
	return cex.Order{ID: id, Status: f.fillStatus}, nil
}

func (f *fakeExchange) Withdraw(context.Context, string, string, string, string) (string, error) {
	return f.withdrawID, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func swapFixture(steps ...domain.RouteStep) domain.Swap {
	return domain.Swap{
		ID:          "swap-1",
		UserAddress: testUser,
		Route:       steps,
	}
}

func evmSwapStep() domain.RouteStep {
	return domain.RouteStep{
		Type:      domain.StepTypeSwap,
		Chain:     "ethereum",
		Protocol:  "uniswap_v2",
		FromToken: "0x00000000000000000000000000000000000000a1",
		ToToken:   "0x00000000000000000000000000000000000000b2",
		AmountIn:  "1000000",
		MinOutput: "990000",
	}
}

func seededCreds(t *testing.T, exchange string) (*memory.CredentialStore, *crypto.Cipher) {
	t.Helper()
	cipher, err := crypto.NewCipher("executor-test-password")
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	sealed, err := cipher.Seal(domain.CEXCredentials{
		UserAddress: testUser,
		Exchange:    exchange,
		APIKey:      "ak",
		APISecret:   "as",
	})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	store := memory.NewCredentialStore()
	if err := store.Put(context.Background(), domain.EncryptedCredentials{
		UserAddress: testUser,
		Exchange:    exchange,
		Ciphertext:  sealed,
	}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	return store, cipher
}

func TestSubmitEnqueuesMonitorJob(t *testing.T) {
	evm := &fakeEVM{hash: "0xfeed"}
	q := &fakeQueue{}
	ex := New(ChainSet{EVM: map[string]EVMSubmitter{"ethereum": evm}}, nil, nil, nil, q, Config{}, discardLogger())

	swap := swapFixture(evmSwapStep())
	res, err := ex.Submit(context.Background(), swap, 0, "0xsigned")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.TxHash != "0xfeed" {
		t.Fatalf("tx hash = %q, want 0xfeed", res.TxHash)
	}
	if res.Final {
		t.Fatal("chain submission reported final")
	}

	jobs := q.all()
	if len(jobs) != 1 {
		t.Fatalf("enqueued %d jobs, want 1", len(jobs))
	}
	if jobs[0].queue != domain.QueueMonitor {
		t.Fatalf("queue = %q, want %q", jobs[0].queue, domain.QueueMonitor)
	}
	var job domain.MonitorJob
	if err := json.Unmarshal(jobs[0].payload, &job); err != nil {
		t.Fatalf("unmarshal monitor job: %v", err)
	}
	if job.SwapID != swap.ID || job.StepIndex != 0 || job.TxHash != "0xfeed" || job.Type != domain.WatchTypeEVM {
		t.Fatalf("monitor job = %+v", job)
	}
	if jobs[0].opts.DedupeKey == "" {
		t.Fatal("monitor job enqueued without dedupe key")
	}
	if jobs[0].opts.Attempts < 2 {
		t.Fatalf("monitor job attempts = %d, want retries", jobs[0].opts.Attempts)
	}
}

func TestSubmitDoesNotRetryRejections(t *testing.T) {
	cases := []struct {
		name     string
		sendErr  error
		sentinel error
	}{
		{"invalid signature", fmt.Errorf("evm: %w: bad sig", domain.ErrInvalidSignature), domain.ErrInvalidSignature},
		{"broadcast rejected", fmt.Errorf("evm: %w: nonce too low", domain.ErrBroadcast), domain.ErrBroadcast},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			evm := &fakeEVM{sendErrs: []error{tc.sendErr, tc.sendErr, tc.sendErr}}
			q := &fakeQueue{}
			ex := New(ChainSet{EVM: map[string]EVMSubmitter{"ethereum": evm}}, nil, nil, nil, q, Config{SubmitBackoff: time.Millisecond}, discardLogger())

			_, err := ex.Submit(context.Background(), swapFixture(evmSwapStep()), 0, "0xsigned")
			if !errors.Is(err, tc.sentinel) {
				t.Fatalf("err = %v, want %v", err, tc.sentinel)
			}
			if evm.sends != 1 {
				t.Fatalf("broadcast attempts = %d, want 1", evm.sends)
			}
			if len(q.all()) != 0 {
				t.Fatal("monitor job enqueued for rejected submission")
			}
		})
	}
}

func TestSubmitRetriesTransportErrors(t *testing.T) {
	transport := errors.New("connection reset")
	evm := &fakeEVM{hash: "0xok", sendErrs: []error{transport, transport}}
	q := &fakeQueue{}
	ex := New(ChainSet{EVM: map[string]EVMSubmitter{"ethereum": evm}}, nil, nil, nil, q, Config{SubmitBackoff: time.Millisecond}, discardLogger())

	res, err := ex.Submit(context.Background(), swapFixture(evmSwapStep()), 0, "0xsigned")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.TxHash != "0xok" {
		t.Fatalf("tx hash = %q, want 0xok", res.TxHash)
	}
	if evm.sends != 3 {
		t.Fatalf("broadcast attempts = %d, want 3", evm.sends)
	}
}

func TestSubmitGivesUpAfterAttemptCap(t *testing.T) {
	transport := errors.New("connection reset")
	evm := &fakeEVM{sendErrs: []error{transport, transport, transport}}
	q := &fakeQueue{}
	ex := New(ChainSet{EVM: map[string]EVMSubmitter{"ethereum": evm}}, nil, nil, nil, q, Config{SubmitAttempts: 3, SubmitBackoff: time.Millisecond}, discardLogger())

	_, err := ex.Submit(context.Background(), swapFixture(evmSwapStep()), 0, "0xsigned")
	if err == nil {
		t.Fatal("Submit succeeded after exhausted attempts")
	}
	if evm.sends != 3 {
		t.Fatalf("broadcast attempts = %d, want 3", evm.sends)
	}
	if len(q.all()) != 0 {
		t.Fatal("monitor job enqueued for failed submission")
	}
}

func TestSubmitSameStepTwiceConflicts(t *testing.T) {
	evm := &fakeEVM{hash: "0xfeed"}
	q := &fakeQueue{}
	ex := New(ChainSet{EVM: map[string]EVMSubmitter{"ethereum": evm}}, nil, nil, nil, q, Config{}, discardLogger())

	swap := swapFixture(evmSwapStep())
	if _, err := ex.Submit(context.Background(), swap, 0, "0xsigned"); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	_, err := ex.Submit(context.Background(), swap, 0, "0xsigned")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second Submit err = %v, want %v", err, domain.ErrConflict)
	}
	if evm.sends != 1 {
		t.Fatalf("broadcast attempts = %d, want 1", evm.sends)
	}
}

func TestSubmitStepIndexOutOfRange(t *testing.T) {
	ex := New(ChainSet{}, nil, nil, nil, &fakeQueue{}, Config{}, discardLogger())
	_, err := ex.Submit(context.Background(), swapFixture(evmSwapStep()), 5, "0xsigned")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want %v", err, domain.ErrValidation)
	}
}

func TestSubmitCEXDepositConfirmsSynchronously(t *testing.T) {
	q := &fakeQueue{}
	ex := New(ChainSet{}, nil, nil, nil, q, Config{}, discardLogger())

	swap := swapFixture(domain.RouteStep{
		Type:      domain.StepTypeCEXDeposit,
		Chain:     "ethereum",
		FromToken: "ETH",
		AmountIn:  "1000000",
	})
	res, err := ex.Submit(context.Background(), swap, 0, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.Final {
		t.Fatal("deposit step not reported final")
	}
	if !strings.HasPrefix(res.TxHash, "cex:deposit:") {
		t.Fatalf("tx hash = %q, want cex:deposit: prefix", res.TxHash)
	}
	if len(q.all()) != 0 {
		t.Fatal("monitor job enqueued for a CEX step")
	}
}

func TestSubmitCEXTradeAwaitsFill(t *testing.T) {
	store, cipher := seededCreds(t, "binance")
	fx := &fakeExchange{orderID: "ord-7", placeStatus: cex.OrderStatusOpen, fillStatus: cex.OrderStatusFilled}
	factory := func(apiKey, apiSecret string) Exchange {
		if apiKey != "ak" || apiSecret != "as" {
			t.Errorf("factory got %q/%q, want unsealed credentials", apiKey, apiSecret)
		}
		return fx
	}
	q := &fakeQueue{}
	ex := New(ChainSet{}, store, cipher, factory, q, Config{ExchangeName: "binance"}, discardLogger())
	ex.orderPoll = time.Millisecond

	swap := swapFixture(domain.RouteStep{
		Type:      domain.StepTypeCEXTrade,
		Chain:     "binance",
		FromToken: "ETH",
		ToToken:   "USDT",
		AmountIn:  "1.5",
	})
	res, err := ex.Submit(context.Background(), swap, 0, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.TxHash != "cex:order:ord-7" {
		t.Fatalf("tx hash = %q", res.TxHash)
	}
	if !res.Final {
		t.Fatal("trade step not reported final")
	}
	if fx.statusCalls == 0 {
		t.Fatal("open order was never rechecked")
	}
}

func TestSubmitCEXTradeRejectedOrderFails(t *testing.T) {
	store, cipher := seededCreds(t, "binance")
	fx := &fakeExchange{orderID: "ord-8", placeStatus: cex.OrderStatusRejected}
	q := &fakeQueue{}
	ex := New(ChainSet{}, store, cipher, func(string, string) Exchange { return fx }, q, Config{ExchangeName: "binance"}, discardLogger())
	ex.orderPoll = time.Millisecond

	swap := swapFixture(domain.RouteStep{
		Type:      domain.StepTypeCEXTrade,
		Chain:     "binance",
		FromToken: "ETH",
		ToToken:   "USDT",
		AmountIn:  "1.5",
	})
	_, err := ex.Submit(context.Background(), swap, 0, "")
	if !errors.Is(err, domain.ErrBroadcast) {
		t.Fatalf("err = %v, want %v", err, domain.ErrBroadcast)
	}
}

func TestSubmitCEXWithdraw(t *testing.T) {
	store, cipher := seededCreds(t, "binance")
	fx := &fakeExchange{withdrawID: "wd-3"}
	q := &fakeQueue{}
	ex := New(ChainSet{}, store, cipher, func(string, string) Exchange { return fx }, q, Config{ExchangeName: "binance"}, discardLogger())

	swap := swapFixture(domain.RouteStep{
		Type:      domain.StepTypeCEXWithdraw,
		Chain:     "arbitrum",
		FromToken: "USDT",
		AmountIn:  "2500",
	})
	res, err := ex.Submit(context.Background(), swap, 0, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.TxHash != "cex:withdrawal:wd-3" || !res.Final {
		t.Fatalf("result = %+v", res)
	}
}

func TestBuildTransactionSwapCalldata(t *testing.T) {
	evm := &fakeEVM{estGas: 123456}
	cfg := Config{Routers: map[string]string{"ethereum/uniswap_v2": "0x00000000000000000000000000000000000000e1"}}
	ex := New(ChainSet{EVM: map[string]EVMSubmitter{"ethereum": evm}}, nil, nil, nil, &fakeQueue{}, cfg, discardLogger())

	tx, err := ex.BuildTransaction(context.Background(), swapFixture(evmSwapStep()), 0)
	if err != nil {
		t.Fatalf("BuildTransaction: %v", err)
	}
	if tx.To != "0x00000000000000000000000000000000000000e1" {
		t.Fatalf("to = %q, want router", tx.To)
	}
	// swapExactTokensForTokens(uint256,uint256,address[],address,uint256)
	if !strings.HasPrefix(tx.Data, "0x38ed1739") {
		t.Fatalf("data = %.20q, want swapExactTokensForTokens selector", tx.Data)
	}
	if tx.Value != "0" {
		t.Fatalf("value = %q, want 0", tx.Value)
	}
	if tx.GasLimit != 123456 {
		t.Fatalf("gas limit = %d, want estimate 123456", tx.GasLimit)
	}
	if tx.Instruction != nil {
		t.Fatal("on-chain step carries a CEX instruction")
	}
}

func TestBuildTransactionGasFallsBackToDefault(t *testing.T) {
	evm := &fakeEVM{estErr: errors.New("execution reverted")}
	cfg := Config{Routers: map[string]string{"ethereum/wormhole": "0x00000000000000000000000000000000000000e2"}}
	ex := New(ChainSet{EVM: map[string]EVMSubmitter{"ethereum": evm}}, nil, nil, nil, &fakeQueue{}, cfg, discardLogger())

	step := domain.RouteStep{
		Type:      domain.StepTypeBridge,
		Chain:     "ethereum",
		ToChain:   "arbitrum",
		Protocol:  "wormhole",
		FromToken: "0x00000000000000000000000000000000000000a1",
		ToToken:   "0x00000000000000000000000000000000000000a1",
		AmountIn:  "5000000",
		MinOutput: "4990000",
	}
	tx, err := ex.BuildTransaction(context.Background(), swapFixture(step), 0)
	if err != nil {
		t.Fatalf("BuildTransaction: %v", err)
	}
	if tx.GasLimit != defaultBridgeGas {
		t.Fatalf("gas limit = %d, want default %d", tx.GasLimit, defaultBridgeGas)
	}
	if len(tx.Data) <= 10 {
		t.Fatalf("bridge calldata too short: %q", tx.Data)
	}
}

func TestBuildTransactionUsesRouteGasEstimate(t *testing.T) {
	evm := &fakeEVM{estGas: 999}
	cfg := Config{Routers: map[string]string{"ethereum/uniswap_v2": "0x00000000000000000000000000000000000000e1"}}
	ex := New(ChainSet{EVM: map[string]EVMSubmitter{"ethereum": evm}}, nil, nil, nil, &fakeQueue{}, cfg, discardLogger())

	step := evmSwapStep()
	step.EstGasLimit = 210000
	tx, err := ex.BuildTransaction(context.Background(), swapFixture(step), 0)
	if err != nil {
		t.Fatalf("BuildTransaction: %v", err)
	}
	if tx.GasLimit != 210000 {
		t.Fatalf("gas limit = %d, want route estimate 210000", tx.GasLimit)
	}
}

func TestBuildTransactionSolanaTargetsRouter(t *testing.T) {
	cfg := Config{Routers: map[string]string{"solana/jupiter": "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4"}}
	ex := New(ChainSet{Solana: map[string]SolanaSubmitter{"solana": &fakeSolana{}}}, nil, nil, nil, &fakeQueue{}, cfg, discardLogger())

	step := domain.RouteStep{
		Type:      domain.StepTypeSwap,
		Chain:     "solana",
		Protocol:  "jupiter",
		FromToken: "So11111111111111111111111111111111111111112",
		ToToken:   "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		AmountIn:  "1000000000",
		MinOutput: "995000000",
	}
	tx, err := ex.BuildTransaction(context.Background(), swapFixture(step), 0)
	if err != nil {
		t.Fatalf("BuildTransaction: %v", err)
	}
	if tx.To != "JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4" {
		t.Fatalf("to = %q, want router program", tx.To)
	}
	if tx.Data != "" {
		t.Fatalf("data = %q, want empty for non-EVM", tx.Data)
	}
}

func TestBuildTransactionCEXDepositInstruction(t *testing.T) {
	store, cipher := seededCreds(t, "binance")
	fx := &fakeExchange{depositAddr: "0xdeadbeef", depositMemo: "memo-42"}
	ex := New(ChainSet{}, store, cipher, func(string, string) Exchange { return fx }, &fakeQueue{}, Config{ExchangeName: "binance"}, discardLogger())

	swap := swapFixture(domain.RouteStep{
		Type:      domain.StepTypeCEXDeposit,
		Chain:     "ethereum",
		FromToken: "ETH",
		AmountIn:  "1000000",
	})
	tx, err := ex.BuildTransaction(context.Background(), swap, 0)
	if err != nil {
		t.Fatalf("BuildTransaction: %v", err)
	}
	if tx.To != "" || tx.Data != "" {
		t.Fatalf("CEX step got chain fields: %+v", tx)
	}
	if tx.Instruction == nil {
		t.Fatal("missing CEX instruction")
	}
	if tx.Instruction.Address != "0xdeadbeef" || tx.Instruction.Memo != "memo-42" {
		t.Fatalf("instruction = %+v", tx.Instruction)
	}
	if tx.Instruction.Action != domain.StepTypeCEXDeposit {
		t.Fatalf("action = %q", tx.Instruction.Action)
	}
}

func TestBuildTransactionRejectsBadIndex(t *testing.T) {
	ex := New(ChainSet{}, nil, nil, nil, &fakeQueue{}, Config{}, discardLogger())
	_, err := ex.BuildTransaction(context.Background(), swapFixture(evmSwapStep()), -1)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want %v", err, domain.ErrValidation)
	}
}

func TestBuildTransactionRejectsBadAmount(t *testing.T) {
	cfg := Config{Routers: map[string]string{"ethereum/uniswap_v2": "0x00000000000000000000000000000000000000e1"}}
	ex := New(ChainSet{EVM: map[string]EVMSubmitter{"ethereum": &fakeEVM{}}}, nil, nil, nil, &fakeQueue{}, cfg, discardLogger())

	step := evmSwapStep()
	step.AmountIn = "1.5"
	_, err := ex.BuildTransaction(context.Background(), swapFixture(step), 0)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want %v", err, domain.ErrValidation)
	}
}

func TestDedupWindow(t *testing.T) {
	d := NewDedup(20 * time.Millisecond)
	if d.IsDuplicate("k") {
		t.Fatal("fresh key reported duplicate")
	}
	if !d.IsDuplicate("k") {
		t.Fatal("repeat inside TTL not reported duplicate")
	}
	time.Sleep(30 * time.Millisecond)
	if d.IsDuplicate("k") {
		t.Fatal("expired key reported duplicate")
	}
}
