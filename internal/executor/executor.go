// Package executor builds unsigned step transactions and broadcasts signed
// ones to the step's venue: an EVM, Solana, or Sui chain, or the exchange
// API for CEX steps.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand"
	"time"

	"github.com/omniswap/swapd/internal/crypto"
	"github.com/omniswap/swapd/internal/domain"
	"github.com/omniswap/swapd/internal/platform/cex"
)

// EVMSubmitter is the slice of the EVM client the executor needs.
type EVMSubmitter interface {
	SendRawTransaction(ctx context.Context, signedTx string) (string, error)
	EstimateGas(ctx context.Context, from, to string, data []byte, value *big.Int) (uint64, error)
}

// SolanaSubmitter is the slice of the Solana client the executor needs.
type SolanaSubmitter interface {
	SendTransaction(ctx context.Context, signedTx string) (string, error)
}

// SuiSubmitter is the slice of the Sui client the executor needs.
type SuiSubmitter interface {
	ExecuteTransactionBlock(ctx context.Context, signedTx string) (string, error)
}

// Exchange is the slice of the exchange API the executor drives for CEX
// steps.
type Exchange interface {
	DepositAddress(ctx context.Context, asset, chain string) (address, memo string, err error)
	PlaceOrder(ctx context.Context, symbol, side, quantity string) (cex.Order, error)
	OrderStatus(ctx context.Context, orderID string) (cex.Order, error)
	Withdraw(ctx context.Context, asset, chain, amount, address string) (string, error)
}

// ExchangeFactory builds a per-user exchange client from an unsealed key
// pair.
type ExchangeFactory func(apiKey, apiSecret string) Exchange

// ChainSet groups the configured chain clients by type, keyed by chain
// name.
type ChainSet struct {
	EVM    map[string]EVMSubmitter
	Solana map[string]SolanaSubmitter
	Sui    map[string]SuiSubmitter
}

// WatchType returns the monitor watch type for a chain name.
func (s ChainSet) WatchType(chain string) (domain.WatchType, bool) {
	if _, ok := s.EVM[chain]; ok {
		return domain.WatchTypeEVM, true
	}
	if _, ok := s.Solana[chain]; ok {
		return domain.WatchTypeSolana, true
	}
	if _, ok := s.Sui[chain]; ok {
		return domain.WatchTypeSui, true
	}
	return "", false
}

// Config bounds submission retries and monitor-job durability.
type Config struct {
	SubmitAttempts int           // broadcast attempts per step
	SubmitBackoff  time.Duration // initial retry delay, doubled with jitter
	ExchangeName   string        // exchange backing CEX steps
	Routers        map[string]string
	MonitorAttempt int           // delivery attempts for enqueued monitor jobs
	MonitorBackoff time.Duration // retry delay for monitor job delivery
}

func (c Config) withDefaults() Config {
	if c.SubmitAttempts <= 0 {
		c.SubmitAttempts = 3
	}
	if c.SubmitBackoff <= 0 {
		c.SubmitBackoff = time.Second
	}
	if c.MonitorAttempt <= 0 {
		c.MonitorAttempt = 5
	}
	if c.MonitorBackoff <= 0 {
		c.MonitorBackoff = 5 * time.Second
	}
	return c
}

// Executor is the step executor. It is safe for concurrent use.
type Executor struct {
	chains    ChainSet
	creds     domain.CredentialStore
	cipher    *crypto.Cipher
	exchange  ExchangeFactory
	queue     domain.Queue
	dedup     *Dedup
	cfg       Config
	orderPoll time.Duration
	logger    *slog.Logger
}

// New creates an Executor. creds, cipher, and factory may be nil when no
// CEX routes are configured; CEX steps then fail with a clear error.
func New(
	chains ChainSet,
	creds domain.CredentialStore,
	cipher *crypto.Cipher,
	factory ExchangeFactory,
	queue domain.Queue,
	cfg Config,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		chains:    chains,
		creds:     creds,
		cipher:    cipher,
		exchange:  factory,
		queue:     queue,
		dedup:     NewDedup(2 * time.Minute),
		cfg:       cfg.withDefaults(),
		orderPoll: 2 * time.Second,
		logger:    logger.With(slog.String("component", "executor")),
	}
}

// Submit broadcasts a signed step transaction to the step's venue. Chain
// broadcasts use bounded retry with jittered exponential backoff; venue
// rejections (domain.ErrInvalidSignature, domain.ErrBroadcast) are never
// retried. Successful chain submission enqueues a monitor job; CEX steps
// confirm synchronously and return Final set.
func (e *Executor) Submit(ctx context.Context, swap domain.Swap, stepIndex int, signedTx string) (domain.SubmitResult, error) {
	if stepIndex < 0 || stepIndex >= len(swap.Route) {
		return domain.SubmitResult{}, fmt.Errorf("executor: step index %d out of range: %w", stepIndex, domain.ErrValidation)
	}
	step := swap.Route[stepIndex]

	// One broadcast per step per process; the store's conditional update is
	// the cross-process guard.
	if e.dedup.IsDuplicate(fmt.Sprintf("submit:%s:%d", swap.ID, stepIndex)) {
		return domain.SubmitResult{}, fmt.Errorf("executor: step %s/%d already submitting: %w", swap.ID, stepIndex, domain.ErrConflict)
	}

	if step.Type.CEX() {
		return e.submitCEX(ctx, swap, stepIndex, step)
	}
	return e.submitChain(ctx, swap, stepIndex, step, signedTx)
}

func (e *Executor) submitChain(ctx context.Context, swap domain.Swap, stepIndex int, step domain.RouteStep, signedTx string) (domain.SubmitResult, error) {
	watch, ok := e.chains.WatchType(step.Chain)
	if !ok {
		return domain.SubmitResult{}, fmt.Errorf("executor: no client for chain %q", step.Chain)
	}

	var txHash string
	var err error
	delay := e.cfg.SubmitBackoff
	for attempt := 1; attempt <= e.cfg.SubmitAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return domain.SubmitResult{}, ctx.Err()
			case <-time.After(withJitter(delay)):
			}
			delay *= 2
		}

		txHash, err = e.broadcast(ctx, step, signedTx)
		if err == nil {
			break
		}
		if errors.Is(err, domain.ErrInvalidSignature) || errors.Is(err, domain.ErrBroadcast) {
			return domain.SubmitResult{}, err
		}
		e.logger.WarnContext(ctx, "broadcast attempt failed",
			slog.String("swap_id", swap.ID),
			slog.Int("step_index", stepIndex),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
	}
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("executor: broadcast %s/%d: %w", swap.ID, stepIndex, err)
	}

	job := domain.MonitorJob{
		SwapID:    swap.ID,
		StepIndex: stepIndex,
		Chain:     step.Chain,
		TxHash:    txHash,
		Type:      watch,
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("executor: marshal monitor job: %w", err)
	}
	err = e.queue.Enqueue(ctx, domain.QueueMonitor, payload, domain.EnqueueOptions{
		Attempts:  e.cfg.MonitorAttempt,
		Backoff:   e.cfg.MonitorBackoff,
		DedupeKey: job.DedupeKey(),
	})
	if err != nil {
		// The transaction is on the wire; losing the watch would strand the
		// swap in a non-terminal state.
		return domain.SubmitResult{}, fmt.Errorf("executor: enqueue monitor %s/%d: %w", swap.ID, stepIndex, err)
	}

	e.logger.InfoContext(ctx, "step submitted",
		slog.String("swap_id", swap.ID),
		slog.Int("step_index", stepIndex),
		slog.String("chain", step.Chain),
		slog.String("tx_hash", txHash))

	return domain.SubmitResult{TxHash: txHash, SubmittedAt: time.Now().UTC()}, nil
}

func (e *Executor) broadcast(ctx context.Context, step domain.RouteStep, signedTx string) (string, error) {
	if c, ok := e.chains.EVM[step.Chain]; ok {
		return c.SendRawTransaction(ctx, signedTx)
	}
	if c, ok := e.chains.Solana[step.Chain]; ok {
		return c.SendTransaction(ctx, signedTx)
	}
	if c, ok := e.chains.Sui[step.Chain]; ok {
		return c.ExecuteTransactionBlock(ctx, signedTx)
	}
	return "", fmt.Errorf("executor: no client for chain %q", step.Chain)
}

func (e *Executor) submitCEX(ctx context.Context, swap domain.Swap, stepIndex int, step domain.RouteStep) (domain.SubmitResult, error) {
	now := time.Now().UTC()

	// The deposit transfer happens on-chain out of band; the exchange
	// credits it against the address from the build instruction.
	if step.Type == domain.StepTypeCEXDeposit {
		return domain.SubmitResult{
			TxHash:      fmt.Sprintf("cex:deposit:%s:%d", swap.ID, stepIndex),
			SubmittedAt: now,
			Final:       true,
		}, nil
	}

	ex, err := e.userExchange(ctx, swap.UserAddress)
	if err != nil {
		return domain.SubmitResult{}, err
	}

	switch step.Type {
	case domain.StepTypeCEXTrade:
		order, err := ex.PlaceOrder(ctx, tradeSymbol(step), "sell", step.AmountIn)
		if err != nil {
			return domain.SubmitResult{}, fmt.Errorf("executor: %w: %v", domain.ErrBroadcast, err)
		}
		order, err = e.awaitFill(ctx, ex, order)
		if err != nil {
			return domain.SubmitResult{}, err
		}
		e.logger.InfoContext(ctx, "cex order filled",
			slog.String("swap_id", swap.ID),
			slog.Int("step_index", stepIndex),
			slog.String("order_id", order.ID))
		return domain.SubmitResult{TxHash: "cex:order:" + order.ID, SubmittedAt: now, Final: true}, nil

	case domain.StepTypeCEXWithdraw:
		id, err := ex.Withdraw(ctx, step.FromToken, step.Chain, step.AmountIn, swap.UserAddress)
		if err != nil {
			return domain.SubmitResult{}, fmt.Errorf("executor: %w: %v", domain.ErrBroadcast, err)
		}
		e.logger.InfoContext(ctx, "cex withdrawal accepted",
			slog.String("swap_id", swap.ID),
			slog.Int("step_index", stepIndex),
			slog.String("withdrawal_id", id))
		return domain.SubmitResult{TxHash: "cex:withdrawal:" + id, SubmittedAt: now, Final: true}, nil
	}

	return domain.SubmitResult{}, fmt.Errorf("executor: not a CEX step %q", step.Type)
}

// awaitFill rechecks an open market order a few times before giving up.
func (e *Executor) awaitFill(ctx context.Context, ex Exchange, order cex.Order) (cex.Order, error) {
	const rechecks = 3
	var err error
	for i := 0; order.Status == cex.OrderStatusOpen && i < rechecks; i++ {
		select {
		case <-ctx.Done():
			return order, ctx.Err()
		case <-time.After(e.orderPoll):
		}
		order, err = ex.OrderStatus(ctx, order.ID)
		if err != nil {
			return order, fmt.Errorf("executor: order status %s: %w", order.ID, err)
		}
	}

	switch order.Status {
	case cex.OrderStatusFilled:
		return order, nil
	case cex.OrderStatusRejected, cex.OrderStatusCanceled:
		return order, fmt.Errorf("executor: order %s %s: %w", order.ID, order.Status, domain.ErrBroadcast)
	default:
		return order, fmt.Errorf("executor: order %s still %s: %w", order.ID, order.Status, domain.ErrBroadcast)
	}
}

// userExchange unseals the user's stored credentials and builds an
// authenticated client.
func (e *Executor) userExchange(ctx context.Context, userAddress string) (Exchange, error) {
	if e.creds == nil || e.cipher == nil || e.exchange == nil {
		return nil, fmt.Errorf("executor: exchange not configured")
	}

	enc, err := e.creds.Get(ctx, userAddress, e.cfg.ExchangeName)
	if err != nil {
		return nil, fmt.Errorf("executor: credentials for %s: %w", userAddress, err)
	}
	key, secret, err := e.cipher.Open(enc.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("executor: unseal credentials for %s: %w", userAddress, err)
	}
	return e.exchange(key, secret), nil
}

func tradeSymbol(step domain.RouteStep) string {
	return step.FromToken + step.ToToken
}

// withJitter spreads a retry delay by up to half its base.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(rand.Int63n(int64(d/2)+1))
}
