package executor

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/omniswap/swapd/internal/domain"
)

const (
	buildDeadline    = 20 * time.Minute
	defaultSwapGas   = 300_000
	defaultBridgeGas = 500_000
)

var routerABI abi.ABI

func init() {
	var err error
	routerABI, err = abi.JSON(strings.NewReader(`[{"inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"name":"swapExactTokensForTokens","outputs":[{"name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"},{"inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"minOut","type":"uint256"},{"name":"dstChain","type":"string"},{"name":"recipient","type":"address"}],"name":"bridgeTokens","outputs":[],"stateMutability":"payable","type":"function"}]`))
	if err != nil {
		panic(err)
	}
}

// BuildTransaction assembles the unsigned payload for the route step at
// stepIndex. On-chain steps get router calldata the user's wallet signs;
// CEX steps get an exchange-API instruction instead, with the deposit
// address resolved here so the client can move funds.
func (e *Executor) BuildTransaction(ctx context.Context, swap domain.Swap, stepIndex int) (domain.StepTransaction, error) {
	if stepIndex < 0 || stepIndex >= len(swap.Route) {
		return domain.StepTransaction{}, fmt.Errorf("executor: step index %d out of range: %w", stepIndex, domain.ErrValidation)
	}
	step := swap.Route[stepIndex]

	if step.Type.CEX() {
		return e.buildCEX(ctx, swap, step)
	}

	router, ok := e.cfg.Routers[step.Chain+"/"+step.Protocol]
	if !ok {
		return domain.StepTransaction{}, fmt.Errorf("executor: no router for %s/%s", step.Chain, step.Protocol)
	}

	if client, ok := e.chains.EVM[step.Chain]; ok {
		return e.buildEVM(ctx, client, swap, step, router)
	}
	if _, ok := e.chains.Solana[step.Chain]; ok {
		return nonEVMTransaction(step, router), nil
	}
	if _, ok := e.chains.Sui[step.Chain]; ok {
		return nonEVMTransaction(step, router), nil
	}
	return domain.StepTransaction{}, fmt.Errorf("executor: no client for chain %q", step.Chain)
}

func (e *Executor) buildEVM(ctx context.Context, client EVMSubmitter, swap domain.Swap, step domain.RouteStep, router string) (domain.StepTransaction, error) {
	amountIn, err := parseAmount(step.AmountIn)
	if err != nil {
		return domain.StepTransaction{}, err
	}
	minOut, err := parseAmount(step.MinOutput)
	if err != nil {
		return domain.StepTransaction{}, err
	}
	recipient := common.HexToAddress(swap.UserAddress)
	deadline := big.NewInt(time.Now().Add(buildDeadline).Unix())

	var data []byte
	var defaultGas uint64
	switch step.Type {
	case domain.StepTypeSwap:
		path := []common.Address{common.HexToAddress(step.FromToken), common.HexToAddress(step.ToToken)}
		data, err = routerABI.Pack("swapExactTokensForTokens", amountIn, minOut, path, recipient, deadline)
		defaultGas = defaultSwapGas
	case domain.StepTypeBridge:
		data, err = routerABI.Pack("bridgeTokens", common.HexToAddress(step.FromToken), amountIn, minOut, step.ToChain, recipient)
		defaultGas = defaultBridgeGas
	default:
		return domain.StepTransaction{}, fmt.Errorf("executor: cannot build %q calldata", step.Type)
	}
	if err != nil {
		return domain.StepTransaction{}, fmt.Errorf("executor: pack %s calldata: %w", step.Type, err)
	}

	gasLimit := step.EstGasLimit
	if gasLimit == 0 {
		gasLimit, err = client.EstimateGas(ctx, swap.UserAddress, router, data, big.NewInt(0))
		if err != nil {
			e.logger.WarnContext(ctx, "gas estimate failed, using default",
				"chain", step.Chain, "error", err.Error())
			gasLimit = defaultGas
		}
	}

	return domain.StepTransaction{
		To:       router,
		Data:     "0x" + hex.EncodeToString(data),
		Value:    "0",
		GasLimit: gasLimit,
		Chain:    step.Chain,
	}, nil
}

func (e *Executor) buildCEX(ctx context.Context, swap domain.Swap, step domain.RouteStep) (domain.StepTransaction, error) {
	instr := &domain.CEXInstruction{
		Exchange: e.cfg.ExchangeName,
		Action:   step.Type,
		Amount:   step.AmountIn,
	}

	switch step.Type {
	case domain.StepTypeCEXDeposit:
		ex, err := e.userExchange(ctx, swap.UserAddress)
		if err != nil {
			return domain.StepTransaction{}, err
		}
		address, memo, err := ex.DepositAddress(ctx, step.FromToken, step.Chain)
		if err != nil {
			return domain.StepTransaction{}, fmt.Errorf("executor: deposit address for %s on %s: %w", step.FromToken, step.Chain, err)
		}
		instr.Symbol = step.FromToken
		instr.Address = address
		instr.Memo = memo
	case domain.StepTypeCEXTrade:
		instr.Symbol = tradeSymbol(step)
	case domain.StepTypeCEXWithdraw:
		instr.Symbol = step.FromToken
		instr.Address = swap.UserAddress
	}

	return domain.StepTransaction{Chain: step.Chain, Instruction: instr}, nil
}

// nonEVMTransaction targets the router program; the wallet SDK composes
// the actual call from the route client-side.
func nonEVMTransaction(step domain.RouteStep, router string) domain.StepTransaction {
	return domain.StepTransaction{
		To:    router,
		Value: "0",
		Chain: step.Chain,
	}
}

func parseAmount(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("executor: bad amount %q: %w", s, domain.ErrValidation)
	}
	return n, nil
}
