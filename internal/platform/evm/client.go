// Package evm wraps go-ethereum's ethclient for the EVM chains a swap
// route can touch. One Client per configured chain.
package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/omniswap/swapd/internal/domain"
)

// Client talks to one EVM chain over JSON-RPC.
type Client struct {
	chain   string
	chainID *big.Int
	eth     *ethclient.Client
	logger  *slog.Logger
}

// Dial connects to the chain's RPC endpoint and verifies the node reports
// the configured chain id.
func Dial(ctx context.Context, chain, rpcURL string, chainID int64, logger *slog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", chain, err)
	}

	got, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("evm: chain id %s: %w", chain, err)
	}
	if got.Int64() != chainID {
		eth.Close()
		return nil, fmt.Errorf("evm: %s reports chain id %d, config says %d", chain, got.Int64(), chainID)
	}

	return &Client{
		chain:   chain,
		chainID: got,
		eth:     eth,
		logger:  logger.With(slog.String("component", "evm"), slog.String("chain", chain)),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Chain returns the configured chain name.
func (c *Client) Chain() string {
	return c.chain
}

// TxStatus is the observed state of a broadcast transaction.
type TxStatus struct {
	Found         bool
	Reverted      bool
	BlockNumber   uint64
	Confirmations uint64
	GasUsed       uint64
}

// SendRawTransaction decodes a client-signed transaction and broadcasts it.
// An undecodable envelope or unrecoverable sender maps to
// domain.ErrInvalidSignature and node rejection to domain.ErrBroadcast;
// transport failures pass through plain so the caller can retry them. A
// node that already knows the transaction counts as success.
func (c *Client) SendRawTransaction(ctx context.Context, signedTx string) (string, error) {
	raw, err := decodeHex(signedTx)
	if err != nil {
		return "", fmt.Errorf("evm: %s: %w: %v", c.chain, domain.ErrInvalidSignature, err)
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return "", fmt.Errorf("evm: %s: %w: %v", c.chain, domain.ErrInvalidSignature, err)
	}
	if _, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx); err != nil {
		return "", fmt.Errorf("evm: %s: %w: %v", c.chain, domain.ErrInvalidSignature, err)
	}

	hash := tx.Hash().Hex()
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		if alreadyKnown(err) {
			c.logger.InfoContext(ctx, "transaction already known",
				slog.String("tx_hash", hash))
			return hash, nil
		}
		if invalidSender(err) {
			return "", fmt.Errorf("evm: %s: %w: %v", c.chain, domain.ErrInvalidSignature, err)
		}
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			return "", fmt.Errorf("evm: %s: %w: %v", c.chain, domain.ErrBroadcast, err)
		}
		return "", fmt.Errorf("evm: send %s: %w", c.chain, err)
	}

	c.logger.InfoContext(ctx, "transaction broadcast",
		slog.String("tx_hash", hash))
	return hash, nil
}

// TransactionStatus reports receipt state and confirmation depth. A
// transaction the node has no receipt for returns Found=false with no
// error; the caller decides whether that means pending or dropped.
func (c *Client) TransactionStatus(ctx context.Context, txHash string) (TxStatus, error) {
	receipt, err := c.eth.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return TxStatus{}, nil
		}
		return TxStatus{}, fmt.Errorf("evm: receipt %s: %w", txHash, err)
	}

	head, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return TxStatus{}, fmt.Errorf("evm: head %s: %w", c.chain, err)
	}

	st := TxStatus{
		Found:       true,
		Reverted:    receipt.Status == types.ReceiptStatusFailed,
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}
	if head >= st.BlockNumber {
		st.Confirmations = head - st.BlockNumber + 1
	}
	return st, nil
}

// EstimateGas estimates the gas limit for an unsigned call.
func (c *Client) EstimateGas(ctx context.Context, from, to string, data []byte, value *big.Int) (uint64, error) {
	msg := ethereum.CallMsg{
		From:  common.HexToAddress(from),
		Data:  data,
		Value: value,
	}
	if to != "" {
		addr := common.HexToAddress(to)
		msg.To = &addr
	}

	gas, err := c.eth.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("evm: estimate gas %s: %w", c.chain, err)
	}
	return gas, nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}

func alreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") ||
		strings.Contains(msg, "already imported") ||
		strings.Contains(msg, "known transaction")
}

func invalidSender(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "invalid sender") ||
		strings.Contains(msg, "invalid signature") ||
		strings.Contains(msg, "invalid chain id")
}
