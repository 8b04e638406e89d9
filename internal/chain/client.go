// Package chain reads transaction outcomes from the registrar chain.
package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/smallbiznis/ensmarket/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type TxState string

const (
	TxNotFound TxState = "not_found"
	TxPending  TxState = "pending"
	TxSuccess  TxState = "success"
	TxReverted TxState = "reverted"
)

var ErrNotConfigured = errors.New("chain_rpc_not_configured")

type TxStatus struct {
	State         TxState
	BlockNumber   uint64
	Confirmations uint64
}

// Mined reports whether the transaction is in a block with at least min confirmations.
func (s TxStatus) Mined(min uint64) bool {
	if s.State != TxSuccess && s.State != TxReverted {
		return false
	}
	return s.Confirmations >= min
}

type Client interface {
	TransactionStatus(ctx context.Context, txHash string) (TxStatus, error)
}

var Module = fx.Module("chain",
	fx.Provide(New),
)

// rpc is the subset of ethclient.Client the watcher needs.
type rpc interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

type EthClient struct {
	rpc     rpc
	timeout time.Duration
}

// New dials ENS_CHAIN_RPC_URL. Without a URL it returns a client whose calls
// fail with ErrNotConfigured so the watcher degrades to per-intent errors.
func New(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (Client, error) {
	url := strings.TrimSpace(cfg.Chain.RPCURL)
	if url == "" {
		log.Warn("chain rpc not configured; watcher polls will fail")
		return unconfigured{}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ec, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}

	client := &EthClient{rpc: ec, timeout: cfg.Chain.RequestTimeout}
	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				ec.Close()
				return nil
			},
		})
	}
	return client, nil
}

func (c *EthClient) TransactionStatus(ctx context.Context, txHash string) (TxStatus, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	hash := common.HexToHash(txHash)

	receipt, err := c.rpc.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		_, pending, txErr := c.rpc.TransactionByHash(ctx, hash)
		switch {
		case errors.Is(txErr, ethereum.NotFound):
			return TxStatus{State: TxNotFound}, nil
		case txErr != nil:
			return TxStatus{}, fmt.Errorf("transaction by hash: %w", txErr)
		case pending:
			return TxStatus{State: TxPending}, nil
		default:
			// mined but the node has not indexed the receipt yet
			return TxStatus{State: TxPending}, nil
		}
	}
	if err != nil {
		return TxStatus{}, fmt.Errorf("transaction receipt: %w", err)
	}

	head, err := c.rpc.BlockNumber(ctx)
	if err != nil {
		return TxStatus{}, fmt.Errorf("block number: %w", err)
	}

	status := TxStatus{State: TxReverted}
	if receipt.Status == types.ReceiptStatusSuccessful {
		status.State = TxSuccess
	}
	if receipt.BlockNumber != nil {
		status.BlockNumber = receipt.BlockNumber.Uint64()
		if head >= status.BlockNumber {
			status.Confirmations = head - status.BlockNumber + 1
		}
	}
	return status, nil
}

type unconfigured struct{}

func (unconfigured) TransactionStatus(context.Context, string) (TxStatus, error) {
	return TxStatus{}, ErrNotConfigured
}
