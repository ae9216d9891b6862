// Package chain wraps the JSON-RPC node connection behind the small surface
// the rest of the service needs, so pollers and builders can be tested
// against stubs and the poller can tear down and redial a failed provider.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Client is the node provider surface consumed by the poller, the hash
// calculator, the batch builder and the position engine. *ethclient.Client
// satisfies it directly.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	Close()
}

// Dialer creates node connections for a fixed RPC endpoint and chain id.
// The chain id of the endpoint is verified on every dial.
type Dialer struct {
	rpcURL  string
	chainID int64
	logger  *zap.Logger
}

func NewDialer(rpcURL string, chainID int64, logger *zap.Logger) *Dialer {
	return &Dialer{rpcURL: rpcURL, chainID: chainID, logger: logger}
}

// Dial connects to the node and verifies it serves the configured chain.
func (d *Dialer) Dial(ctx context.Context) (Client, error) {
	client, err := ethclient.DialContext(ctx, d.rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to node: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to query chain id: %w", err)
	}
	if chainID.Int64() != d.chainID {
		client.Close()
		return nil, fmt.Errorf("node serves chain %d, configured for chain %d", chainID.Int64(), d.chainID)
	}

	return client, nil
}

// DialWithBackoff retries Dial with a doubling delay until it succeeds or
// the context is canceled. Used by the poller when a provider connection
// goes bad mid-run.
func (d *Dialer) DialWithBackoff(ctx context.Context, initialDelay, maxDelay time.Duration) (Client, error) {
	delay := initialDelay
	for {
		client, err := d.Dial(ctx)
		if err == nil {
			return client, nil
		}

		d.logger.Warn("Node dial failed, retrying",
			zap.String("rpc_url", d.rpcURL),
			zap.Duration("retry_in", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
