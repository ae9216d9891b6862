// Package positions merges the off-chain position feed with on-chain
// outcome-token balances to decide which holdings can actually be
// liquidated. The feed is authoritative for market metadata, the chain
// is authoritative for balances.
package positions

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"polyswap/apps/polyswap/internal/chain"
	"polyswap/apps/polyswap/internal/model"
)

const balanceOfABI = `[
	{
		"inputs": [{"internalType": "address", "name": "account", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// Feed supplies the positions an owner holds according to the off-chain
// prediction-market backend.
type Feed interface {
	Positions(ctx context.Context, owner common.Address) ([]model.Position, error)
}

// StaticFeed is a Feed over a fixed snapshot, used when the caller
// already holds the positions (e.g. supplied in an API request).
type StaticFeed []model.Position

func (f StaticFeed) Positions(_ context.Context, _ common.Address) ([]model.Position, error) {
	return f, nil
}

// OutboxStore receives the audit record of each reconciliation run.
type OutboxStore interface {
	StoreOutboxEvent(event model.OutboxEvent) error
}

// Candidate is one position that survived reconciliation. Sellable is
// min(feed amount, on-chain balance); Discrepancy flags feeds that
// disagree with the chain.
type Candidate struct {
	Position       model.Position `json:"position"`
	OnChainBalance string         `json:"on_chain_balance"`
	Sellable       string         `json:"sellable"`
	Discrepancy    bool           `json:"discrepancy"`
}

// Report is the outcome of one reconciliation pass over an owner.
type Report struct {
	Owner       string      `json:"owner"`
	BlockNumber uint64      `json:"block_number"`
	Candidates  []Candidate `json:"candidates"`
	Skipped     int         `json:"skipped"`
	CheckedAt   time.Time   `json:"checked_at"`
}

type Engine struct {
	client chain.Client
	outbox OutboxStore
	erc20  abi.ABI
	logger *zap.Logger
}

func NewEngine(client chain.Client, outbox OutboxStore, logger *zap.Logger) (*Engine, error) {
	parsed, err := abi.JSON(strings.NewReader(balanceOfABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse erc20 abi: %w", err)
	}
	return &Engine{client: client, outbox: outbox, erc20: parsed, logger: logger}, nil
}

// Reconcile fetches the owner's positions from the feed, reads the
// matching on-chain balances and returns the liquidation candidates.
// Positions with malformed amounts or unreadable balances are skipped,
// not fatal. An audit event is written to the outbox on success.
func (e *Engine) Reconcile(ctx context.Context, owner common.Address, feed Feed) (*Report, error) {
	held, err := feed.Positions(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch positions for %s: %w", owner.Hex(), err)
	}

	head, err := e.client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch head block: %w", err)
	}

	report := &Report{
		Owner:       strings.ToLower(owner.Hex()),
		BlockNumber: head,
		CheckedAt:   time.Now().UTC(),
	}

	for _, pos := range held {
		feedAmount, ok := new(big.Int).SetString(pos.Amount, 10)
		if !ok || feedAmount.Sign() < 0 {
			e.logger.Warn("Skipping position with malformed amount",
				zap.String("token", pos.TokenAddress),
				zap.String("amount", pos.Amount))
			report.Skipped++
			continue
		}

		balance, err := e.balanceOf(ctx, common.HexToAddress(pos.TokenAddress), owner)
		if err != nil {
			e.logger.Warn("Skipping position with unreadable balance",
				zap.String("token", pos.TokenAddress),
				zap.Error(err))
			report.Skipped++
			continue
		}

		sellable := new(big.Int).Set(feedAmount)
		if balance.Cmp(sellable) < 0 {
			sellable.Set(balance)
		}
		if sellable.Sign() == 0 {
			continue
		}

		report.Candidates = append(report.Candidates, Candidate{
			Position:       pos,
			OnChainBalance: balance.String(),
			Sellable:       sellable.String(),
			Discrepancy:    feedAmount.Cmp(balance) != 0,
		})
	}

	if err := e.writeAudit(report); err != nil {
		return nil, err
	}

	e.logger.Info("Reconciled positions",
		zap.String("owner", report.Owner),
		zap.Int("candidates", len(report.Candidates)),
		zap.Int("skipped", report.Skipped))
	return report, nil
}

func (e *Engine) balanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := e.erc20.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf: %w", err)
	}

	result, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf call failed: %w", err)
	}

	values, err := e.erc20.Unpack("balanceOf", result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack balanceOf: %w", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf return type %T", values[0])
	}
	return balance, nil
}

// writeAudit records the reconciliation run in the outbox. The run has
// no originating transaction, so a surrogate id keys the row.
func (e *Engine) writeAudit(report *Report) error {
	blob, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal reconciliation report: %w", err)
	}

	event := model.OutboxEvent{
		TxHash:      "reconcile-" + uuid.New().String(),
		EventType:   model.OutboxPositionReconciled,
		Status:      "unsent",
		BlockNumber: report.BlockNumber,
		LogIndex:    0,
		Address:     report.Owner,
		EventBlob:   blob,
	}
	if err := e.outbox.StoreOutboxEvent(event); err != nil {
		return fmt.Errorf("failed to store reconciliation audit: %w", err)
	}
	return nil
}
