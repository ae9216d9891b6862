package txbuilder

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"polyswap/apps/polyswap/internal/chain"
	"polyswap/apps/polyswap/internal/condorder"
)

const (
	// Conservative gas defaults used when simulation fails. A wallet whose
	// fallback handler is configured earlier in the same batch cannot be
	// simulated accurately for the later steps.
	ApproveGasFallback = 65_000
	CallGasFallback    = 200_000
)

const erc20ABI = `[
	{
		"inputs": [
			{"internalType": "address", "name": "spender", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"}
		],
		"name": "approve",
		"outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "owner", "type": "address"},
			{"internalType": "address", "name": "spender", "type": "address"}
		],
		"name": "allowance",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "account", "type": "address"}
		],
		"name": "balanceOf",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

const safeABI = `[
	{
		"inputs": [
			{"internalType": "address", "name": "handler", "type": "address"}
		],
		"name": "setFallbackHandler",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "bytes32", "name": "domainSeparator", "type": "bytes32"},
			{"internalType": "address", "name": "newVerifier", "type": "address"}
		],
		"name": "setDomainVerifier",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

const settlementDomainABI = `[
	{
		"inputs": [],
		"name": "domainSeparator",
		"outputs": [{"internalType": "bytes32", "name": "", "type": "bytes32"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// FallbackHandlerSlot is the wallet storage slot holding the fallback
// handler address.
var FallbackHandlerSlot = crypto.Keccak256Hash([]byte("fallback_manager.handler.address"))

// Structured batch-build failures, distinguishable by the caller.
var (
	ErrInsufficientBalance = errors.New("insufficient token balance")
	ErrGasEstimation       = errors.New("gas estimation failed")
)

// Step is one transaction in a batch with a human-readable description.
type Step struct {
	Transaction
	Description string `json:"description"`
}

// Batch is the ordered transaction list handed back for signing.
type Batch struct {
	Steps       []Step   `json:"steps"`
	GasEstimate uint64   `json:"gas_estimate"`
	Summary     []string `json:"summary"`
}

type BatchConfig struct {
	SettlementAddress      common.Address
	VaultRelayerAddress    common.Address
	FallbackHandlerAddress common.Address
	DomainVerifierAddress  common.Address
}

// BatchBuilder composes the ordered transaction list needed to create or
// cancel a conditional order: wallet setup steps first, approval next, the
// main transaction last. Order matters: signatures produced under the new
// handler only validate after steps 1-2 land, and settlement can only pull
// funds after step 3 lands.
type BatchBuilder struct {
	client  chain.Client
	encoder *Encoder
	cfg     BatchConfig
	erc20   abi.ABI
	safe    abi.ABI
	domain  abi.ABI
	logger  *zap.Logger
}

func NewBatchBuilder(client chain.Client, encoder *Encoder, cfg BatchConfig, logger *zap.Logger) (*BatchBuilder, error) {
	erc20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse erc20 ABI: %w", err)
	}

	safe, err := abi.JSON(strings.NewReader(safeABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse safe ABI: %w", err)
	}

	domain, err := abi.JSON(strings.NewReader(settlementDomainABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse settlement ABI: %w", err)
	}

	return &BatchBuilder{
		client:  client,
		encoder: encoder,
		cfg:     cfg,
		erc20:   erc20,
		safe:    safe,
		domain:  domain,
		logger:  logger,
	}, nil
}

// BuildCreateBatch assembles the steps required to register a conditional
// order from the given wallet, prefixed with whichever setup steps the
// wallet still needs.
func (b *BatchBuilder) BuildCreateBatch(ctx context.Context, owner common.Address, params condorder.ConditionalOrderParams) (*Batch, error) {
	swap, err := condorder.DecodeStaticInput(params.StaticInput)
	if err != nil {
		return nil, err
	}

	balance, err := b.tokenBalance(ctx, swap.SellToken, owner)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(swap.SellAmount) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s of %s",
			ErrInsufficientBalance, balance.String(), swap.SellAmount.String(), strings.ToLower(swap.SellToken.Hex()))
	}

	var steps []Step

	needsHandler, err := b.needsFallbackHandler(ctx, owner)
	if err != nil {
		return nil, err
	}
	if needsHandler {
		handlerStep, err := b.fallbackHandlerStep(owner)
		if err != nil {
			return nil, err
		}
		verifierStep, err := b.domainVerifierStep(ctx, owner)
		if err != nil {
			return nil, err
		}
		// The domain verifier only makes sense together with the handler
		// that routes to it.
		steps = append(steps, handlerStep, verifierStep)
	}

	needsApproval, err := b.needsApproval(ctx, swap.SellToken, owner, swap.SellAmount)
	if err != nil {
		return nil, err
	}
	if needsApproval {
		approvalStep, err := b.approvalStep(swap.SellToken, swap.SellAmount)
		if err != nil {
			return nil, err
		}
		steps = append(steps, approvalStep)
	}

	createTx, err := b.encoder.BuildCreateTransaction(params)
	if err != nil {
		return nil, err
	}
	steps = append(steps, Step{Transaction: createTx, Description: "Create conditional order"})

	return b.finishBatch(ctx, owner, steps)
}

// BuildCancelBatch assembles the single-step batch removing an order.
func (b *BatchBuilder) BuildCancelBatch(ctx context.Context, owner common.Address, orderHash common.Hash) (*Batch, error) {
	cancelTx, err := b.encoder.BuildCancelTransaction(orderHash)
	if err != nil {
		return nil, err
	}

	steps := []Step{{Transaction: cancelTx, Description: "Cancel conditional order"}}
	return b.finishBatch(ctx, owner, steps)
}

func (b *BatchBuilder) finishBatch(ctx context.Context, owner common.Address, steps []Step) (*Batch, error) {
	batch := &Batch{Steps: steps}
	for _, step := range steps {
		gas, err := b.estimateStepGas(ctx, owner, step)
		if err != nil {
			return nil, err
		}
		batch.GasEstimate += gas
		batch.Summary = append(batch.Summary, step.Description)
	}
	return batch, nil
}

func (b *BatchBuilder) needsFallbackHandler(ctx context.Context, owner common.Address) (bool, error) {
	raw, err := b.client.StorageAt(ctx, owner, FallbackHandlerSlot, nil)
	if err != nil {
		return false, fmt.Errorf("failed to read wallet fallback handler: %w", err)
	}
	current := common.BytesToAddress(raw)
	return current != b.cfg.FallbackHandlerAddress, nil
}

func (b *BatchBuilder) fallbackHandlerStep(owner common.Address) (Step, error) {
	data, err := b.safe.Pack("setFallbackHandler", b.cfg.FallbackHandlerAddress)
	if err != nil {
		return Step{}, fmt.Errorf("failed to pack setFallbackHandler: %w", err)
	}
	return Step{
		Transaction: Transaction{To: owner.Hex(), Data: "0x" + hex.EncodeToString(data), Value: "0"},
		Description: "Set wallet fallback handler",
	}, nil
}

func (b *BatchBuilder) domainVerifierStep(ctx context.Context, owner common.Address) (Step, error) {
	separator, err := b.settlementDomainSeparator(ctx)
	if err != nil {
		return Step{}, err
	}

	data, err := b.safe.Pack("setDomainVerifier", separator, b.cfg.DomainVerifierAddress)
	if err != nil {
		return Step{}, fmt.Errorf("failed to pack setDomainVerifier: %w", err)
	}
	return Step{
		Transaction: Transaction{To: owner.Hex(), Data: "0x" + hex.EncodeToString(data), Value: "0"},
		Description: "Set settlement domain verifier",
	}, nil
}

func (b *BatchBuilder) settlementDomainSeparator(ctx context.Context) ([32]byte, error) {
	data, err := b.domain.Pack("domainSeparator")
	if err != nil {
		return [32]byte{}, fmt.Errorf("failed to pack domainSeparator call: %w", err)
	}

	result, err := b.client.CallContract(ctx, ethereum.CallMsg{To: &b.cfg.SettlementAddress, Data: data}, nil)
	if err != nil {
		return [32]byte{}, fmt.Errorf("settlement domainSeparator call failed: %w", err)
	}

	outputs, err := b.domain.Unpack("domainSeparator", result)
	if err != nil {
		return [32]byte{}, fmt.Errorf("failed to unpack domainSeparator: %w", err)
	}
	separator, ok := outputs[0].([32]byte)
	if !ok {
		return [32]byte{}, fmt.Errorf("unexpected domainSeparator type %T", outputs[0])
	}
	return separator, nil
}

func (b *BatchBuilder) needsApproval(ctx context.Context, token, owner common.Address, required *big.Int) (bool, error) {
	data, err := b.erc20.Pack("allowance", owner, b.cfg.VaultRelayerAddress)
	if err != nil {
		return false, fmt.Errorf("failed to pack allowance call: %w", err)
	}

	result, err := b.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return false, fmt.Errorf("allowance call failed: %w", err)
	}

	outputs, err := b.erc20.Unpack("allowance", result)
	if err != nil {
		return false, fmt.Errorf("failed to unpack allowance: %w", err)
	}
	allowance, ok := outputs[0].(*big.Int)
	if !ok {
		return false, fmt.Errorf("unexpected allowance type %T", outputs[0])
	}

	return allowance.Cmp(required) < 0, nil
}

func (b *BatchBuilder) approvalStep(token common.Address, amount *big.Int) (Step, error) {
	data, err := b.erc20.Pack("approve", b.cfg.VaultRelayerAddress, amount)
	if err != nil {
		return Step{}, fmt.Errorf("failed to pack approve: %w", err)
	}
	return Step{
		Transaction: Transaction{To: token.Hex(), Data: "0x" + hex.EncodeToString(data), Value: "0"},
		Description: "Approve sell token for settlement",
	}, nil
}

func (b *BatchBuilder) tokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := b.erc20.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf call: %w", err)
	}

	result, err := b.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf call failed: %w", err)
	}

	outputs, err := b.erc20.Unpack("balanceOf", result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack balanceOf: %w", err)
	}
	balance, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf type %T", outputs[0])
	}
	return balance, nil
}

// estimateStepGas simulates one step, falling back to fixed defaults when
// simulation fails. Only a dead connection is a hard error; a revert during
// simulation is expected for steps that depend on earlier batch steps.
func (b *BatchBuilder) estimateStepGas(ctx context.Context, owner common.Address, step Step) (uint64, error) {
	to := common.HexToAddress(step.To)
	msg := ethereum.CallMsg{
		From: owner,
		To:   &to,
		Data: common.FromHex(step.Data),
	}

	gas, err := b.client.EstimateGas(ctx, msg)
	if err == nil {
		return gas, nil
	}
	if ctx.Err() != nil {
		return 0, fmt.Errorf("%w: %v", ErrGasEstimation, err)
	}

	fallback := uint64(CallGasFallback)
	if strings.HasPrefix(step.Description, "Approve") {
		fallback = ApproveGasFallback
	}
	b.logger.Debug("Gas simulation failed, using fallback",
		zap.String("step", step.Description),
		zap.Uint64("fallback", fallback),
		zap.Error(err))
	return fallback, nil
}
