package orderhash

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"polyswap/apps/polyswap/internal/chain"
	"polyswap/apps/polyswap/internal/condorder"
)

// Registry ABI for the hash view method. Hashing semantics are deliberately
// offloaded to the contract: the on-chain definition is the single source
// of truth and there is no local fallback.
const registryHashABI = `[{
	"inputs": [
		{"internalType": "tuple", "name": "params", "type": "tuple", "components": [
			{"internalType": "address", "name": "handler", "type": "address"},
			{"internalType": "bytes32", "name": "salt", "type": "bytes32"},
			{"internalType": "bytes", "name": "staticInput", "type": "bytes"}
		]}
	],
	"name": "hash",
	"outputs": [
		{"internalType": "bytes32", "name": "", "type": "bytes32"}
	],
	"stateMutability": "pure",
	"type": "function"
}]`

// Calculator derives protocol identifiers for conditional orders: the order
// hash via a read-only registry call, and the 56-byte order UID by direct
// byte packing.
type Calculator struct {
	client   chain.Client
	registry common.Address
	abi      abi.ABI
	logger   *zap.Logger
}

func NewCalculator(client chain.Client, registry common.Address, logger *zap.Logger) (*Calculator, error) {
	parsed, err := abi.JSON(strings.NewReader(registryHashABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse registry hash ABI: %w", err)
	}

	return &Calculator{
		client:   client,
		registry: registry,
		abi:      parsed,
		logger:   logger,
	}, nil
}

// ComputeOrderHash asks the registry contract for the canonical hash of the
// params envelope. Any RPC failure propagates to the caller; no partial
// state is written on that path.
func (c *Calculator) ComputeOrderHash(ctx context.Context, params condorder.ConditionalOrderParams) (common.Hash, error) {
	data, err := c.abi.Pack("hash", struct {
		Handler     common.Address
		Salt        [32]byte
		StaticInput []byte
	}{params.Handler, params.Salt, params.StaticInput})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack hash call: %w", err)
	}

	result, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &c.registry, Data: data}, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("registry hash call failed: %w", err)
	}

	outputs, err := c.abi.Unpack("hash", result)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to unpack hash result: %w", err)
	}
	if len(outputs) != 1 {
		return common.Hash{}, fmt.Errorf("unexpected hash output count %d", len(outputs))
	}

	hashBytes, ok := outputs[0].([32]byte)
	if !ok {
		return common.Hash{}, fmt.Errorf("unexpected hash output type %T", outputs[0])
	}

	return common.Hash(hashBytes), nil
}

// ComputeOrderUID packs hash, owner and validTo into the fixed 56-byte
// protocol identifier: bytes 0-31 hash, 32-51 owner, 52-55 validTo
// big-endian. A direct packing, not a hash; the layout is bit-exact.
func ComputeOrderUID(hash common.Hash, owner common.Address, validTo uint32) []byte {
	uid := make([]byte, condorder.UIDLength)
	copy(uid[0:32], hash[:])
	copy(uid[32:52], owner[:])
	binary.BigEndian.PutUint32(uid[52:56], validTo)
	return uid
}

// ComputeCompleteUID derives the full UID for a params envelope, using the
// order's end time as validTo.
func (c *Calculator) ComputeCompleteUID(ctx context.Context, params condorder.ConditionalOrderParams, owner common.Address) ([]byte, error) {
	hash, err := c.ComputeOrderHash(ctx, params)
	if err != nil {
		return nil, err
	}

	swap, err := condorder.DecodeStaticInput(params.StaticInput)
	if err != nil {
		return nil, fmt.Errorf("failed to decode static input for validTo: %w", err)
	}

	return ComputeOrderUID(hash, owner, uint32(swap.EndTime.Uint64())), nil
}
