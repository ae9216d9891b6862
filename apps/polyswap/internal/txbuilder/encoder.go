package txbuilder

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"polyswap/apps/polyswap/internal/condorder"
)

// Conditional-order registry ABI for the create and remove methods.
const registryABI = `[
	{
		"inputs": [
			{"internalType": "tuple", "name": "params", "type": "tuple", "components": [
				{"internalType": "address", "name": "handler", "type": "address"},
				{"internalType": "bytes32", "name": "salt", "type": "bytes32"},
				{"internalType": "bytes", "name": "staticInput", "type": "bytes"}
			]},
			{"internalType": "bool", "name": "dispatch", "type": "bool"}
		],
		"name": "create",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "bytes32", "name": "singleOrderHash", "type": "bytes32"}
		],
		"name": "remove",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// Transaction is an unsigned transaction descriptor: the sole artifact
// handed to the external signer. Value is a decimal string.
type Transaction struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
}

// Encoder builds calldata for conditional order creation and cancellation
// against the registry contract.
type Encoder struct {
	registryABI abi.ABI
	registry    common.Address
	handler     common.Address
}

func NewEncoder(registry, handler common.Address) (*Encoder, error) {
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse registry ABI: %w", err)
	}

	return &Encoder{
		registryABI: parsed,
		registry:    registry,
		handler:     handler,
	}, nil
}

// NewSalt returns 32 random bytes for order uniqueness.
func NewSalt() ([32]byte, error) {
	var salt [32]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return salt, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// WrapOrder packs the swap parameters into the conditional-order envelope
// with a fresh salt.
func (e *Encoder) WrapOrder(swap condorder.OrderParams) (condorder.ConditionalOrderParams, error) {
	salt, err := NewSalt()
	if err != nil {
		return condorder.ConditionalOrderParams{}, err
	}

	staticInput, err := condorder.EncodeStaticInput(swap)
	if err != nil {
		return condorder.ConditionalOrderParams{}, err
	}

	return condorder.ConditionalOrderParams{
		Handler:     e.handler,
		Salt:        salt,
		StaticInput: staticInput,
	}, nil
}

// BuildCreateTransaction wraps the params envelope into a registry create
// call. Dispatch is always true: the registry announces the order so
// watchtowers can start posting it.
func (e *Encoder) BuildCreateTransaction(params condorder.ConditionalOrderParams) (Transaction, error) {
	data, err := e.registryABI.Pack("create", struct {
		Handler     common.Address
		Salt        [32]byte
		StaticInput []byte
	}{params.Handler, params.Salt, params.StaticInput}, true)
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to pack create call: %w", err)
	}

	return Transaction{
		To:    e.registry.Hex(),
		Data:  "0x" + hex.EncodeToString(data),
		Value: "0",
	}, nil
}

// BuildCancelTransaction wraps a registry remove call for the order hash.
func (e *Encoder) BuildCancelTransaction(orderHash common.Hash) (Transaction, error) {
	data, err := e.registryABI.Pack("remove", [32]byte(orderHash))
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to pack remove call: %w", err)
	}

	return Transaction{
		To:    e.registry.Hex(),
		Data:  "0x" + hex.EncodeToString(data),
		Value: "0",
	}, nil
}
