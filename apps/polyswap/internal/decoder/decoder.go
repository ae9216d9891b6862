package decoder

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"polyswap/apps/polyswap/internal/condorder"
	"polyswap/apps/polyswap/internal/events"
)

const RegistryABI = `[
	{
		"type": "event",
		"name": "ConditionalOrderCreated",
		"inputs": [
			{"internalType": "address", "name": "owner", "type": "address", "indexed": true},
			{"internalType": "tuple", "name": "params", "type": "tuple", "indexed": false, "components": [
				{"internalType": "address", "name": "handler", "type": "address"},
				{"internalType": "bytes32", "name": "salt", "type": "bytes32"},
				{"internalType": "bytes", "name": "staticInput", "type": "bytes"}
			]}
		]
	}
]`

const SettlementABI = `[
	{
		"type": "event",
		"name": "Trade",
		"inputs": [
			{"internalType": "address", "name": "owner", "type": "address", "indexed": true},
			{"internalType": "address", "name": "sellToken", "type": "address", "indexed": false},
			{"internalType": "address", "name": "buyToken", "type": "address", "indexed": false},
			{"internalType": "uint256", "name": "sellAmount", "type": "uint256", "indexed": false},
			{"internalType": "uint256", "name": "buyAmount", "type": "uint256", "indexed": false},
			{"internalType": "uint256", "name": "feeAmount", "type": "uint256", "indexed": false},
			{"internalType": "bytes", "name": "orderUid", "type": "bytes", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "OrderInvalidated",
		"inputs": [
			{"internalType": "address", "name": "owner", "type": "address", "indexed": true},
			{"internalType": "bytes", "name": "orderUid", "type": "bytes", "indexed": false}
		]
	}
]`

// Event signatures
var (
	ConditionalOrderCreatedSig = crypto.Keccak256Hash([]byte("ConditionalOrderCreated(address,(address,bytes32,bytes))"))
	TradeSig                   = crypto.Keccak256Hash([]byte("Trade(address,address,address,uint256,uint256,uint256,bytes)"))
	OrderInvalidatedSig        = crypto.Keccak256Hash([]byte("OrderInvalidated(address,bytes)"))
)

// DecodeError is a per-event failure. The poller logs it and moves on;
// a malformed log never halts a block range.
type DecodeError struct {
	Event  string
	TxHash common.Hash
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s event in tx %s: %v", e.Event, e.TxHash.Hex(), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decoder is a pure transform from raw logs to the typed event union.
// It makes no external calls.
type Decoder struct {
	registryABI   abi.ABI
	settlementABI abi.ABI
	handler       common.Address
}

// NewDecoder builds a decoder that forwards only conditional orders whose
// handler matches the configured one; everything else on the shared
// contracts belongs to unrelated integrations and is dropped silently.
func NewDecoder(handler common.Address) (*Decoder, error) {
	registryABI, err := abi.JSON(strings.NewReader(RegistryABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse registry ABI: %w", err)
	}

	settlementABI, err := abi.JSON(strings.NewReader(SettlementABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse settlement ABI: %w", err)
	}

	return &Decoder{
		registryABI:   registryABI,
		settlementABI: settlementABI,
		handler:       handler,
	}, nil
}

// Decode transforms one raw log into a domain event. It returns (nil, nil)
// for logs that are well-formed but irrelevant (unknown topic, foreign
// handler), and a *DecodeError for malformed payloads.
func (d *Decoder) Decode(eventLog types.Log) (events.Event, error) {
	if len(eventLog.Topics) == 0 {
		return nil, nil
	}

	switch eventLog.Topics[0] {
	case ConditionalOrderCreatedSig:
		return d.decodeOrderCreated(eventLog)
	case TradeSig:
		return d.decodeTrade(eventLog)
	case OrderInvalidatedSig:
		return d.decodeOrderInvalidated(eventLog)
	}

	return nil, nil
}

func (d *Decoder) decodeOrderCreated(eventLog types.Log) (events.Event, error) {
	if len(eventLog.Topics) < 2 {
		return nil, &DecodeError{Event: "ConditionalOrderCreated", TxHash: eventLog.TxHash, Err: fmt.Errorf("missing owner topic")}
	}

	var eventData struct {
		Params struct {
			Handler     common.Address
			Salt        [32]byte
			StaticInput []byte
		}
	}
	if err := d.registryABI.UnpackIntoInterface(&eventData, "ConditionalOrderCreated", eventLog.Data); err != nil {
		return nil, &DecodeError{Event: "ConditionalOrderCreated", TxHash: eventLog.TxHash, Err: err}
	}

	params := condorder.ConditionalOrderParams{
		Handler:     eventData.Params.Handler,
		Salt:        eventData.Params.Salt,
		StaticInput: eventData.Params.StaticInput,
	}

	// Foreign handlers share the registry contract; not ours, not an error.
	if params.Handler != d.handler {
		return nil, nil
	}

	swap, err := condorder.DecodeStaticInput(params.StaticInput)
	if err != nil {
		return nil, &DecodeError{Event: "ConditionalOrderCreated", TxHash: eventLog.TxHash, Err: err}
	}

	orderHash, err := condorder.HashParams(params)
	if err != nil {
		return nil, &DecodeError{Event: "ConditionalOrderCreated", TxHash: eventLog.TxHash, Err: err}
	}

	return events.OrderCreated{
		Provenance: provenance(eventLog),
		Owner:      common.BytesToAddress(eventLog.Topics[1].Bytes()),
		Params:     params,
		Swap:       swap,
		OrderHash:  orderHash,
	}, nil
}

func (d *Decoder) decodeTrade(eventLog types.Log) (events.Event, error) {
	if len(eventLog.Topics) < 2 {
		return nil, &DecodeError{Event: "Trade", TxHash: eventLog.TxHash, Err: fmt.Errorf("missing owner topic")}
	}

	var eventData struct {
		SellToken  common.Address
		BuyToken   common.Address
		SellAmount *big.Int
		BuyAmount  *big.Int
		FeeAmount  *big.Int
		OrderUid   []byte
	}
	if err := d.settlementABI.UnpackIntoInterface(&eventData, "Trade", eventLog.Data); err != nil {
		return nil, &DecodeError{Event: "Trade", TxHash: eventLog.TxHash, Err: err}
	}

	if len(eventData.OrderUid) != condorder.UIDLength {
		return nil, &DecodeError{Event: "Trade", TxHash: eventLog.TxHash, Err: fmt.Errorf("order uid has %d bytes, want %d", len(eventData.OrderUid), condorder.UIDLength)}
	}

	return events.Trade{
		Provenance: provenance(eventLog),
		Owner:      common.BytesToAddress(eventLog.Topics[1].Bytes()),
		SellToken:  eventData.SellToken,
		BuyToken:   eventData.BuyToken,
		SellAmount: eventData.SellAmount,
		BuyAmount:  eventData.BuyAmount,
		FeeAmount:  eventData.FeeAmount,
		OrderUID:   eventData.OrderUid,
	}, nil
}

func (d *Decoder) decodeOrderInvalidated(eventLog types.Log) (events.Event, error) {
	if len(eventLog.Topics) < 2 {
		return nil, &DecodeError{Event: "OrderInvalidated", TxHash: eventLog.TxHash, Err: fmt.Errorf("missing owner topic")}
	}

	var eventData struct {
		OrderUid []byte
	}
	if err := d.settlementABI.UnpackIntoInterface(&eventData, "OrderInvalidated", eventLog.Data); err != nil {
		return nil, &DecodeError{Event: "OrderInvalidated", TxHash: eventLog.TxHash, Err: err}
	}

	if len(eventData.OrderUid) != condorder.UIDLength {
		return nil, &DecodeError{Event: "OrderInvalidated", TxHash: eventLog.TxHash, Err: fmt.Errorf("order uid has %d bytes, want %d", len(eventData.OrderUid), condorder.UIDLength)}
	}

	return events.OrderInvalidated{
		Provenance: provenance(eventLog),
		Owner:      common.BytesToAddress(eventLog.Topics[1].Bytes()),
		OrderUID:   eventData.OrderUid,
	}, nil
}

func provenance(eventLog types.Log) events.Provenance {
	return events.Provenance{
		BlockNumber: eventLog.BlockNumber,
		TxHash:      eventLog.TxHash,
		LogIndex:    eventLog.Index,
	}
}
