// Package condorder implements the wire formats of the conditional-order
// protocol: the ABI-packed static input blob carrying the swap economics,
// the (handler, salt, staticInput) params tuple, and the canonical hash of
// that tuple.
package condorder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// WordSize is the width of one packed static-input field.
	WordSize = 32

	// legacyFieldCount is the pre-appData static input layout.
	legacyFieldCount = 8
	// fieldCount is the current static input layout, appData included.
	fieldCount = 9

	// UIDLength is hash(32) + owner(20) + validTo(4).
	UIDLength = 56
)

// ZeroWord is the 32-byte zero sentinel substituted for absent optional
// fields (appData in the legacy layout, polymarketOrderHash when unlinked).
var ZeroWord [32]byte

// ConditionalOrderParams is the envelope registered on-chain: the handler
// contract that interprets the static input, a salt for uniqueness, and the
// opaque blob itself.
type ConditionalOrderParams struct {
	Handler     common.Address
	Salt        [32]byte
	StaticInput []byte
}

// OrderParams is the decoded static input of a conditional swap order.
type OrderParams struct {
	SellToken           common.Address
	BuyToken            common.Address
	Receiver            common.Address
	SellAmount          *big.Int
	MinBuyAmount        *big.Int
	StartTime           *big.Int
	EndTime             *big.Int
	PolymarketOrderHash [32]byte
	AppData             [32]byte
}

var (
	staticInputArgs abi.Arguments
	paramsArgs      abi.Arguments
)

func init() {
	addressTy := mustNewType("address")
	uintTy := mustNewType("uint256")
	bytes32Ty := mustNewType("bytes32")

	staticInputArgs = abi.Arguments{
		{Name: "sellToken", Type: addressTy},
		{Name: "buyToken", Type: addressTy},
		{Name: "receiver", Type: addressTy},
		{Name: "sellAmount", Type: uintTy},
		{Name: "minBuyAmount", Type: uintTy},
		{Name: "startTime", Type: uintTy},
		{Name: "endTime", Type: uintTy},
		{Name: "polymarketOrderHash", Type: bytes32Ty},
		{Name: "appData", Type: bytes32Ty},
	}

	paramsTupleTy, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "handler", Type: "address"},
		{Name: "salt", Type: "bytes32"},
		{Name: "staticInput", Type: "bytes"},
	})
	if err != nil {
		panic(fmt.Sprintf("failed to build params tuple type: %v", err))
	}
	paramsArgs = abi.Arguments{{Name: "params", Type: paramsTupleTy}}
}

func mustNewType(t string) abi.Type {
	ty, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("failed to build abi type %s: %v", t, err))
	}
	return ty
}

// EncodeStaticInput ABI-packs the 9-field static input. New orders always
// carry the appData field; the 8-field layout exists only for decoding
// legacy on-chain orders.
func EncodeStaticInput(p OrderParams) ([]byte, error) {
	if p.SellAmount == nil || p.MinBuyAmount == nil || p.StartTime == nil || p.EndTime == nil {
		return nil, fmt.Errorf("static input has nil amount or time field")
	}

	packed, err := staticInputArgs.Pack(
		p.SellToken,
		p.BuyToken,
		p.Receiver,
		p.SellAmount,
		p.MinBuyAmount,
		p.StartTime,
		p.EndTime,
		p.PolymarketOrderHash,
		p.AppData,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pack static input: %w", err)
	}
	return packed, nil
}

// DecodeStaticInput parses an opaque static input blob. The field count
// selects the layout: 8 words is the legacy form (appData absent, zero
// sentinel substituted), 9 words is the current form. Any other length is
// a decode error.
func DecodeStaticInput(blob []byte) (OrderParams, error) {
	if len(blob)%WordSize != 0 {
		return OrderParams{}, fmt.Errorf("static input length %d is not word-aligned", len(blob))
	}

	fields := len(blob) / WordSize
	if fields != legacyFieldCount && fields != fieldCount {
		return OrderParams{}, fmt.Errorf("static input has %d fields, want %d or %d", fields, legacyFieldCount, fieldCount)
	}

	word := func(i int) []byte { return blob[i*WordSize : (i+1)*WordSize] }

	p := OrderParams{
		SellToken:    common.BytesToAddress(word(0)),
		BuyToken:     common.BytesToAddress(word(1)),
		Receiver:     common.BytesToAddress(word(2)),
		SellAmount:   new(big.Int).SetBytes(word(3)),
		MinBuyAmount: new(big.Int).SetBytes(word(4)),
		StartTime:    new(big.Int).SetBytes(word(5)),
		EndTime:      new(big.Int).SetBytes(word(6)),
	}
	copy(p.PolymarketOrderHash[:], word(7))
	if fields == fieldCount {
		copy(p.AppData[:], word(8))
	}

	return p, nil
}

// PackParams canonically ABI-encodes the params envelope as a single tuple,
// matching the registry contract's own encoding.
func PackParams(p ConditionalOrderParams) ([]byte, error) {
	packed, err := paramsArgs.Pack(struct {
		Handler     common.Address
		Salt        [32]byte
		StaticInput []byte
	}{p.Handler, p.Salt, p.StaticInput})
	if err != nil {
		return nil, fmt.Errorf("failed to pack conditional order params: %w", err)
	}
	return packed, nil
}

// HashParams computes the order hash as the keccak of the canonically
// re-encoded params tuple. This mirrors what the registry contract emits;
// the request flow instead asks the contract itself (see orderhash).
func HashParams(p ConditionalOrderParams) (common.Hash, error) {
	packed, err := PackParams(p)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(packed), nil
}
