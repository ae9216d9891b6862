package condorder

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func sampleOrder() OrderParams {
	var polymarketHash [32]byte
	polymarketHash[0] = 0xab
	polymarketHash[31] = 0xcd

	var appData [32]byte
	appData[0] = 0x11

	return OrderParams{
		SellToken:           common.HexToAddress("0x2791bca1f2de4661ed88a30c99a7a9449aa84174"),
		BuyToken:            common.HexToAddress("0x7ceb23fd6bc0add59e62ac25578270cff1b9f619"),
		Receiver:            common.HexToAddress("0x0b8fa6f76eb75ae3a4ca28eb3020dfc4503f2136"),
		SellAmount:          big.NewInt(1_000_000),
		MinBuyAmount:        big.NewInt(950_000),
		StartTime:           big.NewInt(1_700_000_000),
		EndTime:             big.NewInt(1_700_086_400),
		PolymarketOrderHash: polymarketHash,
		AppData:             appData,
	}
}

func TestEncodeDecodeStaticInputRoundTrip(t *testing.T) {
	order := sampleOrder()

	blob, err := EncodeStaticInput(order)
	if err != nil {
		t.Fatalf("Failed to encode static input: %v", err)
	}
	if len(blob) != 9*WordSize {
		t.Fatalf("Expected %d bytes, got %d", 9*WordSize, len(blob))
	}

	decoded, err := DecodeStaticInput(blob)
	if err != nil {
		t.Fatalf("Failed to decode static input: %v", err)
	}

	if decoded.SellToken != order.SellToken {
		t.Errorf("SellToken mismatch: got %s, want %s", decoded.SellToken.Hex(), order.SellToken.Hex())
	}
	if decoded.BuyToken != order.BuyToken {
		t.Errorf("BuyToken mismatch: got %s, want %s", decoded.BuyToken.Hex(), order.BuyToken.Hex())
	}
	if decoded.Receiver != order.Receiver {
		t.Errorf("Receiver mismatch: got %s, want %s", decoded.Receiver.Hex(), order.Receiver.Hex())
	}
	if decoded.SellAmount.Cmp(order.SellAmount) != 0 {
		t.Errorf("SellAmount mismatch: got %s, want %s", decoded.SellAmount, order.SellAmount)
	}
	if decoded.MinBuyAmount.Cmp(order.MinBuyAmount) != 0 {
		t.Errorf("MinBuyAmount mismatch: got %s, want %s", decoded.MinBuyAmount, order.MinBuyAmount)
	}
	if decoded.StartTime.Cmp(order.StartTime) != 0 {
		t.Errorf("StartTime mismatch: got %s, want %s", decoded.StartTime, order.StartTime)
	}
	if decoded.EndTime.Cmp(order.EndTime) != 0 {
		t.Errorf("EndTime mismatch: got %s, want %s", decoded.EndTime, order.EndTime)
	}
	if decoded.PolymarketOrderHash != order.PolymarketOrderHash {
		t.Errorf("PolymarketOrderHash mismatch: got %x, want %x", decoded.PolymarketOrderHash, order.PolymarketOrderHash)
	}
	if decoded.AppData != order.AppData {
		t.Errorf("AppData mismatch: got %x, want %x", decoded.AppData, order.AppData)
	}
}

func TestDecodeLegacyStaticInput(t *testing.T) {
	order := sampleOrder()

	blob, err := EncodeStaticInput(order)
	if err != nil {
		t.Fatalf("Failed to encode static input: %v", err)
	}

	// The legacy layout is the same packing minus the trailing appData word
	legacy := blob[:8*WordSize]

	decoded, err := DecodeStaticInput(legacy)
	if err != nil {
		t.Fatalf("Failed to decode legacy static input: %v", err)
	}

	if decoded.AppData != ZeroWord {
		t.Errorf("Expected zero appData sentinel for legacy layout, got %x", decoded.AppData)
	}
	if decoded.PolymarketOrderHash != order.PolymarketOrderHash {
		t.Errorf("PolymarketOrderHash mismatch: got %x, want %x", decoded.PolymarketOrderHash, order.PolymarketOrderHash)
	}
	if decoded.EndTime.Cmp(order.EndTime) != 0 {
		t.Errorf("EndTime mismatch: got %s, want %s", decoded.EndTime, order.EndTime)
	}
}

func TestDecodeStaticInputRejectsBadLengths(t *testing.T) {
	cases := []struct {
		name string
		size int
	}{
		{"empty", 0},
		{"not word aligned", 100},
		{"too few words", 7 * WordSize},
		{"too many words", 10 * WordSize},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeStaticInput(make([]byte, tc.size)); err == nil {
				t.Errorf("Expected decode error for %d bytes", tc.size)
			}
		})
	}
}

func TestEncodeStaticInputRejectsNilFields(t *testing.T) {
	order := sampleOrder()
	order.SellAmount = nil

	if _, err := EncodeStaticInput(order); err == nil {
		t.Error("Expected error for nil sell amount")
	}
}

func TestHashParamsDeterministic(t *testing.T) {
	blob, err := EncodeStaticInput(sampleOrder())
	if err != nil {
		t.Fatalf("Failed to encode static input: %v", err)
	}

	params := ConditionalOrderParams{
		Handler:     common.HexToAddress("0x6cf1e9ca41f7611def408122793c358a3d11e5a5"),
		StaticInput: blob,
	}
	params.Salt[31] = 0x01

	first, err := HashParams(params)
	if err != nil {
		t.Fatalf("Failed to hash params: %v", err)
	}
	second, err := HashParams(params)
	if err != nil {
		t.Fatalf("Failed to hash params: %v", err)
	}
	if first != second {
		t.Errorf("Hash not deterministic: %s vs %s", first.Hex(), second.Hex())
	}

	params.Salt[31] = 0x02
	changed, err := HashParams(params)
	if err != nil {
		t.Fatalf("Failed to hash params: %v", err)
	}
	if changed == first {
		t.Error("Hash should change when the salt changes")
	}
}

func TestPackParamsEmbedsStaticInput(t *testing.T) {
	blob, err := EncodeStaticInput(sampleOrder())
	if err != nil {
		t.Fatalf("Failed to encode static input: %v", err)
	}

	packed, err := PackParams(ConditionalOrderParams{
		Handler:     common.HexToAddress("0x6cf1e9ca41f7611def408122793c358a3d11e5a5"),
		StaticInput: blob,
	})
	if err != nil {
		t.Fatalf("Failed to pack params: %v", err)
	}

	if !bytes.Contains(packed, blob) {
		t.Error("Packed params should embed the static input bytes")
	}
}
