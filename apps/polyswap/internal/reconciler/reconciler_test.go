package reconciler

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"polyswap/apps/polyswap/internal/condorder"
	"polyswap/apps/polyswap/internal/events"
	"polyswap/apps/polyswap/internal/model"
	"polyswap/apps/polyswap/internal/orderhash"
)

// fakeStore is an in-memory OrderStore keyed the way the Postgres
// implementation is, so the reconciler's lookup behavior carries over.
type fakeStore struct {
	orders map[string]*model.Order // by id
}

func newFakeStore() *fakeStore {
	return &fakeStore{orders: map[string]*model.Order{}}
}

func (s *fakeStore) CreateDraft(order model.Order) error {
	cp := order
	s.orders[order.ID] = &cp
	return nil
}

func (s *fakeStore) UpsertByHash(order model.Order) error {
	if order.OrderHash != nil {
		for _, existing := range s.orders {
			if existing.OrderHash != nil && *existing.OrderHash == *order.OrderHash {
				cp := order
				cp.ID = existing.ID
				s.orders[existing.ID] = &cp
				return nil
			}
		}
	}
	cp := order
	s.orders[order.ID] = &cp
	return nil
}

func (s *fakeStore) GetByHash(orderHash string) (*model.Order, error) {
	for _, order := range s.orders {
		if order.OrderHash != nil && *order.OrderHash == orderHash {
			cp := *order
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) GetByID(id string) (*model.Order, error) {
	if order, ok := s.orders[id]; ok {
		cp := *order
		return &cp, nil
	}
	return nil, nil
}

func (s *fakeStore) GetByUID(orderUID string) (*model.Order, error) {
	for _, order := range s.orders {
		if order.OrderUID != nil && *order.OrderUID == orderUID {
			cp := *order
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) UpdateStatus(id string, status model.OrderStatus, fill *model.FillDetail) error {
	order, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("order %s not found", id)
	}
	order.Status = status
	if fill != nil {
		filledAt := fill.FilledAt
		txHash := fill.TxHash
		blockNumber := fill.BlockNumber
		logIndex := fill.LogIndex
		order.FilledAt = &filledAt
		order.FillTxHash = &txHash
		order.FillBlockNumber = &blockNumber
		order.FillLogIndex = &logIndex
		order.ActualSellAmount = fill.ActualSellAmount
		order.ActualBuyAmount = fill.ActualBuyAmount
		order.FeeAmount = fill.FeeAmount
	}
	return nil
}

func (s *fakeStore) ConfirmDraft(id, signedTxHash string) error {
	order, ok := s.orders[id]
	if !ok || order.Status != model.StatusDraft {
		return sql.ErrNoRows
	}
	order.Status = model.StatusLive
	order.TxHash = &signedTxHash
	return nil
}

func (s *fakeStore) GetLiveOrdersMissingUID() ([]model.Order, error) {
	var out []model.Order
	for _, order := range s.orders {
		if order.Status == model.StatusLive && order.OrderUID == nil {
			out = append(out, *order)
		}
	}
	return out, nil
}

func (s *fakeStore) SetOrderUID(orderHash, orderUID string) error {
	for _, order := range s.orders {
		if order.OrderHash != nil && *order.OrderHash == orderHash {
			uid := orderUID
			order.OrderUID = &uid
			return nil
		}
	}
	return nil
}

func (s *fakeStore) SetOrderHashAndUID(id, orderHash, orderUID string) error {
	order, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("order %s not found", id)
	}
	hash, uid := orderHash, orderUID
	order.OrderHash = &hash
	order.OrderUID = &uid
	return nil
}

type fakeOutbox struct {
	events []model.OutboxEvent
}

func (o *fakeOutbox) StoreOutboxEvent(event model.OutboxEvent) error {
	o.events = append(o.events, event)
	return nil
}

type fakeHasher struct {
	hash  common.Hash
	calls int
}

func (h *fakeHasher) ComputeOrderHash(ctx context.Context, params condorder.ConditionalOrderParams) (common.Hash, error) {
	h.calls++
	return h.hash, nil
}

var (
	testOwner   = common.HexToAddress("0x0b8fa6f76eb75ae3a4ca28eb3020dfc4503f2136")
	testHandler = common.HexToAddress("0x6cf1e9ca41f7611def408122793c358a3d11e5a5")
)

func testCreatedEvent(t *testing.T, blockNumber uint64, logIndex uint) events.OrderCreated {
	t.Helper()

	swap := condorder.OrderParams{
		SellToken:    common.HexToAddress("0x2791bca1f2de4661ed88a30c99a7a9449aa84174"),
		BuyToken:     common.HexToAddress("0x7ceb23fd6bc0add59e62ac25578270cff1b9f619"),
		Receiver:     testOwner,
		SellAmount:   big.NewInt(1_000_000),
		MinBuyAmount: big.NewInt(950_000),
		StartTime:    big.NewInt(1_700_000_000),
		EndTime:      big.NewInt(1_700_086_400),
	}
	staticInput, err := condorder.EncodeStaticInput(swap)
	if err != nil {
		t.Fatalf("Failed to encode static input: %v", err)
	}

	params := condorder.ConditionalOrderParams{Handler: testHandler, StaticInput: staticInput}
	params.Salt[31] = 0x01

	orderHash, err := condorder.HashParams(params)
	if err != nil {
		t.Fatalf("Failed to hash params: %v", err)
	}

	return events.OrderCreated{
		Provenance: events.Provenance{
			BlockNumber: blockNumber,
			TxHash:      common.HexToHash("0xaaaa000000000000000000000000000000000000000000000000000000000001"),
			LogIndex:    logIndex,
		},
		Owner:     testOwner,
		Params:    params,
		Swap:      swap,
		OrderHash: orderHash,
	}
}

func newTestReconciler() (*Reconciler, *fakeStore, *fakeOutbox, *fakeHasher) {
	store := newFakeStore()
	outbox := &fakeOutbox{}
	hasher := &fakeHasher{hash: common.HexToHash("0x3333333333333333333333333333333333333333333333333333333333333333")}
	return NewReconciler(store, outbox, hasher, zap.NewNop()), store, outbox, hasher
}

func TestApplyOrderCreatedInsertsLiveOrder(t *testing.T) {
	rec, store, outbox, _ := newTestReconciler()
	ev := testCreatedEvent(t, 100, 2)

	if err := rec.Apply(context.Background(), ev); err != nil {
		t.Fatalf("Failed to apply OrderCreated: %v", err)
	}

	order, err := store.GetByHash(ev.OrderHash.Hex())
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if order == nil {
		t.Fatal("Order should exist after OrderCreated")
	}
	if order.Status != model.StatusLive {
		t.Errorf("Expected live status, got %s", order.Status)
	}
	if order.BlockNumber == nil || *order.BlockNumber != 100 {
		t.Error("Order should carry event block number")
	}
	if order.LogIndex == nil || *order.LogIndex != 2 {
		t.Error("Order should carry event log index")
	}
	if order.OrderUID == nil {
		t.Fatal("Order should have a derived UID")
	}
	wantUID := "0x" + hex.EncodeToString(orderhash.ComputeOrderUID(ev.OrderHash, testOwner, 1_700_086_400))
	if *order.OrderUID != wantUID {
		t.Errorf("UID mismatch: got %s, want %s", *order.OrderUID, wantUID)
	}
	if len(outbox.events) != 1 || outbox.events[0].EventType != model.OutboxOrderCreated {
		t.Errorf("Expected one order_created outbox event, got %d", len(outbox.events))
	}
}

func TestApplyOrderCreatedIsIdempotent(t *testing.T) {
	rec, store, outbox, _ := newTestReconciler()
	ev := testCreatedEvent(t, 100, 2)

	if err := rec.Apply(context.Background(), ev); err != nil {
		t.Fatalf("First apply failed: %v", err)
	}
	if err := rec.Apply(context.Background(), ev); err != nil {
		t.Fatalf("Replay should be a no-op, got: %v", err)
	}

	if len(store.orders) != 1 {
		t.Errorf("Replay must not create a second order, have %d", len(store.orders))
	}
	if len(outbox.events) != 1 {
		t.Errorf("Replay must not write a second outbox event, have %d", len(outbox.events))
	}
}

func TestApplyOrderCreatedConflictingProvenanceSkipped(t *testing.T) {
	rec, store, _, _ := newTestReconciler()

	if err := rec.Apply(context.Background(), testCreatedEvent(t, 100, 2)); err != nil {
		t.Fatalf("First apply failed: %v", err)
	}

	// Same order hash claimed at a different chain position
	conflicting := testCreatedEvent(t, 105, 7)
	if err := rec.Apply(context.Background(), conflicting); err != nil {
		t.Fatalf("Conflicting event should be skipped, got: %v", err)
	}

	order, _ := store.GetByHash(conflicting.OrderHash.Hex())
	if *order.BlockNumber != 100 || *order.LogIndex != 2 {
		t.Error("Recorded provenance must never be overwritten")
	}
}

func TestApplyOrderCreatedMergesDraft(t *testing.T) {
	rec, store, _, _ := newTestReconciler()
	ev := testCreatedEvent(t, 100, 2)

	hash := ev.OrderHash.Hex()
	draft := model.Order{
		ID:                  "draft-1",
		OrderHash:           &hash,
		Owner:               "0x0b8fa6f76eb75ae3a4ca28eb3020dfc4503f2136",
		Handler:             "0x6cf1e9ca41f7611def408122793c358a3d11e5a5",
		SellAmount:          "1000000",
		MinBuyAmount:        "950000",
		EndTime:             1_700_086_400,
		PolymarketOrderHash: "0x" + hex.EncodeToString(make([]byte, 32)),
		AppData:             "0x" + hex.EncodeToString(make([]byte, 32)),
		Status:              model.StatusDraft,
	}
	if err := store.CreateDraft(draft); err != nil {
		t.Fatalf("Failed to seed draft: %v", err)
	}

	if err := rec.Apply(context.Background(), ev); err != nil {
		t.Fatalf("Failed to apply OrderCreated over draft: %v", err)
	}

	order, _ := store.GetByID("draft-1")
	if order == nil {
		t.Fatal("Draft row should survive the merge under its id")
	}
	if order.Status != model.StatusLive {
		t.Errorf("Draft should go live, got %s", order.Status)
	}
	if order.BlockNumber == nil || *order.BlockNumber != 100 {
		t.Error("Merged draft should carry event provenance")
	}
	if order.OrderUID == nil {
		t.Error("Merged draft should gain the protocol UID")
	}
}

func TestApplyTradeFillsOrder(t *testing.T) {
	rec, store, outbox, _ := newTestReconciler()
	created := testCreatedEvent(t, 100, 2)
	if err := rec.Apply(context.Background(), created); err != nil {
		t.Fatalf("Failed to apply OrderCreated: %v", err)
	}

	uid := orderhash.ComputeOrderUID(created.OrderHash, testOwner, 1_700_086_400)
	trade := events.Trade{
		Provenance: events.Provenance{
			BlockNumber: 120,
			TxHash:      common.HexToHash("0xbbbb000000000000000000000000000000000000000000000000000000000002"),
			LogIndex:    5,
		},
		Owner:      testOwner,
		SellAmount: big.NewInt(1_000_000),
		BuyAmount:  big.NewInt(970_000),
		FeeAmount:  big.NewInt(1_000),
		OrderUID:   uid,
	}

	if err := rec.Apply(context.Background(), trade); err != nil {
		t.Fatalf("Failed to apply Trade: %v", err)
	}

	order, _ := store.GetByHash(created.OrderHash.Hex())
	if order.Status != model.StatusFilled {
		t.Errorf("Expected filled status, got %s", order.Status)
	}
	if order.ActualBuyAmount == nil || *order.ActualBuyAmount != "970000" {
		t.Error("Fill should record the actual buy amount")
	}
	if order.FillBlockNumber == nil || *order.FillBlockNumber != 120 {
		t.Error("Fill should record its provenance")
	}

	// Replaying the same trade must not change anything further
	if err := rec.Apply(context.Background(), trade); err != nil {
		t.Fatalf("Trade replay should be a no-op, got: %v", err)
	}
	if len(outbox.events) != 2 {
		t.Errorf("Expected created + filled outbox events, got %d", len(outbox.events))
	}
}

func TestApplyTradeUnknownUIDIsNoOp(t *testing.T) {
	rec, _, outbox, _ := newTestReconciler()

	trade := events.Trade{
		Provenance: events.Provenance{BlockNumber: 120, LogIndex: 5},
		SellAmount: big.NewInt(1),
		BuyAmount:  big.NewInt(1),
		FeeAmount:  big.NewInt(0),
		OrderUID:   make([]byte, condorder.UIDLength),
	}

	if err := rec.Apply(context.Background(), trade); err != nil {
		t.Fatalf("Unknown uid should be a silent skip, got: %v", err)
	}
	if len(outbox.events) != 0 {
		t.Error("Unknown uid must not write outbox events")
	}
}

func TestApplyTradeOnFilledOrderSkipped(t *testing.T) {
	rec, store, _, _ := newTestReconciler()
	created := testCreatedEvent(t, 100, 2)
	if err := rec.Apply(context.Background(), created); err != nil {
		t.Fatalf("Failed to apply OrderCreated: %v", err)
	}

	uid := orderhash.ComputeOrderUID(created.OrderHash, testOwner, 1_700_086_400)
	first := events.Trade{
		Provenance: events.Provenance{BlockNumber: 120, LogIndex: 5},
		SellAmount: big.NewInt(1_000_000),
		BuyAmount:  big.NewInt(970_000),
		FeeAmount:  big.NewInt(1_000),
		OrderUID:   uid,
	}
	if err := rec.Apply(context.Background(), first); err != nil {
		t.Fatalf("Failed to apply first trade: %v", err)
	}

	// A different fill event against an already-filled order is skipped
	second := first
	second.BlockNumber = 121
	second.LogIndex = 0
	if err := rec.Apply(context.Background(), second); err != nil {
		t.Fatalf("Second trade should be skipped, got: %v", err)
	}

	order, _ := store.GetByHash(created.OrderHash.Hex())
	if *order.FillBlockNumber != 120 {
		t.Error("First fill provenance must be preserved")
	}
}

func TestApplyOrderInvalidatedCancelsOrder(t *testing.T) {
	rec, store, outbox, _ := newTestReconciler()
	created := testCreatedEvent(t, 100, 2)
	if err := rec.Apply(context.Background(), created); err != nil {
		t.Fatalf("Failed to apply OrderCreated: %v", err)
	}

	uid := orderhash.ComputeOrderUID(created.OrderHash, testOwner, 1_700_086_400)
	invalidated := events.OrderInvalidated{
		Provenance: events.Provenance{
			BlockNumber: 130,
			TxHash:      common.HexToHash("0xcccc000000000000000000000000000000000000000000000000000000000003"),
			LogIndex:    1,
		},
		Owner:    testOwner,
		OrderUID: uid,
	}

	if err := rec.Apply(context.Background(), invalidated); err != nil {
		t.Fatalf("Failed to apply OrderInvalidated: %v", err)
	}

	order, _ := store.GetByHash(created.OrderHash.Hex())
	if order.Status != model.StatusCanceled {
		t.Errorf("Expected canceled status, got %s", order.Status)
	}
	if order.ActualSellAmount != nil {
		t.Error("Cancellation must not record fill amounts")
	}
	if got := outbox.events[len(outbox.events)-1].EventType; got != model.OutboxOrderCanceled {
		t.Errorf("Expected order_canceled outbox event, got %s", got)
	}
}

func TestConfirmOrderTransitions(t *testing.T) {
	rec, store, _, _ := newTestReconciler()

	hash := "0x4444444444444444444444444444444444444444444444444444444444444444"
	if err := store.CreateDraft(model.Order{ID: "draft-2", OrderHash: &hash, Status: model.StatusDraft}); err != nil {
		t.Fatalf("Failed to seed draft: %v", err)
	}

	if err := rec.ConfirmOrder("draft-2", "0xsigned"); err != nil {
		t.Fatalf("Failed to confirm draft: %v", err)
	}

	order, _ := store.GetByID("draft-2")
	if order.Status != model.StatusLive {
		t.Errorf("Expected live status, got %s", order.Status)
	}
	if order.TxHash == nil || *order.TxHash != "0xsigned" {
		t.Error("Confirmation should record the signed tx hash")
	}

	// Confirming twice is an invalid transition
	err := rec.ConfirmOrder("draft-2", "0xsigned")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}

	err = rec.ConfirmOrder("missing", "0xsigned")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("Expected ErrOrderNotFound, got %v", err)
	}
}

func TestBackfillMissingUIDs(t *testing.T) {
	rec, store, _, hasher := newTestReconciler()

	// Live order with a hash but no uid: pure packing, no rpc
	hash := "0x5555555555555555555555555555555555555555555555555555555555555555"
	store.orders["with-hash"] = &model.Order{
		ID:        "with-hash",
		OrderHash: &hash,
		Owner:     "0x0b8fa6f76eb75ae3a4ca28eb3020dfc4503f2136",
		EndTime:   1_700_086_400,
		Status:    model.StatusLive,
	}

	// Live order with neither: requires the registry call
	store.orders["without-hash"] = &model.Order{
		ID:                  "without-hash",
		Owner:               "0x0b8fa6f76eb75ae3a4ca28eb3020dfc4503f2136",
		Handler:             "0x6cf1e9ca41f7611def408122793c358a3d11e5a5",
		Salt:                "0x" + hex.EncodeToString(make([]byte, 32)),
		SellToken:           "0x2791bca1f2de4661ed88a30c99a7a9449aa84174",
		BuyToken:            "0x7ceb23fd6bc0add59e62ac25578270cff1b9f619",
		Receiver:            "0x0b8fa6f76eb75ae3a4ca28eb3020dfc4503f2136",
		SellAmount:          "1000000",
		MinBuyAmount:        "950000",
		StartTime:           1_700_000_000,
		EndTime:             1_700_086_400,
		PolymarketOrderHash: "0x" + hex.EncodeToString(make([]byte, 32)),
		AppData:             "0x" + hex.EncodeToString(make([]byte, 32)),
		Status:              model.StatusLive,
	}

	if err := rec.BackfillMissingUIDs(context.Background()); err != nil {
		t.Fatalf("Backfill failed: %v", err)
	}

	withHash, _ := store.GetByID("with-hash")
	if withHash.OrderUID == nil {
		t.Error("Order with known hash should gain a uid")
	}
	wantUID := "0x" + hex.EncodeToString(orderhash.ComputeOrderUID(
		common.HexToHash(hash), testOwner, 1_700_086_400))
	if *withHash.OrderUID != wantUID {
		t.Errorf("UID mismatch: got %s, want %s", *withHash.OrderUID, wantUID)
	}

	withoutHash, _ := store.GetByID("without-hash")
	if withoutHash.OrderHash == nil || withoutHash.OrderUID == nil {
		t.Error("Order without hash should gain both hash and uid")
	}
	if hasher.calls != 1 {
		t.Errorf("Registry hash call expected exactly once, got %d", hasher.calls)
	}
}
