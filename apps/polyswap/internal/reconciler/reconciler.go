// Package reconciler applies decoded chain events to the order store,
// enforcing the order lifecycle state machine. All event application is
// idempotent under (blockNumber, logIndex) replay: the poller may hand the
// same range over again after a partial failure and state must not change.
package reconciler

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"polyswap/apps/polyswap/internal/condorder"
	"polyswap/apps/polyswap/internal/events"
	"polyswap/apps/polyswap/internal/model"
	"polyswap/apps/polyswap/internal/orderhash"
)

// ErrInvalidTransition is returned when a requested status change is not in
// the forward-only lifecycle (draft->live, live->filled, live->canceled).
var ErrInvalidTransition = errors.New("invalid order status transition")

// ErrOrderNotFound is returned by operator-facing operations that target a
// specific stored order.
var ErrOrderNotFound = errors.New("order not found")

// OrderStore is the persistence surface the reconciler consumes. The
// Postgres implementation lives in the repository package; tests use an
// in-memory fake.
type OrderStore interface {
	CreateDraft(order model.Order) error
	UpsertByHash(order model.Order) error
	GetByHash(orderHash string) (*model.Order, error)
	GetByID(id string) (*model.Order, error)
	GetByUID(orderUID string) (*model.Order, error)
	UpdateStatus(id string, status model.OrderStatus, fill *model.FillDetail) error
	ConfirmDraft(id, signedTxHash string) error
	GetLiveOrdersMissingUID() ([]model.Order, error)
	SetOrderUID(orderHash, orderUID string) error
	SetOrderHashAndUID(id, orderHash, orderUID string) error
}

// OutboxStore receives one audit row per applied lifecycle change.
type OutboxStore interface {
	StoreOutboxEvent(event model.OutboxEvent) error
}

// HashCalculator is the remote order-hash dependency, used only when a live
// order is missing both its UID and its hash.
type HashCalculator interface {
	ComputeOrderHash(ctx context.Context, params condorder.ConditionalOrderParams) (common.Hash, error)
}

type Reconciler struct {
	store  OrderStore
	outbox OutboxStore
	hasher HashCalculator
	logger *zap.Logger
}

func NewReconciler(store OrderStore, outbox OutboxStore, hasher HashCalculator, logger *zap.Logger) *Reconciler {
	return &Reconciler{store: store, outbox: outbox, hasher: hasher, logger: logger}
}

// Apply dispatches one decoded event to its lifecycle handler.
func (r *Reconciler) Apply(ctx context.Context, event events.Event) error {
	switch ev := event.(type) {
	case events.OrderCreated:
		return r.applyOrderCreated(ev)
	case events.Trade:
		return r.applyTrade(ev)
	case events.OrderInvalidated:
		return r.applyOrderInvalidated(ev)
	default:
		return fmt.Errorf("unknown event kind %q", event.Kind())
	}
}

func (r *Reconciler) applyOrderCreated(ev events.OrderCreated) error {
	hash := ev.OrderHash.Hex()
	owner := strings.ToLower(ev.Owner.Hex())

	existing, err := r.store.GetByHash(hash)
	if err != nil {
		return err
	}

	if existing != nil {
		if sameProvenance(existing.BlockNumber, existing.LogIndex, ev.BlockNumber, ev.LogIndex) {
			r.logger.Debug("Replayed OrderCreated event, no-op",
				zap.String("order_hash", hash),
				zap.Uint64("block", ev.BlockNumber))
			return nil
		}

		if existing.BlockNumber != nil {
			// Same hash, different provenance: never overwrite.
			r.logger.Warn("OrderCreated event conflicts with recorded provenance, skipping",
				zap.String("order_hash", hash),
				zap.Uint64("event_block", ev.BlockNumber),
				zap.Uint64("recorded_block", *existing.BlockNumber))
			return nil
		}

		if existing.Status != model.StatusDraft && existing.Status != model.StatusLive {
			return fmt.Errorf("%w: order %s is %s, cannot observe creation", ErrInvalidTransition, hash, existing.Status)
		}

		// Draft created by the external flow, now observed on-chain: merge
		// provenance and go live.
		merged := *existing
		merged.Status = model.StatusLive
		blockNumber, logIndex, txHash := ev.BlockNumber, uint64(ev.LogIndex), ev.TxHash.Hex()
		merged.BlockNumber = &blockNumber
		merged.LogIndex = &logIndex
		merged.TxHash = &txHash
		uid := encodeUID(orderhash.ComputeOrderUID(ev.OrderHash, ev.Owner, uint32(ev.Swap.EndTime.Uint64())))
		merged.OrderUID = &uid

		if err := r.store.UpsertByHash(merged); err != nil {
			return err
		}
		return r.writeOutbox(model.OutboxOrderCreated, ev.Provenance, hash, owner, orderCreatedBlob(ev))
	}

	// Not seen before: insert fresh, live immediately, full provenance.
	blockNumber, logIndex, txHash := ev.BlockNumber, uint64(ev.LogIndex), ev.TxHash.Hex()
	uid := encodeUID(orderhash.ComputeOrderUID(ev.OrderHash, ev.Owner, uint32(ev.Swap.EndTime.Uint64())))
	order := model.Order{
		ID:                  uuid.New().String(),
		OrderHash:           &hash,
		OrderUID:            &uid,
		Owner:               owner,
		Handler:             strings.ToLower(ev.Params.Handler.Hex()),
		Salt:                encodeWord(ev.Params.Salt),
		SellToken:           strings.ToLower(ev.Swap.SellToken.Hex()),
		BuyToken:            strings.ToLower(ev.Swap.BuyToken.Hex()),
		Receiver:            strings.ToLower(ev.Swap.Receiver.Hex()),
		SellAmount:          ev.Swap.SellAmount.String(),
		MinBuyAmount:        ev.Swap.MinBuyAmount.String(),
		StartTime:           ev.Swap.StartTime.Uint64(),
		EndTime:             ev.Swap.EndTime.Uint64(),
		PolymarketOrderHash: encodeWord(ev.Swap.PolymarketOrderHash),
		AppData:             encodeWord(ev.Swap.AppData),
		BlockNumber:         &blockNumber,
		TxHash:              &txHash,
		LogIndex:            &logIndex,
		Status:              model.StatusLive,
	}

	if err := r.store.UpsertByHash(order); err != nil {
		return err
	}
	return r.writeOutbox(model.OutboxOrderCreated, ev.Provenance, hash, owner, orderCreatedBlob(ev))
}

func (r *Reconciler) applyTrade(ev events.Trade) error {
	uid := "0x" + hex.EncodeToString(ev.OrderUID)

	order, err := r.store.GetByUID(uid)
	if err != nil {
		return err
	}
	if order == nil {
		// The settlement contract carries unrelated orders; not ours.
		r.logger.Debug("Trade event for unknown order uid, skipping", zap.String("order_uid", uid))
		return nil
	}

	if sameProvenance(order.FillBlockNumber, order.FillLogIndex, ev.BlockNumber, ev.LogIndex) {
		r.logger.Debug("Replayed Trade event, no-op", zap.String("order_uid", uid))
		return nil
	}

	if order.Status != model.StatusLive {
		r.logger.Warn("Trade event for order not in live status, skipping",
			zap.String("order_uid", uid),
			zap.String("status", string(order.Status)))
		return nil
	}

	sellAmount := ev.SellAmount.String()
	buyAmount := ev.BuyAmount.String()
	feeAmount := ev.FeeAmount.String()
	fill := model.FillDetail{
		FilledAt:         time.Now().UTC(),
		TxHash:           ev.TxHash.Hex(),
		BlockNumber:      ev.BlockNumber,
		LogIndex:         uint64(ev.LogIndex),
		ActualSellAmount: &sellAmount,
		ActualBuyAmount:  &buyAmount,
		FeeAmount:        &feeAmount,
	}

	if err := r.store.UpdateStatus(order.ID, model.StatusFilled, &fill); err != nil {
		return err
	}

	blob, _ := json.Marshal(map[string]string{
		"order_uid":   uid,
		"sell_amount": sellAmount,
		"buy_amount":  buyAmount,
		"fee_amount":  feeAmount,
	})
	return r.writeOutbox(model.OutboxOrderFilled, ev.Provenance, deref(order.OrderHash), order.Owner, blob)
}

func (r *Reconciler) applyOrderInvalidated(ev events.OrderInvalidated) error {
	uid := "0x" + hex.EncodeToString(ev.OrderUID)

	order, err := r.store.GetByUID(uid)
	if err != nil {
		return err
	}
	if order == nil {
		r.logger.Debug("OrderInvalidated event for unknown order uid, skipping", zap.String("order_uid", uid))
		return nil
	}

	if sameProvenance(order.FillBlockNumber, order.FillLogIndex, ev.BlockNumber, ev.LogIndex) {
		r.logger.Debug("Replayed OrderInvalidated event, no-op", zap.String("order_uid", uid))
		return nil
	}

	if order.Status != model.StatusLive {
		r.logger.Warn("OrderInvalidated event for order not in live status, skipping",
			zap.String("order_uid", uid),
			zap.String("status", string(order.Status)))
		return nil
	}

	fill := model.FillDetail{
		FilledAt:    time.Now().UTC(),
		TxHash:      ev.TxHash.Hex(),
		BlockNumber: ev.BlockNumber,
		LogIndex:    uint64(ev.LogIndex),
	}

	if err := r.store.UpdateStatus(order.ID, model.StatusCanceled, &fill); err != nil {
		return err
	}

	blob, _ := json.Marshal(map[string]string{"order_uid": uid})
	return r.writeOutbox(model.OutboxOrderCanceled, ev.Provenance, deref(order.OrderHash), order.Owner, blob)
}

// ConfirmOrder records the signed transaction hash for a draft and moves it
// to live. Any other starting status is an invalid transition.
func (r *Reconciler) ConfirmOrder(id, signedTxHash string) error {
	order, err := r.store.GetByID(id)
	if err != nil {
		return err
	}
	if order == nil {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if !order.Status.CanTransitionTo(model.StatusLive) {
		return fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, id, order.Status)
	}

	if err := r.store.ConfirmDraft(id, signedTxHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: order %s left draft concurrently", ErrInvalidTransition, id)
		}
		return err
	}

	r.logger.Info("Order confirmed live",
		zap.String("id", id),
		zap.String("tx_hash", signedTxHash))
	return nil
}

// BackfillMissingUIDs derives the protocol UID for live orders that lack
// one. When the hash is already known, the UID is a pure packing; otherwise
// it is recomputed through the registry call.
func (r *Reconciler) BackfillMissingUIDs(ctx context.Context) error {
	orders, err := r.store.GetLiveOrdersMissingUID()
	if err != nil {
		return err
	}

	for _, order := range orders {
		if order.OrderHash != nil {
			uid := encodeUID(orderhash.ComputeOrderUID(
				common.HexToHash(*order.OrderHash),
				common.HexToAddress(order.Owner),
				uint32(order.EndTime)))
			if err := r.store.SetOrderUID(*order.OrderHash, uid); err != nil {
				return err
			}
			continue
		}

		params, err := paramsFromOrder(order)
		if err != nil {
			r.logger.Warn("Cannot rebuild params for uid backfill, skipping",
				zap.String("id", order.ID), zap.Error(err))
			continue
		}

		hash, err := r.hasher.ComputeOrderHash(ctx, params)
		if err != nil {
			return fmt.Errorf("failed to compute hash for order %s: %w", order.ID, err)
		}

		uid := encodeUID(orderhash.ComputeOrderUID(hash, common.HexToAddress(order.Owner), uint32(order.EndTime)))
		if err := r.store.SetOrderHashAndUID(order.ID, hash.Hex(), uid); err != nil {
			return err
		}
	}

	return nil
}

func (r *Reconciler) writeOutbox(eventType string, prov events.Provenance, orderHash, owner string, blob json.RawMessage) error {
	return r.outbox.StoreOutboxEvent(model.OutboxEvent{
		TxHash:      prov.TxHash.Hex(),
		EventType:   eventType,
		Status:      "unsent",
		BlockNumber: prov.BlockNumber,
		LogIndex:    prov.LogIndex,
		OrderHash:   orderHash,
		Address:     owner,
		EventBlob:   blob,
	})
}

// paramsFromOrder rebuilds the on-chain params envelope from stored fields.
func paramsFromOrder(order model.Order) (condorder.ConditionalOrderParams, error) {
	sellAmount, ok := new(big.Int).SetString(order.SellAmount, 10)
	if !ok {
		return condorder.ConditionalOrderParams{}, fmt.Errorf("invalid sell amount %q", order.SellAmount)
	}
	minBuyAmount, ok := new(big.Int).SetString(order.MinBuyAmount, 10)
	if !ok {
		return condorder.ConditionalOrderParams{}, fmt.Errorf("invalid min buy amount %q", order.MinBuyAmount)
	}

	swap := condorder.OrderParams{
		SellToken:    common.HexToAddress(order.SellToken),
		BuyToken:     common.HexToAddress(order.BuyToken),
		Receiver:     common.HexToAddress(order.Receiver),
		SellAmount:   sellAmount,
		MinBuyAmount: minBuyAmount,
		StartTime:    new(big.Int).SetUint64(order.StartTime),
		EndTime:      new(big.Int).SetUint64(order.EndTime),
	}
	copy(swap.PolymarketOrderHash[:], common.FromHex(order.PolymarketOrderHash))
	copy(swap.AppData[:], common.FromHex(order.AppData))

	staticInput, err := condorder.EncodeStaticInput(swap)
	if err != nil {
		return condorder.ConditionalOrderParams{}, err
	}

	params := condorder.ConditionalOrderParams{
		Handler:     common.HexToAddress(order.Handler),
		StaticInput: staticInput,
	}
	copy(params.Salt[:], common.FromHex(order.Salt))
	return params, nil
}

func sameProvenance(blockNumber, logIndex *uint64, evBlock uint64, evIndex uint) bool {
	return blockNumber != nil && logIndex != nil && *blockNumber == evBlock && *logIndex == uint64(evIndex)
}

func orderCreatedBlob(ev events.OrderCreated) json.RawMessage {
	blob, _ := json.Marshal(map[string]string{
		"order_hash":  ev.OrderHash.Hex(),
		"sell_token":  strings.ToLower(ev.Swap.SellToken.Hex()),
		"buy_token":   strings.ToLower(ev.Swap.BuyToken.Hex()),
		"sell_amount": ev.Swap.SellAmount.String(),
		"end_time":    ev.Swap.EndTime.String(),
	})
	return blob
}

func encodeUID(uid []byte) string {
	return "0x" + hex.EncodeToString(uid)
}

func encodeWord(word [32]byte) string {
	return "0x" + hex.EncodeToString(word[:])
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
