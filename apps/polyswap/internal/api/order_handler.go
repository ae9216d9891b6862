package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"polyswap/apps/polyswap/internal/condorder"
	"polyswap/apps/polyswap/internal/model"
	"polyswap/apps/polyswap/internal/orderhash"
	"polyswap/apps/polyswap/internal/reconciler"
	"polyswap/apps/polyswap/internal/repository"
	"polyswap/apps/polyswap/internal/txbuilder"
)

// OrderHandler handles order-related API endpoints
type OrderHandler struct {
	orderRepository *repository.OrderRepository
	reconciler      *reconciler.Reconciler
	calculator      *orderhash.Calculator
	encoder         *txbuilder.Encoder
	batchBuilder    *txbuilder.BatchBuilder
	logger          *zap.Logger
}

func NewOrderHandler(
	orderRepository *repository.OrderRepository,
	rec *reconciler.Reconciler,
	calculator *orderhash.Calculator,
	encoder *txbuilder.Encoder,
	batchBuilder *txbuilder.BatchBuilder,
	logger *zap.Logger,
) *OrderHandler {
	return &OrderHandler{
		orderRepository: orderRepository,
		reconciler:      rec,
		calculator:      calculator,
		encoder:         encoder,
		batchBuilder:    batchBuilder,
		logger:          logger,
	}
}

// CreateOrder handles POST /api/orders. It drafts the order, computes its
// hash via the registry's view function and returns the unsigned batch.
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}

	swap, errCode, errMsg := h.validateCreateRequest(&req)
	if errCode != "" {
		writeError(w, h.logger, http.StatusBadRequest, errCode, errMsg)
		return
	}

	params, err := h.encoder.WrapOrder(swap)
	if err != nil {
		h.logger.Error("Failed to wrap order", zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "encoding_error", "Failed to encode order parameters")
		return
	}

	orderHash, err := h.calculator.ComputeOrderHash(r.Context(), params)
	if err != nil {
		h.logger.Error("Failed to compute order hash", zap.Error(err))
		writeError(w, h.logger, http.StatusBadGateway, "hash_error", "Failed to compute order hash on-chain")
		return
	}
	orderUID := orderhash.ComputeOrderUID(orderHash, common.HexToAddress(req.Owner), uint32(req.EndTime))

	batch, err := h.batchBuilder.BuildCreateBatch(r.Context(), common.HexToAddress(req.Owner), params)
	if err != nil {
		switch {
		case errors.Is(err, txbuilder.ErrInsufficientBalance):
			writeError(w, h.logger, http.StatusUnprocessableEntity, "insufficient_balance", "Sell token balance is below the order amount")
		case errors.Is(err, txbuilder.ErrGasEstimation):
			writeError(w, h.logger, http.StatusBadGateway, "gas_estimation_error", "Failed to estimate gas for the batch")
		default:
			h.logger.Error("Failed to build creation batch", zap.Error(err))
			writeError(w, h.logger, http.StatusInternalServerError, "batch_build_error", "Failed to build transaction batch")
		}
		return
	}

	order := h.draftFromRequest(&req, swap, params, orderHash, orderUID)
	if err := h.orderRepository.CreateDraft(order); err != nil {
		h.logger.Error("Failed to store draft order", zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "database_error", "Failed to store draft order")
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, CreateOrderResponse{
		OrderID:   order.ID,
		OrderHash: *order.OrderHash,
		OrderUID:  *order.OrderUID,
		Batch:     batch,
	})
}

// ConfirmOrder handles POST /api/orders/{id}/confirm. The caller reports
// the signed creation transaction; the draft goes live.
func (h *OrderHandler) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req ConfirmOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}
	if req.TxHash == "" {
		writeError(w, h.logger, http.StatusBadRequest, "missing_tx_hash", "Transaction hash is required")
		return
	}

	if err := h.reconciler.ConfirmOrder(id, strings.ToLower(req.TxHash)); err != nil {
		switch {
		case errors.Is(err, reconciler.ErrOrderNotFound):
			writeError(w, h.logger, http.StatusNotFound, "order_not_found", "Order not found")
		case errors.Is(err, reconciler.ErrInvalidTransition):
			writeError(w, h.logger, http.StatusConflict, "invalid_status", "Order is not a confirmable draft")
		default:
			h.logger.Error("Failed to confirm order", zap.String("order_id", id), zap.Error(err))
			writeError(w, h.logger, http.StatusInternalServerError, "database_error", "Failed to confirm order")
		}
		return
	}

	order, err := h.orderRepository.GetByID(id)
	if err != nil || order == nil {
		h.logger.Error("Failed to reload confirmed order", zap.String("order_id", id), zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "database_error", "Failed to load confirmed order")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, orderToResponse(order))
}

// CancelOrder handles POST /api/orders/{order_hash}/cancel and returns the
// unsigned cancellation batch. The lookup is scoped to the requesting
// wallet, so an order another wallet owns reads as not found. The order
// stays live until the settlement contract emits the invalidation event.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderHash := strings.ToLower(mux.Vars(r)["order_hash"])

	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}
	if !common.IsHexAddress(req.Owner) {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_owner", "Owner must be a hex address")
		return
	}

	order, err := h.orderRepository.GetByHashAndOwner(orderHash, strings.ToLower(req.Owner))
	if err != nil {
		h.logger.Error("Failed to get order", zap.String("order_hash", orderHash), zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "database_error", "Failed to retrieve order")
		return
	}
	if order == nil {
		writeError(w, h.logger, http.StatusNotFound, "order_not_found", "Order not found")
		return
	}
	if order.Status != model.StatusLive {
		writeError(w, h.logger, http.StatusConflict, "invalid_status", "Only live orders can be canceled")
		return
	}

	batch, err := h.batchBuilder.BuildCancelBatch(r.Context(), common.HexToAddress(order.Owner), common.HexToHash(orderHash))
	if err != nil {
		if errors.Is(err, txbuilder.ErrGasEstimation) {
			writeError(w, h.logger, http.StatusBadGateway, "gas_estimation_error", "Failed to estimate gas for the batch")
			return
		}
		h.logger.Error("Failed to build cancel batch", zap.String("order_hash", orderHash), zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "batch_build_error", "Failed to build transaction batch")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, CancelOrderResponse{OrderHash: orderHash, Batch: batch})
}

// GetOrder handles GET /api/orders/{order_hash}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderHash := strings.ToLower(mux.Vars(r)["order_hash"])

	order, err := h.orderRepository.GetByHash(orderHash)
	if err != nil {
		h.logger.Error("Failed to get order", zap.String("order_hash", orderHash), zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "database_error", "Failed to retrieve order")
		return
	}
	if order == nil {
		writeError(w, h.logger, http.StatusNotFound, "order_not_found", "Order not found")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, orderToResponse(order))
}

// ListOrders handles GET /api/orders?owner=0x..&status=live. Owner is
// required; status is optional.
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if !common.IsHexAddress(owner) {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_owner", "Owner must be a hex address")
		return
	}

	status := model.OrderStatus(r.URL.Query().Get("status"))
	switch status {
	case "", model.StatusDraft, model.StatusLive, model.StatusFilled, model.StatusCanceled:
	default:
		writeError(w, h.logger, http.StatusBadRequest, "invalid_status", "Unknown order status")
		return
	}

	orders, err := h.orderRepository.ListByOwner(strings.ToLower(owner), status)
	if err != nil {
		h.logger.Error("Failed to list orders", zap.String("owner", owner), zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "database_error", "Failed to list orders")
		return
	}

	resp := ListOrdersResponse{Orders: make([]OrderResponse, 0, len(orders))}
	for i := range orders {
		resp.Orders = append(resp.Orders, orderToResponse(&orders[i]))
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}

// validateCreateRequest checks the request and converts it to swap
// parameters. Returns a non-empty error code on failure.
func (h *OrderHandler) validateCreateRequest(req *CreateOrderRequest) (condorder.OrderParams, string, string) {
	var swap condorder.OrderParams

	if !common.IsHexAddress(req.Owner) {
		return swap, "invalid_owner", "Owner must be a hex address"
	}
	if !common.IsHexAddress(req.SellToken) {
		return swap, "invalid_sell_token", "Sell token must be a hex address"
	}
	if !common.IsHexAddress(req.BuyToken) {
		return swap, "invalid_buy_token", "Buy token must be a hex address"
	}
	if req.Receiver == "" {
		req.Receiver = req.Owner
	}
	if !common.IsHexAddress(req.Receiver) {
		return swap, "invalid_receiver", "Receiver must be a hex address"
	}

	sellAmount, ok := new(big.Int).SetString(req.SellAmount, 10)
	if !ok || sellAmount.Sign() <= 0 {
		return swap, "invalid_sell_amount", "Sell amount must be a positive decimal string"
	}
	minBuyAmount, ok := new(big.Int).SetString(req.MinBuyAmount, 10)
	if !ok || minBuyAmount.Sign() <= 0 {
		return swap, "invalid_min_buy_amount", "Min buy amount must be a positive decimal string"
	}
	if req.EndTime == 0 || req.EndTime <= req.StartTime {
		return swap, "invalid_time_window", "End time must be after start time"
	}

	polymarketHash, err := parseWord(req.PolymarketOrderHash)
	if err != nil {
		return swap, "invalid_polymarket_order_hash", "Polymarket order hash must be 32 hex bytes"
	}
	appData, err := parseWord(req.AppData)
	if err != nil {
		return swap, "invalid_app_data", "App data must be 32 hex bytes"
	}

	swap = condorder.OrderParams{
		SellToken:           common.HexToAddress(req.SellToken),
		BuyToken:            common.HexToAddress(req.BuyToken),
		Receiver:            common.HexToAddress(req.Receiver),
		SellAmount:          sellAmount,
		MinBuyAmount:        minBuyAmount,
		StartTime:           new(big.Int).SetUint64(req.StartTime),
		EndTime:             new(big.Int).SetUint64(req.EndTime),
		PolymarketOrderHash: polymarketHash,
		AppData:             appData,
	}
	return swap, "", ""
}

func (h *OrderHandler) draftFromRequest(
	req *CreateOrderRequest,
	swap condorder.OrderParams,
	params condorder.ConditionalOrderParams,
	orderHash common.Hash,
	orderUID []byte,
) model.Order {
	hashStr := strings.ToLower(orderHash.Hex())
	uidStr := "0x" + hex.EncodeToString(orderUID)

	order := model.Order{
		ID:                  uuid.New().String(),
		OrderHash:           &hashStr,
		OrderUID:            &uidStr,
		Owner:               strings.ToLower(req.Owner),
		Handler:             strings.ToLower(params.Handler.Hex()),
		Salt:                "0x" + hex.EncodeToString(params.Salt[:]),
		SellToken:           strings.ToLower(req.SellToken),
		BuyToken:            strings.ToLower(req.BuyToken),
		Receiver:            strings.ToLower(req.Receiver),
		SellAmount:          swap.SellAmount.String(),
		MinBuyAmount:        swap.MinBuyAmount.String(),
		StartTime:           req.StartTime,
		EndTime:             req.EndTime,
		PolymarketOrderHash: "0x" + hex.EncodeToString(swap.PolymarketOrderHash[:]),
		AppData:             "0x" + hex.EncodeToString(swap.AppData[:]),
		Status:              model.StatusDraft,
	}
	if req.MarketID != "" {
		order.MarketID = &req.MarketID
	}
	if req.OutcomeSelected != "" {
		order.OutcomeSelected = &req.OutcomeSelected
	}
	if req.BetPercentage != "" {
		order.BetPercentage = &req.BetPercentage
	}
	return order
}

// parseWord decodes an optional 0x-prefixed 32-byte hex string. Empty
// input yields the zero word.
func parseWord(s string) ([32]byte, error) {
	var word [32]byte
	if s == "" {
		return word, nil
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return word, err
	}
	if len(raw) != 32 {
		return word, errors.New("expected 32 bytes")
	}
	copy(word[:], raw)
	return word, nil
}
