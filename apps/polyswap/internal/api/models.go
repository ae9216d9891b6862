package api

import (
	"time"

	"polyswap/apps/polyswap/internal/model"
	"polyswap/apps/polyswap/internal/txbuilder"
)

// CreateOrderRequest is the request body for drafting a conditional order.
// Amounts and times are decimal strings in raw units / unix seconds.
type CreateOrderRequest struct {
	Owner               string `json:"owner" validate:"required"`
	SellToken           string `json:"sell_token" validate:"required"`
	BuyToken            string `json:"buy_token" validate:"required"`
	Receiver            string `json:"receiver,omitempty"` // defaults to owner
	SellAmount          string `json:"sell_amount" validate:"required"`
	MinBuyAmount        string `json:"min_buy_amount" validate:"required"`
	StartTime           uint64 `json:"start_time"`
	EndTime             uint64 `json:"end_time" validate:"required"`
	PolymarketOrderHash string `json:"polymarket_order_hash,omitempty"`
	AppData             string `json:"app_data,omitempty"`
	MarketID            string `json:"market_id,omitempty"`
	OutcomeSelected     string `json:"outcome_selected,omitempty"`
	BetPercentage       string `json:"bet_percentage,omitempty"`
}

// CreateOrderResponse returns the draft id, the computed identifiers and
// the unsigned batch the wallet must sign.
type CreateOrderResponse struct {
	OrderID   string           `json:"order_id"`
	OrderHash string           `json:"order_hash"`
	OrderUID  string           `json:"order_uid"`
	Batch     *txbuilder.Batch `json:"batch"`
}

// ConfirmOrderRequest carries the hash of the signed creation transaction.
type ConfirmOrderRequest struct {
	TxHash string `json:"tx_hash" validate:"required"`
}

// CancelOrderRequest identifies the wallet asking for the cancellation.
// The order is looked up by hash and owner together, so a wallet can only
// cancel its own orders.
type CancelOrderRequest struct {
	Owner string `json:"owner" validate:"required"`
}

// ListOrdersResponse wraps a wallet's orders.
type ListOrdersResponse struct {
	Orders []OrderResponse `json:"orders"`
}

// CancelOrderResponse returns the unsigned cancellation batch.
type CancelOrderResponse struct {
	OrderHash string           `json:"order_hash"`
	Batch     *txbuilder.Batch `json:"batch"`
}

// OrderResponse is the API view of a stored order.
type OrderResponse struct {
	OrderID             string     `json:"order_id"`
	OrderHash           *string    `json:"order_hash"`
	OrderUID            *string    `json:"order_uid"`
	Owner               string     `json:"owner"`
	SellToken           string     `json:"sell_token"`
	BuyToken            string     `json:"buy_token"`
	Receiver            string     `json:"receiver"`
	SellAmount          string     `json:"sell_amount"`
	MinBuyAmount        string     `json:"min_buy_amount"`
	StartTime           uint64     `json:"start_time"`
	EndTime             uint64     `json:"end_time"`
	PolymarketOrderHash string     `json:"polymarket_order_hash"`
	MarketID            *string    `json:"market_id,omitempty"`
	OutcomeSelected     *string    `json:"outcome_selected,omitempty"`
	Status              string     `json:"status"`
	TxHash              *string    `json:"tx_hash,omitempty"`
	FilledAt            *time.Time `json:"filled_at,omitempty"`
	FillTxHash          *string    `json:"fill_tx_hash,omitempty"`
	ActualSellAmount    *string    `json:"actual_sell_amount,omitempty"`
	ActualBuyAmount     *string    `json:"actual_buy_amount,omitempty"`
	FeeAmount           *string    `json:"fee_amount,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// ReconcilePositionsRequest supplies the owner's position snapshot from
// the prediction-market backend.
type ReconcilePositionsRequest struct {
	Owner     string           `json:"owner" validate:"required"`
	Positions []model.Position `json:"positions"`
}

// ErrorResponse represents the API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func orderToResponse(order *model.Order) OrderResponse {
	return OrderResponse{
		OrderID:             order.ID,
		OrderHash:           order.OrderHash,
		OrderUID:            order.OrderUID,
		Owner:               order.Owner,
		SellToken:           order.SellToken,
		BuyToken:            order.BuyToken,
		Receiver:            order.Receiver,
		SellAmount:          order.SellAmount,
		MinBuyAmount:        order.MinBuyAmount,
		StartTime:           order.StartTime,
		EndTime:             order.EndTime,
		PolymarketOrderHash: order.PolymarketOrderHash,
		MarketID:            order.MarketID,
		OutcomeSelected:     order.OutcomeSelected,
		Status:              string(order.Status),
		TxHash:              order.TxHash,
		FilledAt:            order.FilledAt,
		FillTxHash:          order.FillTxHash,
		ActualSellAmount:    order.ActualSellAmount,
		ActualBuyAmount:     order.ActualBuyAmount,
		FeeAmount:           order.FeeAmount,
		CreatedAt:           order.CreatedAt,
		UpdatedAt:           order.UpdatedAt,
	}
}
