package model

import (
	"time"
)

type OrderStatus string

const (
	StatusDraft    OrderStatus = "draft"
	StatusLive     OrderStatus = "live"
	StatusFilled   OrderStatus = "filled"
	StatusCanceled OrderStatus = "canceled"
)

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// The only valid transitions are draft->live, live->filled and live->canceled.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case StatusDraft:
		return next == StatusLive
	case StatusLive:
		return next == StatusFilled || next == StatusCanceled
	}
	return false
}

// Order is the persisted record of a conditional swap order. Amounts are
// decimal strings in raw token units, never floats. Addresses are stored in
// lower-cased hex form.
type Order struct {
	ID                  string      `db:"id"` // surrogate key, always present
	OrderHash           *string     `db:"order_hash"`
	OrderUID            *string     `db:"order_uid"`
	Owner               string      `db:"owner"`
	Handler             string      `db:"handler"`
	Salt                string      `db:"salt"`
	SellToken           string      `db:"sell_token"`
	BuyToken            string      `db:"buy_token"`
	Receiver            string      `db:"receiver"`
	SellAmount          string      `db:"sell_amount"`
	MinBuyAmount        string      `db:"min_buy_amount"`
	StartTime           uint64      `db:"start_time"`
	EndTime             uint64      `db:"end_time"` // doubles as the protocol validTo
	PolymarketOrderHash string      `db:"polymarket_order_hash"`
	AppData             string      `db:"app_data"`
	MarketID            *string     `db:"market_id"`
	OutcomeSelected     *string     `db:"outcome_selected"`
	BetPercentage       *string     `db:"bet_percentage"`
	BlockNumber         *uint64     `db:"block_number"`
	TxHash              *string     `db:"tx_hash"`
	LogIndex            *uint64     `db:"log_index"`
	Status              OrderStatus `db:"status"`
	FilledAt            *time.Time  `db:"filled_at"`
	FillTxHash          *string     `db:"fill_tx_hash"`
	FillBlockNumber     *uint64     `db:"fill_block_number"`
	FillLogIndex        *uint64     `db:"fill_log_index"`
	ActualSellAmount    *string     `db:"actual_sell_amount"`
	ActualBuyAmount     *string     `db:"actual_buy_amount"`
	FeeAmount           *string     `db:"fee_amount"`
	CreatedAt           time.Time   `db:"created_at"`
	UpdatedAt           time.Time   `db:"updated_at"`
}

// FillDetail carries the settlement-side facts recorded when an order is
// filled or canceled on-chain.
type FillDetail struct {
	FilledAt         time.Time
	TxHash           string
	BlockNumber      uint64
	LogIndex         uint64
	ActualSellAmount *string // nil for cancellations
	ActualBuyAmount  *string
	FeeAmount        *string
}
