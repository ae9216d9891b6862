package test

import (
	"os"
)

const (
	// Test server configuration
	BaseURL = "http://localhost:8080"

	// Test wallet address (example address)
	TestWalletAddress = "0x0B8fA6F76eB75ae3a4ca28eb3020DFC4503F2136"

	// Polygon token addresses used by the order fixtures
	TestSellToken = "0x2791bca1f2de4661ed88a30c99a7a9449aa84174" // USDC
	TestBuyToken  = "0x7ceb23fd6bc0add59e62ac25578270cff1b9f619" // WETH

	// Test order parameters
	TestSellAmount   = "1000000"
	TestMinBuyAmount = "950000"
)

// integrationEnabled reports whether the integration suite should run.
// The tests need the full service (API, Postgres, RPC node) on localhost.
func integrationEnabled() bool {
	return os.Getenv("POLYSWAP_INTEGRATION_TEST") == "1"
}

// CreateOrderRequest mirrors the API request body
type CreateOrderRequest struct {
	Owner               string `json:"owner"`
	SellToken           string `json:"sell_token"`
	BuyToken            string `json:"buy_token"`
	Receiver            string `json:"receiver,omitempty"`
	SellAmount          string `json:"sell_amount"`
	MinBuyAmount        string `json:"min_buy_amount"`
	StartTime           uint64 `json:"start_time"`
	EndTime             uint64 `json:"end_time"`
	PolymarketOrderHash string `json:"polymarket_order_hash,omitempty"`
	MarketID            string `json:"market_id,omitempty"`
	OutcomeSelected     string `json:"outcome_selected,omitempty"`
}

// CreateOrderResponse mirrors the API response body
type CreateOrderResponse struct {
	OrderID   string `json:"order_id"`
	OrderHash string `json:"order_hash"`
	OrderUID  string `json:"order_uid"`
	Batch     *Batch `json:"batch"`
}

// Batch mirrors the unsigned transaction batch
type Batch struct {
	Steps       []Step   `json:"steps"`
	GasEstimate uint64   `json:"gas_estimate"`
	Summary     []string `json:"summary"`
}

// Step mirrors one transaction of the batch
type Step struct {
	To          string `json:"to"`
	Data        string `json:"data"`
	Value       string `json:"value"`
	Description string `json:"description"`
}

// CancelOrderRequest mirrors the cancellation request body
type CancelOrderRequest struct {
	Owner string `json:"owner"`
}

// ErrorResponse mirrors the API error body
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
