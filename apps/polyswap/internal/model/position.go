package model

// Position is a single outcome-token holding reported by the off-chain
// position feed. Amount is a decimal string in raw token units.
type Position struct {
	TokenAddress string `json:"token_address"`
	Amount       string `json:"amount"`
	MarketID     string `json:"market_id"`
	Outcome      string `json:"outcome"`
}
