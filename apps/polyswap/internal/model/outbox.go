package model

import (
	"encoding/json"
	"time"
)

// Outbox event types emitted by the reconciler and the position engine.
const (
	OutboxOrderCreated       = "order_created"
	OutboxOrderFilled        = "order_filled"
	OutboxOrderCanceled      = "order_canceled"
	OutboxPositionReconciled = "position_reconciled"
)

type OutboxEvent struct {
	TxHash      string          `db:"tx_hash"`
	EventType   string          `db:"event_type"`
	Status      string          `db:"status"`
	BlockNumber uint64          `db:"block_number"`
	LogIndex    uint            `db:"log_index"`
	OrderHash   string          `db:"order_hash"`
	Address     string          `db:"owner_address"`
	EventBlob   json.RawMessage `db:"event_blob"`
	CreatedAt   time.Time       `db:"created_at"`
}
