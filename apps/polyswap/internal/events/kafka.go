package events

import (
	"encoding/json"
	"time"
)

// OrderLifecycleEvent is the message shape published to Kafka for every
// order lifecycle change drained from the outbox.
type OrderLifecycleEvent struct {
	EventType    string          `json:"event_type"`
	OrderHash    string          `json:"order_hash"`
	TxHash       string          `json:"tx_hash"`
	BlockNumber  uint64          `json:"block_number"`
	LogIndex     uint64          `json:"log_index"`
	OwnerAddress string          `json:"owner_address"`
	EventData    json.RawMessage `json:"event_data"`
	Timestamp    time.Time       `json:"timestamp"`
}
