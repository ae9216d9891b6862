// Package events defines the closed set of domain events the reconciler
// consumes. Every decoded chain log becomes exactly one of these types;
// there is no loosely-typed argument bag to probe at call sites.
package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"polyswap/apps/polyswap/internal/condorder"
)

type Kind string

const (
	KindOrderCreated     Kind = "order_created"
	KindTrade            Kind = "trade"
	KindOrderInvalidated Kind = "order_invalidated"
)

// Provenance identifies where on chain an event was observed.
// (BlockNumber, LogIndex) is the idempotency key for event application.
type Provenance struct {
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

// Event is the sealed union of the three domain event kinds.
type Event interface {
	Kind() Kind
	Prov() Provenance
}

// OrderCreated is a conditional order registered on-chain.
type OrderCreated struct {
	Provenance
	Owner     common.Address
	Params    condorder.ConditionalOrderParams
	Swap      condorder.OrderParams
	OrderHash common.Hash
}

// Trade is a settlement fill referencing an order by its protocol UID.
type Trade struct {
	Provenance
	Owner      common.Address
	SellToken  common.Address
	BuyToken   common.Address
	SellAmount *big.Int
	BuyAmount  *big.Int
	FeeAmount  *big.Int
	OrderUID   []byte
}

// OrderInvalidated is an on-chain cancellation referencing an order by UID.
type OrderInvalidated struct {
	Provenance
	Owner    common.Address
	OrderUID []byte
}

func (e OrderCreated) Kind() Kind     { return KindOrderCreated }
func (e Trade) Kind() Kind            { return KindTrade }
func (e OrderInvalidated) Kind() Kind { return KindOrderInvalidated }

func (p Provenance) Prov() Provenance { return p }
