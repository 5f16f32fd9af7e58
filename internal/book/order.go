// Package book implements the price-time limit order book used by the
// pipeline to match trading intents (spec §4.2).
package book

import (
	"github.com/shopspring/decimal"

	"github.com/dexbridge/node/internal/chain"
)

// Side is which side of the book an order rests on.
type Side uint8

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// Order is an open trading intent held by the order book engine.
//
// Bids are denominated in base currency (Value/ValueRemaining); asks are
// denominated in quote currency (Size/SizeRemaining). Market orders carry
// a zero Price and IsMarket = true.
type Order struct {
	ID                  chain.GlobalID
	Side                Side
	SourceChain         chain.ID
	SourceWalletAddress string
	TargetChain         chain.ID
	TargetWalletAddress string
	Height              chain.Height
	ExpiryHeight        chain.Height
	Timestamp           int64

	IsMarket bool
	Price    decimal.Decimal // quote = floor(base / price), base = floor(quote * price); zero/unused for market orders

	Value          uint64 // bids only
	ValueRemaining uint64
	Size           uint64 // asks only
	SizeRemaining  uint64

	// arrival is a monotonically increasing sequence number assigned on
	// insertion, used as the tie-breaker for equal-priced orders.
	arrival uint64
}

// Remaining returns the order's remaining tradable amount, in whichever
// unit applies to its side.
func (o *Order) Remaining() uint64 {
	if o.Side == Bid {
		return o.ValueRemaining
	}
	return o.SizeRemaining
}

// IsOpen reports whether the order still has remaining size to trade.
func (o *Order) IsOpen() bool {
	return o.Remaining() > 0
}

// Clone returns a deep-enough copy of the order safe to hand to callers
// outside the engine's lock.
func (o *Order) Clone() *Order {
	cp := *o
	return &cp
}
