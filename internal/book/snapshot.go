package book

import "github.com/dexbridge/node/internal/chain"

// Snapshot is a value-type view of the book's observable state, suitable
// for persistence (spec.md §3 OrderBookSnapshot / §4.8).
type Snapshot struct {
	BidLimitOrders []*Order
	AskLimitOrders []*Order
	ChainHeights   map[chain.ID]chain.Height
}

// GetSnapshot captures the book's current state. Bids are ordered
// price-descending then time-ascending; asks price-ascending then
// time-ascending, matching the priority queues' own iteration order.
func (e *Engine) GetSnapshot() Snapshot {
	return Snapshot{
		BidLimitOrders: e.PeekBids(0),
		AskLimitOrders: e.PeekAsks(0),
	}
}

// SetSnapshot replaces the book's contents with the given snapshot. Used
// on restart and on fork-recovery restore (spec.md §4.5).
func (e *Engine) SetSnapshot(s Snapshot) {
	e.Clear()
	e.mtx.Lock()
	defer e.mtx.Unlock()
	for _, o := range s.BidLimitOrders {
		cp := o.Clone()
		cp.arrival = e.nextArrival
		e.nextArrival++
		e.bids.insert(cp)
		e.byID[cp.ID] = cp
		e.indexExpiry(cp)
	}
	for _, o := range s.AskLimitOrders {
		cp := o.Clone()
		cp.arrival = e.nextArrival
		e.nextArrival++
		e.asks.insert(cp)
		e.byID[cp.ID] = cp
		e.indexExpiry(cp)
	}
}
