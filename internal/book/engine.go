package book

import (
	"errors"
	"sort"
	"sync"

	"github.com/decred/slog"
	"github.com/shopspring/decimal"

	"github.com/dexbridge/node/internal/chain"
)

var ErrOrderNotFound = errors.New("book: order not found")

// Engine is the price-time limit order book for one node's two-asset
// market, matching spec.md §4.2's contract. All mutating operations hold a
// single mutex; per §5 book mutations are synchronous and never suspend
// mid-update.
type Engine struct {
	log slog.Logger

	mtx  sync.Mutex
	bids *orderHeap // price descending, arrival ascending
	asks *orderHeap // price ascending, arrival ascending

	byID map[chain.GlobalID]*Order

	// expiry indexes: height -> set of order ids admitted with that
	// ExpiryHeight, scanned in deterministic id order (spec §4.2).
	bidExpiry map[chain.Height]map[chain.GlobalID]struct{}
	askExpiry map[chain.Height]map[chain.GlobalID]struct{}

	nextArrival uint64
}

// New creates an empty Engine.
func New(log slog.Logger) *Engine {
	return &Engine{
		log:       log,
		bids:      newOrderHeap(bidLess),
		asks:      newOrderHeap(askLess),
		byID:      make(map[chain.GlobalID]*Order),
		bidExpiry: make(map[chain.Height]map[chain.GlobalID]struct{}),
		askExpiry: make(map[chain.Height]map[chain.GlobalID]struct{}),
	}
}

func quoteFromBase(value uint64, price decimal.Decimal) uint64 {
	if price.IsZero() {
		return 0
	}
	q := decimal.NewFromInt(int64(value)).Div(price).Truncate(0)
	if q.IsNegative() {
		return 0
	}
	return q.BigInt().Uint64()
}

func baseFromQuote(size uint64, price decimal.Decimal) uint64 {
	b := decimal.NewFromInt(int64(size)).Mul(price).Truncate(0)
	if b.IsNegative() {
		return 0
	}
	return b.BigInt().Uint64()
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func (e *Engine) sideHeaps(s Side) (mine, opposite *orderHeap) {
	if s == Bid {
		return e.bids, e.asks
	}
	return e.asks, e.bids
}

func (e *Engine) sideExpiry(s Side) map[chain.Height]map[chain.GlobalID]struct{} {
	if s == Bid {
		return e.bidExpiry
	}
	return e.askExpiry
}

func (e *Engine) indexExpiry(o *Order) {
	idx := e.sideExpiry(o.Side)
	set, ok := idx[o.ExpiryHeight]
	if !ok {
		set = make(map[chain.GlobalID]struct{})
		idx[o.ExpiryHeight] = set
	}
	set[o.ID] = struct{}{}
}

func (e *Engine) unindexExpiry(o *Order) {
	idx := e.sideExpiry(o.Side)
	if set, ok := idx[o.ExpiryHeight]; ok {
		delete(set, o.ID)
		if len(set) == 0 {
			delete(idx, o.ExpiryHeight)
		}
	}
}

func (e *Engine) insertResting(o *Order) {
	own, _ := e.sideHeaps(o.Side)
	o.arrival = e.nextArrival
	e.nextArrival++
	own.insert(o)
	e.byID[o.ID] = o
	e.indexExpiry(o)
}

// crosses reports whether a taker at the given price/market-ness crosses
// the opposite side's best resting order.
func crosses(takerSide Side, isMarket bool, price decimal.Decimal, bestOpposite *Order) bool {
	if bestOpposite == nil {
		return false
	}
	if isMarket {
		return true
	}
	if takerSide == Bid {
		return price.GreaterThanOrEqual(bestOpposite.Price)
	}
	return price.LessThanOrEqual(bestOpposite.Price)
}

// AddOrder matches the incoming order against the opposite side of the
// book, then (for limit orders with residual remaining) rests it on its
// own side. Market orders with residual remaining are never booked; the
// caller inspects Taker.Remaining() to determine the unmatched amount.
func (e *Engine) AddOrder(o *Order) *MatchResult {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	res := &MatchResult{Taker: o}
	_, opposite := e.sideHeaps(o.Side)

	for o.Remaining() > 0 {
		best := opposite.peekBest()
		if !crosses(o.Side, o.IsMarket, o.Price, best) {
			break
		}

		var tradeSize, tradeValue uint64
		if o.Side == Bid {
			maxQuote := quoteFromBase(o.ValueRemaining, best.Price)
			tradeSize = minU64(maxQuote, best.SizeRemaining)
			tradeValue = baseFromQuote(tradeSize, best.Price)
		} else {
			maxBase := baseFromQuote(o.SizeRemaining, best.Price)
			tradeValue = minU64(maxBase, best.ValueRemaining)
			tradeSize = quoteFromBase(tradeValue, best.Price)
		}
		if tradeSize == 0 || tradeValue == 0 {
			// Dust: the taker's residual can no longer convert to a
			// non-zero amount at the best available price. Stop matching;
			// the residual is refunded/booked by the caller.
			break
		}

		if o.Side == Bid {
			o.ValueRemaining -= tradeValue
			best.SizeRemaining -= tradeSize
		} else {
			o.SizeRemaining -= tradeSize
			best.ValueRemaining -= tradeValue
		}

		res.MakerFills = append(res.MakerFills, MakerFill{
			Maker:      best.Clone(),
			SizeTaken:  tradeSize,
			ValueTaken: tradeValue,
		})
		res.TakeSize += tradeSize
		res.TakeValue += tradeValue

		if !best.IsOpen() {
			opposite.removeByID(string(best.ID))
			delete(e.byID, best.ID)
			e.unindexExpiry(best)
		}
	}

	if o.Remaining() > 0 && !o.IsMarket {
		e.insertResting(o)
	}

	return res
}

// CloseOrder removes an order from the book and returns its remaining
// state. It is an error to close an id that is not currently open.
func (e *Engine) CloseOrder(id chain.GlobalID) (*Order, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	o, ok := e.byID[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	own, _ := e.sideHeaps(o.Side)
	own.removeByID(string(id))
	delete(e.byID, id)
	e.unindexExpiry(o)
	return o, nil
}

// GetOrder returns the order with the given id, if open.
func (e *Engine) GetOrder(id chain.GlobalID) (*Order, bool) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	o, ok := e.byID[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

func expireSide(e *Engine, side Side, h chain.Height) []*Order {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	own, _ := e.sideHeaps(side)
	idx := e.sideExpiry(side)

	var expired []*Order
	for height, set := range idx {
		if height > h {
			continue
		}
		ids := make([]chain.GlobalID, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			if o, ok := own.removeByID(string(id)); ok {
				delete(e.byID, id)
				expired = append(expired, o)
			}
		}
		delete(idx, height)
	}
	sort.Slice(expired, func(i, j int) bool {
		if expired[i].ExpiryHeight != expired[j].ExpiryHeight {
			return expired[i].ExpiryHeight < expired[j].ExpiryHeight
		}
		return expired[i].ID < expired[j].ID
	})
	return expired
}

// ExpireBidOrders removes and returns all bid orders with ExpiryHeight <= h.
func (e *Engine) ExpireBidOrders(h chain.Height) []*Order {
	return expireSide(e, Bid, h)
}

// ExpireAskOrders removes and returns all ask orders with ExpiryHeight <= h.
func (e *Engine) ExpireAskOrders(h chain.Height) []*Order {
	return expireSide(e, Ask, h)
}

// PeekBids returns the best n bid orders without removing them.
func (e *Engine) PeekBids(n int) []*Order {
	return e.peek(Bid, n)
}

// PeekAsks returns the best n ask orders without removing them.
func (e *Engine) PeekAsks(n int) []*Order {
	return e.peek(Ask, n)
}

func (e *Engine) peek(s Side, n int) []*Order {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	own, _ := e.sideHeaps(s)
	sorted := own.sorted()
	if n > 0 && n < len(sorted) {
		sorted = sorted[:n]
	}
	out := make([]*Order, len(sorted))
	for i, o := range sorted {
		out[i] = o.Clone()
	}
	return out
}

// BestBidPrice returns the best resting bid's price, if any.
func (e *Engine) BestBidPrice() (decimal.Decimal, bool) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	best := e.bids.peekBest()
	if best == nil {
		return decimal.Zero, false
	}
	return best.Price, true
}

// BestAskPrice returns the best resting ask's price, if any.
func (e *Engine) BestAskPrice() (decimal.Decimal, bool) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	best := e.asks.peekBest()
	if best == nil {
		return decimal.Zero, false
	}
	return best.Price, true
}

// BidCount returns the number of resting bid orders.
func (e *Engine) BidCount() int { return len(e.PeekBids(0)) }

// AskCount returns the number of resting ask orders.
func (e *Engine) AskCount() int { return len(e.PeekAsks(0)) }

// GetBidIterator returns all resting bids, price-descending / time-ascending.
func (e *Engine) GetBidIterator() []*Order { return e.PeekBids(0) }

// GetAskIterator returns all resting asks, price-ascending / time-ascending.
func (e *Engine) GetAskIterator() []*Order { return e.PeekAsks(0) }

// GetOrderIterator returns all resting orders, bids then asks.
func (e *Engine) GetOrderIterator() []*Order {
	return append(e.GetBidIterator(), e.GetAskIterator()...)
}

// GetOrderOwner backs intent.OrderLookup (through the pipeline's adapter), resolving a Close intent's
// target order without exposing the full Order to the parser package.
func (e *Engine) GetOrderOwner(id chain.GlobalID) (chain.ID, string, bool) {
	o, ok := e.GetOrder(id)
	if !ok {
		return "", "", false
	}
	return o.SourceChain, o.SourceWalletAddress, true
}

// Clear removes every order from the book.
func (e *Engine) Clear() {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.bids = newOrderHeap(bidLess)
	e.asks = newOrderHeap(askLess)
	e.byID = make(map[chain.GlobalID]*Order)
	e.bidExpiry = make(map[chain.Height]map[chain.GlobalID]struct{})
	e.askExpiry = make(map[chain.Height]map[chain.GlobalID]struct{})
}
