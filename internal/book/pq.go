package book

import "container/heap"

// orderHeap is a container/heap-backed priority queue over *Order,
// following the shape of dcrdex's server/book.OrderPQ: a heap plus a
// side index for O(1) keyed lookup/removal, guarded by the caller (the
// Engine owns the lock, not this type, since Engine mutations already
// span multiple structures per call).
type orderHeap struct {
	orders []*Order
	byID   map[string]int // GlobalID -> index in orders
	less   func(a, b *Order) bool
}

func newOrderHeap(less func(a, b *Order) bool) *orderHeap {
	return &orderHeap{
		byID: make(map[string]int),
		less: less,
	}
}

func (h *orderHeap) Len() int { return len(h.orders) }

func (h *orderHeap) Less(i, j int) bool { return h.less(h.orders[i], h.orders[j]) }

func (h *orderHeap) Swap(i, j int) {
	h.orders[i], h.orders[j] = h.orders[j], h.orders[i]
	h.byID[string(h.orders[i].ID)] = i
	h.byID[string(h.orders[j].ID)] = j
}

func (h *orderHeap) Push(x interface{}) {
	o := x.(*Order)
	h.byID[string(o.ID)] = len(h.orders)
	h.orders = append(h.orders, o)
}

func (h *orderHeap) Pop() interface{} {
	n := len(h.orders)
	o := h.orders[n-1]
	h.orders[n-1] = nil
	h.orders = h.orders[:n-1]
	delete(h.byID, string(o.ID))
	return o
}

// insert adds an order to the heap.
func (h *orderHeap) insert(o *Order) {
	heap.Push(h, o)
}

// peekBest returns the best order without removing it.
func (h *orderHeap) peekBest() *Order {
	if len(h.orders) == 0 {
		return nil
	}
	return h.orders[0]
}

// removeBest pops and returns the best order.
func (h *orderHeap) removeBest() *Order {
	if len(h.orders) == 0 {
		return nil
	}
	return heap.Pop(h).(*Order)
}

// removeByID removes the order with the given id, if present.
func (h *orderHeap) removeByID(id string) (*Order, bool) {
	idx, ok := h.byID[id]
	if !ok {
		return nil, false
	}
	o := h.orders[idx]
	heap.Remove(h, idx)
	return o, true
}

// get returns the order with the given id without removing it.
func (h *orderHeap) get(id string) (*Order, bool) {
	idx, ok := h.byID[id]
	if !ok {
		return nil, false
	}
	return h.orders[idx], true
}

// fix re-establishes heap order for the entry at id after an in-place
// mutation of its sort key (unused today since price/arrival never change
// post-insertion).
func (h *orderHeap) fix(id string) {
	if idx, ok := h.byID[id]; ok {
		heap.Fix(h, idx)
	}
}

// sorted returns all orders in priority order (best first). It does not
// modify the heap.
func (h *orderHeap) sorted() []*Order {
	cp := make([]*Order, len(h.orders))
	copy(cp, h.orders)
	// A heap array is not fully sorted; drain a scratch copy.
	scratch := &orderHeap{orders: cp, byID: map[string]int{}, less: h.less}
	for i, o := range scratch.orders {
		scratch.byID[string(o.ID)] = i
	}
	heap.Init(scratch)
	out := make([]*Order, 0, len(cp))
	for scratch.Len() > 0 {
		out = append(out, heap.Pop(scratch).(*Order))
	}
	return out
}

func bidLess(a, b *Order) bool {
	if !a.Price.Equal(b.Price) {
		return a.Price.GreaterThan(b.Price) // price descending
	}
	return a.arrival < b.arrival // time ascending
}

func askLess(a, b *Order) bool {
	if !a.Price.Equal(b.Price) {
		return a.Price.LessThan(b.Price) // price ascending
	}
	return a.arrival < b.arrival // time ascending
}
