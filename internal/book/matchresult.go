package book

// MakerFill records one maker's contribution to a single addOrder call.
// Resolving spec.md §9's fill-accounting open question: the engine emits
// one MakerFill per slice, so a maker touched by several takers within one
// call (impossible today since addOrder processes one taker at a time, but
// kept general for a taker that walks multiple maker price levels) never
// has an earlier slice silently overwritten.
type MakerFill struct {
	Maker          *Order
	SizeTaken      uint64 // quote-currency amount debited from the maker, if maker is an ask
	ValueTaken     uint64 // base-currency amount debited from the maker, if maker is a bid
}

// MatchResult is the outcome of one addOrder call.
type MatchResult struct {
	Taker       *Order
	MakerFills  []MakerFill
	TakeSize    uint64 // total quote-currency amount matched this call
	TakeValue   uint64 // total base-currency amount matched this call
}
