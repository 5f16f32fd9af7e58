package book

import (
	"testing"

	"github.com/decred/slog"
	"github.com/shopspring/decimal"

	"github.com/dexbridge/node/internal/chain"
)

func testLogger() slog.Logger {
	bknd := slog.NewBackend(nil)
	l := bknd.Logger("BOOKTEST")
	l.SetLevel(slog.LevelOff)
	return l
}

func newBidOrder(id string, value uint64, price float64, height, expiry chain.Height) *Order {
	return &Order{
		ID:             chain.GlobalID(id),
		Side:           Bid,
		SourceChain:    "A",
		TargetChain:    "B",
		Height:         height,
		ExpiryHeight:   expiry,
		Price:          decimal.NewFromFloat(price),
		Value:          value,
		ValueRemaining: value,
	}
}

func newAskOrder(id string, size uint64, price float64, height, expiry chain.Height) *Order {
	return &Order{
		ID:            chain.GlobalID(id),
		Side:          Ask,
		SourceChain:   "B",
		TargetChain:   "A",
		Height:        height,
		ExpiryHeight:  expiry,
		Price:         decimal.NewFromFloat(price),
		Size:          size,
		SizeRemaining: size,
	}
}

// TestBasicMatch mirrors spec.md scenario S1: a 100-unit ask at price 2
// fully fills a 200-unit bid at price 2, with no residual on either side.
func TestBasicMatch(t *testing.T) {
	e := New(testLogger())

	ask := newAskOrder("ask1", 100, 2, 1, 100)
	if res := e.AddOrder(ask); res.TakeSize != 0 {
		t.Fatalf("expected no match against an empty book, got TakeSize=%d", res.TakeSize)
	}

	bid := newBidOrder("bid1", 200, 2, 1, 100)
	res := e.AddOrder(bid)

	if res.TakeValue != 200 {
		t.Errorf("TakeValue = %d, want 200", res.TakeValue)
	}
	if res.TakeSize != 100 {
		t.Errorf("TakeSize = %d, want 100", res.TakeSize)
	}
	if bid.Remaining() != 0 {
		t.Errorf("bid remaining = %d, want 0", bid.Remaining())
	}
	if len(res.MakerFills) != 1 || res.MakerFills[0].Maker.ID != "ask1" {
		t.Fatalf("unexpected maker fills: %+v", res.MakerFills)
	}
	if e.BidCount()+e.AskCount() != 0 {
		t.Errorf("book should be empty after a full match, bids=%d asks=%d", e.BidCount(), e.AskCount())
	}
}

// TestPartialMarketMatch mirrors spec.md scenario S2: a market order larger
// than the resting liquidity is partially filled and leaves a residual.
func TestPartialMarketMatch(t *testing.T) {
	e := New(testLogger())
	ask := newAskOrder("ask1", 100, 2, 1, 100)
	e.AddOrder(ask)

	mkt := &Order{
		ID:             "mkt1",
		Side:           Bid,
		IsMarket:       true,
		Value:          300,
		ValueRemaining: 300,
		Height:         1,
		ExpiryHeight:   100,
	}
	res := e.AddOrder(mkt)
	if res.TakeValue != 200 || res.TakeSize != 100 {
		t.Fatalf("got TakeValue=%d TakeSize=%d, want 200/100", res.TakeValue, res.TakeSize)
	}
	if mkt.Remaining() != 100 {
		t.Fatalf("residual = %d, want 100", mkt.Remaining())
	}
	if e.BidCount() != 0 {
		t.Errorf("market order residual must never be booked")
	}
}

func TestCloseOrderRemovesFromBook(t *testing.T) {
	e := New(testLogger())
	bid := newBidOrder("bid1", 200, 2, 1, 100)
	e.AddOrder(bid)

	closed, err := e.CloseOrder("bid1")
	if err != nil {
		t.Fatal(err)
	}
	if closed.ValueRemaining != 200 {
		t.Errorf("closed remaining = %d, want 200", closed.ValueRemaining)
	}
	if _, err := e.CloseOrder("bid1"); err != ErrOrderNotFound {
		t.Errorf("expected ErrOrderNotFound on second close, got %v", err)
	}
}

func TestExpireBidOrdersDeterministicIDOrder(t *testing.T) {
	e := New(testLogger())
	e.AddOrder(newBidOrder("bidB", 10, 1, 1, 10))
	e.AddOrder(newBidOrder("bidA", 10, 1, 1, 10))
	e.AddOrder(newBidOrder("bidC", 10, 1, 1, 20)) // later expiry, not yet due

	expired := e.ExpireBidOrders(10)
	if len(expired) != 2 {
		t.Fatalf("expected 2 expired orders, got %d", len(expired))
	}
	if expired[0].ID != "bidA" || expired[1].ID != "bidB" {
		t.Errorf("expiry not in deterministic id order: %v, %v", expired[0].ID, expired[1].ID)
	}
	if e.BidCount() != 1 {
		t.Errorf("expected 1 remaining bid, got %d", e.BidCount())
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	e := New(testLogger())
	e.AddOrder(newBidOrder("bid1", 200, 2, 1, 100))
	e.AddOrder(newAskOrder("ask1", 50, 3, 1, 100))

	snap := e.GetSnapshot()
	e2 := New(testLogger())
	e2.SetSnapshot(snap)

	if e2.BidCount() != 1 || e2.AskCount() != 1 {
		t.Fatalf("round-tripped book has wrong shape: bids=%d asks=%d", e2.BidCount(), e2.AskCount())
	}
	got, ok := e2.GetOrder("bid1")
	if !ok || got.ValueRemaining != 200 {
		t.Fatalf("round-tripped bid1 = %+v, ok=%v", got, ok)
	}
}

func TestLimitOrderRestsWhenNonCrossing(t *testing.T) {
	e := New(testLogger())
	e.AddOrder(newAskOrder("ask1", 100, 5, 1, 100))
	bid := newBidOrder("bid1", 100, 2, 1, 100)
	res := e.AddOrder(bid)
	if res.TakeSize != 0 {
		t.Fatalf("bid at 2 should not cross ask at 5, got TakeSize=%d", res.TakeSize)
	}
	if e.BidCount() != 1 {
		t.Errorf("non-crossing limit order should rest in the book")
	}
}
