package intent

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/dexbridge/node/internal/chain"
)

type fakeBook struct {
	bestBid, bestAsk decimal.Decimal
	haveBid, haveAsk bool
}

func (b fakeBook) BestBidPrice() (decimal.Decimal, bool) { return b.bestBid, b.haveBid }
func (b fakeBook) BestAskPrice() (decimal.Decimal, bool) { return b.bestAsk, b.haveAsk }

type fakeOrders struct {
	chain  chain.ID
	wallet string
	ok     bool
}

func (o fakeOrders) GetOrder(chain.GlobalID) (chain.ID, string, bool) {
	return o.chain, o.wallet, o.ok
}

func baseConfig() Config {
	return Config{
		BaseChain:       "A",
		SupportedChains: map[chain.ID]struct{}{"A": {}, "B": {}},
		MinOrderAmount:  1,
		ExchangeFeeBase: map[chain.ID]uint64{"A": 0, "B": 0},
	}
}

func TestParseLimitOrder(t *testing.T) {
	xfer := chain.Transfer{ID: "bid1", Chain: "A", SenderAddress: "wA", Amount: 200, Memo: []byte("B,limit,2,wB"), Height: 1}
	got := Parse(baseConfig(), xfer, fakeBook{}, fakeOrders{})
	if got.Kind != KindLimit {
		t.Fatalf("Kind = %v, want limit (reason=%q)", got.Kind, got.Reason)
	}
	if !got.Price.Equal(decimal.NewFromInt(2)) {
		t.Errorf("Price = %v, want 2", got.Price)
	}
	if got.TargetWallet != "wB" {
		t.Errorf("TargetWallet = %q, want wB", got.TargetWallet)
	}
}

func TestParseOversized(t *testing.T) {
	xfer := chain.Transfer{ID: "x", Chain: "A", Amount: MaxOrderAmount + 1, Memo: []byte("B,limit,2,wB")}
	got := Parse(baseConfig(), xfer, fakeBook{}, fakeOrders{})
	if got.Kind != KindOversized {
		t.Fatalf("Kind = %v, want oversized", got.Kind)
	}
}

func TestParseUndersized(t *testing.T) {
	cfg := baseConfig()
	cfg.MinOrderAmount = 500
	xfer := chain.Transfer{ID: "x", Chain: "A", Amount: 100, Memo: []byte("B,limit,2,wB")}
	got := Parse(cfg, xfer, fakeBook{}, fakeOrders{})
	if got.Kind != KindUndersized {
		t.Fatalf("Kind = %v, want undersized", got.Kind)
	}
}

func TestParseInvalidTargetChain(t *testing.T) {
	xfer := chain.Transfer{ID: "x", Chain: "A", Amount: 100, Memo: []byte("A,limit,2,wB")}
	got := Parse(baseConfig(), xfer, fakeBook{}, fakeOrders{})
	if got.Kind != KindInvalid || got.Reason != "Invalid target chain" {
		t.Fatalf("got %v/%q, want Invalid/'Invalid target chain'", got.Kind, got.Reason)
	}
}

func TestParseTooSmallToConvert(t *testing.T) {
	cfg := baseConfig()
	cfg.ExchangeFeeBase["B"] = 1000
	xfer := chain.Transfer{ID: "x", Chain: "A", Amount: 100, Memo: []byte("B,limit,2,wB")}
	got := Parse(cfg, xfer, fakeBook{}, fakeOrders{})
	if got.Kind != KindInvalid || got.Reason != "Too small to convert" {
		t.Fatalf("got %v/%q", got.Kind, got.Reason)
	}
}

func TestParseMarketNeedsOppositeBook(t *testing.T) {
	xfer := chain.Transfer{ID: "x", Chain: "A", Amount: 100, Memo: []byte("B,market,wB")}
	got := Parse(baseConfig(), xfer, fakeBook{haveAsk: false}, fakeOrders{})
	if got.Kind != KindInvalid || got.Reason != "Too small to convert" {
		t.Fatalf("empty opposite book should reject market order, got %v/%q", got.Kind, got.Reason)
	}

	got = Parse(baseConfig(), xfer, fakeBook{bestAsk: decimal.NewFromInt(2), haveAsk: true}, fakeOrders{})
	if got.Kind != KindMarket {
		t.Fatalf("Kind = %v, want market (reason=%q)", got.Kind, got.Reason)
	}
}

func TestParseCloseValidatesOwnership(t *testing.T) {
	xfer := chain.Transfer{ID: "x", Chain: "A", SenderAddress: "wA", Amount: 0, Memo: []byte("B,close,bid1")}
	got := Parse(baseConfig(), xfer, fakeBook{}, fakeOrders{chain: "A", wallet: "wA", ok: true})
	if got.Kind != KindClose || got.OrderIDToClose != "bid1" {
		t.Fatalf("got %v (reason=%q)", got.Kind, got.Reason)
	}

	got = Parse(baseConfig(), xfer, fakeBook{}, fakeOrders{chain: "A", wallet: "someoneElse", ok: true})
	if got.Kind != KindInvalid {
		t.Fatalf("close by non-owner should be Invalid, got %v", got.Kind)
	}
}

func TestParseDisabledAndMoved(t *testing.T) {
	cfg := baseConfig()
	cfg.DisabledFrom = map[chain.ID]chain.Height{"A": 100}
	xfer := chain.Transfer{ID: "x", Chain: "A", Amount: 10, Height: 150, Memo: []byte("B,limit,2,wB")}

	got := Parse(cfg, xfer, fakeBook{}, fakeOrders{})
	if got.Kind != KindDisabled {
		t.Fatalf("Kind = %v, want disabled", got.Kind)
	}

	cfg.MovedToAddress = map[chain.ID]string{"A": "newAddr"}
	got = Parse(cfg, xfer, fakeBook{}, fakeOrders{})
	if got.Kind != KindMoved || got.ToAddress != "newAddr" {
		t.Fatalf("got %v/%q, want moved/newAddr", got.Kind, got.ToAddress)
	}
}
