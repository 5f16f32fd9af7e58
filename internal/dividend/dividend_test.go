package dividend

import (
	"testing"

	"github.com/decred/slog"

	"github.com/dexbridge/node/internal/chain"
	"github.com/dexbridge/node/internal/sigcoord"
)

type fakeTally struct {
	calls int
	out   map[string]uint64
}

func (f *fakeTally) Contributions(target chain.ID, from, to chain.Height, rate float64) map[string]uint64 {
	f.calls++
	return f.out
}

func testLogger() slog.Logger {
	bknd := slog.NewBackend(nil)
	l := bknd.Logger("DIVTEST")
	l.SetLevel(slog.LevelOff)
	return l
}

func TestProcessPaysEachMemberShare(t *testing.T) {
	tally := &fakeTally{out: map[string]uint64{"pk1": 1000, "pk2": 2000}}
	var paid []struct {
		addr   string
		amount uint64
	}
	pay := func(id chain.GlobalID, targetChain chain.ID, out sigcoord.NewOutgoing, memo string) error {
		paid = append(paid, struct {
			addr   string
			amount uint64
		}{out.Recipient, out.Amount})
		return nil
	}

	q := New(testLogger(), Config{
		DividendRate:    map[chain.ID]float64{"A": 0.5},
		ExchangeFeeRate: map[chain.ID]float64{"A": 0.1},
		MemberCount:     map[chain.ID]int{"A": 2},
		MemberWalletAddress: map[chain.ID]map[string]string{
			"A": {"pk1": "addr1", "pk2": "addr2"},
		},
	}, tally, pay)

	q.process(Job{ChainSymbol: "A", ChainHeight: 100, ToHeight: 100})

	if tally.calls != 1 {
		t.Fatalf("expected exactly one tally call, got %d", tally.calls)
	}
	if len(paid) != 2 {
		t.Fatalf("expected 2 payouts, got %d", len(paid))
	}
	want := map[string]uint64{"addr1": DefaultFn(1000, 0.5, 0.1, 2), "addr2": DefaultFn(2000, 0.5, 0.1, 2)}
	for _, p := range paid {
		if p.amount != want[p.addr] {
			t.Fatalf("payout to %s: got %d, want %d", p.addr, p.amount, want[p.addr])
		}
	}
}

func TestProcessSkipsMembersWithoutAddress(t *testing.T) {
	tally := &fakeTally{out: map[string]uint64{"pk1": 1000, "unknown": 5000}}
	var paidCount int
	pay := func(id chain.GlobalID, targetChain chain.ID, out sigcoord.NewOutgoing, memo string) error {
		paidCount++
		return nil
	}

	q := New(testLogger(), Config{
		DividendRate:        map[chain.ID]float64{"A": 1},
		ExchangeFeeRate:     map[chain.ID]float64{"A": 0.1},
		MemberCount:         map[chain.ID]int{"A": 1},
		MemberWalletAddress: map[chain.ID]map[string]string{"A": {"pk1": "addr1"}},
	}, tally, pay)

	q.process(Job{ChainSymbol: "A", ChainHeight: 10, ToHeight: 10})

	if paidCount != 1 {
		t.Fatalf("expected exactly 1 payout (member without a registered address is skipped), got %d", paidCount)
	}
}

func TestProcessSkipsZeroAmount(t *testing.T) {
	tally := &fakeTally{out: map[string]uint64{"pk1": 1}}
	paid := 0
	pay := func(id chain.GlobalID, targetChain chain.ID, out sigcoord.NewOutgoing, memo string) error {
		paid++
		return nil
	}

	q := New(testLogger(), Config{
		DividendRate:        map[chain.ID]float64{"A": 0},
		ExchangeFeeRate:     map[chain.ID]float64{"A": 0},
		MemberCount:         map[chain.ID]int{"A": 1},
		MemberWalletAddress: map[chain.ID]map[string]string{"A": {"pk1": "addr1"}},
	}, tally, pay)

	q.process(Job{ChainSymbol: "A", ChainHeight: 10, ToHeight: 10})

	if paid != 0 {
		t.Fatalf("zero dividend rate should yield zero payout, got %d payouts", paid)
	}
}
