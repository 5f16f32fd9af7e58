package interleave

import (
	"context"
	"testing"
	"time"

	"github.com/dexbridge/node/internal/bus"
	"github.com/dexbridge/node/internal/chain"
)

func blk(c chain.ID, h chain.Height, ts int64) chain.Block {
	return chain.Block{Chain: c, Height: h, Timestamp: ts}
}

func TestMergeAndTrimOrdersByTimestampBaseFirstOnTie(t *testing.T) {
	base := []chain.Block{blk("A", 1, 100), blk("A", 2, 200)}
	quote := []chain.Block{blk("B", 1, 100), blk("B", 2, 150)}

	merged := mergeAndTrim(base, quote, "A")

	// timestamp 100 appears for both chains: base must come first.
	if len(merged) < 2 || merged[0].block.Chain != "A" || merged[1].block.Chain != "B" {
		t.Fatalf("expected base-chain block first on timestamp tie, got %+v", merged)
	}
}

func TestMergeAndTrimKeepsStreamCausallyPaired(t *testing.T) {
	// Base has a block at ts=300 that's ahead of quote's horizon (ts=150):
	// it must be trimmed so the stream never outruns the other chain.
	base := []chain.Block{blk("A", 1, 100), blk("A", 2, 300)}
	quote := []chain.Block{blk("B", 1, 150)}

	merged := mergeAndTrim(base, quote, "A")

	for _, m := range merged {
		if m.block.Chain == "A" && m.block.Timestamp > 150 {
			t.Fatalf("base block at ts=%d should have been trimmed (quote horizon=150)", m.block.Timestamp)
		}
	}
}

func TestMergeAndTrimFlagsLastBlockPerChain(t *testing.T) {
	base := []chain.Block{blk("A", 1, 100), blk("A", 2, 110)}
	quote := []chain.Block{blk("B", 1, 105)}

	merged := mergeAndTrim(base, quote, "A")

	var lastA, lastB *mergedBlock
	for i := range merged {
		m := &merged[i]
		if m.block.Chain == "A" {
			lastA = m
		} else {
			lastB = m
		}
	}
	if lastA == nil || !lastA.isLastBlock {
		t.Fatalf("last base block should be flagged isLastBlock")
	}
	if lastB == nil || !lastB.isLastBlock {
		t.Fatalf("last quote block should be flagged isLastBlock")
	}
}

type fakeBus struct {
	blockHandlers map[string]func(chain.Height)
}

func (b *fakeBus) EmitSignature(base, quote string, ev bus.SignatureEvent) error { return nil }
func (b *fakeBus) OnSignature(h func(bus.SignatureEvent))                       {}
func (b *fakeBus) OnBlocksChange(alias string, h func(chain.Height)) {
	if b.blockHandlers == nil {
		b.blockHandlers = make(map[string]func(chain.Height))
	}
	b.blockHandlers[alias] = h
}

// TestForkRecoverySequence mirrors spec.md scenario S5.
func TestForkRecoverySequence(t *testing.T) {
	fb := &fakeBus{}
	fw := NewForkWatcher(fb, map[chain.ID]string{"A": "chainA", "B": "chainB"})

	fb.blockHandlers["chainA"](10)
	fb.blockHandlers["chainB"](10)
	if fw.InProgress() {
		t.Fatalf("should not be forked after first observations")
	}

	fb.blockHandlers["chainA"](11)
	fb.blockHandlers["chainB"](11)
	if fw.InProgress() {
		t.Fatalf("should not be forked while both chains progress")
	}

	// Chain A stalls: re-delivering the same height.
	fb.blockHandlers["chainA"](11)
	if !fw.InProgress() {
		t.Fatalf("should be forked once a chain stops progressing")
	}

	// Chain B still progressing alone does not clear the flag.
	fb.blockHandlers["chainB"](12)
	if !fw.InProgress() {
		t.Fatalf("fork flag should persist until every chain resumes")
	}

	// Chain A resumes: both chains are now progressing again.
	fb.blockHandlers["chainA"](12)
	if fw.InProgress() {
		t.Fatalf("fork flag should clear once all chains resume progressing")
	}
}

// stalledAdapter always reports the same tip height and never has any new
// blocks to hand back, modeling a ledger that has stopped advancing.
type stalledAdapter struct {
	c   chain.ID
	tip chain.Height
}

func (a *stalledAdapter) Chain() chain.ID                              { return a.c }
func (a *stalledAdapter) BestHeight() (chain.Height, error)            { return a.tip, nil }
func (a *stalledAdapter) BlockAt(h chain.Height) (chain.Block, error)  { return chain.Block{}, nil }
func (a *stalledAdapter) InboundTransfers(h chain.Height, addr string) ([]chain.Transfer, error) {
	return nil, nil
}
func (a *stalledAdapter) OutboundTransfers(h chain.Height, addr string) ([]chain.Transfer, error) {
	return nil, nil
}
func (a *stalledAdapter) PostTransaction(txBytes []byte) (string, error) { return "", nil }
func (a *stalledAdapter) WalletInfo(addr string) (*chain.WalletInfo, error) {
	return nil, nil
}
func (a *stalledAdapter) SubscribeNewBlocks() (<-chan chain.Height, func()) {
	ch := make(chan chain.Height)
	return ch, func() { close(ch) }
}
func (a *stalledAdapter) BlocksInRange(from, to chain.Height, max int) ([]chain.Block, error) {
	return nil, nil
}

type noopPipeline struct{}

func (noopPipeline) ProcessBlock(ctx context.Context, pb PipelineBlock) error { return nil }

type noopSnapshotSource struct{}

func (noopSnapshotSource) LastSnapshotResumePoint() (chain.Height, int64, bool) { return 0, 0, false }
func (noopSnapshotSource) RestoreFromLastSnapshot()                            {}

type noopRegistry struct{}

func (noopRegistry) Clear() {}

// TestTickReportsStalledHeightEvenWithoutNewBlocks covers the case a peer
// never echoes a stale height back over the bus: a chain's own poll loop
// must still notice it has stopped advancing.
func TestTickReportsStalledHeightEvenWithoutNewBlocks(t *testing.T) {
	base := &stalledAdapter{c: "A", tip: 5}
	quote := &stalledAdapter{c: "B", tip: 5}

	fw := NewForkWatcher(&fakeBus{}, map[chain.ID]string{"A": "chainA", "B": "chainB"})

	il := New(nil, Config{
		BaseChain:          "A",
		QuoteChain:         "B",
		ReadBlocksInterval: time.Millisecond,
	}, base, quote, noopPipeline{}, noopSnapshotSource{}, noopRegistry{}, fw)

	if _, err := il.tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fw.InProgress() {
		t.Fatalf("should not be forked after the first observation of a height")
	}

	if _, err := il.tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !fw.InProgress() {
		t.Fatal("expected a repeated, unchanged tip height to be flagged as a stall")
	}
}
