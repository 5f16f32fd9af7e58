// Package interleave implements the Block Interleaver (spec.md §4.5): it
// merges the two chains' confirmed block streams into one deterministic,
// timestamp-ordered sequence, and reacts to fork detection (§4.7).
package interleave

import (
	"context"
	"sort"
	"time"

	"github.com/decred/slog"

	"github.com/dexbridge/node/internal/chain"
)

// PipelineBlock is one block handed to the Pipeline for processing, with
// the merge metadata the pipeline needs.
type PipelineBlock struct {
	Block              chain.Block
	LatestChainHeights map[chain.ID]chain.Height
	IsLastBlock        bool // triggers the rebroadcast sweep for this chain
}

// Config carries the per-chain tunables the interleaver consults.
type Config struct {
	BaseChain             chain.ID
	QuoteChain            chain.ID
	RequiredConfirmations map[chain.ID]uint64
	ReadMaxBlocks         map[chain.ID]int
	ReadBlocksInterval    time.Duration
}

// PipelineRunner processes one merged block. Errors abort the current tick
// (the block is retried on the next tick); the interleaver never aborts
// the whole loop on a pipeline error (spec.md §4.5, §7).
type PipelineRunner interface {
	ProcessBlock(ctx context.Context, pb PipelineBlock) error
}

// SnapshotSource supplies the last in-memory snapshot used to restore the
// book and resume cursor after fork recovery (spec.md §4.5).
type SnapshotSource interface {
	LastSnapshotResumePoint() (baseHeight chain.Height, baseTimestamp int64, ok bool)
	RestoreFromLastSnapshot()
}

// Registry is cleared wholesale on fork recovery.
type Registry interface {
	Clear()
}

// Interleaver drives the single-task merge/dispatch loop.
type Interleaver struct {
	log slog.Logger
	cfg Config

	base  chain.Adapter
	quote chain.Adapter

	pipeline PipelineRunner
	snaps    SnapshotSource
	registry Registry
	forks    *ForkWatcher

	lastProcessedHeight map[chain.ID]chain.Height
	lastProcessedTime   int64
}

// New constructs an Interleaver.
func New(log slog.Logger, cfg Config, base, quote chain.Adapter, pipeline PipelineRunner, snaps SnapshotSource, registry Registry, forks *ForkWatcher) *Interleaver {
	return &Interleaver{
		log:                 log,
		cfg:                 cfg,
		base:                base,
		quote:               quote,
		pipeline:            pipeline,
		snaps:               snaps,
		registry:            registry,
		forks:               forks,
		lastProcessedHeight: make(map[chain.ID]chain.Height),
	}
}

// Run blocks until ctx is canceled, ticking the interleaver loop.
func (il *Interleaver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := il.tick(ctx)
		if err != nil {
			il.log.Errorf("interleave: tick error: %v", err)
		}
		if n == 0 {
			select {
			case <-time.After(il.cfg.ReadBlocksInterval):
			case <-ctx.Done():
				return
			}
		}
	}
}

// tick runs one iteration of the merge/dispatch loop, returning the number
// of blocks processed.
func (il *Interleaver) tick(ctx context.Context) (int, error) {
	if il.forks.InProgress() {
		if !il.forks.AllProgressing() {
			return 0, nil
		}
		il.registry.Clear()
		il.snaps.RestoreFromLastSnapshot()
		if h, ts, ok := il.snaps.LastSnapshotResumePoint(); ok {
			il.lastProcessedHeight[il.cfg.BaseChain] = h
			il.lastProcessedTime = ts
		}
		il.forks.ClearForkFlag()
		return 0, nil
	}

	baseBlocks, baseSafe, err := il.fetchSafeBlocks(il.base)
	if err != nil {
		return 0, err
	}
	quoteBlocks, quoteSafe, err := il.fetchSafeBlocks(il.quote)
	if err != nil {
		return 0, err
	}

	// Report the confirmed tip every tick, not just when it produced new
	// blocks, so a chain that stalls at its own current height is caught
	// by the fork watcher instead of only a peer's re-delivered height.
	il.forks.Observe(il.cfg.BaseChain, baseSafe)
	il.forks.Observe(il.cfg.QuoteChain, quoteSafe)

	merged := mergeAndTrim(baseBlocks, quoteBlocks, il.cfg.BaseChain)
	if len(merged) == 0 {
		return 0, nil
	}

	heights := map[chain.ID]chain.Height{}
	if len(baseBlocks) > 0 {
		heights[il.cfg.BaseChain] = baseBlocks[len(baseBlocks)-1].Height
	}
	if len(quoteBlocks) > 0 {
		heights[il.cfg.QuoteChain] = quoteBlocks[len(quoteBlocks)-1].Height
	}

	processed := 0
	for _, b := range merged {
		if il.forks.InProgress() {
			break
		}
		pb := PipelineBlock{
			Block:              b.block,
			LatestChainHeights: heights,
			IsLastBlock:        b.isLastBlock,
		}
		if err := il.pipeline.ProcessBlock(ctx, pb); err != nil {
			return processed, err
		}
		il.lastProcessedHeight[b.block.Chain] = b.block.Height
		il.lastProcessedTime = b.block.Timestamp
		processed++
	}
	return processed, nil
}

// fetchSafeBlocks returns the adapter's newly confirmed blocks (if any) and
// its current confirmed-safe tip height, which the caller reports to the
// fork watcher on every tick regardless of whether new blocks were read.
func (il *Interleaver) fetchSafeBlocks(adapter chain.Adapter) ([]chain.Block, chain.Height, error) {
	c := adapter.Chain()
	best, err := adapter.BestHeight()
	if err != nil {
		return nil, 0, err
	}
	confirms := chain.Height(il.cfg.RequiredConfirmations[c])
	if best < confirms {
		return nil, 0, nil
	}
	safe := best - confirms
	from := il.lastProcessedHeight[c]
	if safe <= from {
		return nil, safe, nil
	}
	max := il.cfg.ReadMaxBlocks[c]
	if max <= 0 {
		max = 100
	}
	blocks, err := adapter.BlocksInRange(from, safe, max)
	if err != nil {
		return nil, 0, err
	}
	return blocks, safe, nil
}

type mergedBlock struct {
	block       chain.Block
	isLastBlock bool
}

// mergeAndTrim merges two ascending-height block slices into one
// timestamp-ordered sequence (base-chain-first on tie), then trims so no
// block's timestamp exceeds the other chain's last-fetched block
// timestamp, keeping the stream causally paired (spec.md §4.5 step 3-4).
func mergeAndTrim(baseBlocks, quoteBlocks []chain.Block, baseChain chain.ID) []mergedBlock {
	all := make([]chain.Block, 0, len(baseBlocks)+len(quoteBlocks))
	all = append(all, baseBlocks...)
	all = append(all, quoteBlocks...)
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Timestamp != all[j].Timestamp {
			return all[i].Timestamp < all[j].Timestamp
		}
		// Deterministic tie-break: base chain first.
		iBase := all[i].Chain == baseChain
		jBase := all[j].Chain == baseChain
		if iBase != jBase {
			return iBase
		}
		return false
	})

	var baseHorizon, quoteHorizon int64
	haveBase := len(baseBlocks) > 0
	haveQuote := len(quoteBlocks) > 0
	if haveBase {
		baseHorizon = baseBlocks[len(baseBlocks)-1].Timestamp
	}
	if haveQuote {
		quoteHorizon = quoteBlocks[len(quoteBlocks)-1].Timestamp
	}

	trimmed := make([]chain.Block, 0, len(all))
	for _, b := range all {
		if b.Chain == baseChain {
			if haveQuote && b.Timestamp > quoteHorizon {
				continue
			}
		} else {
			if haveBase && b.Timestamp > baseHorizon {
				continue
			}
		}
		trimmed = append(trimmed, b)
	}

	lastByChain := map[chain.ID]int{}
	for i, b := range trimmed {
		lastByChain[b.Chain] = i
	}

	out := make([]mergedBlock, len(trimmed))
	for i, b := range trimmed {
		out[i] = mergedBlock{block: b, isLastBlock: lastByChain[b.Chain] == i}
	}
	return out
}
