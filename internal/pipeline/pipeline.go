// Package pipeline implements the per-block workflow (spec.md §4.6): for
// each block handed to it by the Block Interleaver, it runs phases 1-9 in
// declared order, classifying intents, refunding rejections, expiring and
// closing orders, matching trades, and ticking the snapshot store.
package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/decred/slog"
	"golang.org/x/sync/errgroup"

	"github.com/dexbridge/node/internal/book"
	"github.com/dexbridge/node/internal/chain"
	"github.com/dexbridge/node/internal/dividend"
	"github.com/dexbridge/node/internal/intent"
	"github.com/dexbridge/node/internal/interleave"
	"github.com/dexbridge/node/internal/registry"
	"github.com/dexbridge/node/internal/sigcoord"
	"github.com/dexbridge/node/internal/snapshot"
)

// Config carries the per-chain market parameters the pipeline needs.
type Config struct {
	BaseChain  chain.ID
	QuoteChain chain.ID

	PassiveMode bool

	RebroadcastAfterHeight map[chain.ID]chain.Height
	RebroadcastUntilHeight map[chain.ID]chain.Height

	DividendHeightOffset   map[chain.ID]chain.Height
	DividendStartHeight    map[chain.ID]chain.Height
	DividendHeightInterval map[chain.ID]chain.Height

	OrderHeightExpiry map[chain.ID]chain.Height

	ExchangeFeeBase map[chain.ID]uint64
	ExchangeFeeRate map[chain.ID]float64

	OrderBookSnapshotFinality chain.Height
	DexDisabledFromHeight     map[chain.ID]chain.Height
	DexMovedToAddress         map[chain.ID]string

	WalletAddress map[chain.ID]string

	IntentConfig intent.Config
}

// Pipeline runs the per-block phase sequence.
type Pipeline struct {
	log slog.Logger
	cfg Config

	adapters map[chain.ID]chain.Adapter
	engine   *book.Engine
	reg      *registry.Registry
	coord    *sigcoord.Coordinator
	resumer  *snapshot.Resumer
	divq     *dividend.Queue

	disableRefunded bool
}

// New constructs a Pipeline.
func New(log slog.Logger, cfg Config, adapters map[chain.ID]chain.Adapter, engine *book.Engine, reg *registry.Registry, coord *sigcoord.Coordinator, resumer *snapshot.Resumer, divq *dividend.Queue) *Pipeline {
	return &Pipeline{log: log, cfg: cfg, adapters: adapters, engine: engine, reg: reg, coord: coord, resumer: resumer, divq: divq}
}

// orderLookupAdapter adapts *book.Engine to intent.OrderLookup.
type orderLookupAdapter struct{ e *book.Engine }

func (a orderLookupAdapter) GetOrder(id chain.GlobalID) (chain.ID, string, bool) {
	return a.e.GetOrderOwner(id)
}

// ProcessBlock implements interleave.PipelineRunner: phases 1-9 in order.
// Any per-order failure is caught and logged; it never aborts sibling work
// or the block loop itself (spec.md §7). Only a hard error from a ledger
// fetch at the top of the block propagates, aborting this tick so the
// block is retried.
func (p *Pipeline) ProcessBlock(ctx context.Context, pb interleave.PipelineBlock) error {
	cs := pb.Block.Chain
	h := pb.Block.Height
	ts := pb.Block.Timestamp

	// Phase 1: rebroadcast sweep.
	if pb.IsLastBlock {
		safe := h
		p.coord.RebroadcastSweep(cs, safe, p.cfg.RebroadcastAfterHeight[cs], p.cfg.RebroadcastUntilHeight[cs])
	}

	// Phase 2: dividend scheduling.
	p.scheduleDividendIfDue(cs, h)

	adapter := p.adapters[cs]
	walletAddr := p.cfg.WalletAddress[cs]

	// Phase 3: observe outbound.
	outbound, err := adapter.OutboundTransfers(h, walletAddr)
	if err != nil {
		return fmt.Errorf("pipeline: outbound transfers at %s:%d: %w", cs, h, err)
	}
	for _, xfer := range outbound {
		p.coord.ObserveOutbound(xfer.GlobalID(), h)
	}

	// Phase 4: parse inbound.
	inbound, err := adapter.InboundTransfers(h, walletAddr)
	if err != nil {
		return fmt.Errorf("pipeline: inbound transfers at %s:%d: %w", cs, h, err)
	}
	intents := make([]intent.Intent, 0, len(inbound))
	lookup := orderLookupAdapter{p.engine}
	cfg := p.cfg.IntentConfig
	cfg.ExchangeFeeBase = p.cfg.ExchangeFeeBase
	for _, xfer := range inbound {
		intents = append(intents, intent.Parse(cfg, xfer, p.engine, lookup))
	}

	var wg errgroup.Group

	// Phase 5: refund rejections (skipped in passive mode).
	if !p.cfg.PassiveMode {
		wg.Go(func() error {
			p.refundRejections(cs, h, ts, intents)
			return nil
		})
	}

	// Phase 6: expire orders.
	wg.Go(func() error {
		p.expireOrders(cs, h, ts)
		return nil
	})

	// Phase 7: close orders.
	wg.Go(func() error {
		p.closeOrders(cs, h, intents)
		return nil
	})

	// Phase 8: match orders.
	wg.Go(func() error {
		p.matchOrders(cs, h, ts, intents)
		return nil
	})

	_ = wg.Wait() // phase worker funcs never return an error; failures are logged internally

	// Phase 9: snapshot tick.
	if cs == p.cfg.BaseChain && p.cfg.OrderBookSnapshotFinality > 0 && h%p.cfg.OrderBookSnapshotFinality == 0 {
		p.snapshotTick(h, ts, pb.LatestChainHeights)
	}

	return nil
}

func (p *Pipeline) scheduleDividendIfDue(cs chain.ID, h chain.Height) {
	interval := p.cfg.DividendHeightInterval[cs]
	if interval == 0 {
		return
	}
	start := p.cfg.DividendStartHeight[cs]
	offset := p.cfg.DividendHeightOffset[cs]
	if h < offset {
		return
	}
	adjusted := h - offset
	if adjusted <= start || adjusted%interval != 0 {
		return
	}
	// FromHeight is derived purely from h and interval, not from any
	// mutable session state: a node that restarts mid-run must compute the
	// exact same window as one that never restarted (spec.md §8 property 7).
	from := chain.Height(1)
	if h > interval {
		from = h - interval
	}
	p.divq.Enqueue(dividend.Job{ChainSymbol: cs, ChainHeight: h, FromHeight: from, ToHeight: h})
}

func (p *Pipeline) refund(target chain.ID, id chain.GlobalID, recipient string, amount uint64, height chain.Height, timestamp int64, memo string) {
	if amount == 0 {
		p.log.Debugf("pipeline: skipping zero-amount refund for %s (memo=%q)", id, memo)
		return
	}
	if _, err := p.coord.AuthorOutgoing(id, target, sigcoord.NewOutgoing{
		Amount: amount, Recipient: recipient, Height: height, Timestamp: timestamp,
	}, memo); err != nil {
		p.log.Errorf("pipeline: authoring refund for %s failed: %v", id, err)
	}
}

func (p *Pipeline) refundRejections(cs chain.ID, h chain.Height, ts int64, intents []intent.Intent) {
	for _, in := range intents {
		switch in.Kind {
		case intent.KindInvalid, intent.KindOversized, intent.KindUndersized:
			reason := in.Reason
			memo := fmt.Sprintf("r1,%s", in.TransferID)
			if reason != "" {
				memo += ": " + reason
			}
			p.refund(cs, in.TransferID, in.SourceAddr, p.netOfBaseFee(cs, in.Amount), h, ts, memo)
		case intent.KindMoved:
			memo := fmt.Sprintf("r5,%s,%s: DEX has moved", in.TransferID, in.ToAddress)
			p.refund(cs, in.TransferID, in.SourceAddr, p.netOfBaseFee(cs, in.Amount), h, ts, memo)
		case intent.KindDisabled:
			memo := fmt.Sprintf("r6,%s: DEX has been disabled", in.TransferID)
			p.refund(cs, in.TransferID, in.SourceAddr, p.netOfBaseFee(cs, in.Amount), h, ts, memo)
		}
	}
}

func (p *Pipeline) netOfBaseFee(cs chain.ID, amount uint64) uint64 {
	fee := p.cfg.ExchangeFeeBase[cs]
	if amount <= fee {
		return 0
	}
	return amount - fee
}

// expiryTimestamp resolves the block timestamp to stamp an expiry refund
// with: the current block's timestamp if expiry happens at this height,
// else the timestamp of the block at the expiry height (spec.md §4.6
// phase 6).
func (p *Pipeline) expiryTimestamp(cs chain.ID, currentHeight chain.Height, currentTS int64, expiryHeight chain.Height) int64 {
	if expiryHeight == currentHeight {
		return currentTS
	}
	blk, err := p.adapters[cs].BlockAt(expiryHeight)
	if err != nil {
		p.log.Warnf("pipeline: could not resolve timestamp for expired block %s:%d: %v", cs, expiryHeight, err)
		return currentTS
	}
	return blk.Timestamp
}

func (p *Pipeline) expireOrders(cs chain.ID, h chain.Height, ts int64) {
	var expired []*book.Order
	switch {
	case cs == p.cfg.BaseChain:
		expired = p.engine.ExpireBidOrders(h)
	case cs == p.cfg.QuoteChain:
		expired = p.engine.ExpireAskOrders(h)
	default:
		return
	}
	for _, o := range expired {
		refundTS := p.expiryTimestamp(o.SourceChain, h, ts, o.ExpiryHeight)
		memo := fmt.Sprintf("r2,%s: Expired order", o.ID)
		p.refund(o.SourceChain, o.ID, o.SourceWalletAddress, o.Remaining(), o.ExpiryHeight, refundTS, memo)
	}
}

func (p *Pipeline) closeOrders(cs chain.ID, h chain.Height, intents []intent.Intent) {
	for _, in := range intents {
		if in.Kind != intent.KindClose {
			continue
		}
		target, err := p.engine.CloseOrder(in.OrderIDToClose)
		if err != nil {
			p.log.Debugf("pipeline: close %s failed: %v", in.OrderIDToClose, err)
			continue
		}
		memo := fmt.Sprintf("r3,%s,%s: Closed order", target.ID, in.TransferID)
		p.refund(target.SourceChain, target.ID, target.SourceWalletAddress, target.Remaining(), h, 0, memo)
	}
}

func (p *Pipeline) matchOrders(cs chain.ID, h chain.Height, ts int64, intents []intent.Intent) {
	for _, in := range intents {
		if in.Kind != intent.KindLimit && in.Kind != intent.KindMarket {
			continue
		}
		o := p.toBookOrder(in)
		res := p.engine.AddOrder(o)

		if res.TakeSize > 0 {
			takerTargetChain := o.TargetChain
			var takerGross uint64
			if takerTargetChain == p.cfg.BaseChain {
				takerGross = res.TakeValue
			} else {
				takerGross = res.TakeSize
			}
			rate := p.cfg.ExchangeFeeRate[takerTargetChain]
			feeBase := p.cfg.ExchangeFeeBase[takerTargetChain]
			takerAmount := applyFee(takerGross, rate, feeBase)
			if takerAmount > 0 {
				memo := fmt.Sprintf("t1,%s,%s: Orders taken", o.SourceChain, o.ID)
				p.refund(takerTargetChain, o.ID, o.TargetWalletAddress, takerAmount, h, ts+1, memo)
			}
		}

		if in.Kind == intent.KindMarket && o.Remaining() > 0 {
			memo := fmt.Sprintf("r4,%s: Unmatched market order part", o.ID)
			p.refund(o.SourceChain, o.ID, o.SourceWalletAddress, o.Remaining(), h, ts, memo)
		}

		for _, mf := range res.MakerFills {
			maker := mf.Maker
			makerTargetChain := maker.TargetChain
			var makerGross uint64
			if makerTargetChain == p.cfg.BaseChain {
				makerGross = mf.ValueTaken
			} else {
				makerGross = mf.SizeTaken
			}
			rate := p.cfg.ExchangeFeeRate[makerTargetChain]
			feeBase := p.cfg.ExchangeFeeBase[makerTargetChain]
			makerAmount := applyFee(makerGross, rate, feeBase)
			if makerAmount > 0 {
				memo := fmt.Sprintf("t2,%s,%s,%s: Order made", maker.SourceChain, maker.ID, o.ID)
				p.refund(makerTargetChain, maker.ID, maker.TargetWalletAddress, makerAmount, h, ts+1, memo)
			}
		}
	}
}

// applyFee computes floor(gross * (1 - rate) - feeBase), per spec.md §4.6
// phase 8, returning 0 (PayoutUnderflow) instead of a negative amount.
func applyFee(gross uint64, rate float64, feeBase uint64) uint64 {
	net := float64(gross)*(1-rate) - float64(feeBase)
	if net <= 0 {
		return 0
	}
	return uint64(net)
}

func (p *Pipeline) toBookOrder(in intent.Intent) *book.Order {
	targetChain := chain.ID("")
	for _, c := range []chain.ID{p.cfg.BaseChain, p.cfg.QuoteChain} {
		if c != in.SourceChain {
			targetChain = c
		}
	}
	side := book.Ask
	if in.SourceChain == p.cfg.BaseChain {
		side = book.Bid
	}
	o := &book.Order{
		ID:                  in.TransferID,
		Side:                side,
		SourceChain:         in.SourceChain,
		SourceWalletAddress: in.SourceAddr,
		TargetChain:         targetChain,
		TargetWalletAddress: in.TargetWallet,
		Height:              in.Height,
		ExpiryHeight:        in.Height + p.cfg.OrderHeightExpiry[in.SourceChain],
		IsMarket:            in.Kind == intent.KindMarket,
		Price:               in.Price,
	}
	if side == book.Bid {
		o.Value = in.Amount
		o.ValueRemaining = in.Amount
	} else {
		o.Size = in.Amount
		o.SizeRemaining = in.Amount
	}
	return o
}

// snapshotTick refunds the whole book exactly once if a disable/move height
// has newly come into effect, then persists and captures the snapshot
// (spec.md §4.6 phase 9, §4.9 disable/move handling). Refunding before
// persisting means a restart after this point resumes from an already-empty
// book rather than re-refunding on next startup.
func (p *Pipeline) snapshotTick(h chain.Height, ts int64, latestHeights map[chain.ID]chain.Height) {
	if !p.disableRefunded {
		for _, c := range [2]chain.ID{p.cfg.BaseChain, p.cfg.QuoteChain} {
			disabledAt, ok := p.cfg.DexDisabledFromHeight[c]
			if !ok {
				continue
			}
			if ch, ok := latestHeights[c]; ok && ch >= disabledAt {
				p.refundEntireBook(c, h)
				p.disableRefunded = true
				break
			}
		}
	}

	snap := p.engine.GetSnapshot()
	stamped := snapshot.Stamped{
		Snapshot:     snap,
		ChainHeights: copyHeights(latestHeights),
		CoveredFrom:  h,
		Timestamp:    ts,
	}
	if err := p.resumer.Save(stamped); err != nil {
		p.log.Errorf("pipeline: snapshot save failed: %v", err)
	}
}

// refundEntireBook sweeps the whole book once a disable/move height has
// come into effect on triggerChain, which may be either the base or the
// quote chain: each chain's disable/move is configured independently
// (spec.md §6), so the memo reflects whichever one fired.
func (p *Pipeline) refundEntireBook(triggerChain chain.ID, h chain.Height) {
	to, moved := p.cfg.DexMovedToAddress[triggerChain]
	memoCode := "r6"
	suffix := "DEX has been disabled"
	if moved {
		memoCode = "r5"
		suffix = fmt.Sprintf("%s: DEX has moved", to)
	}
	all := append(p.engine.GetBidIterator(), p.engine.GetAskIterator()...)
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	for _, o := range all {
		if _, err := p.engine.CloseOrder(o.ID); err != nil {
			continue
		}
		memo := fmt.Sprintf("%s,%s: %s", memoCode, o.ID, suffix)
		p.refund(o.SourceChain, o.ID, o.SourceWalletAddress, o.Remaining(), h, 0, memo)
	}
}

func copyHeights(m map[chain.ID]chain.Height) map[chain.ID]chain.Height {
	out := make(map[chain.ID]chain.Height, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
