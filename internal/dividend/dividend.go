// Package dividend implements the Dividend Processor (spec.md §4.9): a
// bounded single-consumer job queue that, on each due height, tallies
// member contributions to settled trade fees and pays out each member's
// share, grounded on the teacher's coinwaiter retry-queue pattern
// (server/coinwaiter/coinwaiter.go) simplified to one-shot jobs.
package dividend

import (
	"context"
	"fmt"

	"github.com/decred/slog"

	"github.com/dexbridge/node/internal/chain"
	"github.com/dexbridge/node/internal/sigcoord"
)

// Job describes one dividend run: pay out members' shares of fee revenue
// collected on ChainSymbol up to ToHeight.
type Job struct {
	ChainSymbol chain.ID
	ChainHeight chain.Height
	FromHeight  chain.Height
	ToHeight    chain.Height
}

// Tally attributes settled outbound transfers to their signing members,
// grounded on sigcoord.Coordinator's own settlement log.
type Tally interface {
	Contributions(target chain.ID, fromHeight, toHeight chain.Height, exchangeFeeRate float64) map[string]uint64
}

// Fn computes one member's payout from their tallied contribution.
// The default (spec.md §4.9) is floor(contribution * dividendRate *
// exchangeFeeRate / memberCount).
type Fn func(contribution uint64, dividendRate, exchangeFeeRate float64, memberCount int) uint64

// DefaultFn is spec.md §4.9's default dividend function.
func DefaultFn(contribution uint64, dividendRate, exchangeFeeRate float64, memberCount int) uint64 {
	if memberCount <= 0 {
		return 0
	}
	v := float64(contribution) * dividendRate * exchangeFeeRate / float64(memberCount)
	if v < 0 {
		return 0
	}
	return uint64(v)
}

// Config carries the per-chain dividend parameters.
type Config struct {
	DividendRate    map[chain.ID]float64
	ExchangeFeeRate map[chain.ID]float64
	MemberCount     map[chain.ID]int
	// MemberWalletAddress resolves a member's payout destination on a given
	// chain from their signing pubkey (hex), per spec.md §6's member list.
	MemberWalletAddress map[chain.ID]map[string]string
	QueueCapacity       int // default 64
	Fn                  Fn  // defaults to DefaultFn
}

// Queue is the bounded single-consumer dividend job queue.
type Queue struct {
	log   slog.Logger
	cfg   Config
	tally Tally
	pay   payFunc

	jobs chan Job
}

// payFunc is the narrow shape dividend actually calls; wired from
// sigcoord.Coordinator.AuthorOutgoing, which returns a type this package
// doesn't need to name.
type payFunc func(id chain.GlobalID, targetChain chain.ID, out sigcoord.NewOutgoing, memo string) error

// New constructs a Queue. pay is typically
// coord.AuthorOutgoing adapted to discard its *registry.PendingTransfer
// return value, since the dividend processor has no further use for it.
func New(log slog.Logger, cfg Config, tally Tally, pay func(id chain.GlobalID, targetChain chain.ID, out sigcoord.NewOutgoing, memo string) error) *Queue {
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = 64
	}
	if cfg.Fn == nil {
		cfg.Fn = DefaultFn
	}
	return &Queue{log: log, cfg: cfg, tally: tally, pay: pay, jobs: make(chan Job, cfg.QueueCapacity)}
}

// Enqueue submits a job, dropping and logging if the queue is saturated
// rather than blocking the pipeline phase that scheduled it.
func (q *Queue) Enqueue(j Job) {
	select {
	case q.jobs <- j:
	default:
		q.log.Warnf("dividend: queue full, dropping job for %s at height %d", j.ChainSymbol, j.ChainHeight)
	}
}

// Run drains the queue until ctx is canceled.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case j := <-q.jobs:
			q.process(j)
		case <-ctx.Done():
			return
		}
	}
}

func (q *Queue) process(j Job) {
	rate := q.cfg.ExchangeFeeRate[j.ChainSymbol]
	dividendRate := q.cfg.DividendRate[j.ChainSymbol]
	memberCount := q.cfg.MemberCount[j.ChainSymbol]

	addrs := q.cfg.MemberWalletAddress[j.ChainSymbol]
	tally := q.tally.Contributions(j.ChainSymbol, j.FromHeight, j.ToHeight, rate)
	for memberPubKey, contribution := range tally {
		amount := q.cfg.Fn(contribution, dividendRate, rate, memberCount)
		if amount == 0 {
			continue
		}
		addr, ok := addrs[memberPubKey]
		if !ok {
			q.log.Warnf("dividend: no payout address for member %s, skipping", memberPubKey)
			continue
		}
		id := chain.NewGlobalID(j.ChainSymbol, fmt.Sprintf("dividend-%d-%s", j.ChainHeight, memberPubKey))
		memo := fmt.Sprintf("d1,%s: Dividend payout", memberPubKey)
		if err := q.pay(id, j.ChainSymbol, sigcoord.NewOutgoing{
			Amount:    amount,
			Recipient: addr,
			Height:    j.ChainHeight,
		}, memo); err != nil {
			q.log.Errorf("dividend: payout to %s failed: %v", memberPubKey, err)
		}
	}
}
