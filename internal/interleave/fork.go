package interleave

import (
	"sync"

	"github.com/dexbridge/node/internal/bus"
	"github.com/dexbridge/node/internal/chain"
)

// ForkWatcher implements spec.md §4.7: per chain, track the last seen
// height from "new block" notifications; a chain is progressing iff the
// newly notified height strictly exceeds the last seen height. The
// interleaver is forked whenever any watched chain stops progressing.
type ForkWatcher struct {
	mtx         sync.Mutex
	lastSeen    map[chain.ID]chain.Height
	progressing map[chain.ID]bool
	isForked    bool
	chains      []chain.ID
}

// NewForkWatcher creates a watcher for the given chains, registering its
// handlers on b so that a peer's own broadcast of its observed chain
// height also feeds this watcher's progression check (spec.md §4.7's
// "new block notifications" include both this node's own polling and
// federated peers' reports).
func NewForkWatcher(b bus.Bus, aliases map[chain.ID]string) *ForkWatcher {
	fw := &ForkWatcher{
		lastSeen:    make(map[chain.ID]chain.Height),
		progressing: make(map[chain.ID]bool),
	}
	for c, alias := range aliases {
		c := c
		fw.chains = append(fw.chains, c)
		fw.progressing[c] = true
		b.OnBlocksChange(alias, func(h chain.Height) {
			fw.Observe(c, h)
		})
	}
	return fw
}

// Observe records a newly seen height for c, updating progression state.
// Called both by the bus's inbound peer notifications and directly by the
// Interleaver's own poll loop.
func (fw *ForkWatcher) Observe(c chain.ID, h chain.Height) {
	fw.mtx.Lock()
	defer fw.mtx.Unlock()

	last, seenBefore := fw.lastSeen[c]
	progressing := !seenBefore || h > last
	fw.lastSeen[c] = h
	fw.progressing[c] = progressing

	if !progressing {
		fw.isForked = true
		return
	}
	if fw.allProgressingLocked() {
		fw.isForked = false
	}
}

func (fw *ForkWatcher) allProgressingLocked() bool {
	for _, c := range fw.chains {
		if !fw.progressing[c] {
			return false
		}
	}
	return true
}

// InProgress reports whether a fork is currently flagged.
func (fw *ForkWatcher) InProgress() bool {
	fw.mtx.Lock()
	defer fw.mtx.Unlock()
	return fw.isForked
}

// AllProgressing reports whether every watched chain is currently
// progressing, used by the interleaver to decide when to end fork
// recovery.
func (fw *ForkWatcher) AllProgressing() bool {
	fw.mtx.Lock()
	defer fw.mtx.Unlock()
	return fw.allProgressingLocked()
}

// ClearForkFlag clears the fork flag once the interleaver has completed
// its post-fork recovery (registry clear + snapshot restore).
func (fw *ForkWatcher) ClearForkFlag() {
	fw.mtx.Lock()
	defer fw.mtx.Unlock()
	fw.isForked = false
}
