package snapshot

import (
	"github.com/decred/slog"

	"github.com/dexbridge/node/internal/book"
	"github.com/dexbridge/node/internal/chain"
)

// Resumer adapts a Store + book.Engine pair to interleave.SnapshotSource:
// it remembers the last snapshot loaded or saved and can restore the book
// to it after fork recovery (spec.md §4.5, §4.8).
type Resumer struct {
	log    slog.Logger
	store  *Store
	engine *book.Engine

	last *Stamped
}

// NewResumer constructs a Resumer, loading the current on-disk snapshot (if
// any) as the initial resume point.
func NewResumer(log slog.Logger, store *Store, engine *book.Engine) (*Resumer, error) {
	r := &Resumer{log: log, store: store, engine: engine}
	st, ok, err := store.Load()
	if err != nil {
		return nil, err
	}
	if ok {
		r.last = st
		engine.SetSnapshot(st.Snapshot)
	}
	return r, nil
}

// LastSnapshotResumePoint implements interleave.SnapshotSource.
func (r *Resumer) LastSnapshotResumePoint() (chain.Height, int64, bool) {
	if r.last == nil {
		return 0, 0, false
	}
	return r.last.CoveredFrom, r.last.Timestamp, true
}

// RestoreFromLastSnapshot implements interleave.SnapshotSource: replaces
// the live book with the last known-good snapshot after a fork is
// resolved. If no snapshot has ever been taken, it clears the book instead
// (there is nothing safe to restore to).
func (r *Resumer) RestoreFromLastSnapshot() {
	if r.last == nil {
		r.engine.Clear()
		return
	}
	r.engine.SetSnapshot(r.last.Snapshot)
}

// Save persists st and updates the resume point, so a subsequent fork
// restores to the just-persisted state rather than the load-time one.
func (r *Resumer) Save(st Stamped) error {
	if err := r.store.Save(st); err != nil {
		return err
	}
	r.last = &st
	return nil
}
