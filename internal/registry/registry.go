// Package registry implements the insertion-ordered Pending Transfer
// Registry (spec.md §4.3): an ordered mapping from transaction id to
// PendingTransfer, with head-scan expiry.
package registry

import (
	"container/list"
	"sync"
	"time"

	"github.com/dexbridge/node/internal/chain"
)

// Signature is one member's signature over a pending transaction.
type Signature string

// Transaction is the outgoing multisig transaction a PendingTransfer
// accumulates signatures for.
type Transaction struct {
	TargetChain chain.ID
	Recipient   string
	Amount      uint64
	Memo        string
	Signatures  []Signature
	Raw         []byte // canonical unsigned encoding, hashed for verification
}

// PendingTransfer is one outgoing multisig transaction awaiting quorum
// (spec.md §3).
type PendingTransfer struct {
	ID          chain.GlobalID
	Transaction Transaction
	TargetChain chain.ID

	ProcessedSignatures map[Signature]struct{}
	Contributors        map[string]struct{} // signing members, keyed by pubkey hex

	PublicKey      string
	OwnSignature   Signature // this node's own signature, for rebroadcast
	CreationHeight chain.Height
	InsertedAt     int64 // wall-clock monotonic ms
	IsReady        bool
}

// Registry is an insertion-ordered mapping of PendingTransfers, matching
// dcrdex's coinlock/swapStatus convention of a map guarded by a mutex, plus
// a doubly-linked list to preserve and expose insertion order (spec.md §9).
type Registry struct {
	mtx  sync.Mutex
	ord  *list.List // element.Value is chain.GlobalID
	elem map[chain.GlobalID]*list.Element
	data map[chain.GlobalID]*PendingTransfer
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		ord:  list.New(),
		elem: make(map[chain.GlobalID]*list.Element),
		data: make(map[chain.GlobalID]*PendingTransfer),
	}
}

// Put inserts entry, appending it to the tail of insertion order. Any
// prior entry with the same id is removed first, so re-authoring an
// existing id is remove-then-append (spec.md §3 registry invariant).
func (r *Registry) Put(id chain.GlobalID, entry *PendingTransfer) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.removeLocked(id)
	el := r.ord.PushBack(id)
	r.elem[id] = el
	r.data[id] = entry
}

// Get returns the entry for id, if present.
func (r *Registry) Get(id chain.GlobalID) (*PendingTransfer, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	e, ok := r.data[id]
	return e, ok
}

// Contains reports whether id is currently registered.
func (r *Registry) Contains(id chain.GlobalID) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	_, ok := r.data[id]
	return ok
}

// Remove deletes the entry for id, if present.
func (r *Registry) Remove(id chain.GlobalID) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.removeLocked(id)
}

func (r *Registry) removeLocked(id chain.GlobalID) {
	if el, ok := r.elem[id]; ok {
		r.ord.Remove(el)
		delete(r.elem, id)
		delete(r.data, id)
	}
}

// Values returns every entry in insertion order.
func (r *Registry) Values() []*PendingTransfer {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	out := make([]*PendingTransfer, 0, r.ord.Len())
	for el := r.ord.Front(); el != nil; el = el.Next() {
		id := el.Value.(chain.GlobalID)
		out = append(out, r.data[id])
	}
	return out
}

// Expire removes entries from the head of insertion order while
// nowMs - entry.InsertedAt >= expiry, stopping at the first entry younger
// than the threshold. This head-only scan is correct because insertion
// order tracks InsertedAt order (spec.md §4.3).
func (r *Registry) Expire(nowMs int64, expiry time.Duration) []*PendingTransfer {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	thresholdMs := expiry.Milliseconds()
	var expired []*PendingTransfer
	for {
		el := r.ord.Front()
		if el == nil {
			break
		}
		id := el.Value.(chain.GlobalID)
		entry := r.data[id]
		if nowMs-entry.InsertedAt < thresholdMs {
			break
		}
		r.ord.Remove(el)
		delete(r.elem, id)
		delete(r.data, id)
		expired = append(expired, entry)
	}
	return expired
}

// Clear removes every entry, used on fork-recovery (spec.md §4.5).
func (r *Registry) Clear() {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.ord = list.New()
	r.elem = make(map[chain.GlobalID]*list.Element)
	r.data = make(map[chain.GlobalID]*PendingTransfer)
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.ord.Len()
}
