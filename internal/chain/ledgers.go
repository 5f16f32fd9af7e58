package chain

import (
	"encoding/binary"
	"fmt"

	"github.com/dexbridge/node/internal/registry"
)

// AdapterLedgers implements sigcoord.Ledgers over a set of per-chain
// Adapters, routing PostTransaction calls to the adapter of the given
// target chain. The wire encoding is a minimal canonical
// framing of the fields OnPeerSignature and quorum verification actually
// hash; it is not required to match any chain's native transaction format,
// since signature verification only needs a stable, collision-resistant
// byte representation of the same fields (spec.md §3).
type AdapterLedgers struct {
	adapters map[ID]Adapter
}

// NewAdapterLedgers builds a Ledgers view over the given per-chain
// Adapters.
func NewAdapterLedgers(adapters map[ID]Adapter) *AdapterLedgers {
	return &AdapterLedgers{adapters: adapters}
}

// EncodeTransaction returns a canonical byte encoding of tx's unsigned
// fields, used both to hash-and-sign and to post to the target chain.
func (a *AdapterLedgers) EncodeTransaction(tx registry.Transaction) []byte {
	out := make([]byte, 0, 64+len(tx.Recipient)+len(tx.Memo))
	out = append(out, []byte(tx.TargetChain)...)
	out = append(out, 0)
	out = append(out, []byte(tx.Recipient)...)
	out = append(out, 0)
	var amt [8]byte
	binary.BigEndian.PutUint64(amt[:], tx.Amount)
	out = append(out, amt[:]...)
	out = append(out, []byte(tx.Memo)...)
	return out
}

// PostTransaction submits txBytes to the adapter serving target.
func (a *AdapterLedgers) PostTransaction(target ID, txBytes []byte) (string, error) {
	adapter, ok := a.adapters[target]
	if !ok {
		return "", fmt.Errorf("chain: no adapter registered for %q", target)
	}
	return adapter.PostTransaction(txBytes)
}
