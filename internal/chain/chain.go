// Package chain defines the boundary types shared with the two ledgers a
// node bridges. The ledgers themselves are black-box collaborators: this
// package only fixes the shapes the rest of the node depends on.
package chain

import "fmt"

// ID names one of the two ledgers a node instance operates over. Exactly
// two distinct IDs exist per running node.
type ID string

// GlobalID namespaces a ledger-native transfer or order id by the chain it
// originated on, so that ids from the two independent ledgers can never
// collide inside a single node's registry or order book.
type GlobalID string

// NewGlobalID builds a GlobalID from a chain and its native id string.
func NewGlobalID(c ID, native string) GlobalID {
	return GlobalID(fmt.Sprintf("%s:%s", c, native))
}

// Height is a block height on one ledger.
type Height uint64

// Block is one confirmed block on a ledger, as surfaced by a Ledger
// Adapter. Only the fields the coordinator core needs are exposed; the
// adapter owns the rest of the chain's block representation.
type Block struct {
	Chain     ID
	Height    Height
	Timestamp int64 // unix seconds
}

// Transfer is one inbound or outbound value transfer observed in a block.
type Transfer struct {
	ID            string // ledger-native id, unqualified
	Chain         ID
	SenderAddress string
	Amount        uint64
	Memo          []byte // raw transferData payload
	Height        Height
	Timestamp     int64
}

// GlobalID returns the chain-qualified id for this transfer.
func (t Transfer) GlobalID() GlobalID {
	return NewGlobalID(t.Chain, t.ID)
}

// WalletInfo describes the shared multisignature wallet this node
// co-controls on one chain, as loaded once at startup.
type WalletInfo struct {
	Address                string
	Members                map[string]struct{} // member public keys, hex
	MemberCount            int
	RequiredSignatureCount int
}

// IsMember reports whether the given public key belongs to the wallet's
// member set.
func (w *WalletInfo) IsMember(pubKeyHex string) bool {
	_, ok := w.Members[pubKeyHex]
	return ok
}
