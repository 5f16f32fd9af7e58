package chain

// Adapter is the read-only view of one ledger a node consumes. Concrete
// implementations (one per supported chain) are outside this module's
// scope; the coordinator core only depends on this contract.
type Adapter interface {
	// Chain returns the ID this adapter serves.
	Chain() ID

	// BestHeight returns the ledger's current tip height.
	BestHeight() (Height, error)

	// BlocksInRange returns up to max confirmed blocks with
	// from < height <= to, ordered by ascending height.
	BlocksInRange(from, to Height, max int) ([]Block, error)

	// BlockAt returns the block at the given height, if known.
	BlockAt(h Height) (Block, error)

	// InboundTransfers returns transfers received by walletAddress in the
	// given block.
	InboundTransfers(h Height, walletAddress string) ([]Transfer, error)

	// OutboundTransfers returns transfers sent from walletAddress in the
	// given block.
	OutboundTransfers(h Height, walletAddress string) ([]Transfer, error)

	// PostTransaction submits a fully-signed transaction to the ledger's
	// mempool/network. txBytes is opaque to the coordinator core.
	PostTransaction(txBytes []byte) (string, error)

	// WalletInfo loads the shared multisig wallet's member set. Called once
	// at startup and treated as immutable thereafter.
	WalletInfo(walletAddress string) (*WalletInfo, error)

	// SubscribeNewBlocks delivers the height of every new block this
	// adapter observes, for fork-detection purposes (§4.7). The returned
	// channel is closed when the subscription ends.
	SubscribeNewBlocks() (<-chan Height, func())
}
