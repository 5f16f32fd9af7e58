// Package bus defines the P2P message bus contract the Signature
// Coordinator and fork watcher consume (spec.md §6): scoped signature
// broadcast and per-chain block-change subscriptions.
package bus

import "github.com/dexbridge/node/internal/chain"

// SignatureEvent is the payload of a "<module>:signature" network event.
type SignatureEvent struct {
	Signature     string
	TransactionID chain.GlobalID
	PublicKey     string
}

// Bus is the P2P transport the coordinator core treats as a black-box
// collaborator, matching dcrdex's comms.Server.Broadcast shape but scoped
// to a (base, quote) subnet as spec.md §6 requires.
type Bus interface {
	// EmitSignature broadcasts a signature to every peer sharing the given
	// (baseAddress, quoteAddress) subnet.
	EmitSignature(baseAddress, quoteAddress string, ev SignatureEvent) error

	// OnSignature registers a handler for incoming peer signature events.
	OnSignature(handler func(SignatureEvent))

	// OnBlocksChange registers a handler for a chain's
	// "<module>:blocks:change" fork-detection notifications, delivering the
	// newly observed height.
	OnBlocksChange(chainModuleAlias string, handler func(height chain.Height))
}
