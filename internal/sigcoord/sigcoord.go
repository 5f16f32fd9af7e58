// Package sigcoord implements the Signature Coordinator (spec.md §4.4):
// authoring outgoing multisig transactions, collecting and verifying peer
// signatures, rebroadcasting, and submitting once quorum is reached.
package sigcoord

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/decred/dcrd/crypto/blake256"
	"github.com/decred/dcrd/dcrec/secp256k1/v2"
	"github.com/decred/slog"

	"github.com/dexbridge/node/internal/bus"
	"github.com/dexbridge/node/internal/chain"
	"github.com/dexbridge/node/internal/registry"
	"github.com/dexbridge/node/internal/sched"
)

// settledTransfer is a completed outbound multisig payout retained just
// long enough for the dividend processor to attribute it to its signers.
type settledTransfer struct {
	TargetChain     chain.ID
	Amount          uint64
	Memo            string
	ConfirmedHeight chain.Height
	Contributors    []string
}

// Config carries the delays and identity the coordinator needs.
type Config struct {
	SignatureBroadcastDelay time.Duration // default 15s
	TransactionSubmitDelay  time.Duration // default 5s
	MemberAddress           string        // this node's member wallet address
	PublicKeyHex            string        // this node's signing pubkey
	BaseAddress             string        // subnet key: base chain wallet address
	QuoteAddress            string        // subnet key: quote chain wallet address
}

// Signer produces this node's signature over a transaction hash.
type Signer interface {
	Sign(hash []byte) (*secp256k1.Signature, error)
}

// Ledgers posts a fully-collected transaction to the target chain.
type Ledgers interface {
	PostTransaction(target chain.ID, txBytes []byte) (string, error)
	EncodeTransaction(tx registry.Transaction) []byte
}

// Wallets resolves the shared multisig wallet info per chain, loaded once
// at startup and treated as immutable (spec.md §3).
type Wallets interface {
	WalletInfo(c chain.ID) *chain.WalletInfo
}

// NewOutgoing describes the transaction authorOutgoing constructs.
type NewOutgoing struct {
	Amount    uint64
	Recipient string
	Height    chain.Height
	Timestamp int64
}

// Coordinator is the Signature Coordinator.
type Coordinator struct {
	log  slog.Logger
	cfg  Config
	reg  *registry.Registry
	bus  bus.Bus
	sign Signer
	led  Ledgers
	wal  Wallets
	sch  *sched.Scheduler

	settleMtx sync.Mutex
	settled   []settledTransfer
}

// New constructs a Coordinator.
func New(log slog.Logger, cfg Config, reg *registry.Registry, b bus.Bus, signer Signer, led Ledgers, wal Wallets, sch *sched.Scheduler) *Coordinator {
	c := &Coordinator{log: log, cfg: cfg, reg: reg, bus: b, sign: signer, led: led, wal: wal, sch: sch}
	b.OnSignature(c.onPeerSignatureEvent)
	return c
}

func txHash(tx registry.Transaction, enc func(registry.Transaction) []byte) [32]byte {
	unsigned := tx
	unsigned.Signatures = nil
	return blake256.Sum256(enc(unsigned))
}

// AuthorOutgoing builds a canonical transfer on targetChain, signs it with
// this node's key, registers it, and schedules the broadcast delay
// (spec.md §4.4).
func (c *Coordinator) AuthorOutgoing(id chain.GlobalID, targetChain chain.ID, out NewOutgoing, memo string) (*registry.PendingTransfer, error) {
	tx := registry.Transaction{
		TargetChain: targetChain,
		Recipient:   out.Recipient,
		Amount:      out.Amount,
		Memo:        memo,
	}
	hash := txHash(tx, c.led.EncodeTransaction)
	sig, err := c.sign.Sign(hash[:])
	if err != nil {
		return nil, fmt.Errorf("sigcoord: sign: %w", err)
	}
	ownSig := registry.Signature(hex.EncodeToString(sig.Serialize()))
	tx.Signatures = []registry.Signature{ownSig}

	entry := &registry.PendingTransfer{
		ID:                  id,
		Transaction:         tx,
		TargetChain:         targetChain,
		ProcessedSignatures: map[registry.Signature]struct{}{ownSig: {}},
		Contributors:        map[string]struct{}{c.cfg.PublicKeyHex: {}},
		PublicKey:           c.cfg.PublicKeyHex,
		OwnSignature:        ownSig,
		CreationHeight:      out.Height,
		InsertedAt:          nowMs(),
	}
	wi := c.wal.WalletInfo(targetChain)
	if wi != nil && len(tx.Signatures) >= wi.RequiredSignatureCount {
		entry.IsReady = true
	}
	c.reg.Put(id, entry)

	c.sch.After(c.cfg.SignatureBroadcastDelay, sched.Drop, func() {
		c.bus.EmitSignature(c.cfg.BaseAddress, c.cfg.QuoteAddress, bus.SignatureEvent{
			Signature:     string(ownSig),
			TransactionID: id,
			PublicKey:     c.cfg.PublicKeyHex,
		})
	})

	return entry, nil
}

func (c *Coordinator) onPeerSignatureEvent(ev bus.SignatureEvent) {
	if err := c.OnPeerSignature(ev.TransactionID, registry.Signature(ev.Signature), ev.PublicKey); err != nil {
		c.log.Debugf("sigcoord: dropped peer signature for %s: %v", ev.TransactionID, err)
	}
}

// OnPeerSignature processes an incoming peer signature (spec.md §4.4).
// Verification failure is a normal negative outcome, never an error the
// caller need surface (spec.md §7); the returned error is purely
// informational for logging.
func (c *Coordinator) OnPeerSignature(txID chain.GlobalID, sig registry.Signature, pubKeyHex string) error {
	entry, ok := c.reg.Get(txID)
	if !ok {
		return fmt.Errorf("unknown transaction")
	}
	if _, dup := entry.ProcessedSignatures[sig]; dup {
		return fmt.Errorf("duplicate signature")
	}

	wi := c.wal.WalletInfo(entry.TargetChain)
	if wi == nil || !wi.IsMember(pubKeyHex) {
		return fmt.Errorf("signer is not a member")
	}
	if !verifySignature(entry.Transaction, sig, pubKeyHex, c.led.EncodeTransaction) {
		return fmt.Errorf("invalid signature")
	}

	entry.Transaction.Signatures = append(entry.Transaction.Signatures, sig)
	entry.ProcessedSignatures[sig] = struct{}{}
	entry.Contributors[pubKeyHex] = struct{}{}

	quota := len(entry.Transaction.Signatures) - wi.RequiredSignatureCount
	entry.IsReady = quota >= 0

	c.bus.EmitSignature(c.cfg.BaseAddress, c.cfg.QuoteAddress, bus.SignatureEvent{
		Signature:     string(sig),
		TransactionID: txID,
		PublicKey:     pubKeyHex,
	})

	if quota == 0 {
		c.sch.After(c.cfg.TransactionSubmitDelay, sched.Drain, func() {
			c.submit(txID)
		})
	}
	return nil
}

func (c *Coordinator) submit(txID chain.GlobalID) {
	entry, ok := c.reg.Get(txID)
	if !ok || !entry.IsReady {
		return
	}
	txBytes := c.led.EncodeTransaction(entry.Transaction)
	if _, err := c.led.PostTransaction(entry.TargetChain, txBytes); err != nil {
		c.log.Errorf("sigcoord: submit %s failed: %v", txID, err)
	}
}

// RebroadcastSweep re-broadcasts every pending transfer targeting chain
// whose age is strictly within (rebroadcastAfterHeight,
// rebroadcastUntilHeight): the transaction itself if ready, else this
// node's own signature (spec.md §4.4).
func (c *Coordinator) RebroadcastSweep(target chain.ID, currentSafeHeight chain.Height, afterHeight, untilHeight chain.Height) {
	for _, entry := range c.reg.Values() {
		if entry.TargetChain != target {
			continue
		}
		age := currentSafeHeight - entry.CreationHeight
		if !(age > afterHeight && age < untilHeight) {
			continue
		}
		if entry.IsReady {
			txBytes := c.led.EncodeTransaction(entry.Transaction)
			if _, err := c.led.PostTransaction(entry.TargetChain, txBytes); err != nil {
				c.log.Debugf("sigcoord: rebroadcast submit %s failed: %v", entry.ID, err)
			}
			continue
		}
		c.bus.EmitSignature(c.cfg.BaseAddress, c.cfg.QuoteAddress, bus.SignatureEvent{
			Signature:     string(entry.OwnSignature),
			TransactionID: entry.ID,
			PublicKey:     c.cfg.PublicKeyHex,
		})
	}
}

// ObserveOutbound removes the registry entry matching an on-chain-confirmed
// outbound transfer (spec.md §4.4 Removal), retaining its contributor set
// in the settlement log for the dividend processor to tally later.
func (c *Coordinator) ObserveOutbound(id chain.GlobalID, confirmedHeight chain.Height) {
	entry, ok := c.reg.Get(id)
	c.reg.Remove(id)
	if !ok {
		return
	}
	contributors := make([]string, 0, len(entry.Contributors))
	for pk := range entry.Contributors {
		contributors = append(contributors, pk)
	}
	c.settleMtx.Lock()
	c.settled = append(c.settled, settledTransfer{
		TargetChain:     entry.TargetChain,
		Amount:          entry.Transaction.Amount,
		Memo:            entry.Transaction.Memo,
		ConfirmedHeight: confirmedHeight,
		Contributors:    contributors,
	})
	c.settleMtx.Unlock()
}

// Contributions tallies, for trade-transfer outbound transactions (memo
// begins with "t") confirmed in (fromHeight, toHeight] on target, each
// contributing member's share of amountBeforeFee, attributing the full
// amount to every signer of that transfer (spec.md §4.9). Refund, expiry,
// close, and dividend payouts carry other memo prefixes and are excluded,
// since only trade settlements feed the dividend pool. Entries confirmed at
// or below fromHeight are pruned as a side effect, since dividend jobs scan
// strictly increasing height ranges.
func (c *Coordinator) Contributions(target chain.ID, fromHeight, toHeight chain.Height, exchangeFeeRate float64) map[string]uint64 {
	c.settleMtx.Lock()
	defer c.settleMtx.Unlock()

	tally := make(map[string]uint64)
	kept := c.settled[:0]
	for _, s := range c.settled {
		if s.ConfirmedHeight <= fromHeight {
			continue // prune: older than any future scan will ever need
		}
		kept = append(kept, s)
		if s.TargetChain != target || s.ConfirmedHeight > toHeight || !strings.HasPrefix(s.Memo, "t") {
			continue
		}
		amountBeforeFee := grossBeforeFee(s.Amount, exchangeFeeRate)
		for _, pk := range s.Contributors {
			tally[pk] += amountBeforeFee
		}
	}
	c.settled = kept
	return tally
}

func grossBeforeFee(amount uint64, rate float64) uint64 {
	if rate >= 1 {
		return amount
	}
	v := float64(amount) / (1 - rate)
	if v < 0 {
		return 0
	}
	return uint64(v)
}

func verifySignature(tx registry.Transaction, sig registry.Signature, pubKeyHex string, enc func(registry.Transaction) []byte) bool {
	pkBytes, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false
	}
	pubKey, err := secp256k1.ParsePubKey(pkBytes)
	if err != nil {
		return false
	}
	sigBytes, err := hex.DecodeString(string(sig))
	if err != nil {
		return false
	}
	parsedSig, err := secp256k1.ParseSignature(sigBytes)
	if err != nil {
		return false
	}
	hash := txHash(tx, enc)
	return parsedSig.Verify(hash[:], pubKey)
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
