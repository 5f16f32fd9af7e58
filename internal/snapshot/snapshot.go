// Package snapshot implements the Snapshot Store (spec.md §4.8): periodic,
// atomic on-disk checkpoints of the order book plus the interleaver's
// per-chain resume cursor, so a restart never has to replay the whole
// chain history.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/dexbridge/node/internal/book"
	"github.com/dexbridge/node/internal/chain"
)

// Stamped is a book snapshot plus the cursor state needed to resume the
// interleaver from the height it was taken at.
type Stamped struct {
	Snapshot     book.Snapshot
	ChainHeights map[chain.ID]chain.Height
	CoveredFrom  chain.Height // base-chain height this snapshot covers up to
	Timestamp    int64        // base-chain block timestamp at CoveredFrom
}

// wireOrder is the on-disk shape of one resting order. Older snapshot
// generations stored bid orders as {orderId, size}; the current format
// uses {id, value} for bids to match spec.md §3's OrderBookSnapshot shape.
// loadWireOrder rewrites the legacy shape transparently on read.
type wireOrder struct {
	ID                  chain.GlobalID  `json:"id"`
	OrderID             chain.GlobalID  `json:"orderId,omitempty"` // legacy bid key
	Side                string          `json:"side"`
	SourceChain         chain.ID        `json:"sourceChain"`
	SourceWalletAddress string          `json:"sourceWalletAddress"`
	TargetChain         chain.ID        `json:"targetChain"`
	TargetWalletAddress string          `json:"targetWalletAddress"`
	Height              chain.Height    `json:"height"`
	ExpiryHeight        chain.Height    `json:"expiryHeight"`
	IsMarket            bool            `json:"isMarket"`
	Price               string          `json:"price"`
	Value               uint64          `json:"value,omitempty"`
	ValueRemaining      uint64          `json:"valueRemaining,omitempty"`
	Size                uint64          `json:"size,omitempty"`
	SizeRemaining       uint64          `json:"sizeRemaining,omitempty"`
}

type wireFile struct {
	BidOrders    []wireOrder         `json:"bidLimitOrders"`
	AskOrders    []wireOrder         `json:"askLimitOrders"`
	ChainHeights map[chain.ID]uint64 `json:"chainHeights"`
	CoveredFrom  chain.Height        `json:"coveredFrom"`
	Timestamp    int64               `json:"timestamp"`
}

// Config carries the store's on-disk layout tunables.
type Config struct {
	Dir      string
	MaxCount int // ring size for numbered backups; 0 selects the default of 200
}

// Store persists Stamped snapshots under Dir, keeping a "current.json"
// pointer file plus a bounded ring of "snapshot-<height>.json" backups.
type Store struct {
	mtx sync.Mutex
	cfg Config
}

// New constructs a Store. MaxCount defaults to 200 (spec.md §4.8) when 0.
func New(cfg Config) *Store {
	if cfg.MaxCount == 0 {
		cfg.MaxCount = 200
	}
	return &Store{cfg: cfg}
}

func (s *Store) currentPath() string {
	return filepath.Join(s.cfg.Dir, "current.json")
}

func (s *Store) backupPath(h chain.Height) string {
	return filepath.Join(s.cfg.Dir, fmt.Sprintf("snapshot-%d.json", h))
}

// Save writes st as the new current snapshot and rotates a numbered backup
// into the ring, atomically (temp file + rename, per file).
func (s *Store) Save(st Stamped) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: mkdir: %w", err)
	}
	data, err := json.Marshal(toWire(st))
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}

	if err := atomicWrite(s.currentPath(), data); err != nil {
		return err
	}
	if s.cfg.MaxCount > 0 {
		if err := atomicWrite(s.backupPath(st.CoveredFrom), data); err != nil {
			return err
		}
		s.pruneRing()
	}
	return nil
}

// Load reads the current snapshot, if any exists.
func (s *Store) Load() (*Stamped, bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	data, err := os.ReadFile(s.currentPath())
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("snapshot: read: %w", err)
	}
	var wf wireFile
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, false, fmt.Errorf("snapshot: unmarshal: %w", err)
	}
	st, err := fromWire(wf)
	if err != nil {
		return nil, false, err
	}
	return st, true, nil
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("snapshot: rename %s: %w", path, err)
	}
	return nil
}

// pruneRing keeps only the MaxCount most recent numbered backups; must be
// called with mtx held.
func (s *Store) pruneRing() {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return
	}
	var heights []chain.Height
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "snapshot-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		numStr := strings.TrimSuffix(strings.TrimPrefix(name, "snapshot-"), ".json")
		n, err := strconv.ParseUint(numStr, 10, 64)
		if err != nil {
			continue
		}
		heights = append(heights, chain.Height(n))
	}
	if len(heights) <= s.cfg.MaxCount {
		return
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	for _, h := range heights[:len(heights)-s.cfg.MaxCount] {
		os.Remove(s.backupPath(h))
	}
}

func toWire(st Stamped) wireFile {
	heights := make(map[chain.ID]uint64, len(st.ChainHeights))
	for c, h := range st.ChainHeights {
		heights[c] = uint64(h)
	}
	wf := wireFile{ChainHeights: heights, CoveredFrom: st.CoveredFrom, Timestamp: st.Timestamp}
	for _, o := range st.Snapshot.BidLimitOrders {
		wf.BidOrders = append(wf.BidOrders, orderToWire(o))
	}
	for _, o := range st.Snapshot.AskLimitOrders {
		wf.AskOrders = append(wf.AskOrders, orderToWire(o))
	}
	return wf
}

func orderToWire(o *book.Order) wireOrder {
	side := "bid"
	if o.Side == book.Ask {
		side = "ask"
	}
	return wireOrder{
		ID:                  o.ID,
		Side:                side,
		SourceChain:         o.SourceChain,
		SourceWalletAddress: o.SourceWalletAddress,
		TargetChain:         o.TargetChain,
		TargetWalletAddress: o.TargetWalletAddress,
		Height:              o.Height,
		ExpiryHeight:        o.ExpiryHeight,
		IsMarket:            o.IsMarket,
		Price:               o.Price.String(),
		Value:               o.Value,
		ValueRemaining:      o.ValueRemaining,
		Size:                o.Size,
		SizeRemaining:       o.SizeRemaining,
	}
}

func fromWire(wf wireFile) (*Stamped, error) {
	heights := make(map[chain.ID]chain.Height, len(wf.ChainHeights))
	for c, h := range wf.ChainHeights {
		heights[c] = chain.Height(h)
	}
	st := &Stamped{ChainHeights: heights, CoveredFrom: wf.CoveredFrom, Timestamp: wf.Timestamp}
	for _, w := range wf.BidOrders {
		o, err := orderFromWire(w, book.Bid)
		if err != nil {
			return nil, err
		}
		st.Snapshot.BidLimitOrders = append(st.Snapshot.BidLimitOrders, o)
	}
	for _, w := range wf.AskOrders {
		o, err := orderFromWire(w, book.Ask)
		if err != nil {
			return nil, err
		}
		st.Snapshot.AskLimitOrders = append(st.Snapshot.AskLimitOrders, o)
	}
	return st, nil
}

func orderFromWire(w wireOrder, side book.Side) (*book.Order, error) {
	id := w.ID
	if id == "" {
		// Legacy generation keyed bid orders by "orderId" instead of "id".
		id = w.OrderID
	}
	price, err := parsePrice(w.Price)
	if err != nil {
		return nil, fmt.Errorf("snapshot: order %s: %w", id, err)
	}
	value, valueRemaining := w.Value, w.ValueRemaining
	if side == book.Bid && value == 0 && w.Size > 0 {
		// Legacy generation stored bid quantity as "size" (quote units);
		// the current format stores it as "value" (base units).
		value = deriveLegacyValue(w.Size, price)
		valueRemaining = value
	}
	return &book.Order{
		ID:                  id,
		Side:                side,
		SourceChain:         w.SourceChain,
		SourceWalletAddress: w.SourceWalletAddress,
		TargetChain:         w.TargetChain,
		TargetWalletAddress: w.TargetWalletAddress,
		Height:              w.Height,
		ExpiryHeight:        w.ExpiryHeight,
		IsMarket:            w.IsMarket,
		Price:               price,
		Value:               value,
		ValueRemaining:      valueRemaining,
		Size:                w.Size,
		SizeRemaining:       w.SizeRemaining,
	}, nil
}

func parsePrice(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// deriveLegacyValue converts a legacy bid's quote-unit "size" into the
// current format's base-unit "value" (spec.md §4.2's quote->base
// conversion, floored).
func deriveLegacyValue(size uint64, price decimal.Decimal) uint64 {
	if price.IsZero() {
		return 0
	}
	v := decimal.NewFromInt(int64(size)).Mul(price).Truncate(0)
	if v.IsNegative() {
		return 0
	}
	return v.BigInt().Uint64()
}
