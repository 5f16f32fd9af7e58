// Package intent decodes an inbound transfer's memo into a typed trading
// intent, per spec.md §4.1.
package intent

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dexbridge/node/internal/chain"
)

// Kind tags which case of the Intent union is populated.
type Kind uint8

const (
	KindLimit Kind = iota
	KindMarket
	KindClose
	KindInvalid
	KindOversized
	KindUndersized
	KindMoved
	KindDisabled
)

func (k Kind) String() string {
	switch k {
	case KindLimit:
		return "limit"
	case KindMarket:
		return "market"
	case KindClose:
		return "close"
	case KindInvalid:
		return "invalid"
	case KindOversized:
		return "oversized"
	case KindUndersized:
		return "undersized"
	case KindMoved:
		return "moved"
	case KindDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// MaxOrderAmount is the oversized-transfer cutoff, retained unchanged from
// spec.md §9's recommendation (2^53 - 1, the largest exactly-representable
// float64 integer, preserved for cross-node determinism with legacy peers).
const MaxOrderAmount uint64 = 1<<53 - 1

// Intent is the parsed form of one inbound transfer: a tagged union over
// the eight cases spec.md §3 lists. Every case shares the common fields
// below; only the fields relevant to Kind are populated.
type Intent struct {
	Kind Kind

	TransferID  chain.GlobalID
	SourceChain chain.ID
	SourceAddr  string
	Amount      uint64
	Height      chain.Height

	// KindLimit / KindMarket
	Price        decimal.Decimal // KindLimit only
	TargetWallet string

	// KindClose
	OrderIDToClose chain.GlobalID

	// KindInvalid
	Reason string

	// KindMoved
	ToAddress string
}

// OrderBook is the read-only view of the opposite side's best price the
// parser needs to evaluate a market order's convertibility.
type OrderBook interface {
	BestBidPrice() (decimal.Decimal, bool)
	BestAskPrice() (decimal.Decimal, bool)
}

// OrderLookup resolves an existing order for KindClose validation.
type OrderLookup interface {
	GetOrder(id chain.GlobalID) (sourceChain chain.ID, sourceWallet string, ok bool)
}

// Config is the subset of per-chain configuration the parser consults, all
// keyed by the transfer's own source chain unless noted.
type Config struct {
	// BaseChain is the ChainId designated base for this node instance; the
	// other supported chain is quote. Determines conversion direction and
	// which book side a limit/market intent is destined for.
	BaseChain       chain.ID
	SupportedChains map[chain.ID]struct{}
	MinOrderAmount  uint64
	// ExchangeFeeBase is keyed by chain: the target chain's minimum
	// convertible value.
	ExchangeFeeBase map[chain.ID]uint64
	DisabledFrom    map[chain.ID]chain.Height
	MovedToAddress  map[chain.ID]string
}

// Parse decodes one inbound transfer into an Intent, following the
// decision table of spec.md §4.1, evaluated in order (first match wins).
func Parse(cfg Config, xfer chain.Transfer, book OrderBook, orders OrderLookup) Intent {
	base := Intent{
		TransferID:  xfer.GlobalID(),
		SourceChain: xfer.Chain,
		SourceAddr:  xfer.SenderAddress,
		Amount:      xfer.Amount,
		Height:      xfer.Height,
	}

	if xfer.Amount > MaxOrderAmount {
		base.Kind = KindOversized
		return base
	}

	if disabledAt, ok := cfg.DisabledFrom[xfer.Chain]; ok && xfer.Height >= disabledAt {
		if to, ok := cfg.MovedToAddress[xfer.Chain]; ok && to != "" {
			base.Kind = KindMoved
			base.ToAddress = to
			return base
		}
		base.Kind = KindDisabled
		return base
	}

	fields := strings.Split(string(xfer.Memo), ",")
	field := func(i int) string {
		if i < len(fields) {
			return strings.TrimSpace(fields[i])
		}
		return ""
	}

	targetChain := chain.ID(field(0))
	if targetChain == "" || targetChain == xfer.Chain {
		base.Kind = KindInvalid
		base.Reason = "Invalid target chain"
		return base
	}
	if _, ok := cfg.SupportedChains[targetChain]; !ok {
		base.Kind = KindInvalid
		base.Reason = "Invalid target chain"
		return base
	}

	op := field(1)

	if (op == "limit" || op == "market") && xfer.Amount < cfg.MinOrderAmount {
		base.Kind = KindUndersized
		return base
	}

	sourceIsBase := xfer.Chain == cfg.BaseChain

	switch op {
	case "limit":
		return parseLimit(cfg, base, targetChain, sourceIsBase, field)
	case "market":
		return parseMarket(cfg, base, targetChain, sourceIsBase, field, book)
	case "close":
		return parseClose(base, field, orders)
	default:
		base.Kind = KindInvalid
		base.Reason = "Invalid operation"
		return base
	}
}

// convert applies the base<->quote conversion implied by price, flooring
// per spec.md §4.2. A base-sourced amount (bid, in base units) converts to
// its quote equivalent by division; a quote-sourced amount (ask, in quote
// units) converts to its base equivalent by multiplication.
func convert(amount uint64, price decimal.Decimal, sourceIsBase bool) uint64 {
	amt := decimal.NewFromInt(int64(amount))
	var out decimal.Decimal
	if sourceIsBase {
		out = amt.Div(price)
	} else {
		out = amt.Mul(price)
	}
	out = out.Truncate(0)
	if out.IsNegative() {
		return 0
	}
	return uint64(out.IntPart())
}

func parseLimit(cfg Config, base Intent, targetChain chain.ID, sourceIsBase bool, field func(int) string) Intent {
	priceStr := field(2)
	price, err := decimal.NewFromString(priceStr)
	if err != nil || !price.IsPositive() {
		base.Kind = KindInvalid
		base.Reason = "Invalid price"
		return base
	}
	wallet := field(3)
	if wallet == "" {
		base.Kind = KindInvalid
		base.Reason = "Invalid wallet address"
		return base
	}

	converted := convert(base.Amount, price, sourceIsBase)
	if converted <= cfg.ExchangeFeeBase[targetChain] {
		base.Kind = KindInvalid
		base.Reason = "Too small to convert"
		return base
	}

	base.Kind = KindLimit
	base.Price = price
	base.TargetWallet = wallet
	return base
}

func parseMarket(cfg Config, base Intent, targetChain chain.ID, sourceIsBase bool, field func(int) string, book OrderBook) Intent {
	wallet := field(2)
	if wallet == "" {
		base.Kind = KindInvalid
		base.Reason = "Invalid wallet address"
		return base
	}

	// A market order converts against the opposite book's best price at
	// parse time: a base-sourced (bid) intent checks the ask book, and
	// vice versa.
	var oppositePrice decimal.Decimal
	var ok bool
	if sourceIsBase {
		oppositePrice, ok = book.BestAskPrice()
	} else {
		oppositePrice, ok = book.BestBidPrice()
	}
	if !ok {
		base.Kind = KindInvalid
		base.Reason = "Too small to convert"
		return base
	}

	converted := convert(base.Amount, oppositePrice, sourceIsBase)
	if converted <= cfg.ExchangeFeeBase[targetChain] {
		base.Kind = KindInvalid
		base.Reason = "Too small to convert"
		return base
	}

	base.Kind = KindMarket
	base.TargetWallet = wallet
	return base
}

func parseClose(base Intent, field func(int) string, orders OrderLookup) Intent {
	target := field(2)
	if target == "" {
		base.Kind = KindInvalid
		base.Reason = "Invalid operation"
		return base
	}
	targetID := chain.GlobalID(target)
	srcChain, srcWallet, ok := orders.GetOrder(targetID)
	if !ok {
		base.Kind = KindInvalid
		base.Reason = "Invalid operation"
		return base
	}
	if srcChain != base.SourceChain || srcWallet != base.SourceAddr {
		base.Kind = KindInvalid
		base.Reason = "Invalid operation"
		return base
	}
	base.Kind = KindClose
	base.OrderIDToClose = targetID
	return base
}
