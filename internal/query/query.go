// Package query implements the read-only Query API (spec.md §6): cursor-
// paginated views over the order book and pending transfer registry,
// grounded on the teacher's own read-model layer (server/apidata); each
// view returns a typed page and an error.
package query

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dexbridge/node/internal/book"
	"github.com/dexbridge/node/internal/chain"
	"github.com/dexbridge/node/internal/registry"
)

// InvalidQueryError reports a caller error: a bad cursor, an over-limit
// page size, or too many filter fields.
type InvalidQueryError struct {
	Reason string
}

func (e *InvalidQueryError) Error() string { return "query: invalid query: " + e.Reason }

// Config carries the pagination limits spec.md §6 names.
type Config struct {
	DefaultPageLimit int // apiDefaultPageLimit
	MaxPageLimit     int // apiMaxPageLimit
	MaxFilterFields  int // apiMaxFilterFields
}

func (c Config) resolveLimit(requested int) (int, error) {
	if requested == 0 {
		return c.DefaultPageLimit, nil
	}
	if requested < 0 || requested > c.MaxPageLimit {
		return 0, &InvalidQueryError{Reason: fmt.Sprintf("page limit must be between 1 and %d", c.MaxPageLimit)}
	}
	return requested, nil
}

// Engine is the subset of book.Engine the API reads.
type Engine interface {
	GetBidIterator() []*book.Order
	GetAskIterator() []*book.Order
	BestBidPrice() (decimal.Decimal, bool)
	BestAskPrice() (decimal.Decimal, bool)
}

// Registry is the subset of registry.Registry the API reads.
type Registry interface {
	Values() []*registry.PendingTransfer
}

// API is the query surface a node exposes to clients.
type API struct {
	cfg  Config
	book Engine
	reg  Registry
}

// New constructs an API.
func New(cfg Config, book Engine, reg Registry) *API {
	return &API{cfg: cfg, book: book, reg: reg}
}

// MarketSummary is the response shape of GetMarket.
type MarketSummary struct {
	BestBid  decimal.Decimal `json:"bestBid,omitempty"`
	HasBid   bool            `json:"hasBid"`
	BestAsk  decimal.Decimal `json:"bestAsk,omitempty"`
	HasAsk   bool            `json:"hasAsk"`
	BidCount int             `json:"bidCount"`
	AskCount int             `json:"askCount"`
}

// GetMarket returns the current best-of-book summary.
func (a *API) GetMarket() MarketSummary {
	bids := a.book.GetBidIterator()
	asks := a.book.GetAskIterator()
	summary := MarketSummary{BidCount: len(bids), AskCount: len(asks)}
	summary.BestBid, summary.HasBid = a.book.BestBidPrice()
	summary.BestAsk, summary.HasAsk = a.book.BestAskPrice()
	return summary
}

// Page is one cursor-paginated result.
type Page struct {
	Orders     []*book.Order
	NextCursor chain.GlobalID
	HasMore    bool
}

// GetBids returns a page of resting bid orders, price-descending /
// time-ascending, resuming after cursor if given.
func (a *API) GetBids(cursor chain.GlobalID, limit int) (Page, error) {
	return a.paginateOrders(a.book.GetBidIterator(), cursor, limit)
}

// GetAsks returns a page of resting ask orders, price-ascending /
// time-ascending, resuming after cursor if given.
func (a *API) GetAsks(cursor chain.GlobalID, limit int) (Page, error) {
	return a.paginateOrders(a.book.GetAskIterator(), cursor, limit)
}

// OrderFilter narrows GetOrders to a wallet's own orders. spec.md §6 caps
// the number of filter fields a caller may set at once.
type OrderFilter struct {
	SourceChain         chain.ID
	SourceWalletAddress string
}

func (f OrderFilter) fieldCount() int {
	n := 0
	if f.SourceChain != "" {
		n++
	}
	if f.SourceWalletAddress != "" {
		n++
	}
	return n
}

// GetOrders returns a page of resting orders (bids then asks) matching
// filter, resuming after cursor if given.
func (a *API) GetOrders(filter OrderFilter, cursor chain.GlobalID, limit int) (Page, error) {
	if filter.fieldCount() > a.cfg.MaxFilterFields {
		return Page{}, &InvalidQueryError{Reason: fmt.Sprintf("at most %d filter fields allowed", a.cfg.MaxFilterFields)}
	}
	all := append(a.book.GetBidIterator(), a.book.GetAskIterator()...)
	filtered := all[:0]
	for _, o := range all {
		if filter.SourceChain != "" && o.SourceChain != filter.SourceChain {
			continue
		}
		if filter.SourceWalletAddress != "" && o.SourceWalletAddress != filter.SourceWalletAddress {
			continue
		}
		filtered = append(filtered, o)
	}
	return a.paginateOrders(filtered, cursor, limit)
}

func (a *API) paginateOrders(orders []*book.Order, cursor chain.GlobalID, limit int) (Page, error) {
	limit, err := a.cfg.resolveLimit(limit)
	if err != nil {
		return Page{}, err
	}

	start := 0
	if cursor != "" {
		idx := indexOfOrder(orders, cursor)
		if idx < 0 {
			return Page{}, &InvalidQueryError{Reason: "cursor not found"}
		}
		start = idx + 1
	}
	if start > len(orders) {
		start = len(orders)
	}
	end := start + limit
	hasMore := end < len(orders)
	if end > len(orders) {
		end = len(orders)
	}
	page := orders[start:end]
	var next chain.GlobalID
	if len(page) > 0 {
		next = page[len(page)-1].ID
	}
	return Page{Orders: page, NextCursor: next, HasMore: hasMore}, nil
}

func indexOfOrder(orders []*book.Order, id chain.GlobalID) int {
	for i, o := range orders {
		if o.ID == id {
			return i
		}
	}
	return -1
}

// TransferPage is one cursor-paginated pending-transfer result.
type TransferPage struct {
	Transfers  []*registry.PendingTransfer
	NextCursor chain.GlobalID
	HasMore    bool
}

// GetPendingTransfers returns a page of pending transfers, insertion-order,
// resuming after cursor if given.
func (a *API) GetPendingTransfers(cursor chain.GlobalID, limit int) (TransferPage, error) {
	limit, err := a.cfg.resolveLimit(limit)
	if err != nil {
		return TransferPage{}, err
	}
	all := a.reg.Values()

	start := 0
	if cursor != "" {
		idx := -1
		for i, t := range all {
			if t.ID == cursor {
				idx = i
				break
			}
		}
		if idx < 0 {
			return TransferPage{}, &InvalidQueryError{Reason: "cursor not found"}
		}
		start = idx + 1
	}
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	hasMore := end < len(all)
	if end > len(all) {
		end = len(all)
	}
	page := all[start:end]
	var next chain.GlobalID
	if len(page) > 0 {
		next = page[len(page)-1].ID
	}
	return TransferPage{Transfers: page, NextCursor: next, HasMore: hasMore}, nil
}
