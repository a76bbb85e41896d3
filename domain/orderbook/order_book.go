package orderbook

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

// DefaultDepth is how many levels per side leave the process.
const DefaultDepth = 50

// OrderBook is a derived, per-asset snapshot. It is rebuilt from resting
// orders and replaced wholesale; nothing mutates a published book.
type OrderBook struct {
	AssetID      string           `json:"assetId"`
	CurrentPrice decimal.Decimal  `json:"currentPrice"`
	Spread       decimal.Decimal  `json:"spread"`
	BestBid      *decimal.Decimal `json:"bestBid,omitempty"`
	BestAsk      *decimal.Decimal `json:"bestAsk,omitempty"`
	Bids         []Level          `json:"bids"` // high -> low
	Asks         []Level          `json:"asks"` // low -> high
	LastUpdated  time.Time        `json:"lastUpdated"`
}

// Empty is the book of an asset that has never been rebuilt.
func Empty(assetID string, now time.Time) *OrderBook {
	return &OrderBook{
		AssetID:     assetID,
		Bids:        []Level{},
		Asks:        []Level{},
		LastUpdated: now,
	}
}

// Rebuild aggregates resting limit orders into price levels.
//
// It is a pure function of its input: orders are grouped on their exact
// 2-decimal price, bids sorted descending, asks ascending. currentPrice is
// carried through from the registry, never derived from the book.
func Rebuild(assetID string, currentPrice decimal.Decimal, resting []Order, now time.Time) *OrderBook {
	bids := btree.NewMap[int64, *Level](32)
	asks := btree.NewMap[int64, *Level](32)

	for i := range resting {
		o := &resting[i]
		if o.Kind != Limit || o.Status != Open || o.Price == nil || o.Quantity <= 0 {
			continue
		}
		tree := bids
		if o.Side == Ask {
			tree = asks
		}
		key := ticks(*o.Price)
		lvl, ok := tree.Get(key)
		if !ok {
			lvl = &Level{Price: o.Price.Round(2)}
			tree.Set(key, lvl)
		}
		lvl.add(o)
	}

	b := &OrderBook{
		AssetID:      assetID,
		CurrentPrice: currentPrice,
		Bids:         make([]Level, 0, bids.Len()),
		Asks:         make([]Level, 0, asks.Len()),
		LastUpdated:  now,
	}
	bids.Reverse(func(_ int64, l *Level) bool {
		l.seal()
		b.Bids = append(b.Bids, *l)
		return true
	})
	asks.Scan(func(_ int64, l *Level) bool {
		l.seal()
		b.Asks = append(b.Asks, *l)
		return true
	})

	if len(b.Bids) > 0 {
		p := b.Bids[0].Price
		b.BestBid = &p
	}
	if len(b.Asks) > 0 {
		p := b.Asks[0].Price
		b.BestAsk = &p
	}
	if b.BestBid != nil && b.BestAsk != nil {
		b.Spread = b.BestAsk.Sub(*b.BestBid).Round(2)
	}
	return b
}

// Top returns a deep copy capped to depth levels per side.
func (b *OrderBook) Top(depth int) *OrderBook {
	out := *b
	out.Bids = cloneLevels(b.Bids, depth)
	out.Asks = cloneLevels(b.Asks, depth)
	return &out
}

// Levels returns one side of the book in matching priority.
func (b *OrderBook) Levels(side Side) []Level {
	if side == Bid {
		return b.Bids
	}
	return b.Asks
}

// Quantities sums resting quantity per side.
func (b *OrderBook) Quantities() (bid, ask int64) {
	for _, l := range b.Bids {
		bid += l.Quantity
	}
	for _, l := range b.Asks {
		ask += l.Quantity
	}
	return bid, ask
}

func cloneLevels(in []Level, depth int) []Level {
	n := len(in)
	if depth > 0 && n > depth {
		n = depth
	}
	out := make([]Level, n)
	for i := 0; i < n; i++ {
		out[i] = in[i].clone()
	}
	return out
}

// ticks is the price in cents, the exact grouping key of a level.
func ticks(p decimal.Decimal) int64 {
	return p.Round(2).Shift(2).IntPart()
}
