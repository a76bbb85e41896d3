package store

import (
	"sync"

	"fracx/domain/errs"
	"fracx/domain/orderbook"
)

const defaultRecent = 50

// TradeLedger is append-only. Trades are never updated or removed.
type TradeLedger struct {
	mu      sync.RWMutex
	trades  []orderbook.Trade
	byAsset map[string][]int
	ids     map[string]struct{}
}

func NewTradeLedger() *TradeLedger {
	return &TradeLedger{
		byAsset: make(map[string][]int),
		ids:     make(map[string]struct{}),
	}
}

func (l *TradeLedger) Add(t orderbook.Trade) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.ids[t.ID]; ok {
		return errs.ErrDuplicate
	}
	l.ids[t.ID] = struct{}{}
	l.byAsset[t.AssetID] = append(l.byAsset[t.AssetID], len(l.trades))
	l.trades = append(l.trades, t)
	return nil
}

// ListByAsset returns the asset's trades in append order.
func (l *TradeLedger) ListByAsset(assetID string) []orderbook.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx := l.byAsset[assetID]
	out := make([]orderbook.Trade, len(idx))
	for i, j := range idx {
		out[i] = l.trades[j]
	}
	return out
}

// Recent returns the last limit appended trades, oldest of them first.
func (l *TradeLedger) Recent(limit int) []orderbook.Trade {
	if limit <= 0 {
		limit = defaultRecent
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	start := len(l.trades) - limit
	if start < 0 {
		start = 0
	}
	out := make([]orderbook.Trade, len(l.trades)-start)
	copy(out, l.trades[start:])
	return out
}

func (l *TradeLedger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.trades)
}
