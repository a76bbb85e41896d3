package asset

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fracx/domain/errs"
)

// Registry owns the asset catalog and its mutable price state.
//
// It does not validate prices. Callers reject non-positive values before
// calling UpdatePrice.
type Registry struct {
	mu     sync.RWMutex
	assets map[string]*Asset
	now    func() time.Time
}

// NewRegistry seeds the registry with the given catalog. Each asset starts
// with a one-point history at its current price.
func NewRegistry(catalog []Asset) *Registry {
	r := &Registry{
		assets: make(map[string]*Asset, len(catalog)),
		now:    time.Now,
	}
	ts := r.now()
	for _, a := range catalog {
		a := a
		a.CurrentPrice = a.CurrentPrice.Round(2)
		if len(a.PriceHistory) == 0 {
			a.PriceHistory = []PricePoint{{Price: a.CurrentPrice, Timestamp: ts}}
		}
		r.assets[a.ID] = &a
	}
	return r
}

func (r *Registry) Get(id string) (Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.assets[id]
	if !ok {
		return Asset{}, errs.ErrNotFound
	}
	return a.clone(), nil
}

func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	_, ok := r.assets[id]
	r.mu.RUnlock()
	return ok
}

// List returns every asset ordered by id.
func (r *Registry) List() []Asset {
	r.mu.RLock()
	out := make([]Asset, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, a.clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CurrentPrice is a cheap read that skips copying the history.
func (r *Registry) CurrentPrice(id string) (decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.assets[id]
	if !ok {
		return decimal.Zero, errs.ErrNotFound
	}
	return a.CurrentPrice, nil
}

// UpdatePrice sets the current price and appends it to the history,
// keeping at most HistoryCap points.
func (r *Registry) UpdatePrice(id string, price decimal.Decimal) error {
	price = price.Round(2)

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.assets[id]
	if !ok {
		return errs.ErrNotFound
	}

	history := append(a.PriceHistory, PricePoint{Price: price, Timestamp: r.now()})
	if n := len(history); n > HistoryCap {
		// copy into a fresh slice so the dropped prefix can be collected
		trimmed := make([]PricePoint, HistoryCap)
		copy(trimmed, history[n-HistoryCap:])
		history = trimmed
	}

	a.CurrentPrice = price
	a.PriceHistory = history
	return nil
}

func (r *Registry) UpdateAvailableShares(id string, n int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.assets[id]
	if !ok {
		return errs.ErrNotFound
	}
	a.AvailableShares = n
	return nil
}

// PriceChange is the percent move of the current price against the oldest
// retained history point.
func (r *Registry) PriceChange(id string) (decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.assets[id]
	if !ok {
		return decimal.Zero, errs.ErrNotFound
	}
	if len(a.PriceHistory) < 2 {
		return decimal.Zero, nil
	}
	first := a.PriceHistory[0].Price
	if first.IsZero() {
		return decimal.Zero, nil
	}
	return a.CurrentPrice.Sub(first).Div(first).Mul(decimal.NewFromInt(100)).Round(2), nil
}
