package store

import (
	"sort"
	"sync"
	"time"

	"github.com/tidwall/btree"

	"fracx/domain/errs"
	"fracx/domain/orderbook"
	"fracx/infra/sequence"
)

// OrderPatch lists the fields Update may change. A zero Status leaves the
// status untouched.
type OrderPatch struct {
	Status   orderbook.Status
	FilledAt *time.Time
}

type orderEntry struct {
	order orderbook.Order
	seq   uint64
}

// openKey orders the FIFO index: createdAt, then insertion sequence.
type openKey struct {
	createdAt int64
	seq       uint64
	id        string
}

func openLess(a, b openKey) bool {
	if a.createdAt != b.createdAt {
		return a.createdAt < b.createdAt
	}
	return a.seq < b.seq
}

// OrderLedger is the authoritative store of client orders.
//
// Every mutation runs under one lock, so updates to the same order id are
// serialized and Transition is a true compare-and-set.
type OrderLedger struct {
	mu     sync.RWMutex
	orders map[string]*orderEntry
	byUser map[string][]*orderEntry
	open   map[string]*btree.BTreeG[openKey] // assetID -> open limit orders
	seq    *sequence.Sequencer
}

func NewOrderLedger(seq *sequence.Sequencer) *OrderLedger {
	if seq == nil {
		seq = sequence.New(0)
	}
	return &OrderLedger{
		orders: make(map[string]*orderEntry),
		byUser: make(map[string][]*orderEntry),
		open:   make(map[string]*btree.BTreeG[openKey]),
		seq:    seq,
	}
}

func (l *OrderLedger) Add(o orderbook.Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.orders[o.ID]; ok {
		return errs.ErrDuplicate
	}
	e := &orderEntry{order: cloneOrder(o), seq: l.seq.Next()}
	l.orders[o.ID] = e
	l.byUser[o.UserID] = append(l.byUser[o.UserID], e)
	if isRestingLimit(&e.order) {
		l.index(e.order.AssetID).Set(keyOf(e))
	}
	return nil
}

func (l *OrderLedger) Get(id string) (orderbook.Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.orders[id]
	if !ok {
		return orderbook.Order{}, errs.ErrNotFound
	}
	return cloneOrder(e.order), nil
}

// Update merges patch into the order unconditionally.
func (l *OrderLedger) Update(id string, patch OrderPatch) (orderbook.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.orders[id]
	if !ok {
		return orderbook.Order{}, errs.ErrNotFound
	}
	l.apply(e, patch)
	return cloneOrder(e.order), nil
}

// Transition applies patch only if the order is currently in status from.
// The loser of a race gets errs.ErrStaleStatus.
func (l *OrderLedger) Transition(id string, from orderbook.Status, patch OrderPatch) (orderbook.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.orders[id]
	if !ok {
		return orderbook.Order{}, errs.ErrNotFound
	}
	if e.order.Status != from {
		return cloneOrder(e.order), errs.ErrStaleStatus
	}
	l.apply(e, patch)
	return cloneOrder(e.order), nil
}

// ListByUser returns every order of the user, newest first.
func (l *OrderLedger) ListByUser(userID string) []orderbook.Order {
	l.mu.RLock()
	entries := append([]*orderEntry(nil), l.byUser[userID]...)
	out := make([]orderbook.Order, 0, len(entries))
	sort.SliceStable(entries, func(i, j int) bool {
		return openLess(keyOf(entries[j]), keyOf(entries[i]))
	})
	for _, e := range entries {
		out = append(out, cloneOrder(e.order))
	}
	l.mu.RUnlock()
	return out
}

// ListOpenLimitOrders returns the asset's open limit orders, oldest first.
// limit <= 0 returns all of them.
func (l *OrderLedger) ListOpenLimitOrders(assetID string, limit int) []orderbook.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx, ok := l.open[assetID]
	if !ok {
		return nil
	}
	out := make([]orderbook.Order, 0, idx.Len())
	idx.Scan(func(k openKey) bool {
		out = append(out, cloneOrder(l.orders[k.id].order))
		return limit <= 0 || len(out) < limit
	})
	return out
}

// ListOpenByUserAndAsset returns the user's open orders on one asset,
// oldest first.
func (l *OrderLedger) ListOpenByUserAndAsset(userID, assetID string) []orderbook.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []orderbook.Order
	for _, e := range l.byUser[userID] {
		if e.order.AssetID == assetID && e.order.Status == orderbook.Open {
			out = append(out, cloneOrder(e.order))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (l *OrderLedger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.orders)
}

// ---- internal, caller holds l.mu ----

func (l *OrderLedger) apply(e *orderEntry, patch OrderPatch) {
	wasResting := isRestingLimit(&e.order)
	if patch.Status != "" {
		e.order.Status = patch.Status
	}
	if patch.FilledAt != nil {
		t := *patch.FilledAt
		e.order.FilledAt = &t
	}
	resting := isRestingLimit(&e.order)

	switch {
	case wasResting && !resting:
		l.index(e.order.AssetID).Delete(keyOf(e))
	case !wasResting && resting:
		l.index(e.order.AssetID).Set(keyOf(e))
	}
}

func (l *OrderLedger) index(assetID string) *btree.BTreeG[openKey] {
	idx, ok := l.open[assetID]
	if !ok {
		idx = btree.NewBTreeG(openLess)
		l.open[assetID] = idx
	}
	return idx
}

func keyOf(e *orderEntry) openKey {
	return openKey{createdAt: e.order.CreatedAt.UnixNano(), seq: e.seq, id: e.order.ID}
}

func isRestingLimit(o *orderbook.Order) bool {
	return o.Kind == orderbook.Limit && o.Status == orderbook.Open
}

func cloneOrder(o orderbook.Order) orderbook.Order {
	if o.Price != nil {
		p := *o.Price
		o.Price = &p
	}
	if o.FilledAt != nil {
		t := *o.FilledAt
		o.FilledAt = &t
	}
	return o
}
