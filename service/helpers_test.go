package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"fracx/domain/asset"
	"fracx/domain/event"
	"fracx/domain/orderbook"
	"fracx/infra/store"
	"fracx/snapshot"
)

type recorder struct {
	mu   sync.Mutex
	envs []event.Envelope
}

func (r *recorder) Publish(_ context.Context, envs ...event.Envelope) {
	r.mu.Lock()
	r.envs = append(r.envs, envs...)
	r.mu.Unlock()
}

func (r *recorder) names() []event.Name {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Name, len(r.envs))
	for i, e := range r.envs {
		out[i] = e.Event
	}
	return out
}

func (r *recorder) byName(n event.Name) []event.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Envelope
	for _, e := range r.envs {
		if e.Event == n {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.envs = nil
	r.mu.Unlock()
}

type harness struct {
	assets *asset.Registry
	orders *store.OrderLedger
	trades *store.TradeLedger
	books  *snapshot.Store
	engine *MatchingEngine
	svc    *OrderService
	pub    *recorder
	clock  time.Time
}

const time1ms = time.Millisecond

func itoa(n int) string { return strconv.Itoa(n) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)
	h := &harness{
		assets: asset.NewRegistry([]asset.Asset{
			{ID: "asset_100", Name: "Hundred", Category: asset.Collectibles, TotalShares: 100, AvailableShares: 100, CurrentPrice: dec("100")},
			{ID: "asset_050", Name: "Fifty", Category: asset.Vehicles, TotalShares: 100, AvailableShares: 100, CurrentPrice: dec("50")},
		}),
		orders: store.NewOrderLedger(nil),
		trades: store.NewTradeLedger(),
		books:  snapshot.NewStore(),
		pub:    &recorder{},
		clock:  time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	h.engine = NewMatchingEngine(h.assets, h.orders, h.trades, h.books, log)

	var ids atomic.Int64
	h.engine.newID = func() string { return fmt.Sprintf("id-%04d", ids.Add(1)) }
	var ticks atomic.Int64
	h.engine.now = func() time.Time { return h.clock.Add(time.Duration(ticks.Add(1)) * time.Millisecond) }

	h.svc = NewOrderService(h.engine, h.assets, h.orders, h.trades, h.books, h.pub, log)
	return h
}

// synthetic builds a resting market-maker order that is not in the ledger.
func synthetic(id, assetID string, side orderbook.Side, qty int64, price string, at time.Time) orderbook.Order {
	p := dec(price)
	return orderbook.Order{
		ID:        id,
		AssetID:   assetID,
		UserID:    orderbook.MarketMaker,
		Side:      side,
		Kind:      orderbook.Limit,
		Quantity:  qty,
		Price:     &p,
		Status:    orderbook.Open,
		CreatedAt: at,
	}
}

func (h *harness) putBook(assetID string, resting ...orderbook.Order) {
	price, _ := h.assets.CurrentPrice(assetID)
	h.books.Put(orderbook.Rebuild(assetID, price, resting, h.clock))
}

func (h *harness) newSimulator(t *testing.T, seed uint64) *Simulator {
	t.Helper()
	return NewSimulator(h.assets, h.orders, h.books, h.engine, h.pub, SimulatorConfig{
		Interval: 5 * time.Millisecond,
		Rand:     rand.New(rand.NewPCG(seed, seed+1)),
	}, zaptest.NewLogger(t))
}
