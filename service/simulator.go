package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fracx/domain/asset"
	"fracx/domain/errs"
	"fracx/domain/event"
	"fracx/domain/orderbook"
	"fracx/infra/metrics"
	"fracx/infra/store"
	"fracx/snapshot"
)

const (
	seedMin, seedMax       = 5, 10 // synthetic orders per side on start
	actionsMin, actionsMax = 1, 3  // synthetic actions per asset per tick
	addProbability         = 0.7
	qtyMin, qtyMax         = 1, 50
	offsetMin, offsetMax   = 0.05, 0.15 // distance from current price

	fillCandidates  = 10
	fillProbability = 0.05
)

var (
	driftCap       = decimal.RequireFromString("0.005")
	driftSmoothing = decimal.RequireFromString("0.3")
)

type SimulatorConfig struct {
	Interval time.Duration
	Depth    int
	Rand     *rand.Rand // nil seeds from the clock
}

// Simulator drives the synthetic market. Each tick runs four phases in
// order: synthesize order flow, drift prices, fill resting client limit
// orders, rebuild and publish books. Ticks never overlap.
//
// Synthetic orders belong to orderbook.MarketMaker and live only in the
// per-asset pools here; they are never written to the order ledger.
type Simulator struct {
	assets *asset.Registry
	orders *store.OrderLedger
	books  *snapshot.Store
	engine *MatchingEngine
	pub    event.Publisher
	log    *zap.Logger

	interval time.Duration
	depth    int

	mu    sync.Mutex // serializes ticks; guards rng and pools
	rng   *rand.Rand
	pools map[string][]orderbook.Order
	now   func() time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSimulator(
	assets *asset.Registry,
	orders *store.OrderLedger,
	books *snapshot.Store,
	engine *MatchingEngine,
	pub event.Publisher,
	cfg SimulatorConfig,
	log *zap.Logger,
) *Simulator {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if cfg.Depth <= 0 {
		cfg.Depth = orderbook.DefaultDepth
	}
	if cfg.Rand == nil {
		seed := uint64(time.Now().UnixNano())
		cfg.Rand = rand.New(rand.NewPCG(seed, seed>>1))
	}
	return &Simulator{
		assets:   assets,
		orders:   orders,
		books:    books,
		engine:   engine,
		pub:      pub,
		log:      log.Named("simulator"),
		interval: cfg.Interval,
		depth:    cfg.Depth,
		rng:      cfg.Rand,
		pools:    make(map[string][]orderbook.Order),
		now:      time.Now,
	}
}

// Start seeds every asset's pool, publishes the first books and begins
// ticking. It returns errs.ErrAlreadyRunning if the simulator is running.
// The loop outlives ctx's cancellation and ends only on Stop.
func (s *Simulator) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.cancel != nil {
		return errs.ErrAlreadyRunning
	}

	s.mu.Lock()
	s.seed()
	s.rebuild(ctx)
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	s.cancel, s.done = cancel, done

	go func() {
		defer close(done)
		Loop(runCtx, s.interval, s.Tick)
	}()

	s.log.Info("started", zap.Duration("interval", s.interval))
	return nil
}

// Stop cancels the tick loop and waits for an in-flight tick to finish.
// Stopping a stopped simulator is a no-op.
func (s *Simulator) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel, s.done = nil, nil
	s.log.Info("stopped")
}

func (s *Simulator) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.cancel != nil
}

// Tick runs one full cycle synchronously.
func (s *Simulator) Tick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	assets := s.assets.List()

	for _, a := range assets {
		s.guard(a.ID, "synthesize", func() error {
			s.synthesize(a.ID, a.CurrentPrice)
			return nil
		})
	}

	var prices event.Batch
	for _, a := range assets {
		s.guard(a.ID, "drift", func() error {
			env, changed, err := s.drift(a.ID, a.CurrentPrice)
			if changed {
				prices.Add(env)
			}
			return err
		})
	}
	prices.Flush(ctx, s.pub)

	for _, a := range assets {
		s.guard(a.ID, "fill", func() error {
			return s.fillSome(ctx, a.ID)
		})
	}

	s.rebuild(ctx)

	metrics.Ticks.Inc()
	metrics.TickDuration.Observe(time.Since(start).Seconds())
}

// Pool returns a copy of the asset's synthetic orders.
func (s *Simulator) Pool(assetID string) []orderbook.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.pools[assetID])
}

// ---- phases, caller holds s.mu ----

func (s *Simulator) seed() {
	for _, a := range s.assets.List() {
		pool := make([]orderbook.Order, 0, 2*seedMax)
		for _, side := range []orderbook.Side{orderbook.Bid, orderbook.Ask} {
			n := seedMin + s.rng.IntN(seedMax-seedMin+1)
			for range n {
				if o, ok := s.syntheticOrder(a.ID, side, a.CurrentPrice); ok {
					pool = append(pool, o)
				}
			}
		}
		s.pools[a.ID] = pool
	}
}

func (s *Simulator) synthesize(assetID string, price decimal.Decimal) {
	n := actionsMin + s.rng.IntN(actionsMax-actionsMin+1)
	for range n {
		side := orderbook.Bid
		if s.rng.IntN(2) == 1 {
			side = orderbook.Ask
		}
		if s.rng.Float64() < addProbability {
			if o, ok := s.syntheticOrder(assetID, side, price); ok {
				s.pools[assetID] = append(s.pools[assetID], o)
			}
			continue
		}
		s.removeRandom(assetID, side)
	}
}

func (s *Simulator) syntheticOrder(assetID string, side orderbook.Side, current decimal.Decimal) (orderbook.Order, bool) {
	offset := decimal.NewFromFloat(offsetMin + s.rng.Float64()*(offsetMax-offsetMin))
	factor := decimal.NewFromInt(1).Add(offset)
	if side == orderbook.Bid {
		factor = decimal.NewFromInt(1).Sub(offset)
	}
	price := current.Mul(factor).Round(2)
	if !price.IsPositive() {
		return orderbook.Order{}, false
	}
	return orderbook.Order{
		ID:        "sim-" + uuid.NewString(),
		AssetID:   assetID,
		UserID:    orderbook.MarketMaker,
		Side:      side,
		Kind:      orderbook.Limit,
		Quantity:  int64(qtyMin + s.rng.IntN(qtyMax-qtyMin+1)),
		Price:     &price,
		Status:    orderbook.Open,
		CreatedAt: s.now(),
	}, true
}

func (s *Simulator) removeRandom(assetID string, side orderbook.Side) {
	pool := s.pools[assetID]
	var idx []int
	for i := range pool {
		if pool[i].Side == side {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return
	}
	victim := idx[s.rng.IntN(len(idx))]
	s.pools[assetID] = slices.Delete(pool, victim, victim+1)
}

func (s *Simulator) drift(assetID string, price decimal.Decimal) (event.Envelope, bool, error) {
	var qbid, qask int64
	for _, o := range s.resting(assetID) {
		if o.Side == orderbook.Bid {
			qbid += o.Quantity
		} else {
			qask += o.Quantity
		}
	}
	next, ok := driftPrice(price, qbid, qask)
	if !ok {
		return event.Envelope{}, false, nil
	}
	if err := s.assets.UpdatePrice(assetID, next); err != nil {
		return event.Envelope{}, false, err
	}
	return event.Price(assetID, next, s.now()), true, nil
}

// driftPrice moves price toward the heavier side of the book by at most
// price × 0.005 × 0.3. ok is false when the price would not change or
// would become non-positive.
func driftPrice(price decimal.Decimal, qbid, qask int64) (decimal.Decimal, bool) {
	if qbid+qask <= 0 {
		return price, false
	}
	imbalance := decimal.NewFromInt(qbid - qask).Div(decimal.NewFromInt(qbid + qask))
	delta := price.Mul(imbalance).Mul(driftCap).Mul(driftSmoothing)
	next := price.Add(delta).Round(2)
	if !next.IsPositive() || next.Equal(price) {
		return price, false
	}
	return next, true
}

func (s *Simulator) fillSome(ctx context.Context, assetID string) error {
	for _, o := range s.orders.ListOpenLimitOrders(assetID, fillCandidates) {
		if s.rng.Float64() >= fillProbability {
			continue
		}
		f, ok, err := s.engine.FillLimitOrder(o.ID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		metrics.SimulatedFills.Inc()
		s.pub.Publish(ctx, event.Filled(f.Order, f.Trade), event.Trade(f.Trade))
	}
	return nil
}

// rebuild recomputes every book, stores it and publishes all of them once
// the whole pass is done.
func (s *Simulator) rebuild(ctx context.Context) {
	var books event.Batch
	for _, a := range s.assets.List() {
		s.guard(a.ID, "rebuild", func() error {
			b := orderbook.Rebuild(a.ID, a.CurrentPrice, s.resting(a.ID), s.now())
			s.books.Put(b)
			books.Add(event.Book(b, s.depth))
			return nil
		})
	}
	books.Flush(ctx, s.pub)
}

// resting is the synthetic pool plus open client limit orders, oldest first.
func (s *Simulator) resting(assetID string) []orderbook.Order {
	out := slices.Clone(s.pools[assetID])
	out = append(out, s.orders.ListOpenLimitOrders(assetID, 0)...)
	slices.SortStableFunc(out, func(a, b orderbook.Order) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// guard isolates a failing asset: the phase is skipped for it and the tick
// carries on with the others.
func (s *Simulator) guard(assetID, phase string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.fail(assetID, phase, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := fn(); err != nil {
		s.fail(assetID, phase, err)
	}
}

func (s *Simulator) fail(assetID, phase string, err error) {
	metrics.AssetFailures.WithLabelValues(phase).Inc()
	s.log.Error("asset skipped",
		zap.String("asset_id", assetID),
		zap.String("phase", phase),
		zap.Error(err),
	)
}
