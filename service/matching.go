package service

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fracx/domain/asset"
	"fracx/domain/errs"
	"fracx/domain/orderbook"
	"fracx/infra/metrics"
	"fracx/infra/store"
	"fracx/snapshot"
)

// Fill is a resting limit order that was filled, with its trade.
type Fill struct {
	Order orderbook.Order
	Trade orderbook.Trade
}

// MarketResult is the outcome of a market order. Fills lists the client
// limit orders it consumed; their trades are also in Trades.
type MarketResult struct {
	Order     orderbook.Order
	TotalCost decimal.Decimal
	Trades    []orderbook.Trade
	Fills     []Fill
}

// MatchingEngine places client orders and is the only writer of trades.
//
// Market orders always complete: real depth from the latest book first,
// then the synthetic counterparty at the asset's current price.
type MatchingEngine struct {
	assets *asset.Registry
	orders *store.OrderLedger
	trades *store.TradeLedger
	books  *snapshot.Store
	log    *zap.Logger

	now   func() time.Time
	newID func() string
}

func NewMatchingEngine(
	assets *asset.Registry,
	orders *store.OrderLedger,
	trades *store.TradeLedger,
	books *snapshot.Store,
	log *zap.Logger,
) *MatchingEngine {
	return &MatchingEngine{
		assets: assets,
		orders: orders,
		trades: trades,
		books:  books,
		log:    log.Named("matching"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// PlaceLimitOrder records an open limit order. It does not match.
func (e *MatchingEngine) PlaceLimitOrder(
	assetID string,
	side orderbook.Side,
	qty int64,
	price decimal.Decimal,
	userID string,
) (orderbook.Order, error) {
	if err := e.validate(assetID, side, qty, userID); err != nil {
		return orderbook.Order{}, err
	}
	price = price.Round(2)
	if !price.IsPositive() {
		metrics.OrdersRejected.Inc()
		return orderbook.Order{}, errs.Invalid("price", "must be positive")
	}

	o := orderbook.Order{
		ID:        e.newID(),
		AssetID:   assetID,
		UserID:    userID,
		Side:      side,
		Kind:      orderbook.Limit,
		Quantity:  qty,
		Price:     &price,
		Status:    orderbook.Open,
		CreatedAt: e.now(),
	}
	if err := e.orders.Add(o); err != nil {
		return orderbook.Order{}, err
	}
	metrics.OrdersPlaced.WithLabelValues(string(orderbook.Limit), string(side)).Inc()
	return o, nil
}

// PlaceMarketOrder walks the opposing side of the book (asks ascending for
// a buy, bids descending for a sell) and fills the remainder synthetically.
func (e *MatchingEngine) PlaceMarketOrder(
	assetID string,
	side orderbook.Side,
	qty int64,
	userID string,
) (MarketResult, error) {
	if err := e.validate(assetID, side, qty, userID); err != nil {
		return MarketResult{}, err
	}

	now := e.now()
	o := orderbook.Order{
		ID:        e.newID(),
		AssetID:   assetID,
		UserID:    userID,
		Side:      side,
		Kind:      orderbook.Market,
		Quantity:  qty,
		Status:    orderbook.Filled,
		CreatedAt: now,
		FilledAt:  &now,
	}

	if err := e.orders.Add(o); err != nil {
		return MarketResult{}, err
	}

	res := MarketResult{Order: o}
	remaining := qty

	book := e.books.Get(assetID)
	for _, lvl := range book.Levels(side.Opposite()) {
		if remaining == 0 {
			break
		}
		take := min(lvl.Quantity, remaining)
		remaining -= take

		var fromClients int64
		for _, f := range e.consumeLevel(lvl, take, userID) {
			fromClients += f.Trade.Quantity
			res.Fills = append(res.Fills, f)
			res.Trades = append(res.Trades, f.Trade)
		}
		if rest := take - fromClients; rest > 0 {
			t, err := e.syntheticTrade(&o, rest, lvl.Price, now)
			if err != nil {
				return MarketResult{}, err
			}
			res.Trades = append(res.Trades, t)
		}
	}

	if remaining > 0 {
		price, err := e.assets.CurrentPrice(assetID)
		if err != nil {
			return MarketResult{}, err
		}
		t, err := e.syntheticTrade(&o, remaining, price, now)
		if err != nil {
			return MarketResult{}, err
		}
		res.Trades = append(res.Trades, t)
	}

	total := decimal.Zero
	for _, t := range res.Trades {
		total = total.Add(t.Cost())
	}
	res.TotalCost = total.Round(2)

	metrics.OrdersPlaced.WithLabelValues(string(orderbook.Market), string(side)).Inc()
	return res, nil
}

// FillLimitOrder fills an open limit order against the synthetic
// counterparty at its limit price. A missing or non-open order, or one whose
// asset is no longer listed, is a no-op: ok is false and err is nil.
func (e *MatchingEngine) FillLimitOrder(orderID string) (Fill, bool, error) {
	return e.fill(orderID, orderbook.MarketMaker, "simulated")
}

// consumeLevel allocates take across the level's orders in FIFO order.
// Client limit orders that fit whole are filled against the taker; the
// caller books everything else against the synthetic counterparty.
func (e *MatchingEngine) consumeLevel(lvl orderbook.Level, take int64, taker string) []Fill {
	var fills []Fill
	alloc := take
	for i, id := range lvl.OrderIDs {
		if alloc == 0 {
			break
		}
		size := lvl.Sizes[i]
		if size > alloc {
			break
		}
		alloc -= size

		f, ok, err := e.fill(id, taker, "book")
		if err != nil {
			e.log.Warn("client fill failed, booking synthetic", zap.String("order_id", id), zap.Error(err))
			continue
		}
		if ok {
			fills = append(fills, f)
		}
	}
	return fills
}

// fill is the single compare-and-set fill path for resting limit orders.
func (e *MatchingEngine) fill(orderID, counterparty, source string) (Fill, bool, error) {
	cur, err := e.orders.Get(orderID)
	if errors.Is(err, errs.ErrNotFound) {
		return Fill{}, false, nil
	}
	if err != nil {
		return Fill{}, false, err
	}
	if cur.Kind != orderbook.Limit || cur.Status != orderbook.Open {
		return Fill{}, false, nil
	}
	if !e.assets.Exists(cur.AssetID) {
		e.log.Warn("fill skipped, unknown asset", zap.String("order_id", orderID), zap.String("asset_id", cur.AssetID))
		return Fill{}, false, nil
	}

	now := e.now()
	o, err := e.orders.Transition(orderID, orderbook.Open, store.OrderPatch{
		Status:   orderbook.Filled,
		FilledAt: &now,
	})
	if errors.Is(err, errs.ErrStaleStatus) {
		return Fill{}, false, nil
	}
	if err != nil {
		return Fill{}, false, err
	}

	buyer, seller := o.BuyerSeller(counterparty)
	t := orderbook.Trade{
		ID:         e.newID(),
		AssetID:    o.AssetID,
		BuyerID:    buyer,
		SellerID:   seller,
		Quantity:   o.Quantity,
		Price:      o.LimitPrice(),
		ExecutedAt: now,
	}
	if err := e.recordTrade(t, source); err != nil {
		return Fill{}, false, err
	}
	return Fill{Order: o, Trade: t}, true, nil
}

func (e *MatchingEngine) syntheticTrade(o *orderbook.Order, qty int64, price decimal.Decimal, at time.Time) (orderbook.Trade, error) {
	buyer, seller := o.BuyerSeller(orderbook.MarketMaker)
	t := orderbook.Trade{
		ID:         e.newID(),
		AssetID:    o.AssetID,
		BuyerID:    buyer,
		SellerID:   seller,
		Quantity:   qty,
		Price:      price,
		ExecutedAt: at,
	}
	return t, e.recordTrade(t, "market")
}

func (e *MatchingEngine) recordTrade(t orderbook.Trade, source string) error {
	if err := e.trades.Add(t); err != nil {
		return err
	}
	metrics.TradesExecuted.WithLabelValues(source).Inc()
	return nil
}

func (e *MatchingEngine) validate(assetID string, side orderbook.Side, qty int64, userID string) error {
	var err error
	switch {
	case !e.assets.Exists(assetID):
		err = errs.Invalid("assetId", "unknown asset "+assetID)
	case side != orderbook.Bid && side != orderbook.Ask:
		err = errs.Invalid("side", "must be buy or sell")
	case qty <= 0:
		err = errs.Invalid("quantity", "must be a positive integer")
	case userID == "":
		err = errs.Invalid("userId", "required")
	case userID == orderbook.MarketMaker:
		err = errs.Invalid("userId", "reserved")
	}
	if err != nil {
		metrics.OrdersRejected.Inc()
	}
	return err
}
