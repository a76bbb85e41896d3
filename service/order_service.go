package service

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fracx/domain/asset"
	"fracx/domain/event"
	"fracx/domain/orderbook"
	"fracx/infra/metrics"
	"fracx/infra/store"
	"fracx/snapshot"
)

/*
OrderService is the order-entry and query surface shared by every
transport (HTTP, websocket, gRPC, Kafka intake).

Commands go through the MatchingEngine; notifications are published only
after the engine call has fully completed.
*/
type OrderService struct {
	engine *MatchingEngine
	assets *asset.Registry
	orders *store.OrderLedger
	trades *store.TradeLedger
	books  *snapshot.Store
	pub    event.Publisher
	log    *zap.Logger
}

// LimitOrderRequest uses the client-facing side: buy or sell.
type LimitOrderRequest struct {
	AssetID  string          `json:"assetId"`
	Side     string          `json:"side"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	UserID   string          `json:"userId"`
}

type MarketOrderRequest struct {
	AssetID  string `json:"assetId"`
	Side     string `json:"side"`
	Quantity int64  `json:"quantity"`
	UserID   string `json:"userId"`
}

func NewOrderService(
	engine *MatchingEngine,
	assets *asset.Registry,
	orders *store.OrderLedger,
	trades *store.TradeLedger,
	books *snapshot.Store,
	pub event.Publisher,
	log *zap.Logger,
) *OrderService {
	return &OrderService{
		engine: engine,
		assets: assets,
		orders: orders,
		trades: trades,
		books:  books,
		pub:    pub,
		log:    log.Named("orders"),
	}
}

//
// ──────────────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────────────
//

func (s *OrderService) PlaceLimitOrder(ctx context.Context, req LimitOrderRequest) (orderbook.Order, error) {
	side, err := orderbook.ParseSide(req.Side)
	if err != nil {
		metrics.OrdersRejected.Inc()
		return orderbook.Order{}, err
	}
	o, err := s.engine.PlaceLimitOrder(req.AssetID, side, req.Quantity, req.Price, req.UserID)
	if err != nil {
		return orderbook.Order{}, err
	}

	s.log.Debug("limit order placed",
		zap.String("order_id", o.ID),
		zap.String("asset_id", o.AssetID),
		zap.String("side", string(o.Side)),
		zap.Int64("quantity", o.Quantity),
	)
	s.pub.Publish(ctx, event.Confirmed(o, nil))
	return o, nil
}

func (s *OrderService) PlaceMarketOrder(ctx context.Context, req MarketOrderRequest) (MarketResult, error) {
	side, err := orderbook.ParseSide(req.Side)
	if err != nil {
		metrics.OrdersRejected.Inc()
		return MarketResult{}, err
	}
	res, err := s.engine.PlaceMarketOrder(req.AssetID, side, req.Quantity, req.UserID)
	if err != nil {
		return MarketResult{}, err
	}

	s.log.Debug("market order filled",
		zap.String("order_id", res.Order.ID),
		zap.String("asset_id", res.Order.AssetID),
		zap.Int("trades", len(res.Trades)),
		zap.String("total_cost", res.TotalCost.StringFixed(2)),
	)

	total := res.TotalCost
	// order_filled is reserved for simulated fills; owners of consumed
	// limit orders learn of them through trade_executed.
	envs := make([]event.Envelope, 0, 1+len(res.Trades))
	envs = append(envs, event.Confirmed(res.Order, &total))
	for _, t := range res.Trades {
		envs = append(envs, event.Trade(t))
	}
	s.pub.Publish(ctx, envs...)
	return res, nil
}

//
// ──────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────
//

// GetOrderBook returns the latest book capped to depth levels per side.
// An asset without a book yet gets an empty one.
func (s *OrderService) GetOrderBook(assetID string, depth int) *orderbook.OrderBook {
	if depth <= 0 {
		depth = orderbook.DefaultDepth
	}
	return s.books.Get(assetID).Top(depth)
}

// GetOrdersByUser never returns nil.
func (s *OrderService) GetOrdersByUser(userID string) []orderbook.Order {
	out := s.orders.ListByUser(userID)
	if out == nil {
		out = []orderbook.Order{}
	}
	return out
}

func (s *OrderService) GetOrderByID(id string) (orderbook.Order, error) {
	return s.orders.Get(id)
}

func (s *OrderService) GetAsset(id string) (asset.Asset, error) {
	return s.assets.Get(id)
}

func (s *OrderService) ListAssets() []asset.Asset {
	return s.assets.List()
}

func (s *OrderService) PriceChange(id string) (decimal.Decimal, error) {
	return s.assets.PriceChange(id)
}

func (s *OrderService) RecentTrades(limit int) []orderbook.Trade {
	return s.trades.Recent(limit)
}
