// Package event defines the notifications the engine emits and the rooms
// they are addressed to.
package event

import (
	"time"

	"github.com/shopspring/decimal"

	"fracx/domain/orderbook"
)

type Name string

const (
	BookUpdate     Name = "orderbook_update"
	PriceUpdate    Name = "asset_price_update"
	OrderConfirmed Name = "order_confirmed"
	OrderFilled    Name = "order_filled"
	TradeExecuted  Name = "trade_executed"
)

const AllAssetsRoom = "assets:all"

func AssetRoom(assetID string) string { return "asset:" + assetID }
func UserRoom(userID string) string   { return "user:" + userID }

// Envelope is one notification addressed to one or more rooms.
type Envelope struct {
	Seq     uint64   `json:"seq"`
	Event   Name     `json:"event"`
	AssetID string   `json:"assetId"`
	Rooms   []string `json:"rooms"`
	Data    any      `json:"data"`
}

type LevelView struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
	Total    decimal.Decimal `json:"total"`
}

type BookPayload struct {
	AssetID      string           `json:"assetId"`
	CurrentPrice decimal.Decimal  `json:"currentPrice"`
	Spread       decimal.Decimal  `json:"spread"`
	BestBid      *decimal.Decimal `json:"bestBid,omitempty"`
	BestAsk      *decimal.Decimal `json:"bestAsk,omitempty"`
	Bids         []LevelView      `json:"bids"`
	Asks         []LevelView      `json:"asks"`
	Timestamp    time.Time        `json:"timestamp"`
}

type PricePayload struct {
	AssetID      string          `json:"assetId"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	Timestamp    time.Time       `json:"timestamp"`
}

type OrderConfirmedPayload struct {
	OrderID   string           `json:"orderId"`
	AssetID   string           `json:"assetId"`
	UserID    string           `json:"userId"`
	Side      orderbook.Side   `json:"side"`
	Kind      orderbook.Kind   `json:"kind"`
	Quantity  int64            `json:"quantity"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Status    orderbook.Status `json:"status"`
	TotalCost *decimal.Decimal `json:"totalCost,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

type OrderFilledPayload struct {
	OrderID   string           `json:"orderId"`
	AssetID   string           `json:"assetId"`
	UserID    string           `json:"userId"`
	Side      orderbook.Side   `json:"side"`
	Kind      orderbook.Kind   `json:"kind"`
	Quantity  int64            `json:"quantity"`
	Price     decimal.Decimal  `json:"price"`
	Status    orderbook.Status `json:"status"`
	FilledAt  time.Time        `json:"filledAt"`
	TradeID   string           `json:"tradeId"`
	Timestamp time.Time        `json:"timestamp"`
}

type TradePayload struct {
	TradeID   string          `json:"tradeId"`
	AssetID   string          `json:"assetId"`
	BuyerID   string          `json:"buyerId"`
	SellerID  string          `json:"sellerId"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Book builds a book update capped to depth levels per side.
func Book(b *orderbook.OrderBook, depth int) Envelope {
	top := b.Top(depth)
	return Envelope{
		Event:   BookUpdate,
		AssetID: b.AssetID,
		Rooms:   []string{AssetRoom(b.AssetID), AllAssetsRoom},
		Data: BookPayload{
			AssetID:      top.AssetID,
			CurrentPrice: top.CurrentPrice,
			Spread:       top.Spread,
			BestBid:      top.BestBid,
			BestAsk:      top.BestAsk,
			Bids:         levelViews(top.Bids),
			Asks:         levelViews(top.Asks),
			Timestamp:    top.LastUpdated,
		},
	}
}

func Price(assetID string, price decimal.Decimal, ts time.Time) Envelope {
	return Envelope{
		Event:   PriceUpdate,
		AssetID: assetID,
		Rooms:   []string{AssetRoom(assetID), AllAssetsRoom},
		Data:    PricePayload{AssetID: assetID, CurrentPrice: price, Timestamp: ts},
	}
}

// Confirmed acknowledges a placed order to its owner. totalCost is set for
// market orders only.
func Confirmed(o orderbook.Order, totalCost *decimal.Decimal) Envelope {
	return Envelope{
		Event:   OrderConfirmed,
		AssetID: o.AssetID,
		Rooms:   []string{UserRoom(o.UserID)},
		Data: OrderConfirmedPayload{
			OrderID:   o.ID,
			AssetID:   o.AssetID,
			UserID:    o.UserID,
			Side:      o.Side,
			Kind:      o.Kind,
			Quantity:  o.Quantity,
			Price:     o.Price,
			Status:    o.Status,
			TotalCost: totalCost,
			Timestamp: o.CreatedAt,
		},
	}
}

// Filled tells the owner and the asset watchers that a resting limit
// order was filled.
func Filled(o orderbook.Order, t orderbook.Trade) Envelope {
	var filledAt time.Time
	if o.FilledAt != nil {
		filledAt = *o.FilledAt
	}
	return Envelope{
		Event:   OrderFilled,
		AssetID: o.AssetID,
		Rooms:   []string{UserRoom(o.UserID), AssetRoom(o.AssetID)},
		Data: OrderFilledPayload{
			OrderID:   o.ID,
			AssetID:   o.AssetID,
			UserID:    o.UserID,
			Side:      o.Side,
			Kind:      o.Kind,
			Quantity:  o.Quantity,
			Price:     o.LimitPrice(),
			Status:    o.Status,
			FilledAt:  filledAt,
			TradeID:   t.ID,
			Timestamp: t.ExecutedAt,
		},
	}
}

func Trade(t orderbook.Trade) Envelope {
	return Envelope{
		Event:   TradeExecuted,
		AssetID: t.AssetID,
		Rooms:   []string{AssetRoom(t.AssetID)},
		Data: TradePayload{
			TradeID:   t.ID,
			AssetID:   t.AssetID,
			BuyerID:   t.BuyerID,
			SellerID:  t.SellerID,
			Quantity:  t.Quantity,
			Price:     t.Price,
			Timestamp: t.ExecutedAt,
		},
	}
}

func levelViews(levels []orderbook.Level) []LevelView {
	out := make([]LevelView, len(levels))
	for i, l := range levels {
		out[i] = LevelView{Price: l.Price, Quantity: l.Quantity, Total: l.Total}
	}
	return out
}
