package orderbook

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fracx/domain/errs"
)

type Side string
type Kind string
type Status string

const (
	Bid Side = "bid"
	Ask Side = "ask"
)

const (
	Limit  Kind = "limit"
	Market Kind = "market"
)

const (
	Open      Status = "open"
	Filled    Status = "filled"
	Partial   Status = "partial" // reserved; the engine never assigns it
	Cancelled Status = "cancelled"
)

// MarketMaker is the reserved user id of the simulated market. It takes the
// other side of every trade that has no real resting counterorder.
const MarketMaker = "market_maker"

// ParseSide maps the client-facing buy/sell to the internal book side.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return Bid, nil
	case "sell":
		return Ask, nil
	default:
		return "", errs.Invalid("side", "must be buy or sell")
	}
}

func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

func (s Status) Terminal() bool {
	return s == Filled || s == Cancelled
}

// Order is a limit or market order. The ledger owns its lifecycle;
// everything else refers to it by ID.
type Order struct {
	ID        string           `json:"id"`
	AssetID   string           `json:"assetId"`
	UserID    string           `json:"userId"`
	Side      Side             `json:"side"`
	Kind      Kind             `json:"kind"`
	Quantity  int64            `json:"quantity"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Status    Status           `json:"status"`
	CreatedAt time.Time        `json:"createdAt"`
	FilledAt  *time.Time       `json:"filledAt,omitempty"`
}

// LimitPrice returns the order price, or zero for market orders.
func (o *Order) LimitPrice() decimal.Decimal {
	if o.Price == nil {
		return decimal.Zero
	}
	return *o.Price
}

// BuyerSeller resolves the two trade parties when this order trades with
// counterparty.
func (o *Order) BuyerSeller(counterparty string) (buyer, seller string) {
	if o.Side == Bid {
		return o.UserID, counterparty
	}
	return counterparty, o.UserID
}
