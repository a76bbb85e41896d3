package orderbook

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an executed fill. Immutable once created.
type Trade struct {
	ID         string          `json:"id"`
	AssetID    string          `json:"assetId"`
	BuyerID    string          `json:"buyerId"`
	SellerID   string          `json:"sellerId"`
	Quantity   int64           `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	ExecutedAt time.Time       `json:"executedAt"`
}

// Cost is price × quantity, unrounded.
func (t *Trade) Cost() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Quantity))
}
