package orderbook

import "github.com/shopspring/decimal"

// Level aggregates every resting order at one exact price.
type Level struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
	Total    decimal.Decimal `json:"total"`
	OrderIDs []string        `json:"orderIds"`
	Sizes    []int64         `json:"-"` // quantity per OrderIDs entry
}

func (l *Level) add(o *Order) {
	l.Quantity += o.Quantity
	l.OrderIDs = append(l.OrderIDs, o.ID)
	l.Sizes = append(l.Sizes, o.Quantity)
}

func (l *Level) seal() {
	l.Total = l.Price.Mul(decimal.NewFromInt(l.Quantity)).Round(2)
}

func (l Level) clone() Level {
	ids := make([]string, len(l.OrderIDs))
	copy(ids, l.OrderIDs)
	l.OrderIDs = ids
	l.Sizes = append([]int64(nil), l.Sizes...)
	return l
}
