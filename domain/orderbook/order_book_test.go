package orderbook

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func limit(id string, side Side, price string, qty int64) Order {
	p := decimal.RequireFromString(price)
	return Order{
		ID:       id,
		AssetID:  "asset_001",
		UserID:   MarketMaker,
		Side:     side,
		Kind:     Limit,
		Quantity: qty,
		Price:    &p,
		Status:   Open,
	}
}

func TestRebuildAggregatesLevels(t *testing.T) {
	resting := []Order{
		limit("b1", Bid, "99", 10),
		limit("b2", Bid, "99.00", 5),
		limit("b3", Bid, "98.5", 1),
		limit("a1", Ask, "101", 5),
		limit("a2", Ask, "102", 20),
	}
	b := Rebuild("asset_001", decimal.NewFromInt(100), resting, time.Now())

	if len(b.Bids) != 2 || len(b.Asks) != 2 {
		t.Fatalf("expected 2 bid and 2 ask levels, got %d/%d", len(b.Bids), len(b.Asks))
	}
	top := b.Bids[0]
	if !top.Price.Equal(decimal.NewFromInt(99)) || top.Quantity != 15 {
		t.Errorf("best bid level = %s x %d, want 99 x 15", top.Price, top.Quantity)
	}
	if !top.Total.Equal(decimal.NewFromInt(1485)) {
		t.Errorf("total = %s, want 1485", top.Total)
	}
	if len(top.OrderIDs) != 2 || top.OrderIDs[0] != "b1" || top.OrderIDs[1] != "b2" {
		t.Errorf("unexpected contributing orders %v", top.OrderIDs)
	}
	if !b.BestBid.Equal(decimal.NewFromInt(99)) || !b.BestAsk.Equal(decimal.NewFromInt(101)) {
		t.Errorf("best bid/ask = %s/%s", b.BestBid, b.BestAsk)
	}
	if !b.Spread.Equal(decimal.NewFromInt(2)) {
		t.Errorf("spread = %s, want 2", b.Spread)
	}
	if !b.CurrentPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("current price must come from the caller, got %s", b.CurrentPrice)
	}
}

func TestRebuildEmpty(t *testing.T) {
	b := Rebuild("asset_001", decimal.NewFromInt(100), nil, time.Now())

	if len(b.Bids) != 0 || len(b.Asks) != 0 {
		t.Fatal("expected no levels")
	}
	if b.BestBid != nil || b.BestAsk != nil {
		t.Error("best bid/ask must be absent on an empty book")
	}
	if !b.Spread.IsZero() {
		t.Errorf("spread = %s, want 0", b.Spread)
	}
}

func TestRebuildOneSidedSpreadIsZero(t *testing.T) {
	b := Rebuild("asset_001", decimal.NewFromInt(100), []Order{limit("b1", Bid, "99", 1)}, time.Now())
	if b.BestAsk != nil || !b.Spread.IsZero() {
		t.Errorf("one-sided book: bestAsk=%v spread=%s", b.BestAsk, b.Spread)
	}
}

func TestRebuildSkipsNonResting(t *testing.T) {
	filled := limit("f", Bid, "99", 10)
	filled.Status = Filled
	market := Order{ID: "m", Side: Ask, Kind: Market, Quantity: 3, Status: Open}

	b := Rebuild("asset_001", decimal.NewFromInt(100), []Order{filled, market}, time.Now())
	if len(b.Bids) != 0 || len(b.Asks) != 0 {
		t.Error("only open limit orders rest in the book")
	}
}

func TestRebuildSortAndTotalInvariants(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	var resting []Order
	for i := 0; i < 500; i++ {
		side := Bid
		if r.IntN(2) == 1 {
			side = Ask
		}
		price := decimal.NewFromInt(int64(9000 + r.IntN(2000))).Shift(-2)
		resting = append(resting, limit(fmt.Sprintf("o%d", i), side, price.String(), int64(1+r.IntN(50))))
	}

	b := Rebuild("asset_001", decimal.NewFromInt(100), resting, time.Now())

	sums := map[string]int64{}
	for _, o := range resting {
		sums[string(o.Side)+o.Price.Round(2).String()] += o.Quantity
	}
	for i, l := range b.Bids {
		if i > 0 && !l.Price.LessThan(b.Bids[i-1].Price) {
			t.Fatalf("bids not strictly descending at %d", i)
		}
		if l.Quantity != sums["bid"+l.Price.String()] {
			t.Fatalf("bid level %s quantity %d, want %d", l.Price, l.Quantity, sums["bid"+l.Price.String()])
		}
		if !l.Total.Equal(l.Price.Mul(decimal.NewFromInt(l.Quantity)).Round(2)) {
			t.Fatalf("bid level %s total %s", l.Price, l.Total)
		}
		if l.Price.GreaterThan(*b.BestBid) {
			t.Fatalf("bid %s above best bid %s", l.Price, b.BestBid)
		}
	}
	for i, l := range b.Asks {
		if i > 0 && !l.Price.GreaterThan(b.Asks[i-1].Price) {
			t.Fatalf("asks not strictly ascending at %d", i)
		}
		if l.Quantity != sums["ask"+l.Price.String()] {
			t.Fatalf("ask level %s quantity %d, want %d", l.Price, l.Quantity, sums["ask"+l.Price.String()])
		}
		if l.Price.LessThan(*b.BestAsk) {
			t.Fatalf("ask %s below best ask %s", l.Price, b.BestAsk)
		}
	}
	if want := b.BestAsk.Sub(*b.BestBid).Round(2); !b.Spread.Equal(want) {
		t.Errorf("spread = %s, want %s", b.Spread, want)
	}
}

func TestTopCapsAndCopies(t *testing.T) {
	var resting []Order
	for i := 0; i < 80; i++ {
		resting = append(resting, limit(fmt.Sprintf("b%d", i), Bid, decimal.NewFromInt(int64(100+i)).String(), 1))
	}
	b := Rebuild("asset_001", decimal.NewFromInt(100), resting, time.Now())

	top := b.Top(DefaultDepth)
	if len(top.Bids) != DefaultDepth {
		t.Fatalf("expected %d levels, got %d", DefaultDepth, len(top.Bids))
	}
	if len(b.Bids) != 80 {
		t.Error("Top must not trim the source book")
	}
	top.Bids[0].OrderIDs[0] = "changed"
	if b.Bids[0].OrderIDs[0] == "changed" {
		t.Error("Top must deep-copy levels")
	}
}

func TestParseSide(t *testing.T) {
	if s, err := ParseSide("buy"); err != nil || s != Bid {
		t.Errorf("buy -> %v, %v", s, err)
	}
	if s, err := ParseSide("SELL"); err != nil || s != Ask {
		t.Errorf("sell -> %v, %v", s, err)
	}
	if _, err := ParseSide("hold"); err == nil {
		t.Error("expected validation error")
	}
}
