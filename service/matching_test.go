package service

import (
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fracx/domain/errs"
	"fracx/domain/orderbook"
)

func TestPlaceMarketOrder_WalksAsks(t *testing.T) {
	h := newHarness(t)
	h.putBook("asset_100",
		synthetic("s1", "asset_100", orderbook.Bid, 10, "99", h.clock),
		synthetic("s2", "asset_100", orderbook.Ask, 5, "101", h.clock),
		synthetic("s3", "asset_100", orderbook.Ask, 20, "102", h.clock),
	)

	res, err := h.engine.PlaceMarketOrder("asset_100", orderbook.Bid, 8, "alice")
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	assert.Equal(t, int64(5), res.Trades[0].Quantity)
	assert.True(t, dec("101").Equal(res.Trades[0].Price))
	assert.Equal(t, int64(3), res.Trades[1].Quantity)
	assert.True(t, dec("102").Equal(res.Trades[1].Price))
	for _, tr := range res.Trades {
		assert.Equal(t, "alice", tr.BuyerID)
		assert.Equal(t, orderbook.MarketMaker, tr.SellerID)
	}
	assert.Equal(t, "811.00", res.TotalCost.StringFixed(2))

	assert.Equal(t, orderbook.Filled, res.Order.Status)
	assert.Equal(t, orderbook.Market, res.Order.Kind)
	require.NotNil(t, res.Order.FilledAt)
	assert.Equal(t, res.Order.CreatedAt, *res.Order.FilledAt)

	stored, err := h.orders.Get(res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderbook.Filled, stored.Status)
	assert.Equal(t, 2, h.trades.Count())
}

func TestPlaceMarketOrder_SellWalksBidsDescending(t *testing.T) {
	h := newHarness(t)
	h.putBook("asset_100",
		synthetic("s1", "asset_100", orderbook.Bid, 4, "98", h.clock),
		synthetic("s2", "asset_100", orderbook.Bid, 4, "99", h.clock),
	)

	res, err := h.engine.PlaceMarketOrder("asset_100", orderbook.Ask, 6, "bob")
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	assert.True(t, dec("99").Equal(res.Trades[0].Price))
	assert.Equal(t, int64(4), res.Trades[0].Quantity)
	assert.True(t, dec("98").Equal(res.Trades[1].Price))
	assert.Equal(t, int64(2), res.Trades[1].Quantity)
	assert.Equal(t, "bob", res.Trades[0].SellerID)
	assert.Equal(t, orderbook.MarketMaker, res.Trades[0].BuyerID)
}

func TestPlaceMarketOrder_RemainderAtCurrentPrice(t *testing.T) {
	h := newHarness(t)
	h.putBook("asset_100", synthetic("s1", "asset_100", orderbook.Ask, 2, "101", h.clock))

	res, err := h.engine.PlaceMarketOrder("asset_100", orderbook.Bid, 5, "alice")
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	assert.Equal(t, int64(3), res.Trades[1].Quantity)
	assert.True(t, dec("100").Equal(res.Trades[1].Price))
	assert.Equal(t, "502.00", res.TotalCost.StringFixed(2))
}

func TestPlaceMarketOrder_EmptyBookFillsSynthetically(t *testing.T) {
	h := newHarness(t)

	res, err := h.engine.PlaceMarketOrder("asset_050", orderbook.Ask, 7, "carol")
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, int64(7), res.Trades[0].Quantity)
	assert.Equal(t, "350.00", res.TotalCost.StringFixed(2))
}

func TestPlaceMarketOrder_ConsumesClientOrdersFIFO(t *testing.T) {
	h := newHarness(t)

	client, err := h.engine.PlaceLimitOrder("asset_100", orderbook.Ask, 5, dec("101"), "seller")
	require.NoError(t, err)
	early := synthetic("s1", "asset_100", orderbook.Ask, 3, "101", h.clock.Add(-time1ms))
	h.putBook("asset_100", early, client)

	res, err := h.engine.PlaceMarketOrder("asset_100", orderbook.Bid, 8, "buyer")
	require.NoError(t, err)

	require.Len(t, res.Fills, 1)
	assert.Equal(t, client.ID, res.Fills[0].Order.ID)
	assert.Equal(t, orderbook.Filled, res.Fills[0].Order.Status)

	require.Len(t, res.Trades, 2)
	assert.Equal(t, "buyer", res.Trades[0].BuyerID)
	assert.Equal(t, "seller", res.Trades[0].SellerID)
	assert.Equal(t, int64(5), res.Trades[0].Quantity)
	assert.Equal(t, orderbook.MarketMaker, res.Trades[1].SellerID)
	assert.Equal(t, int64(3), res.Trades[1].Quantity)

	stored, err := h.orders.Get(client.ID)
	require.NoError(t, err)
	assert.Equal(t, orderbook.Filled, stored.Status)
	assert.Empty(t, h.orders.ListOpenLimitOrders("asset_100", 0))
}

func TestPlaceMarketOrder_ClientOrderThatDoesNotFitStaysOpen(t *testing.T) {
	h := newHarness(t)

	client, err := h.engine.PlaceLimitOrder("asset_100", orderbook.Ask, 5, dec("101"), "seller")
	require.NoError(t, err)
	h.putBook("asset_100", client, synthetic("s1", "asset_100", orderbook.Ask, 10, "101", h.clock.Add(time1ms*100)))

	res, err := h.engine.PlaceMarketOrder("asset_100", orderbook.Bid, 4, "buyer")
	require.NoError(t, err)
	assert.Empty(t, res.Fills)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, orderbook.MarketMaker, res.Trades[0].SellerID)

	stored, err := h.orders.Get(client.ID)
	require.NoError(t, err)
	assert.Equal(t, orderbook.Open, stored.Status)
}

func TestPlaceMarketOrder_FilledClientOrderCountsAsSynthetic(t *testing.T) {
	h := newHarness(t)

	client, err := h.engine.PlaceLimitOrder("asset_100", orderbook.Ask, 5, dec("101"), "seller")
	require.NoError(t, err)
	h.putBook("asset_100", client)

	_, ok, err := h.engine.FillLimitOrder(client.ID)
	require.NoError(t, err)
	require.True(t, ok)

	// the stored book still lists the order until the next rebuild
	res, err := h.engine.PlaceMarketOrder("asset_100", orderbook.Bid, 5, "buyer")
	require.NoError(t, err)
	assert.Empty(t, res.Fills)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, orderbook.MarketMaker, res.Trades[0].SellerID)
}

func TestMarketOrderCompleteness(t *testing.T) {
	h := newHarness(t)
	rng := rand.New(rand.NewPCG(7, 11))

	for i := 0; i < 200; i++ {
		var resting []orderbook.Order
		for j := 0; j < rng.IntN(12); j++ {
			side := orderbook.Bid
			if rng.IntN(2) == 0 {
				side = orderbook.Ask
			}
			price := 90 + rng.IntN(20)
			resting = append(resting, synthetic("s", "asset_100", side, int64(1+rng.IntN(30)), itoa(price), h.clock))
		}
		h.putBook("asset_100", resting...)

		side := orderbook.Bid
		if rng.IntN(2) == 0 {
			side = orderbook.Ask
		}
		qty := int64(1 + rng.IntN(100))
		res, err := h.engine.PlaceMarketOrder("asset_100", side, qty, "u")
		require.NoError(t, err)

		var sum int64
		for _, tr := range res.Trades {
			assert.Positive(t, tr.Quantity)
			sum += tr.Quantity
		}
		assert.Equal(t, qty, sum)
		assert.Equal(t, orderbook.Filled, res.Order.Status)
	}
}

func TestPlaceOrder_Validation(t *testing.T) {
	h := newHarness(t)

	cases := []struct {
		name  string
		place func() error
		field string
	}{
		{"unknown asset", func() error {
			_, err := h.engine.PlaceLimitOrder("nope", orderbook.Bid, 1, dec("1"), "u")
			return err
		}, "assetId"},
		{"zero quantity", func() error {
			_, err := h.engine.PlaceLimitOrder("asset_100", orderbook.Bid, 0, dec("1"), "u")
			return err
		}, "quantity"},
		{"negative price", func() error {
			_, err := h.engine.PlaceLimitOrder("asset_100", orderbook.Bid, 1, dec("-1"), "u")
			return err
		}, "price"},
		{"price rounds to zero", func() error {
			_, err := h.engine.PlaceLimitOrder("asset_100", orderbook.Bid, 1, dec("0.001"), "u")
			return err
		}, "price"},
		{"bad side", func() error {
			_, err := h.engine.PlaceMarketOrder("asset_100", orderbook.Side("up"), 1, "u")
			return err
		}, "side"},
		{"market negative quantity", func() error {
			_, err := h.engine.PlaceMarketOrder("asset_100", orderbook.Ask, -3, "u")
			return err
		}, "quantity"},
		{"missing user", func() error {
			_, err := h.engine.PlaceMarketOrder("asset_100", orderbook.Ask, 3, "")
			return err
		}, "userId"},
		{"reserved user", func() error {
			_, err := h.engine.PlaceLimitOrder("asset_100", orderbook.Bid, 1, dec("1"), orderbook.MarketMaker)
			return err
		}, "userId"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.place()
			require.Error(t, err)
			assert.True(t, errs.IsValidation(err))
			assert.Contains(t, err.Error(), tc.field)
		})
	}
	assert.Zero(t, h.orders.Count(), "rejected orders leave no trace")
	assert.Zero(t, h.trades.Count())
}

func TestPlaceLimitOrder_RestsOpen(t *testing.T) {
	h := newHarness(t)

	o, err := h.engine.PlaceLimitOrder("asset_100", orderbook.Bid, 3, dec("99.999"), "alice")
	require.NoError(t, err)
	assert.Equal(t, orderbook.Open, o.Status)
	assert.Equal(t, orderbook.Limit, o.Kind)
	assert.Equal(t, "100", o.Price.String(), "price kept at 2 decimals")
	assert.Nil(t, o.FilledAt)
	assert.Zero(t, h.trades.Count(), "no immediate matching")

	open := h.orders.ListOpenLimitOrders("asset_100", 0)
	require.Len(t, open, 1)
	assert.Equal(t, o.ID, open[0].ID)
}

func TestFillLimitOrder_SellAgainstMarketMaker(t *testing.T) {
	h := newHarness(t)
	o, err := h.engine.PlaceLimitOrder("asset_050", orderbook.Ask, 10, dec("50"), "seller")
	require.NoError(t, err)

	f, ok, err := h.engine.FillLimitOrder(o.ID)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, orderbook.Filled, f.Order.Status)
	require.NotNil(t, f.Order.FilledAt)
	assert.Equal(t, int64(10), f.Trade.Quantity)
	assert.True(t, dec("50").Equal(f.Trade.Price))
	assert.Equal(t, "seller", f.Trade.SellerID)
	assert.Equal(t, orderbook.MarketMaker, f.Trade.BuyerID)
}

func TestFillLimitOrder_AtMostOnce(t *testing.T) {
	h := newHarness(t)
	o, err := h.engine.PlaceLimitOrder("asset_100", orderbook.Bid, 2, dec("95"), "buyer")
	require.NoError(t, err)

	_, ok, err := h.engine.FillLimitOrder(o.ID)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = h.engine.FillLimitOrder(o.ID)
	require.NoError(t, err)
	assert.False(t, ok, "second fill is a no-op")
	assert.Equal(t, 1, h.trades.Count())
}

func TestFillLimitOrder_ConcurrentSingleWinner(t *testing.T) {
	h := newHarness(t)
	o, err := h.engine.PlaceLimitOrder("asset_100", orderbook.Bid, 2, dec("95"), "buyer")
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := h.engine.FillLimitOrder(o.ID)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, h.trades.Count())
}

func TestFillLimitOrder_NoOps(t *testing.T) {
	h := newHarness(t)

	_, ok, err := h.engine.FillLimitOrder("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	res, err := h.engine.PlaceMarketOrder("asset_100", orderbook.Bid, 1, "u")
	require.NoError(t, err)
	_, ok, err = h.engine.FillLimitOrder(res.Order.ID)
	require.NoError(t, err)
	assert.False(t, ok, "market orders are never open")
}

func TestFillLimitOrder_UnknownAssetIsNoOp(t *testing.T) {
	h := newHarness(t)

	p := dec("10")
	require.NoError(t, h.orders.Add(orderbook.Order{
		ID: "delisted", AssetID: "asset_gone", UserID: "u", Side: orderbook.Ask,
		Kind: orderbook.Limit, Quantity: 3, Price: &p, Status: orderbook.Open, CreatedAt: h.clock,
	}))

	_, ok, err := h.engine.FillLimitOrder("delisted")
	require.NoError(t, err)
	assert.False(t, ok)

	o, err := h.orders.Get("delisted")
	require.NoError(t, err)
	assert.Equal(t, orderbook.Open, o.Status)
	assert.Zero(t, h.trades.Count())
}
