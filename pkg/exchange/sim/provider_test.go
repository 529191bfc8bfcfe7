package sim

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay-api/pkg/exchange"
)

func TestGetPriceRequiresMark(t *testing.T) {
	p := New()
	_, err := p.GetPrice(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, exchange.ErrPriceUnavailable, "no mark price means no quote")

	p.SetMarkPrice("btcusdt ", 20000)
	price, err := p.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err, "price should resolve")
	assert.InDelta(t, 20000, price, 1e-9, "instrument names are case-insensitive")
}

func TestGetVolatilityDefaultsToPriceFraction(t *testing.T) {
	p := New()
	p.SetMarkPrice("BTCUSDT", 20000)

	vol, err := p.GetVolatility(context.Background(), "BTCUSDT")
	require.NoError(t, err, "volatility should resolve")
	assert.InDelta(t, 100, vol, 1e-9, "default volatility is half a percent of price")

	p.SetVolatility("BTCUSDT", 250)
	vol, err = p.GetVolatility(context.Background(), "BTCUSDT")
	require.NoError(t, err, "override should resolve")
	assert.InDelta(t, 250, vol, 1e-9, "explicit volatility wins")
}

func TestPlaceOrderOpensAndAverages(t *testing.T) {
	p := New()
	p.SetMarkPrice("BTCUSDT", 20000)

	ack, err := p.PlaceOrder(context.Background(), exchange.Order{
		Instrument: "BTCUSDT", Side: exchange.SideBuy, Qty: 0.04,
	})
	require.NoError(t, err, "order should fill")
	assert.Equal(t, "sim-1", ack.OrderID, "order ids are sequential")

	p.SetMarkPrice("BTCUSDT", 21000)
	_, err = p.PlaceOrder(context.Background(), exchange.Order{
		Instrument: "BTCUSDT", Side: exchange.SideBuy, Qty: 0.04,
	})
	require.NoError(t, err, "second order should fill")

	position, err := p.GetPosition(context.Background(), "BTCUSDT")
	require.NoError(t, err, "position should resolve")
	assert.InDelta(t, 0.08, position.Size, 1e-9, "size should accumulate")
	assert.InDelta(t, 20500, position.EntryPrice, 1e-9, "entry should be volume weighted")
}

func TestPlaceOrderReduceOnlyNeverFlips(t *testing.T) {
	p := New()
	p.SetMarkPrice("BTCUSDT", 20000)
	_, err := p.PlaceOrder(context.Background(), exchange.Order{
		Instrument: "BTCUSDT", Side: exchange.SideBuy, Qty: 0.04,
	})
	require.NoError(t, err, "open should fill")

	// Oversized reduce-only clamps at the position size instead of flipping.
	_, err = p.PlaceOrder(context.Background(), exchange.Order{
		Instrument: "BTCUSDT", Side: exchange.SideSell, Qty: 1, ReduceOnly: true,
	})
	require.NoError(t, err, "reduce-only should clamp")

	position, err := p.GetPosition(context.Background(), "BTCUSDT")
	require.NoError(t, err, "position should resolve")
	assert.True(t, position.IsFlat(), "position should be closed, not reversed")
}

func TestClosePositionRealisesPnl(t *testing.T) {
	p := New()
	p.SetBalance(10000)
	p.SetMarkPrice("BTCUSDT", 20000)
	_, err := p.PlaceOrder(context.Background(), exchange.Order{
		Instrument: "BTCUSDT", Side: exchange.SideBuy, Qty: 1,
	})
	require.NoError(t, err, "open should fill")

	p.SetMarkPrice("BTCUSDT", 20500)
	require.NoError(t, p.ClosePosition(context.Background(), "BTCUSDT", 50), "half close should work")

	balance, err := p.GetBalance(context.Background())
	require.NoError(t, err, "balance should resolve")
	assert.InDelta(t, 10250, balance.Available, 1e-6, "realised pnl lands in cash")

	position, err := p.GetPosition(context.Background(), "BTCUSDT")
	require.NoError(t, err, "position should resolve")
	assert.InDelta(t, 0.5, position.Size, 1e-9, "half the position should remain")
	assert.InDelta(t, 250, position.UnrealizedPnl, 1e-6, "remaining half keeps its unrealised pnl")
}

func TestClosePositionValidatesPercentage(t *testing.T) {
	p := New()
	assert.Error(t, p.ClosePosition(context.Background(), "BTCUSDT", 0), "zero percentage is invalid")
	assert.Error(t, p.ClosePosition(context.Background(), "BTCUSDT", 150), "percentage above 100 is invalid")
	assert.NoError(t, p.ClosePosition(context.Background(), "BTCUSDT", 100), "closing a flat position is a no-op")
}

func TestFailWithInjectsAndClears(t *testing.T) {
	p := New()
	p.SetMarkPrice("BTCUSDT", 20000)

	boom := errors.New("boom")
	p.FailWith("price", boom)
	_, err := p.GetPrice(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, boom, "injected failure should surface")

	p.FailWith("price", nil)
	_, err = p.GetPrice(context.Background(), "BTCUSDT")
	assert.NoError(t, err, "cleared failure should recover")
}

func TestSetLeverage(t *testing.T) {
	p := New()
	p.SetMarkPrice("BTCUSDT", 20000)
	assert.Error(t, p.SetLeverage(context.Background(), "BTCUSDT", 0), "leverage below 1 is invalid")
	require.NoError(t, p.SetLeverage(context.Background(), "BTCUSDT", 7), "leverage should stick")

	_, err := p.PlaceOrder(context.Background(), exchange.Order{
		Instrument: "BTCUSDT", Side: exchange.SideBuy, Qty: 0.01,
	})
	require.NoError(t, err, "open should fill")
	position, err := p.GetPosition(context.Background(), "BTCUSDT")
	require.NoError(t, err, "position should resolve")
	assert.Equal(t, 7, position.Leverage, "position should report the stored leverage")
}
