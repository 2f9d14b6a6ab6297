package sim

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/helix/internal/domain"
)

func testConfig() Config {
	return Config{
		StartPrices:  map[string]decimal.Decimal{"BTC-USD": decimal.NewFromInt(50000)},
		Volatility:   decimal.NewFromFloat(0.002),
		Slippage:     decimal.NewFromFloat(0.0005),
		Fee:          decimal.NewFromFloat(0.001),
		Seed:         42,
		StartBalance: decimal.NewFromInt(10000),
	}
}

func marketOrder(id string, qty string) domain.Order {
	q, _ := decimal.NewFromString(qty)
	return domain.Order{
		ID:       id,
		Symbol:   "BTC-USD",
		Side:     domain.OrderSideBuy,
		Quantity: q,
		Type:     domain.OrderTypeMarket,
	}
}

func TestSameSeedSameWalk(t *testing.T) {
	run := func() []domain.Tick {
		v := New(testConfig(), slog.Default())
		v.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
		var all []domain.Tick
		for i := 0; i < 10; i++ {
			ticks, err := v.GetTicks(context.Background(), []string{"BTC-USD"})
			require.NoError(t, err)
			all = append(all, ticks...)
		}
		return all
	}
	assert.Equal(t, run(), run())
}

func TestPlaceOrderIsIdempotent(t *testing.T) {
	v := New(testConfig(), slog.Default())
	ctx := context.Background()

	first, err := v.PlaceOrder(ctx, marketOrder("o-1", "0.1"))
	require.NoError(t, err)
	require.Equal(t, domain.FillStatusFilled, first.Status)

	again, err := v.PlaceOrder(ctx, marketOrder("o-1", "0.1"))
	require.NoError(t, err)
	assert.Equal(t, first, again, "resubmission must not execute twice")

	bal, err := v.GetAccountBalance(ctx)
	require.NoError(t, err)
	expected := decimal.NewFromInt(10000).Sub(first.Notional()).Sub(first.Fee)
	assert.True(t, bal.Total.Equal(expected), "balance %s", bal.Total)
}

func TestTransientFailureStillExecutes(t *testing.T) {
	cfg := testConfig()
	cfg.TransientEvery = 1
	v := New(cfg, slog.Default())
	ctx := context.Background()

	_, err := v.PlaceOrder(ctx, marketOrder("o-1", "0.1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransientVenue))

	// The order executed despite the lost response: the status check finds it.
	fill, err := v.GetOrderStatus(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, domain.FillStatusFilled, fill.Status)
	assert.True(t, fill.Quantity.Equal(decimal.NewFromFloat(0.1)))
}

func TestPartialFills(t *testing.T) {
	cfg := testConfig()
	cfg.PartialEvery = 1
	cfg.PartialRatio = decimal.NewFromFloat(0.5)
	v := New(cfg, slog.Default())

	fill, err := v.PlaceOrder(context.Background(), marketOrder("o-1", "0.2"))
	require.NoError(t, err)
	assert.Equal(t, domain.FillStatusPartial, fill.Status)
	assert.True(t, fill.Quantity.Equal(decimal.NewFromFloat(0.1)))
}

func TestRejectedOrderExecutesNothing(t *testing.T) {
	cfg := testConfig()
	cfg.RejectEvery = 1
	v := New(cfg, slog.Default())

	fill, err := v.PlaceOrder(context.Background(), marketOrder("o-1", "0.1"))
	require.NoError(t, err)
	assert.Equal(t, domain.FillStatusRejected, fill.Status)
	assert.False(t, fill.Executed())

	bal, err := v.GetAccountBalance(context.Background())
	require.NoError(t, err)
	assert.True(t, bal.Total.Equal(decimal.NewFromInt(10000)))
}

func TestUnknownOrderAndSymbol(t *testing.T) {
	v := New(testConfig(), slog.Default())
	ctx := context.Background()

	_, err := v.GetOrderStatus(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrUnknownOrder))

	bad := marketOrder("o-1", "0.1")
	bad.Symbol = "DOGE-USD"
	_, err = v.PlaceOrder(ctx, bad)
	assert.True(t, errors.Is(err, domain.ErrUnknownSymbol))
}
