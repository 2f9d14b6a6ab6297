package strategy

import (
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/helix/internal/domain"
)

var testParams = Params{Fraction: decimal.NewFromFloat(0.1)}

func tick(symbol string, price float64, at time.Time) domain.Tick {
	p := decimal.NewFromFloat(price)
	return domain.Tick{
		Symbol:    symbol,
		Timestamp: at,
		Bid:       p.Sub(decimal.NewFromFloat(0.5)),
		Ask:       p.Add(decimal.NewFromFloat(0.5)),
		Last:      p,
		Volume:    decimal.NewFromInt(10),
	}
}

func feed(s Strategy, symbol string, prices []float64) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for _, p := range prices {
		s.Observe(tick(symbol, p, at))
		at = at.Add(time.Second)
	}
}

func TestMomentumCrossover(t *testing.T) {
	m := NewMomentum("momo", 2, 4, testParams)

	// Downtrend first, then a sharp reversal: fast SMA crosses above slow.
	feed(m, "BTC-USD", []float64{106, 105, 104, 103, 102})
	intents := m.Propose(1, time.Now())
	require.Len(t, intents, 1)
	assert.Equal(t, domain.OrderSideSell, intents[0].Side)

	feed(m, "BTC-USD", []float64{108, 112})
	intents = m.Propose(2, time.Now())
	require.Len(t, intents, 1)
	assert.Equal(t, domain.OrderSideBuy, intents[0].Side)
	assert.Equal(t, "momo", intents[0].StrategyID)
	assert.GreaterOrEqual(t, intents[0].Confidence, 0.5)
	assert.LessOrEqual(t, intents[0].Confidence, 1.0)

	// Trend continues: no duplicate proposal.
	feed(m, "BTC-USD", []float64{113})
	assert.Empty(t, m.Propose(3, time.Now()))
}

func TestMomentumWaitsForFullWindow(t *testing.T) {
	m := NewMomentum("momo", 2, 4, testParams)
	feed(m, "BTC-USD", []float64{100, 101})
	assert.Empty(t, m.Propose(1, time.Now()))
}

func TestMeanReversionFadesStretch(t *testing.T) {
	m := NewMeanReversion("revert", 10, 1.5, testParams)

	prices := []float64{100, 100.2, 99.8, 100.1, 99.9, 100, 100.1, 99.9, 100}
	feed(m, "ETH-USD", prices)
	feed(m, "ETH-USD", []float64{103}) // stretch well above the band

	intents := m.Propose(1, time.Now())
	require.Len(t, intents, 1)
	assert.Equal(t, domain.OrderSideSell, intents[0].Side)

	// Still stretched: no second intent for the same excursion.
	feed(m, "ETH-USD", []float64{103.1})
	assert.Empty(t, m.Propose(2, time.Now()))
}

func TestBreakoutChannelBreak(t *testing.T) {
	b := NewBreakout("breakout", 5, testParams)

	feed(b, "SOL-USD", []float64{100, 101, 100.5, 99.5, 100})
	assert.Empty(t, b.Propose(1, time.Now()), "inside the channel")

	feed(b, "SOL-USD", []float64{104})
	intents := b.Propose(2, time.Now())
	require.Len(t, intents, 1)
	assert.Equal(t, domain.OrderSideBuy, intents[0].Side)
}

func TestStrategiesAreDeterministic(t *testing.T) {
	prices := []float64{100, 101, 99, 102, 104, 98, 97, 103, 105, 101, 99, 100}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	run := func() []domain.TradeIntent {
		m := NewMomentum("momo", 3, 6, testParams)
		var all []domain.TradeIntent
		for i, p := range prices {
			m.Observe(tick("BTC-USD", p, now.Add(time.Duration(i)*time.Second)))
			all = append(all, m.Propose(uint64(i), now)...)
		}
		return all
	}

	assert.Equal(t, run(), run(), "identical tick history must produce identical intents")
}

func TestProposalOrderIsStableAcrossRuns(t *testing.T) {
	// Symbols fed in shuffled order; every one triggers a sell crossover in
	// the same cycle, so any map-iteration leak shows up as reordering.
	symbols := []string{"SYM7", "SYM3", "SYM5", "SYM1", "SYM6", "SYM0", "SYM4", "SYM2"}

	run := func() []string {
		m := NewMomentum("momo", 2, 4, testParams)
		for _, sym := range symbols {
			feed(m, sym, []float64{106, 105, 104, 103, 102})
		}
		var order []string
		for _, it := range m.Propose(1, time.Now()) {
			order = append(order, it.Symbol)
		}
		return order
	}

	first := run()
	require.Len(t, first, len(symbols))
	assert.True(t, sort.StringsAreSorted(first), "proposals not in symbol order: %v", first)
	for i := 0; i < 20; i++ {
		require.Equal(t, first, run())
	}
}

func TestRegistryOrderAndToggle(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewMomentum("momo", 2, 4, testParams)))
	require.NoError(t, r.Register(NewBreakout("breakout", 5, testParams)))
	require.Error(t, r.Register(NewMomentum("momo", 2, 4, testParams)), "duplicate id")

	enabled := r.Enabled()
	require.Len(t, enabled, 2)
	assert.Equal(t, "momo", enabled[0].ID(), "registration order preserved")

	require.NoError(t, r.SetEnabled("momo", false))
	enabled = r.Enabled()
	require.Len(t, enabled, 1)
	assert.Equal(t, "breakout", enabled[0].ID())

	statuses := r.Statuses()
	require.Len(t, statuses, 2)
	assert.False(t, statuses[0].Enabled)
	assert.True(t, statuses[1].Enabled)

	require.Error(t, r.SetEnabled("missing", true))
	assert.Equal(t, 0, r.Rank("momo"))
	assert.Equal(t, 2, r.Rank("missing"))
}
