package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/helix/internal/domain"
	"github.com/quantfall/helix/internal/feed"
	"github.com/quantfall/helix/internal/gateway"
	"github.com/quantfall/helix/internal/ledger"
	"github.com/quantfall/helix/internal/risk"
	"github.com/quantfall/helix/internal/store/memory"
	"github.com/quantfall/helix/internal/strategy"
	"github.com/quantfall/helix/internal/venue/sim"
)

// stubStrategy proposes one buy intent per cycle for its symbol.
type stubStrategy struct {
	id       string
	symbol   string
	fraction decimal.Decimal
	delay    time.Duration

	mu       sync.Mutex
	observed int
}

func (s *stubStrategy) ID() string { return s.id }

func (s *stubStrategy) Observe(domain.Tick) {
	s.mu.Lock()
	s.observed++
	s.mu.Unlock()
}

func (s *stubStrategy) Propose(cycle uint64, now time.Time) []domain.TradeIntent {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return []domain.TradeIntent{{
		ID:         fmt.Sprintf("%s/%s/%d", s.id, s.symbol, cycle),
		StrategyID: s.id,
		Symbol:     s.symbol,
		Side:       domain.OrderSideBuy,
		Mode:       domain.SizeByFraction,
		Fraction:   s.fraction,
		Confidence: 1,
		Cycle:      cycle,
		CreatedAt:  now,
	}}
}

type captureBus struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (b *captureBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payloads = append(b.payloads, payload)
	return nil
}

type harness struct {
	engine *Engine
	led    *ledger.Ledger
	rm     *risk.Manager
	reg    *strategy.Registry
	fills  *memory.FillLog
	venue  *sim.Venue
	bus    *captureBus
}

func newHarness(t *testing.T, cfg Config, strategies ...strategy.Strategy) *harness {
	t.Helper()
	logger := slog.Default()

	v := sim.New(sim.Config{
		StartPrices:  map[string]decimal.Decimal{"BTC-USD": decimal.NewFromInt(50000)},
		Volatility:   decimal.NewFromFloat(0.001),
		Seed:         7,
		StartBalance: decimal.NewFromInt(1000),
	}, logger)

	fills := memory.NewFillLog()
	led := ledger.New(decimal.NewFromInt(1000), fills, memory.NewSnapshotStore(), logger)
	journal := memory.NewOrderJournal()

	reg := strategy.NewRegistry()
	for _, s := range strategies {
		require.NoError(t, reg.Register(s))
	}

	rm := risk.New(domain.RiskLimits{
		MaxTradeFraction: decimal.NewFromFloat(0.5),
	}, led, journal, reg.Rank, logger)

	gw := gateway.New(v, led, journal, rm, nil, gateway.Config{}, logger)

	f := feed.New(v, []string{"BTC-USD"}, nil, logger)

	bus := &captureBus{}
	if cfg.CollectTimeout == 0 {
		cfg.CollectTimeout = 200 * time.Millisecond
	}
	if cfg.StalenessThreshold == 0 {
		cfg.StalenessThreshold = time.Minute
	}
	eng := New(cfg, f, reg, rm, led, gw, v, fills, bus, logger)

	return &harness{engine: eng, led: led, rm: rm, reg: reg, fills: fills, venue: v, bus: bus}
}

func TestRunCycleTradesEndToEnd(t *testing.T) {
	h := newHarness(t, Config{}, &stubStrategy{
		id: "stub", symbol: "BTC-USD", fraction: decimal.NewFromFloat(0.1),
	})

	h.engine.RunCycle(context.Background())

	assert.Equal(t, domain.EngineIdle, h.engine.State())

	pos, ok := h.led.Position("BTC-USD")
	require.True(t, ok, "cycle should open a position")
	assert.True(t, pos.Quantity.IsPositive())

	cap := h.led.Capital()
	assert.True(t, cap.Consistent(), "total=%s reserved=%s free=%s", cap.Total, cap.Reserved, cap.Free)
	assert.True(t, cap.Reserved.IsZero(), "reservations settle within the cycle")

	recent, err := h.fills.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, domain.FillStatusFilled, recent[0].Status)
}

func TestPausedEngineDoesNotTrade(t *testing.T) {
	h := newHarness(t, Config{}, &stubStrategy{
		id: "stub", symbol: "BTC-USD", fraction: decimal.NewFromFloat(0.1),
	})

	h.engine.Pause()
	h.engine.RunCycle(context.Background())

	assert.Equal(t, domain.EnginePaused, h.engine.State())
	recent, err := h.fills.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recent)

	h.engine.Resume()
	h.engine.RunCycle(context.Background())
	recent, err = h.fills.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestHaltedEngineRejectsEverything(t *testing.T) {
	h := newHarness(t, Config{}, &stubStrategy{
		id: "stub", symbol: "BTC-USD", fraction: decimal.NewFromFloat(0.1),
	})

	h.engine.Halt("operator stop")
	h.engine.RunCycle(context.Background())

	assert.Equal(t, domain.EngineHalted, h.engine.State())
	recent, err := h.fills.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recent)

	h.engine.ClearHalt()
	assert.Equal(t, domain.EngineIdle, h.engine.State())
	h.engine.RunCycle(context.Background())
	recent, err = h.fills.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestStaleSymbolsProduceNoOrders(t *testing.T) {
	// The strategy trades a symbol the feed never updates.
	h := newHarness(t, Config{}, &stubStrategy{
		id: "stub", symbol: "ETH-USD", fraction: decimal.NewFromFloat(0.1),
	})

	h.engine.RunCycle(context.Background())

	assert.Equal(t, domain.EngineIdle, h.engine.State())
	recent, err := h.fills.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
	assert.True(t, h.led.Capital().Free.Equal(decimal.NewFromInt(1000)))
}

func TestSlowStrategyIsSkippedNotFatal(t *testing.T) {
	fast := &stubStrategy{id: "fast", symbol: "BTC-USD", fraction: decimal.NewFromFloat(0.1)}
	slow := &stubStrategy{id: "slow", symbol: "BTC-USD", fraction: decimal.NewFromFloat(0.1), delay: time.Second}

	h := newHarness(t, Config{CollectTimeout: 50 * time.Millisecond}, fast, slow)

	h.engine.RunCycle(context.Background())

	// Only the fast strategy's intent made it into the cycle.
	recent, err := h.fills.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
	assert.Equal(t, domain.EngineIdle, h.engine.State())
}

func TestReconciliationMismatchHalts(t *testing.T) {
	h := newHarness(t, Config{
		ReconcileEvery:     1,
		ReconcileTolerance: decimal.NewFromFloat(0.01),
	})

	// No strategies, so the only cycle activity is the reconcile check.
	// Venue and ledger both start at 1000; force divergence via a direct
	// venue trade the ledger never sees.
	_, err := h.venue.PlaceOrder(context.Background(), domain.Order{
		ID: "rogue", Symbol: "BTC-USD", Side: domain.OrderSideBuy,
		Quantity: decimal.NewFromFloat(0.001), Type: domain.OrderTypeMarket,
	})
	require.NoError(t, err)

	h.engine.RunCycle(context.Background())

	halted, reason := h.rm.Halted()
	assert.True(t, halted)
	assert.Contains(t, reason, "reconciliation")
	assert.Equal(t, domain.EngineHalted, h.engine.State())
}

func TestStatusPublishedAfterCycle(t *testing.T) {
	h := newHarness(t, Config{}, &stubStrategy{
		id: "stub", symbol: "BTC-USD", fraction: decimal.NewFromFloat(0.1),
	})

	h.engine.RunCycle(context.Background())

	h.bus.mu.Lock()
	defer h.bus.mu.Unlock()
	require.NotEmpty(t, h.bus.payloads)

	var snap domain.StatusSnapshot
	require.NoError(t, json.Unmarshal(h.bus.payloads[len(h.bus.payloads)-1], &snap))
	assert.Equal(t, domain.EngineIdle, snap.State)
	assert.Equal(t, uint64(1), snap.Cycle)
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, "BTC-USD", snap.Positions[0].Symbol)
	require.Len(t, snap.Strategies, 1)
	assert.True(t, snap.Strategies[0].Enabled)
}
