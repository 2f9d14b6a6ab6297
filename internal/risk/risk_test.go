package risk

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
	"github.com/quantfall/helix/internal/ledger"
	"github.com/quantfall/helix/internal/store/memory"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newLedger(t *testing.T, capital string) *ledger.Ledger {
	t.Helper()
	return ledger.New(dec(capital), memory.NewFillLog(), memory.NewSnapshotStore(), slog.Default())
}

func fractionIntent(id, strategyID, symbol string, side domain.OrderSide, fraction string, cycle uint64) domain.TradeIntent {
	return domain.TradeIntent{
		ID:         id,
		StrategyID: strategyID,
		Symbol:     symbol,
		Side:       side,
		Mode:       domain.SizeByFraction,
		Fraction:   dec(fraction),
		Confidence: 0.8,
		Cycle:      cycle,
		CreatedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func quantityIntent(id, strategyID, symbol string, side domain.OrderSide, qty string, cycle uint64) domain.TradeIntent {
	it := fractionIntent(id, strategyID, symbol, side, "0", cycle)
	it.Mode = domain.SizeByQuantity
	it.Quantity = dec(qty)
	return it
}

func TestExposureCapApprovesOnlyWhatFits(t *testing.T) {
	led := newLedger(t, "100")
	m := New(domain.RiskLimits{MaxTradeFraction: dec("0.2")}, led, memory.NewOrderJournal(), nil, slog.Default())

	prices := map[string]decimal.Decimal{"BTC-USD": dec("10"), "ETH-USD": dec("10")}
	res := m.Evaluate(context.Background(), 1, []domain.TradeIntent{
		fractionIntent("a/BTC-USD/1", "a", "BTC-USD", domain.OrderSideBuy, "0.15", 1),
		fractionIntent("b/ETH-USD/1", "b", "ETH-USD", domain.OrderSideBuy, "0.15", 1),
	}, prices)

	require.Len(t, res.Orders, 1)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, domain.RejectCapital, res.Rejected[0].Reason)
	assert.Contains(t, res.Rejected[0].Detail, domain.ErrInsufficientCapital.Error())

	cap := led.Capital()
	assert.True(t, cap.Reserved.Equal(dec("15")), "reserved %s", cap.Reserved)
	assert.True(t, cap.Total.Equal(dec("100")))
	assert.True(t, res.Orders[0].Reserved.Equal(dec("15")))
}

func TestDrawdownHaltLatchesUntilCleared(t *testing.T) {
	led := &stubLedger{equity: dec("1000"), drawdown: dec("0.3"), capital: domain.CapitalState{Total: dec("1000"), Free: dec("1000")}}
	m := New(domain.RiskLimits{MaxTradeFraction: dec("1"), MaxDrawdown: dec("0.25")}, led, memory.NewOrderJournal(), nil, slog.Default())

	prices := map[string]decimal.Decimal{"BTC-USD": dec("10")}
	intents := []domain.TradeIntent{fractionIntent("a/BTC-USD/1", "a", "BTC-USD", domain.OrderSideBuy, "0.1", 1)}

	res := m.Evaluate(context.Background(), 1, intents, prices)
	assert.Empty(t, res.Orders)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, domain.RejectDrawdownHalt, res.Rejected[0].Reason)

	halted, reason := m.Halted()
	assert.True(t, halted)
	assert.Contains(t, reason, "drawdown")

	// Recovery of the drawdown alone does not clear the halt.
	led.drawdown = decimal.Zero
	intents[0].ID = "a/BTC-USD/2"
	res = m.Evaluate(context.Background(), 2, intents, prices)
	assert.Empty(t, res.Orders)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, domain.RejectDrawdownHalt, res.Rejected[0].Reason)

	m.ClearHalt()
	intents[0].ID = "a/BTC-USD/3"
	res = m.Evaluate(context.Background(), 3, intents, prices)
	assert.Len(t, res.Orders, 1)
	assert.Empty(t, res.Rejected)
}

func TestDuplicateIntentRejected(t *testing.T) {
	led := newLedger(t, "1000")
	m := New(domain.RiskLimits{MaxTradeFraction: dec("1")}, led, memory.NewOrderJournal(), nil, slog.Default())
	prices := map[string]decimal.Decimal{"BTC-USD": dec("10")}

	first := m.Evaluate(context.Background(), 1, []domain.TradeIntent{
		fractionIntent("a/BTC-USD/1", "a", "BTC-USD", domain.OrderSideBuy, "0.1", 1),
	}, prices)
	require.Len(t, first.Orders, 1)

	replay := m.Evaluate(context.Background(), 2, []domain.TradeIntent{
		fractionIntent("a/BTC-USD/1", "a", "BTC-USD", domain.OrderSideBuy, "0.1", 2),
	}, prices)
	assert.Empty(t, replay.Orders)
	require.Len(t, replay.Rejected, 1)
	assert.Equal(t, domain.RejectDuplicate, replay.Rejected[0].Reason)
}

func TestMissingReferencePriceRejectsAsStale(t *testing.T) {
	led := newLedger(t, "1000")
	m := New(domain.RiskLimits{MaxTradeFraction: dec("1")}, led, memory.NewOrderJournal(), nil, slog.Default())

	res := m.Evaluate(context.Background(), 1, []domain.TradeIntent{
		fractionIntent("a/XRP-USD/1", "a", "XRP-USD", domain.OrderSideBuy, "0.1", 1),
	}, map[string]decimal.Decimal{})

	assert.Empty(t, res.Orders)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, domain.RejectStale, res.Rejected[0].Reason)
}

func TestNettingCancelsOpposingIntents(t *testing.T) {
	led := newLedger(t, "1000")
	m := New(domain.RiskLimits{
		MaxTradeFraction: dec("1"),
		NettingTolerance: dec("0.1"),
	}, led, memory.NewOrderJournal(), nil, slog.Default())

	prices := map[string]decimal.Decimal{"BTC-USD": dec("10")}
	res := m.Evaluate(context.Background(), 1, []domain.TradeIntent{
		quantityIntent("a/BTC-USD/1", "a", "BTC-USD", domain.OrderSideBuy, "1", 1),
		quantityIntent("b/BTC-USD/1", "b", "BTC-USD", domain.OrderSideSell, "1", 1),
	}, prices)

	assert.Empty(t, res.Orders)
	require.Len(t, res.Rejected, 2)
	for _, rej := range res.Rejected {
		assert.Equal(t, domain.RejectNetted, rej.Reason)
	}
	assert.True(t, led.Capital().Reserved.IsZero())
}

func TestNettingEmitsResidualOrder(t *testing.T) {
	led := newLedger(t, "1000")
	m := New(domain.RiskLimits{
		MaxTradeFraction: dec("1"),
		NettingTolerance: dec("0.1"),
	}, led, memory.NewOrderJournal(), nil, slog.Default())

	prices := map[string]decimal.Decimal{"BTC-USD": dec("10")}
	res := m.Evaluate(context.Background(), 1, []domain.TradeIntent{
		quantityIntent("a/BTC-USD/1", "a", "BTC-USD", domain.OrderSideBuy, "3", 1),
		quantityIntent("b/BTC-USD/1", "b", "BTC-USD", domain.OrderSideSell, "1", 1),
	}, prices)

	require.Len(t, res.Orders, 1)
	ord := res.Orders[0]
	assert.Equal(t, domain.OrderSideBuy, ord.Side)
	assert.True(t, ord.Quantity.Equal(dec("2")), "net quantity %s", ord.Quantity)
	assert.Equal(t, "a", ord.StrategyID, "attributed to the higher-priority leg")
	assert.True(t, led.Capital().Reserved.Equal(dec("20")))

	// The netted-away leg is reported, not silently dropped.
	require.Len(t, res.Merged, 1)
	assert.Equal(t, "b/BTC-USD/1", res.Merged[0].Intent.ID)
	assert.Equal(t, ord.ID, res.Merged[0].OrderID)
}

func TestAllocationCapPerStrategy(t *testing.T) {
	led := newLedger(t, "100")
	m := New(domain.RiskLimits{
		MaxTradeFraction: dec("1"),
		Allocations:      map[string]decimal.Decimal{"a": dec("0.1")},
	}, led, memory.NewOrderJournal(), nil, slog.Default())

	prices := map[string]decimal.Decimal{"BTC-USD": dec("10")}
	res := m.Evaluate(context.Background(), 1, []domain.TradeIntent{
		fractionIntent("a/BTC-USD/1", "a", "BTC-USD", domain.OrderSideBuy, "0.15", 1),
	}, prices)

	assert.Empty(t, res.Orders)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, domain.RejectAllocation, res.Rejected[0].Reason)
}

func TestAllocationAccountsWithinCycle(t *testing.T) {
	led := newLedger(t, "100")
	m := New(domain.RiskLimits{
		MaxTradeFraction: dec("1"),
		Allocations:      map[string]decimal.Decimal{"a": dec("0.3")},
	}, led, memory.NewOrderJournal(), nil, slog.Default())

	// Two intents from the same strategy in one cycle. Individually each
	// fits under the 30 cap; together they do not, so the second must be
	// rejected against the first one's committed notional.
	prices := map[string]decimal.Decimal{"AAA-USD": dec("10"), "BBB-USD": dec("10")}
	res := m.Evaluate(context.Background(), 1, []domain.TradeIntent{
		fractionIntent("a/AAA-USD/1", "a", "AAA-USD", domain.OrderSideBuy, "0.25", 1),
		fractionIntent("a/BBB-USD/1", "a", "BBB-USD", domain.OrderSideBuy, "0.25", 1),
	}, prices)

	require.Len(t, res.Orders, 1)
	assert.Equal(t, "AAA-USD", res.Orders[0].Symbol)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, domain.RejectAllocation, res.Rejected[0].Reason)
	assert.Equal(t, "BBB-USD", res.Rejected[0].Intent.Symbol)

	reserved := led.Capital().Reserved
	assert.True(t, reserved.LessThanOrEqual(dec("30")), "reserved %s exceeds allocation cap 30", reserved)
}

func TestMergedIntentChargedToItsStrategy(t *testing.T) {
	led := newLedger(t, "100")
	m := New(domain.RiskLimits{
		MaxTradeFraction: dec("1"),
		Allocations:      map[string]decimal.Decimal{"b": dec("0.25")},
	}, led, memory.NewOrderJournal(), nil, slog.Default())

	// Same-side same-symbol intents from two strategies combine into one
	// order led by "a". The merged intent must be reported with its order,
	// and only b's own share may count against b's allocation.
	prices := map[string]decimal.Decimal{"BTC-USD": dec("10")}
	res := m.Evaluate(context.Background(), 1, []domain.TradeIntent{
		quantityIntent("a/BTC-USD/1", "a", "BTC-USD", domain.OrderSideBuy, "1", 1),
		quantityIntent("b/BTC-USD/1", "b", "BTC-USD", domain.OrderSideBuy, "1", 1),
	}, prices)

	require.Len(t, res.Orders, 1)
	ord := res.Orders[0]
	assert.True(t, ord.Quantity.Equal(dec("2")))
	assert.True(t, ord.Reserved.Equal(dec("20")))
	assert.Empty(t, res.Rejected)
	require.Len(t, res.Merged, 1)
	assert.Equal(t, "b/BTC-USD/1", res.Merged[0].Intent.ID)
	assert.Equal(t, ord.ID, res.Merged[0].OrderID)

	// b contributed 10 of the 20; a further 15 fits its 25 cap. If the
	// whole combined notional were charged to b this would be rejected.
	next := m.Evaluate(context.Background(), 2, []domain.TradeIntent{
		quantityIntent("b/BTC-USD/2", "b", "BTC-USD", domain.OrderSideBuy, "1.5", 2),
	}, prices)
	assert.Len(t, next.Orders, 1)
	assert.Empty(t, next.Rejected)

	// Closing the merged order releases each contributor's share.
	m.OrderClosed(ord, decimal.Zero)
	m.OrderClosed(next.Orders[0], decimal.Zero)
	led.Release(context.Background(), ord.ReservationID)
	led.Release(context.Background(), next.Orders[0].ReservationID)

	again := m.Evaluate(context.Background(), 3, []domain.TradeIntent{
		quantityIntent("b/BTC-USD/3", "b", "BTC-USD", domain.OrderSideBuy, "2.5", 3),
	}, prices)
	assert.Len(t, again.Orders, 1, "allocation fully returned after close")
}

func TestMaxOpenPositionsBlocksNewSymbols(t *testing.T) {
	led := &stubLedger{
		equity:  dec("1000"),
		capital: domain.CapitalState{Total: dec("1000"), Free: dec("1000")},
		positions: []domain.Position{
			{Symbol: "BTC-USD", Quantity: dec("1"), AvgEntryPrice: dec("10")},
		},
	}
	m := New(domain.RiskLimits{MaxTradeFraction: dec("1"), MaxOpenPositions: 1}, led, memory.NewOrderJournal(), nil, slog.Default())

	prices := map[string]decimal.Decimal{"BTC-USD": dec("10"), "ETH-USD": dec("10")}
	res := m.Evaluate(context.Background(), 1, []domain.TradeIntent{
		fractionIntent("a/ETH-USD/1", "a", "ETH-USD", domain.OrderSideBuy, "0.1", 1),
		fractionIntent("a/BTC-USD/1", "a", "BTC-USD", domain.OrderSideBuy, "0.1", 1),
	}, prices)

	// Extending the existing symbol is fine; opening a second one is not.
	require.Len(t, res.Orders, 1)
	assert.Equal(t, "BTC-USD", res.Orders[0].Symbol)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "ETH-USD", res.Rejected[0].Intent.Symbol)
	assert.Equal(t, domain.RejectAllocation, res.Rejected[0].Reason)
}

func TestPriorityOrderDecidesWhoGetsCapital(t *testing.T) {
	led := newLedger(t, "100")
	m := New(domain.RiskLimits{
		MaxTradeFraction: dec("0.2"),
		Priorities:       []string{"b"},
	}, led, memory.NewOrderJournal(), nil, slog.Default())

	prices := map[string]decimal.Decimal{"BTC-USD": dec("10"), "ETH-USD": dec("10")}
	res := m.Evaluate(context.Background(), 1, []domain.TradeIntent{
		fractionIntent("a/BTC-USD/1", "a", "BTC-USD", domain.OrderSideBuy, "0.15", 1),
		fractionIntent("b/ETH-USD/1", "b", "ETH-USD", domain.OrderSideBuy, "0.15", 1),
	}, prices)

	require.Len(t, res.Orders, 1)
	assert.Equal(t, "b", res.Orders[0].StrategyID)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "a", res.Rejected[0].Intent.StrategyID)
}

func TestJournalFailureReleasesReservation(t *testing.T) {
	led := newLedger(t, "1000")
	m := New(domain.RiskLimits{MaxTradeFraction: dec("1")}, led, failingJournal{}, nil, slog.Default())

	prices := map[string]decimal.Decimal{"BTC-USD": dec("10")}
	res := m.Evaluate(context.Background(), 1, []domain.TradeIntent{
		fractionIntent("a/BTC-USD/1", "a", "BTC-USD", domain.OrderSideBuy, "0.1", 1),
	}, prices)

	assert.Empty(t, res.Orders)
	require.Len(t, res.Rejected, 1)
	assert.True(t, led.Capital().Reserved.IsZero(), "reservation rolled back")
	assert.True(t, led.Capital().Free.Equal(dec("1000")))
}

func TestOrderClosedFreesAllocation(t *testing.T) {
	led := newLedger(t, "100")
	m := New(domain.RiskLimits{
		MaxTradeFraction: dec("1"),
		Allocations:      map[string]decimal.Decimal{"a": dec("0.2")},
	}, led, memory.NewOrderJournal(), nil, slog.Default())

	prices := map[string]decimal.Decimal{"BTC-USD": dec("10")}
	res := m.Evaluate(context.Background(), 1, []domain.TradeIntent{
		fractionIntent("a/BTC-USD/1", "a", "BTC-USD", domain.OrderSideBuy, "0.15", 1),
	}, prices)
	require.Len(t, res.Orders, 1)

	// While the first order is in flight the allocation is exhausted.
	blocked := m.Evaluate(context.Background(), 2, []domain.TradeIntent{
		fractionIntent("a/BTC-USD/2", "a", "BTC-USD", domain.OrderSideBuy, "0.15", 2),
	}, prices)
	assert.Empty(t, blocked.Orders)
	require.Len(t, blocked.Rejected, 1)
	assert.Equal(t, domain.RejectAllocation, blocked.Rejected[0].Reason)

	// Terminal order that executed nothing returns the allocation in full.
	m.OrderClosed(res.Orders[0], decimal.Zero)
	led.Release(context.Background(), res.Orders[0].ReservationID)

	again := m.Evaluate(context.Background(), 3, []domain.TradeIntent{
		fractionIntent("a/BTC-USD/3", "a", "BTC-USD", domain.OrderSideBuy, "0.15", 3),
	}, prices)
	assert.Len(t, again.Orders, 1)
}

type stubLedger struct {
	capital   domain.CapitalState
	positions []domain.Position
	equity    decimal.Decimal
	drawdown  decimal.Decimal
}

func (s *stubLedger) Capital() domain.CapitalState { return s.capital }
func (s *stubLedger) Positions() []domain.Position { return s.positions }
func (s *stubLedger) Equity() decimal.Decimal      { return s.equity }
func (s *stubLedger) Drawdown() decimal.Decimal    { return s.drawdown }

func (s *stubLedger) Reserve(_ context.Context, orderID string, amount decimal.Decimal) (string, error) {
	if amount.GreaterThan(s.capital.Free) {
		return "", domain.ErrInsufficientCapital
	}
	s.capital.Free = s.capital.Free.Sub(amount)
	s.capital.Reserved = s.capital.Reserved.Add(amount)
	return "res-" + orderID, nil
}

func (s *stubLedger) Release(context.Context, string) {}

type failingJournal struct{}

func (failingJournal) Create(context.Context, domain.Order) error { return errors.New("db down") }
func (failingJournal) SetStatus(context.Context, string, domain.OrderStatus) error {
	return errors.New("db down")
}
func (failingJournal) ListOpen(context.Context) ([]domain.Order, error) {
	return nil, errors.New("db down")
}
