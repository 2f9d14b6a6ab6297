package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/helix/internal/domain"
	"github.com/quantfall/helix/internal/ledger"
	"github.com/quantfall/helix/internal/store/memory"
)

type fakeVenue struct {
	mu          sync.Mutex
	place       func(int, domain.Order) (domain.Fill, error)
	status      func(int, string) (domain.Fill, error)
	placeCalls  int
	statusCalls int
	cancelled   []string
}

func (v *fakeVenue) GetTicks(context.Context, []string) ([]domain.Tick, error) { return nil, nil }

func (v *fakeVenue) PlaceOrder(_ context.Context, o domain.Order) (domain.Fill, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.placeCalls++
	return v.place(v.placeCalls, o)
}

func (v *fakeVenue) GetOrderStatus(_ context.Context, id string) (domain.Fill, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statusCalls++
	if v.status == nil {
		return domain.Fill{}, domain.ErrUnknownOrder
	}
	return v.status(v.statusCalls, id)
}

func (v *fakeVenue) CancelOrder(_ context.Context, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelled = append(v.cancelled, id)
	return nil
}

func (v *fakeVenue) GetAccountBalance(context.Context) (domain.CapitalState, error) {
	return domain.CapitalState{}, nil
}

type riskRecorder struct {
	mu     sync.Mutex
	closed []string
	deltas []decimal.Decimal
}

func (r *riskRecorder) OrderClosed(o domain.Order, delta decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, o.ID)
	r.deltas = append(r.deltas, delta)
}

func filled(o domain.Order, qty, price string) domain.Fill {
	q, _ := decimal.NewFromString(qty)
	p, _ := decimal.NewFromString(price)
	status := domain.FillStatusFilled
	if q.LessThan(o.Quantity) {
		status = domain.FillStatusPartial
	}
	return domain.Fill{
		OrderID:   o.ID,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Quantity:  q,
		Price:     p,
		Status:    status,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

type fixture struct {
	gw      *Gateway
	led     *ledger.Ledger
	journal *memory.OrderJournal
	risk    *riskRecorder
	order   domain.Order
}

func setup(t *testing.T, v *fakeVenue, cfg Config) *fixture {
	t.Helper()
	led := ledger.New(decimal.NewFromInt(1000), memory.NewFillLog(), memory.NewSnapshotStore(), slog.Default())
	journal := memory.NewOrderJournal()
	risk := &riskRecorder{}

	gw := New(v, led, journal, risk, nil, cfg, slog.Default())
	gw.sleep = func(context.Context, time.Duration) error { return nil }

	order := domain.Order{
		ID:       "ord-1",
		Symbol:   "BTC-USD",
		Side:     domain.OrderSideBuy,
		Quantity: decimal.NewFromInt(1),
		Type:     domain.OrderTypeMarket,
		Reserved: decimal.NewFromInt(11),
	}
	resID, err := led.Reserve(context.Background(), order.ID, order.Reserved)
	require.NoError(t, err)
	order.ReservationID = resID
	require.NoError(t, journal.Create(context.Background(), order))

	return &fixture{gw: gw, led: led, journal: journal, risk: risk, order: order}
}

func openStatuses(t *testing.T, j *memory.OrderJournal) []domain.Order {
	t.Helper()
	open, err := j.ListOpen(context.Background())
	require.NoError(t, err)
	return open
}

func TestExecuteSettlesFilledOrder(t *testing.T) {
	v := &fakeVenue{
		place: func(_ int, o domain.Order) (domain.Fill, error) {
			return filled(o, "1", "10"), nil
		},
	}
	f := setup(t, v, Config{})

	fill, err := f.gw.Execute(context.Background(), f.order)
	require.NoError(t, err)
	assert.Equal(t, domain.FillStatusFilled, fill.Status)

	pos, ok := f.led.Position("BTC-USD")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(1)))

	cap := f.led.Capital()
	assert.True(t, cap.Reserved.IsZero(), "leftover reservation released, got %s", cap.Reserved)
	assert.True(t, cap.Total.Equal(decimal.NewFromInt(990)))

	assert.Empty(t, openStatuses(t, f.journal))
	require.Len(t, f.risk.closed, 1)
	assert.Equal(t, "ord-1", f.risk.closed[0])
	assert.True(t, f.risk.deltas[0].Equal(decimal.NewFromInt(10)))
}

func TestTransientFailureRecoversViaStatusCheck(t *testing.T) {
	var executed domain.Fill
	v := &fakeVenue{}
	v.place = func(_ int, o domain.Order) (domain.Fill, error) {
		// The venue executed the order but the response was lost.
		executed = filled(o, "1", "10")
		return domain.Fill{}, fmt.Errorf("lost: %w", domain.ErrTransientVenue)
	}
	v.status = func(_ int, id string) (domain.Fill, error) {
		return executed, nil
	}
	f := setup(t, v, Config{})

	fill, err := f.gw.Execute(context.Background(), f.order)
	require.NoError(t, err)
	assert.Equal(t, domain.FillStatusFilled, fill.Status)
	assert.Equal(t, 1, v.placeCalls, "must not resubmit an order the venue already has")

	pos, ok := f.led.Position("BTC-USD")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(1)))
}

func TestTransientWithUnknownOrderResubmits(t *testing.T) {
	v := &fakeVenue{}
	v.place = func(call int, o domain.Order) (domain.Fill, error) {
		if call == 1 {
			return domain.Fill{}, fmt.Errorf("conn reset: %w", domain.ErrTransientVenue)
		}
		return filled(o, "1", "10"), nil
	}
	f := setup(t, v, Config{})

	fill, err := f.gw.Execute(context.Background(), f.order)
	require.NoError(t, err)
	assert.Equal(t, domain.FillStatusFilled, fill.Status)
	assert.Equal(t, 2, v.placeCalls)
}

func TestPermanentErrorFailsOrderAndReleasesCapital(t *testing.T) {
	v := &fakeVenue{
		place: func(int, domain.Order) (domain.Fill, error) {
			return domain.Fill{}, errors.New("invalid symbol")
		},
	}
	f := setup(t, v, Config{})

	_, err := f.gw.Execute(context.Background(), f.order)
	require.Error(t, err)
	assert.Equal(t, 1, v.placeCalls, "permanent errors are not retried")

	cap := f.led.Capital()
	assert.True(t, cap.Reserved.IsZero())
	assert.True(t, cap.Free.Equal(decimal.NewFromInt(1000)))
	assert.Empty(t, openStatuses(t, f.journal))
	assert.Len(t, f.risk.closed, 1)
}

func TestRetriesExhausted(t *testing.T) {
	v := &fakeVenue{
		place: func(int, domain.Order) (domain.Fill, error) {
			return domain.Fill{}, fmt.Errorf("down: %w", domain.ErrTransientVenue)
		},
	}
	f := setup(t, v, Config{MaxRetries: 2})

	_, err := f.gw.Execute(context.Background(), f.order)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransientVenue))
	assert.Equal(t, 3, v.placeCalls, "initial attempt plus two retries")
	assert.True(t, f.led.Capital().Reserved.IsZero())
}

func TestPendingOrderConfirmedByPolling(t *testing.T) {
	v := &fakeVenue{}
	v.place = func(_ int, o domain.Order) (domain.Fill, error) {
		return domain.Fill{OrderID: o.ID, Status: domain.FillStatusPending}, nil
	}
	v.status = func(call int, id string) (domain.Fill, error) {
		if call < 3 {
			return domain.Fill{OrderID: id, Status: domain.FillStatusPending}, nil
		}
		return domain.Fill{
			OrderID: id, Symbol: "BTC-USD", Side: domain.OrderSideBuy,
			Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(10),
			Status: domain.FillStatusFilled, Timestamp: time.Now(),
		}, nil
	}
	f := setup(t, v, Config{ConfirmTimeout: 5 * time.Second})

	fill, err := f.gw.Execute(context.Background(), f.order)
	require.NoError(t, err)
	assert.Equal(t, domain.FillStatusFilled, fill.Status)
	assert.GreaterOrEqual(t, v.statusCalls, 3)
}

func TestConfirmTimeoutCancelsOrder(t *testing.T) {
	v := &fakeVenue{}
	v.place = func(_ int, o domain.Order) (domain.Fill, error) {
		return domain.Fill{OrderID: o.ID, Status: domain.FillStatusPending}, nil
	}
	v.status = func(_ int, id string) (domain.Fill, error) {
		return domain.Fill{OrderID: id, Status: domain.FillStatusPending}, nil
	}
	f := setup(t, v, Config{ConfirmTimeout: 50 * time.Millisecond, PollInterval: 5 * time.Millisecond})

	_, err := f.gw.Execute(context.Background(), f.order)
	require.Error(t, err)
	assert.Contains(t, v.cancelled, "ord-1")
	assert.True(t, f.led.Capital().Reserved.IsZero())
	assert.Empty(t, openStatuses(t, f.journal))
}

func TestPartialFillResubmitsRemainder(t *testing.T) {
	v := &fakeVenue{}
	v.place = func(call int, o domain.Order) (domain.Fill, error) {
		if call == 1 {
			return filled(o, "0.4", "10"), nil
		}
		return filled(o, o.Quantity.String(), "10"), nil
	}
	f := setup(t, v, Config{ResubmitPartials: true})

	fill, err := f.gw.Execute(context.Background(), f.order)
	require.NoError(t, err)
	assert.Equal(t, domain.FillStatusFilled, fill.Status)
	assert.Equal(t, 2, v.placeCalls)

	pos, ok := f.led.Position("BTC-USD")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(1)), "position %s", pos.Quantity)

	cap := f.led.Capital()
	assert.True(t, cap.Reserved.IsZero())
	assert.True(t, cap.Total.Equal(decimal.NewFromInt(990)))
	assert.Empty(t, openStatuses(t, f.journal))
}

func TestPartialWithoutResubmitReleasesRemainder(t *testing.T) {
	v := &fakeVenue{}
	v.place = func(_ int, o domain.Order) (domain.Fill, error) {
		return filled(o, "0.4", "10"), nil
	}
	f := setup(t, v, Config{ResubmitPartials: false})

	fill, err := f.gw.Execute(context.Background(), f.order)
	require.NoError(t, err)
	assert.Equal(t, domain.FillStatusPartial, fill.Status)
	assert.Equal(t, 1, v.placeCalls)

	pos, ok := f.led.Position("BTC-USD")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromFloat(0.4)))

	cap := f.led.Capital()
	assert.True(t, cap.Reserved.IsZero(), "unused reservation released")
	assert.True(t, cap.Total.Equal(decimal.NewFromInt(996)))
}

func TestRejectedOrderReleasesReservation(t *testing.T) {
	v := &fakeVenue{
		place: func(_ int, o domain.Order) (domain.Fill, error) {
			return domain.Fill{OrderID: o.ID, Symbol: o.Symbol, Side: o.Side, Status: domain.FillStatusRejected}, nil
		},
	}
	f := setup(t, v, Config{})

	fill, err := f.gw.Execute(context.Background(), f.order)
	require.NoError(t, err)
	assert.Equal(t, domain.FillStatusRejected, fill.Status)

	cap := f.led.Capital()
	assert.True(t, cap.Free.Equal(decimal.NewFromInt(1000)))
	_, ok := f.led.Position("BTC-USD")
	assert.False(t, ok)
}
