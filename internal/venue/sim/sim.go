// Package sim is an in-process execution venue for paper trading and tests.
// Given the same seed and order sequence it produces identical prices and
// fills, so paper runs are reproducible.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/helix/internal/domain"
)

// Config controls the simulated venue's market and execution behavior.
type Config struct {
	// StartPrices seeds the random walk per symbol.
	StartPrices map[string]decimal.Decimal

	// Volatility is the maximum fractional price move per tick, e.g. 0.002.
	Volatility decimal.Decimal

	// Slippage is the fractional price penalty applied to every fill.
	Slippage decimal.Decimal

	// Fee is the fractional fee charged on executed notional.
	Fee decimal.Decimal

	// PartialEvery makes every Nth order fill only PartialRatio of its
	// quantity. Zero disables partial fills.
	PartialEvery int
	PartialRatio decimal.Decimal

	// TransientEvery makes every Nth PlaceOrder fail with a transient error
	// after the venue has executed the order, exercising the caller's
	// status-check recovery path. Zero disables.
	TransientEvery int

	// RejectEvery makes every Nth order come back rejected with nothing
	// executed. Zero disables.
	RejectEvery int

	// Seed fixes the price walk and fill randomness.
	Seed int64

	// StartBalance is the venue-side cash balance.
	StartBalance decimal.Decimal
}

// Venue implements the venue adapter surface in memory.
type Venue struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	rng     *rand.Rand
	prices  map[string]decimal.Decimal
	orders  map[string]domain.Fill
	balance decimal.Decimal
	placed  int

	now func() time.Time
}

// New creates a simulated venue.
func New(cfg Config, logger *slog.Logger) *Venue {
	prices := make(map[string]decimal.Decimal, len(cfg.StartPrices))
	for sym, p := range cfg.StartPrices {
		prices[sym] = p
	}
	return &Venue{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "venue.sim")),
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		prices:  prices,
		orders:  make(map[string]domain.Fill),
		balance: cfg.StartBalance,
		now:     time.Now,
	}
}

// GetTicks advances the price walk one step and returns a tick per requested
// symbol. Unknown symbols are skipped.
func (v *Venue) GetTicks(_ context.Context, symbols []string) ([]domain.Tick, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	at := v.now()
	ticks := make([]domain.Tick, 0, len(symbols))
	for _, sym := range symbols {
		price, ok := v.prices[sym]
		if !ok {
			continue
		}
		// Symmetric walk: move in (-vol, +vol) of the current price.
		move := decimal.NewFromFloat(v.rng.Float64()*2 - 1).Mul(v.cfg.Volatility)
		price = price.Mul(decimal.NewFromInt(1).Add(move))
		if !price.IsPositive() {
			price = v.cfg.StartPrices[sym]
		}
		v.prices[sym] = price

		halfSpread := price.Mul(decimal.NewFromFloat(0.00025))
		ticks = append(ticks, domain.Tick{
			Symbol:    sym,
			Timestamp: at,
			Bid:       price.Sub(halfSpread),
			Ask:       price.Add(halfSpread),
			Last:      price,
			Volume:    decimal.NewFromFloat(v.rng.Float64() * 100),
		})
	}
	return ticks, nil
}

// PlaceOrder executes an order against the current simulated price.
// Resubmitting an order ID the venue already executed returns the recorded
// fill unchanged.
func (v *Venue) PlaceOrder(_ context.Context, order domain.Order) (domain.Fill, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if fill, seen := v.orders[order.ID]; seen {
		return fill, nil
	}

	price, ok := v.prices[order.Symbol]
	if !ok {
		return domain.Fill{}, fmt.Errorf("sim: place order %s: %w", order.ID, domain.ErrUnknownSymbol)
	}

	v.placed++

	if v.cfg.RejectEvery > 0 && v.placed%v.cfg.RejectEvery == 0 {
		fill := domain.Fill{
			OrderID:   order.ID,
			Symbol:    order.Symbol,
			Side:      order.Side,
			Status:    domain.FillStatusRejected,
			Timestamp: v.now(),
		}
		v.orders[order.ID] = fill
		return fill, nil
	}

	fill := v.executeLocked(order, price)
	v.orders[order.ID] = fill

	if v.cfg.TransientEvery > 0 && v.placed%v.cfg.TransientEvery == 0 {
		// The order executed but the response is lost in transit.
		return domain.Fill{}, fmt.Errorf("sim: place order %s: response lost: %w", order.ID, domain.ErrTransientVenue)
	}
	return fill, nil
}

// executeLocked fills the order with slippage and fees and settles the
// venue-side balance.
func (v *Venue) executeLocked(order domain.Order, price decimal.Decimal) domain.Fill {
	slip := price.Mul(v.cfg.Slippage)
	fillPrice := price.Add(slip)
	if order.Side == domain.OrderSideSell {
		fillPrice = price.Sub(slip)
	}

	qty := order.Quantity
	status := domain.FillStatusFilled
	if v.cfg.PartialEvery > 0 && v.placed%v.cfg.PartialEvery == 0 && v.cfg.PartialRatio.IsPositive() {
		qty = qty.Mul(v.cfg.PartialRatio)
		status = domain.FillStatusPartial
	}

	notional := qty.Mul(fillPrice)
	fee := notional.Mul(v.cfg.Fee)

	if order.Side == domain.OrderSideBuy {
		v.balance = v.balance.Sub(notional).Sub(fee)
	} else {
		v.balance = v.balance.Add(notional).Sub(fee)
	}

	return domain.Fill{
		OrderID:   order.ID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Quantity:  qty,
		Price:     fillPrice,
		Fee:       fee,
		Status:    status,
		Timestamp: v.now(),
	}
}

// GetOrderStatus returns the recorded fill for an order.
func (v *Venue) GetOrderStatus(_ context.Context, orderID string) (domain.Fill, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fill, ok := v.orders[orderID]
	if !ok {
		return domain.Fill{}, fmt.Errorf("sim: order %s: %w", orderID, domain.ErrUnknownOrder)
	}
	return fill, nil
}

// CancelOrder marks a known non-terminal order as cancelled. Terminal orders
// are left untouched.
func (v *Venue) CancelOrder(_ context.Context, orderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	fill, ok := v.orders[orderID]
	if !ok {
		return fmt.Errorf("sim: cancel order %s: %w", orderID, domain.ErrUnknownOrder)
	}
	if fill.Status == domain.FillStatusPending {
		fill.Status = domain.FillStatusRejected
		v.orders[orderID] = fill
	}
	return nil
}

// GetAccountBalance reports the venue-side cash balance.
func (v *Venue) GetAccountBalance(context.Context) (domain.CapitalState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return domain.CapitalState{Total: v.balance, Free: v.balance}, nil
}
