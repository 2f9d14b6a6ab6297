// Package ledger owns the engine's capital and position state. All mutation
// goes through Reserve, Release, and ApplyFill, serialized by a single
// writer lock so concurrent strategies can never double-spend capital.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantfall/helix/internal/domain"
)

// Ledger is the single source of truth for available capital, open positions,
// and realized P&L. Capital figures are cash: Total == Reserved + Free at all
// times. Capital committed to open positions is tracked separately as margin
// (quantity times average entry) and flows back through ApplyFill on
// reducing fills.
type Ledger struct {
	mu sync.Mutex

	capital      domain.CapitalState
	positions    map[string]domain.Position
	reservations map[string]*domain.Reservation
	peakEquity   decimal.Decimal
	lastFillSeq  int64

	fills  domain.FillLog
	snaps  domain.SnapshotStore
	logger *slog.Logger
}

// New creates a Ledger starting from the given cash capital.
func New(initial decimal.Decimal, fills domain.FillLog, snaps domain.SnapshotStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		capital: domain.CapitalState{
			Total:    initial,
			Reserved: decimal.Zero,
			Free:     initial,
		},
		positions:    make(map[string]domain.Position),
		reservations: make(map[string]*domain.Reservation),
		peakEquity:   initial,
		fills:        fills,
		snaps:        snaps,
		logger:       logger.With(slog.String("component", "ledger")),
	}
}

// Capital returns a copy of the current capital state.
func (l *Ledger) Capital() domain.CapitalState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.capital
}

// Positions returns all open positions sorted by symbol.
func (l *Ledger) Positions() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.positionsLocked()
}

func (l *Ledger) positionsLocked() []domain.Position {
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Position returns the open position for a symbol, if any.
func (l *Ledger) Position(symbol string) (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[symbol]
	return p, ok
}

// Equity is cash plus margin held in open positions, valued at entry. It is
// the figure drawdown is measured against: a fully invested book is not a
// drawdown.
func (l *Ledger) Equity() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.equityLocked()
}

func (l *Ledger) equityLocked() decimal.Decimal {
	eq := l.capital.Total
	for _, p := range l.positions {
		eq = eq.Add(p.Quantity.Abs().Mul(p.AvgEntryPrice))
	}
	return eq
}

// PeakEquity returns the highest equity observed since start (or restore).
func (l *Ledger) PeakEquity() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peakEquity
}

// Drawdown returns (peak equity - current equity) / peak equity.
func (l *Ledger) Drawdown() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.peakEquity.IsPositive() {
		return decimal.Zero
	}
	return l.peakEquity.Sub(l.equityLocked()).Div(l.peakEquity)
}

// ReservedTotal returns the sum of all outstanding reservations.
func (l *Ledger) ReservedTotal() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.capital.Reserved
}

// Reserve earmarks amount for the given order, moving it from free to
// reserved. It returns the reservation id, or ErrInsufficientCapital when
// free capital cannot cover the amount.
func (l *Ledger) Reserve(ctx context.Context, orderID string, amount decimal.Decimal) (string, error) {
	if !amount.IsPositive() {
		return "", fmt.Errorf("ledger: reserve amount must be positive, got %s", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.capital.Free.LessThan(amount) {
		return "", fmt.Errorf("ledger: reserve %s for order %s (free %s): %w",
			amount, orderID, l.capital.Free, domain.ErrInsufficientCapital)
	}

	res := &domain.Reservation{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}
	l.capital.Free = l.capital.Free.Sub(amount)
	l.capital.Reserved = l.capital.Reserved.Add(amount)
	l.reservations[res.ID] = res

	l.logger.DebugContext(ctx, "capital reserved",
		slog.String("reservation_id", res.ID),
		slog.String("order_id", orderID),
		slog.String("amount", amount.String()),
	)
	return res.ID, nil
}

// Release returns a reservation's remaining amount to free capital. Releasing
// an unknown (already consumed) reservation is a no-op.
func (l *Ledger) Release(ctx context.Context, reservationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releaseLocked(ctx, reservationID)
}

func (l *Ledger) releaseLocked(ctx context.Context, reservationID string) {
	res, ok := l.reservations[reservationID]
	if !ok {
		return
	}
	delete(l.reservations, reservationID)
	if res.Amount.IsPositive() {
		l.capital.Reserved = l.capital.Reserved.Sub(res.Amount)
		l.capital.Free = l.capital.Free.Add(res.Amount)
	}
	l.logger.DebugContext(ctx, "reservation released",
		slog.String("reservation_id", reservationID),
		slog.String("returned", res.Amount.String()),
	)
}

// ApplyFill settles an executed fill into capital and positions, consuming
// the order's reservation for opening quantity and realizing P&L on reducing
// quantity. It appends the fill to the durable log before mutating state.
// reservationID may be empty during replay; the opening cost then comes
// straight from free capital.
func (l *Ledger) ApplyFill(ctx context.Context, f domain.Fill, reservationID string) (domain.Position, domain.CapitalState, error) {
	if !f.Executed() {
		return domain.Position{}, domain.CapitalState{}, fmt.Errorf("ledger: fill for order %s has no executed quantity (status %s)", f.OrderID, f.Status)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seq, err := l.fills.Append(ctx, f)
	if err != nil {
		return domain.Position{}, domain.CapitalState{}, fmt.Errorf("ledger: append fill for order %s: %w", f.OrderID, err)
	}
	l.lastFillSeq = seq

	pos := l.applyLocked(ctx, f, reservationID)

	if eq := l.equityLocked(); eq.GreaterThan(l.peakEquity) {
		l.peakEquity = eq
	}
	return pos, l.capital, nil
}

// applyLocked mutates capital and positions for one executed fill.
func (l *Ledger) applyLocked(ctx context.Context, f domain.Fill, reservationID string) domain.Position {
	signed := f.Quantity
	if f.Side == domain.OrderSideSell {
		signed = signed.Neg()
	}

	pos := l.positions[f.Symbol]
	pos.Symbol = f.Symbol

	remaining := signed
	// Reducing leg: the fill moves against the existing position.
	if !pos.Quantity.IsZero() && pos.Quantity.Sign() != signed.Sign() {
		reduce := decimal.Min(pos.Quantity.Abs(), signed.Abs())
		pnl := f.Price.Sub(pos.AvgEntryPrice).Mul(reduce)
		if pos.Quantity.Sign() < 0 {
			pnl = pnl.Neg()
		}
		margin := pos.AvgEntryPrice.Mul(reduce)
		returned := margin.Add(pnl)

		l.capital.Total = l.capital.Total.Add(returned)
		l.capital.Free = l.capital.Free.Add(returned)

		if pos.Quantity.Sign() > 0 {
			pos.Quantity = pos.Quantity.Sub(reduce)
		} else {
			pos.Quantity = pos.Quantity.Add(reduce)
		}
		if signed.Sign() > 0 {
			remaining = signed.Sub(reduce)
		} else {
			remaining = signed.Add(reduce)
		}

		l.logger.InfoContext(ctx, "pnl realized",
			slog.String("symbol", f.Symbol),
			slog.String("quantity", reduce.String()),
			slog.String("pnl", pnl.String()),
		)
	}

	// Opening leg: whatever is left extends (or opens) the position. The cost
	// comes out of the order's reservation, falling back to free capital when
	// the reservation is exhausted or absent (replay).
	if !remaining.IsZero() {
		cost := f.Price.Mul(remaining.Abs())
		l.consumeLocked(reservationID, cost)
		l.capital.Total = l.capital.Total.Sub(cost)

		if pos.Quantity.IsZero() {
			pos.AvgEntryPrice = f.Price
			pos.OpenedAt = f.Timestamp
		} else {
			// Weighted average entry on same-side adds.
			oldNotional := pos.AvgEntryPrice.Mul(pos.Quantity.Abs())
			newNotional := f.Price.Mul(remaining.Abs())
			totalQty := pos.Quantity.Abs().Add(remaining.Abs())
			pos.AvgEntryPrice = oldNotional.Add(newNotional).Div(totalQty)
		}
		pos.Quantity = pos.Quantity.Add(remaining)
	}

	// Fees settle atomically with the fill.
	if f.Fee.IsPositive() {
		l.consumeLocked(reservationID, f.Fee)
		l.capital.Total = l.capital.Total.Sub(f.Fee)
	}

	if pos.Quantity.IsZero() {
		delete(l.positions, f.Symbol)
		pos.AvgEntryPrice = decimal.Zero
	} else {
		l.positions[f.Symbol] = pos
	}
	return pos
}

// consumeLocked deducts amount from the reservation's remaining balance,
// taking any shortfall from free capital so the cash invariant holds.
func (l *Ledger) consumeLocked(reservationID string, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	fromReserved := decimal.Zero
	if res, ok := l.reservations[reservationID]; ok {
		fromReserved = decimal.Min(res.Amount, amount)
		res.Amount = res.Amount.Sub(fromReserved)
	}
	l.capital.Reserved = l.capital.Reserved.Sub(fromReserved)
	l.capital.Free = l.capital.Free.Sub(amount.Sub(fromReserved))
}

// VerifyAgainst compares the ledger's cash total with a venue-reported
// balance. A difference beyond tolerance is a reconciliation mismatch: the
// caller must halt, and the ledger never adjusts its own figures to match.
func (l *Ledger) VerifyAgainst(venue domain.CapitalState, tolerance decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	diff := l.capital.Total.Sub(venue.Total).Abs()
	if diff.GreaterThan(tolerance) {
		return fmt.Errorf("ledger: cash %s vs venue %s (diff %s, tolerance %s): %w",
			l.capital.Total, venue.Total, diff, tolerance, domain.ErrReconciliationMismatch)
	}
	return nil
}
