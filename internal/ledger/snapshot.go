package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/helix/internal/domain"
)

// Snapshot persists the current capital state, peak equity, and open
// positions. It is taken at quiescent points (after settling), when no
// reservations are outstanding; outstanding reservations are folded back into
// free capital in the written snapshot so a restart never inherits earmarks
// for orders that no longer exist.
func (l *Ledger) Snapshot(ctx context.Context) error {
	l.mu.Lock()

	capital := l.capital
	if capital.Reserved.IsPositive() {
		capital.Free = capital.Free.Add(capital.Reserved)
		capital.Reserved = decimal.Zero
	}
	snap := domain.LedgerSnapshot{
		Capital:     capital,
		PeakCapital: l.peakEquity.String(),
		Positions:   l.positionsLocked(),
		LastFillSeq: l.lastFillSeq,
		TakenAt:     time.Now().UTC(),
	}
	l.mu.Unlock()

	if err := l.snaps.Save(ctx, snap); err != nil {
		return fmt.Errorf("ledger: save snapshot: %w", err)
	}
	return nil
}

// Restore rebuilds ledger state after a restart: load the latest snapshot,
// then replay every fill recorded after it. Replayed opening fills draw from
// free capital directly since their reservations died with the old process.
// With no snapshot on record, the ledger keeps its initial state and replays
// the whole log.
func (l *Ledger) Restore(ctx context.Context) error {
	snap, err := l.snaps.Latest(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// First run, or snapshots disabled. Fall through to full replay.
	case err != nil:
		return fmt.Errorf("ledger: load snapshot: %w", err)
	default:
		peak, perr := decimal.NewFromString(snap.PeakCapital)
		if perr != nil {
			return fmt.Errorf("ledger: parse peak capital %q: %w", snap.PeakCapital, perr)
		}
		l.mu.Lock()
		l.capital = snap.Capital
		l.peakEquity = peak
		l.lastFillSeq = snap.LastFillSeq
		l.positions = make(map[string]domain.Position, len(snap.Positions))
		for _, p := range snap.Positions {
			l.positions[p.Symbol] = p
		}
		l.mu.Unlock()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.fills.ListAfter(ctx, l.lastFillSeq)
	if err != nil {
		return fmt.Errorf("ledger: list fills after seq %d: %w", l.lastFillSeq, err)
	}
	for _, rec := range records {
		if !rec.Fill.Executed() {
			continue
		}
		l.applyLocked(ctx, rec.Fill, "")
		l.lastFillSeq = rec.Seq
	}
	if eq := l.equityLocked(); eq.GreaterThan(l.peakEquity) {
		l.peakEquity = eq
	}

	if len(records) > 0 {
		l.logger.InfoContext(ctx, "ledger restored with fill replay",
			slog.Int("replayed", len(records)),
			slog.Int64("last_fill_seq", l.lastFillSeq),
		)
	}
	return nil
}
