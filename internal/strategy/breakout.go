package strategy

import (
	"time"

	"github.com/quantfall/helix/internal/domain"
)

// Breakout buys when the last price clears the rolling high of the preceding
// lookback window and sells when it breaks the rolling low.
type Breakout struct {
	id       string
	lookback int
	params   Params

	prices   map[string]*series
	lastSide map[string]domain.OrderSide
}

// NewBreakout creates a breakout strategy over the given channel lookback.
func NewBreakout(id string, lookback int, params Params) *Breakout {
	return &Breakout{
		id:       id,
		lookback: lookback,
		params:   params,
		prices:   make(map[string]*series),
		lastSide: make(map[string]domain.OrderSide),
	}
}

func (b *Breakout) ID() string { return b.id }

// Observe records the last trade price for the tick's symbol.
func (b *Breakout) Observe(tick domain.Tick) {
	s, ok := b.prices[tick.Symbol]
	if !ok {
		s = newSeries(b.lookback + 1)
		b.prices[tick.Symbol] = s
	}
	s.push(tick.Last)
}

// Propose emits one intent per channel break; re-breaks in the same
// direction are suppressed until the opposite channel breaks.
func (b *Breakout) Propose(cycle uint64, now time.Time) []domain.TradeIntent {
	var intents []domain.TradeIntent
	for _, symbol := range proposalOrder(b.prices) {
		s := b.prices[symbol]
		if !s.full() {
			continue
		}
		last := s.last()
		high := s.highest(b.lookback, 1)
		low := s.lowest(b.lookback, 1)

		var side domain.OrderSide
		switch {
		case last.GreaterThan(high):
			side = domain.OrderSideBuy
		case last.LessThan(low):
			side = domain.OrderSideSell
		default:
			continue
		}
		if b.lastSide[symbol] == side {
			continue
		}
		b.lastSide[symbol] = side

		var edge float64
		if side == domain.OrderSideBuy && high.IsPositive() {
			edge, _ = last.Sub(high).Div(high).Float64()
		} else if low.IsPositive() {
			edge, _ = low.Sub(last).Div(low).Float64()
		}
		confidence := 0.5 + edge*25
		intents = append(intents, newIntent(b.id, symbol, side, b.params, confidence, cycle, now))
	}
	return intents
}
