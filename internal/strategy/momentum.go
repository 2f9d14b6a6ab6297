package strategy

import (
	"time"

	"github.com/quantfall/helix/internal/domain"
)

// Momentum trades fast/slow moving-average crossovers: a fast SMA crossing
// above the slow SMA proposes a buy, crossing below proposes a sell. One
// intent per crossover, not per cycle.
type Momentum struct {
	id     string
	fast   int
	slow   int
	params Params

	prices map[string]*series
	// lastSide remembers the side of the most recent crossover per symbol so
	// a persistent trend does not re-propose every cycle.
	lastSide map[string]domain.OrderSide
}

// NewMomentum creates a momentum strategy with the given SMA window lengths.
// fast must be shorter than slow.
func NewMomentum(id string, fast, slow int, params Params) *Momentum {
	return &Momentum{
		id:       id,
		fast:     fast,
		slow:     slow,
		params:   params,
		prices:   make(map[string]*series),
		lastSide: make(map[string]domain.OrderSide),
	}
}

func (m *Momentum) ID() string { return m.id }

// Observe records the last trade price for the tick's symbol.
func (m *Momentum) Observe(tick domain.Tick) {
	s, ok := m.prices[tick.Symbol]
	if !ok {
		s = newSeries(m.slow + 1)
		m.prices[tick.Symbol] = s
	}
	s.push(tick.Last)
}

// Propose emits an intent for every symbol whose fast SMA is on the other
// side of the slow SMA than at the previous proposal.
func (m *Momentum) Propose(cycle uint64, now time.Time) []domain.TradeIntent {
	var intents []domain.TradeIntent
	for _, symbol := range proposalOrder(m.prices) {
		s := m.prices[symbol]
		if !s.full() {
			continue
		}
		fast := s.sma(m.fast)
		slow := s.sma(m.slow)
		if fast.Equal(slow) || slow.IsZero() {
			continue
		}

		side := domain.OrderSideSell
		if fast.GreaterThan(slow) {
			side = domain.OrderSideBuy
		}
		if m.lastSide[symbol] == side {
			continue
		}
		m.lastSide[symbol] = side

		// Confidence scales with the relative gap between the averages.
		gap, _ := fast.Sub(slow).Abs().Div(slow).Float64()
		confidence := 0.5 + gap*50
		intents = append(intents, newIntent(m.id, symbol, side, m.params, confidence, cycle, now))
	}
	return intents
}
