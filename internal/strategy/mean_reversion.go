package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/helix/internal/domain"
)

// MeanReversion fades moves that stretch beyond entryZ standard deviations
// from the rolling mean: buy when price is far below, sell when far above.
type MeanReversion struct {
	id     string
	window int
	entryZ decimal.Decimal
	params Params

	prices map[string]*series
	// active marks symbols already faded; cleared when price returns inside
	// the band so the same stretch is not traded twice.
	active map[string]bool
}

// NewMeanReversion creates a mean-reversion strategy over a rolling window
// with an entry threshold in standard deviations.
func NewMeanReversion(id string, window int, entryZ float64, params Params) *MeanReversion {
	return &MeanReversion{
		id:     id,
		window: window,
		entryZ: decimal.NewFromFloat(entryZ),
		params: params,
		prices: make(map[string]*series),
		active: make(map[string]bool),
	}
}

func (m *MeanReversion) ID() string { return m.id }

// Observe records the last trade price for the tick's symbol.
func (m *MeanReversion) Observe(tick domain.Tick) {
	s, ok := m.prices[tick.Symbol]
	if !ok {
		s = newSeries(m.window)
		m.prices[tick.Symbol] = s
	}
	s.push(tick.Last)
}

// Propose emits a fading intent for every symbol stretched beyond the entry
// threshold.
func (m *MeanReversion) Propose(cycle uint64, now time.Time) []domain.TradeIntent {
	var intents []domain.TradeIntent
	for _, symbol := range proposalOrder(m.prices) {
		s := m.prices[symbol]
		if !s.full() {
			continue
		}
		mean := s.sma(m.window)
		std := s.stddev(m.window)
		if std.IsZero() {
			m.active[symbol] = false
			continue
		}

		z := s.last().Sub(mean).Div(std)
		if z.Abs().LessThan(m.entryZ) {
			m.active[symbol] = false
			continue
		}
		if m.active[symbol] {
			continue
		}
		m.active[symbol] = true

		side := domain.OrderSideBuy
		if z.IsPositive() {
			side = domain.OrderSideSell
		}
		zf, _ := z.Abs().Float64()
		entryZ, _ := m.entryZ.Float64()
		confidence := 0.5 + (zf-entryZ)*0.2
		intents = append(intents, newIntent(m.id, symbol, side, m.params, confidence, cycle, now))
	}
	return intents
}
