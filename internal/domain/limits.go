package domain

import "github.com/shopspring/decimal"

// RiskLimits is the immutable risk configuration loaded at startup. The
// control boundary may install a replacement set at run time through the risk
// manager; the loaded config itself is never mutated.
type RiskLimits struct {
	// MaxTradeFraction caps a single order's notional at this fraction of
	// total capital.
	MaxTradeFraction decimal.Decimal `json:"max_trade_fraction"`

	// MaxOpenPositions caps the number of concurrent open positions.
	MaxOpenPositions int `json:"max_open_positions"`

	// MaxDrawdown is the peak-to-current capital loss fraction at which the
	// engine halts, e.g. 0.25 for 25%.
	MaxDrawdown decimal.Decimal `json:"max_drawdown"`

	// Allocations maps strategy id to the fraction of total capital that
	// strategy may commit across its open exposure.
	Allocations map[string]decimal.Decimal `json:"allocations"`

	// Priorities orders strategy ids for stable tie-breaking when capital
	// runs out within a cycle. Strategies absent from the list rank last,
	// in registry order.
	Priorities []string `json:"priorities"`

	// MaxSymbolNotional caps per-symbol exposure. Zero means uncapped.
	MaxSymbolNotional decimal.Decimal `json:"max_symbol_notional"`

	// NettingTolerance is the residual quantity below which two opposing
	// same-symbol intents in one cycle cancel into no order at all.
	NettingTolerance decimal.Decimal `json:"netting_tolerance"`
}

// PriorityRank returns the tie-break rank for a strategy: lower is stronger.
// Unlisted strategies rank after every listed one.
func (r RiskLimits) PriorityRank(strategyID string) int {
	for i, id := range r.Priorities {
		if id == strategyID {
			return i
		}
	}
	return len(r.Priorities)
}
