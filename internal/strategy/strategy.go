// Package strategy defines the decision capability the engine runs: each
// strategy observes normalized ticks and proposes trade intents. Strategies
// never touch the ledger or the execution gateway; the risk manager decides
// what becomes an order.
package strategy

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/helix/internal/domain"
)

// Strategy is a deterministic function of its observed tick history and
// internal state. Observe must be cheap and non-blocking; Propose returns
// zero or more intents for the current cycle and must not retain references
// to them afterwards.
type Strategy interface {
	// ID is the stable identifier used for allocation, priority, and the
	// control boundary.
	ID() string
	// Observe feeds one tick. Ticks arrive in timestamp order per symbol.
	Observe(tick domain.Tick)
	// Propose returns the strategy's intents for the given cycle.
	Propose(cycle uint64, now time.Time) []domain.TradeIntent
}

// Params carries the per-strategy tuning shared by the reference strategies.
type Params struct {
	// Fraction of free capital each intent requests.
	Fraction decimal.Decimal
	// StopLossOffset / TakeProfitOffset are absolute price offsets attached
	// to intents. Zero leaves them unset.
	StopLossOffset   decimal.Decimal
	TakeProfitOffset decimal.Decimal
}

// proposalOrder returns the tracked symbols sorted lexicographically. Map
// iteration order must not leak into the emitted intent order: arbitration is
// order-sensitive under capital scarcity, and identical replays have to
// produce identical proposals.
func proposalOrder(prices map[string]*series) []string {
	symbols := make([]string, 0, len(prices))
	for s := range prices {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// intentID builds the deterministic intent id used by all reference
// strategies, which makes replay-based testing and duplicate detection
// stable across runs.
func intentID(strategyID, symbol string, cycle uint64) string {
	return fmt.Sprintf("%s/%s/%d", strategyID, symbol, cycle)
}

func newIntent(strategyID string, symbol string, side domain.OrderSide, p Params, confidence float64, cycle uint64, now time.Time) domain.TradeIntent {
	if confidence > 1 {
		confidence = 1
	}
	return domain.TradeIntent{
		ID:               intentID(strategyID, symbol, cycle),
		StrategyID:       strategyID,
		Symbol:           symbol,
		Side:             side,
		Mode:             domain.SizeByFraction,
		Fraction:         p.Fraction,
		Confidence:       confidence,
		StopLossOffset:   p.StopLossOffset,
		TakeProfitOffset: p.TakeProfitOffset,
		Cycle:            cycle,
		CreatedAt:        now,
	}
}
