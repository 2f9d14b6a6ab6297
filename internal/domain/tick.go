// Package domain defines the core data model shared by every layer of the
// trading engine: ticks, intents, orders, fills, positions, capital state,
// risk limits, and the store/cache interfaces implemented by the
// infrastructure packages.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick is a normalized market data point for one symbol. Ticks are immutable
// once emitted and are delivered in monotonic timestamp order per symbol.
type Tick struct {
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	Volume    decimal.Decimal `json:"volume"`
}

// Mid returns the bid/ask midpoint, falling back to the last trade price when
// either side of the book is empty.
func (t Tick) Mid() decimal.Decimal {
	if t.Bid.IsZero() || t.Ask.IsZero() {
		return t.Last
	}
	return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
}
