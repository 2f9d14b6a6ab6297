package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the live net exposure for one symbol. Quantity is signed:
// positive for long, negative for short. Positions exist only while the net
// quantity is non-zero and are mutated only by applying fills through the
// ledger.
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	OpenedAt      time.Time       `json:"opened_at"`
}

// Notional returns the absolute exposure of the position at the given mark.
func (p Position) Notional(mark decimal.Decimal) decimal.Decimal {
	return p.Quantity.Abs().Mul(mark)
}

// UnrealizedPnL is derived, never stored: (mark - avg entry) * quantity.
func (p Position) UnrealizedPnL(mark decimal.Decimal) decimal.Decimal {
	return mark.Sub(p.AvgEntryPrice).Mul(p.Quantity)
}
