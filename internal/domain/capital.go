package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CapitalState is the single mutable capital aggregate. It is owned by the
// ledger; every other component receives copies. Invariant at every quiescent
// point: Reserved + Free == Total.
type CapitalState struct {
	Total    decimal.Decimal `json:"total"`
	Reserved decimal.Decimal `json:"reserved"`
	Free     decimal.Decimal `json:"free"`
}

// Consistent reports whether Reserved + Free == Total.
func (c CapitalState) Consistent() bool {
	return c.Reserved.Add(c.Free).Equal(c.Total)
}

// Reservation is capital earmarked for an in-flight order. It is excluded
// from free capital until consumed by fills or released.
type Reservation struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"` // remaining earmarked notional
	CreatedAt time.Time       `json:"created_at"`
}
