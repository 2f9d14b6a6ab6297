package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FillStatus is the outcome of an order submission.
type FillStatus string

const (
	// FillStatusPending means the venue acknowledged the order but has not
	// yet produced a terminal outcome. Pending fills are never applied to
	// the ledger; the gateway polls order status until a terminal fill
	// arrives or the confirmation timeout elapses.
	FillStatusPending FillStatus = "pending"

	FillStatusFilled        FillStatus = "filled"
	FillStatusPartial       FillStatus = "partially_filled"
	FillStatusRejected      FillStatus = "rejected"
	FillStatusFailed        FillStatus = "failed"
)

// Fill is the venue-confirmed outcome of an order submission. Terminal fills
// are append-only: once recorded they are never mutated.
type Fill struct {
	OrderID   string          `json:"order_id"` // correlation id
	Symbol    string          `json:"symbol"`
	Side      OrderSide       `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"` // executed quantity
	Price     decimal.Decimal `json:"price"`    // executed price
	Fee       decimal.Decimal `json:"fee"`
	Status    FillStatus      `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
}

// Terminal reports whether the fill is a final disposition for its submission.
func (f Fill) Terminal() bool {
	return f.Status != FillStatusPending
}

// Executed reports whether the fill moved any quantity.
func (f Fill) Executed() bool {
	return (f.Status == FillStatusFilled || f.Status == FillStatusPartial) && f.Quantity.IsPositive()
}

// Notional returns executed quantity times executed price.
func (f Fill) Notional() decimal.Decimal {
	return f.Quantity.Mul(f.Price)
}
