package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// SizingMode selects how a TradeIntent expresses its requested size.
type SizingMode string

const (
	// SizeByFraction requests a fraction of free capital.
	SizeByFraction SizingMode = "fraction"
	// SizeByQuantity requests a fixed absolute quantity.
	SizeByQuantity SizingMode = "quantity"
)

// TradeIntent is a strategy's proposed but unapproved trade. An intent is
// consumed exactly once by the risk manager in the cycle it was produced, or
// discarded as stale.
type TradeIntent struct {
	ID         string          `json:"id"`
	StrategyID string          `json:"strategy_id"`
	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side"`
	Mode       SizingMode      `json:"mode"`
	Fraction   decimal.Decimal `json:"fraction"` // of free capital, when Mode == SizeByFraction
	Quantity   decimal.Decimal `json:"quantity"` // absolute, when Mode == SizeByQuantity
	Confidence float64         `json:"confidence"` // in [0,1]

	// Optional protective offsets relative to the entry price. Zero means unset.
	StopLossOffset   decimal.Decimal `json:"stop_loss_offset"`
	TakeProfitOffset decimal.Decimal `json:"take_profit_offset"`

	Cycle     uint64    `json:"cycle"`
	CreatedAt time.Time `json:"created_at"`
}

// RejectReason classifies why the risk manager discarded an intent.
type RejectReason string

const (
	RejectAllocation   RejectReason = "allocation"
	RejectCapital      RejectReason = "capital"
	RejectDrawdownHalt RejectReason = "drawdown_halt"
	RejectDuplicate    RejectReason = "duplicate"
	RejectStale        RejectReason = "stale"
	RejectNetted       RejectReason = "netted"
)

// RejectedIntent is the structured record emitted for every discarded intent.
// Rejected intents are never retried within the same cycle.
type RejectedIntent struct {
	Intent TradeIntent  `json:"intent"`
	Reason RejectReason `json:"reason"`
	Detail string       `json:"detail"`
}

// MergedIntent records an intent whose quantity was folded into another
// same-symbol order during arbitration. Every intent that survives validation
// is accounted for: it backs an order, appears here, or is rejected.
type MergedIntent struct {
	Intent  TradeIntent `json:"intent"`
	OrderID string      `json:"order_id"`
}
