package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderType indicates the price constraint of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus tracks the lifecycle of an order in the journal. An order is
// owned by the execution gateway from creation until it reaches a terminal
// status.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusSettled   OrderStatus = "settled"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is a risk-approved, sized instruction to trade. ID doubles as the
// venue correlation id: resubmissions of the same Order carry the same ID so
// the venue side can be reconciled idempotently.
type Order struct {
	ID         string          `json:"id"` // uuid correlation id
	IntentID   string          `json:"intent_id"`
	StrategyID string          `json:"strategy_id"`
	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Type       OrderType       `json:"type"`
	LimitPrice decimal.Decimal `json:"limit_price"` // zero for market orders

	// ReservationID and Reserved tie the order to the capital earmarked for
	// it in the ledger. The reservation is consumed by fills and released on
	// failure or cancellation.
	ReservationID string          `json:"reservation_id"`
	Reserved      decimal.Decimal `json:"reserved"`

	Cycle     uint64    `json:"cycle"`
	CreatedAt time.Time `json:"created_at"`
}

// Notional returns the capital the order commits at the given reference price.
func (o Order) Notional(refPrice decimal.Decimal) decimal.Decimal {
	price := o.LimitPrice
	if o.Type == OrderTypeMarket || price.IsZero() {
		price = refPrice
	}
	return o.Quantity.Mul(price)
}
