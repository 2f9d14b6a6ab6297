package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceCache provides fast access to the latest reference prices, keyed by
// symbol. Dashboards and the risk manager read it; the feed writes it.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price decimal.Decimal, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error)
	GetPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// RateLimiter provides distributed rate limiting for venue calls.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// StatusBus publishes engine status snapshots for external dashboards.
// Consumers subscribe out of process; the engine never blocks on them.
type StatusBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}
