// Package venue defines the execution venue boundary. Implementations talk to
// a real exchange over REST or simulate one in process; the rest of the
// engine only sees this interface.
package venue

import (
	"context"

	"github.com/quantfall/helix/internal/domain"
)

// Adapter is the complete venue surface the engine depends on.
//
// PlaceOrder submits an order identified by its engine-generated UUID and
// returns the venue's fill report, which may be non-terminal (pending). The
// order ID doubles as the venue idempotency key: resubmitting an ID the venue
// has already seen must not create a second order.
//
// GetOrderStatus returns the latest fill report for an order the venue has
// seen, or domain.ErrUnknownOrder.
//
// Transient failures (timeouts, 5xx, rate limits) are reported as errors
// wrapping domain.ErrTransientVenue so the gateway can retry; anything else
// is treated as permanent.
type Adapter interface {
	GetTicks(ctx context.Context, symbols []string) ([]domain.Tick, error)
	PlaceOrder(ctx context.Context, order domain.Order) (domain.Fill, error)
	GetOrderStatus(ctx context.Context, orderID string) (domain.Fill, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetAccountBalance(ctx context.Context) (domain.CapitalState, error)
}
