// Package gateway owns order submission to the venue. It is the only
// component that calls PlaceOrder, and it guarantees that an order reaches
// exactly one terminal disposition in the journal and the ledger no matter
// how the venue misbehaves in between.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantfall/helix/internal/domain"
	"github.com/quantfall/helix/internal/venue"
)

// Ledger is the slice of the capital ledger the gateway needs to settle fills.
type Ledger interface {
	ApplyFill(ctx context.Context, f domain.Fill, reservationID string) (domain.Position, domain.CapitalState, error)
	Release(ctx context.Context, reservationID string)
	Position(symbol string) (domain.Position, bool)
}

// RiskNotifier receives terminal order notifications so per-strategy
// commitments can be unwound.
type RiskNotifier interface {
	OrderClosed(order domain.Order, heldDelta decimal.Decimal)
}

// Config tunes retry and confirmation behavior.
type Config struct {
	// MaxRetries bounds transient-failure resubmissions per order.
	MaxRetries int

	// RetryBase is the first backoff delay; it doubles per attempt.
	RetryBase time.Duration

	// ConfirmTimeout bounds how long a pending order is polled before the
	// gateway cancels it and gives up.
	ConfirmTimeout time.Duration

	// PollInterval is the pending-order status poll cadence.
	PollInterval time.Duration

	// ResubmitPartials resubmits the unexecuted remainder of a partial fill
	// once. When false the remainder is abandoned and its capital released.
	ResubmitPartials bool

	// RateLimit and RateWindow throttle venue order submissions when a rate
	// limiter is wired. Zero RateLimit disables throttling.
	RateLimit  int
	RateWindow time.Duration
}

// Gateway submits risk-approved orders and settles their outcomes.
type Gateway struct {
	venue   venue.Adapter
	ledger  Ledger
	journal domain.OrderJournal
	risk    RiskNotifier
	limiter domain.RateLimiter // may be nil
	cfg     Config
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Gateway.
func New(v venue.Adapter, ledger Ledger, journal domain.OrderJournal, risk RiskNotifier, limiter domain.RateLimiter, cfg Config, logger *slog.Logger) *Gateway {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 30 * time.Second
	}
	return &Gateway{
		venue:   v,
		ledger:  ledger,
		journal: journal,
		risk:    risk,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "gateway")),
		locks:   make(map[string]*sync.Mutex),
		sleep:   sleepCtx,
	}
}

// Execute submits one order and drives it to a terminal disposition: the fill
// is settled into the ledger, the journal status is final, the remaining
// reservation is released, and the risk manager is notified. Orders for the
// same symbol are serialized; different symbols may execute concurrently.
func (g *Gateway) Execute(ctx context.Context, order domain.Order) (domain.Fill, error) {
	lock := g.symbolLock(order.Symbol)
	lock.Lock()
	defer lock.Unlock()

	return g.execute(ctx, order, true)
}

func (g *Gateway) execute(ctx context.Context, order domain.Order, allowResubmit bool) (domain.Fill, error) {
	if err := g.throttle(ctx); err != nil {
		g.fail(ctx, order, domain.OrderStatusFailed, decimal.Zero)
		return domain.Fill{}, fmt.Errorf("gateway: throttle order %s: %w", order.ID, err)
	}

	fill, err := g.submit(ctx, order)
	if err != nil {
		g.fail(ctx, order, domain.OrderStatusFailed, decimal.Zero)
		return domain.Fill{}, err
	}

	if !fill.Terminal() {
		fill, err = g.confirm(ctx, order)
		if err != nil {
			g.fail(ctx, order, domain.OrderStatusCancelled, decimal.Zero)
			return domain.Fill{}, err
		}
	}

	return g.settle(ctx, order, fill, allowResubmit)
}

// submit places the order, retrying transient failures with exponential
// backoff. After every transient failure it checks order status first: if the
// venue executed the original submission, that fill is used and no duplicate
// is sent.
func (g *Gateway) submit(ctx context.Context, order domain.Order) (domain.Fill, error) {
	delay := g.cfg.RetryBase

	var lastErr error
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := g.sleep(ctx, delay); err != nil {
				return domain.Fill{}, fmt.Errorf("gateway: submit order %s: %w", order.ID, err)
			}
			delay *= 2
		}

		fill, err := g.venue.PlaceOrder(ctx, order)
		if err == nil {
			return fill, nil
		}
		lastErr = err

		if !domain.IsTransientVenue(err) {
			return domain.Fill{}, fmt.Errorf("gateway: submit order %s: %w", order.ID, err)
		}

		g.logger.WarnContext(ctx, "transient venue failure on submit",
			slog.String("order_id", order.ID),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)

		// The venue may have executed the order before the response was
		// lost. Only resubmit when it has provably never seen the id.
		known, serr := g.venue.GetOrderStatus(ctx, order.ID)
		if serr == nil {
			return known, nil
		}
		if !errors.Is(serr, domain.ErrUnknownOrder) {
			continue
		}
	}

	return domain.Fill{}, fmt.Errorf("gateway: submit order %s: retries exhausted: %w", order.ID, lastErr)
}

// confirm polls a pending order until it turns terminal or the confirmation
// window closes, at which point the order is cancelled best-effort.
func (g *Gateway) confirm(ctx context.Context, order domain.Order) (domain.Fill, error) {
	deadline := time.Now().Add(g.cfg.ConfirmTimeout)

	for time.Now().Before(deadline) {
		if err := g.sleep(ctx, g.cfg.PollInterval); err != nil {
			return domain.Fill{}, fmt.Errorf("gateway: confirm order %s: %w", order.ID, err)
		}

		fill, err := g.venue.GetOrderStatus(ctx, order.ID)
		if err != nil {
			if domain.IsTransientVenue(err) {
				continue
			}
			return domain.Fill{}, fmt.Errorf("gateway: confirm order %s: %w", order.ID, err)
		}
		if fill.Terminal() {
			return fill, nil
		}
	}

	if err := g.venue.CancelOrder(ctx, order.ID); err != nil {
		g.logger.WarnContext(ctx, "cancel after confirm timeout failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}

	// The cancel may have raced a fill; take whatever the venue settled on.
	if fill, err := g.venue.GetOrderStatus(ctx, order.ID); err == nil && fill.Terminal() {
		if fill.Executed() {
			return fill, nil
		}
	}

	return domain.Fill{}, fmt.Errorf("gateway: order %s unconfirmed after %s", order.ID, g.cfg.ConfirmTimeout)
}

// settle applies a terminal fill to the ledger, finalizes the journal entry,
// releases leftover reservation, and notifies the risk manager. A partial
// fill's remainder is resubmitted at most once.
func (g *Gateway) settle(ctx context.Context, order domain.Order, fill domain.Fill, allowResubmit bool) (domain.Fill, error) {
	if !fill.Executed() {
		status := domain.OrderStatusFailed
		if fill.Status == domain.FillStatusRejected {
			g.logger.WarnContext(ctx, "order rejected by venue",
				slog.String("order_id", order.ID),
				slog.String("symbol", order.Symbol),
			)
		}
		g.fail(ctx, order, status, decimal.Zero)
		return fill, nil
	}

	heldDelta := g.heldDelta(order.Symbol, fill)

	if _, _, err := g.ledger.ApplyFill(ctx, fill, order.ReservationID); err != nil {
		// The fill happened at the venue; failing to book it locally is a
		// state divergence the engine must halt on.
		return fill, fmt.Errorf("gateway: settle order %s: %v: %w", order.ID, err, domain.ErrReconciliationMismatch)
	}

	remainder := order.Quantity.Sub(fill.Quantity)
	if fill.Status == domain.FillStatusPartial && remainder.IsPositive() && g.cfg.ResubmitPartials && allowResubmit {
		g.finish(ctx, order, domain.OrderStatusSettled, heldDelta, false)
		return g.resubmitRemainder(ctx, order, fill, remainder)
	}

	g.finish(ctx, order, domain.OrderStatusSettled, heldDelta, true)
	return fill, nil
}

// resubmitRemainder sends the unexecuted part of a partial fill as a fresh
// order reusing the original reservation. It is attempted once; a second
// partial outcome is abandoned.
func (g *Gateway) resubmitRemainder(ctx context.Context, order domain.Order, fill domain.Fill, remainder decimal.Decimal) (domain.Fill, error) {
	follow := order
	follow.ID = uuid.New().String()
	follow.Quantity = remainder
	follow.Reserved = decimal.Zero // capital still sits in the original reservation

	if err := g.journal.Create(ctx, follow); err != nil {
		g.ledger.Release(ctx, order.ReservationID)
		return fill, fmt.Errorf("gateway: journal remainder of order %s: %w", order.ID, err)
	}

	g.logger.InfoContext(ctx, "resubmitting partial remainder",
		slog.String("order_id", order.ID),
		slog.String("follow_id", follow.ID),
		slog.String("remainder", remainder.String()),
	)

	return g.execute(ctx, follow, false)
}

// fail finalizes an order that executed nothing.
func (g *Gateway) fail(ctx context.Context, order domain.Order, status domain.OrderStatus, heldDelta decimal.Decimal) {
	g.finish(ctx, order, status, heldDelta, true)
}

// finish writes the terminal journal status, optionally releases the
// reservation, and notifies risk.
func (g *Gateway) finish(ctx context.Context, order domain.Order, status domain.OrderStatus, heldDelta decimal.Decimal, release bool) {
	if release && order.ReservationID != "" {
		g.ledger.Release(ctx, order.ReservationID)
	}
	if err := g.journal.SetStatus(ctx, order.ID, status); err != nil {
		g.logger.ErrorContext(ctx, "journal status update failed",
			slog.String("order_id", order.ID),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
	}
	g.risk.OrderClosed(order, heldDelta)
}

// heldDelta estimates the signed change in strategy-held notional a fill
// produces, using the pre-fill position to tell extending from reducing
// quantity.
func (g *Gateway) heldDelta(symbol string, fill domain.Fill) decimal.Decimal {
	signed := fill.Quantity
	if fill.Side == domain.OrderSideSell {
		signed = signed.Neg()
	}

	before, open := g.ledger.Position(symbol)
	if !open || before.Quantity.IsZero() || before.Quantity.Sign() == signed.Sign() {
		return fill.Notional()
	}

	reduce := decimal.Min(before.Quantity.Abs(), signed.Abs())
	opened := signed.Abs().Sub(reduce)
	return opened.Sub(reduce).Mul(fill.Price)
}

// throttle blocks until the venue order budget admits another submission.
func (g *Gateway) throttle(ctx context.Context) error {
	if g.limiter == nil || g.cfg.RateLimit <= 0 {
		return nil
	}
	for {
		ok, err := g.limiter.Allow(ctx, "venue:orders", g.cfg.RateLimit, g.cfg.RateWindow)
		if err != nil {
			// A broken limiter must not stop trading; log and proceed.
			g.logger.WarnContext(ctx, "rate limiter unavailable",
				slog.String("error", err.Error()),
			)
			return nil
		}
		if ok {
			return nil
		}
		if err := g.sleep(ctx, g.cfg.RetryBase); err != nil {
			return err
		}
	}
}

func (g *Gateway) symbolLock(symbol string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.locks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		g.locks[symbol] = lock
	}
	return lock
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
