// Package feed normalizes venue market data into the canonical tick stream
// the strategies consume. It is the single place where out-of-order or
// duplicate upstream data is dropped: downstream components may assume
// monotonic timestamps per symbol.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quantfall/helix/internal/domain"
)

// TickSource is the upstream supplier, typically the venue adapter.
type TickSource interface {
	GetTicks(ctx context.Context, symbols []string) ([]domain.Tick, error)
}

// Feed buffers the latest tick per symbol and tracks update recency. It
// accepts ticks from a poller (Poll) or a push stream (Push); both paths
// enforce per-symbol monotonicity.
type Feed struct {
	source  TickSource
	symbols []string
	prices  domain.PriceCache // optional write-through for dashboards; may be nil
	logger  *slog.Logger

	mu         sync.RWMutex
	latest     map[string]domain.Tick
	lastUpdate map[string]time.Time

	now func() time.Time
}

// New creates a Feed over the given source and symbol universe.
func New(source TickSource, symbols []string, prices domain.PriceCache, logger *slog.Logger) *Feed {
	return &Feed{
		source:     source,
		symbols:    symbols,
		prices:     prices,
		logger:     logger.With(slog.String("component", "feed")),
		latest:     make(map[string]domain.Tick),
		lastUpdate: make(map[string]time.Time),
		now:        time.Now,
	}
}

// Poll pulls one batch of ticks from the source. Upstream failure degrades
// the feed to stale rather than aborting: the error is logged and the
// previous ticks simply age out past the staleness threshold.
func (f *Feed) Poll(ctx context.Context) {
	ticks, err := f.source.GetTicks(ctx, f.symbols)
	if err != nil {
		f.logger.WarnContext(ctx, "tick poll failed, feed degrading to stale",
			slog.String("error", err.Error()),
		)
		return
	}
	for _, t := range ticks {
		f.Push(ctx, t)
	}
}

// Push accepts one tick, dropping it if it is not strictly newer than the
// last accepted tick for its symbol. Returns true when the tick was accepted.
func (f *Feed) Push(ctx context.Context, t domain.Tick) bool {
	f.mu.Lock()
	prev, seen := f.latest[t.Symbol]
	if seen && !t.Timestamp.After(prev.Timestamp) {
		f.mu.Unlock()
		f.logger.DebugContext(ctx, "dropped out-of-order tick",
			slog.String("symbol", t.Symbol),
			slog.Time("timestamp", t.Timestamp),
			slog.Time("last", prev.Timestamp),
		)
		return false
	}
	f.latest[t.Symbol] = t
	f.lastUpdate[t.Symbol] = f.now()
	f.mu.Unlock()

	if f.prices != nil {
		if err := f.prices.SetPrice(ctx, t.Symbol, t.Last, t.Timestamp); err != nil {
			f.logger.DebugContext(ctx, "price cache write failed",
				slog.String("symbol", t.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	return true
}

// Latest returns the freshest accepted tick for a symbol.
func (f *Feed) Latest(symbol string) (domain.Tick, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.latest[symbol]
	return t, ok
}

// Snapshot returns the latest tick for every symbol that has one, in the
// configured symbol order.
func (f *Feed) Snapshot() []domain.Tick {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]domain.Tick, 0, len(f.symbols))
	for _, sym := range f.symbols {
		if t, ok := f.latest[sym]; ok {
			out = append(out, t)
		}
	}
	return out
}

// LastUpdateAge returns how long ago the symbol last updated. Symbols that
// have never updated report a very large age so they always count as stale.
func (f *Feed) LastUpdateAge(symbol string) time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	at, ok := f.lastUpdate[symbol]
	if !ok {
		return time.Duration(1<<62 - 1)
	}
	return f.now().Sub(at)
}

// Stale reports whether a symbol's data is older than the threshold.
func (f *Feed) Stale(symbol string, threshold time.Duration) bool {
	return f.LastUpdateAge(symbol) > threshold
}

// Ages reports every configured symbol's last update age, for the status
// boundary.
func (f *Feed) Ages() map[string]time.Duration {
	out := make(map[string]time.Duration, len(f.symbols))
	for _, sym := range f.symbols {
		out[sym] = f.LastUpdateAge(sym)
	}
	return out
}

// Symbols returns the configured symbol universe.
func (f *Feed) Symbols() []string {
	return f.symbols
}
