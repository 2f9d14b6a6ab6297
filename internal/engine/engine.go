// Package engine is the orchestrator: it owns the cycle state machine that
// moves market data through strategies, risk, and execution, and it is the
// only component that talks to all of them. Strategies, risk, ledger, and
// gateway never call each other directly.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/quantfall/helix/internal/domain"
	"github.com/quantfall/helix/internal/feed"
	"github.com/quantfall/helix/internal/gateway"
	"github.com/quantfall/helix/internal/ledger"
	"github.com/quantfall/helix/internal/risk"
	"github.com/quantfall/helix/internal/strategy"
	"github.com/quantfall/helix/internal/venue"
)

// Config tunes the orchestrator cycle.
type Config struct {
	// CycleInterval is the trading cycle cadence.
	CycleInterval time.Duration

	// StalenessThreshold is the feed age beyond which a symbol's intents are
	// discarded instead of traded.
	StalenessThreshold time.Duration

	// CollectTimeout bounds strategy observe/propose per cycle. A strategy
	// that misses the window is skipped for the cycle, not killed.
	CollectTimeout time.Duration

	// ReconcileEvery verifies the ledger against the venue balance every N
	// cycles. Zero disables periodic reconciliation.
	ReconcileEvery uint64

	// ReconcileTolerance is the allowed venue/ledger cash difference.
	ReconcileTolerance decimal.Decimal

	// StatusChannel is the bus channel status snapshots are published on.
	StatusChannel string

	// RecentFills is how many fills a status snapshot carries.
	RecentFills int
}

// Engine drives the trading cycle.
type Engine struct {
	cfg      Config
	feed     *feed.Feed
	registry *strategy.Registry
	risk     *risk.Manager
	ledger   *ledger.Ledger
	gateway  *gateway.Gateway
	venue    venue.Adapter
	fills    domain.FillLog
	bus      domain.StatusBus // may be nil
	logger   *slog.Logger

	mu        sync.Mutex
	state     domain.EngineState
	cycle     uint64
	paused    bool
	lastError *domain.ErrorRecord

	// collection plumbing: a strategy that overruns its window stays busy
	// until its late result is drained, so it is never run concurrently with
	// itself.
	results chan proposeResult
	busy    map[string]bool
}

type proposeResult struct {
	strategyID string
	cycle      uint64
	intents    []domain.TradeIntent
}

// New creates an Engine.
func New(cfg Config, f *feed.Feed, reg *strategy.Registry, rm *risk.Manager, led *ledger.Ledger, gw *gateway.Gateway, v venue.Adapter, fills domain.FillLog, bus domain.StatusBus, logger *slog.Logger) *Engine {
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = 5 * time.Second
	}
	if cfg.CollectTimeout <= 0 {
		cfg.CollectTimeout = cfg.CycleInterval / 2
	}
	if cfg.StalenessThreshold <= 0 {
		cfg.StalenessThreshold = 3 * cfg.CycleInterval
	}
	if cfg.StatusChannel == "" {
		cfg.StatusChannel = "helix.status"
	}
	if cfg.RecentFills <= 0 {
		cfg.RecentFills = 20
	}
	return &Engine{
		cfg:      cfg,
		feed:     f,
		registry: reg,
		risk:     rm,
		ledger:   led,
		gateway:  gw,
		venue:    v,
		fills:    fills,
		bus:      bus,
		logger:   logger.With(slog.String("component", "engine")),
		state:    domain.EngineIdle,
		results:  make(chan proposeResult, 256),
		busy:     make(map[string]bool),
	}
}

// Run drives cycles until the context is cancelled. A halt stops trading but
// keeps the loop (and status publishing) alive so operators can inspect and
// clear it.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.CycleInterval)
	defer ticker.Stop()

	e.logger.InfoContext(ctx, "engine started",
		slog.Duration("cycle_interval", e.cfg.CycleInterval),
	)

	for {
		select {
		case <-ctx.Done():
			e.logger.InfoContext(ctx, "engine stopping")
			return ctx.Err()
		case <-ticker.C:
			e.RunCycle(ctx)
		}
	}
}

// RunCycle executes one full trading cycle.
func (e *Engine) RunCycle(ctx context.Context) {
	if halted, reason := e.risk.Halted(); halted {
		e.setState(domain.EngineHalted)
		e.logger.WarnContext(ctx, "cycle skipped: halted", slog.String("reason", reason))
		e.publishStatus(ctx)
		return
	}

	e.mu.Lock()
	if e.paused {
		e.state = domain.EnginePaused
		e.mu.Unlock()
		e.publishStatus(ctx)
		return
	}
	e.cycle++
	cycle := e.cycle
	e.mu.Unlock()

	now := time.Now()

	// Collecting: refresh the feed and gather intents from strategies.
	e.setState(domain.EngineCollecting)
	e.feed.Poll(ctx)
	ticks := e.feed.Snapshot()

	fresh := make([]domain.Tick, 0, len(ticks))
	refPrices := make(map[string]decimal.Decimal, len(ticks))
	for _, t := range ticks {
		if e.feed.Stale(t.Symbol, e.cfg.StalenessThreshold) {
			continue
		}
		fresh = append(fresh, t)
		refPrices[t.Symbol] = t.Last
	}

	intents := e.collect(ctx, cycle, now, fresh)

	// Evaluating: discard stale-symbol intents, then arbitrate the rest.
	e.setState(domain.EngineEvaluating)
	kept := intents[:0]
	for _, it := range intents {
		if _, ok := refPrices[it.Symbol]; !ok {
			e.logger.WarnContext(ctx, "intent discarded for stale symbol",
				slog.String("intent_id", it.ID),
				slog.String("symbol", it.Symbol),
			)
			continue
		}
		kept = append(kept, it)
	}

	result := e.risk.Evaluate(ctx, cycle, kept, refPrices)
	for _, rej := range result.Rejected {
		e.logger.InfoContext(ctx, "intent rejected",
			slog.String("intent_id", rej.Intent.ID),
			slog.String("reason", string(rej.Reason)),
			slog.String("detail", rej.Detail),
		)
	}
	for _, mg := range result.Merged {
		e.logger.InfoContext(ctx, "intent merged into same-symbol order",
			slog.String("intent_id", mg.Intent.ID),
			slog.String("order_id", mg.OrderID),
		)
	}

	// Executing: submit approved orders. The gateway serializes per symbol;
	// distinct symbols go out concurrently.
	if len(result.Orders) > 0 {
		e.setState(domain.EngineExecuting)
		g, gctx := errgroup.WithContext(ctx)
		for _, ord := range result.Orders {
			g.Go(func() error {
				if _, err := e.gateway.Execute(gctx, ord); err != nil {
					e.recordError("execution", err)
					if errors.Is(err, domain.ErrReconciliationMismatch) {
						return err
					}
					// Order-level failures were finalized by the gateway.
					e.logger.WarnContext(gctx, "order execution failed",
						slog.String("order_id", ord.ID),
						slog.String("error", err.Error()),
					)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			e.risk.Halt("settlement diverged: " + err.Error())
			e.setState(domain.EngineHalted)
			e.publishStatus(ctx)
			return
		}
	}

	// Settling: persist a snapshot, reconcile periodically, publish status.
	e.setState(domain.EngineSettling)
	if err := e.ledger.Snapshot(ctx); err != nil {
		e.recordError("snapshot", err)
		e.logger.ErrorContext(ctx, "ledger snapshot failed", slog.String("error", err.Error()))
	}

	if e.cfg.ReconcileEvery > 0 && cycle%e.cfg.ReconcileEvery == 0 {
		e.reconcile(ctx)
	}

	// A halt tripped during this cycle (drawdown or reconciliation) is
	// reflected before the status snapshot goes out.
	if halted, _ := e.risk.Halted(); halted {
		e.setState(domain.EngineHalted)
	} else {
		e.setState(domain.EngineIdle)
	}
	e.publishStatus(ctx)
}

// collect fans observe/propose out to the enabled strategies and waits up to
// the collection timeout. Late results are drained on the next cycle and
// discarded, since their cycle has passed.
func (e *Engine) collect(ctx context.Context, cycle uint64, now time.Time, ticks []domain.Tick) []domain.TradeIntent {
	// Drain leftovers from strategies that missed earlier windows.
	for {
		select {
		case late := <-e.results:
			e.busy[late.strategyID] = false
			e.logger.WarnContext(ctx, "late strategy result discarded",
				slog.String("strategy", late.strategyID),
				slog.Uint64("cycle", late.cycle),
			)
			continue
		default:
		}
		break
	}

	launched := 0
	for _, s := range e.registry.Enabled() {
		if e.busy[s.ID()] {
			e.logger.WarnContext(ctx, "strategy still busy, skipped",
				slog.String("strategy", s.ID()),
			)
			continue
		}
		e.busy[s.ID()] = true
		launched++
		go func(s strategy.Strategy) {
			for _, t := range ticks {
				s.Observe(t)
			}
			e.results <- proposeResult{strategyID: s.ID(), cycle: cycle, intents: s.Propose(cycle, now)}
		}(s)
	}

	timer := time.NewTimer(e.cfg.CollectTimeout)
	defer timer.Stop()

	var intents []domain.TradeIntent
	for received := 0; received < launched; {
		select {
		case r := <-e.results:
			e.busy[r.strategyID] = false
			received++
			intents = append(intents, r.intents...)
		case <-timer.C:
			e.logger.WarnContext(ctx, "strategy collection window closed",
				slog.Int("received", received),
				slog.Int("launched", launched),
			)
			return intents
		case <-ctx.Done():
			return intents
		}
	}
	return intents
}

// reconcile compares ledger cash with the venue balance and halts on
// divergence. The ledger's figures are never adjusted to match.
func (e *Engine) reconcile(ctx context.Context) {
	bal, err := e.venue.GetAccountBalance(ctx)
	if err != nil {
		// Balance unavailable is not a mismatch; log and retry next window.
		e.logger.WarnContext(ctx, "venue balance unavailable",
			slog.String("error", err.Error()),
		)
		return
	}
	if err := e.ledger.VerifyAgainst(bal, e.cfg.ReconcileTolerance); err != nil {
		e.recordError("reconciliation", err)
		e.risk.Halt(err.Error())
		e.logger.ErrorContext(ctx, "reconciliation mismatch, halting",
			slog.String("error", err.Error()),
		)
	}
}

// Status assembles the read-only snapshot served on the control boundary and
// published on the status bus.
func (e *Engine) Status(ctx context.Context) domain.StatusSnapshot {
	e.mu.Lock()
	state := e.state
	cycle := e.cycle
	lastErr := e.lastError
	e.mu.Unlock()

	recent, err := e.fills.ListRecent(ctx, e.cfg.RecentFills)
	if err != nil {
		e.logger.WarnContext(ctx, "recent fills unavailable", slog.String("error", err.Error()))
	}

	return domain.StatusSnapshot{
		State:       state,
		Cycle:       cycle,
		Capital:     e.ledger.Capital(),
		Positions:   e.ledger.Positions(),
		RecentFills: recent,
		Strategies:  e.registry.Statuses(),
		FeedAges:    e.feed.Ages(),
		LastError:   lastErr,
		TakenAt:     time.Now(),
	}
}

// Pause suspends trading after the current cycle. Open orders keep settling.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
	e.logger.Info("engine paused")
}

// Resume lifts a pause. It does not clear a halt.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
	if e.state == domain.EnginePaused {
		e.state = domain.EngineIdle
	}
	e.logger.Info("engine resumed")
}

// Halt forces the halted state via the risk manager.
func (e *Engine) Halt(reason string) {
	e.risk.Halt(reason)
	e.setState(domain.EngineHalted)
}

// ClearHalt clears the halt latch and returns the engine to idle.
func (e *Engine) ClearHalt() {
	e.risk.ClearHalt()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == domain.EngineHalted {
		e.state = domain.EngineIdle
	}
}

// State returns the current engine state.
func (e *Engine) State() domain.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s domain.EngineState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
}

func (e *Engine) recordError(kind string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastError = &domain.ErrorRecord{Kind: kind, Message: err.Error(), OccurredAt: time.Now()}
}

// publishStatus pushes the status snapshot to the bus. Publishing is
// best-effort: a dead bus never blocks the cycle.
func (e *Engine) publishStatus(ctx context.Context) {
	if e.bus == nil {
		return
	}
	snap := e.Status(ctx)
	payload, err := json.Marshal(snap)
	if err != nil {
		e.logger.ErrorContext(ctx, "status snapshot marshal failed", slog.String("error", err.Error()))
		return
	}
	if err := e.bus.Publish(ctx, e.cfg.StatusChannel, payload); err != nil {
		e.logger.WarnContext(ctx, "status publish failed", slog.String("error", err.Error()))
	}
}
