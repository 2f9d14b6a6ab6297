// Package risk arbitrates strategy intents against the shared capital model.
// It is the only component that turns intents into orders, and reservation in
// the ledger is atomic with order creation: an order either exists with its
// capital earmarked, or not at all.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantfall/helix/internal/domain"
)

// Ledger is the slice of the capital ledger the risk manager needs.
type Ledger interface {
	Capital() domain.CapitalState
	Positions() []domain.Position
	Equity() decimal.Decimal
	Drawdown() decimal.Decimal
	Reserve(ctx context.Context, orderID string, amount decimal.Decimal) (string, error)
	Release(ctx context.Context, reservationID string)
}

// Result is one cycle's arbitration outcome. Every intent that enters
// Evaluate leaves in exactly one of the three lists: backing an order (by
// IntentID), merged into another order, or rejected.
type Result struct {
	Orders   []domain.Order
	Merged   []domain.MergedIntent
	Rejected []domain.RejectedIntent
}

// Manager validates intents against global and per-strategy limits and sizes
// the survivors into orders. A drawdown breach flips the manager into the
// halted state, which rejects every intent until explicitly cleared.
type Manager struct {
	mu     sync.Mutex
	limits domain.RiskLimits

	ledger  Ledger
	journal domain.OrderJournal
	// registryRank breaks priority ties for strategies absent from the
	// configured priority list.
	registryRank func(string) int
	logger       *slog.Logger

	halted     bool
	haltReason string

	// inflight is reserved notional per strategy for orders not yet
	// terminal; held is notional committed to open positions per strategy.
	inflight map[string]decimal.Decimal
	held     map[string]decimal.Decimal

	// contrib splits each open order's reserved notional across the
	// strategies whose intents it carries, keyed by order id. Consumed by
	// OrderClosed so merged orders release every contributor's inflight.
	contrib map[string]map[string]decimal.Decimal

	// seen tracks intent ids for duplicate rejection, pruned by cycle.
	seen       map[string]uint64
	seenWindow uint64
}

// New creates a Manager with the given startup limits.
func New(limits domain.RiskLimits, ledger Ledger, journal domain.OrderJournal, registryRank func(string) int, logger *slog.Logger) *Manager {
	if registryRank == nil {
		registryRank = func(string) int { return 0 }
	}
	return &Manager{
		limits:       limits,
		ledger:       ledger,
		journal:      journal,
		registryRank: registryRank,
		logger:       logger.With(slog.String("component", "risk")),
		inflight:     make(map[string]decimal.Decimal),
		held:         make(map[string]decimal.Decimal),
		contrib:      make(map[string]map[string]decimal.Decimal),
		seen:         make(map[string]uint64),
		seenWindow:   64,
	}
}

// Limits returns the active limits.
func (m *Manager) Limits() domain.RiskLimits {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limits
}

// SetLimits installs a replacement limit set from the control boundary.
func (m *Manager) SetLimits(limits domain.RiskLimits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = limits
	m.logger.Info("risk limits replaced",
		slog.String("max_trade_fraction", limits.MaxTradeFraction.String()),
		slog.String("max_drawdown", limits.MaxDrawdown.String()),
	)
}

// Halted reports the halt flag and its reason.
func (m *Manager) Halted() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted, m.haltReason
}

// Halt forces the halted state (drawdown breach, reconciliation mismatch, or
// operator action).
func (m *Manager) Halt(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.halted {
		m.logger.Warn("risk manager halted", slog.String("reason", reason))
	}
	m.halted = true
	m.haltReason = reason
}

// ClearHalt manually clears the halted state.
func (m *Manager) ClearHalt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted = false
	m.haltReason = ""
	m.logger.Info("halt cleared")
}

// Evaluate arbitrates one cycle's intents. refPrices supplies the current
// reference price per symbol; intents for symbols without one are rejected
// as stale. Approved orders have their capital reserved before Evaluate
// returns.
func (m *Manager) Evaluate(ctx context.Context, cycle uint64, intents []domain.TradeIntent, refPrices map[string]decimal.Decimal) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res Result

	// Drawdown gate applies before anything else and trips the halt latch.
	if !m.halted && m.limits.MaxDrawdown.IsPositive() {
		if dd := m.ledger.Drawdown(); dd.GreaterThanOrEqual(m.limits.MaxDrawdown) {
			m.halted = true
			m.haltReason = fmt.Sprintf("drawdown %s breached limit %s", dd, m.limits.MaxDrawdown)
			m.logger.Warn("drawdown halt tripped",
				slog.String("drawdown", dd.String()),
				slog.String("limit", m.limits.MaxDrawdown.String()),
			)
		}
	}
	if m.halted {
		for _, it := range intents {
			res.Rejected = append(res.Rejected, domain.RejectedIntent{
				Intent: it, Reason: domain.RejectDrawdownHalt, Detail: m.haltReason,
			})
		}
		return res
	}

	m.pruneSeen(cycle)

	// Stable priority order: configured priority first, then registry order.
	sorted := make([]domain.TradeIntent, len(intents))
	copy(sorted, intents)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := m.limits.PriorityRank(sorted[i].StrategyID), m.limits.PriorityRank(sorted[j].StrategyID)
		if pi != pj {
			return pi < pj
		}
		return m.registryRank(sorted[i].StrategyID) < m.registryRank(sorted[j].StrategyID)
	})

	equity := m.ledger.Equity()
	capital := m.ledger.Capital()
	positions := m.ledger.Positions()

	posBySymbol := make(map[string]domain.Position, len(positions))
	for _, p := range positions {
		posBySymbol[p.Symbol] = p
	}

	// Total exposure the book already carries: open positions at reference
	// price plus capital reserved for in-flight orders.
	exposure := capital.Reserved
	for _, p := range positions {
		if price, ok := refPrices[p.Symbol]; ok {
			exposure = exposure.Add(p.Notional(price))
		} else {
			exposure = exposure.Add(p.Notional(p.AvgEntryPrice))
		}
	}
	exposureBudget := m.limits.MaxTradeFraction.Mul(equity)

	free := capital.Free
	openSlots := m.limits.MaxOpenPositions - len(positions)

	// committed accumulates notional accepted for each strategy within this
	// cycle, so a strategy cannot breach its allocation with several intents
	// that each pass against the pre-cycle baseline.
	committed := make(map[string]decimal.Decimal)

	var candidates []candidate

	for _, it := range sorted {
		if prevCycle, dup := m.seen[it.ID]; dup {
			res.Rejected = append(res.Rejected, domain.RejectedIntent{
				Intent: it, Reason: domain.RejectDuplicate,
				Detail: fmt.Sprintf("intent id already evaluated in cycle %d", prevCycle),
			})
			continue
		}
		m.seen[it.ID] = cycle

		price, ok := refPrices[it.Symbol]
		if !ok || !price.IsPositive() {
			res.Rejected = append(res.Rejected, domain.RejectedIntent{
				Intent: it, Reason: domain.RejectStale, Detail: "no reference price for symbol",
			})
			continue
		}

		// Size the request.
		var notional decimal.Decimal
		switch it.Mode {
		case domain.SizeByQuantity:
			notional = it.Quantity.Mul(price)
		default:
			notional = it.Fraction.Mul(free)
		}
		if m.limits.MaxSymbolNotional.IsPositive() {
			symExposure := decimal.Zero
			if p, open := posBySymbol[it.Symbol]; open {
				symExposure = p.Notional(price)
			}
			room := m.limits.MaxSymbolNotional.Sub(symExposure)
			notional = decimal.Min(notional, room)
		}
		if notional.GreaterThan(free) {
			notional = free
		}
		if !notional.IsPositive() {
			res.Rejected = append(res.Rejected, domain.RejectedIntent{
				Intent: it, Reason: domain.RejectCapital, Detail: "sized to zero",
			})
			continue
		}

		// Global exposure cap.
		if exposure.Add(notional).GreaterThan(exposureBudget) {
			res.Rejected = append(res.Rejected, domain.RejectedIntent{
				Intent: it, Reason: domain.RejectCapital,
				Detail: fmt.Sprintf("exposure %s + %s exceeds budget %s: %s",
					exposure, notional, exposureBudget, domain.ErrInsufficientCapital),
			})
			continue
		}

		// Per-strategy allocation, including what this cycle already took.
		if alloc, capped := m.limits.Allocations[it.StrategyID]; capped {
			used := m.inflight[it.StrategyID].Add(m.held[it.StrategyID]).Add(committed[it.StrategyID])
			if used.Add(notional).GreaterThan(alloc.Mul(equity)) {
				res.Rejected = append(res.Rejected, domain.RejectedIntent{
					Intent: it, Reason: domain.RejectAllocation,
					Detail: fmt.Sprintf("strategy committed %s of allocation %s", used, alloc.Mul(equity)),
				})
				continue
			}
		}

		// Concurrent position limit counts newly opened symbols.
		_, alreadyOpen := posBySymbol[it.Symbol]
		opensNew := !alreadyOpen
		for _, c := range candidates {
			if c.intent.Symbol == it.Symbol {
				opensNew = false
				break
			}
		}
		if opensNew && m.limits.MaxOpenPositions > 0 && openSlots <= 0 {
			res.Rejected = append(res.Rejected, domain.RejectedIntent{
				Intent: it, Reason: domain.RejectAllocation,
				Detail: fmt.Sprintf("max %d concurrent positions", m.limits.MaxOpenPositions),
			})
			continue
		}
		if opensNew {
			openSlots--
		}

		qty := notional.Div(price)
		exposure = exposure.Add(notional)
		free = free.Sub(notional)
		committed[it.StrategyID] = committed[it.StrategyID].Add(notional)
		candidates = append(candidates, candidate{intent: it, quantity: qty, notional: notional, price: price})
	}

	// Net opposing same-symbol candidates within the cycle.
	netted, dropped := m.netLocked(candidates)
	res.Rejected = append(res.Rejected, dropped...)

	// Reserve and journal each order; the two form one transaction.
	for _, no := range netted {
		ord := no.order
		resID, err := m.ledger.Reserve(ctx, ord.ID, ord.Reserved)
		if err != nil {
			reason := domain.RejectCapital
			if !errors.Is(err, domain.ErrInsufficientCapital) {
				m.logger.ErrorContext(ctx, "reserve failed",
					slog.String("order_id", ord.ID),
					slog.String("error", err.Error()),
				)
			}
			res.Rejected = append(res.Rejected, domain.RejectedIntent{
				Intent: intentByID(intents, ord.IntentID), Reason: reason, Detail: err.Error(),
			})
			for _, it := range no.merged {
				res.Rejected = append(res.Rejected, domain.RejectedIntent{
					Intent: it, Reason: reason, Detail: err.Error(),
				})
			}
			continue
		}
		ord.ReservationID = resID
		if err := m.journal.Create(ctx, ord); err != nil {
			m.ledger.Release(ctx, resID)
			detail := fmt.Sprintf("journal order: %v", err)
			res.Rejected = append(res.Rejected, domain.RejectedIntent{
				Intent: intentByID(intents, ord.IntentID), Reason: domain.RejectCapital, Detail: detail,
			})
			for _, it := range no.merged {
				res.Rejected = append(res.Rejected, domain.RejectedIntent{
					Intent: it, Reason: domain.RejectCapital, Detail: detail,
				})
			}
			continue
		}
		for sid, share := range no.shares {
			m.inflight[sid] = m.inflight[sid].Add(share)
		}
		m.contrib[ord.ID] = no.shares
		for _, it := range no.merged {
			res.Merged = append(res.Merged, domain.MergedIntent{Intent: it, OrderID: ord.ID})
		}
		res.Orders = append(res.Orders, ord)

		m.logger.InfoContext(ctx, "order approved",
			slog.String("order_id", ord.ID),
			slog.String("strategy", ord.StrategyID),
			slog.String("symbol", ord.Symbol),
			slog.String("side", string(ord.Side)),
			slog.String("quantity", ord.Quantity.String()),
			slog.String("reserved", ord.Reserved.String()),
		)
	}
	return res
}

// candidate is an intent that passed validation and sizing but has not yet
// been netted against opposing intents.
type candidate struct {
	intent   domain.TradeIntent
	quantity decimal.Decimal
	notional decimal.Decimal
	price    decimal.Decimal
}

// nettedOrder pairs a combined order with its bookkeeping: the per-strategy
// split of the reserved notional and the non-lead intents it absorbed.
type nettedOrder struct {
	order domain.Order
	// shares sums to order.Reserved across contributing strategies.
	shares map[string]decimal.Decimal
	merged []domain.TradeIntent
}

// netLocked combines same-symbol candidates into a single order per symbol.
// Sides that cancel within the netting tolerance produce no order.
func (m *Manager) netLocked(candidates []candidate) ([]nettedOrder, []domain.RejectedIntent) {
	var orders []nettedOrder
	var rejected []domain.RejectedIntent

	type group struct {
		buy, sell decimal.Decimal
		first     int // index of the highest-priority candidate for the symbol
		members   []int
	}
	groups := make(map[string]*group)
	var symbolOrder []string
	for i, c := range candidates {
		g, ok := groups[c.intent.Symbol]
		if !ok {
			g = &group{first: i}
			groups[c.intent.Symbol] = g
			symbolOrder = append(symbolOrder, c.intent.Symbol)
		}
		if c.intent.Side == domain.OrderSideBuy {
			g.buy = g.buy.Add(c.quantity)
		} else {
			g.sell = g.sell.Add(c.quantity)
		}
		g.members = append(g.members, i)
	}

	for _, symbol := range symbolOrder {
		g := groups[symbol]
		net := g.buy.Sub(g.sell)

		if !g.buy.IsZero() && !g.sell.IsZero() && net.Abs().LessThanOrEqual(m.limits.NettingTolerance) {
			for _, i := range g.members {
				rejected = append(rejected, domain.RejectedIntent{
					Intent: candidates[i].intent, Reason: domain.RejectNetted,
					Detail: "opposing intents cancelled within netting tolerance",
				})
			}
			continue
		}

		lead := candidates[g.first]
		qty := net.Abs()
		side := domain.OrderSideBuy
		if net.IsNegative() {
			side = domain.OrderSideSell
		}
		if len(g.members) == 1 {
			qty = lead.quantity
			side = lead.intent.Side
		}
		reserved := qty.Mul(lead.price)

		// Split the reservation across the strategies whose quantity
		// survives netting, proportional to their share of the surviving
		// side. Opposing-side contributors netted out and carry no charge.
		// The last share takes the division remainder so the split sums
		// exactly to the reservation.
		shares := make(map[string]decimal.Decimal, 1)
		var merged []domain.TradeIntent
		if len(g.members) == 1 {
			shares[lead.intent.StrategyID] = reserved
		} else {
			sideQty := g.buy
			if side == domain.OrderSideSell {
				sideQty = g.sell
			}
			var surviving []int
			for _, i := range g.members {
				if candidates[i].intent.Side == side {
					surviving = append(surviving, i)
				}
				if i != g.first {
					merged = append(merged, candidates[i].intent)
				}
			}
			remaining := reserved
			for k, i := range surviving {
				c := candidates[i]
				share := remaining
				if k < len(surviving)-1 {
					share = reserved.Mul(c.quantity).Div(sideQty).Round(12)
				}
				shares[c.intent.StrategyID] = shares[c.intent.StrategyID].Add(share)
				remaining = remaining.Sub(share)
			}
		}

		orders = append(orders, nettedOrder{
			order: domain.Order{
				ID:         uuid.New().String(),
				IntentID:   lead.intent.ID,
				StrategyID: lead.intent.StrategyID,
				Symbol:     symbol,
				Side:       side,
				Quantity:   qty,
				Type:       domain.OrderTypeMarket,
				Reserved:   reserved,
				Cycle:      lead.intent.Cycle,
				CreatedAt:  lead.intent.CreatedAt,
			},
			shares: shares,
			merged: merged,
		})
	}
	return orders, rejected
}

// OrderClosed tells the manager an order reached a terminal state. heldDelta
// is the signed notional change the order produced in its strategy's open
// exposure: positive when the fill extended a position, negative when it
// reduced one, zero when nothing executed.
func (m *Manager) OrderClosed(order domain.Order, heldDelta decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	shares, ok := m.contrib[order.ID]
	if !ok {
		shares = map[string]decimal.Decimal{order.StrategyID: order.Reserved}
	}
	delete(m.contrib, order.ID)
	for sid, share := range shares {
		m.inflight[sid] = decimal.Max(decimal.Zero, m.inflight[sid].Sub(share))
	}
	// Held exposure is attributed to the lead strategy of a merged order.
	held := m.held[order.StrategyID].Add(heldDelta)
	if held.IsNegative() {
		held = decimal.Zero
	}
	m.held[order.StrategyID] = held
}

func (m *Manager) pruneSeen(cycle uint64) {
	if cycle < m.seenWindow {
		return
	}
	cutoff := cycle - m.seenWindow
	for id, c := range m.seen {
		if c < cutoff {
			delete(m.seen, id)
		}
	}
}

func intentByID(intents []domain.TradeIntent, id string) domain.TradeIntent {
	for _, it := range intents {
		if it.ID == id {
			return it
		}
	}
	return domain.TradeIntent{ID: id}
}
