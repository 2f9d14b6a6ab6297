package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quantfall/helix/internal/domain"
)

// OrderJournal implements domain.OrderJournal using PostgreSQL. Every
// risk-approved order is journaled before submission so that a crash between
// reservation and venue acknowledgement leaves a visible open entry to
// reconcile on restart.
type OrderJournal struct {
	pool *pgxpool.Pool
}

// NewOrderJournal creates an OrderJournal backed by the given connection pool.
func NewOrderJournal(pool *pgxpool.Pool) *OrderJournal {
	return &OrderJournal{pool: pool}
}

// Create records a new order with status open.
func (j *OrderJournal) Create(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, intent_id, strategy_id, symbol, side, quantity, order_type,
			limit_price, reservation_id, reserved, cycle, status, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6::numeric, $7,
			$8::numeric, $9, $10::numeric, $11, $12, $13
		)`

	_, err := j.pool.Exec(ctx, query,
		o.ID, o.IntentID, o.StrategyID, o.Symbol, o.Side,
		o.Quantity.String(), o.Type,
		o.LimitPrice.String(), o.ReservationID, o.Reserved.String(),
		int64(o.Cycle), domain.OrderStatusOpen, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

// SetStatus updates the lifecycle status of an order.
func (j *OrderJournal) SetStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	tag, err := j.pool.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1`,
		orderID, status,
	)
	if err != nil {
		return fmt.Errorf("postgres: set order %s status: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListOpen returns all orders still in the open status, oldest first.
func (j *OrderJournal) ListOpen(ctx context.Context) ([]domain.Order, error) {
	const query = `
		SELECT id, intent_id, strategy_id, symbol, side, quantity::text,
			order_type, limit_price::text, reservation_id, reserved::text,
			cycle, created_at
		FROM orders
		WHERE status = $1
		ORDER BY created_at ASC`

	rows, err := j.pool.Query(ctx, query, domain.OrderStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan open order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list open orders: %w", err)
	}
	return orders, nil
}

// Get returns a journaled order by id, or ErrNotFound.
func (j *OrderJournal) Get(ctx context.Context, orderID string) (domain.Order, error) {
	const query = `
		SELECT id, intent_id, strategy_id, symbol, side, quantity::text,
			order_type, limit_price::text, reservation_id, reserved::text,
			cycle, created_at
		FROM orders
		WHERE id = $1`

	o, err := scanOrder(j.pool.QueryRow(ctx, query, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", orderID, err)
	}
	return o, nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o                   domain.Order
		qty, limit, reserve string
		cycle               int64
	)
	if err := row.Scan(
		&o.ID, &o.IntentID, &o.StrategyID, &o.Symbol, &o.Side, &qty,
		&o.Type, &limit, &o.ReservationID, &reserve,
		&cycle, &o.CreatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	o.Cycle = uint64(cycle)

	var err error
	if o.Quantity, err = decimal.NewFromString(qty); err != nil {
		return domain.Order{}, fmt.Errorf("parse quantity %q: %w", qty, err)
	}
	if o.LimitPrice, err = decimal.NewFromString(limit); err != nil {
		return domain.Order{}, fmt.Errorf("parse limit_price %q: %w", limit, err)
	}
	if o.Reserved, err = decimal.NewFromString(reserve); err != nil {
		return domain.Order{}, fmt.Errorf("parse reserved %q: %w", reserve, err)
	}
	return o, nil
}
