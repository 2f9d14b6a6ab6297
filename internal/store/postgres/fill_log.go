package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quantfall/helix/internal/domain"
)

// FillLog implements domain.FillLog using PostgreSQL. The fills table is
// append-only; rows are never updated or deleted by the engine (archival
// happens in cold storage, never here).
type FillLog struct {
	pool *pgxpool.Pool
}

// NewFillLog creates a FillLog backed by the given connection pool.
func NewFillLog(pool *pgxpool.Pool) *FillLog {
	return &FillLog{pool: pool}
}

const fillSelectCols = `seq, order_id, symbol, side, quantity::text, price::text,
	fee::text, status, filled_at`

func scanFillRecord(row pgx.Row) (domain.FillRecord, error) {
	var (
		rec             domain.FillRecord
		qty, price, fee string
	)
	if err := row.Scan(
		&rec.Seq, &rec.Fill.OrderID, &rec.Fill.Symbol, &rec.Fill.Side,
		&qty, &price, &fee, &rec.Fill.Status, &rec.Fill.Timestamp,
	); err != nil {
		return domain.FillRecord{}, err
	}
	var err error
	if rec.Fill.Quantity, err = decimal.NewFromString(qty); err != nil {
		return domain.FillRecord{}, fmt.Errorf("parse quantity %q: %w", qty, err)
	}
	if rec.Fill.Price, err = decimal.NewFromString(price); err != nil {
		return domain.FillRecord{}, fmt.Errorf("parse price %q: %w", price, err)
	}
	if rec.Fill.Fee, err = decimal.NewFromString(fee); err != nil {
		return domain.FillRecord{}, fmt.Errorf("parse fee %q: %w", fee, err)
	}
	return rec, nil
}

func scanFillRows(rows pgx.Rows) ([]domain.FillRecord, error) {
	var records []domain.FillRecord
	for rows.Next() {
		rec, err := scanFillRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Append records a terminal fill and returns its sequence number.
func (l *FillLog) Append(ctx context.Context, f domain.Fill) (int64, error) {
	const query = `
		INSERT INTO fills (order_id, symbol, side, quantity, price, fee, status, filled_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7, $8)
		RETURNING seq`

	var seq int64
	err := l.pool.QueryRow(ctx, query,
		f.OrderID, f.Symbol, f.Side,
		f.Quantity.String(), f.Price.String(), f.Fee.String(),
		f.Status, f.Timestamp,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("postgres: append fill: %w", err)
	}
	return seq, nil
}

// ListAfter returns all fills with Seq > seq, in sequence order.
func (l *FillLog) ListAfter(ctx context.Context, seq int64) ([]domain.FillRecord, error) {
	query := `SELECT ` + fillSelectCols + ` FROM fills WHERE seq > $1 ORDER BY seq ASC`
	rows, err := l.pool.Query(ctx, query, seq)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills after %d: %w", seq, err)
	}
	defer rows.Close()

	records, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills after %d: %w", seq, err)
	}
	return records, nil
}

// ListRecent returns up to limit fills, newest first.
func (l *FillLog) ListRecent(ctx context.Context, limit int) ([]domain.Fill, error) {
	query := `SELECT ` + fillSelectCols + ` FROM fills ORDER BY seq DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent fills: %w", err)
	}
	defer rows.Close()

	records, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent fills: %w", err)
	}
	fills := make([]domain.Fill, 0, len(records))
	for _, rec := range records {
		fills = append(fills, rec.Fill)
	}
	return fills, nil
}

// ListBefore returns all fills recorded strictly before the cutoff, oldest
// first, for cold-storage archival.
func (l *FillLog) ListBefore(ctx context.Context, before time.Time) ([]domain.Fill, error) {
	query := `SELECT ` + fillSelectCols + ` FROM fills WHERE filled_at < $1 ORDER BY seq ASC`
	rows, err := l.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills before: %w", err)
	}
	defer rows.Close()

	records, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills before: %w", err)
	}
	fills := make([]domain.Fill, 0, len(records))
	for _, rec := range records {
		fills = append(fills, rec.Fill)
	}
	return fills, nil
}
