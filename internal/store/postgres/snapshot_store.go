package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfall/helix/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL. Snapshots
// are written as JSONB rows; only the newest one matters for recovery, older
// rows are kept as an audit trail.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a SnapshotStore backed by the given connection pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Save persists a ledger snapshot.
func (s *SnapshotStore) Save(ctx context.Context, snap domain.LedgerSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("postgres: marshal snapshot: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO ledger_snapshots (last_fill_seq, taken_at, payload) VALUES ($1, $2, $3)`,
		snap.LastFillSeq, snap.TakenAt, payload,
	)
	if err != nil {
		return fmt.Errorf("postgres: save snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshot, or ErrNotFound when none exists.
func (s *SnapshotStore) Latest(ctx context.Context) (domain.LedgerSnapshot, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM ledger_snapshots ORDER BY id DESC LIMIT 1`,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LedgerSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("postgres: load latest snapshot: %w", err)
	}

	var snap domain.LedgerSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("postgres: unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// Prune deletes all snapshots except the newest keep rows. Returns the number
// of rows deleted.
func (s *SnapshotStore) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM ledger_snapshots
		WHERE id NOT IN (
			SELECT id FROM ledger_snapshots ORDER BY id DESC LIMIT $1
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}
