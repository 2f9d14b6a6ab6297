package domain

import (
	"context"
	"time"
)

// FillRecord is a fill together with its append sequence number in the log.
type FillRecord struct {
	Seq  int64 `json:"seq"`
	Fill Fill  `json:"fill"`
}

// FillLog is the append-only record of terminal fills. Replaying the log from
// a snapshot's sequence number reproduces ledger state exactly.
type FillLog interface {
	// Append records a terminal fill and returns its sequence number.
	Append(ctx context.Context, f Fill) (int64, error)
	// ListAfter returns all fills with Seq > seq, in sequence order.
	ListAfter(ctx context.Context, seq int64) ([]FillRecord, error)
	// ListRecent returns up to limit fills, newest first.
	ListRecent(ctx context.Context, limit int) ([]Fill, error)
	// ListBefore returns fills recorded strictly before the cutoff, for
	// cold-storage archival.
	ListBefore(ctx context.Context, before time.Time) ([]Fill, error)
}

// OrderJournal records every risk-approved order and its lifecycle status.
// On restart, open journal entries are reconciled against ledger reservations
// so a crash between reservation and submission cannot leak capital.
type OrderJournal interface {
	Create(ctx context.Context, o Order) error
	SetStatus(ctx context.Context, orderID string, status OrderStatus) error
	ListOpen(ctx context.Context) ([]Order, error)
}

// LedgerSnapshot is the durable capital + position checkpoint written after
// each settled cycle. LastFillSeq anchors replay of the fill log.
type LedgerSnapshot struct {
	Capital     CapitalState `json:"capital"`
	PeakCapital string       `json:"peak_capital"` // decimal string
	Positions   []Position   `json:"positions"`
	LastFillSeq int64        `json:"last_fill_seq"`
	TakenAt     time.Time    `json:"taken_at"`
}

// SnapshotStore persists ledger snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, snap LedgerSnapshot) error
	// Latest returns the most recent snapshot, or ErrNotFound when none exists.
	Latest(ctx context.Context) (LedgerSnapshot, error)
}

// ListOpts carries standard pagination parameters for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}
