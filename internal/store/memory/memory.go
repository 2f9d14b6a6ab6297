// Package memory implements the domain store interfaces in process memory.
// It backs paper-trading mode and tests, where durability across restarts is
// not required.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/quantfall/helix/internal/domain"
)

// FillLog is an in-memory append-only fill log.
type FillLog struct {
	mu      sync.Mutex
	records []domain.FillRecord
}

// NewFillLog returns an empty FillLog.
func NewFillLog() *FillLog {
	return &FillLog{}
}

// Append records a fill and returns its 1-based sequence number.
func (l *FillLog) Append(_ context.Context, f domain.Fill) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	seq := int64(len(l.records)) + 1
	l.records = append(l.records, domain.FillRecord{Seq: seq, Fill: f})
	return seq, nil
}

// ListAfter returns all fills with Seq > seq in sequence order.
func (l *FillLog) ListAfter(_ context.Context, seq int64) ([]domain.FillRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.FillRecord
	for _, rec := range l.records {
		if rec.Seq > seq {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ListRecent returns up to limit fills, newest first.
func (l *FillLog) ListRecent(_ context.Context, limit int) ([]domain.Fill, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.records) {
		limit = len(l.records)
	}
	out := make([]domain.Fill, 0, limit)
	for i := len(l.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.records[i].Fill)
	}
	return out, nil
}

// ListBefore returns fills recorded strictly before the cutoff.
func (l *FillLog) ListBefore(_ context.Context, before time.Time) ([]domain.Fill, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Fill
	for _, rec := range l.records {
		if rec.Fill.Timestamp.Before(before) {
			out = append(out, rec.Fill)
		}
	}
	return out, nil
}

// OrderJournal is an in-memory order journal.
type OrderJournal struct {
	mu       sync.Mutex
	orders   map[string]domain.Order
	statuses map[string]domain.OrderStatus
}

// NewOrderJournal returns an empty OrderJournal.
func NewOrderJournal() *OrderJournal {
	return &OrderJournal{
		orders:   make(map[string]domain.Order),
		statuses: make(map[string]domain.OrderStatus),
	}
}

// Create records a new order with status open.
func (j *OrderJournal) Create(_ context.Context, o domain.Order) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.orders[o.ID] = o
	j.statuses[o.ID] = domain.OrderStatusOpen
	return nil
}

// SetStatus updates the lifecycle status of an order.
func (j *OrderJournal) SetStatus(_ context.Context, orderID string, status domain.OrderStatus) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.orders[orderID]; !ok {
		return domain.ErrNotFound
	}
	j.statuses[orderID] = status
	return nil
}

// ListOpen returns all orders still in the open status, oldest first.
func (j *OrderJournal) ListOpen(_ context.Context) ([]domain.Order, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []domain.Order
	for id, status := range j.statuses {
		if status == domain.OrderStatusOpen {
			out = append(out, j.orders[id])
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

// SnapshotStore keeps only the most recent ledger snapshot.
type SnapshotStore struct {
	mu     sync.Mutex
	latest *domain.LedgerSnapshot
}

// NewSnapshotStore returns an empty SnapshotStore.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

// Save replaces the stored snapshot.
func (s *SnapshotStore) Save(_ context.Context, snap domain.LedgerSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = &snap
	return nil
}

// Latest returns the stored snapshot or ErrNotFound.
func (s *SnapshotStore) Latest(_ context.Context) (domain.LedgerSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return domain.LedgerSnapshot{}, domain.ErrNotFound
	}
	return *s.latest, nil
}
