package strategy

import (
	"fmt"
	"sync"

	"github.com/quantfall/helix/internal/domain"
)

// Registry holds strategies as an ordered, explicit list. Registration order
// is the order the orchestrator enumerates and time-boxes them in, and the
// fallback tie-break order when risk priorities do not list a strategy.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*entry
}

type entry struct {
	strategy Strategy
	enabled  bool
}

// NewRegistry returns an empty registry. Call Register to add strategies.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register appends a strategy to the list, enabled by default. Duplicate ids
// are an error.
func (r *Registry) Register(s Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := s.ID()
	if _, ok := r.entries[id]; ok {
		return fmt.Errorf("strategy %q already registered", id)
	}
	r.order = append(r.order, id)
	r.entries[id] = &entry{strategy: s, enabled: true}
	return nil
}

// Enabled returns the enabled strategies in registration order.
func (r *Registry) Enabled() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Strategy, 0, len(r.order))
	for _, id := range r.order {
		if e := r.entries[id]; e.enabled {
			out = append(out, e.strategy)
		}
	}
	return out
}

// SetEnabled flips a strategy's enabled flag. Disabled strategies keep their
// state but are skipped by the orchestrator.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("strategy %q not found", id)
	}
	e.enabled = enabled
	return nil
}

// Statuses reports every registered strategy and its enabled flag in
// registration order, for the status boundary.
func (r *Registry) Statuses() []domain.StrategyStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.StrategyStatus, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, domain.StrategyStatus{ID: id, Enabled: r.entries[id].enabled})
	}
	return out
}

// Rank returns the registration index of a strategy id, used as the fallback
// priority tie-break. Unknown ids rank last.
func (r *Registry) Rank(id string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, known := range r.order {
		if known == id {
			return i
		}
	}
	return len(r.order)
}
