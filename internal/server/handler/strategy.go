package handler

import (
	"net/http"

	"github.com/quantfall/helix/internal/domain"
)

// StrategyRegistry is the registry surface the strategy handler drives.
type StrategyRegistry interface {
	Statuses() []domain.StrategyStatus
	SetEnabled(id string, enabled bool) error
}

// StrategyHandler serves strategy statuses and flips enabled flags.
type StrategyHandler struct {
	registry StrategyRegistry
}

// NewStrategyHandler creates a StrategyHandler.
func NewStrategyHandler(registry StrategyRegistry) *StrategyHandler {
	return &StrategyHandler{registry: registry}
}

// ListStrategies responds with every registered strategy and its enabled flag.
// GET /api/strategies
func (h *StrategyHandler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"strategies": h.registry.Statuses(),
	})
}

// EnableStrategy enables a strategy by id.
// POST /api/strategies/{id}/enable
func (h *StrategyHandler) EnableStrategy(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

// DisableStrategy disables a strategy by id. Disabled strategies keep their
// indicator state but are skipped by the engine.
// POST /api/strategies/{id}/disable
func (h *StrategyHandler) DisableStrategy(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *StrategyHandler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing strategy id")
		return
	}
	if err := h.registry.SetEnabled(id, enabled); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": enabled})
}
