package handler

import (
	"context"
	"net/http"

	"github.com/quantfall/helix/internal/domain"
)

// StatusProvider is the engine surface the status handler reads.
type StatusProvider interface {
	Status(ctx context.Context) domain.StatusSnapshot
}

// StatusHandler serves the engine status snapshot.
type StatusHandler struct {
	engine StatusProvider
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(engine StatusProvider) *StatusHandler {
	return &StatusHandler{engine: engine}
}

// GetStatus responds with the current engine status snapshot.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Status(r.Context()))
}
