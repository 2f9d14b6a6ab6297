package handler

import (
	"context"
	"net/http"

	"github.com/quantfall/helix/internal/domain"
)

// FillSource is the fill log surface the fills handler reads.
type FillSource interface {
	ListRecent(ctx context.Context, limit int) ([]domain.Fill, error)
}

// FillsHandler serves the recent fill history.
type FillsHandler struct {
	fills FillSource
}

// NewFillsHandler creates a FillsHandler.
func NewFillsHandler(fills FillSource) *FillsHandler {
	return &FillsHandler{fills: fills}
}

// ListFills responds with recent fills, newest first.
// GET /api/fills?limit=50
func (h *FillsHandler) ListFills(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50)

	fills, err := h.fills.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list fills")
		return
	}
	if fills == nil {
		fills = []domain.Fill{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fills": fills,
		"count": len(fills),
	})
}
