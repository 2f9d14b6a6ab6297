package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/quantfall/helix/internal/domain"
)

// LedgerView is the read-only ledger surface the positions handler uses.
type LedgerView interface {
	Positions() []domain.Position
	Capital() domain.CapitalState
	Equity() decimal.Decimal
	Drawdown() decimal.Decimal
}

// PositionsHandler serves the open positions and capital state.
type PositionsHandler struct {
	ledger LedgerView
}

// NewPositionsHandler creates a PositionsHandler.
func NewPositionsHandler(ledger LedgerView) *PositionsHandler {
	return &PositionsHandler{ledger: ledger}
}

// ListPositions responds with the open positions and the capital summary.
// GET /api/positions
func (h *PositionsHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.ledger.Positions()
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"positions": positions,
		"capital":   h.ledger.Capital(),
		"equity":    h.ledger.Equity(),
		"drawdown":  h.ledger.Drawdown(),
	})
}
