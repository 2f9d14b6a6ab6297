package handler

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/quantfall/helix/internal/domain"
)

// RiskManager is the limits surface the risk handler drives.
type RiskManager interface {
	Limits() domain.RiskLimits
	SetLimits(limits domain.RiskLimits)
}

// RiskHandler serves and replaces the active risk limits.
type RiskHandler struct {
	risk RiskManager
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(risk RiskManager) *RiskHandler {
	return &RiskHandler{risk: risk}
}

// GetLimits responds with the active risk limits.
// GET /api/risk/limits
func (h *RiskHandler) GetLimits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.risk.Limits())
}

// UpdateLimits installs a full replacement limit set. Partial updates are not
// supported: the caller sends the complete document, which keeps the active
// limits unambiguous.
// PUT /api/risk/limits
func (h *RiskHandler) UpdateLimits(w http.ResponseWriter, r *http.Request) {
	var limits domain.RiskLimits
	if err := json.NewDecoder(r.Body).Decode(&limits); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := validateLimits(limits); err != "" {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	h.risk.SetLimits(limits)
	writeJSON(w, http.StatusOK, limits)
}

func validateLimits(l domain.RiskLimits) string {
	one := decimal.NewFromInt(1)
	if !l.MaxTradeFraction.IsPositive() || l.MaxTradeFraction.GreaterThan(one) {
		return "max_trade_fraction must be in (0, 1]"
	}
	if l.MaxDrawdown.IsNegative() || l.MaxDrawdown.GreaterThanOrEqual(one) {
		return "max_drawdown must be in [0, 1)"
	}
	if l.MaxOpenPositions < 1 {
		return "max_open_positions must be >= 1"
	}
	if l.MaxSymbolNotional.IsNegative() {
		return "max_symbol_notional must be >= 0"
	}
	if l.NettingTolerance.IsNegative() {
		return "netting_tolerance must be >= 0"
	}
	for id, f := range l.Allocations {
		if !f.IsPositive() || f.GreaterThan(one) {
			return "allocation for " + id + " must be in (0, 1]"
		}
	}
	return ""
}
