package handler

import (
	"encoding/json"
	"net/http"
)

// EngineControl is the run-state surface the control handler drives.
type EngineControl interface {
	Pause()
	Resume()
	Halt(reason string)
	ClearHalt()
}

// ControlHandler handles operator run-state commands.
type ControlHandler struct {
	engine EngineControl
}

// NewControlHandler creates a ControlHandler.
func NewControlHandler(engine EngineControl) *ControlHandler {
	return &ControlHandler{engine: engine}
}

// controlRequest is the body for POST /api/control.
type controlRequest struct {
	Action string `json:"action"` // pause, resume, halt, clear_halt
	Reason string `json:"reason"` // required for halt
}

// Control applies a run-state command to the engine.
// POST /api/control
func (h *ControlHandler) Control(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	switch req.Action {
	case "pause":
		h.engine.Pause()
	case "resume":
		h.engine.Resume()
	case "halt":
		if req.Reason == "" {
			req.Reason = "operator halt"
		}
		h.engine.Halt(req.Reason)
	case "clear_halt":
		h.engine.ClearHalt()
	default:
		writeError(w, http.StatusBadRequest, "unknown action (valid: pause, resume, halt, clear_halt)")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"action": req.Action, "result": "ok"})
}
