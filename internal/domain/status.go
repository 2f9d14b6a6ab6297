package domain

import "time"

// EngineState is the orchestrator's current position in its cycle state
// machine. Halted is terminal until manually cleared.
type EngineState string

const (
	EngineIdle       EngineState = "idle"
	EngineCollecting EngineState = "collecting"
	EngineEvaluating EngineState = "evaluating"
	EngineExecuting  EngineState = "executing"
	EngineSettling   EngineState = "settling"
	EnginePaused     EngineState = "paused"
	EngineHalted     EngineState = "halted"
)

// StrategyStatus reports one registered strategy on the status boundary.
type StrategyStatus struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

// ErrorRecord is a structured error surfaced to the control boundary.
type ErrorRecord struct {
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// StatusSnapshot is the read-only view served by the status endpoint and
// published on the status bus after every settled cycle.
type StatusSnapshot struct {
	State       EngineState              `json:"state"`
	Cycle       uint64                   `json:"cycle"`
	Capital     CapitalState             `json:"capital"`
	Positions   []Position               `json:"positions"`
	RecentFills []Fill                   `json:"recent_fills"`
	Strategies  []StrategyStatus         `json:"strategies"`
	FeedAges    map[string]time.Duration `json:"feed_ages"`
	LastError   *ErrorRecord             `json:"last_error,omitempty"`
	TakenAt     time.Time                `json:"taken_at"`
}
