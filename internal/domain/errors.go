package domain

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrInsufficientCapital rejects an intent that cannot be funded from
	// free capital. Never retried.
	ErrInsufficientCapital = errors.New("insufficient capital")

	// ErrDrawdownHalt is raised when peak-to-current drawdown breaches the
	// configured limit. Engine-wide; requires a manual clear.
	ErrDrawdownHalt = errors.New("drawdown limit breached")

	// ErrHalted rejects all work while the engine is in the Halted state.
	ErrHalted = errors.New("engine halted")

	// ErrStaleData marks a symbol whose feed has not updated within the
	// staleness threshold. The affected intents are skipped for the cycle.
	ErrStaleData = errors.New("market data stale")

	// ErrTransientVenue wraps venue failures worth retrying with backoff
	// (network timeouts, rate limits).
	ErrTransientVenue = errors.New("transient venue error")

	// ErrReconciliationMismatch means ledger state disagrees with the venue
	// account balance. The engine halts and surfaces it; capital figures are
	// never silently auto-corrected.
	ErrReconciliationMismatch = errors.New("ledger/venue reconciliation mismatch")

	ErrUnknownOrder  = errors.New("unknown order")
	ErrUnknownSymbol = errors.New("unknown symbol")
	ErrUnauthorized  = errors.New("unauthorized")
)

// IsTransientVenue reports whether err should be retried against the venue.
func IsTransientVenue(err error) bool {
	return errors.Is(err, ErrTransientVenue)
}
