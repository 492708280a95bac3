package breaker

import "errors"

// ErrCircuitOpen is returned when the circuit is open and rejecting calls.
// It is a distinct, identifiable error so callers can apply their own
// fallback (serve stale data, render a placeholder) instead of treating the
// rejection as a generic failure.
var ErrCircuitOpen = errors.New("breaker: circuit breaker is open")
