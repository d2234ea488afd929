// Package readiness tracks whether the service has finished its startup work.
package readiness

import (
	"sync"
)

// State is the readiness of the service.
type State string

const (
	// StateInitializing means startup work is still running; gated requests are refused.
	StateInitializing State = "Initializing"
	// StateReady means startup work completed.
	StateReady State = "Ready"
	// StateDegraded means startup work failed; requests are served and the reason is reported.
	StateDegraded State = "Degraded"
)

const initializingReason = "Application is starting up and initializing cache..."

// Snapshot is a consistent view of the gate.
type Snapshot struct {
	State  State  `json:"status"`
	Reason string `json:"message,omitempty"`
}

// Gate is safe for concurrent use. The only transitions are from Initializing to Ready or Degraded.
type Gate struct {
	mu     sync.RWMutex
	state  State
	reason string
}

// NewGate returns a gate in the Initializing state.
func NewGate() *Gate {
	return &Gate{state: StateInitializing, reason: initializingReason}
}

// MarkReady records that startup completed.
func (g *Gate) MarkReady() {
	g.settle(StateReady, "")
}

// MarkDegraded records that startup failed but the service should still accept requests.
func (g *Gate) MarkDegraded(reason string) {
	g.settle(StateDegraded, reason)
}

func (g *Gate) settle(state State, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateInitializing {
		return
	}
	g.state = state
	g.reason = reason
}

// IsReady reports whether gated requests may proceed.
func (g *Gate) IsReady() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state != StateInitializing
}

// Snapshot returns the current state and reason.
func (g *Gate) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Snapshot{State: g.state, Reason: g.reason}
}
