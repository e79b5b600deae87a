// SPDX-License-Identifier: MPL-2.0

package runner

const (
	// StateCreated means Start has not been called.
	StateCreated State = iota
	// StateStarting means Start is setting up.
	StateStarting
	// StateRunning means the component is serving.
	StateRunning
	// StateStopping means Stop is draining goroutines.
	StateStopping
	// StateStopped is terminal.
	StateStopped
	// StateFailed is terminal: Start failed or a fatal error occurred.
	StateFailed
)

// State is the lifecycle state of a component.
type State int32

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether s is Stopped or Failed.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}
