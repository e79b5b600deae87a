// SPDX-License-Identifier: MPL-2.0

package guild

import (
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/invowk/guildhost/pkg/botmod"
)

const (
	// InstanceUnregistered is the state before Startup and after teardown.
	InstanceUnregistered InstanceState = iota
	// InstanceStarting means Startup is running; registrations are provisional.
	InstanceStarting
	// InstanceRunning means the module is live in its guild.
	InstanceRunning
	// InstanceStopping means the module is being released and torn down.
	InstanceStopping
)

// ErrInvalidTransition is returned when an instance is moved out of order.
var ErrInvalidTransition = errors.New("invalid module instance transition")

type (
	// InstanceState is the lifecycle state of a module instance.
	InstanceState int32

	// InvalidTransitionError reports an attempted out-of-order transition.
	InvalidTransitionError struct {
		Module botmod.ModuleID
		From   InstanceState
		To     InstanceState
	}

	// Instance is one module live in one guild. It owns the commands and
	// listeners registered through it.
	Instance struct {
		moduleID botmod.ModuleID
		module   botmod.Module
		state    atomic.Int32
		commands []botmod.CommandID
	}
)

// String returns a human-readable representation of the state.
func (s InstanceState) String() string {
	switch s {
	case InstanceUnregistered:
		return "unregistered"
	case InstanceStarting:
		return "starting"
	case InstanceRunning:
		return "running"
	case InstanceStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("module %s: cannot move from %s to %s", e.Module, e.From, e.To)
}

// Unwrap returns ErrInvalidTransition for errors.Is() compatibility.
func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// NewInstance wraps a freshly constructed module. It starts Unregistered.
func NewInstance(id botmod.ModuleID, module botmod.Module) *Instance {
	return &Instance{moduleID: id, module: module}
}

func (i *Instance) ModuleID() botmod.ModuleID { return i.moduleID }
func (i *Instance) Module() botmod.Module     { return i.module }

// State returns the current lifecycle state.
func (i *Instance) State() InstanceState { return InstanceState(i.state.Load()) }

func (i *Instance) transition(from, to InstanceState) error {
	if !i.state.CompareAndSwap(int32(from), int32(to)) {
		return &InvalidTransitionError{Module: i.moduleID, From: i.State(), To: to}
	}
	return nil
}

// BeginStartup moves Unregistered to Starting.
func (i *Instance) BeginStartup() error { return i.transition(InstanceUnregistered, InstanceStarting) }

// MarkRunning moves Starting to Running.
func (i *Instance) MarkRunning() error { return i.transition(InstanceStarting, InstanceRunning) }

// AbortStartup returns a failed Starting instance to Unregistered.
func (i *Instance) AbortStartup() error {
	return i.transition(InstanceStarting, InstanceUnregistered)
}

// BeginStopping moves Running to Stopping. It reports false when the instance
// is not running, which makes repeated stops no-ops.
func (i *Instance) BeginStopping() bool {
	return i.state.CompareAndSwap(int32(InstanceRunning), int32(InstanceStopping))
}

// MarkStopped completes a stop.
func (i *Instance) MarkStopped() {
	i.state.Store(int32(InstanceUnregistered))
}

// own records a command registered by this instance.
func (i *Instance) own(id botmod.CommandID) {
	i.commands = append(i.commands, id)
}

// Commands returns the ids of the commands this instance owns.
func (i *Instance) Commands() []botmod.CommandID {
	return slices.Clone(i.commands)
}
