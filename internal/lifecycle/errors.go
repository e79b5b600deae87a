// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/invowk/guildhost/pkg/botmod"
)

var (
	// ErrUnknownModule is returned for module ids absent from the catalog.
	ErrUnknownModule = errors.New("unknown module")
	// ErrAlreadyEnabled is returned when enabling a live module.
	ErrAlreadyEnabled = errors.New("module already enabled")
	// ErrAlreadyDisabled is returned when disabling a module that is not live.
	ErrAlreadyDisabled = errors.New("module already disabled")
	// ErrProtectedModule is returned when disabling the protected base module.
	ErrProtectedModule = errors.New("module cannot be disabled")
	// ErrDependencyViolation is the sentinel wrapped by DependencyError.
	ErrDependencyViolation = errors.New("dependency violation")
	// ErrStartupFailure is the sentinel wrapped by StartupError.
	ErrStartupFailure = errors.New("module startup failed")
	// ErrInvalidPrefix is returned for an empty or whitespace-containing prefix.
	ErrInvalidPrefix = errors.New("invalid command prefix")
)

const (
	// MissingDependencies means the module needs modules that are not live.
	MissingDependencies ViolationKind = iota
	// LiveDependents means live modules still depend on the module.
	LiveDependents
)

type (
	// ViolationKind tells which side of the dependency edge blocked the operation.
	ViolationKind int

	// UnknownModuleError names the module that is not in the catalog.
	UnknownModuleError struct {
		ID botmod.ModuleID
	}

	// DependencyError reports the modules blocking an enable or disable.
	DependencyError struct {
		Module   botmod.ModuleID
		Kind     ViolationKind
		Blocking []botmod.ModuleID
	}

	// StartupError reports a module that failed to construct or start.
	// The module stays disabled until explicitly enabled again.
	StartupError struct {
		Module botmod.ModuleID
		Err    error
	}
)

func (e *UnknownModuleError) Error() string {
	return fmt.Sprintf("unknown module %q", e.ID)
}

// Unwrap returns ErrUnknownModule for errors.Is() compatibility.
func (e *UnknownModuleError) Unwrap() error { return ErrUnknownModule }

func (e *DependencyError) Error() string {
	blocking := make([]string, len(e.Blocking))
	for i, id := range e.Blocking {
		blocking[i] = string(id)
	}
	if e.Kind == LiveDependents {
		return fmt.Sprintf("module %s is still required by: %s", e.Module, strings.Join(blocking, ", "))
	}
	return fmt.Sprintf("module %s needs these modules enabled first: %s", e.Module, strings.Join(blocking, ", "))
}

// Unwrap returns ErrDependencyViolation for errors.Is() compatibility.
func (e *DependencyError) Unwrap() error { return ErrDependencyViolation }

func (e *StartupError) Error() string {
	return fmt.Sprintf("module %s failed to start: %v", e.Module, e.Err)
}

// Unwrap returns both the sentinel and the cause.
func (e *StartupError) Unwrap() []error { return []error{ErrStartupFailure, e.Err} }
