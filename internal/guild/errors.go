// SPDX-License-Identifier: MPL-2.0

package guild

import (
	"errors"
	"fmt"

	"github.com/invowk/guildhost/pkg/botmod"
)

var (
	// ErrUnknownCommand is returned when a command id or term is not registered.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrTermConflict is returned when a rename target is already taken.
	ErrTermConflict = errors.New("command term already in use")
	// ErrDuplicateCommand is returned when a command id is registered twice.
	ErrDuplicateCommand = errors.New("command already registered")
	// ErrDuplicateInstance is returned when a module is added to a guild twice.
	ErrDuplicateInstance = errors.New("module already instantiated in guild")
)

type (
	// UnknownCommandError names the command that could not be found.
	UnknownCommandError struct {
		Ref string
	}

	// TermConflictError reports the term and the command that owns it.
	TermConflictError struct {
		Term  string
		Owner botmod.CommandID
	}
)

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command %q", e.Ref)
}

// Unwrap returns ErrUnknownCommand for errors.Is() compatibility.
func (e *UnknownCommandError) Unwrap() error { return ErrUnknownCommand }

func (e *TermConflictError) Error() string {
	return fmt.Sprintf("term %q is already used by command %s", e.Term, e.Owner)
}

// Unwrap returns ErrTermConflict for errors.Is() compatibility.
func (e *TermConflictError) Unwrap() error { return ErrTermConflict }
