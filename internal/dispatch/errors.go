// SPDX-License-Identifier: MPL-2.0

package dispatch

import (
	"errors"
	"fmt"
)

// ErrHandlerPanic is the sentinel wrapped by PanicError.
var ErrHandlerPanic = errors.New("handler panicked")

// PanicError carries the value recovered from a panicking handler.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}

// Unwrap returns ErrHandlerPanic for errors.Is() compatibility.
func (e *PanicError) Unwrap() error { return ErrHandlerPanic }
