package lifecycle

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when an operation is invoked from a
// state that does not allow it.
var ErrInvalidTransition = errors.New("lifecycle: invalid state transition")

// HookError wraps a failure raised by a component hook. The component is
// left in StateFailed.
type HookError struct {
	Component string
	Op        string
	Err       error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("lifecycle: %s %s failed: %v", e.Component, e.Op, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}

func invalidTransition(component, op string, from State) error {
	return fmt.Errorf("%w: %s cannot %s from %s", ErrInvalidTransition, component, op, from)
}
