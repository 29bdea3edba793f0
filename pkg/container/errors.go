package container

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateChild is returned by AddChild when a sibling already has the name.
	ErrDuplicateChild = errors.New("container: duplicate child name")

	// ErrRootContainer is returned when a parent is assigned to a hierarchy root.
	ErrRootContainer = errors.New("container: root container cannot have a parent")

	// ErrInvalidChild is returned when a container refuses a child.
	ErrInvalidChild = errors.New("container: invalid child")
)

// ChildStartError reports every child that failed during a concurrent start.
type ChildStartError struct {
	Container string
	Children  []string
	Errs      []error
}

func (e *ChildStartError) Error() string {
	parts := make([]string, len(e.Children))
	for i, name := range e.Children {
		parts[i] = fmt.Sprintf("%s: %v", name, e.Errs[i])
	}
	return fmt.Sprintf("container: %s failed to start %d child(ren): %s",
		e.Container, len(e.Children), strings.Join(parts, "; "))
}

// Unwrap exposes every individual cause to errors.Is and errors.As.
func (e *ChildStartError) Unwrap() []error {
	return e.Errs
}
