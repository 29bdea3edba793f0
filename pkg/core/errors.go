package core

import "errors"

var (
	// ErrNoHost is returned when an exchange matches no host and the engine
	// has no default host.
	ErrNoHost = errors.New("core: no matching host")

	// ErrNoContext is returned when an exchange path matches no context.
	ErrNoContext = errors.New("core: no matching context")

	// ErrNoHandler is returned when a context has no handler.
	ErrNoHandler = errors.New("core: context has no handler")

	// ErrNotStarted is returned when work reaches a component that is not available.
	ErrNotStarted = errors.New("core: component not started")

	// ErrPaused is returned by a paused connector.
	ErrPaused = errors.New("core: connector paused")

	// ErrNoContainer is returned when a service has no container to dispatch into.
	ErrNoContainer = errors.New("core: service has no container")
)
