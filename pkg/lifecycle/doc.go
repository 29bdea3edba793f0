// Package lifecycle provides the state machine shared by every dice component.
//
// A component embeds a Runner by value and binds it to four hook functions
// (init, start, stop, destroy). The Runner enforces legal transitions,
// serializes the four operations per instance and notifies listeners
// synchronously, in registration order, whenever a state with a canonical
// event is entered.
//
// # Usage
//
//	type Loader struct {
//	    lifecycle.Runner
//	}
//
//	l := &Loader{}
//	l.Bind(l, "loader", lifecycle.Hooks{
//	    Start: func() error { return l.SetState(lifecycle.StateStarting) },
//	})
//	if err := l.Start(); err != nil { ... }
//
// # State Machine
//
//	NEW -> INITIALIZING -> INITIALIZED
//	INITIALIZED|STOPPED -> STARTING_PREP -> STARTING -> STARTED
//	STARTED|FAILED -> STOPPING_PREP -> STOPPING -> STOPPED
//	STOPPED|FAILED|NEW|INITIALIZED -> DESTROYING -> DESTROYED
//	any transitional state -> FAILED
//
// Hooks may only write FAILED, STARTING_PREP->STARTING, STOPPING_PREP->STOPPING
// and FAILED->STOPPING through SetState.
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package lifecycle

// Version information for the lifecycle module.
const (
	// Version is the current version of the lifecycle module.
	Version = "1.0.0"

	// MinCompatibleVersion is the minimum version that is compatible with this version.
	MinCompatibleVersion = "1.0.0"
)
