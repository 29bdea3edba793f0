package lifecycle

// State represents the lifecycle state of a component.
// States are totally ordered; later states compare greater.
type State int

const (
	StateNew State = iota
	StateInitializing
	StateInitialized
	StateStartingPrep
	StateStarting
	StateStarted
	StateStoppingPrep
	StateStopping
	StateStopped
	StateDestroying
	StateDestroyed
	StateFailed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateInitializing:
		return "INITIALIZING"
	case StateInitialized:
		return "INITIALIZED"
	case StateStartingPrep:
		return "STARTING_PREP"
	case StateStarting:
		return "STARTING"
	case StateStarted:
		return "STARTED"
	case StateStoppingPrep:
		return "STOPPING_PREP"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	case StateDestroying:
		return "DESTROYING"
	case StateDestroyed:
		return "DESTROYED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Available reports whether a component in this state accepts work.
func (s State) Available() bool {
	return s == StateStarting || s == StateStarted || s == StateStoppingPrep
}

// Event returns the event fired on entry to s, or "" if none.
func (s State) Event() string {
	switch s {
	case StateInitializing:
		return EventBeforeInit
	case StateInitialized:
		return EventAfterInit
	case StateStartingPrep:
		return EventBeforeStart
	case StateStarting:
		return EventStart
	case StateStarted:
		return EventAfterStart
	case StateStoppingPrep:
		return EventBeforeStop
	case StateStopping:
		return EventStop
	case StateStopped:
		return EventAfterStop
	case StateDestroying:
		return EventBeforeDestroy
	case StateDestroyed:
		return EventAfterDestroy
	default:
		return ""
	}
}
