package lifecycle

// Canonical lifecycle event types.
const (
	EventBeforeInit     = "before_init"
	EventAfterInit      = "after_init"
	EventBeforeStart    = "before_start"
	EventStart          = "start"
	EventAfterStart     = "after_start"
	EventBeforeStop     = "before_stop"
	EventStop           = "stop"
	EventAfterStop      = "after_stop"
	EventBeforeDestroy  = "before_destroy"
	EventAfterDestroy   = "after_destroy"
	EventPeriodic       = "periodic"
	EventConfigureStart = "configure_start"
	EventConfigureStop  = "configure_stop"
)

// Event is delivered to listeners when a component changes state or fires
// a custom notification.
type Event struct {
	Source Component
	Type   string
	Data   interface{}
}

// Listener observes lifecycle events.
// Listeners run synchronously on the goroutine that fired the event.
type Listener interface {
	LifecycleEvent(Event)
}

type funcListener struct {
	fn func(Event)
}

func (f *funcListener) LifecycleEvent(e Event) { f.fn(e) }

// NewListener adapts fn to a Listener. Each call returns a distinct
// listener that can later be passed to RemoveListener.
func NewListener(fn func(Event)) Listener {
	return &funcListener{fn: fn}
}

// Component is any participant in the lifecycle state machine.
type Component interface {
	Init() error
	Start() error
	Stop() error
	Destroy() error
	State() State

	AddListener(l Listener)
	RemoveListener(l Listener)
	Listeners() []Listener
}
