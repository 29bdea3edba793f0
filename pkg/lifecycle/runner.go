package lifecycle

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/corticerasf/dice/pkg/log"
)

// Hooks are the component-specific steps run by a Runner.
//
// A nil Start hook moves the component to StateStarting and a nil Stop hook
// moves it to StateStopping. A non-nil Start hook must itself call
// SetState(StateStarting) on success, and a Stop hook SetState(StateStopping).
type Hooks struct {
	Init    func() error
	Start   func() error
	Stop    func() error
	Destroy func() error
}

// Option configures a Runner at bind time.
type Option func(*Runner)

// WithLogger sets the logger used for tolerated no-ops and best-effort failures.
func WithLogger(l log.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// SingleUse marks the component as single-use: every stop() is followed by
// destroy(), whether the stop succeeded or not.
func SingleUse() Option {
	return func(r *Runner) {
		r.singleUse = true
	}
}

// Runner implements the lifecycle state machine. Embed it by value and call
// Bind before first use. The zero value is a usable component in StateNew
// with no hooks.
type Runner struct {
	// opMu serializes Init/Start/Stop/Destroy on one instance.
	opMu sync.Mutex

	mu        sync.RWMutex
	state     State
	listeners []Listener

	source    Component
	name      string
	hooks     Hooks
	singleUse bool
	logger    log.Logger
}

// Bind attaches the embedding component, its name and hooks to the runner.
// source is reported as Event.Source; a nil source reports the runner itself.
func (r *Runner) Bind(source Component, name string, hooks Hooks, opts ...Option) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.source = source
	r.name = name
	r.hooks = hooks
	for _, opt := range opts {
		opt(r)
	}
}

// SetLogger replaces the runner's logger.
func (r *Runner) SetLogger(l log.Logger) {
	r.mu.Lock()
	r.logger = l
	r.mu.Unlock()
}

// Logger returns the runner's logger, never nil.
func (r *Runner) Logger() log.Logger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return log.OrNoop(r.logger)
}

// State returns the current lifecycle state.
func (r *Runner) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// AddListener registers l. Duplicates are kept and notified once per registration.
func (r *Runner) AddListener(l Listener) {
	if l == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	next := make([]Listener, len(r.listeners), len(r.listeners)+1)
	copy(next, r.listeners)
	r.listeners = append(next, l)
}

// RemoveListener unregisters the first registration of l. Listeners are
// matched by identity, so only comparable listeners (pointers, or values
// built by NewListener) can be removed; others are left registered.
func (r *Runner) RemoveListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.listeners {
		if sameListener(existing, l) {
			next := make([]Listener, 0, len(r.listeners)-1)
			next = append(next, r.listeners[:i]...)
			r.listeners = append(next, r.listeners[i+1:]...)
			return
		}
	}
}

// Listeners returns a snapshot of the registered listeners in registration order.
func (r *Runner) Listeners() []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Listener, len(r.listeners))
	copy(out, r.listeners)
	return out
}

// FireLifecycleEvent delivers an event to every listener in registration order.
func (r *Runner) FireLifecycleEvent(eventType string, data interface{}) {
	r.mu.RLock()
	listeners := r.listeners
	src := r.sourceLocked()
	r.mu.RUnlock()

	e := Event{Source: src, Type: eventType, Data: data}
	for _, l := range listeners {
		l.LifecycleEvent(e)
	}
}

// Init moves a NEW component to INITIALIZED, running the init hook.
func (r *Runner) Init() error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	return r.init()
}

// Start brings the component to STARTED. A NEW component is initialized
// first and a FAILED one is stopped first. Calling Start on a starting or
// started component is a logged no-op.
func (r *Runner) Start() error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	return r.start()
}

// Stop brings a STARTED or FAILED component to STOPPED. A NEW component
// becomes STOPPED directly. Calling Stop on a stopping or stopped
// component is a logged no-op.
func (r *Runner) Stop() error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	return r.stop()
}

// Destroy releases the component. A FAILED component is stopped first on a
// best-effort basis.
func (r *Runner) Destroy() error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	return r.destroy()
}

// SetState lets a hook request one of the permitted transitions: FAILED
// from anywhere, STARTING_PREP->STARTING, STOPPING_PREP->STOPPING or
// FAILED->STOPPING.
func (r *Runner) SetState(s State) error {
	return r.SetStateWithData(s, nil)
}

// SetStateWithData is SetState with an event payload.
func (r *Runner) SetStateWithData(s State, data interface{}) error {
	cur := r.State()
	allowed := s == StateFailed ||
		(cur == StateStartingPrep && s == StateStarting) ||
		(cur == StateStoppingPrep && s == StateStopping) ||
		(cur == StateFailed && s == StateStopping)
	if !allowed {
		return invalidTransition(r.componentName(), "move to "+s.String(), cur)
	}
	r.setState(s, data)
	return nil
}

func (r *Runner) init() error {
	if s := r.State(); s != StateNew {
		return invalidTransition(r.componentName(), "init", s)
	}

	r.setState(StateInitializing, nil)
	if err := r.call(r.hooks.Init); err != nil {
		r.setState(StateFailed, nil)
		return &HookError{Component: r.componentName(), Op: "init", Err: err}
	}
	r.setState(StateInitialized, nil)
	return nil
}

func (r *Runner) start() error {
	switch s := r.State(); s {
	case StateStartingPrep, StateStarting, StateStarted:
		r.Logger().Warn("component already started",
			log.String("component", r.componentName()),
			log.Stringer("state", s))
		return nil
	case StateNew:
		if err := r.init(); err != nil {
			return err
		}
	case StateFailed:
		if err := r.stop(); err != nil {
			return err
		}
	case StateInitialized, StateStopped:
	default:
		return invalidTransition(r.componentName(), "start", s)
	}

	if s := r.State(); s != StateInitialized && s != StateStopped {
		return invalidTransition(r.componentName(), "start", s)
	}

	r.setState(StateStartingPrep, nil)
	start := r.hooks.Start
	if start == nil {
		start = func() error { return r.SetState(StateStarting) }
	}
	if err := r.call(start); err != nil {
		r.setState(StateFailed, nil)
		return &HookError{Component: r.componentName(), Op: "start", Err: err}
	}

	switch s := r.State(); s {
	case StateFailed:
		// The hook marked itself failed; stop cleans up what it acquired.
		if err := r.stop(); err != nil {
			r.Logger().Error("cleanup after failed start",
				log.String("component", r.componentName()),
				log.Err(err))
		}
		return nil
	case StateStarting:
		r.setState(StateStarted, nil)
		return nil
	default:
		r.setState(StateFailed, nil)
		return &HookError{
			Component: r.componentName(),
			Op:        "start",
			Err:       invalidTransition(r.componentName(), "complete start", s),
		}
	}
}

func (r *Runner) stop() (err error) {
	from := r.State()
	switch from {
	case StateStoppingPrep, StateStopping, StateStopped:
		r.Logger().Warn("component already stopped",
			log.String("component", r.componentName()),
			log.Stringer("state", from))
		return nil
	case StateNew:
		r.mu.Lock()
		r.state = StateStopped
		r.mu.Unlock()
		return nil
	case StateStarted, StateFailed:
	default:
		return invalidTransition(r.componentName(), "stop", from)
	}

	if r.singleUse {
		defer func() {
			if s := r.State(); s != StateStopped {
				r.setState(StateStopped, nil)
			}
			if derr := r.destroy(); derr != nil && err == nil {
				err = derr
			}
		}()
	}

	if from == StateFailed {
		// Skip STOPPING_PREP so a failed component never reports itself available.
		r.FireLifecycleEvent(EventBeforeStop, nil)
	} else {
		r.setState(StateStoppingPrep, nil)
	}

	stop := r.hooks.Stop
	if stop == nil {
		stop = func() error { return r.SetState(StateStopping) }
	}
	if herr := r.call(stop); herr != nil {
		r.setState(StateFailed, nil)
		return &HookError{Component: r.componentName(), Op: "stop", Err: herr}
	}

	if s := r.State(); s != StateStopping && s != StateFailed {
		r.setState(StateFailed, nil)
		return &HookError{
			Component: r.componentName(),
			Op:        "stop",
			Err:       invalidTransition(r.componentName(), "complete stop", s),
		}
	}
	r.setState(StateStopped, nil)
	return nil
}

func (r *Runner) destroy() error {
	if r.State() == StateFailed {
		if err := r.stop(); err != nil {
			r.Logger().Warn("stop before destroy failed",
				log.String("component", r.componentName()),
				log.Err(err))
		}
	}

	switch s := r.State(); s {
	case StateDestroying, StateDestroyed:
		if !r.singleUse {
			r.Logger().Debug("component already destroyed",
				log.String("component", r.componentName()))
		}
		return nil
	case StateStopped, StateFailed, StateNew, StateInitialized:
	default:
		return invalidTransition(r.componentName(), "destroy", s)
	}

	r.setState(StateDestroying, nil)
	if err := r.call(r.hooks.Destroy); err != nil {
		r.setState(StateFailed, nil)
		return &HookError{Component: r.componentName(), Op: "destroy", Err: err}
	}
	r.setState(StateDestroyed, nil)
	return nil
}

// setState writes s and fires its canonical event outside the lock.
func (r *Runner) setState(s State, data interface{}) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()

	if ev := s.Event(); ev != "" {
		r.FireLifecycleEvent(ev, data)
	}
}

func (r *Runner) call(hook func() error) (err error) {
	if hook == nil {
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("hook panicked: %v", p)
		}
	}()
	return hook()
}

func (r *Runner) componentName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.name == "" {
		return "component"
	}
	return r.name
}

func (r *Runner) sourceLocked() Component {
	if r.source != nil {
		return r.source
	}
	return r
}

// sameListener compares a and b without panicking on listener types that
// are not comparable.
func sameListener(a, b Listener) bool {
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || ta == nil || !ta.Comparable() {
		return false
	}
	return a == b
}
