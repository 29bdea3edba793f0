package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/corticerasf/dice/pkg/lifecycle"
)

// ErrNoNextValve is returned by InvokeNext when a valve is the end of the chain.
var ErrNoNextValve = errors.New("pipeline: no next valve")

// Owner is the container a pipeline or valve is associated with.
type Owner interface {
	Name() string
	FireContainerEvent(eventType string, data interface{})
}

// Valve is one processing stage.
type Valve interface {
	// Invoke handles ex or passes it on by calling the next valve.
	Invoke(ctx context.Context, ex *Exchange) error

	// Event delivers an out-of-band event for ex along the chain.
	Event(ctx context.Context, ex *Exchange, ev Event) error

	Next() Valve
	SetNext(v Valve)

	// BackgroundProcess runs on the owning container's background tick.
	BackgroundProcess()
}

// Contained is implemented by valves that track their owning container.
type Contained interface {
	Container() Owner
	SetContainer(o Owner)
}

type valveRef struct{ v Valve }

// ValveBase carries the parts common to most valves: lifecycle, the next
// link and the owning container. Embed it and implement Invoke.
type ValveBase struct {
	lifecycle.Runner

	next atomic.Pointer[valveRef]

	ownerMu sync.RWMutex
	owner   Owner
}

// Next returns the following valve, or nil at the end of the chain.
func (b *ValveBase) Next() Valve {
	if r := b.next.Load(); r != nil {
		return r.v
	}
	return nil
}

// SetNext links v after this valve.
func (b *ValveBase) SetNext(v Valve) {
	if v == nil {
		b.next.Store(nil)
		return
	}
	b.next.Store(&valveRef{v: v})
}

// InvokeNext passes ex to the next valve.
func (b *ValveBase) InvokeNext(ctx context.Context, ex *Exchange) error {
	next := b.Next()
	if next == nil {
		return ErrNoNextValve
	}
	return next.Invoke(ctx, ex)
}

// Event forwards ev to the next valve. The last valve drops it.
func (b *ValveBase) Event(ctx context.Context, ex *Exchange, ev Event) error {
	if next := b.Next(); next != nil {
		return next.Event(ctx, ex, ev)
	}
	return nil
}

// BackgroundProcess does nothing by default.
func (b *ValveBase) BackgroundProcess() {}

// Container returns the owning container, or nil.
func (b *ValveBase) Container() Owner {
	b.ownerMu.RLock()
	defer b.ownerMu.RUnlock()
	return b.owner
}

// SetContainer associates the valve with o. A nil o disassociates it.
func (b *ValveBase) SetContainer(o Owner) {
	b.ownerMu.Lock()
	b.owner = o
	b.ownerMu.Unlock()
}

// InvokeFunc is the body of a FuncValve.
type InvokeFunc func(ctx context.Context, ex *Exchange, next Valve) error

// FuncValve adapts an InvokeFunc to a lifecycle-managed Valve.
type FuncValve struct {
	ValveBase
	fn InvokeFunc
}

// NewFuncValve creates a valve that runs fn for every exchange. fn receives
// the next valve, which may be nil.
func NewFuncValve(name string, fn InvokeFunc, opts ...lifecycle.Option) *FuncValve {
	v := &FuncValve{fn: fn}
	v.Bind(v, name, lifecycle.Hooks{}, opts...)
	return v
}

// Invoke runs the valve's function.
func (v *FuncValve) Invoke(ctx context.Context, ex *Exchange) error {
	return v.fn(ctx, ex, v.Next())
}
