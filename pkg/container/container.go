package container

import (
	"io/fs"
	"time"

	"github.com/corticerasf/dice/pkg/lifecycle"
	"github.com/corticerasf/dice/pkg/log"
	"github.com/corticerasf/dice/pkg/pipeline"
)

// Container events.
const (
	EventAddChild    = "add_child"
	EventRemoveChild = "remove_child"
	EventAddValve    = pipeline.EventAddValve
	EventRemoveValve = pipeline.EventRemoveValve
	EventAddAlias    = "add_alias"
	EventRemoveAlias = "remove_alias"
	EventSetLoader   = "set_loader"
)

// Container is a node in the component tree.
type Container interface {
	lifecycle.Component

	Name() string
	Parent() Container
	SetParent(parent Container) error

	AddChild(child Container) error
	RemoveChild(child Container)
	FindChild(name string) Container
	FindChildren() []Container

	Pipeline() *pipeline.Pipeline
	Loader() fs.FS

	BackgroundProcess()
	BackgroundProcessorDelay() time.Duration

	AddContainerListener(l Listener)
	RemoveContainerListener(l Listener)
	FireContainerEvent(eventType string, data interface{})

	Logger() log.Logger
}

// Event is a structural change notification.
type Event struct {
	Container Container
	Type      string
	Data      interface{}
}

// Listener observes container events. Listeners run synchronously on the
// goroutine that made the change, after the change is visible.
type Listener interface {
	ContainerEvent(Event)
}

type funcListener struct {
	fn func(Event)
}

func (f *funcListener) ContainerEvent(e Event) { f.fn(e) }

// NewListener adapts fn to a Listener.
func NewListener(fn func(Event)) Listener {
	return &funcListener{fn: fn}
}
