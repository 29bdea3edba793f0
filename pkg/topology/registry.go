package topology

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/corticerasf/dice/pkg/container"
	"github.com/corticerasf/dice/pkg/core"
	"github.com/corticerasf/dice/pkg/lifecycle"
	"github.com/corticerasf/dice/pkg/log"
	"github.com/corticerasf/dice/pkg/scheduler"
)

// ErrUnknownType is returned when a description names an unregistered type tag.
var ErrUnknownType = errors.New("topology: unknown type")

// StandardType is the tag used when a description leaves the type empty.
const StandardType = "standard"

// BuildContext carries shared dependencies into factories.
type BuildContext struct {
	Logger    log.Logger
	Scheduler *scheduler.Scheduler
	BaseDir   string
	HomeDir   string
}

// ComponentLogger returns the build logger scoped to a component.
func (bc *BuildContext) ComponentLogger(kind, name string) log.Logger {
	return log.OrNoop(bc.Logger).With(log.String(kind, name))
}

// Factory signatures, one per component kind.
type (
	ServiceFactory   func(desc ServiceDesc, bc *BuildContext) (*core.Service, error)
	EngineFactory    func(desc EngineDesc, opts []container.Option, bc *BuildContext) (*core.Engine, error)
	HostFactory      func(desc HostDesc, opts []container.Option, bc *BuildContext) (*core.Host, error)
	ContextFactory   func(desc ContextDesc, opts []container.Option, bc *BuildContext) (*core.Context, error)
	ConnectorFactory func(desc ConnectorDesc, svc *core.Service, bc *BuildContext) (core.Connector, error)
	ExecutorFactory  func(desc ExecutorDesc, bc *BuildContext) (core.Executor, error)

	// ListenerFactory builds a listener for the component it will observe.
	ListenerFactory func(target lifecycle.Component, bc *BuildContext) (lifecycle.Listener, error)
)

type table[F any] struct {
	kind string
	mu   sync.RWMutex
	m    map[string]F
}

func newTable[F any](kind string) *table[F] {
	return &table[F]{kind: kind, m: make(map[string]F)}
}

func (t *table[F]) register(tag string, f F) {
	t.mu.Lock()
	t.m[tag] = f
	t.mu.Unlock()
}

func (t *table[F]) lookup(tag string) (F, error) {
	if tag == "" {
		tag = StandardType
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.m[tag]
	if !ok {
		var zero F
		return zero, fmt.Errorf("%w: %s %q", ErrUnknownType, t.kind, tag)
	}
	return f, nil
}

func (t *table[F]) tags() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.m))
	for tag := range t.m {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Registry maps type tags to constructors.
type Registry struct {
	services   *table[ServiceFactory]
	engines    *table[EngineFactory]
	hosts      *table[HostFactory]
	contexts   *table[ContextFactory]
	connectors *table[ConnectorFactory]
	executors  *table[ExecutorFactory]
	listeners  *table[ListenerFactory]
}

// NewRegistry returns a registry holding the standard types.
func NewRegistry() *Registry {
	r := &Registry{
		services:   newTable[ServiceFactory]("service"),
		engines:    newTable[EngineFactory]("engine"),
		hosts:      newTable[HostFactory]("host"),
		contexts:   newTable[ContextFactory]("context"),
		connectors: newTable[ConnectorFactory]("connector"),
		executors:  newTable[ExecutorFactory]("executor"),
		listeners:  newTable[ListenerFactory]("listener"),
	}
	r.RegisterService(StandardType, standardService)
	r.RegisterEngine(StandardType, standardEngine)
	r.RegisterHost(StandardType, standardHost)
	r.RegisterContext(StandardType, standardContext)
	r.RegisterConnector(StandardType, localConnector)
	r.RegisterConnector("local", localConnector)
	r.RegisterExecutor(StandardType, poolExecutor)
	return r
}

func (r *Registry) RegisterService(tag string, f ServiceFactory)     { r.services.register(tag, f) }
func (r *Registry) RegisterEngine(tag string, f EngineFactory)       { r.engines.register(tag, f) }
func (r *Registry) RegisterHost(tag string, f HostFactory)           { r.hosts.register(tag, f) }
func (r *Registry) RegisterContext(tag string, f ContextFactory)     { r.contexts.register(tag, f) }
func (r *Registry) RegisterConnector(tag string, f ConnectorFactory) { r.connectors.register(tag, f) }
func (r *Registry) RegisterExecutor(tag string, f ExecutorFactory)   { r.executors.register(tag, f) }
func (r *Registry) RegisterListener(tag string, f ListenerFactory)   { r.listeners.register(tag, f) }

// ListenerTypes returns the registered listener tags, sorted.
func (r *Registry) ListenerTypes() []string {
	return r.listeners.tags()
}

func standardService(desc ServiceDesc, bc *BuildContext) (*core.Service, error) {
	return core.NewService(desc.Name,
		core.WithServiceLogger(bc.ComponentLogger("service", desc.Name))), nil
}

func standardEngine(desc EngineDesc, opts []container.Option, bc *BuildContext) (*core.Engine, error) {
	e := core.NewEngine(desc.Name, opts...)
	if desc.DefaultHost != "" {
		e.SetDefaultHost(desc.DefaultHost)
	}
	return e, nil
}

func standardHost(desc HostDesc, opts []container.Option, bc *BuildContext) (*core.Host, error) {
	h := core.NewHost(desc.Name, opts...)
	for _, alias := range desc.Aliases {
		h.AddAlias(alias)
	}
	if desc.AppBase != "" {
		h.SetAppBase(desc.AppBase)
	}
	if desc.ConfigBase != "" {
		h.SetConfigBase(desc.ConfigBase)
	}
	if desc.HotDeployment != nil {
		h.SetHotDeployment(*desc.HotDeployment)
	}
	if desc.CreateDirs != nil {
		h.SetCreateDirs(*desc.CreateDirs)
	}
	if err := h.SetDeployIgnore(desc.DeployIgnore); err != nil {
		return nil, fmt.Errorf("host %s: %w", desc.Name, err)
	}
	return h, nil
}

func standardContext(desc ContextDesc, opts []container.Option, bc *BuildContext) (*core.Context, error) {
	c := core.NewContext(desc.Path, opts...)
	if desc.DocBase != "" {
		c.SetDocBase(desc.DocBase)
		c.SetHandler(core.FileHandler(c))
	}
	return c, nil
}

func localConnector(desc ConnectorDesc, svc *core.Service, bc *BuildContext) (core.Connector, error) {
	opts := []core.ConnectorOption{
		core.WithConnectorLogger(bc.ComponentLogger("connector", desc.Name)),
	}
	if desc.Executor != "" {
		exec := svc.Executor(desc.Executor)
		if exec == nil {
			return nil, fmt.Errorf("connector %s: executor %q not found", desc.Name, desc.Executor)
		}
		opts = append(opts, core.WithExecutor(exec))
	}
	return core.NewLocalConnector(desc.Name, opts...), nil
}

func poolExecutor(desc ExecutorDesc, bc *BuildContext) (core.Executor, error) {
	opts := []core.ExecutorOption{
		core.WithThreads(desc.Threads),
		core.WithExecutorLogger(bc.ComponentLogger("executor", desc.Name)),
	}
	if d, ok := parseDuration(desc.ShutdownTimeout); ok {
		opts = append(opts, core.WithShutdownTimeout(d))
	}
	return core.NewPoolExecutor(desc.Name, opts...), nil
}
