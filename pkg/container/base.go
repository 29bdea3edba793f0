package container

import (
	"context"
	"fmt"
	"io/fs"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corticerasf/dice/internal/workpool"
	"github.com/corticerasf/dice/pkg/lifecycle"
	"github.com/corticerasf/dice/pkg/log"
	"github.com/corticerasf/dice/pkg/pipeline"
	"github.com/corticerasf/dice/pkg/scheduler"
)

// Option configures a Base.
type Option func(*Base)

// WithLogger sets the container logger. The pipeline shares it.
func WithLogger(l log.Logger) Option {
	return func(b *Base) {
		b.logger = l
	}
}

// WithScheduler sets the scheduler background ticks subscribe to.
// Defaults to scheduler.Default().
func WithScheduler(s *scheduler.Scheduler) Option {
	return func(b *Base) {
		b.scheduler = s
	}
}

// WithBackgroundDelay sets the background tick interval. A value <= 0
// disables the container's own subscription; it is then ticked only by its
// parent's.
func WithBackgroundDelay(d time.Duration) Option {
	return func(b *Base) {
		b.delay.Store(int64(d))
	}
}

// WithStartStopThreads sets the child start/stop concurrency, resolved by
// workpool.Size: a value <= 0 is added to the number of processors.
func WithStartStopThreads(n int) Option {
	return func(b *Base) {
		b.threads.Store(int64(n))
	}
}

// WithLoader sets the container's own resource loader.
func WithLoader(l fs.FS) Option {
	return func(b *Base) {
		b.loader = l
	}
}

// WithChildValidator installs a check run by AddChild before any mutation.
func WithChildValidator(fn func(child Container) error) Option {
	return func(b *Base) {
		b.validateChild = fn
	}
}

// AsRoot marks the container as a hierarchy root that rejects parents.
func AsRoot() Option {
	return func(b *Base) {
		b.root = true
	}
}

// WithHooks adds container-specific steps around the base lifecycle:
// Init runs after the base init, Start before children are started, Stop
// after children are stopped and Destroy before children are removed.
// These hooks must not call SetState.
func WithHooks(h lifecycle.Hooks) Option {
	return func(b *Base) {
		b.ext = h
	}
}

// Base implements Container. Embed it by value and call Setup.
type Base struct {
	lifecycle.Runner

	self   Container
	name   string
	root   bool
	logger log.Logger
	ext    lifecycle.Hooks

	validateChild func(Container) error

	parentMu sync.RWMutex
	parent   Container

	childMu  sync.RWMutex
	children map[string]Container

	listenerMu sync.RWMutex
	listeners  []Listener

	loaderMu sync.RWMutex
	loader   fs.FS

	pipeline *pipeline.Pipeline

	scheduler *scheduler.Scheduler
	delay     atomic.Int64
	bgMu      sync.Mutex
	bgSub     *scheduler.Subscription

	threads atomic.Int64
	poolMu  sync.RWMutex
	pool    *workpool.Pool
}

// New creates a standalone generic container.
func New(name string, opts ...Option) *Base {
	b := &Base{}
	b.Setup(b, name, opts...)
	return b
}

// Setup binds the base to the embedding container. self is reported as the
// source of every event and handed to children as their parent.
func (b *Base) Setup(self Container, name string, opts ...Option) {
	b.self = self
	b.name = name
	b.children = make(map[string]Container)
	for _, opt := range opts {
		opt(b)
	}
	b.logger = log.OrNoop(b.logger)
	if b.scheduler == nil {
		b.scheduler = scheduler.Default()
	}

	b.pipeline = pipeline.New(self, pipeline.WithLogger(b.logger))
	b.Bind(self, name, lifecycle.Hooks{
		Init:    b.initInternal,
		Start:   b.startInternal,
		Stop:    b.stopInternal,
		Destroy: b.destroyInternal,
	}, lifecycle.WithLogger(b.logger))
}

// Name returns the container name.
func (b *Base) Name() string {
	return b.name
}

// Parent returns the parent container, or nil.
func (b *Base) Parent() Container {
	b.parentMu.RLock()
	defer b.parentMu.RUnlock()
	return b.parent
}

// SetParent records the parent. Root containers refuse.
func (b *Base) SetParent(parent Container) error {
	if b.root && parent != nil {
		return fmt.Errorf("%w: %s", ErrRootContainer, b.name)
	}
	b.parentMu.Lock()
	b.parent = parent
	b.parentMu.Unlock()
	return nil
}

// Pipeline returns the container's valve chain.
func (b *Base) Pipeline() *pipeline.Pipeline {
	return b.pipeline
}

// AddChild registers child under its name and starts it if this container
// is available or starting. A start failure is returned but the child stays
// registered. The add_child event fires whenever the child was registered.
func (b *Base) AddChild(child Container) error {
	if child == nil {
		return fmt.Errorf("%w: nil child", ErrInvalidChild)
	}
	if b.validateChild != nil {
		if err := b.validateChild(child); err != nil {
			return err
		}
	}

	name := child.Name()
	b.childMu.Lock()
	if _, exists := b.children[name]; exists {
		b.childMu.Unlock()
		return fmt.Errorf("%w: %q already exists in %s", ErrDuplicateChild, name, b.name)
	}
	if err := child.SetParent(b.self); err != nil {
		b.childMu.Unlock()
		return err
	}
	b.children[name] = child
	b.childMu.Unlock()

	var err error
	if s := b.State(); s.Available() || s == lifecycle.StateStartingPrep {
		if serr := child.Start(); serr != nil {
			err = fmt.Errorf("start child %q of %s: %w", name, b.name, serr)
		}
	}

	b.FireContainerEvent(EventAddChild, child)
	return err
}

// RemoveChild unregisters child, then stops and destroys it. Failures are
// logged. Removing a child that is not registered, or a different instance
// with the same name, does nothing.
func (b *Base) RemoveChild(child Container) {
	if child == nil {
		return
	}

	name := child.Name()
	b.childMu.Lock()
	current, ok := b.children[name]
	if !ok || current != child {
		b.childMu.Unlock()
		return
	}
	delete(b.children, name)
	b.childMu.Unlock()

	if s := child.State(); s.Available() || s == lifecycle.StateFailed {
		if err := child.Stop(); err != nil {
			b.Logger().Error("failed to stop removed child",
				log.String("container", b.name),
				log.String("child", name),
				log.Err(err))
		}
	}
	if err := child.Destroy(); err != nil {
		b.Logger().Error("failed to destroy removed child",
			log.String("container", b.name),
			log.String("child", name),
			log.Err(err))
	}

	b.FireContainerEvent(EventRemoveChild, child)
}

// FindChild returns the child with the given name, or nil.
func (b *Base) FindChild(name string) Container {
	b.childMu.RLock()
	defer b.childMu.RUnlock()
	return b.children[name]
}

// FindChildren returns a snapshot of the children in unspecified order.
func (b *Base) FindChildren() []Container {
	b.childMu.RLock()
	defer b.childMu.RUnlock()
	out := make([]Container, 0, len(b.children))
	for _, c := range b.children {
		out = append(out, c)
	}
	return out
}

// Loader returns the container's loader, else its parent's, else nil.
func (b *Base) Loader() fs.FS {
	b.loaderMu.RLock()
	l := b.loader
	b.loaderMu.RUnlock()
	if l != nil {
		return l
	}
	if p := b.Parent(); p != nil {
		return p.Loader()
	}
	return nil
}

// OwnLoader returns the loader set on this container, ignoring the parent.
func (b *Base) OwnLoader() fs.FS {
	b.loaderMu.RLock()
	defer b.loaderMu.RUnlock()
	return b.loader
}

// SetLoader replaces the container's own loader. Loaders that are lifecycle
// components are started and stopped along with an available container.
func (b *Base) SetLoader(l fs.FS) {
	b.loaderMu.Lock()
	old := b.loader
	b.loader = l
	b.loaderMu.Unlock()

	available := b.State().Available()
	if c, ok := old.(lifecycle.Component); ok && available {
		if err := c.Stop(); err != nil {
			b.Logger().Error("failed to stop previous loader",
				log.String("container", b.name), log.Err(err))
		}
	}
	if c, ok := l.(lifecycle.Component); ok && available {
		if err := c.Start(); err != nil {
			b.Logger().Error("failed to start loader",
				log.String("container", b.name), log.Err(err))
		}
	}
	b.FireContainerEvent(EventSetLoader, l)
}

// BackgroundProcessorDelay returns the background tick interval.
func (b *Base) BackgroundProcessorDelay() time.Duration {
	return time.Duration(b.delay.Load())
}

// SetBackgroundProcessorDelay changes the tick interval. It takes effect at
// the next start.
func (b *Base) SetBackgroundProcessorDelay(d time.Duration) {
	b.delay.Store(int64(d))
}

// StartStopThreads returns the configured child start/stop concurrency.
func (b *Base) StartStopThreads() int {
	return int(b.threads.Load())
}

// SetStartStopThreads changes the child start/stop concurrency.
func (b *Base) SetStartStopThreads(n int) {
	b.threads.Store(int64(n))
	b.poolMu.RLock()
	defer b.poolMu.RUnlock()
	if b.pool != nil {
		b.pool.Resize(n)
	}
}

// Pool returns the container's start/stop pool, or nil before init.
func (b *Base) Pool() *workpool.Pool {
	b.poolMu.RLock()
	defer b.poolMu.RUnlock()
	return b.pool
}

// BackgroundProcess runs periodic maintenance: it ticks the pipeline's
// valves and fires the periodic event. It does nothing unless the
// container is available.
func (b *Base) BackgroundProcess() {
	if !b.State().Available() {
		return
	}
	b.pipeline.BackgroundProcess()
	b.FireLifecycleEvent(lifecycle.EventPeriodic, nil)
}

// AddContainerListener registers a container listener.
func (b *Base) AddContainerListener(l Listener) {
	if l == nil {
		return
	}
	b.listenerMu.Lock()
	defer b.listenerMu.Unlock()
	next := make([]Listener, len(b.listeners), len(b.listeners)+1)
	copy(next, b.listeners)
	b.listeners = append(next, l)
}

// RemoveContainerListener unregisters the first registration of l. Only
// comparable listeners can be removed; others are left registered.
func (b *Base) RemoveContainerListener(l Listener) {
	b.listenerMu.Lock()
	defer b.listenerMu.Unlock()
	for i, existing := range b.listeners {
		if sameListener(existing, l) {
			next := make([]Listener, 0, len(b.listeners)-1)
			next = append(next, b.listeners[:i]...)
			b.listeners = append(next, b.listeners[i+1:]...)
			return
		}
	}
}

// ContainerListeners returns a snapshot of the container listeners.
func (b *Base) ContainerListeners() []Listener {
	b.listenerMu.RLock()
	defer b.listenerMu.RUnlock()
	return append([]Listener(nil), b.listeners...)
}

// FireContainerEvent notifies container listeners in registration order.
func (b *Base) FireContainerEvent(eventType string, data interface{}) {
	b.listenerMu.RLock()
	listeners := b.listeners
	b.listenerMu.RUnlock()

	e := Event{Container: b.self, Type: eventType, Data: data}
	for _, l := range listeners {
		l.ContainerEvent(e)
	}
}

func (b *Base) initInternal() error {
	b.poolMu.Lock()
	b.pool = workpool.New(int(b.threads.Load()))
	b.poolMu.Unlock()

	if b.ext.Init != nil {
		return b.ext.Init()
	}
	return nil
}

func (b *Base) startInternal() error {
	if b.ext.Start != nil {
		if err := b.ext.Start(); err != nil {
			return err
		}
	}

	b.loaderMu.RLock()
	loader := b.loader
	b.loaderMu.RUnlock()
	if c, ok := loader.(lifecycle.Component); ok {
		if err := c.Start(); err != nil {
			return fmt.Errorf("start loader: %w", err)
		}
	}

	if err := b.startChildren(); err != nil {
		return err
	}

	if err := b.pipeline.Start(); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}

	if err := b.SetState(lifecycle.StateStarting); err != nil {
		return err
	}
	b.startBackground()
	return nil
}

func (b *Base) startChildren() error {
	children := b.FindChildren()
	if len(children) == 0 {
		return nil
	}

	tasks := make([]workpool.Task, len(children))
	for i, child := range children {
		tasks[i] = child.Start
	}
	errs, err := b.Pool().Run(context.Background(), tasks)
	if err != nil {
		return fmt.Errorf("start children of %s: %w", b.name, err)
	}

	var failed *ChildStartError
	for i, cerr := range errs {
		if cerr == nil {
			continue
		}
		name := children[i].Name()
		b.Logger().Error("child failed to start",
			log.String("container", b.name),
			log.String("child", name),
			log.Err(cerr))
		if failed == nil {
			failed = &ChildStartError{Container: b.name}
		}
		failed.Children = append(failed.Children, name)
		failed.Errs = append(failed.Errs, cerr)
	}
	if failed != nil {
		return failed
	}
	return nil
}

func (b *Base) stopInternal() error {
	b.stopBackground()

	if err := b.SetState(lifecycle.StateStopping); err != nil {
		return err
	}

	if s := b.pipeline.State(); s.Available() || s == lifecycle.StateFailed {
		if err := b.pipeline.Stop(); err != nil {
			b.Logger().Error("failed to stop pipeline",
				log.String("container", b.name), log.Err(err))
		}
	}

	b.stopChildren()

	b.loaderMu.RLock()
	loader := b.loader
	b.loaderMu.RUnlock()
	if c, ok := loader.(lifecycle.Component); ok {
		if err := c.Stop(); err != nil {
			b.Logger().Error("failed to stop loader",
				log.String("container", b.name), log.Err(err))
		}
	}

	if b.ext.Stop != nil {
		return b.ext.Stop()
	}
	return nil
}

func (b *Base) stopChildren() {
	children := b.FindChildren()
	if len(children) == 0 {
		return
	}

	tasks := make([]workpool.Task, len(children))
	for i, child := range children {
		child := child
		tasks[i] = func() error {
			if s := child.State(); !s.Available() && s != lifecycle.StateFailed {
				return nil
			}
			return child.Stop()
		}
	}

	pool := b.Pool()
	var errs []error
	var err error
	if pool != nil {
		errs, err = pool.Run(context.Background(), tasks)
	}
	if pool == nil || err != nil {
		errs = make([]error, len(tasks))
		for i, task := range tasks {
			errs[i] = task()
		}
	}

	for i, cerr := range errs {
		if cerr != nil {
			b.Logger().Error("child failed to stop",
				log.String("container", b.name),
				log.String("child", children[i].Name()),
				log.Err(cerr))
		}
	}
}

func (b *Base) destroyInternal() error {
	if b.ext.Destroy != nil {
		if err := b.ext.Destroy(); err != nil {
			return err
		}
	}

	if err := b.pipeline.Destroy(); err != nil {
		b.Logger().Error("failed to destroy pipeline",
			log.String("container", b.name), log.Err(err))
	}

	for _, child := range b.FindChildren() {
		b.RemoveChild(child)
	}

	if pool := b.Pool(); pool != nil {
		pool.Shutdown(0)
	}
	return nil
}

func (b *Base) startBackground() {
	delay := b.BackgroundProcessorDelay()
	if delay <= 0 {
		return
	}
	b.bgMu.Lock()
	defer b.bgMu.Unlock()
	if b.bgSub != nil {
		return
	}
	b.bgSub = b.scheduler.Subscribe(b.name, delay, b.tick)
}

// stopBackground cancels the subscription and waits out a running tick.
func (b *Base) stopBackground() {
	b.bgMu.Lock()
	sub := b.bgSub
	b.bgSub = nil
	b.bgMu.Unlock()
	sub.Cancel()
}

// tick runs one background pass: the container itself, then each direct
// child once. Grandchildren are left to their parent's own subscription.
func (b *Base) tick() {
	if !b.State().Available() {
		return
	}
	b.self.BackgroundProcess()
	for _, child := range b.FindChildren() {
		child.BackgroundProcess()
	}
}

func sameListener(a, b Listener) bool {
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || ta == nil || !ta.Comparable() {
		return false
	}
	return a == b
}
