// Package hostconfig deploys contexts onto a host from descriptor files in
// the host's config base, and redeploys them when the files change.
//
// A descriptor named a#b.toml deploys the context /a/b; ROOT.toml deploys
// the root context. Descriptors are rescanned on the host's periodic event
// while hot deployment is enabled. An fsnotify watcher marks the directory
// dirty so unchanged directories are not rescanned.
package hostconfig

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/corticerasf/dice/internal/workpool"
	"github.com/corticerasf/dice/pkg/container"
	"github.com/corticerasf/dice/pkg/core"
	"github.com/corticerasf/dice/pkg/lifecycle"
	"github.com/corticerasf/dice/pkg/log"
)

// ContextFactory creates an undeployed context for a descriptor. docBase
// is already resolved.
type ContextFactory func(path string, d *Descriptor) (*core.Context, error)

// Option configures a Plugin.
type Option func(*Plugin)

// WithContextFactory replaces the default context constructor.
func WithContextFactory(f ContextFactory) Option {
	return func(p *Plugin) {
		p.newContext = f
	}
}

// WithContainerOptions sets options passed to contexts built by the
// default factory.
func WithContainerOptions(opts ...container.Option) Option {
	return func(p *Plugin) {
		p.containerOpts = append(p.containerOpts, opts...)
	}
}

type deployment struct {
	ctx     *core.Context
	modTime time.Time
}

// Plugin is a lifecycle listener attached to one host.
type Plugin struct {
	host          *core.Host
	newContext    ContextFactory
	containerOpts []container.Option

	// scanMu serializes scans.
	scanMu   sync.Mutex
	mu       sync.Mutex
	deployed map[string]deployment

	dirty    atomic.Bool
	watching atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a deployer for host. Register it with host.AddListener.
func New(host *core.Host, opts ...Option) *Plugin {
	p := &Plugin{
		host:     host,
		deployed: make(map[string]deployment),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.newContext == nil {
		p.newContext = p.standardContext
	}
	return p
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "hostconfig"
}

// LifecycleEvent drives deployment from the host's lifecycle.
func (p *Plugin) LifecycleEvent(e lifecycle.Event) {
	switch e.Type {
	case lifecycle.EventAfterStart:
		p.watch()
		p.Check()
	case lifecycle.EventPeriodic:
		if p.host.HotDeployment() && (p.dirty.Load() || !p.watching.Load()) {
			p.Check()
		}
	case lifecycle.EventBeforeStop:
		p.unwatch()
	case lifecycle.EventAfterStop:
		p.UndeployAll()
	}
}

// Deployed returns the paths of contexts this plugin deployed, sorted.
func (p *Plugin) Deployed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.deployed))
	for name := range p.deployed {
		out = append(out, ContextPath(name))
	}
	sort.Strings(out)
	return out
}

// Check scans the config base once: new descriptors are deployed, changed
// ones redeployed and contexts whose descriptor disappeared undeployed.
func (p *Plugin) Check() {
	p.scanMu.Lock()
	defer p.scanMu.Unlock()
	p.dirty.Store(false)

	logger := p.logger()
	dir := p.host.ConfigBase()
	found, err := p.scan(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to scan descriptors", log.String("dir", dir), log.Err(err))
		return
	}

	p.mu.Lock()
	var gone []string
	for name := range p.deployed {
		if _, ok := found[name]; !ok {
			gone = append(gone, name)
		}
	}
	var pending []string
	for name, modTime := range found {
		d, ok := p.deployed[name]
		if !ok || !d.modTime.Equal(modTime) {
			pending = append(pending, name)
		}
	}
	p.mu.Unlock()

	for _, name := range gone {
		p.undeploy(name)
	}
	sort.Strings(pending)

	tasks := make([]workpool.Task, len(pending))
	for i, name := range pending {
		name, modTime := name, found[name]
		tasks[i] = func() error {
			return p.deploy(dir, name, modTime)
		}
	}
	p.run(tasks)
}

// UndeployAll removes every context this plugin deployed.
func (p *Plugin) UndeployAll() {
	p.scanMu.Lock()
	defer p.scanMu.Unlock()

	p.mu.Lock()
	names := make([]string, 0, len(p.deployed))
	for name := range p.deployed {
		names = append(names, name)
	}
	p.mu.Unlock()

	for _, name := range names {
		p.undeploy(name)
	}
}

func (p *Plugin) scan(dir string) (map[string]time.Time, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	found := make(map[string]time.Time, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, DescriptorExt) || p.host.DeployIgnored(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		found[name] = info.ModTime()
	}
	return found, nil
}

func (p *Plugin) run(tasks []workpool.Task) {
	if len(tasks) == 0 {
		return
	}
	pool := p.host.StartStopPool()
	if pool == nil || pool.Closed() {
		for _, task := range tasks {
			_ = task()
		}
		return
	}
	if _, err := pool.Run(context.Background(), tasks); err != nil {
		p.logger().Error("deployment interrupted", log.Err(err))
	}
}

func (p *Plugin) deploy(dir, name string, modTime time.Time) error {
	logger := p.logger().With(log.String("descriptor", name))
	path := ContextPath(name)

	p.mu.Lock()
	previous := p.deployed[name]
	p.mu.Unlock()
	redeploy := previous.ctx != nil

	if !redeploy {
		if existing := p.host.FindChild(core.NormalizePath(path)); existing != nil {
			logger.Warn("context already present, descriptor ignored", log.String("path", path))
			p.record(name, deployment{modTime: modTime})
			return nil
		}
	}

	d, err := ReadDescriptor(filepath.Join(dir, name))
	if err != nil {
		logger.Error("failed to read descriptor", log.Err(err))
		return err
	}
	if !filepath.IsAbs(d.DocBase) {
		d.DocBase = filepath.Join(p.host.AppBaseDir(), d.DocBase)
	}

	if redeploy {
		p.host.RemoveChild(previous.ctx)
	}

	ctx, err := p.newContext(path, d)
	if err != nil {
		logger.Error("failed to create context", log.Err(err))
		return err
	}
	// The context stays registered even if it fails to start, so the
	// descriptor is not retried until it changes.
	p.record(name, deployment{ctx: ctx, modTime: modTime})
	if err := p.host.AddChild(ctx); err != nil {
		logger.Error("failed to deploy context", log.String("path", path), log.Err(err))
		return err
	}
	logger.Info("context deployed", log.String("path", path), log.String("doc_base", d.DocBase))
	return nil
}

func (p *Plugin) undeploy(name string) {
	p.mu.Lock()
	d, ok := p.deployed[name]
	delete(p.deployed, name)
	p.mu.Unlock()
	if !ok || d.ctx == nil {
		return
	}
	p.host.RemoveChild(d.ctx)
	p.logger().Info("context undeployed", log.String("path", d.ctx.Path()))
}

func (p *Plugin) record(name string, d deployment) {
	p.mu.Lock()
	p.deployed[name] = d
	p.mu.Unlock()
}

func (p *Plugin) standardContext(path string, d *Descriptor) (*core.Context, error) {
	opts := append([]container.Option{
		container.WithLogger(p.host.Logger().With(log.String("context", path))),
	}, p.containerOpts...)
	c := core.NewContext(path, opts...)
	c.SetDocBase(d.DocBase)
	c.SetHandler(core.FileHandler(c))
	return c, nil
}

func (p *Plugin) watch() {
	logger := p.logger()
	dir := p.host.ConfigBase()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("descriptor watcher unavailable", log.Err(err))
		return
	}
	if err := watcher.Add(dir); err != nil {
		logger.Warn("failed to watch descriptors, falling back to scanning",
			log.String("dir", dir), log.Err(err))
		_ = watcher.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.watching.Store(true)
	p.wg.Add(1)
	go p.watchLoop(ctx, watcher)
}

func (p *Plugin) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer p.wg.Done()
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, DescriptorExt) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				p.dirty.Store(true)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger().Warn("descriptor watcher error", log.Err(err))
			p.dirty.Store(true)
		}
	}
}

func (p *Plugin) unwatch() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.wg.Wait()
	p.watching.Store(false)
}

func (p *Plugin) logger() log.Logger {
	return p.host.Logger().With(log.String("plugin", p.Name()))
}
