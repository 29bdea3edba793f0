package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/corticerasf/dice/pkg/container"
	"github.com/corticerasf/dice/pkg/core"
	"github.com/corticerasf/dice/pkg/lifecycle"
	"github.com/corticerasf/dice/pkg/log"
	"github.com/corticerasf/dice/pkg/pipeline"
	"github.com/corticerasf/dice/pkg/scheduler"
	"github.com/corticerasf/dice/pkg/topology"
)

// ErrNotLoaded is returned when the server has not been built yet.
var ErrNotLoaded = errors.New("bootstrap: server not loaded")

// Config holds the settings a Manager needs to build a server.
type Config struct {
	// BaseDir is the instance directory relative paths resolve against.
	BaseDir string

	// HomeDir is the installation directory. Defaults to BaseDir.
	HomeDir string

	// Topology is the server description file.
	// Default: <BaseDir>/conf/server.toml
	Topology string

	// Await makes Run block until the server is told to stop.
	Await bool
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.BaseDir == "" {
		c.BaseDir = "."
	}
	if abs, err := filepath.Abs(c.BaseDir); err == nil {
		c.BaseDir = abs
	}
	if c.HomeDir == "" {
		c.HomeDir = c.BaseDir
	}
	if c.Topology == "" {
		c.Topology = filepath.Join(c.BaseDir, "conf", "server.toml")
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Topology == "" {
		return fmt.Errorf("topology file is required")
	}
	return nil
}

// Manager owns one server instance built from a topology file.
type Manager struct {
	cfg  Config
	opts options

	ownScheduler bool

	mu              sync.Mutex
	server          *core.Server
	stopped         bool
	schedulerClosed bool
}

// New creates a Manager. Nothing is loaded until Load or Start.
func New(cfg Config, opts ...Option) (*Manager, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := validateModuleVersions(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = log.OrNoop(o.logger)
	if o.registry == nil {
		o.registry = DefaultRegistry(o.metrics, o.version)
	}

	m := &Manager{cfg: cfg, opts: o}
	if o.scheduler == nil {
		m.opts.scheduler = scheduler.New(scheduler.WithLogger(o.logger))
		m.ownScheduler = true
	}
	return m, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Scheduler returns the scheduler the next built server subscribes to.
// A scheduler the manager owns and closed on Stop is replaced here.
func (m *Manager) Scheduler() *scheduler.Scheduler {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ownScheduler && m.schedulerClosed {
		m.opts.scheduler = scheduler.New(scheduler.WithLogger(m.opts.logger))
		m.schedulerClosed = false
	}
	return m.opts.scheduler
}

// Server returns the loaded server, or nil.
func (m *Manager) Server() *core.Server {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.server
}

// Load parses the topology file and builds the server.
func (m *Manager) Load() (*core.Server, error) {
	desc, err := topology.Load(m.cfg.Topology)
	if err != nil {
		return nil, err
	}
	return m.LoadDescription(desc)
}

// LoadDescription builds the server from an already parsed description.
func (m *Manager) LoadDescription(desc *topology.Description) (*core.Server, error) {
	srv, err := topology.Build(desc, m.opts.registry, topology.BuildContext{
		Logger:    m.opts.logger,
		Scheduler: m.Scheduler(),
		BaseDir:   m.cfg.BaseDir,
		HomeDir:   m.cfg.HomeDir,
	})
	if err != nil {
		return nil, fmt.Errorf("build server: %w", err)
	}

	m.mu.Lock()
	m.server = srv
	m.stopped = false
	m.mu.Unlock()
	return srv, nil
}

// Start initializes and starts the server, loading it first if needed. A
// server that fails to start is destroyed.
func (m *Manager) Start() error {
	srv := m.Server()
	if srv == nil {
		var err error
		if srv, err = m.Load(); err != nil {
			return err
		}
	}
	logger := m.opts.logger

	begin := time.Now()
	if err := srv.Init(); err != nil {
		logger.Error("server initialization failed",
			log.String("server", srv.Name()), log.Err(err))
		return err
	}
	logger.Info("server initialized",
		log.String("server", srv.Name()),
		log.Duration("elapsed", time.Since(begin)))

	begin = time.Now()
	if err := srv.Start(); err != nil {
		logger.Error("server start failed, destroying",
			log.String("server", srv.Name()), log.Err(err))
		if derr := srv.Destroy(); derr != nil {
			logger.Error("destroy after failed start", log.Err(derr))
		}
		return err
	}
	logger.Info("server started",
		log.String("server", srv.Name()),
		log.Duration("elapsed", time.Since(begin)))
	return nil
}

// Run starts the server and, with Await set, blocks until ctx is done or
// the server stops itself, then stops it. Without Await the server keeps
// running and the caller must call Stop.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(); err != nil {
		return err
	}
	if !m.cfg.Await {
		return nil
	}

	srv := m.Server()
	if err := srv.Await(ctx); err != nil && !errors.Is(err, context.Canceled) {
		m.opts.logger.Warn("await ended", log.Err(err))
	}
	return m.Stop()
}

// Stop stops and destroys the server unless that is already under way.
// It is safe to call more than once.
func (m *Manager) Stop() error {
	m.mu.Lock()
	srv := m.server
	if srv == nil || m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	m.mu.Unlock()

	logger := m.opts.logger
	begin := time.Now()

	var errs []error
	switch st := srv.State(); st {
	case lifecycle.StateStoppingPrep, lifecycle.StateStopping, lifecycle.StateDestroying, lifecycle.StateDestroyed:
	default:
		if err := srv.Stop(); err != nil {
			logger.Error("server stop failed", log.String("server", srv.Name()), log.Err(err))
			errs = append(errs, err)
		}
	}
	switch srv.State() {
	case lifecycle.StateDestroying, lifecycle.StateDestroyed:
	default:
		if err := srv.Destroy(); err != nil {
			logger.Error("server destroy failed", log.String("server", srv.Name()), log.Err(err))
			errs = append(errs, err)
		}
	}

	if m.ownScheduler {
		m.mu.Lock()
		sched := m.opts.scheduler
		m.schedulerClosed = true
		m.mu.Unlock()
		sched.Close()
	}
	logger.Info("server stopped",
		log.String("server", srv.Name()),
		log.Duration("elapsed", time.Since(begin)))
	return errors.Join(errs...)
}

// validateModuleVersions checks that all module versions are compatible.
func validateModuleVersions() error {
	modules := map[string]struct {
		version    string
		minVersion string
	}{
		"lifecycle": {lifecycle.Version, lifecycle.MinCompatibleVersion},
		"pipeline":  {pipeline.Version, pipeline.MinCompatibleVersion},
		"container": {container.Version, container.MinCompatibleVersion},
		"core":      {core.Version, core.MinCompatibleVersion},
		"topology":  {topology.Version, topology.MinCompatibleVersion},
		"log":       {log.Version, log.MinCompatibleVersion},
	}

	for name, mod := range modules {
		if !isVersionCompatible(mod.version, mod.minVersion) {
			return fmt.Errorf("module %s version %s is below minimum compatible version %s",
				name, mod.version, mod.minVersion)
		}
	}
	return nil
}

// isVersionCompatible reports whether version >= minVersion, both in
// "major.minor.patch" form.
func isVersionCompatible(version, minVersion string) bool {
	var vMajor, vMinor, vPatch int
	var mMajor, mMinor, mPatch int

	_, _ = fmt.Sscanf(version, "%d.%d.%d", &vMajor, &vMinor, &vPatch)
	_, _ = fmt.Sscanf(minVersion, "%d.%d.%d", &mMajor, &mMinor, &mPatch)

	if vMajor != mMajor {
		return vMajor > mMajor
	}
	if vMinor != mMinor {
		return vMinor > mMinor
	}
	return vPatch >= mPatch
}
