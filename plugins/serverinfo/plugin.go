// Package serverinfo logs the runtime environment when a component
// initializes, and warns about goroutine pressure on periodic events.
package serverinfo

import (
	"os"
	"runtime"
	"sync"

	"github.com/corticerasf/dice/pkg/lifecycle"
	"github.com/corticerasf/dice/pkg/log"
)

// Config holds configuration options for the serverinfo plugin.
type Config struct {
	// Version is reported alongside the runtime details.
	Version string

	// BaseDir and HomeDir are reported when set.
	BaseDir string
	HomeDir string

	// GoroutineFactor is the goroutines-per-CPU ratio above which a
	// periodic event logs a warning.
	// Default: 10
	GoroutineFactor int
}

// DefaultConfig returns a Config with default thresholds.
func DefaultConfig() Config {
	return Config{GoroutineFactor: 10}
}

// Plugin is a lifecycle listener that reports the runtime environment.
type Plugin struct {
	mu sync.Mutex

	cfg    Config
	logger log.Logger
	busy   bool

	// numGoroutine is swapped in tests.
	numGoroutine func() int
}

// New creates a serverinfo plugin.
func New(cfg Config, logger log.Logger) *Plugin {
	if cfg.GoroutineFactor <= 0 {
		cfg.GoroutineFactor = 10
	}
	return &Plugin{
		cfg:          cfg,
		logger:       log.OrNoop(logger),
		numGoroutine: runtime.NumGoroutine,
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "serverinfo"
}

// LifecycleEvent implements lifecycle.Listener.
func (p *Plugin) LifecycleEvent(e lifecycle.Event) {
	switch e.Type {
	case lifecycle.EventBeforeInit:
		p.Report()
	case lifecycle.EventPeriodic:
		p.CheckLoad()
	}
}

// Report logs the process and runtime details.
func (p *Plugin) Report() {
	fields := []log.Field{
		log.String("os", runtime.GOOS),
		log.String("arch", runtime.GOARCH),
		log.String("go_version", runtime.Version()),
		log.Int("cpus", runtime.NumCPU()),
		log.Int("pid", os.Getpid()),
	}
	if p.cfg.Version != "" {
		fields = append(fields, log.String("version", p.cfg.Version))
	}
	if p.cfg.HomeDir != "" {
		fields = append(fields, log.String("home_dir", p.cfg.HomeDir))
	}
	if p.cfg.BaseDir != "" {
		fields = append(fields, log.String("base_dir", p.cfg.BaseDir))
	}
	if host, err := os.Hostname(); err == nil {
		fields = append(fields, log.String("hostname", host))
	}
	p.logger.Info("server environment", fields...)
}

// CheckLoad warns once when the goroutine count crosses the configured
// ratio and again only after it has dropped back below it.
func (p *Plugin) CheckLoad() bool {
	n := p.numGoroutine()
	limit := runtime.NumCPU() * p.cfg.GoroutineFactor
	busy := n > limit

	p.mu.Lock()
	changed := busy != p.busy
	p.busy = busy
	p.mu.Unlock()

	if changed && busy {
		p.logger.Warn("high goroutine count", log.Int("goroutines", n), log.Int("limit", limit))
	} else if changed {
		p.logger.Info("goroutine count back to normal", log.Int("goroutines", n))
	}
	return busy
}

var _ lifecycle.Listener = (*Plugin)(nil)
