package core

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/corticerasf/dice/internal/workpool"
	"github.com/corticerasf/dice/pkg/container"
	"github.com/corticerasf/dice/pkg/lifecycle"
	"github.com/corticerasf/dice/pkg/log"
)

// DefaultAppBase is the application base used when none is configured.
const DefaultAppBase = "webapps"

// Host is a virtual host. Its children are Contexts.
type Host struct {
	container.Base

	aliasMu sync.RWMutex
	aliases []string

	mu           sync.RWMutex
	appBase      string
	configBase   string
	deployIgnore *regexp.Regexp

	hotDeployment atomic.Bool
	createDirs    atomic.Bool
}

// NewHost creates a host. The name is lower-cased. Hot deployment and
// directory creation are enabled by default.
func NewHost(name string, opts ...container.Option) *Host {
	name = strings.ToLower(name)
	h := &Host{appBase: DefaultAppBase}
	h.hotDeployment.Store(true)
	h.createDirs.Store(true)

	base := []container.Option{
		container.WithChildValidator(func(child container.Container) error {
			if _, ok := child.(*Context); !ok {
				return fmt.Errorf("%w: host %s accepts only contexts, got %T",
					container.ErrInvalidChild, name, child)
			}
			return nil
		}),
		container.WithHooks(lifecycle.Hooks{Start: h.prepare}),
	}
	h.Setup(h, name, append(base, opts...)...)

	installBasic(h.Pipeline(), newHostValve(h))
	return h
}

// AddAlias registers an alternate name. Aliases are lower-cased and
// de-duplicated.
func (h *Host) AddAlias(alias string) {
	alias = strings.ToLower(alias)
	h.aliasMu.Lock()
	if slices.Contains(h.aliases, alias) {
		h.aliasMu.Unlock()
		return
	}
	next := make([]string, len(h.aliases), len(h.aliases)+1)
	copy(next, h.aliases)
	h.aliases = append(next, alias)
	h.aliasMu.Unlock()

	h.FireContainerEvent(container.EventAddAlias, alias)
}

// RemoveAlias unregisters an alternate name.
func (h *Host) RemoveAlias(alias string) {
	alias = strings.ToLower(alias)
	h.aliasMu.Lock()
	i := slices.Index(h.aliases, alias)
	if i < 0 {
		h.aliasMu.Unlock()
		return
	}
	h.aliases = slices.Delete(slices.Clone(h.aliases), i, i+1)
	h.aliasMu.Unlock()

	h.FireContainerEvent(container.EventRemoveAlias, alias)
}

// Aliases returns a snapshot of the host's aliases.
func (h *Host) Aliases() []string {
	h.aliasMu.RLock()
	defer h.aliasMu.RUnlock()
	return slices.Clone(h.aliases)
}

// HasAlias reports whether alias, compared case-insensitively, is registered.
func (h *Host) HasAlias(alias string) bool {
	alias = strings.ToLower(alias)
	h.aliasMu.RLock()
	defer h.aliasMu.RUnlock()
	return slices.Contains(h.aliases, alias)
}

// AppBase returns the configured application base.
func (h *Host) AppBase() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.appBase
}

// SetAppBase sets the application base. Relative paths resolve against the
// server base directory.
func (h *Host) SetAppBase(dir string) {
	h.mu.Lock()
	h.appBase = dir
	h.mu.Unlock()
}

// AppBaseDir returns the application base as a resolved path.
func (h *Host) AppBaseDir() string {
	return h.resolve(h.AppBase())
}

// SetConfigBase overrides the descriptor directory.
func (h *Host) SetConfigBase(dir string) {
	h.mu.Lock()
	h.configBase = dir
	h.mu.Unlock()
}

// ConfigBase returns the directory holding context descriptors. It
// defaults to conf/<engine>/<host> under the server base directory.
func (h *Host) ConfigBase() string {
	h.mu.RLock()
	configured := h.configBase
	h.mu.RUnlock()
	if configured != "" {
		return h.resolve(configured)
	}

	engine := ""
	if e, ok := h.Parent().(*Engine); ok {
		engine = e.Name()
	}
	return h.resolve(filepath.Join("conf", engine, h.Name()))
}

// HotDeployment reports whether descriptors are scanned periodically.
func (h *Host) HotDeployment() bool { return h.hotDeployment.Load() }

// SetHotDeployment toggles periodic descriptor scanning.
func (h *Host) SetHotDeployment(on bool) { h.hotDeployment.Store(on) }

// CreateDirs reports whether missing base directories are created on start.
func (h *Host) CreateDirs() bool { return h.createDirs.Load() }

// SetCreateDirs toggles directory creation on start.
func (h *Host) SetCreateDirs(on bool) { h.createDirs.Store(on) }

// SetDeployIgnore sets a pattern of descriptor names deployment skips.
// An empty pattern clears it.
func (h *Host) SetDeployIgnore(pattern string) error {
	var re *regexp.Regexp
	if pattern != "" {
		var err error
		if re, err = regexp.Compile(pattern); err != nil {
			return fmt.Errorf("deploy ignore pattern: %w", err)
		}
	}
	h.mu.Lock()
	h.deployIgnore = re
	h.mu.Unlock()
	return nil
}

// DeployIgnored reports whether name matches the deploy-ignore pattern.
func (h *Host) DeployIgnored(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.deployIgnore != nil && h.deployIgnore.MatchString(name)
}

// StartStopPool exposes the host's start/stop pool for deployment work.
func (h *Host) StartStopPool() *workpool.Pool {
	return h.Pool()
}

// MapContext returns the context with the longest path matching path.
func (h *Host) MapContext(path string) *Context {
	var best *Context
	for _, child := range h.FindChildren() {
		c, ok := child.(*Context)
		if !ok || !c.Matches(path) {
			continue
		}
		if best == nil || len(c.Path()) > len(best.Path()) {
			best = c
		}
	}
	return best
}

func (h *Host) resolve(dir string) string {
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	if e, ok := h.Parent().(*Engine); ok {
		if base := e.BaseDir(); base != "" {
			return filepath.Join(base, dir)
		}
	}
	return dir
}

// prepare creates the app and config bases. Directories that did not
// resolve to an absolute path are left alone.
func (h *Host) prepare() error {
	if !h.CreateDirs() {
		return nil
	}
	for _, dir := range []string{h.AppBaseDir(), h.ConfigBase()} {
		if !filepath.IsAbs(dir) {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			h.Logger().Warn("failed to create host directory",
				log.String("host", h.Name()),
				log.String("dir", dir),
				log.Err(err))
		}
	}
	return nil
}
