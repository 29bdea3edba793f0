package core

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/corticerasf/dice/pkg/container"
	"github.com/corticerasf/dice/pkg/lifecycle"
	"github.com/corticerasf/dice/pkg/log"
)

// DefaultEngineBackgroundDelay is the engine's background tick interval.
const DefaultEngineBackgroundDelay = 10 * time.Second

// Engine is the root container of a Service. Its children are Hosts.
type Engine struct {
	container.Base

	mu          sync.RWMutex
	defaultHost string
	service     *Service
}

// NewEngine creates an engine. It ticks every DefaultEngineBackgroundDelay
// unless opts override the delay.
func NewEngine(name string, opts ...container.Option) *Engine {
	e := &Engine{}
	base := []container.Option{
		container.WithBackgroundDelay(DefaultEngineBackgroundDelay),
		container.AsRoot(),
		container.WithChildValidator(func(child container.Container) error {
			if _, ok := child.(*Host); !ok {
				return fmt.Errorf("%w: engine %s accepts only hosts, got %T",
					container.ErrInvalidChild, name, child)
			}
			return nil
		}),
		container.WithHooks(lifecycle.Hooks{
			Start: func() error {
				e.Logger().Info("starting engine",
					log.String("engine", name),
					log.String("version", Version))
				return nil
			},
		}),
	}
	e.Setup(e, name, append(base, opts...)...)

	installBasic(e.Pipeline(), newEngineValve(e))
	return e
}

// DefaultHost returns the host used when no host name or alias matches.
func (e *Engine) DefaultHost() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.defaultHost
}

// SetDefaultHost sets the fallback host name. Names are case-insensitive.
func (e *Engine) SetDefaultHost(name string) {
	e.mu.Lock()
	e.defaultHost = strings.ToLower(name)
	e.mu.Unlock()
}

// Service returns the owning service, or nil.
func (e *Engine) Service() *Service {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.service
}

func (e *Engine) setService(s *Service) {
	e.mu.Lock()
	e.service = s
	e.mu.Unlock()
}

// BaseDir returns the owning server's base directory, or "".
func (e *Engine) BaseDir() string {
	if s := e.Service(); s != nil {
		if srv := s.Server(); srv != nil {
			return srv.BaseDir()
		}
	}
	return ""
}

// MapHost resolves a host by name, then by alias, then falls back to the
// default host. It returns nil when nothing matches.
func (e *Engine) MapHost(name string) *Host {
	name = strings.ToLower(name)
	if name != "" {
		if h, ok := e.FindChild(name).(*Host); ok {
			return h
		}
		for _, child := range e.FindChildren() {
			if h, ok := child.(*Host); ok && h.HasAlias(name) {
				return h
			}
		}
	}
	if def := e.DefaultHost(); def != "" {
		if h, ok := e.FindChild(def).(*Host); ok {
			return h
		}
	}
	return nil
}
