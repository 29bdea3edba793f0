package core

import (
	"fmt"
	"sync"

	"github.com/corticerasf/dice/pkg/container"
	"github.com/corticerasf/dice/pkg/lifecycle"
	"github.com/corticerasf/dice/pkg/log"
)

// Connector accepts units of work from outside the tree and dispatches them
// into its service's container pipeline.
type Connector interface {
	lifecycle.Component
	Name() string
	SetService(s *Service)
	Pause() error
	Resume() error
}

// Executor runs tasks on behalf of connectors.
type Executor interface {
	lifecycle.Component
	Name() string
	Execute(task func()) error
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the service logger.
func WithServiceLogger(l log.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = l
	}
}

// Service groups one container with the connectors feeding it.
type Service struct {
	lifecycle.Runner

	name   string
	logger log.Logger

	mu        sync.RWMutex
	server    *Server
	container container.Container

	connMu     sync.RWMutex
	connectors []Connector

	execMu    sync.RWMutex
	executors []Executor
}

// NewService creates a service.
func NewService(name string, opts ...ServiceOption) *Service {
	s := &Service{name: name}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.OrNoop(s.logger)
	s.Bind(s, name, lifecycle.Hooks{
		Init:    s.initInternal,
		Start:   s.startInternal,
		Stop:    s.stopInternal,
		Destroy: s.destroyInternal,
	}, lifecycle.WithLogger(s.logger))
	return s
}

// Name returns the service name.
func (s *Service) Name() string { return s.name }

// Server returns the owning server, or nil.
func (s *Service) Server() *Server {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.server
}

// SetServer records the owning server.
func (s *Service) SetServer(srv *Server) {
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()
}

// Container returns the service's top container, or nil.
func (s *Service) Container() container.Container {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.container
}

// SetContainer replaces the top container. When the service is available
// the new container is started and the previous one stopped.
func (s *Service) SetContainer(c container.Container) error {
	s.mu.Lock()
	old := s.container
	s.container = c
	s.mu.Unlock()

	if e, ok := c.(*Engine); ok {
		e.setService(s)
	}
	if e, ok := old.(*Engine); ok && old != c {
		e.setService(nil)
	}

	if !s.State().Available() {
		return nil
	}
	var err error
	if c != nil {
		if serr := c.Start(); serr != nil {
			err = fmt.Errorf("start container: %w", serr)
		}
	}
	if old != nil && old != c {
		if serr := old.Stop(); serr != nil {
			s.logger.Error("failed to stop previous container",
				log.String("service", s.name), log.Err(serr))
		}
	}
	return err
}

// AddConnector attaches c and starts it if the service is available.
func (s *Service) AddConnector(c Connector) error {
	c.SetService(s)
	s.connMu.Lock()
	next := make([]Connector, len(s.connectors), len(s.connectors)+1)
	copy(next, s.connectors)
	s.connectors = append(next, c)
	s.connMu.Unlock()

	if s.State().Available() {
		if err := c.Start(); err != nil {
			return fmt.Errorf("start connector %s: %w", c.Name(), err)
		}
	}
	return nil
}

// RemoveConnector stops c if it is running and detaches it.
func (s *Service) RemoveConnector(c Connector) {
	s.connMu.Lock()
	idx := -1
	for i, existing := range s.connectors {
		if existing == c {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.connMu.Unlock()
		return
	}
	next := make([]Connector, 0, len(s.connectors)-1)
	next = append(next, s.connectors[:idx]...)
	s.connectors = append(next, s.connectors[idx+1:]...)
	s.connMu.Unlock()

	if c.State() == lifecycle.StateStarted {
		if err := c.Stop(); err != nil {
			s.logger.Error("failed to stop removed connector",
				log.String("service", s.name),
				log.String("connector", c.Name()),
				log.Err(err))
		}
	}
	c.SetService(nil)
}

// Connectors returns a snapshot of the connectors.
func (s *Service) Connectors() []Connector {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return append([]Connector(nil), s.connectors...)
}

// AddExecutor registers e, starting it if the service is available.
// An executor whose name is already registered is ignored.
func (s *Service) AddExecutor(e Executor) error {
	s.execMu.Lock()
	for _, existing := range s.executors {
		if existing.Name() == e.Name() {
			s.execMu.Unlock()
			return nil
		}
	}
	next := make([]Executor, len(s.executors), len(s.executors)+1)
	copy(next, s.executors)
	s.executors = append(next, e)
	s.execMu.Unlock()

	if s.State().Available() {
		if err := e.Start(); err != nil {
			return fmt.Errorf("start executor %s: %w", e.Name(), err)
		}
	}
	return nil
}

// RemoveExecutor stops and unregisters e.
func (s *Service) RemoveExecutor(e Executor) {
	s.execMu.Lock()
	idx := -1
	for i, existing := range s.executors {
		if existing == e {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.execMu.Unlock()
		return
	}
	next := make([]Executor, 0, len(s.executors)-1)
	next = append(next, s.executors[:idx]...)
	s.executors = append(next, s.executors[idx+1:]...)
	s.execMu.Unlock()

	if s.State().Available() {
		if err := e.Stop(); err != nil {
			s.logger.Error("failed to stop removed executor",
				log.String("service", s.name),
				log.String("executor", e.Name()),
				log.Err(err))
		}
	}
}

// Executor returns the executor with the given name, or nil.
func (s *Service) Executor(name string) Executor {
	s.execMu.RLock()
	defer s.execMu.RUnlock()
	for _, e := range s.executors {
		if e.Name() == name {
			return e
		}
	}
	return nil
}

// Executors returns a snapshot of the executors.
func (s *Service) Executors() []Executor {
	s.execMu.RLock()
	defer s.execMu.RUnlock()
	return append([]Executor(nil), s.executors...)
}

func (s *Service) initInternal() error {
	if c := s.Container(); c != nil {
		if err := c.Init(); err != nil {
			return fmt.Errorf("init container: %w", err)
		}
	}
	for _, e := range s.Executors() {
		if err := e.Init(); err != nil {
			return fmt.Errorf("init executor %s: %w", e.Name(), err)
		}
	}
	for _, c := range s.Connectors() {
		if err := c.Init(); err != nil {
			s.logger.Error("failed to initialize connector",
				log.String("service", s.name),
				log.String("connector", c.Name()),
				log.Err(err))
		}
	}
	return nil
}

func (s *Service) startInternal() error {
	s.logger.Info("starting service", log.String("service", s.name))
	if err := s.SetState(lifecycle.StateStarting); err != nil {
		return err
	}

	if c := s.Container(); c != nil {
		if err := c.Start(); err != nil {
			return fmt.Errorf("start container: %w", err)
		}
	}
	for _, e := range s.Executors() {
		if err := e.Start(); err != nil {
			return fmt.Errorf("start executor %s: %w", e.Name(), err)
		}
	}
	for _, c := range s.Connectors() {
		if c.State() == lifecycle.StateFailed {
			continue
		}
		if err := c.Start(); err != nil {
			s.logger.Error("failed to start connector",
				log.String("service", s.name),
				log.String("connector", c.Name()),
				log.Err(err))
		}
	}
	return nil
}

func (s *Service) stopInternal() error {
	connectors := s.Connectors()
	for _, c := range connectors {
		if err := c.Pause(); err != nil {
			s.logger.Error("failed to pause connector",
				log.String("service", s.name),
				log.String("connector", c.Name()),
				log.Err(err))
		}
	}

	if err := s.SetState(lifecycle.StateStopping); err != nil {
		return err
	}
	s.logger.Info("stopping service", log.String("service", s.name))

	if c := s.Container(); c != nil {
		if st := c.State(); st.Available() || st == lifecycle.StateFailed {
			if err := c.Stop(); err != nil {
				s.logger.Error("failed to stop container",
					log.String("service", s.name), log.Err(err))
			}
		}
	}

	for _, c := range connectors {
		if c.State() != lifecycle.StateStarted {
			continue
		}
		if err := c.Stop(); err != nil {
			s.logger.Error("failed to stop connector",
				log.String("service", s.name),
				log.String("connector", c.Name()),
				log.Err(err))
		}
	}

	for _, e := range s.Executors() {
		if st := e.State(); !st.Available() && st != lifecycle.StateFailed {
			continue
		}
		if err := e.Stop(); err != nil {
			s.logger.Error("failed to stop executor",
				log.String("service", s.name),
				log.String("executor", e.Name()),
				log.Err(err))
		}
	}
	return nil
}

func (s *Service) destroyInternal() error {
	for _, c := range s.Connectors() {
		if err := c.Destroy(); err != nil {
			s.logger.Error("failed to destroy connector",
				log.String("service", s.name),
				log.String("connector", c.Name()),
				log.Err(err))
		}
	}
	for _, e := range s.Executors() {
		if err := e.Destroy(); err != nil {
			s.logger.Error("failed to destroy executor",
				log.String("service", s.name),
				log.String("executor", e.Name()),
				log.Err(err))
		}
	}
	if c := s.Container(); c != nil {
		if err := c.Destroy(); err != nil {
			s.logger.Error("failed to destroy container",
				log.String("service", s.name), log.Err(err))
		}
	}
	return nil
}
