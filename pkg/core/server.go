package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/corticerasf/dice/pkg/lifecycle"
	"github.com/corticerasf/dice/pkg/log"
)

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server logger.
func WithServerLogger(l log.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// WithBaseDir sets the directory relative paths resolve against.
func WithBaseDir(dir string) ServerOption {
	return func(s *Server) {
		s.baseDir = dir
	}
}

// WithHomeDir sets the installation directory.
func WithHomeDir(dir string) ServerOption {
	return func(s *Server) {
		s.homeDir = dir
	}
}

// Server is the top of the component tree. It owns Services.
type Server struct {
	lifecycle.Runner

	name    string
	logger  log.Logger
	baseDir string
	homeDir string

	svcMu    sync.RWMutex
	services []*Service

	awaitMu sync.Mutex
	stopped chan struct{}
}

// NewServer creates a server.
func NewServer(name string, opts ...ServerOption) *Server {
	s := &Server{name: name, stopped: make(chan struct{})}
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

// Name returns the server name.
func (s *Server) Name() string { return s.name }

// BaseDir returns the base directory.
func (s *Server) BaseDir() string { return s.baseDir }

// HomeDir returns the installation directory.
func (s *Server) HomeDir() string { return s.homeDir }

// AddService attaches svc and starts it if the server is available.
func (s *Server) AddService(svc *Service) error {
	svc.SetServer(s)
	s.svcMu.Lock()
	next := make([]*Service, len(s.services), len(s.services)+1)
	copy(next, s.services)
	s.services = append(next, svc)
	s.svcMu.Unlock()

	if s.State().Available() {
		if err := svc.Start(); err != nil {
			return fmt.Errorf("start service %s: %w", svc.Name(), err)
		}
	}
	return nil
}

// RemoveService stops and detaches svc.
func (s *Server) RemoveService(svc *Service) {
	s.svcMu.Lock()
	idx := -1
	for i, existing := range s.services {
		if existing == svc {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.svcMu.Unlock()
		return
	}
	next := make([]*Service, 0, len(s.services)-1)
	next = append(next, s.services[:idx]...)
	s.services = append(next, s.services[idx+1:]...)
	s.svcMu.Unlock()

	if st := svc.State(); st.Available() || st == lifecycle.StateFailed {
		if err := svc.Stop(); err != nil {
			s.logger.Error("failed to stop removed service",
				log.String("service", svc.Name()), log.Err(err))
		}
	}
	svc.SetServer(nil)
}

// FindService returns the service with the given name, or nil.
func (s *Server) FindService(name string) *Service {
	s.svcMu.RLock()
	defer s.svcMu.RUnlock()
	for _, svc := range s.services {
		if svc.Name() == name {
			return svc
		}
	}
	return nil
}

// Services returns a snapshot of the services.
func (s *Server) Services() []*Service {
	s.svcMu.RLock()
	defer s.svcMu.RUnlock()
	return append([]*Service(nil), s.services...)
}

// Await blocks until ctx is done or StopAwait is called.
func (s *Server) Await(ctx context.Context) error {
	s.awaitMu.Lock()
	stopped := s.stopped
	s.awaitMu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stopped:
		return nil
	}
}

// StopAwait releases every pending Await.
func (s *Server) StopAwait() {
	s.awaitMu.Lock()
	defer s.awaitMu.Unlock()
	select {
	case <-s.stopped:
	default:
		close(s.stopped)
	}
}

func (s *Server) initInternal() error {
	for _, svc := range s.Services() {
		if err := svc.Init(); err != nil {
			return fmt.Errorf("init service %s: %w", svc.Name(), err)
		}
	}
	return nil
}

func (s *Server) startInternal() error {
	s.awaitMu.Lock()
	select {
	case <-s.stopped:
		s.stopped = make(chan struct{})
	default:
	}
	s.awaitMu.Unlock()

	s.FireLifecycleEvent(lifecycle.EventConfigureStart, nil)
	if err := s.SetState(lifecycle.StateStarting); err != nil {
		return err
	}

	for _, svc := range s.Services() {
		if err := svc.Start(); err != nil {
			return fmt.Errorf("start service %s: %w", svc.Name(), err)
		}
	}
	return nil
}

func (s *Server) stopInternal() error {
	if err := s.SetState(lifecycle.StateStopping); err != nil {
		return err
	}
	s.FireLifecycleEvent(lifecycle.EventConfigureStop, nil)

	for _, svc := range s.Services() {
		if st := svc.State(); !st.Available() && st != lifecycle.StateFailed {
			continue
		}
		if err := svc.Stop(); err != nil {
			s.logger.Error("failed to stop service",
				log.String("service", svc.Name()), log.Err(err))
		}
	}
	s.StopAwait()
	return nil
}

func (s *Server) destroyInternal() error {
	for _, svc := range s.Services() {
		if err := svc.Destroy(); err != nil {
			s.logger.Error("failed to destroy service",
				log.String("service", svc.Name()), log.Err(err))
		}
	}
	return nil
}
