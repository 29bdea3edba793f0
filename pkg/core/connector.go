package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/corticerasf/dice/pkg/lifecycle"
	"github.com/corticerasf/dice/pkg/log"
	"github.com/corticerasf/dice/pkg/pipeline"
)

// LocalConnector feeds in-process work into its service's container. It is
// the entry point used by embedders and tests in place of a network
// listener.
type LocalConnector struct {
	lifecycle.Runner

	name   string
	logger log.Logger

	mu       sync.RWMutex
	service  *Service
	executor Executor

	paused   atomic.Bool
	accepted atomic.Int64
}

// ConnectorOption configures a LocalConnector.
type ConnectorOption func(*LocalConnector)

// WithConnectorLogger sets the connector logger.
func WithConnectorLogger(l log.Logger) ConnectorOption {
	return func(c *LocalConnector) {
		c.logger = l
	}
}

// WithExecutor makes SubmitAsync run exchanges on e.
func WithExecutor(e Executor) ConnectorOption {
	return func(c *LocalConnector) {
		c.executor = e
	}
}

// NewLocalConnector creates a connector.
func NewLocalConnector(name string, opts ...ConnectorOption) *LocalConnector {
	c := &LocalConnector{name: name}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = log.OrNoop(c.logger)
	c.Bind(c, name, lifecycle.Hooks{
		Start: func() error {
			c.paused.Store(false)
			return c.SetState(lifecycle.StateStarting)
		},
	}, lifecycle.WithLogger(c.logger))
	return c
}

// Name returns the connector name.
func (c *LocalConnector) Name() string { return c.name }

// SetService records the owning service.
func (c *LocalConnector) SetService(s *Service) {
	c.mu.Lock()
	c.service = s
	c.mu.Unlock()
}

// Service returns the owning service, or nil.
func (c *LocalConnector) Service() *Service {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.service
}

// Pause rejects new work until Resume.
func (c *LocalConnector) Pause() error {
	c.paused.Store(true)
	return nil
}

// Resume accepts work again.
func (c *LocalConnector) Resume() error {
	c.paused.Store(false)
	return nil
}

// Paused reports whether the connector rejects new work.
func (c *LocalConnector) Paused() bool { return c.paused.Load() }

// Accepted returns the number of exchanges dispatched so far.
func (c *LocalConnector) Accepted() int64 { return c.accepted.Load() }

// Submit dispatches one unit of work into the service container's pipeline
// and returns the exchange once the pipeline has finished with it.
func (c *LocalConnector) Submit(ctx context.Context, host, path string, request interface{}) (*pipeline.Exchange, error) {
	if !c.State().Available() {
		return nil, fmt.Errorf("%w: connector %s", ErrNotStarted, c.name)
	}
	if c.paused.Load() {
		return nil, fmt.Errorf("%w: %s", ErrPaused, c.name)
	}

	svc := c.Service()
	if svc == nil || svc.Container() == nil {
		return nil, fmt.Errorf("%w: connector %s", ErrNoContainer, c.name)
	}
	top := svc.Container()
	if !top.State().Available() {
		return nil, fmt.Errorf("%w: container %s", ErrNotStarted, top.Name())
	}

	ex := pipeline.NewExchange(uuid.NewString(), host, path, request)
	c.accepted.Add(1)
	return ex, top.Pipeline().Invoke(ctx, ex)
}

// SubmitAsync runs Submit on the configured executor and delivers the
// result to done. Without an executor it runs Submit on a new goroutine.
func (c *LocalConnector) SubmitAsync(ctx context.Context, host, path string, request interface{}, done func(*pipeline.Exchange, error)) error {
	task := func() {
		ex, err := c.Submit(ctx, host, path, request)
		if done != nil {
			done(ex, err)
		}
	}

	c.mu.RLock()
	exec := c.executor
	c.mu.RUnlock()
	if exec == nil {
		go task()
		return nil
	}
	return exec.Execute(task)
}
