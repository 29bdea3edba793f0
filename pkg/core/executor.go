package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/corticerasf/dice/internal/workpool"
	"github.com/corticerasf/dice/pkg/lifecycle"
	"github.com/corticerasf/dice/pkg/log"
)

// PoolExecutor is a named, lifecycle-managed bounded executor.
type PoolExecutor struct {
	lifecycle.Runner

	name            string
	threads         int
	shutdownTimeout time.Duration
	logger          log.Logger

	mu   sync.RWMutex
	pool *workpool.Pool
}

// ExecutorOption configures a PoolExecutor.
type ExecutorOption func(*PoolExecutor)

// WithThreads sets the concurrency bound, resolved by workpool.Size.
func WithThreads(n int) ExecutorOption {
	return func(e *PoolExecutor) {
		e.threads = n
	}
}

// WithShutdownTimeout bounds how long Stop waits for running tasks.
func WithShutdownTimeout(d time.Duration) ExecutorOption {
	return func(e *PoolExecutor) {
		e.shutdownTimeout = d
	}
}

// WithExecutorLogger sets the executor logger.
func WithExecutorLogger(l log.Logger) ExecutorOption {
	return func(e *PoolExecutor) {
		e.logger = l
	}
}

// NewPoolExecutor creates an executor. The pool is created on start and
// drained on stop.
func NewPoolExecutor(name string, opts ...ExecutorOption) *PoolExecutor {
	e := &PoolExecutor{name: name, shutdownTimeout: 30 * time.Second}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = log.OrNoop(e.logger)
	e.Bind(e, name, lifecycle.Hooks{
		Start: e.startInternal,
		Stop:  e.stopInternal,
	}, lifecycle.WithLogger(e.logger))
	return e
}

// Name returns the executor name.
func (e *PoolExecutor) Name() string { return e.name }

// Execute runs task on the pool.
func (e *PoolExecutor) Execute(task func()) error {
	e.mu.RLock()
	pool := e.pool
	e.mu.RUnlock()
	if pool == nil || !e.State().Available() {
		return fmt.Errorf("%w: executor %s", ErrNotStarted, e.name)
	}
	_, err := pool.Submit(context.Background(), func() error {
		task()
		return nil
	})
	return err
}

func (e *PoolExecutor) startInternal() error {
	e.mu.Lock()
	e.pool = workpool.New(e.threads)
	e.mu.Unlock()
	return e.SetState(lifecycle.StateStarting)
}

func (e *PoolExecutor) stopInternal() error {
	if err := e.SetState(lifecycle.StateStopping); err != nil {
		return err
	}
	e.mu.Lock()
	pool := e.pool
	e.pool = nil
	e.mu.Unlock()

	if pool != nil && !pool.Shutdown(e.shutdownTimeout) {
		e.logger.Warn("executor tasks still running after shutdown timeout",
			log.String("executor", e.name),
			log.Duration("timeout", e.shutdownTimeout))
	}
	return nil
}
