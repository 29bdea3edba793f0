// Package workpool provides the bounded worker pool containers use to start
// and stop their children in parallel.
package workpool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is returned when work is submitted after Shutdown.
var ErrPoolClosed = errors.New("workpool: pool is closed")

// Task is one unit of work run by the pool.
type Task func() error

// Pool bounds the number of tasks running at once. Tasks beyond the bound
// wait for a free slot rather than being rejected.
type Pool struct {
	mu     sync.RWMutex
	sem    *semaphore.Weighted
	size   int
	closed bool

	wg sync.WaitGroup
}

// Size resolves a configured thread count: a positive value is used as is,
// zero or a negative value is added to the number of available processors.
// The result is never below 1.
func Size(threads int) int {
	n := threads
	if threads <= 0 {
		n = runtime.NumCPU() + threads
	}
	if n < 1 {
		n = 1
	}
	return n
}

// New creates a pool for the configured thread count, resolved with Size.
func New(threads int) *Pool {
	size := Size(threads)
	return &Pool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: size,
	}
}

// Cap returns the current bound.
func (p *Pool) Cap() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.size
}

// Resize changes the bound. Tasks already holding a slot keep it; new tasks
// acquire from the resized pool.
func (p *Pool) Resize(threads int) {
	size := Size(threads)
	p.mu.Lock()
	defer p.mu.Unlock()
	if size == p.size {
		return
	}
	p.sem = semaphore.NewWeighted(int64(size))
	p.size = size
}

// Submit runs task asynchronously once a slot is free. The returned channel
// receives the task's result and is then closed.
func (p *Pool) Submit(ctx context.Context, task Task) (<-chan error, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrPoolClosed
	}
	sem := p.sem
	p.wg.Add(1)
	p.mu.RUnlock()

	result := make(chan error, 1)
	go func() {
		defer p.wg.Done()
		defer close(result)

		if err := sem.Acquire(ctx, 1); err != nil {
			result <- err
			return
		}
		defer sem.Release(1)
		result <- run(task)
	}()
	return result, nil
}

// Run submits every task and blocks until all of them have finished. The
// returned slice holds each task's error at the task's index. A failing task
// never prevents the others from running.
func (p *Pool) Run(ctx context.Context, tasks []Task) ([]error, error) {
	results := make([]<-chan error, len(tasks))
	for i, task := range tasks {
		ch, err := p.Submit(ctx, task)
		if err != nil {
			// Drain what was already submitted so nothing outlives the call.
			for _, prev := range results[:i] {
				<-prev
			}
			return nil, err
		}
		results[i] = ch
	}

	errs := make([]error, len(tasks))
	for i, ch := range results {
		errs[i] = <-ch
	}
	return errs, nil
}

// Shutdown stops accepting work and waits for in-flight tasks to finish.
// It returns false if the timeout elapsed first. A timeout <= 0 waits
// indefinitely.
func (p *Pool) Shutdown(timeout time.Duration) bool {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	if timeout <= 0 {
		<-done
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Closed reports whether Shutdown has been called.
func (p *Pool) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

func run(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workpool: task panicked: %v", r)
		}
	}()
	return task()
}
