// Package scheduler runs periodic background callbacks for many subscribers
// on one shared goroutine.
//
// Callbacks run one at a time on the dispatcher goroutine. A subscriber is
// rescheduled for now+interval once its callback returns, so a slow callback
// delays its own next run rather than piling up.
package scheduler

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/corticerasf/dice/pkg/log"
)

// Scheduler dispatches periodic callbacks.
type Scheduler struct {
	logger log.Logger

	mu      sync.Mutex
	queue   subscriptionHeap
	running *Subscription
	runDone chan struct{}
	closed  bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	startOnce sync.Once
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger used to report callback panics.
func WithLogger(l log.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// New creates a scheduler. The dispatcher goroutine starts with the first
// subscription.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.OrNoop(s.logger)
	return s
}

var (
	defaultOnce      sync.Once
	defaultScheduler *Scheduler
)

// Default returns the process-wide scheduler shared by containers that are
// not given one explicitly. It is never closed.
func Default() *Scheduler {
	defaultOnce.Do(func() {
		defaultScheduler = New()
	})
	return defaultScheduler
}

// Subscription is one periodic callback registered with a Scheduler.
type Subscription struct {
	s        *Scheduler
	name     string
	interval time.Duration
	fn       func()

	next      time.Time
	index     int
	cancelled bool
}

// Name returns the name given at subscription time.
func (sub *Subscription) Name() string { return sub.name }

// Interval returns the period between runs.
func (sub *Subscription) Interval() time.Duration { return sub.interval }

// Subscribe registers fn to run every interval, first after one interval
// has elapsed. It returns nil if interval <= 0 or the scheduler is closed.
func (s *Scheduler) Subscribe(name string, interval time.Duration, fn func()) *Subscription {
	if interval <= 0 || fn == nil {
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	sub := &Subscription{
		s:        s,
		name:     name,
		interval: interval,
		fn:       fn,
		next:     time.Now().Add(interval),
	}
	heap.Push(&s.queue, sub)
	s.mu.Unlock()

	s.startOnce.Do(func() { go s.loop() })
	s.signal()
	return sub
}

// Cancel removes the subscription. If its callback is running, Cancel
// waits for it to return, so no run begins or is in progress once Cancel
// returns. Cancel must not be called from the subscription's own callback.
// Cancelling a nil or already cancelled subscription is a no-op.
func (sub *Subscription) Cancel() {
	if sub == nil {
		return
	}
	s := sub.s

	s.mu.Lock()
	sub.cancelled = true
	if sub.index >= 0 && sub.index < len(s.queue) && s.queue[sub.index] == sub {
		heap.Remove(&s.queue, sub.index)
	}
	var wait chan struct{}
	if s.running == sub {
		wait = s.runDone
	}
	s.mu.Unlock()

	if wait != nil {
		<-wait
	}
	s.signal()
}

// Len returns the number of active subscriptions.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue)
	if s.running != nil && !s.running.cancelled {
		n++
	}
	return n
}

// Close cancels every subscription and waits for the dispatcher to exit.
// It must not be called from a callback.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, sub := range s.queue {
		sub.cancelled = true
		sub.index = -1
	}
	s.queue = nil
	s.mu.Unlock()

	close(s.stop)
	started := true
	s.startOnce.Do(func() { started = false })
	if started {
		<-s.done
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	defer close(s.done)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
			case <-s.stop:
				return
			}
			continue
		}

		head := s.queue[0]
		if wait := time.Until(head.next); wait > 0 {
			s.mu.Unlock()
			timer.Reset(wait)
			select {
			case <-timer.C:
			case <-s.wake:
				timer.Stop()
			case <-s.stop:
				return
			}
			continue
		}

		heap.Pop(&s.queue)
		runDone := make(chan struct{})
		s.running = head
		s.runDone = runDone
		s.mu.Unlock()

		s.run(head)

		s.mu.Lock()
		s.running = nil
		s.runDone = nil
		close(runDone)
		if !head.cancelled && !s.closed {
			head.next = time.Now().Add(head.interval)
			heap.Push(&s.queue, head)
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) run(sub *Subscription) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("background callback panicked",
				log.String("subscription", sub.name),
				log.String("panic", fmt.Sprint(r)))
		}
	}()
	sub.fn()
}

type subscriptionHeap []*Subscription

func (h subscriptionHeap) Len() int           { return len(h) }
func (h subscriptionHeap) Less(i, j int) bool { return h[i].next.Before(h[j].next) }

func (h subscriptionHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *subscriptionHeap) Push(x any) {
	sub := x.(*Subscription)
	sub.index = len(*h)
	*h = append(*h, sub)
}

func (h *subscriptionHeap) Pop() any {
	old := *h
	n := len(old)
	sub := old[n-1]
	old[n-1] = nil
	sub.index = -1
	*h = old[:n-1]
	return sub
}
