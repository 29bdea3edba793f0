// Package metrics exports lifecycle and request metrics for a component
// tree to Prometheus.
//
// A nil *Metrics is a valid no-op collector, so callers can pass one around
// without checking whether metrics are enabled.
package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/corticerasf/dice/pkg/container"
	"github.com/corticerasf/dice/pkg/lifecycle"
	"github.com/corticerasf/dice/pkg/pipeline"
)

// Metrics tracks component state transitions, container events and
// pipeline throughput.
type Metrics struct {
	// LifecycleEvents counts lifecycle events by component and event type.
	LifecycleEvents *prometheus.CounterVec

	// ContainerEvents counts container events by container and event type.
	ContainerEvents *prometheus.CounterVec

	// State holds each component's current state as its ordinal.
	State *prometheus.GaugeVec

	// StartDuration tracks the time from before_start to after_start.
	StartDuration *prometheus.HistogramVec

	// Requests counts exchanges by container and outcome.
	Requests *prometheus.CounterVec

	// RequestDuration tracks exchange latency per container.
	RequestDuration *prometheus.HistogramVec

	mu       sync.Mutex
	starts   map[lifecycle.Component]time.Time
	attached map[container.Container]bool
}

// New creates the collectors and registers them with reg. Collectors that
// are already registered are reused.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LifecycleEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dice_lifecycle_events_total",
				Help: "Lifecycle events by component and event type",
			},
			[]string{"component", "event"},
		),
		ContainerEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dice_container_events_total",
				Help: "Container events by container and event type",
			},
			[]string{"container", "event"},
		),
		State: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dice_component_state",
				Help: "Current lifecycle state ordinal per component",
			},
			[]string{"component"},
		),
		StartDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dice_component_start_duration_seconds",
				Help:    "Time spent starting a component",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"component"},
		),
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dice_requests_total",
				Help: "Exchanges processed by container and status",
			},
			[]string{"container", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dice_request_duration_seconds",
				Help:    "Exchange processing time per container",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"container"},
		),
		starts:   make(map[lifecycle.Component]time.Time),
		attached: make(map[container.Container]bool),
	}

	m.LifecycleEvents = registerOrReuse(reg, m.LifecycleEvents).(*prometheus.CounterVec)
	m.ContainerEvents = registerOrReuse(reg, m.ContainerEvents).(*prometheus.CounterVec)
	m.State = registerOrReuse(reg, m.State).(*prometheus.GaugeVec)
	m.StartDuration = registerOrReuse(reg, m.StartDuration).(*prometheus.HistogramVec)
	m.Requests = registerOrReuse(reg, m.Requests).(*prometheus.CounterVec)
	m.RequestDuration = registerOrReuse(reg, m.RequestDuration).(*prometheus.HistogramVec)
	return m
}

func registerOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

// LifecycleEvent records e. Metrics is itself a lifecycle.Listener.
func (m *Metrics) LifecycleEvent(e lifecycle.Event) {
	if m == nil {
		return
	}
	name := componentName(e.Source)
	m.LifecycleEvents.WithLabelValues(name, e.Type).Inc()
	if e.Source != nil {
		m.State.WithLabelValues(name).Set(float64(e.Source.State()))
	}

	switch e.Type {
	case lifecycle.EventBeforeStart:
		m.mu.Lock()
		m.starts[e.Source] = time.Now()
		m.mu.Unlock()
	case lifecycle.EventAfterStart:
		m.mu.Lock()
		began, ok := m.starts[e.Source]
		delete(m.starts, e.Source)
		m.mu.Unlock()
		if ok {
			m.StartDuration.WithLabelValues(name).Observe(time.Since(began).Seconds())
		}
	case lifecycle.EventStop:
		m.mu.Lock()
		delete(m.starts, e.Source)
		m.mu.Unlock()
	}
}

// ContainerEvent records e and follows children added to an attached tree.
func (m *Metrics) ContainerEvent(e container.Event) {
	if m == nil {
		return
	}
	m.ContainerEvents.WithLabelValues(e.Container.Name(), e.Type).Inc()

	switch e.Type {
	case container.EventAddChild:
		if child, ok := e.Data.(container.Container); ok {
			m.Attach(child)
		}
	case container.EventRemoveChild:
		if child, ok := e.Data.(container.Container); ok {
			m.Detach(child)
		}
	}
}

// Attach registers m on c and every descendant of c. Attaching twice is a no-op.
func (m *Metrics) Attach(c container.Container) {
	if m.Watch(c) {
		c.AddListener(m)
	}
}

// Watch follows c's container events and attaches to its descendants,
// leaving c's own lifecycle listener registration to the caller. It
// reports false when c was already attached.
func (m *Metrics) Watch(c container.Container) bool {
	if m == nil || c == nil {
		return false
	}
	m.mu.Lock()
	if m.attached[c] {
		m.mu.Unlock()
		return false
	}
	m.attached[c] = true
	m.mu.Unlock()

	c.AddContainerListener(m)
	m.State.WithLabelValues(c.Name()).Set(float64(c.State()))
	for _, child := range c.FindChildren() {
		m.Attach(child)
	}
	return true
}

// Detach removes m from c and its descendants.
func (m *Metrics) Detach(c container.Container) {
	if m == nil || c == nil {
		return
	}
	m.mu.Lock()
	if !m.attached[c] {
		m.mu.Unlock()
		return
	}
	delete(m.attached, c)
	m.mu.Unlock()

	c.RemoveListener(m)
	c.RemoveContainerListener(m)
	for _, child := range c.FindChildren() {
		m.Detach(child)
	}
}

// Valve returns a valve that measures the rest of owner's pipeline.
func (m *Metrics) Valve(owner string) pipeline.Valve {
	return pipeline.NewFuncValve(owner+"/metrics", func(ctx context.Context, ex *pipeline.Exchange, next pipeline.Valve) error {
		if next == nil {
			return pipeline.ErrNoNextValve
		}
		began := time.Now()
		err := next.Invoke(ctx, ex)
		m.RecordRequest(owner, err, time.Since(began))
		return err
	})
}

// RecordRequest records one exchange handled by the named container.
func (m *Metrics) RecordRequest(container string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Requests.WithLabelValues(container, status).Inc()
	m.RequestDuration.WithLabelValues(container).Observe(d.Seconds())
}

// NullMetrics returns nil, which acts as a no-op collector.
func NullMetrics() *Metrics {
	return nil
}

func componentName(c lifecycle.Component) string {
	if n, ok := c.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", c)
}
