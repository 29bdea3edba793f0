package bootstrap

import (
	"github.com/corticerasf/dice/pkg/log"
	"github.com/corticerasf/dice/pkg/metrics"
	"github.com/corticerasf/dice/pkg/scheduler"
	"github.com/corticerasf/dice/pkg/topology"
)

// Option configures optional behavior of a Manager.
type Option func(*options)

type options struct {
	logger    log.Logger
	registry  *topology.Registry
	scheduler *scheduler.Scheduler
	metrics   *metrics.Metrics
	version   string
}

func defaultOptions() options {
	return options{
		logger: log.NewNoopLogger(),
	}
}

// WithLogger sets the logger handed to every component.
// If not provided, a no-op logger is used.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRegistry replaces the type registry. If not provided,
// DefaultRegistry is used.
func WithRegistry(r *topology.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithScheduler sets the scheduler driving background processing.
// If not provided, the manager owns a scheduler and closes it on Stop.
func WithScheduler(s *scheduler.Scheduler) Option {
	return func(o *options) {
		o.scheduler = s
	}
}

// WithMetrics enables the metrics listener type.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithVersion sets the version reported by the serverinfo listener.
func WithVersion(v string) Option {
	return func(o *options) {
		o.version = v
	}
}
