package bootstrap

import (
	"fmt"

	"github.com/corticerasf/dice/pkg/container"
	"github.com/corticerasf/dice/pkg/core"
	"github.com/corticerasf/dice/pkg/lifecycle"
	"github.com/corticerasf/dice/pkg/metrics"
	"github.com/corticerasf/dice/pkg/topology"
	"github.com/corticerasf/dice/plugins/hostconfig"
	"github.com/corticerasf/dice/plugins/serverinfo"
)

// Listener type tags registered by DefaultRegistry.
const (
	ListenerHostConfig = "hostconfig"
	ListenerServerInfo = "serverinfo"
	ListenerMetrics    = "metrics"
)

// DefaultRegistry returns the standard registry plus the bundled listener
// types. A nil m still registers the metrics tag as a no-op.
func DefaultRegistry(m *metrics.Metrics, version string) *topology.Registry {
	reg := topology.NewRegistry()

	reg.RegisterListener(ListenerHostConfig, func(target lifecycle.Component, bc *topology.BuildContext) (lifecycle.Listener, error) {
		host, ok := target.(*core.Host)
		if !ok {
			return nil, fmt.Errorf("%s listener requires a host, got %T", ListenerHostConfig, target)
		}
		var opts []hostconfig.Option
		if bc.Scheduler != nil {
			opts = append(opts, hostconfig.WithContainerOptions(container.WithScheduler(bc.Scheduler)))
		}
		return hostconfig.New(host, opts...), nil
	})

	reg.RegisterListener(ListenerServerInfo, func(target lifecycle.Component, bc *topology.BuildContext) (lifecycle.Listener, error) {
		return serverinfo.New(serverinfo.Config{
			Version: version,
			BaseDir: bc.BaseDir,
			HomeDir: bc.HomeDir,
		}, bc.ComponentLogger("listener", ListenerServerInfo)), nil
	})

	reg.RegisterListener(ListenerMetrics, func(target lifecycle.Component, bc *topology.BuildContext) (lifecycle.Listener, error) {
		if c, ok := target.(container.Container); ok && m != nil {
			if err := c.Pipeline().AddValve(m.Valve(c.Name())); err != nil {
				return nil, fmt.Errorf("install metrics valve: %w", err)
			}
			m.Watch(c)
		}
		return m, nil
	})

	return reg
}
