package core

import (
	"context"
	"fmt"

	"github.com/corticerasf/dice/pkg/lifecycle"
	"github.com/corticerasf/dice/pkg/pipeline"
)

// installBasic sets the routing valve of a container under construction.
// Its pipeline is not started and the valve is new, so a failure is a
// programming error.
func installBasic(p *pipeline.Pipeline, v pipeline.Valve) {
	if err := p.SetBasic(v); err != nil {
		panic(fmt.Sprintf("core: install basic valve: %v", err))
	}
}

// engineValve routes an exchange to a host.
type engineValve struct {
	pipeline.ValveBase
	engine *Engine
}

func newEngineValve(e *Engine) *engineValve {
	v := &engineValve{engine: e}
	v.Bind(v, e.Name()+"/engine-valve", lifecycle.Hooks{})
	return v
}

func (v *engineValve) Invoke(ctx context.Context, ex *pipeline.Exchange) error {
	host := v.engine.MapHost(ex.Host)
	if host == nil {
		return fmt.Errorf("%w: %q in engine %s", ErrNoHost, ex.Host, v.engine.Name())
	}
	if !host.State().Available() {
		return fmt.Errorf("%w: host %s", ErrNotStarted, host.Name())
	}
	ex.Visit(host.Name())
	return host.Pipeline().Invoke(ctx, ex)
}

// hostValve routes an exchange to the context with the longest matching path.
type hostValve struct {
	pipeline.ValveBase
	host *Host
}

func newHostValve(h *Host) *hostValve {
	v := &hostValve{host: h}
	v.Bind(v, h.Name()+"/host-valve", lifecycle.Hooks{})
	return v
}

func (v *hostValve) Invoke(ctx context.Context, ex *pipeline.Exchange) error {
	c := v.host.MapContext(ex.Path)
	if c == nil {
		return fmt.Errorf("%w: %q on host %s", ErrNoContext, ex.Path, v.host.Name())
	}
	if !c.State().Available() {
		return fmt.Errorf("%w: context %q", ErrNotStarted, c.Path())
	}
	ex.Visit(c.Name())
	return c.Pipeline().Invoke(ctx, ex)
}

// contextValve hands the exchange to the context's handler.
type contextValve struct {
	pipeline.ValveBase
	target *Context
}

func newContextValve(c *Context) *contextValve {
	v := &contextValve{target: c}
	v.Bind(v, c.Name()+"/context-valve", lifecycle.Hooks{})
	return v
}

func (v *contextValve) Invoke(ctx context.Context, ex *pipeline.Exchange) error {
	h := v.target.Handler()
	if h == nil {
		return fmt.Errorf("%w: %q", ErrNoHandler, v.target.Path())
	}
	return h.Serve(ctx, ex)
}
