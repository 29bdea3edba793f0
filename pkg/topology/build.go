package topology

import (
	"fmt"
	"path/filepath"

	"github.com/corticerasf/dice/pkg/container"
	"github.com/corticerasf/dice/pkg/core"
	"github.com/corticerasf/dice/pkg/lifecycle"
	"github.com/corticerasf/dice/pkg/log"
)

// Build constructs the server described by d. Nothing is initialized or
// started. A nil reg uses NewRegistry().
func Build(d *Description, reg *Registry, bc BuildContext) (*core.Server, error) {
	if reg == nil {
		reg = NewRegistry()
	}
	bc.Logger = log.OrNoop(bc.Logger)

	srv := core.NewServer(d.Server.Name,
		core.WithServerLogger(bc.ComponentLogger("server", d.Server.Name)),
		core.WithBaseDir(bc.BaseDir),
		core.WithHomeDir(bc.HomeDir))
	if err := attachListeners(reg, srv, d.Server.Listeners, &bc); err != nil {
		return nil, fmt.Errorf("server %s: %w", d.Server.Name, err)
	}

	seen := make(map[string]bool, len(d.Services))
	for _, sd := range d.Services {
		if seen[sd.Name] {
			bc.Logger.Warn("duplicate service skipped", log.String("service", sd.Name))
			continue
		}
		seen[sd.Name] = true

		if err := buildService(srv, sd, reg, &bc); err != nil {
			return nil, fmt.Errorf("service %s: %w", sd.Name, err)
		}
	}
	return srv, nil
}

func buildService(srv *core.Server, sd ServiceDesc, reg *Registry, bc *BuildContext) error {
	newService, err := reg.services.lookup(sd.Type)
	if err != nil {
		return err
	}
	svc, err := newService(sd, bc)
	if err != nil {
		return err
	}
	if err := srv.AddService(svc); err != nil {
		return err
	}
	if err := attachListeners(reg, svc, sd.Listeners, bc); err != nil {
		return err
	}

	for _, ed := range sd.Executors {
		newExecutor, err := reg.executors.lookup(ed.Type)
		if err != nil {
			return err
		}
		exec, err := newExecutor(ed, bc)
		if err != nil {
			return fmt.Errorf("executor %s: %w", ed.Name, err)
		}
		if err := svc.AddExecutor(exec); err != nil {
			return err
		}
	}

	engine, err := buildEngine(sd.Engine, reg, bc)
	if err != nil {
		return fmt.Errorf("engine %s: %w", sd.Engine.Name, err)
	}
	if err := svc.SetContainer(engine); err != nil {
		return err
	}
	for _, hd := range sd.Engine.Hosts {
		if err := buildHost(engine, hd, reg, bc); err != nil {
			return fmt.Errorf("host %s: %w", hd.Name, err)
		}
	}

	for _, cd := range sd.Connectors {
		newConnector, err := reg.connectors.lookup(cd.Type)
		if err != nil {
			return err
		}
		conn, err := newConnector(cd, svc, bc)
		if err != nil {
			return err
		}
		if err := svc.AddConnector(conn); err != nil {
			return err
		}
	}
	return nil
}

func buildEngine(ed EngineDesc, reg *Registry, bc *BuildContext) (*core.Engine, error) {
	newEngine, err := reg.engines.lookup(ed.Type)
	if err != nil {
		return nil, err
	}
	engine, err := newEngine(ed, containerOptions(bc, "engine", ed.Name, ed.BackgroundDelay, ed.StartStopThreads), bc)
	if err != nil {
		return nil, err
	}
	if err := attachListeners(reg, engine, ed.Listeners, bc); err != nil {
		return nil, err
	}
	return engine, nil
}

func buildHost(engine *core.Engine, hd HostDesc, reg *Registry, bc *BuildContext) error {
	newHost, err := reg.hosts.lookup(hd.Type)
	if err != nil {
		return err
	}
	host, err := newHost(hd, containerOptions(bc, "host", hd.Name, hd.BackgroundDelay, hd.StartStopThreads), bc)
	if err != nil {
		return err
	}
	if err := attachListeners(reg, host, hd.Listeners, bc); err != nil {
		return err
	}
	if err := engine.AddChild(host); err != nil {
		return err
	}

	for _, cd := range hd.Contexts {
		if err := buildContext(host, cd, reg, bc); err != nil {
			return fmt.Errorf("context %q: %w", cd.Path, err)
		}
	}
	return nil
}

func buildContext(host *core.Host, cd ContextDesc, reg *Registry, bc *BuildContext) error {
	newContext, err := reg.contexts.lookup(cd.Type)
	if err != nil {
		return err
	}
	if cd.DocBase != "" && !filepath.IsAbs(cd.DocBase) {
		cd.DocBase = filepath.Join(host.AppBaseDir(), cd.DocBase)
	}

	ctx, err := newContext(cd, containerOptions(bc, "context", core.NormalizePath(cd.Path), "", 0), bc)
	if err != nil {
		return err
	}
	if err := attachListeners(reg, ctx, cd.Listeners, bc); err != nil {
		return err
	}
	return host.AddChild(ctx)
}

func containerOptions(bc *BuildContext, kind, name, delay string, threads int) []container.Option {
	opts := []container.Option{
		container.WithLogger(bc.ComponentLogger(kind, name)),
	}
	if bc.Scheduler != nil {
		opts = append(opts, container.WithScheduler(bc.Scheduler))
	}
	if d, ok := parseDuration(delay); ok {
		opts = append(opts, container.WithBackgroundDelay(d))
	}
	if threads != 0 {
		opts = append(opts, container.WithStartStopThreads(threads))
	}
	return opts
}

func attachListeners(reg *Registry, target lifecycle.Component, tags []string, bc *BuildContext) error {
	for _, tag := range tags {
		newListener, err := reg.listeners.lookup(tag)
		if err != nil {
			return err
		}
		l, err := newListener(target, bc)
		if err != nil {
			return fmt.Errorf("listener %s: %w", tag, err)
		}
		target.AddListener(l)
	}
	return nil
}
