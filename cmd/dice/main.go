package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/corticerasf/dice/internal/cliconfig"
	"github.com/corticerasf/dice/pkg/bootstrap"
	"github.com/corticerasf/dice/pkg/log"
	"github.com/corticerasf/dice/pkg/metrics"
	"github.com/corticerasf/dice/pkg/topology"
)

const helpDescription = `
Run a tree of services, engines, hosts and contexts described by a TOML
topology file.

Highlights:
  - Every component follows one lifecycle: init, start, stop, destroy.
  - Hosts hot-deploy contexts from descriptor files in their config base.
  - Configure via file, env (DICE_*), or flags.
`

var exampleUsage = strings.TrimSpace(`
  dice run --base-dir /srv/dice
  dice validate --topology /srv/dice/conf/server.toml
  dice --config $HOME/.dice/config.toml --metrics-addr :9090
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	// resolve loads the config file, then env, then validates. Flags that
	// were set explicitly always win.
	resolve := func(cmd *cobra.Command) (*log.ZerologAdapter, error) {
		cfgFile := cfgPath
		if cfgFile == "" {
			cfgFile = cliconfig.DefaultConfigPath()
		}

		changed := map[string]bool{}
		cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

		if cfgFile != "" && cliconfig.FileExists(cfgFile) {
			fc, err := cliconfig.LoadFileConfig(cfgFile)
			if err != nil {
				return nil, fmt.Errorf("load config: %w", err)
			}
			if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
				return nil, err
			}
		}
		if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cliconfig.NewLogger(cfg, os.Stderr)
	}

	runCmd := func(cmd *cobra.Command, args []string) error {
		logger, err := resolve(cmd)
		if err != nil {
			return err
		}
		logger.Info("configuration",
			log.String("base_dir", cfg.BaseDir),
			log.String("home_dir", cfg.HomeDir),
			log.String("topology", cfg.Topology),
			log.Bool("await", cfg.Await))
		return run(cfg, logger)
	}

	root := &cobra.Command{
		Use:           "dice",
		Short:         "Hierarchical component runtime",
		Long:          strings.TrimSpace(helpDescription),
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runCmd,
	}

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Start the server and wait for a shutdown signal",
		RunE:  runCmd,
	})

	root.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Parse the topology and build the server without starting it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := resolve(cmd); err != nil {
				return err
			}
			desc, err := topology.Load(cfg.Topology)
			if err != nil {
				return err
			}
			srv, err := topology.Build(desc, bootstrap.DefaultRegistry(nil, getVersion()), topology.BuildContext{
				BaseDir: cfg.BaseDir,
				HomeDir: cfg.HomeDir,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "topology %s ok: server %q, %d service(s)\n",
				cfg.Topology, srv.Name(), len(srv.Services()))
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), root.Version)
		},
	})

	flags := root.PersistentFlags()
	flags.StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.dice/config.toml)")
	flags.StringVar(&cfg.BaseDir, "base-dir", cfg.BaseDir, "instance directory relative paths resolve against")
	flags.StringVar(&cfg.HomeDir, "home-dir", cfg.HomeDir, "installation directory (defaults to base-dir)")
	flags.StringVar(&cfg.Topology, "topology", cfg.Topology, "topology file (defaults to <base-dir>/conf/server.toml)")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: console or json")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve Prometheus metrics on this address (disabled when empty)")
	flags.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "maximum time to wait for a graceful stop")
	flags.BoolVar(&cfg.Await, "await", cfg.Await, "wait for a shutdown signal after starting")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dice: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg cliconfig.Config, logger *log.ZerologAdapter) error {
	opts := []bootstrap.Option{
		bootstrap.WithLogger(logger),
		bootstrap.WithVersion(getVersion()),
	}

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, bootstrap.WithMetrics(metrics.New(reg)))

		srv := serveMetrics(cfg.MetricsAddr, reg, logger)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	m, err := bootstrap.New(bootstrap.Config{
		BaseDir:  cfg.BaseDir,
		HomeDir:  cfg.HomeDir,
		Topology: cfg.Topology,
	}, opts...)
	if err != nil {
		return fmt.Errorf("create manager: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := m.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	if cfg.Await {
		ctx, cancel := context.WithCancel(context.Background())
		awaitCh := make(chan error, 1)
		go func() { awaitCh <- m.Server().Await(ctx) }()

		select {
		case sig := <-sigCh:
			logger.Info("received signal, stopping", log.String("signal", sig.String()))
		case <-awaitCh:
			logger.Info("server requested shutdown")
		}
		cancel()
	}

	return stopWithTimeout(m, cfg.ShutdownTimeout, logger)
}

func stopWithTimeout(m *bootstrap.Manager, timeout time.Duration, logger log.Logger) error {
	done := make(chan error, 1)
	go func() { done <- m.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("stop server: %w", err)
		}
		return nil
	case <-time.After(timeout):
		logger.Error("graceful stop timed out", log.Duration("timeout", timeout))
		return fmt.Errorf("stop server: timed out after %s", timeout)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger log.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", log.String("addr", addr), log.Err(err))
		}
	}()
	logger.Info("serving metrics", log.String("addr", addr))
	return srv
}
