package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (DICE_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("base-dir", os.Getenv("DICE_BASE"), &cfg.BaseDir)
	s.setString("home-dir", os.Getenv("DICE_HOME"), &cfg.HomeDir)
	s.setString("topology", os.Getenv("DICE_TOPOLOGY"), &cfg.Topology)
	s.setString("log-level", os.Getenv("DICE_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-format", os.Getenv("DICE_LOG_FORMAT"), &cfg.LogFormat)
	s.setString("metrics-addr", os.Getenv("DICE_METRICS_ADDR"), &cfg.MetricsAddr)

	if err := s.setDuration("shutdown-timeout", os.Getenv("DICE_SHUTDOWN_TIMEOUT"), &cfg.ShutdownTimeout); err != nil {
		return err
	}
	return s.setBoolFromString("await", os.Getenv("DICE_AWAIT"), &cfg.Await)
}
