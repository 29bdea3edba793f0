package cliconfig

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.BaseDir != "." {
		t.Errorf("BaseDir = %v, want .", cfg.BaseDir)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
	}
	if cfg.LogFormat != LogFormatConsole {
		t.Errorf("LogFormat = %v, want %v", cfg.LogFormat, LogFormatConsole)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 30s", cfg.ShutdownTimeout)
	}
	if !cfg.Await {
		t.Error("Await = false, want true")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		cfg := DefaultConfig()
		cfg.BaseDir = "/srv/dice"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid minimal config", mutate: func(*Config) {}},
		{name: "missing base dir", mutate: func(c *Config) { c.BaseDir = "" }, wantErr: true},
		{name: "unknown log level", mutate: func(c *Config) { c.LogLevel = "chatty" }, wantErr: true},
		{name: "unknown log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: true},
		{name: "json log format", mutate: func(c *Config) { c.LogFormat = LogFormatJSON }},
		{name: "non-positive shutdown timeout", mutate: func(c *Config) { c.ShutdownTimeout = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_Derivations(t *testing.T) {
	c1 := DefaultConfig()
	c1.BaseDir = "/srv/dice"
	if err := c1.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if c1.HomeDir != "/srv/dice" {
		t.Errorf("HomeDir = %v, want /srv/dice", c1.HomeDir)
	}
	if want := filepath.Join("/srv/dice", "conf", "server.toml"); c1.Topology != want {
		t.Errorf("Topology = %v, want %v", c1.Topology, want)
	}

	c2 := DefaultConfig()
	c2.BaseDir = "/srv/dice"
	c2.HomeDir = "/opt/dice"
	c2.Topology = "alt.toml"
	if err := c2.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if c2.HomeDir != "/opt/dice" {
		t.Errorf("HomeDir = %v, want /opt/dice", c2.HomeDir)
	}
	if c2.Topology != "/srv/dice/alt.toml" {
		t.Errorf("Topology = %v, want /srv/dice/alt.toml", c2.Topology)
	}

	c3 := DefaultConfig()
	c3.BaseDir = "relative"
	if err := c3.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !filepath.IsAbs(c3.BaseDir) {
		t.Errorf("BaseDir = %v, want absolute", c3.BaseDir)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.LogFormat = LogFormatJSON
	cfg.LogLevel = "warn"

	logger, err := NewLogger(cfg, &buf)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message logged at warn level: %s", out)
	}
	if !strings.Contains(out, `"message":"shown"`) {
		t.Errorf("warn message missing from JSON output: %s", out)
	}

	cfg.LogLevel = "chatty"
	if _, err := NewLogger(cfg, &buf); err == nil {
		t.Error("NewLogger accepted unknown level")
	}
}
