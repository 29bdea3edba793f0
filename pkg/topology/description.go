package topology

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	toml "github.com/pelletier/go-toml/v2"
)

// Description is a parsed topology file. Durations are strings so the
// file stays TOML friendly.
type Description struct {
	Server   ServerDesc    `toml:"server" validate:"required"`
	Services []ServiceDesc `toml:"services" validate:"dive"`
}

// ServerDesc describes the server.
type ServerDesc struct {
	Name      string   `toml:"name" validate:"required"`
	Listeners []string `toml:"listeners" validate:"dive,required"`
}

// ServiceDesc describes one service.
type ServiceDesc struct {
	Name       string          `toml:"name" validate:"required"`
	Type       string          `toml:"type"`
	Listeners  []string        `toml:"listeners" validate:"dive,required"`
	Engine     EngineDesc      `toml:"engine" validate:"required"`
	Executors  []ExecutorDesc  `toml:"executors" validate:"unique=Name,dive"`
	Connectors []ConnectorDesc `toml:"connectors" validate:"unique=Name,dive"`
}

// EngineDesc describes a service's engine.
type EngineDesc struct {
	Name             string     `toml:"name" validate:"required"`
	Type             string     `toml:"type"`
	DefaultHost      string     `toml:"default_host"`
	BackgroundDelay  string     `toml:"background_delay" validate:"omitempty,duration"`
	StartStopThreads int        `toml:"start_stop_threads"`
	Listeners        []string   `toml:"listeners" validate:"dive,required"`
	Hosts            []HostDesc `toml:"hosts" validate:"unique=Name,dive"`
}

// HostDesc describes a virtual host.
type HostDesc struct {
	Name             string        `toml:"name" validate:"required"`
	Type             string        `toml:"type"`
	AppBase          string        `toml:"app_base"`
	ConfigBase       string        `toml:"config_base"`
	Aliases          []string      `toml:"aliases" validate:"dive,required"`
	HotDeployment    *bool         `toml:"hot_deployment"`
	CreateDirs       *bool         `toml:"create_dirs"`
	DeployIgnore     string        `toml:"deploy_ignore"`
	BackgroundDelay  string        `toml:"background_delay" validate:"omitempty,duration"`
	StartStopThreads int           `toml:"start_stop_threads"`
	Listeners        []string      `toml:"listeners" validate:"dive,required"`
	Contexts         []ContextDesc `toml:"contexts" validate:"unique=Path,dive"`
}

// ContextDesc describes an application mounted on a host.
type ContextDesc struct {
	Path      string   `toml:"path"`
	Type      string   `toml:"type"`
	DocBase   string   `toml:"doc_base"`
	Listeners []string `toml:"listeners" validate:"dive,required"`
}

// ConnectorDesc describes a connector.
type ConnectorDesc struct {
	Name     string `toml:"name" validate:"required"`
	Type     string `toml:"type"`
	Executor string `toml:"executor"`
}

// ExecutorDesc describes a named executor.
type ExecutorDesc struct {
	Name            string `toml:"name" validate:"required"`
	Type            string `toml:"type"`
	Threads         int    `toml:"threads"`
	ShutdownTimeout string `toml:"shutdown_timeout" validate:"omitempty,duration"`
}

// Load reads and validates a topology file.
func Load(path string) (*Description, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology: %w", err)
	}
	return Parse(b)
}

// Parse decodes and validates a topology description.
func Parse(data []byte) (*Description, error) {
	var d Description
	if err := toml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse topology: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks required fields, name uniqueness and duration syntax.
func (d *Description) Validate() error {
	if err := newValidator().Struct(d); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})
	return v
}

// parseDuration returns 0, false for an empty string. Inputs are validated.
func parseDuration(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false
	}
	return d, true
}
