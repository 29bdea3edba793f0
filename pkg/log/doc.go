// Package log provides the logging abstraction used by every dice component.
//
// Components never talk to a logging library directly. They receive a
// Logger and attach structured fields to each message. A zerolog adapter
// is provided for production use and a no-op logger for tests.
//
// # Usage
//
//	logger := log.NewZerologAdapter()
//	engine := core.NewEngine("main", container.WithLogger(logger))
//
// Loggers can be scoped to a component:
//
//	hostLog := logger.With(log.String("host", "localhost"))
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package log

// Version information for the log module.
const (
	// Version is the current version of the log module.
	Version = "1.0.0"

	// MinCompatibleVersion is the minimum version that is compatible with this version.
	MinCompatibleVersion = "1.0.0"
)
