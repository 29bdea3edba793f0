// Package pipeline implements the per-container valve chain.
//
// A Pipeline holds an ordered prefix of valves followed by one basic valve,
// which is always last. Dispatch is chain-of-responsibility: each valve's
// Invoke either handles the exchange or calls the next valve explicitly.
// Event delegates to the next valve by default, so valves are transparent
// to events unless they intercept them.
//
// # Usage
//
//	p := pipeline.New(host)
//	p.SetBasic(routing)
//	p.AddValve(accessLog)
//	err := p.Invoke(ctx, ex) // accessLog -> routing
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package pipeline

// Version information for the pipeline module.
const (
	// Version is the current version of the pipeline module.
	Version = "1.0.0"

	// MinCompatibleVersion is the minimum version that is compatible with this version.
	MinCompatibleVersion = "1.0.0"
)
