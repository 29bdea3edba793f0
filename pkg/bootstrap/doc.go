// Package bootstrap loads a topology file, builds the server it describes
// and drives it through its lifecycle.
//
// Basic usage:
//
//	m, err := bootstrap.New(bootstrap.Config{
//	    BaseDir:  "/srv/dice",
//	    Topology: "/srv/dice/conf/server.toml",
//	    Await:    true,
//	}, bootstrap.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	return m.Run(ctx)
//
// Run initializes and starts the server, blocks until ctx is cancelled or
// the server stops itself, then stops and destroys it.
//
// # Listeners
//
// DefaultRegistry adds three listener types to the standard registry:
//
//   - hostconfig: deploys contexts from descriptor files (hosts only)
//   - serverinfo: logs the runtime environment on init
//   - metrics: exports lifecycle, container and request metrics
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package bootstrap

// Version information for the bootstrap module.
const (
	// Version is the current version of the bootstrap module.
	Version = "1.0.0"

	// MinCompatibleVersion is the minimum version that is compatible with this version.
	MinCompatibleVersion = "1.0.0"
)
