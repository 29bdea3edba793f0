// Package topology describes a server tree declaratively and builds it.
//
// A TOML description names the server, its services, each service's engine,
// hosts and contexts, plus connectors, executors and listeners by type tag.
// Build resolves every tag through a Registry of constructors once, before
// the server is started; nothing is instantiated by reflection.
//
//	[server]
//	name = "dice"
//	listeners = ["serverinfo"]
//
//	[[services]]
//	name = "main"
//
//	[services.engine]
//	name = "main"
//	default_host = "localhost"
//
//	[[services.engine.hosts]]
//	name = "localhost"
//	listeners = ["hostconfig"]
//
//	[[services.engine.hosts.contexts]]
//	path = "/docs"
//	doc_base = "docs"
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package topology

// Version information for the topology module.
const (
	// Version is the current version of the topology module.
	Version = "1.0.0"

	// MinCompatibleVersion is the minimum version that is compatible with this version.
	MinCompatibleVersion = "1.0.0"
)
