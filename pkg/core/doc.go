// Package core assembles the standard component tree and cascades the
// lifecycle through it.
//
// A Server owns Services. Each Service owns one Engine plus its connectors
// and executors. The Engine is the root container; its children are Hosts,
// whose children are Contexts. Each level installs a routing valve as the
// basic valve of its pipeline, so an Exchange submitted to the engine
// descends through the tree until a Context hands it to its Handler.
//
// # Usage
//
//	srv := core.NewServer("dice", core.WithServerLogger(logger))
//	svc := core.NewService("main")
//	engine := core.NewEngine("main", container.WithLogger(logger))
//	engine.SetDefaultHost("localhost")
//	host := core.NewHost("localhost")
//	app := core.NewContext("/app")
//	app.SetHandler(core.HandlerFunc(serve))
//
//	_ = host.AddChild(app)
//	_ = engine.AddChild(host)
//	svc.SetContainer(engine)
//	_ = srv.AddService(svc)
//
//	if err := srv.Start(); err != nil { ... }
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package core

// Version information for the core module.
const (
	// Version is the current version of the core module.
	Version = "1.0.0"

	// MinCompatibleVersion is the minimum version that is compatible with this version.
	MinCompatibleVersion = "1.0.0"
)
